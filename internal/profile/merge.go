// Package profile implements the incremental behavioral-profile merge.
// Merge is a pure function: it deep-copies its inputs, applies
// reinforcement, decay, and smoothing rules per dimension, and returns a new
// profile. The caller owns persisting the result.
package profile

import (
	"math"
	"time"

	"github.com/hisr2024/mindvibe/internal/types"
)

const (
	// Theme weights move in fixed reinforcement steps and never leave
	// [themeFloor, themeCap]. A theme unseen for themeStaleSessions or more
	// decays multiplicatively once per merge call.
	themeStep          = 0.1
	themeFloor         = 0.05
	themeCap           = 1.0
	themeStaleSessions = 5
	themeDecayFactor   = 0.85

	// Growth signal levels rise by growthStep only after the signal has been
	// detected in growthRepeatThreshold consecutive sessions.
	growthStep            = 0.1
	growthCap             = 1.0
	growthRepeatThreshold = 2

	// Reactivity markers blend under exponential smoothing. Markers absent
	// this session soften at half the normal rate instead of freezing.
	reactivityAlpha = 0.3
	trendThreshold  = 0.02

	// Awareness nudges asymptotically toward 1.
	awarenessAlpha = 0.15

	steadinessAlpha = 0.3

	// All numeric outputs are rounded to this many decimal places so repeated
	// merges cannot accumulate floating-point drift.
	precision = 4
)

// Merge folds one session's extracted signals into the existing profile and
// returns the next profile state. A nil existing profile starts fresh; a nil
// signals value merges as an observation-free session.
func Merge(existing *types.InnerStateProfile, signals *types.SessionSignals, now time.Time) types.InnerStateProfile {
	next := copyProfile(existing)
	next.SessionCount++
	next.LastUpdated = now
	session := next.SessionCount

	if signals == nil {
		signals = &types.SessionSignals{}
	}

	mergeThemes(&next, signals.ThemesDetected, session)
	mergeGrowthSignals(&next, signals.GrowthSignalsDetected, session)
	mergeReactivity(&next, signals.ReactivityMarkers, session)
	mergeAwareness(&next, signals.AwarenessIndicators)
	mergeSteadiness(&next, signals.SteadinessObserved)

	return next
}

// mergeThemes reinforces detected themes and decays stale ones. Themes are
// never invented by decay and never drop below the floor.
func mergeThemes(p *types.InnerStateProfile, detected []string, session int) {
	detectedSet := make(map[string]bool, len(detected))
	for _, name := range detected {
		detectedSet[name] = true
	}

	for _, name := range detected {
		state, ok := p.Themes[name]
		if !ok {
			state = types.ThemeState{FirstSeen: session}
		}
		state.Weight = clamp(round(state.Weight+themeStep), themeFloor, themeCap)
		state.Occurrences++
		state.LastSeen = session
		p.Themes[name] = state
	}

	// One decay application per merge call, not one per elapsed session.
	for name, state := range p.Themes {
		if detectedSet[name] {
			continue
		}
		if session-state.LastSeen >= themeStaleSessions {
			state.Weight = clamp(round(state.Weight*themeDecayFactor), themeFloor, themeCap)
			p.Themes[name] = state
		}
	}
}

// mergeGrowthSignals requires detection across consecutive sessions before a
// signal's level rises. Any gap of more than one session resets the streak.
func mergeGrowthSignals(p *types.InnerStateProfile, detected []string, session int) {
	for _, name := range detected {
		state := p.GrowthSignals[name] // zero value for a new signal

		if state.LastConfirmed != 0 && session-state.LastConfirmed == 1 {
			state.ConsecutiveSessions++
		} else {
			state.ConsecutiveSessions = 1
		}
		state.LastConfirmed = session

		// A single occurrence never raises the level.
		if state.ConsecutiveSessions >= growthRepeatThreshold {
			state.Level = clamp(round(state.Level+growthStep), 0, growthCap)
		}

		p.GrowthSignals[name] = state
	}
}

// mergeReactivity blends observed marker intensities and classifies trends.
// Markers not observed this session soften at half the smoothing rate.
func mergeReactivity(p *types.InnerStateProfile, markers map[string]float64, session int) {
	for name, observed := range markers {
		state, ok := p.Reactivity[name]
		blended := observed
		if ok {
			blended = state.Intensity*(1-reactivityAlpha) + observed*reactivityAlpha
		}
		blended = clamp(round(blended), 0, 1)
		state.Trend = classifyTrend(blended - state.Intensity)
		state.Intensity = blended
		state.Sessions++
		state.LastSeen = session
		p.Reactivity[name] = state
	}

	halfAlpha := reactivityAlpha / 2
	for name, state := range p.Reactivity {
		if _, seen := markers[name]; seen {
			continue
		}
		blended := clamp(round(state.Intensity*(1-halfAlpha)), 0, 1)
		state.Trend = classifyTrend(blended - state.Intensity)
		state.Intensity = blended
		p.Reactivity[name] = state
	}
}

// mergeAwareness nudges each indicated area toward 1 without overshooting.
func mergeAwareness(p *types.InnerStateProfile, indicators []string) {
	for _, name := range indicators {
		value := p.Awareness[name]
		p.Awareness[name] = clamp(round(value+awarenessAlpha*(1-value)), 0, 1)
	}
}

// mergeSteadiness blends the observed value, or leaves the scalar untouched
// when nothing was observed.
func mergeSteadiness(p *types.InnerStateProfile, observed *float64) {
	if observed == nil {
		return
	}
	blended := p.Steadiness*(1-steadinessAlpha) + *observed*steadinessAlpha
	p.Steadiness = clamp(round(blended), 0, 1)
}

func classifyTrend(delta float64) types.ReactivityTrend {
	switch {
	case delta > trendThreshold:
		return types.TrendEscalating
	case delta < -trendThreshold:
		return types.TrendSoftening
	default:
		return types.TrendStable
	}
}

// copyProfile deep-copies so Merge never mutates its input.
func copyProfile(p *types.InnerStateProfile) types.InnerStateProfile {
	next := types.InnerStateProfile{
		Themes:        make(map[string]types.ThemeState),
		GrowthSignals: make(map[string]types.GrowthSignalState),
		Reactivity:    make(map[string]types.ReactivityState),
		Awareness:     make(map[string]float64),
	}
	if p == nil {
		return next
	}
	for k, v := range p.Themes {
		next.Themes[k] = v
	}
	for k, v := range p.GrowthSignals {
		next.GrowthSignals[k] = v
	}
	for k, v := range p.Reactivity {
		next.Reactivity[k] = v
	}
	for k, v := range p.Awareness {
		next.Awareness[k] = v
	}
	next.Steadiness = p.Steadiness
	next.SessionCount = p.SessionCount
	next.LastUpdated = p.LastUpdated
	return next
}

func round(v float64) float64 {
	shift := math.Pow(10, precision)
	return math.Round(v*shift) / shift
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
