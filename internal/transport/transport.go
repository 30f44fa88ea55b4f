// Package transport is the HTTP client for the MindVibe backend. It pushes
// queued operations and classifies every response into an outcome the sync
// loop can act on, so retry policy lives in one place instead of being
// scattered across status-code checks.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/hisr2024/mindvibe/internal/types"
)

// Outcome classifies one push attempt.
type Outcome string

const (
	// OutcomeApplied means the backend accepted the operation.
	OutcomeApplied Outcome = "applied"
	// OutcomeConflict means the backend holds a newer version (HTTP 409).
	OutcomeConflict Outcome = "conflict"
	// OutcomeTransient means the attempt failed but is worth retrying.
	OutcomeTransient Outcome = "transient"
	// OutcomeUnsupported means the backend does not accept this operation
	// at all (HTTP 404/405); retrying cannot help.
	OutcomeUnsupported Outcome = "unsupported"
	// OutcomePermanent means the backend rejected the operation for good
	// (any status outside the classes above).
	OutcomePermanent Outcome = "permanent"
)

// ErrUnreachable wraps network-level failures so callers can distinguish
// "offline" from "the backend said no".
var ErrUnreachable = errors.New("backend unreachable")

// Result is the classified outcome of one push attempt.
type Result struct {
	Outcome       Outcome
	StatusCode    int
	ServerVersion *int64
	// ServerData carries the backend's copy of the record on a conflict.
	ServerData json.RawMessage
	Detail     string
}

// Client talks to the MindVibe backend.
type Client struct {
	baseURL    string
	apiKey     string
	deviceID   string
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a backend client. An empty baseURL is allowed; every push
// then reports ErrUnreachable, which keeps purely-local installs working.
func New(baseURL, apiKey, deviceID string, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:  baseURL,
		apiKey:   apiKey,
		deviceID: deviceID,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger.With("component", "transport"),
	}
}

// Reachable reports whether the backend answers its health endpoint.
func (c *Client) Reachable(ctx context.Context) bool {
	if c.baseURL == "" {
		return false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Push sends one queued operation to the backend and classifies the
// response. Network failures return ErrUnreachable; every HTTP response,
// including errors, comes back as a Result.
func (c *Client) Push(ctx context.Context, op *types.SyncOperation) (*Result, error) {
	if c.baseURL == "" {
		return nil, ErrUnreachable
	}

	method, path := routeFor(op)
	var body io.Reader
	if op.OperationType != types.OpDelete {
		body = bytes.NewReader(op.Payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", op.ID, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Device-ID", c.deviceID)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// A request that timed out reached (or nearly reached) the backend;
		// it gets scheduled for backoff like any transient failure.
		// Connection errors mean the device is effectively offline.
		if isTimeout(err) {
			return &Result{
				Outcome:    OutcomeTransient,
				StatusCode: http.StatusRequestTimeout,
				Detail:     err.Error(),
			}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	result := classify(resp.StatusCode)
	result.ServerVersion = serverVersionFrom(resp)

	if result.Outcome == OutcomeConflict {
		data, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if readErr != nil {
			c.logger.Warn("reading conflict body failed",
				"operation_id", op.ID,
				"error", readErr)
		} else {
			result.ServerData = data
		}
	} else if result.Outcome != OutcomeApplied {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		result.Detail = string(detail)
	}

	return result, nil
}

// routeFor maps an operation to its backend endpoint. Creates POST to the
// collection; updates and deletes address the entity directly.
func routeFor(op *types.SyncOperation) (method, path string) {
	collection := "/api/v1/" + collectionFor(op.EntityType)
	switch op.OperationType {
	case types.OpCreate:
		return http.MethodPost, collection
	case types.OpDelete:
		return http.MethodDelete, collection + "/" + op.EntityID
	default:
		return http.MethodPut, collection + "/" + op.EntityID
	}
}

// entityCapabilities lists which operations the backend accepts per entity
// type. Singleton records (preferences, journey progress) cannot be created
// or deleted by the client. Unlisted entity types are assumed fully capable
// and the backend gets the final say via 404/405.
var entityCapabilities = map[types.EntityType]map[types.OperationType]bool{
	types.EntityMoodLog: {
		types.OpCreate: true, types.OpUpdate: true, types.OpDelete: true,
	},
	types.EntityJournal: {
		types.OpCreate: true, types.OpUpdate: true, types.OpDelete: true,
	},
	types.EntityJourneyProgress: {
		types.OpUpdate: true,
	},
	types.EntityPreferences: {
		types.OpUpdate: true,
	},
	types.EntityInteractionMetrics: {
		types.OpCreate: true, types.OpUpdate: true,
	},
}

// Supports reports whether the backend accepts the operation type for the
// entity type. Unknown entity types report true so new entities are not
// silently dropped client-side.
func Supports(entityType types.EntityType, opType types.OperationType) bool {
	caps, ok := entityCapabilities[entityType]
	if !ok {
		return true
	}
	return caps[opType]
}

func collectionFor(entityType types.EntityType) string {
	switch entityType {
	case types.EntityMoodLog:
		return "mood-logs"
	case types.EntityJournal:
		return "journals"
	case types.EntityJourneyProgress:
		return "journey-progress"
	case types.EntityPreferences:
		return "preferences"
	case types.EntityInteractionMetrics:
		return "interaction-metrics"
	default:
		return string(entityType)
	}
}

func classify(status int) *Result {
	result := &Result{StatusCode: status}
	switch {
	case status >= 200 && status < 300:
		result.Outcome = OutcomeApplied
	case status == http.StatusConflict:
		result.Outcome = OutcomeConflict
	case status == http.StatusNotFound || status == http.StatusMethodNotAllowed:
		result.Outcome = OutcomeUnsupported
	case transientStatus(status):
		result.Outcome = OutcomeTransient
	default:
		result.Outcome = OutcomePermanent
	}
	return result
}

// isTimeout reports whether a request failed by running out of time rather
// than by failing to connect at all.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func transientStatus(status int) bool {
	switch status {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

func serverVersionFrom(resp *http.Response) *int64 {
	raw := resp.Header.Get("X-Entity-Version")
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil
	}
	return &v
}
