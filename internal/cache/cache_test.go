package cache

import (
	"context"
	"sync"
	"testing"
	"time"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// memPersister is an in-memory Persister with optional quota behavior.
type memPersister struct {
	mu        sync.Mutex
	data      []byte
	saves     int
	failQuota int   // fail this many saves with ErrQuotaExceeded, then succeed
	failErr   error // when set, every save fails with this error
}

func (m *memPersister) Load(ctx context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data, nil
}

func (m *memPersister) Save(ctx context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.failErr != nil {
		return m.failErr
	}
	if m.failQuota > 0 {
		m.failQuota--
		return ErrQuotaExceeded
	}
	m.data = append([]byte(nil), data...)
	return nil
}

func TestCache_EvictsStrictLRU(t *testing.T) {
	ctx := context.Background()
	c := New[string](3, time.Hour)

	// Given: A full cache
	c.Set(ctx, "a", "1")
	c.Set(ctx, "b", "2")
	c.Set(ctx, "c", "3")

	// When: Reading "a" just before the next insert
	if _, ok := c.Get("a"); !ok {
		t.Fatal("Expected hit for a")
	}
	c.Set(ctx, "d", "4")

	// Then: The strict LRU entry "b" is evicted; the freshly read "a" survives
	if _, ok := c.Get("b"); ok {
		t.Error("Expected b to be evicted")
	}
	if _, ok := c.Get("a"); !ok {
		t.Error("Expected a to survive eviction")
	}
	if _, ok := c.Get("c"); !ok {
		t.Error("Expected c to survive eviction")
	}
	if _, ok := c.Get("d"); !ok {
		t.Error("Expected d to be present")
	}
	if c.Len() != 3 {
		t.Errorf("Len: got %d, want 3", c.Len())
	}
}

func TestCache_CapacityNeverExceeded(t *testing.T) {
	ctx := context.Background()
	c := New[int](5, time.Hour)

	for i := 0; i < 50; i++ {
		c.Set(ctx, string(rune('a'+i%26))+string(rune('0'+i/26)), i)
		if c.Len() > 5 {
			t.Fatalf("Capacity exceeded: %d entries", c.Len())
		}
	}
}

func TestCache_TTLExpiryOnRead(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	c := New[string](10, time.Minute, WithClock[string](clock.Now))

	c.Set(ctx, "a", "1")

	// Just inside the TTL boundary the entry is live.
	clock.Advance(time.Minute)
	if _, ok := c.Get("a"); !ok {
		t.Error("Expected hit at exactly TTL")
	}

	// Past the TTL the entry reads as absent and is physically removed.
	clock.Advance(time.Nanosecond)
	if _, ok := c.Get("a"); ok {
		t.Error("Expected miss past TTL")
	}
	if c.Len() != 0 {
		t.Errorf("Expired entry not removed: Len=%d", c.Len())
	}
}

func TestCache_SetRefreshesRecencyAndTTL(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	c := New[string](2, time.Minute, WithClock[string](clock.Now))

	c.Set(ctx, "a", "1")
	clock.Advance(50 * time.Second)
	c.Set(ctx, "a", "1b") // rewrite resets insertion time
	clock.Advance(50 * time.Second)

	got, ok := c.Get("a")
	if !ok {
		t.Fatal("Expected rewritten entry to still be live")
	}
	if got != "1b" {
		t.Errorf("Got %q, want 1b", got)
	}
}

func TestCache_Prune(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	c := New[string](10, time.Minute, WithClock[string](clock.Now))

	c.Set(ctx, "old1", "x")
	c.Set(ctx, "old2", "y")
	clock.Advance(2 * time.Minute)
	c.Set(ctx, "fresh", "z")

	removed := c.Prune(ctx)
	if removed != 2 {
		t.Errorf("Prune: got %d removed, want 2", removed)
	}
	if c.Len() != 1 {
		t.Errorf("Len after prune: got %d, want 1", c.Len())
	}
	if !c.Has("fresh") {
		t.Error("Expected fresh entry to survive prune")
	}
}

func TestCache_HasDoesNotRefreshRecency(t *testing.T) {
	ctx := context.Background()
	c := New[string](2, time.Hour)

	c.Set(ctx, "a", "1")
	c.Set(ctx, "b", "2")

	// Peeking at "a" must not protect it from eviction.
	if !c.Has("a") {
		t.Fatal("Expected a present")
	}
	c.Set(ctx, "c", "3")

	if c.Has("a") {
		t.Error("Expected a evicted; Has must not refresh recency")
	}
}

func TestCache_DeleteAndClear(t *testing.T) {
	ctx := context.Background()
	c := New[string](10, time.Hour)

	c.Set(ctx, "a", "1")
	c.Set(ctx, "b", "2")

	if !c.Delete(ctx, "a") {
		t.Error("Expected Delete to report presence")
	}
	if c.Delete(ctx, "a") {
		t.Error("Expected second Delete to report absence")
	}

	c.Clear(ctx)
	if c.Len() != 0 {
		t.Errorf("Len after Clear: got %d, want 0", c.Len())
	}
}

func TestCache_PersistAndHydrate(t *testing.T) {
	ctx := context.Background()
	p := &memPersister{}

	c1 := New[string](10, time.Hour, WithPersister[string](p))
	c1.Set(ctx, "a", "1")
	c1.Set(ctx, "b", "2")
	c1.Get("a") // a becomes MRU

	// A second cache over the same persister sees the entries and the order.
	c2 := New[string](10, time.Hour, WithPersister[string](p))
	if got, ok := c2.Get("a"); !ok || got != "1" {
		t.Errorf("Hydrated a: got %q/%v, want 1/true", got, ok)
	}
	if got, ok := c2.Get("b"); !ok || got != "2" {
		t.Errorf("Hydrated b: got %q/%v, want 2/true", got, ok)
	}
}

func TestCache_QuotaExceededEvictsAndRetriesOnce(t *testing.T) {
	ctx := context.Background()
	p := &memPersister{}
	c := New[string](10, time.Hour, WithPersister[string](p))

	c.Set(ctx, "a", "1")
	c.Set(ctx, "b", "2")

	p.mu.Lock()
	p.failQuota = 1
	before := p.saves
	p.mu.Unlock()
	c.Set(ctx, "c", "3") // first save hits quota, eviction retry succeeds

	if p.saves != before+2 {
		t.Errorf("Expected exactly one retry save, got %d extra saves", p.saves-before)
	}
	// The LRU entry "a" paid for the quota failure.
	if c.Has("a") {
		t.Error("Expected a evicted by quota recovery")
	}
	if !c.Has("c") {
		t.Error("Expected c retained")
	}
}

func TestCache_PersistenceFailureNeverPropagates(t *testing.T) {
	ctx := context.Background()
	p := &memPersister{failErr: context.DeadlineExceeded} // every save fails
	c := New[string](10, time.Hour, WithPersister[string](p))

	// No panic, no error surface; cache keeps working in memory.
	c.Set(ctx, "a", "1")
	if got, ok := c.Get("a"); !ok || got != "1" {
		t.Errorf("In-memory value lost: got %q/%v", got, ok)
	}
}

func TestCache_ImportRejectsCorruptData(t *testing.T) {
	ctx := context.Background()
	c := New[string](10, time.Hour)

	if err := c.Import(ctx, []byte("not json")); err == nil {
		t.Fatal("Expected error importing corrupt data")
	}
}

func TestCache_ExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	c1 := New[string](10, time.Hour)
	c1.Set(ctx, "a", "1")
	c1.Set(ctx, "b", "2")

	data, err := c1.Export()
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	c2 := New[string](10, time.Hour)
	if err := c2.Import(ctx, data); err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if got, ok := c2.Get("b"); !ok || got != "2" {
		t.Errorf("Imported b: got %q/%v, want 2/true", got, ok)
	}
}

func TestCache_ImportOverCapacityKeepsMostRecent(t *testing.T) {
	ctx := context.Background()
	c1 := New[string](10, time.Hour)
	c1.Set(ctx, "a", "1")
	c1.Set(ctx, "b", "2")
	c1.Set(ctx, "c", "3")

	data, err := c1.Export()
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	// Importing three entries into a two-slot cache must keep the two most
	// recently used and drop the LRU tail.
	c2 := New[string](2, time.Hour)
	if err := c2.Import(ctx, data); err != nil {
		t.Fatalf("Import failed: %v", err)
	}

	if c2.Len() != 2 {
		t.Fatalf("Len: got %d, want 2", c2.Len())
	}
	if c2.Has("a") {
		t.Error("Expected LRU entry a to be dropped on import")
	}
	if !c2.Has("b") || !c2.Has("c") {
		t.Error("Expected MRU entries b and c to survive import")
	}

	// Recency order survives too: the next insert evicts b, not c.
	c2.Set(ctx, "d", "4")
	if c2.Has("b") {
		t.Error("Expected b to be the eviction candidate after import")
	}
	if !c2.Has("c") {
		t.Error("Expected c to survive the post-import eviction")
	}
}

func TestCache_CorruptHydrationStartsEmpty(t *testing.T) {
	p := &memPersister{data: []byte("corrupt{")}

	c := New[string](10, time.Hour, WithPersister[string](p))
	if c.Len() != 0 {
		t.Errorf("Expected empty cache after corrupt hydration, got %d entries", c.Len())
	}

	// And the cache remains usable.
	c.Set(context.Background(), "a", "1")
	if !c.Has("a") {
		t.Error("Cache unusable after corrupt hydration")
	}
}

var _ Persister = (*memPersister)(nil)
