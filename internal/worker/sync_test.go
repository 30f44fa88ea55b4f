package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// mockSyncService implements SyncService for testing
type mockSyncService struct {
	mu      sync.Mutex
	calls   int
	syncErr error
}

func (m *mockSyncService) Sync(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.syncErr
}

func (m *mockSyncService) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func TestSyncWorker_RunsImmediatelyAndOnSchedule(t *testing.T) {
	service := &mockSyncService{}
	worker := NewSyncWorker(service, 50*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	go worker.Run(ctx)

	// Immediate pass plus at least 2 ticks
	time.Sleep(130 * time.Millisecond)
	cancel()

	if calls := service.callCount(); calls < 3 {
		t.Errorf("Expected at least 3 sync passes, got %d", calls)
	}
}

func TestSyncWorker_KeepsRunningAfterFailure(t *testing.T) {
	service := &mockSyncService{syncErr: errors.New("backend down")}
	worker := NewSyncWorker(service, 30*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	go worker.Run(ctx)

	time.Sleep(100 * time.Millisecond)
	cancel()

	if calls := service.callCount(); calls < 2 {
		t.Errorf("Expected failing passes to keep being scheduled, got %d", calls)
	}
}

func TestSyncWorker_GracefulShutdown(t *testing.T) {
	service := &mockSyncService{}
	worker := NewSyncWorker(service, 1*time.Hour)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		worker.Run(ctx)
		close(done)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Worker did not stop after context cancellation")
	}
}
