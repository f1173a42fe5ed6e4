package filters

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestRegistry(t *testing.T, timeout, interval time.Duration) *Registry {
	t.Helper()
	r := NewRegistry(timeout, interval, zap.NewNop(), testMetrics(t))
	t.Cleanup(r.Close)
	return r
}

func TestRegistryCreateAndGet(t *testing.T) {
	r := newTestRegistry(t, time.Minute, time.Minute)

	id := r.Create(Query{}, TypeFilter)
	if id == "" {
		t.Fatal("expected non-empty filter id")
	}

	f, ok := r.Get(id)
	if !ok {
		t.Fatal("expected filter to exist")
	}
	if f.Status != StatusActive {
		t.Errorf("expected status Active, got %v", f.Status)
	}
	if f.LastSyncedBlock != nil {
		t.Error("expected nil LastSyncedBlock before first sync")
	}

	other := r.Create(Query{}, TypeListener)
	if other == id {
		t.Error("filter ids must be unique")
	}
	if r.Count() != 2 {
		t.Errorf("expected 2 filters, got %d", r.Count())
	}
}

func TestRegistryAdvanceIsMonotonic(t *testing.T) {
	r := newTestRegistry(t, time.Minute, time.Minute)
	id := r.Create(Query{}, TypeFilter)

	r.Advance(id, 100)
	r.Advance(id, 50) // must not move backwards
	r.Advance(id, 120)

	f, _ := r.Get(id)
	if f.LastSyncedBlock == nil || *f.LastSyncedBlock != 120 {
		t.Fatalf("expected LastSyncedBlock 120, got %v", f.LastSyncedBlock)
	}
}

func TestRegistryRemoveIsIdempotent(t *testing.T) {
	r := newTestRegistry(t, time.Minute, time.Minute)
	id := r.Create(Query{}, TypeFilter)

	if !r.Remove(id) {
		t.Error("first remove should delete the entry")
	}
	if r.Remove(id) {
		t.Error("second remove should be a no-op")
	}
	if r.Remove("no-such-id") {
		t.Error("removing an unknown id should be a no-op")
	}
}

func TestRegistryRestoreKeepsID(t *testing.T) {
	r := newTestRegistry(t, time.Minute, time.Minute)
	id := r.Create(Query{}, TypeListener)
	r.Advance(id, 500)
	r.Remove(id)

	r.Restore(id, Query{}, TypeListener)
	f, ok := r.Get(id)
	if !ok {
		t.Fatal("expected restored entry")
	}
	if f.LastSyncedBlock != nil {
		t.Error("restored entry must start unsynced")
	}

	// Restore over a live entry is a no-op.
	r.Advance(id, 700)
	r.Restore(id, Query{}, TypeListener)
	f, _ = r.Get(id)
	if f.LastSyncedBlock == nil || *f.LastSyncedBlock != 700 {
		t.Error("restore must not clobber a live entry")
	}
}

func TestReaperRemovesExpiredFilters(t *testing.T) {
	r := newTestRegistry(t, 50*time.Millisecond, 10*time.Millisecond)
	id := r.Create(Query{}, TypeFilter)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := r.Get(id); !ok {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected filter to be reaped")
}

func TestReaperMeasuresAgeFromCreation(t *testing.T) {
	// A filter that keeps advancing is still reaped once its absolute age
	// exceeds the timeout; activity does not refresh the TTL.
	r := newTestRegistry(t, 80*time.Millisecond, 10*time.Millisecond)
	id := r.Create(Query{}, TypeFilter)

	deadline := time.Now().Add(2 * time.Second)
	block := uint64(0)
	for time.Now().Before(deadline) {
		block++
		r.Advance(id, block)
		if _, ok := r.Get(id); !ok {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("active filter should still be reaped after its absolute TTL")
}

func TestReaperSparesYoungFilters(t *testing.T) {
	r := newTestRegistry(t, time.Hour, 10*time.Millisecond)
	id := r.Create(Query{}, TypeFilter)

	time.Sleep(100 * time.Millisecond)
	if _, ok := r.Get(id); !ok {
		t.Fatal("young filter must survive reaper sweeps")
	}
}

func TestRegistryRefreshResetsCreationAge(t *testing.T) {
	r := newTestRegistry(t, time.Minute, time.Minute)
	id := r.Create(Query{}, TypeFilter)
	before, _ := r.Get(id)

	r.MarkExpired(id)
	f, _ := r.Get(id)
	if f.Status != StatusExpired {
		t.Fatalf("expected Expired, got %v", f.Status)
	}

	time.Sleep(5 * time.Millisecond)
	r.Refresh(id, 321)
	f, _ = r.Get(id)
	if f.Status != StatusActive {
		t.Errorf("expected Active after refresh, got %v", f.Status)
	}
	if !f.CreatedAt.After(before.CreatedAt) {
		t.Error("refresh must reset CreatedAt")
	}
	if f.LastSyncedBlock == nil || *f.LastSyncedBlock != 321 {
		t.Errorf("expected LastSyncedBlock 321, got %v", f.LastSyncedBlock)
	}
}
