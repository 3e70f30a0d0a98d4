package tick

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestLiveCachePutGetDrop(t *testing.T) {
	cache := NewLiveCache()
	id := uuid.New()

	if _, ok := cache.Get(id); ok {
		t.Fatal("empty cache returned a state")
	}

	cache.Put(State{FightID: id, TimeRemainingSec: 90, ComputedAt: time.Now()})

	got, ok := cache.Get(id)
	if !ok {
		t.Fatal("cached state not found")
	}
	if got.TimeRemainingSec != 90 {
		t.Fatalf("TimeRemainingSec = %d, want 90", got.TimeRemainingSec)
	}

	cache.Drop(id)
	if _, ok := cache.Get(id); ok {
		t.Fatal("state survived Drop")
	}
}

func TestLiveCacheMarkWarnedOnce(t *testing.T) {
	cache := NewLiveCache()
	id := uuid.New()

	if !cache.MarkWarned(id) {
		t.Fatal("first MarkWarned returned false")
	}
	if cache.MarkWarned(id) {
		t.Fatal("second MarkWarned returned true")
	}

	// Drop clears the marker too, so a hypothetical re-run warns again.
	cache.Drop(id)
	if !cache.MarkWarned(id) {
		t.Fatal("MarkWarned after Drop returned false")
	}
}

func TestLiveCacheAll(t *testing.T) {
	cache := NewLiveCache()
	a, b := uuid.New(), uuid.New()
	cache.Put(State{FightID: a})
	cache.Put(State{FightID: b})

	states := cache.All()
	if len(states) != 2 {
		t.Fatalf("All returned %d states, want 2", len(states))
	}

	seen := map[uuid.UUID]bool{}
	for _, s := range states {
		seen[s.FightID] = true
	}
	if !seen[a] || !seen[b] {
		t.Fatalf("All missing a fight: %v", seen)
	}
}
