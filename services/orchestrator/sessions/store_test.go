package sessions

import (
	"testing"
	"time"

	"github.com/medgpt-dev/medgpt/services/orchestrator/datatypes"
)

func sampleHistory() []datatypes.Turn {
	return []datatypes.Turn{
		{Role: datatypes.RoleUser, Content: "I have a headache"},
		{Role: datatypes.RoleAssistant, Content: "How long has it lasted?"},
	}
}

// TestMemoryStore_GetUnknownSession tests that unknown IDs yield an
// empty history.
func TestMemoryStore_GetUnknownSession(t *testing.T) {
	s := NewMemoryStore()
	if got := s.Get("nope"); len(got) != 0 {
		t.Errorf("Get(unknown) = %v, want empty", got)
	}
}

// TestMemoryStore_PutGetRoundTrip tests storage and retrieval.
func TestMemoryStore_PutGetRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	s.Put("sess", sampleHistory())

	got := s.Get("sess")
	if len(got) != 2 {
		t.Fatalf("Get returned %d turns, want 2", len(got))
	}
	if got[1].Content != "How long has it lasted?" {
		t.Errorf("Second turn = %+v", got[1])
	}
	if s.Len() != 1 {
		t.Errorf("Len = %d, want 1", s.Len())
	}
}

// TestMemoryStore_GetReturnsCopy tests that callers cannot mutate the
// stored conversation through the returned slice.
func TestMemoryStore_GetReturnsCopy(t *testing.T) {
	s := NewMemoryStore()
	s.Put("sess", sampleHistory())

	got := s.Get("sess")
	got[0].Content = "tampered"

	if fresh := s.Get("sess"); fresh[0].Content != "I have a headache" {
		t.Errorf("Stored history was mutated through a Get copy: %q", fresh[0].Content)
	}
}

// TestMemoryStore_PutCopiesInput tests the same isolation on the way in.
func TestMemoryStore_PutCopiesInput(t *testing.T) {
	s := NewMemoryStore()
	history := sampleHistory()
	s.Put("sess", history)

	history[0].Content = "tampered"

	if got := s.Get("sess"); got[0].Content != "I have a headache" {
		t.Errorf("Stored history shares memory with the caller's slice: %q", got[0].Content)
	}
}

// TestMemoryStore_Delete tests removal.
func TestMemoryStore_Delete(t *testing.T) {
	s := NewMemoryStore()
	s.Put("sess", sampleHistory())
	s.Delete("sess")

	if s.Len() != 0 {
		t.Errorf("Len = %d after delete, want 0", s.Len())
	}
	if got := s.Get("sess"); len(got) != 0 {
		t.Errorf("Get after delete = %v, want empty", got)
	}
}

// TestMemoryStore_SweepEvictsIdleSessions tests TTL eviction with an
// injected clock.
func TestMemoryStore_SweepEvictsIdleSessions(t *testing.T) {
	s := NewMemoryStore()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	s.Put("old", sampleHistory())
	now = now.Add(10 * time.Minute)
	s.Put("fresh", sampleHistory())

	removed := s.sweep(5 * time.Minute)

	if len(removed) != 1 || removed[0] != "old" {
		t.Errorf("sweep removed %v, want [old]", removed)
	}
	if s.Len() != 1 {
		t.Errorf("Len = %d after sweep, want 1", s.Len())
	}
	if got := s.Get("fresh"); len(got) != 2 {
		t.Error("Fresh session should survive the sweep")
	}
}

// TestMemoryStore_PutRefreshesActivity tests that re-storing a session
// resets its idle clock.
func TestMemoryStore_PutRefreshesActivity(t *testing.T) {
	s := NewMemoryStore()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	s.Put("sess", sampleHistory())
	now = now.Add(4 * time.Minute)
	s.Put("sess", sampleHistory()) // refresh
	now = now.Add(4 * time.Minute)

	if removed := s.sweep(5 * time.Minute); len(removed) != 0 {
		t.Errorf("sweep removed %v, want nothing after a refresh", removed)
	}
}
