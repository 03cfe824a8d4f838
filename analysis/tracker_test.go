package analysis

import "testing"

// TestTrackerAcceptsLatest verifies the newest submission wins
func TestTrackerAcceptsLatest(t *testing.T) {
	tr := NewTracker()

	token := tr.Begin()
	if !tr.Commit(token, Outcome{ImageMatches: []Match{{Prompt: "first"}}}) {
		t.Fatal("Commit() for the only token should be accepted")
	}

	result, ok := tr.Result()
	if !ok || result.ImageMatches[0].Prompt != "first" {
		t.Errorf("Result() = %+v, %v", result, ok)
	}
}

// TestTrackerDiscardsStale verifies a slow older request cannot overwrite a
// newer result
func TestTrackerDiscardsStale(t *testing.T) {
	tr := NewTracker()

	slow := tr.Begin()
	fast := tr.Begin()

	if !tr.Commit(fast, Outcome{ImageMatches: []Match{{Prompt: "new"}}}) {
		t.Fatal("newest submission should be accepted")
	}

	// The older request resolves late.
	if tr.Commit(slow, Outcome{ImageMatches: []Match{{Prompt: "old"}}}) {
		t.Fatal("stale submission should be discarded")
	}

	result, ok := tr.Result()
	if !ok {
		t.Fatal("Result() should be present")
	}
	if result.ImageMatches[0].Prompt != "new" {
		t.Errorf("Result() prompt = %q; want %q", result.ImageMatches[0].Prompt, "new")
	}
}

// TestTrackerEmpty verifies Result before any commit
func TestTrackerEmpty(t *testing.T) {
	tr := NewTracker()
	if _, ok := tr.Result(); ok {
		t.Error("Result() should report no outcome before a commit")
	}
}
