package domain

import (
	"errors"
	"testing"
	"time"
)

func TestStatusPredicates(t *testing.T) {
	tests := []struct {
		status    Status
		terminal  bool
		deletable bool
	}{
		{StatusQueued, false, true},
		{StatusInProgress, false, false},
		{StatusPaused, false, false},
		{StatusCompleted, true, true},
		{StatusFailed, true, true},
	}

	for _, tt := range tests {
		if got := tt.status.Terminal(); got != tt.terminal {
			t.Errorf("%s.Terminal() = %v, want %v", tt.status, got, tt.terminal)
		}
		if got := tt.status.Deletable(); got != tt.deletable {
			t.Errorf("%s.Deletable() = %v, want %v", tt.status, got, tt.deletable)
		}
	}
}

func TestJobIDFromName(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Full Scan", "full-scan"},
		{"  Incremental   Scan ", "incremental-scan"},
		{"Prune Downloads!", "prune-downloads"},
		{"scan", "scan"},
		{"Regenerate Thumbnails (v2)", "regenerate-thumbnails-v2"},
	}

	for _, tt := range tests {
		if got := JobIDFromName(tt.input); got != tt.expected {
			t.Errorf("JobIDFromName(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestFilterMatch(t *testing.T) {
	queued := &JobRecord{Status: StatusQueued}
	failed := &JobRecord{Status: StatusFailed}

	if !(Filter{}).Match(failed) {
		t.Error("zero filter should match everything")
	}
	if (Filter{Active: true}).Match(failed) {
		t.Error("active filter should exclude terminal records")
	}
	if !(Filter{Active: true}).Match(queued) {
		t.Error("active filter should include queued records")
	}
	f := Filter{Statuses: []Status{StatusFailed}}
	if f.Match(queued) || !f.Match(failed) {
		t.Error("status filter mismatch")
	}
}

func TestCloneIsDeep(t *testing.T) {
	now := time.Now()
	r := &JobRecord{ID: "1", Metadata: Metadata{MetaSeriesTitle: "Berserk"}, StartedAt: &now}
	c := r.Clone()
	c.Metadata[MetaSeriesTitle] = "Vagabond"
	*c.StartedAt = now.Add(time.Hour)

	if r.Metadata[MetaSeriesTitle] != "Berserk" {
		t.Error("clone shares metadata map")
	}
	if !r.StartedAt.Equal(now) {
		t.Error("clone shares started_at")
	}
}

func TestMetadataScanValue(t *testing.T) {
	m := Metadata{MetaProviderID: "mockadex"}
	v, err := m.Value()
	if err != nil {
		t.Fatalf("Value failed: %v", err)
	}

	var out Metadata
	if err := out.Scan(v); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if out.Get(MetaProviderID) != "mockadex" {
		t.Errorf("Expected provider mockadex, got %q", out.Get(MetaProviderID))
	}

	var empty Metadata
	if err := empty.Scan(nil); err != nil || empty != nil {
		t.Errorf("Scan(nil) = %v, %v", empty, err)
	}
}

func TestTransitionErrorUnwraps(t *testing.T) {
	err := error(&TransitionError{Kind: KindDownloadItem, ID: "7", Action: ActionDelete, From: StatusInProgress})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Error("TransitionError should unwrap to ErrInvalidTransition")
	}
	if errors.Is(NotFound(KindDownloadItem, "7"), ErrInvalidTransition) {
		t.Error("NotFound must not match ErrInvalidTransition")
	}
	if !errors.Is(Conflict(KindDownloadItem, "7", StatusQueued, StatusPaused), ErrConflict) {
		t.Error("Conflict should unwrap to ErrConflict")
	}
}
