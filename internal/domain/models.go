package domain

import (
	"strings"
	"time"
	"unicode"
)

type Kind string

const (
	KindMaintenanceJob Kind = "maintenance_job"
	KindDownloadItem   Kind = "download_item"
)

func (k Kind) Valid() bool {
	return k == KindMaintenanceJob || k == KindDownloadItem
}

type Status string

const (
	StatusQueued     Status = "queued"
	StatusInProgress Status = "in_progress"
	StatusPaused     Status = "paused"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transition happens without an explicit retry.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Deletable reports whether a record in this status has no owning worker.
func (s Status) Deletable() bool {
	return s == StatusQueued || s == StatusCompleted || s == StatusFailed
}

type Action string

const (
	ActionStart           Action = "start"
	ActionPause           Action = "pause"
	ActionResume          Action = "resume"
	ActionRetry           Action = "retry"
	ActionDelete          Action = "delete"
	ActionPauseAll        Action = "pause_all"
	ActionResumeAll       Action = "resume_all"
	ActionEmptyQueue      Action = "empty_queue"
	ActionRetryFailed     Action = "retry_failed"
	ActionDeleteCompleted Action = "delete_completed"
)

// Bulk reports whether the action targets the whole download queue rather than one record.
func (a Action) Bulk() bool {
	switch a {
	case ActionPauseAll, ActionResumeAll, ActionEmptyQueue, ActionRetryFailed, ActionDeleteCompleted:
		return true
	}
	return false
}

// Metadata keys carried on records. The engine never interprets them.
const (
	MetaName              = "name"
	MetaSeriesTitle       = "series_title"
	MetaChapterTitle      = "chapter_title"
	MetaChapterIdentifier = "chapter_identifier"
	MetaProviderID        = "provider_id"
)

// JobRecord is one schedulable, observable unit of long-running work.
type JobRecord struct {
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Metadata   Metadata   `json:"metadata"`
	ID         string     `json:"id"`
	Kind       Kind       `json:"kind"`
	Status     Status     `json:"status"`
	Message    string     `json:"message"`
	Progress   float64    `json:"progress"`
	RetryCount int        `json:"retry_count"`
	Version    int64      `json:"version"`
}

// Clone returns a deep copy so callers never share the metadata map.
func (r *JobRecord) Clone() *JobRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.Metadata = r.Metadata.Clone()
	if r.StartedAt != nil {
		t := *r.StartedAt
		c.StartedAt = &t
	}
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		c.FinishedAt = &t
	}
	return &c
}

// Event converts the record into the change notification published for it.
func (r *JobRecord) Event() Event {
	return Event{
		Kind:      r.Kind,
		ID:        r.ID,
		Status:    r.Status,
		Progress:  r.Progress,
		Message:   r.Message,
		Version:   r.Version,
		UpdatedAt: r.UpdatedAt,
	}
}

// Filter narrows a List call. The zero value matches everything.
type Filter struct {
	Statuses []Status
	Active   bool
	Limit    int
}

func (f Filter) Match(r *JobRecord) bool {
	if f.Active && r.Status.Terminal() {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if r.Status == s {
			return true
		}
	}
	return false
}

// ClampProgress keeps progress inside [0,100].
func ClampProgress(p float64) float64 {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}

// JobIDFromName derives the stable id of a maintenance job from its human name,
// e.g. "Full Scan" becomes "full-scan".
func JobIDFromName(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			dash = false
		case b.Len() > 0 && !dash:
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimRight(b.String(), "-")
}
