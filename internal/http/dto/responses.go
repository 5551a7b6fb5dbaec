package dto

import (
	"github.com/cesargomez89/inkqueue/internal/domain"
)

type ErrorResponse struct {
	Fields map[string]string `json:"fields,omitempty"`
	Error  string            `json:"error"`
}

type EnqueueResponse struct {
	Message string              `json:"message"`
	Items   []*domain.JobRecord `json:"items"`
}

type BulkActionResponse struct {
	Status   string `json:"status"`
	Action   string `json:"action"`
	Affected int    `json:"affected"`
}

type DeletedResponse struct {
	ID      string `json:"id"`
	Deleted bool   `json:"deleted"`
}

// Progress frame types sent over the websocket.
const (
	FrameSnapshot = "snapshot"
	FrameEvent    = "event"
)

// ProgressFrame is one websocket message: the initial snapshot of active
// records, then one frame per event.
type ProgressFrame struct {
	Event *domain.Event       `json:"event,omitempty"`
	Type  string              `json:"type"`
	Jobs  []*domain.JobRecord `json:"jobs,omitempty"`
}
