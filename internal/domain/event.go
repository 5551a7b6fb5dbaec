package domain

import "time"

// Event is the single wire shape for every change to a record. Terminal state is
// carried by Status; Removed marks a deletion.
type Event struct {
	UpdatedAt time.Time `json:"updated_at"`
	Kind      Kind      `json:"kind"`
	ID        string    `json:"id"`
	Status    Status    `json:"status"`
	Message   string    `json:"message"`
	Progress  float64   `json:"progress"`
	Version   int64     `json:"version"`
	Removed   bool      `json:"removed,omitempty"`
}

// Key identifies the record an event belongs to.
func (e Event) Key() Key {
	return Key{Kind: e.Kind, ID: e.ID}
}

// Key is the (kind, id) identity of a record.
type Key struct {
	Kind Kind
	ID   string
}

func (k Key) String() string {
	return string(k.Kind) + "/" + k.ID
}

// RecordKey returns the identity of r.
func RecordKey(r *JobRecord) Key {
	return Key{Kind: r.Kind, ID: r.ID}
}
