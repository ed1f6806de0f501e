package slate

import "time"

// Entity carries the bookkeeping timestamps shared by all persisted
// Slate entities. Embed it in models; stores maintain both fields.
type Entity struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewEntity returns an Entity stamped with the current UTC time.
func NewEntity() Entity {
	now := time.Now().UTC()
	return Entity{CreatedAt: now, UpdatedAt: now}
}

// Touch updates the UpdatedAt timestamp.
func (e *Entity) Touch() {
	e.UpdatedAt = time.Now().UTC()
}
