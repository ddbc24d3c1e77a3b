package audit

import "time"

// Entry is one audit timeline row.
type Entry struct {
	ID       int64          `json:"id"`
	ActorID  int64          `json:"actor_id"`
	Action   string         `json:"action"`
	Entity   string         `json:"entity"`
	EntityID string         `json:"entity_id"`
	Branch   string         `json:"branch"`
	Meta     map[string]any `json:"meta"`
	At       time.Time      `json:"occurred_at"`
}

// Filter narrows the timeline.
type Filter struct {
	ActorID int64
	Action  string
	Entity  string
	Branch  string
	From    time.Time
	To      time.Time
	Limit   int
	Offset  int
}
