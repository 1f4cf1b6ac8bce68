package domain

import "time"

type HelpRequest struct {
	ID              string    `json:"id"`
	Question        string    `json:"question"`
	CustomerID      string    `json:"customer_id"`
	Status          Status    `json:"status" enum:"pending,resolved,unresolved"`
	ResolvedAnswer  *string   `json:"resolved_answer,omitempty"`
	SupervisorReply *string   `json:"supervisor_reply,omitempty"`
	CreatedAt       time.Time `json:"created_at" format:"date-time"`
	UpdatedAt       time.Time `json:"updated_at" format:"date-time"`
	DueAt           time.Time `json:"due_at" format:"date-time"`
}

// ResolvedAnswer is the customer-facing projection of a resolved request.
type ResolvedAnswer struct {
	Question        string `json:"question"`
	ResolvedAnswer  string `json:"resolved_answer"`
	SupervisorReply string `json:"supervisor_reply,omitempty"`
}

type KnowledgeEntry struct {
	Key       string    `json:"key"`
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	Hits      int64     `json:"hits"`
	CreatedAt time.Time `json:"created_at" format:"date-time"`
	UpdatedAt time.Time `json:"updated_at" format:"date-time"`
}

// RequestFilter narrows help request listings. Zero values match everything.
type RequestFilter struct {
	Status     Status
	CustomerID string
	DueBefore  time.Time
}

// Matches reports whether r satisfies the filter.
func (f RequestFilter) Matches(r HelpRequest) bool {
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if f.CustomerID != "" && r.CustomerID != f.CustomerID {
		return false
	}
	if !f.DueBefore.IsZero() && r.DueAt.After(f.DueBefore) {
		return false
	}
	return true
}

// Transition is a requested status change for a single help request.
type Transition struct {
	ID             string
	To             Status
	ResolvedAnswer string
	At             time.Time
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	Payload    string `json:"payload_json"`
}
