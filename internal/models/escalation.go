package models

// EscalationEvent is one freeze-reflex detection appended by the content
// analysis pipeline. Events are immutable once written; this core only
// appends and reads them.
type EscalationEvent struct {
	Key            string   `json:"-"`
	HouseholdID    string   `json:"-"`
	ChildID        string   `json:"-"`
	Timestamp      int64    `json:"timestamp"`
	Category       string   `json:"category"`
	MatchedPhrases []string `json:"matchedPhrases,omitempty"`
	SourceApp      string   `json:"sourceApp,omitempty"`
	DeflectionUsed string   `json:"deflectionUsed,omitempty"`
	IsEscalated    bool     `json:"isEscalated"`
}

// Before orders events for display: newest first by timestamp, falling back
// to the store-assigned key when a timestamp is missing (push keys are
// time-ordered).
func (e *EscalationEvent) Before(other *EscalationEvent) bool {
	if e.Timestamp != other.Timestamp {
		return e.Timestamp > other.Timestamp
	}
	return e.Key > other.Key
}
