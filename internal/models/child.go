package models

import "time"

// Mood is the coarse emotional tag a child device reports with each
// heartbeat.
type Mood string

const (
	MoodCalm       Mood = "calm"
	MoodAlert      Mood = "alert"
	MoodDistressed Mood = "distressed"
	MoodUnknown    Mood = "unknown"
)

// ChildProfile is the presence record at childProfiles/{childId}. Only the
// child-side heartbeat and the escalation pipeline write it; the guardian
// side is read-only.
type ChildProfile struct {
	ChildID     string `json:"-"`
	Nickname    string `json:"nickname,omitempty"`
	LastSeen    int64  `json:"lastSeen,omitempty"`
	Mood        Mood   `json:"mood,omitempty"`
	IsEscalated bool   `json:"isEscalated,omitempty"`
}

// SeenWithin reports whether the child has heartbeated inside the given
// window.
func (p *ChildProfile) SeenWithin(now time.Time, window time.Duration) bool {
	if p.LastSeen == 0 {
		return false
	}
	return now.Sub(time.UnixMilli(p.LastSeen)) <= window
}
