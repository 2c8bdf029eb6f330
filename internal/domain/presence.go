package domain

import "time"

// PresenceStaleAfter is the default liveness window of a presence row.
const PresenceStaleAfter = 30 * time.Second

// EditorPresence records that a user is currently editing an entity.
type EditorPresence struct {
	EntityID     string
	UserID       string
	LastActiveAt time.Time
}

// Stale reports whether the row has expired at now.
func (p EditorPresence) Stale(now time.Time, after time.Duration) bool {
	return now.Sub(p.LastActiveAt) > after
}

// ActiveEditor is a live presence row joined with the editor's display identity.
type ActiveEditor struct {
	EntityID     string    `json:"entityId"`
	UserID       string    `json:"userId"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	LastActiveAt time.Time `json:"lastActiveAt"`
}

// PresenceScope selects the entities of one project language.
type PresenceScope struct {
	ProjectID    string
	LanguageCode string
}
