package domain

import "time"

// Actor ids that are accepted without a matching user record.
const (
	ActorSystem = "system"
	ActorGuest  = "guest"
)

// AuditLog is an immutable record of something that happened.
type AuditLog struct {
	ID        string         `json:"id"`
	UserID    string         `json:"userId"`
	Action    string         `json:"action"`
	EntityID  string         `json:"entityId"`
	Details   map[string]any `json:"details"`
	CreatedAt time.Time      `json:"createdAt"`
}

// Clone returns a copy with its own details map.
func (l AuditLog) Clone() AuditLog {
	l.Details = cloneMap(l.Details)
	return l
}
