package types

import (
	"time"

	"github.com/google/uuid"
)

// SessionMeta identifies one process-level recording session.
// All log lines and persisted records carry the session ID.
type SessionMeta struct {
	// SessionID is a random UUID.
	SessionID string
	// Address is the configured sensor address, if any.
	Address string
	// Transport is the configured transport name.
	Transport string
	// StartedAt is the session start time (UTC).
	StartedAt time.Time
}

// NewSessionMeta creates session metadata with a fresh session ID.
func NewSessionMeta(transport, address string) *SessionMeta {
	return &SessionMeta{
		SessionID: uuid.NewString(),
		Address:   address,
		Transport: transport,
		StartedAt: time.Now().UTC(),
	}
}

// Day returns the UTC start day as YYYY-MM-DD, used as a partition key.
func (m *SessionMeta) Day() string {
	return m.StartedAt.Format("2006-01-02")
}
