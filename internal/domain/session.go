package domain

import "time"

// HandoffStatus is the client session state.
type HandoffStatus string

const (
	StatusNotInitialized HandoffStatus = "NOT_INITIALIZED"
	StatusInitializing   HandoffStatus = "INITIALIZING"
	StatusInitialized    HandoffStatus = "INITIALIZED"
)

// HandoffState is a snapshot of a client handoff session.
type HandoffState struct {
	Status      HandoffStatus  `json:"handoffStatus"`
	AuthToken   string         `json:"-"`
	AgentName   string         `json:"agentName,omitempty"`
	Events      []HandoffEvent `json:"handoffChatEvents"`
	IsConnected bool           `json:"isConnected"`
	Error       string         `json:"handoffError,omitempty"`
}

// SessionStatus is the server-side lifecycle of a vendor session.
type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionEnded  SessionStatus = "ended"
)

// HandoffSession is the server's record of one live-agent conversation. The
// bearer token handed to the client references it by ID.
type HandoffSession struct {
	ID             string        `json:"id" db:"id"`
	AgentID        string        `json:"agentId" db:"agent_id"`
	OrganizationID string        `json:"organizationId" db:"organization_id"`
	Vendor         HandoffType   `json:"vendor" db:"vendor"`
	ConversationID string        `json:"conversationId" db:"conversation_id"`
	Ack            int64         `json:"ack" db:"ack"`
	Status         SessionStatus `json:"status" db:"status"`
	CreatedAt      time.Time     `json:"createdAt" db:"created_at"`
	UpdatedAt      time.Time     `json:"updatedAt" db:"updated_at"`
}

// Channel returns the pub/sub channel prefix webhook events for this session
// are published under.
func (s HandoffSession) Channel() string {
	return string(s.Vendor) + ":" + s.OrganizationID + ":" + s.AgentID + ":" + s.ConversationID
}
