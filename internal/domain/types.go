package domain

import "time"

// SessionStatus is the server-side lifecycle of a chat session.
type SessionStatus string

const (
	// StatusPending marks a client-side placeholder session that the
	// server has not created yet.
	StatusPending SessionStatus = "pending"
	StatusWaiting SessionStatus = "waiting"
	StatusOpen    SessionStatus = "open"
	StatusSolved  SessionStatus = "solved"
)

// Direction tells which side of the conversation produced a message.
type Direction string

const (
	DirectionInbound  Direction = "inbound"  // from the agent side
	DirectionOutbound Direction = "outbound" // typed by the visitor
)

// DefaultVisitorName is used when the visitor never supplied a name.
const DefaultVisitorName = "Website Visitor"

// Agent identifies the human agent handling a session.
type Agent struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

// ChatSession is the client's view of one live-chat conversation.
type ChatSession struct {
	ID        string        `json:"id"`
	Status    SessionStatus `json:"status"`
	Agent     *Agent        `json:"agent,omitempty"`
	CreatedAt time.Time     `json:"createdAt"`
}

// Pending reports whether the session only exists client-side so far.
func (s *ChatSession) Pending() bool {
	return s == nil || s.Status == StatusPending
}

// ChatMessage is immutable once created. The merged message list is
// always sorted ascending by CreatedAt with duplicate IDs removed.
type ChatMessage struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Direction Direction `json:"direction"`
	CreatedAt time.Time `json:"createdAt"`
}

// VisitorProfile holds the name/email collected by the pre-chat form.
// A stored profile lets returning visitors skip the form.
type VisitorProfile struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// DisplayName returns the profile name or the placeholder for
// anonymous visitors.
func (p *VisitorProfile) DisplayName() string {
	if p == nil || p.Name == "" {
		return DefaultVisitorName
	}
	return p.Name
}

// SurveyDraft is the post-chat satisfaction survey in progress. It is
// persisted as soon as the survey becomes visible so a restart resumes
// exactly where the visitor left off.
type SurveyDraft struct {
	SessionID string `json:"sessionId"`
	Rating    int    `json:"rating"` // 1 (unhappy) or 5 (happy)
	Feedback  string `json:"feedback,omitempty"`
}

// OfflineMessage is what the visitor leaves when no agent accepted the
// chat within the configured wait.
type OfflineMessage struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Message string `json:"message"`
}
