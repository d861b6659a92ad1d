package domain

import (
	"context"
	"time"
)

// ClientStore is the durable client-side state for one widget. Every
// key is namespaced by widget identifier and carries a schema version;
// corrupt or unknown-version values read as absent rather than failing
// the flow.
type ClientStore interface {
	// EnsureVisitorID returns the persisted visitor identifier,
	// generating and persisting one on first call. The identifier is
	// immutable once created.
	EnsureVisitorID(ctx context.Context) (string, error)

	Profile(ctx context.Context) (*VisitorProfile, error)
	SaveProfile(ctx context.Context, p VisitorProfile) error

	Session(ctx context.Context) (*ChatSession, error)
	SaveSession(ctx context.Context, s ChatSession) error
	ClearSession(ctx context.Context) error

	// LastSeen is the timestamp of the newest message the visitor has
	// seen, used to suppress notifications for already-read messages.
	LastSeen(ctx context.Context) (time.Time, error)
	SetLastSeen(ctx context.Context, t time.Time) error

	SurveyDraft(ctx context.Context) (*SurveyDraft, error)
	SaveSurveyDraft(ctx context.Context, d SurveyDraft) error
	ClearSurveyDraft(ctx context.Context) error

	// Opened is the "has opened widget" flag that suppresses
	// eye-catcher prompts after the first open.
	Opened(ctx context.Context) (bool, error)
	SetOpened(ctx context.Context) error

	Close() error
}

// TypingState is the poll-derived view of the agent side, carrying the
// same information the push channel delivers as events so the UI
// degrades gracefully without the channel.
type TypingState struct {
	Typing bool          `json:"typing"`
	Status SessionStatus `json:"status"`
	Agent  *Agent        `json:"agent,omitempty"`
}

// TargetingResult is the backend's decision about whether the widget
// should render at all for this page view.
type TargetingResult struct {
	Show   bool   `json:"show"`
	Reason string `json:"reason,omitempty"`
}

// Backend is the out-of-scope REST collaborator the widget talks to.
type Backend interface {
	CreateSession(ctx context.Context, visitorID string, profile VisitorProfile, firstMessage string) (*ChatSession, error)
	FetchMessages(ctx context.Context, sessionID string, since time.Time) ([]ChatMessage, error)
	FetchTyping(ctx context.Context, sessionID string) (*TypingState, error)
	SendMessage(ctx context.Context, sessionID string, msg ChatMessage) error
	FinishChat(ctx context.Context, sessionID string) error
	SubmitSurvey(ctx context.Context, sessionID string, rating int, feedback string) error
	SubmitOfflineMessage(ctx context.Context, msg OfflineMessage) error
	CheckTargeting(ctx context.Context, pageURL, device string) (*TargetingResult, error)
	Availability(ctx context.Context) (bool, error)
}

// EventQueue decouples event producers (transports, timers, the UI)
// from the single consumer that owns all chat state.
type EventQueue interface {
	Publish(ev Event)
	Subscribe() <-chan Event
	Close()
}
