package domain

import "time"

// EventType tags an Event for the engine's dispatch loop.
type EventType string

const (
	// Visitor actions.
	EventOpenLiveChat   EventType = "open_live_chat"
	EventPreChatSubmit  EventType = "pre_chat_submit"
	EventSendMessage    EventType = "send_message"
	EventFinishChat     EventType = "finish_chat"
	EventStartNewChat   EventType = "start_new_chat"
	EventSurveyDraft    EventType = "survey_draft"
	EventSurveySubmit   EventType = "survey_submit"
	EventSurveySkip     EventType = "survey_skip"
	EventOfflineSubmit  EventType = "offline_submit"
	EventOfflineDismiss EventType = "offline_dismiss"

	// Transport-originated (push channel or poll).
	EventSessionCreated  EventType = "session_created"
	EventChatAccepted    EventType = "chat_accepted"
	EventStatusChanged   EventType = "status_changed"
	EventMessagesFetched EventType = "messages_fetched"
	EventAgentTyping     EventType = "agent_typing"
	EventChannelDown     EventType = "channel_down"

	// Timers.
	EventOfflineTimeout EventType = "offline_timeout"
)

// Event is the single message type flowing through the engine queue.
// Transports and timers never mutate state directly: they publish an
// Event and the engine's dispatch loop applies it, so callbacks cannot
// act on stale captured state.
type Event struct {
	Type    EventType
	Session *ChatSession
	Status  SessionStatus
	Agent   *Agent
	// Ref correlates an async result with the request that started
	// it; results whose Ref no longer matches the live request are
	// dropped.
	Ref       string
	Messages  []ChatMessage
	Typing    bool
	Profile   *VisitorProfile
	Text      string
	Rating    int
	Timestamp time.Time
}
