// Package flow is the chat flow state machine. Exactly one state is
// active at any time and every view decision is driven by it alone,
// never by ad hoc combinations of booleans.
package flow

import "chatwidget/internal/domain"

// State is the single view the widget renders.
type State string

const (
	StateIdle           State = "idle"
	StatePreChatForm    State = "preChatForm"
	StateActiveChat     State = "activeChat"
	StatePostChatSurvey State = "postChatSurvey"
)

// States lists every reachable state.
var States = []State{StateIdle, StatePreChatForm, StateActiveChat, StatePostChatSurvey}

// Conditions are the inputs a transition may depend on besides the
// event itself.
type Conditions struct {
	// HasProfile is true when a visitor profile is persisted, which
	// skips the pre-chat form.
	HasProfile bool
	// SurveyEnabled gates the post-chat satisfaction survey.
	SurveyEnabled bool
}

// Result is the outcome of one transition. When Handled is false the
// event was unexpected for the current state: the caller logs and
// ignores it, and Next equals the current state.
type Result struct {
	Next    State
	Handled bool
}

func stay(s State) Result    { return Result{Next: s, Handled: true} }
func ignore(s State) Result  { return Result{Next: s, Handled: false} }
func move(next State) Result { return Result{Next: next, Handled: true} }

// Transition is the total transition function. For every (state,
// event) pair it either moves per the allowed transitions or keeps the
// current state; it never panics.
func Transition(s State, ev domain.Event, c Conditions) Result {
	switch ev.Type {
	case domain.EventStartNewChat:
		// Full reset from any state. With a stored profile the widget
		// re-enters the chat directly.
		if c.HasProfile {
			return move(StateActiveChat)
		}
		return move(StateIdle)

	case domain.EventOpenLiveChat:
		if s != StateIdle {
			return ignore(s)
		}
		if c.HasProfile {
			return move(StateActiveChat)
		}
		return move(StatePreChatForm)

	case domain.EventPreChatSubmit:
		if s != StatePreChatForm {
			return ignore(s)
		}
		return move(StateActiveChat)

	case domain.EventStatusChanged:
		if s != StateActiveChat {
			// e.g. "solved" arriving while the form is still open:
			// logged and ignored, current state preserved.
			return ignore(s)
		}
		if ev.Status != domain.StatusSolved {
			return stay(s)
		}
		if c.SurveyEnabled {
			return move(StatePostChatSurvey)
		}
		return move(StateIdle)

	case domain.EventSurveyDraft:
		// Rating/feedback edits persist the draft but stay on the survey.
		if s != StatePostChatSurvey {
			return ignore(s)
		}
		return stay(s)

	case domain.EventSurveySubmit, domain.EventSurveySkip:
		if s != StatePostChatSurvey {
			return ignore(s)
		}
		return move(StateIdle)

	case domain.EventOfflineSubmit:
		if s != StateActiveChat {
			return ignore(s)
		}
		return move(StateIdle)

	case domain.EventSendMessage, domain.EventFinishChat,
		domain.EventChatAccepted, domain.EventMessagesFetched,
		domain.EventAgentTyping, domain.EventSessionCreated,
		domain.EventOfflineTimeout, domain.EventOfflineDismiss:
		// Meaningful only inside an active chat; elsewhere they are
		// stale callbacks from a torn-down session.
		if s != StateActiveChat {
			return ignore(s)
		}
		return stay(s)

	case domain.EventChannelDown:
		// Polling keeps the session alive; no view change anywhere.
		return stay(s)
	}

	return ignore(s)
}
