package widget

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"chatwidget/internal/config"
	"chatwidget/internal/domain"
	"chatwidget/internal/flow"
	"chatwidget/internal/reconcile"
	"chatwidget/internal/transport"

	"github.com/google/uuid"
)

// View is the render snapshot. Exactly one flow state is active; the
// renderer switches on it and nothing else.
type View struct {
	State           flow.State
	Messages        []domain.ChatMessage
	Typing          bool
	Agent           *domain.Agent
	Survey          *domain.SurveyDraft
	OfflineFallback bool
}

// Options wires an Engine.
type Options struct {
	Config  *config.Config
	Def     *Definition
	Store   domain.ClientStore
	Backend domain.Backend
	Queue   domain.EventQueue
	Logger  *slog.Logger

	// OnChange is invoked after every applied event with a fresh view
	// snapshot. Called from the engine's dispatch goroutine.
	OnChange func(View)
	// OnNotice surfaces transient user-visible failures (toasts).
	OnNotice func(string)
}

// Engine owns all chat state for one widget instance. Transports,
// timers, and the UI publish events onto the queue; the single
// dispatch loop in Run is the only writer, so callbacks never act on
// stale state.
type Engine struct {
	cfg     *config.Config
	def     *Definition
	store   domain.ClientStore
	backend domain.Backend
	queue   domain.EventQueue
	logger  *slog.Logger

	onChange func(View)
	onNotice func(string)

	mu            sync.RWMutex
	state         flow.State
	session       *domain.ChatSession
	messages      []domain.ChatMessage
	profile       *domain.VisitorProfile
	survey        *domain.SurveyDraft
	visitorID     string
	typing        bool
	offlineShown  bool
	focused       bool
	pendingOutbox []domain.ChatMessage

	runCtx        context.Context
	sessionCancel context.CancelFunc
	offlineTimer  *time.Timer

	// startTransports is replaced in tests.
	startTransports func(ctx context.Context, sessionID string)
}

func New(opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Def == nil {
		opts.Def = DefaultDefinition()
	}
	e := &Engine{
		cfg:      opts.Config,
		def:      opts.Def,
		store:    opts.Store,
		backend:  opts.Backend,
		queue:    opts.Queue,
		logger:   opts.Logger,
		onChange: opts.OnChange,
		onNotice: opts.OnNotice,
		state:    flow.StateIdle,
		focused:  true,
	}
	e.startTransports = e.runTransports
	return e
}

// Run restores persisted state and then dispatches events until the
// context is cancelled or the queue is closed. Blocks.
func (e *Engine) Run(ctx context.Context) error {
	e.runCtx = ctx
	if err := e.restore(ctx); err != nil {
		return err
	}
	e.notifyChange()

	for {
		select {
		case <-ctx.Done():
			e.teardownSession()
			return nil
		case ev, ok := <-e.queue.Subscribe():
			if !ok {
				e.teardownSession()
				return nil
			}
			e.handle(ev)
		}
	}
}

// restore rebuilds the flow state from the client store, so a restart
// resumes mid-chat or mid-survey.
func (e *Engine) restore(ctx context.Context) error {
	id, err := e.store.EnsureVisitorID(ctx)
	if err != nil {
		return err
	}

	profile, err := e.store.Profile(ctx)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.visitorID = id
	e.profile = profile
	e.mu.Unlock()

	if draft, err := e.store.SurveyDraft(ctx); err == nil && draft != nil {
		e.mu.Lock()
		e.survey = draft
		e.state = flow.StatePostChatSurvey
		e.mu.Unlock()
		e.logger.Info("resuming post-chat survey", "session", draft.SessionID)
		return nil
	}

	sess, err := e.store.Session(ctx)
	if err != nil {
		return err
	}
	if sess == nil {
		return nil
	}

	switch sess.Status {
	case domain.StatusWaiting, domain.StatusOpen:
		e.mu.Lock()
		e.session = sess
		e.state = flow.StateActiveChat
		e.mu.Unlock()
		e.logger.Info("resuming chat session", "session", sess.ID, "status", sess.Status)
		e.openSessionTransports(sess)
	default:
		// Pending or solved snapshots are stale leftovers.
		e.logger.Info("discarding stale session snapshot", "session", sess.ID, "status", sess.Status)
		if err := e.store.ClearSession(ctx); err != nil {
			e.logger.Warn("cannot clear stale session", "err", err)
		}
	}
	return nil
}

// --- UI actions; each only publishes an event ---

func (e *Engine) Open() {
	e.queue.Publish(domain.Event{Type: domain.EventOpenLiveChat})
}

func (e *Engine) SubmitPreChat(name, email, message string) {
	if e.def.PreChat.RequireEmail && strings.TrimSpace(email) == "" {
		e.notice("Please provide an email address.")
		return
	}
	e.queue.Publish(domain.Event{
		Type:    domain.EventPreChatSubmit,
		Profile: &domain.VisitorProfile{Name: strings.TrimSpace(name), Email: strings.TrimSpace(email)},
		Text:    message,
	})
}

func (e *Engine) Send(text string) {
	e.queue.Publish(domain.Event{Type: domain.EventSendMessage, Text: text})
}

func (e *Engine) Finish() {
	e.queue.Publish(domain.Event{Type: domain.EventFinishChat})
}

func (e *Engine) StartNewChat() {
	e.queue.Publish(domain.Event{Type: domain.EventStartNewChat})
}

func (e *Engine) DraftSurvey(rating int, feedback string) {
	e.queue.Publish(domain.Event{Type: domain.EventSurveyDraft, Rating: rating, Text: feedback})
}

func (e *Engine) SubmitSurvey(rating int, feedback string) {
	e.queue.Publish(domain.Event{Type: domain.EventSurveySubmit, Rating: rating, Text: feedback})
}

func (e *Engine) SkipSurvey() {
	e.queue.Publish(domain.Event{Type: domain.EventSurveySkip})
}

func (e *Engine) SubmitOffline(name, email, message string) {
	e.queue.Publish(domain.Event{
		Type:    domain.EventOfflineSubmit,
		Profile: &domain.VisitorProfile{Name: name, Email: email},
		Text:    message,
	})
}

func (e *Engine) DismissOffline() {
	e.queue.Publish(domain.Event{Type: domain.EventOfflineDismiss})
}

// SetFocused marks the widget expanded (true) or minimized (false).
// While minimized, new inbound messages count as unread instead of
// advancing the last-seen cursor.
func (e *Engine) SetFocused(focused bool) {
	e.mu.Lock()
	e.focused = focused
	e.mu.Unlock()
	if focused {
		e.markSeen()
	}
}

// --- dispatch ---

func (e *Engine) handle(ev domain.Event) {
	e.mu.RLock()
	cond := flow.Conditions{
		// A disabled pre-chat form behaves like an already-known
		// visitor: straight into the chat, placeholder name.
		HasProfile:    e.profile != nil || !e.def.PreChat.Enabled,
		SurveyEnabled: e.def.Survey.Enabled,
	}
	prev := e.state
	e.mu.RUnlock()

	res := flow.Transition(prev, ev, cond)
	if !res.Handled {
		e.logger.Warn("ignoring unexpected event", "event", ev.Type, "state", prev)
		return
	}

	e.mu.Lock()
	e.state = res.Next
	e.mu.Unlock()

	e.apply(prev, res.Next, ev)
	e.notifyChange()
}

func (e *Engine) apply(prev, next flow.State, ev domain.Event) {
	ctx := e.runCtx
	if ctx == nil {
		ctx = context.Background()
	}

	switch ev.Type {
	case domain.EventOpenLiveChat:
		if err := e.store.SetOpened(ctx); err != nil {
			e.logger.Warn("cannot persist opened flag", "err", err)
		}

	case domain.EventPreChatSubmit:
		if ev.Profile != nil {
			e.mu.Lock()
			e.profile = ev.Profile
			e.mu.Unlock()
			if err := e.store.SaveProfile(ctx, *ev.Profile); err != nil {
				e.logger.Warn("cannot persist profile", "err", err)
			}
		}
		e.appendLocal(ev.Text)
		e.beginSession(ev.Text)

	case domain.EventSendMessage:
		msg := e.appendLocal(ev.Text)
		e.mu.RLock()
		sess := e.session
		e.mu.RUnlock()
		switch {
		case sess == nil:
			// First message creates the session.
			e.beginSession(ev.Text)
		case sess.Pending():
			// Session creation in flight; deliver once it exists.
			e.mu.Lock()
			e.pendingOutbox = append(e.pendingOutbox, msg)
			e.mu.Unlock()
		default:
			e.deliver(sess.ID, msg)
		}

	case domain.EventFinishChat:
		e.mu.RLock()
		sess := e.session
		e.mu.RUnlock()
		if sess == nil || sess.Pending() {
			return
		}
		go func() {
			if err := e.backend.FinishChat(ctx, sess.ID); err != nil {
				e.logger.Warn("finish chat failed", "session", sess.ID, "err", err)
				e.notice("Could not finish the chat, please try again.")
				return
			}
			e.queue.Publish(domain.Event{Type: domain.EventStatusChanged, Status: domain.StatusSolved})
		}()

	case domain.EventStartNewChat:
		e.resetChat(ctx)

	case domain.EventSessionCreated:
		e.onSessionCreated(ctx, ev)

	case domain.EventChatAccepted:
		e.mu.Lock()
		if e.session != nil {
			e.session.Status = domain.StatusOpen
			e.session.Agent = ev.Agent
		}
		sess := e.session
		e.offlineShown = false
		e.mu.Unlock()
		e.stopOfflineTimer()
		if sess != nil {
			if err := e.store.SaveSession(ctx, *sess); err != nil {
				e.logger.Warn("cannot persist session", "err", err)
			}
		}

	case domain.EventStatusChanged:
		e.mu.Lock()
		if e.session != nil {
			e.session.Status = ev.Status
			if ev.Agent != nil {
				e.session.Agent = ev.Agent
			}
		}
		sess := e.session
		e.mu.Unlock()
		if sess != nil && ev.Status != domain.StatusSolved {
			if err := e.store.SaveSession(ctx, *sess); err != nil {
				e.logger.Warn("cannot persist session", "err", err)
			}
		}
		if prev == flow.StateActiveChat && ev.Status == domain.StatusSolved {
			e.teardownSession()
			if next == flow.StatePostChatSurvey {
				sessionID := ""
				if sess != nil {
					sessionID = sess.ID
				}
				draft := domain.SurveyDraft{SessionID: sessionID}
				e.mu.Lock()
				e.survey = &draft
				e.mu.Unlock()
				// Persist immediately: a reload mid-survey resumes here.
				if err := e.store.SaveSurveyDraft(ctx, draft); err != nil {
					e.logger.Warn("cannot persist survey draft", "err", err)
				}
				if err := e.store.ClearSession(ctx); err != nil {
					e.logger.Warn("cannot clear session", "err", err)
				}
			} else {
				e.clearChat(ctx)
			}
		}

	case domain.EventMessagesFetched:
		e.mu.Lock()
		e.messages = reconcile.Merge(e.messages, ev.Messages)
		focused := e.focused
		e.mu.Unlock()
		if focused {
			e.markSeen()
		}

	case domain.EventAgentTyping:
		e.mu.Lock()
		e.typing = ev.Typing
		e.mu.Unlock()

	case domain.EventSurveyDraft:
		e.mu.Lock()
		if e.survey != nil {
			e.survey.Rating = ev.Rating
			e.survey.Feedback = ev.Text
		}
		draft := e.survey
		e.mu.Unlock()
		if draft != nil {
			if err := e.store.SaveSurveyDraft(ctx, *draft); err != nil {
				e.logger.Warn("cannot persist survey draft", "err", err)
			}
		}

	case domain.EventSurveySubmit:
		e.mu.RLock()
		sessionID := ""
		if e.survey != nil {
			sessionID = e.survey.SessionID
		}
		e.mu.RUnlock()
		if sessionID != "" {
			rating, feedback := ev.Rating, ev.Text
			go func() {
				if err := e.backend.SubmitSurvey(ctx, sessionID, rating, feedback); err != nil {
					e.logger.Warn("survey submit failed", "session", sessionID, "err", err)
				}
			}()
		}
		e.finishSurvey(ctx)

	case domain.EventSurveySkip:
		e.finishSurvey(ctx)

	case domain.EventOfflineTimeout:
		if !e.def.Offline.FormEnabled {
			return
		}
		e.mu.Lock()
		// Only while still unaccepted; the underlying wait keeps
		// running either way.
		if e.session != nil && e.session.Status == domain.StatusWaiting {
			e.offlineShown = true
		}
		e.mu.Unlock()

	case domain.EventOfflineDismiss:
		e.mu.Lock()
		e.offlineShown = false
		e.mu.Unlock()

	case domain.EventOfflineSubmit:
		msg := domain.OfflineMessage{Message: ev.Text}
		if ev.Profile != nil {
			msg.Name = ev.Profile.DisplayName()
			msg.Email = ev.Profile.Email
		}
		go func() {
			if err := e.backend.SubmitOfflineMessage(ctx, msg); err != nil {
				e.logger.Warn("offline message failed", "err", err)
				e.notice("Could not send your message, please try again.")
			}
		}()
		e.resetChat(ctx)

	case domain.EventChannelDown:
		e.logger.Info("realtime channel unavailable, continuing with polling")
	}
}

// --- session lifecycle ---

// beginSession creates the server-side session. Until the server
// responds the engine holds a pending placeholder session; the
// placeholder ID stamps the result event so a creation that finishes
// after a reset is recognized as stale.
func (e *Engine) beginSession(firstMessage string) {
	placeholder := &domain.ChatSession{
		ID:        "pending-" + uuid.NewString(),
		Status:    domain.StatusPending,
		CreatedAt: time.Now(),
	}

	e.mu.Lock()
	e.session = placeholder
	visitorID := e.visitorID
	var profile domain.VisitorProfile
	if e.profile != nil {
		profile = *e.profile
	}
	e.mu.Unlock()

	ctx := e.runCtx
	if ctx == nil {
		ctx = context.Background()
	}
	ref := placeholder.ID
	go func() {
		sess, err := e.backend.CreateSession(ctx, visitorID, profile, firstMessage)
		if err != nil {
			e.logger.Error("session creation failed", "err", err)
			e.notice("Could not start the chat, please try again.")
			e.queue.Publish(domain.Event{Type: domain.EventSessionCreated, Ref: ref})
			return
		}
		e.queue.Publish(domain.Event{Type: domain.EventSessionCreated, Session: sess, Ref: ref})
	}()
}

func (e *Engine) onSessionCreated(ctx context.Context, ev domain.Event) {
	e.mu.Lock()

	// The result only belongs to the chat that is still waiting on
	// this exact placeholder; after a reset the old creation must not
	// re-attach its session.
	current := e.session
	if current == nil || current.Status != domain.StatusPending || current.ID != ev.Ref {
		e.mu.Unlock()
		e.logger.Warn("dropping session result for a torn-down chat", "ref", ev.Ref)
		return
	}

	if ev.Session == nil {
		// Creation failed; drop the placeholder so the next message
		// retries from scratch.
		e.session = nil
		e.pendingOutbox = nil
		e.mu.Unlock()
		return
	}

	sess := ev.Session
	e.session = sess
	outbox := e.pendingOutbox
	e.pendingOutbox = nil
	e.mu.Unlock()

	if err := e.store.SaveSession(ctx, *sess); err != nil {
		e.logger.Warn("cannot persist session", "err", err)
	}

	for _, msg := range outbox {
		e.deliver(sess.ID, msg)
	}

	e.openSessionTransports(sess)
}

// openSessionTransports starts the push channel, the pollers, and the
// agent-wait timer for a live session.
func (e *Engine) openSessionTransports(sess *domain.ChatSession) {
	runCtx := e.runCtx
	if runCtx == nil {
		runCtx = context.Background()
	}
	sessionCtx, cancel := context.WithCancel(runCtx)

	e.mu.Lock()
	e.sessionCancel = cancel
	e.mu.Unlock()

	e.startTransports(sessionCtx, sess.ID)

	if sess.Status == domain.StatusWaiting {
		wait := time.Duration(e.cfg.Transport.OfflineWaitSeconds) * time.Second
		timer := time.AfterFunc(wait, func() {
			e.queue.Publish(domain.Event{Type: domain.EventOfflineTimeout})
		})
		e.mu.Lock()
		e.offlineTimer = timer
		e.mu.Unlock()
	}
}

func (e *Engine) runTransports(ctx context.Context, sessionID string) {
	push := transport.NewPushChannel(transport.PushChannelConfig{
		WSBase:    e.cfg.Backend.WSBase,
		WidgetID:  e.cfg.Widget.ID,
		CompanyID: e.cfg.Backend.CompanyID,
		SessionID: sessionID,
		Heartbeat: time.Duration(e.cfg.Transport.HeartbeatSeconds) * time.Second,
		Backoff: transport.Backoff{
			Base:        time.Duration(e.cfg.Transport.ReconnectBaseSeconds) * time.Second,
			Cap:         time.Duration(e.cfg.Transport.ReconnectCapSeconds) * time.Second,
			MaxAttempts: e.cfg.Transport.ReconnectMaxAttempts,
		},
		Logger: e.logger,
	}, e.queue)
	go push.Run(ctx)

	poller := transport.NewPoller(transport.PollerConfig{
		SessionID:    sessionID,
		MessageEvery: time.Duration(e.cfg.Transport.MessagePollSeconds) * time.Second,
		TypingEvery:  time.Duration(e.cfg.Transport.TypingPollSeconds) * time.Second,
		Since:        e.latestMessageTime,
		Gate:         e.pollingActive,
		Logger:       e.logger,
	}, e.backend, e.queue)
	go poller.Run(ctx)
}

func (e *Engine) deliver(sessionID string, msg domain.ChatMessage) {
	ctx := e.runCtx
	if ctx == nil {
		ctx = context.Background()
	}
	go func() {
		if err := e.backend.SendMessage(ctx, sessionID, msg); err != nil {
			e.logger.Warn("message send failed", "session", sessionID, "err", err)
			e.notice("Your message could not be sent, please try again.")
		}
	}()
}

// appendLocal records an outbound message immediately so the visitor
// sees it without waiting for the server echo.
func (e *Engine) appendLocal(text string) domain.ChatMessage {
	msg := domain.ChatMessage{
		ID:        uuid.NewString(),
		Text:      text,
		Direction: domain.DirectionOutbound,
		CreatedAt: time.Now(),
	}
	e.mu.Lock()
	e.messages = reconcile.Merge(e.messages, []domain.ChatMessage{msg})
	e.mu.Unlock()
	return msg
}

// teardownSession cancels the pollers, push channel, and timers so no
// orphaned callback mutates state after a reset.
func (e *Engine) teardownSession() {
	e.mu.Lock()
	cancel := e.sessionCancel
	e.sessionCancel = nil
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	e.stopOfflineTimer()
}

func (e *Engine) stopOfflineTimer() {
	e.mu.Lock()
	timer := e.offlineTimer
	e.offlineTimer = nil
	e.mu.Unlock()
	if timer != nil {
		timer.Stop()
	}
}

// clearChat drops the session, messages, and typing state.
func (e *Engine) clearChat(ctx context.Context) {
	e.teardownSession()
	e.mu.Lock()
	e.session = nil
	e.messages = nil
	e.typing = false
	e.offlineShown = false
	e.survey = nil
	e.pendingOutbox = nil
	e.mu.Unlock()
	if err := e.store.ClearSession(ctx); err != nil {
		e.logger.Warn("cannot clear session", "err", err)
	}
}

// resetChat is the "start new chat" cleanup: chat state plus any
// survey leftovers.
func (e *Engine) resetChat(ctx context.Context) {
	e.clearChat(ctx)
	if err := e.store.ClearSurveyDraft(ctx); err != nil {
		e.logger.Warn("cannot clear survey draft", "err", err)
	}
}

func (e *Engine) finishSurvey(ctx context.Context) {
	if err := e.store.ClearSurveyDraft(ctx); err != nil {
		e.logger.Warn("cannot clear survey draft", "err", err)
	}
	e.clearChat(ctx)
}

// markSeen advances the last-seen cursor to the newest message.
func (e *Engine) markSeen() {
	e.mu.RLock()
	latest := reconcile.Latest(e.messages)
	e.mu.RUnlock()
	if latest.IsZero() {
		return
	}
	ctx := e.runCtx
	if ctx == nil {
		ctx = context.Background()
	}
	if err := e.store.SetLastSeen(ctx, latest); err != nil {
		e.logger.Warn("cannot persist last-seen", "err", err)
	}
}

// --- read side ---

func (e *Engine) latestMessageTime() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return reconcile.Latest(e.messages)
}

// pollingActive gates the pull fallback: only while a chat is active
// and the session exists server-side.
func (e *Engine) pollingActive() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state == flow.StateActiveChat && e.session != nil && !e.session.Pending()
}

// View returns a consistent render snapshot.
func (e *Engine) View() View {
	e.mu.RLock()
	defer e.mu.RUnlock()

	msgs := make([]domain.ChatMessage, len(e.messages))
	copy(msgs, e.messages)

	v := View{
		State:           e.state,
		Messages:        msgs,
		Typing:          e.typing,
		OfflineFallback: e.offlineShown,
	}
	if e.session != nil {
		v.Agent = e.session.Agent
	}
	if e.survey != nil {
		draft := *e.survey
		v.Survey = &draft
	}
	return v
}

// State returns the current flow state.
func (e *Engine) State() flow.State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Unread counts inbound messages newer than the persisted last-seen
// cursor, for the minimized-widget badge.
func (e *Engine) Unread(ctx context.Context) int {
	lastSeen, err := e.store.LastSeen(ctx)
	if err != nil {
		e.logger.Warn("cannot read last-seen", "err", err)
		return 0
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return reconcile.NewerThan(e.messages, lastSeen)
}

// ShouldDisplay asks the backend's targeting rules whether to render
// the widget for this page view. Failures default to showing it.
func (e *Engine) ShouldDisplay(ctx context.Context) bool {
	res, err := e.backend.CheckTargeting(ctx, e.cfg.Widget.PageURL, e.cfg.Widget.Device)
	if err != nil {
		e.logger.Warn("targeting check failed, defaulting to show", "err", err)
		return true
	}
	if !res.Show {
		e.logger.Info("widget hidden by targeting rules", "reason", res.Reason)
	}
	return res.Show
}

// EyeCatcher returns the prompt text, or "" once the visitor has
// opened the widget before.
func (e *Engine) EyeCatcher(ctx context.Context) string {
	if !e.def.Catcher.Enabled {
		return ""
	}
	opened, err := e.store.Opened(ctx)
	if err != nil {
		e.logger.Warn("cannot read opened flag", "err", err)
	}
	if opened {
		return ""
	}
	return e.def.Catcher.Text
}

// ContactLinks lists the external contact channels (deep links) the
// widget offers besides live chat.
func (e *Engine) ContactLinks() []ChannelLink {
	return e.def.Channels.Links
}

// LiveChatEnabled reports whether the live-chat channel itself is on;
// a widget can be links-only.
func (e *Engine) LiveChatEnabled() bool {
	return e.def.Channels.LiveChat
}

// Online reports agent availability, falling back to the widget's
// local schedule when the backend cannot be reached.
func (e *Engine) Online(ctx context.Context) bool {
	online, err := e.backend.Availability(ctx)
	if err != nil {
		e.logger.Warn("availability check failed, using schedule", "err", err)
		return e.def.Schedule.OnlineAt(time.Now())
	}
	return online
}

func (e *Engine) notifyChange() {
	if e.onChange != nil {
		e.onChange(e.View())
	}
}

func (e *Engine) notice(msg string) {
	if e.onNotice != nil {
		e.onNotice(msg)
	}
}
