package transport

import (
	"context"
	"log/slog"
	"time"

	"chatwidget/internal/domain"
	"chatwidget/internal/metrics"
)

// PollerConfig configures the pull fallback for one session.
type PollerConfig struct {
	SessionID    string
	MessageEvery time.Duration
	TypingEvery  time.Duration
	// Since supplies the cursor for message fetches (the newest known
	// message timestamp).
	Since func() time.Time
	// Gate reports whether polling should run right now. Polling is
	// skipped while the session is pending server-side.
	Gate   func() bool
	Logger *slog.Logger
}

// Poller periodically fetches messages and typing state so the UI
// keeps working when the push channel is unavailable. Results go
// through the same event queue as push deliveries; the reconciler
// makes the overlap harmless.
type Poller struct {
	cfg     PollerConfig
	backend domain.Backend
	queue   domain.EventQueue
	logger  *slog.Logger
}

func NewPoller(cfg PollerConfig, backend domain.Backend, queue domain.EventQueue) *Poller {
	if cfg.MessageEvery <= 0 {
		cfg.MessageEvery = 3 * time.Second
	}
	if cfg.TypingEvery <= 0 {
		cfg.TypingEvery = time.Second
	}
	if cfg.Since == nil {
		cfg.Since = func() time.Time { return time.Time{} }
	}
	if cfg.Gate == nil {
		cfg.Gate = func() bool { return true }
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Poller{
		cfg:     cfg,
		backend: backend,
		queue:   queue,
		logger:  cfg.Logger,
	}
}

// Run polls until the context is cancelled. Blocks.
func (p *Poller) Run(ctx context.Context) {
	messages := time.NewTicker(p.cfg.MessageEvery)
	typing := time.NewTicker(p.cfg.TypingEvery)
	defer messages.Stop()
	defer typing.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-messages.C:
			p.pollMessages(ctx)
		case <-typing.C:
			p.pollTyping(ctx)
		}
	}
}

func (p *Poller) pollMessages(ctx context.Context) {
	if !p.cfg.Gate() {
		return
	}
	msgs, err := p.backend.FetchMessages(ctx, p.cfg.SessionID, p.cfg.Since())
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Warn("message poll failed", "session", p.cfg.SessionID, "err", err)
		}
		return
	}
	metrics.PollCycles.Inc()
	if len(msgs) == 0 {
		return
	}
	for _, m := range msgs {
		if m.Direction == domain.DirectionInbound {
			metrics.MessagesReceived.Inc()
		}
	}
	p.queue.Publish(domain.Event{
		Type:     domain.EventMessagesFetched,
		Messages: msgs,
	})
}

// pollTyping also carries session status and agent, so acceptance and
// closure are derivable without the push channel.
func (p *Poller) pollTyping(ctx context.Context) {
	if !p.cfg.Gate() {
		return
	}
	ts, err := p.backend.FetchTyping(ctx, p.cfg.SessionID)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Warn("typing poll failed", "session", p.cfg.SessionID, "err", err)
		}
		return
	}
	p.queue.Publish(domain.Event{
		Type:   domain.EventAgentTyping,
		Typing: ts.Typing,
	})
	if ts.Status != "" {
		p.queue.Publish(domain.Event{
			Type:   domain.EventStatusChanged,
			Status: ts.Status,
			Agent:  ts.Agent,
		})
	}
}
