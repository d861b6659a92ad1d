package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"chatwidget/internal/domain"
	"chatwidget/internal/metrics"

	"github.com/gorilla/websocket"
)

// PushMessage is the JSON protocol of the push channel.
type PushMessage struct {
	Type    string              `json:"type"` // "connected" | "chat_accepted" | "new_message" | "agent_typing" | "pong"
	Message *domain.ChatMessage `json:"message,omitempty"`
	Agent   *domain.Agent       `json:"agent,omitempty"`
	Typing  bool                `json:"typing,omitempty"`
}

// wsConn is the subset of *websocket.Conn the channel needs; tests
// substitute a fake.
type wsConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Backoff is the reconnect policy for the push channel.
type Backoff struct {
	Base        time.Duration
	Cap         time.Duration
	MaxAttempts int
}

// Delay returns the wait before reconnect attempt n (1-based):
// Base, 2*Base, 4*Base, ... capped at Cap.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := b.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= b.Cap {
			return b.Cap
		}
	}
	if d > b.Cap {
		return b.Cap
	}
	return d
}

// PushChannelConfig configures one session's push channel.
type PushChannelConfig struct {
	WSBase    string
	WidgetID  string
	CompanyID string
	SessionID string
	Heartbeat time.Duration
	Backoff   Backoff
	Logger    *slog.Logger
}

// PushChannel maintains the realtime connection for one session. When
// the reconnect budget is spent it publishes a channel-down event and
// returns; polling remains the transport for the session's lifetime.
type PushChannel struct {
	cfg    PushChannelConfig
	queue  domain.EventQueue
	logger *slog.Logger

	// Injection points for tests.
	dial  func(ctx context.Context) (wsConn, error)
	sleep func(ctx context.Context, d time.Duration) error
}

func NewPushChannel(cfg PushChannelConfig, queue domain.EventQueue) *PushChannel {
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = 30 * time.Second
	}
	if cfg.Backoff.Base <= 0 {
		cfg.Backoff = Backoff{Base: time.Second, Cap: 30 * time.Second, MaxAttempts: 5}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	p := &PushChannel{
		cfg:    cfg,
		queue:  queue,
		logger: cfg.Logger,
	}
	p.dial = p.dialWebsocket
	p.sleep = sleepCtx
	return p
}

func (p *PushChannel) endpoint() string {
	q := url.Values{}
	q.Set("widget_id", p.cfg.WidgetID)
	q.Set("company_id", p.cfg.CompanyID)
	return fmt.Sprintf("%s/api/v1/push/%s?%s", p.cfg.WSBase, url.PathEscape(p.cfg.SessionID), q.Encode())
}

func (p *PushChannel) dialWebsocket(ctx context.Context) (wsConn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, p.endpoint(), nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Run connects and serves the channel until the context is cancelled
// or the reconnect budget is exhausted. Blocks.
func (p *PushChannel) Run(ctx context.Context) {
	attempts := 0

	for {
		conn, err := p.dial(ctx)
		if err == nil {
			p.logger.Info("push channel connected", "session", p.cfg.SessionID, "attempt", attempts)
			metrics.PushConnected.Set(1)
			p.serve(ctx, conn)
			metrics.PushConnected.Set(0)
			conn.Close()
		} else {
			p.logger.Warn("push channel dial failed", "session", p.cfg.SessionID, "err", err)
		}

		if ctx.Err() != nil {
			return
		}

		// The reconnect budget covers the whole session: once spent,
		// polling is the permanent fallback.
		if attempts >= p.cfg.Backoff.MaxAttempts {
			p.logger.Warn("push channel giving up, polling only",
				"session", p.cfg.SessionID, "attempts", attempts)
			p.queue.Publish(domain.Event{Type: domain.EventChannelDown})
			return
		}

		attempts++
		metrics.Reconnects.Inc()
		delay := p.cfg.Backoff.Delay(attempts)
		p.logger.Info("push channel reconnecting",
			"session", p.cfg.SessionID, "attempt", attempts, "delay", delay)
		if err := p.sleep(ctx, delay); err != nil {
			return
		}
	}
}

// serve runs the read loop and heartbeat until the connection drops.
func (p *PushChannel) serve(ctx context.Context, conn wsConn) {
	done := make(chan struct{})
	defer close(done)

	// Keepalive while the channel is open.
	go func() {
		ticker := time.NewTicker(p.cfg.Heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				conn.Close()
				return
			case <-done:
				return
			case <-ticker.C:
				ping, _ := json.Marshal(PushMessage{Type: "ping"})
				if err := conn.WriteMessage(websocket.TextMessage, ping); err != nil {
					p.logger.Debug("heartbeat write failed", "err", err)
					return
				}
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				p.logger.Warn("push channel closed", "session", p.cfg.SessionID, "err", err)
			}
			return
		}

		var msg PushMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			p.logger.Warn("invalid push message", "err", err)
			continue
		}
		p.handle(msg)
	}
}

func (p *PushChannel) handle(msg PushMessage) {
	metrics.PushEvents.Inc()
	switch msg.Type {
	case "connected":
		p.logger.Debug("push channel acknowledged", "session", p.cfg.SessionID)

	case "chat_accepted":
		p.queue.Publish(domain.Event{
			Type:   domain.EventChatAccepted,
			Agent:  msg.Agent,
			Status: domain.StatusOpen,
		})

	case "new_message":
		if msg.Message == nil {
			p.logger.Warn("new_message push without payload")
			return
		}
		metrics.MessagesReceived.Inc()
		p.queue.Publish(domain.Event{
			Type:     domain.EventMessagesFetched,
			Messages: []domain.ChatMessage{*msg.Message},
		})

	case "agent_typing":
		p.queue.Publish(domain.Event{
			Type:   domain.EventAgentTyping,
			Typing: msg.Typing,
		})

	case "pong":
		p.logger.Debug("pong", "session", p.cfg.SessionID)

	default:
		p.logger.Warn("unknown push message type", "type", msg.Type)
	}
}
