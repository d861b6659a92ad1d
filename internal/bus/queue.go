// Package bus carries events from transports, timers, and the UI to
// the engine's single dispatch loop.
package bus

import (
	"log/slog"
	"sync"
	"time"

	"chatwidget/internal/domain"
)

const publishTimeout = 10 * time.Second

// Queue is a Go-channel based event queue with exactly one consumer.
// Producers never touch chat state directly; they publish here and the
// engine applies the event, which keeps timer and socket callbacks
// from acting on stale state.
type Queue struct {
	events chan domain.Event
	mu     sync.RWMutex
	closed bool
	logger *slog.Logger
}

// New creates a Queue with the given buffer size.
func New(bufferSize int, logger *slog.Logger) *Queue {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &Queue{
		events: make(chan domain.Event, bufferSize),
		logger: logger,
	}
}

// Blocks up to 10 seconds if the queue is full instead of dropping.
func (q *Queue) Publish(ev domain.Event) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		q.logger.Warn("attempted to publish to closed queue", "event", ev.Type)
		return
	}

	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	select {
	case q.events <- ev:
	default:
		q.logger.Warn("event queue full, waiting...", "event", ev.Type)
		timer := time.NewTimer(publishTimeout)
		defer timer.Stop()
		select {
		case q.events <- ev:
			q.logger.Info("event delivered after wait", "event", ev.Type)
		case <-timer.C:
			q.logger.Error("event dropped: queue full for 10s", "event", ev.Type)
		}
	}
}

func (q *Queue) Subscribe() <-chan domain.Event {
	return q.events
}

func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		close(q.events)
	}
}
