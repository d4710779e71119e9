// Package audit records market events and forwards them to an external
// publisher without blocking trading.
package audit

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"tradepost/internal/domain"
)

var logger logrus.FieldLogger = logrus.StandardLogger()

type Publisher interface {
	Publish(ctx context.Context, event domain.Event) error
}

const queueSize = 1024

// Journal keeps the latest events in memory. When a publisher is set every
// appended event is also handed to a background worker.
type Journal struct {
	mu     sync.RWMutex
	events []domain.Event
	size   int

	publisher Publisher
	queue     chan domain.Event
	done      chan struct{}
	closeOnce sync.Once
	now       func() time.Time
}

func NewJournal(size int, publisher Publisher) *Journal {
	if size <= 0 {
		size = 256
	}
	j := &Journal{
		events:    make([]domain.Event, 0, size),
		size:      size,
		publisher: publisher,
		now:       func() time.Time { return time.Now().UTC() },
	}
	if publisher != nil {
		j.queue = make(chan domain.Event, queueSize)
		j.done = make(chan struct{})
		go j.forward(j.queue)
	}
	return j
}

func (j *Journal) Append(eventType domain.EventType, userName string, payload map[string]interface{}) domain.Event {
	event := domain.Event{
		ID:        uuid.NewString(),
		UserName:  userName,
		Type:      eventType,
		Payload:   payload,
		CreatedAt: j.now(),
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.events) == j.size {
		copy(j.events, j.events[1:])
		j.events = j.events[:j.size-1]
	}
	j.events = append(j.events, event)

	if j.queue != nil {
		select {
		case j.queue <- event:
		default:
			logger.WithField("event_id", event.ID).Warn("audit queue full, event not forwarded")
		}
	}
	return event
}

// List returns up to limit events, newest first.
func (j *Journal) List(limit int) []domain.Event {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if limit <= 0 {
		limit = 20
	}
	if len(j.events) == 0 {
		return []domain.Event{}
	}
	start := max(len(j.events)-limit, 0)
	out := slices.Clone(j.events[start:])
	slices.Reverse(out)
	return out
}

func (j *Journal) forward(queue <-chan domain.Event) {
	defer close(j.done)
	for event := range queue {
		if err := j.publisher.Publish(context.Background(), event); err != nil {
			logger.WithError(err).WithFields(logrus.Fields{
				"event_id":   event.ID,
				"event_type": event.Type,
			}).Warn("forward audit event failed")
		}
	}
}

// Close stops accepting forwarded events and waits for the queue to drain
// or ctx to expire.
func (j *Journal) Close(ctx context.Context) error {
	if j.done == nil {
		return nil
	}
	j.closeOnce.Do(func() {
		j.mu.Lock()
		close(j.queue)
		j.queue = nil
		j.mu.Unlock()
	})
	select {
	case <-j.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
