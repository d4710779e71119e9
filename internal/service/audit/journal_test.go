package audit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"tradepost/internal/domain"
)

type capturePublisher struct {
	mu     sync.Mutex
	events []domain.Event
	err    error
}

func (p *capturePublisher) Publish(_ context.Context, event domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *capturePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

func TestJournalKeepsNewestEvents(t *testing.T) {
	j := NewJournal(3, nil)
	for _, name := range []string{"a", "b", "c", "d"} {
		j.Append(domain.EventUserLoggedIn, name, nil)
	}

	events := j.List(10)
	require.Len(t, events, 3)
	require.Equal(t, "d", events[0].UserName)
	require.Equal(t, "b", events[2].UserName)
	require.NotEmpty(t, events[0].ID)

	require.Len(t, j.List(1), 1)
	require.NoError(t, j.Close(context.Background()))
}

func TestJournalEmptyList(t *testing.T) {
	require.Empty(t, NewJournal(0, nil).List(5))
}

func TestJournalForwardsToPublisher(t *testing.T) {
	pub := &capturePublisher{}
	j := NewJournal(8, pub)
	j.Append(domain.EventItemPurchased, "alice", map[string]interface{}{"item": "sword"})
	j.Append(domain.EventItemSold, "alice", nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, j.Close(ctx))
	require.Equal(t, 2, pub.count())
	require.Equal(t, domain.EventItemPurchased, pub.events[0].Type)

	// appending after close keeps the journal but forwards nothing
	j.Append(domain.EventUserLoggedOut, "alice", nil)
	require.Equal(t, 2, pub.count())
	require.Len(t, j.List(10), 3)
	require.NoError(t, j.Close(ctx))
}

func TestJournalSurvivesPublisherFailure(t *testing.T) {
	pub := &capturePublisher{err: errors.New("unreachable")}
	j := NewJournal(4, pub)
	j.Append(domain.EventStoreCommitted, "", nil)
	require.NoError(t, j.Close(context.Background()))
	require.Equal(t, 1, pub.count())
	require.Len(t, j.List(0), 1)
}
