package store

import (
	"context"

	"tradepost/internal/domain"
)

// Users is the account side of the persistence contract. Users returned by
// GetOrCreate are live references owned by the store; callers mutate them in
// place and serialize access themselves.
type Users interface {
	ContainsUser(name string) bool
	GetOrCreateUser(name string) *domain.User
	UserNames() []string
	Users() []*domain.User

	// Commit flushes every in-memory mutation to durable storage. Repeated
	// calls without intervening mutations are harmless.
	Commit(ctx context.Context) error
}

// Items is the read-only trade catalog.
type Items interface {
	ContainsItem(name string) bool
	Item(name string) (domain.Item, bool)
	ItemNames() []string
	Items() []domain.Item
}

// Store defines the runtime persistence contract used by the market.
type Store interface {
	Users
	Items
}

// Backend is the durable side of a store: it produces the initial state and
// receives full snapshots on commit.
type Backend interface {
	Load(ctx context.Context) ([]domain.Item, []domain.User, error)
	Save(ctx context.Context, users []domain.User) error
	Close() error
}
