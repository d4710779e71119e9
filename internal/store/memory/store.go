package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/pkg/errors"

	"tradepost/internal/domain"
	"tradepost/internal/store"
)

var ErrCorrupt = errors.New("corrupt store data")

// Store keeps the whole working set in memory. Durability is delegated to an
// optional backend that is written on Commit.
type Store struct {
	mu sync.RWMutex

	items map[string]domain.Item
	users map[string]*domain.User

	commitMu sync.Mutex
	backend  store.Backend
}

var _ store.Store = (*Store)(nil)

// Open loads the initial state from backend.
func Open(ctx context.Context, backend store.Backend) (*Store, error) {
	items, users, err := backend.Load(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "load store failed")
	}
	s, err := NewStore(items, users, backend)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// NewStore builds a store from explicit state. A nil backend turns Commit
// into a no-op.
func NewStore(items []domain.Item, users []domain.User, backend store.Backend) (*Store, error) {
	s := &Store{
		items:   make(map[string]domain.Item, len(items)),
		users:   make(map[string]*domain.User, len(users)),
		backend: backend,
	}
	for _, item := range items {
		if item.Name == "" {
			return nil, errors.Wrap(ErrCorrupt, "item without name")
		}
		if item.BuyPrice < 0 || item.SellPrice < 0 {
			return nil, errors.Wrapf(ErrCorrupt, "item %q has a negative price", item.Name)
		}
		if _, dup := s.items[item.Name]; dup {
			return nil, errors.Wrapf(ErrCorrupt, "duplicate item %q", item.Name)
		}
		s.items[item.Name] = item
	}
	for _, u := range users {
		if u.Name == "" {
			return nil, errors.Wrap(ErrCorrupt, "user without name")
		}
		if u.Credits < 0 {
			return nil, errors.Wrapf(ErrCorrupt, "user %q has negative credits", u.Name)
		}
		if _, dup := s.users[u.Name]; dup {
			return nil, errors.Wrapf(ErrCorrupt, "duplicate user %q", u.Name)
		}
		user := domain.NewUser(u.Name)
		user.Credits = u.Credits
		for name, qty := range u.Items {
			if qty < 0 {
				return nil, errors.Wrapf(ErrCorrupt, "user %q owns a negative quantity of %q", u.Name, name)
			}
			if qty > 0 {
				user.Items[name] = qty
			}
		}
		s.users[u.Name] = user
	}
	return s, nil
}

func (s *Store) ContainsUser(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.users[name]
	return ok
}

func (s *Store) GetOrCreateUser(name string) *domain.User {
	s.mu.RLock()
	u, ok := s.users[name]
	s.mu.RUnlock()
	if ok {
		return u
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[name]; ok {
		return u
	}
	u = domain.NewUser(name)
	s.users[name] = u
	return u
}

func (s *Store) UserNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.users))
	for name := range s.users {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (s *Store) Users() []*domain.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	slices.SortFunc(out, func(a, b *domain.User) int {
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		}
		return 0
	})
	return out
}

// Commit snapshots every user and hands the snapshot to the backend. Callers
// must make sure no user is being mutated while Commit runs.
func (s *Store) Commit(ctx context.Context) error {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()
	if s.backend == nil {
		return nil
	}
	users := s.Users()
	snapshot := make([]domain.User, 0, len(users))
	for _, u := range users {
		snapshot = append(snapshot, u.Clone())
	}
	if err := s.backend.Save(ctx, snapshot); err != nil {
		return errors.Wrap(err, "save users failed")
	}
	return nil
}

func (s *Store) ContainsItem(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.items[name]
	return ok
}

func (s *Store) Item(name string) (domain.Item, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[name]
	return item, ok
}

func (s *Store) ItemNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.items))
	for name := range s.items {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (s *Store) Items() []domain.Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Item, 0, len(s.items))
	for _, item := range s.items {
		out = append(out, item)
	}
	slices.SortFunc(out, func(a, b domain.Item) int {
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		}
		return 0
	})
	return out
}

// Close releases the backend.
func (s *Store) Close() error {
	if s.backend == nil {
		return nil
	}
	return s.backend.Close()
}
