// Package market holds the trading rules shared by every client session.
// It keeps no per-connection state: callers pass the user bound to their
// session with each request.
package market

import (
	"context"
	"math"
	"math/rand"
	"slices"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"tradepost/internal/domain"
	"tradepost/internal/metrics"
	"tradepost/internal/protocol"
	"tradepost/internal/store"
)

var logger logrus.FieldLogger = logrus.StandardLogger()

// Commit triggers.
const (
	TriggerSaveFrequency = "save_frequency"
	TriggerLogout        = "logout"
	TriggerShutdown      = "shutdown"
	TriggerAdmin         = "admin"
)

type Settings struct {
	MinBonus                int64
	MaxBonus                int64
	SaveFrequency           int
	AllowSimultaneousLogins bool
}

// Recorder receives market events.
type Recorder interface {
	Append(eventType domain.EventType, userName string, payload map[string]interface{}) domain.Event
}

type Option func(*Market)

// WithRand replaces the bonus source. fn must return a value in [0, n).
func WithRand(fn func(n int64) int64) Option {
	return func(m *Market) { m.randN = fn }
}

func WithRecorder(r Recorder) Option {
	return func(m *Market) { m.recorder = r }
}

type Market struct {
	store    store.Store
	settings Settings
	randN    func(n int64) int64
	recorder Recorder

	// Mutations hold commitMu for reading plus the account lock; Commit
	// takes commitMu exclusively so no snapshot sees a half-applied trade.
	commitMu sync.RWMutex

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	activeMu sync.Mutex
	active   map[string]int

	pendingMu sync.Mutex
	pending   int
}

func New(st store.Store, settings Settings, opts ...Option) *Market {
	if settings.SaveFrequency < 1 {
		settings.SaveFrequency = 1
	}
	if settings.MaxBonus < settings.MinBonus {
		settings.MaxBonus = settings.MinBonus
	}
	m := &Market{
		store:    st,
		settings: settings,
		randN:    rand.Int63n,
		locks:    make(map[string]*sync.Mutex),
		active:   make(map[string]int),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Market) accountLock(name string) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	l, ok := m.locks[name]
	if !ok {
		l = &sync.Mutex{}
		m.locks[name] = l
	}
	return l
}

// lockAccount serializes access to one account and keeps commits out until
// the returned func is called.
func (m *Market) lockAccount(name string) func() {
	m.commitMu.RLock()
	l := m.accountLock(name)
	l.Lock()
	return func() {
		l.Unlock()
		m.commitMu.RUnlock()
	}
}

// Handle answers every request except LOG_IN and LOG_OUT, which change the
// session binding and go through LogIn and LogOut instead.
func (m *Market) Handle(ctx context.Context, user *domain.User, req protocol.Request) protocol.Response {
	t := req.Type
	switch t {
	case protocol.Ping:
		return protocol.OK(t, nil)
	case protocol.UserExists:
		name, err := req.Name()
		if err != nil {
			return malformed(t, err)
		}
		return protocol.OK(t, m.store.ContainsUser(name))
	case protocol.GetAllUsersNames:
		return protocol.OK(t, m.store.UserNames())
	case protocol.GetAllItems:
		return protocol.OK(t, m.store.Items())
	case protocol.GetAllItemsNames:
		return protocol.OK(t, m.store.ItemNames())
	case protocol.GetItem:
		name, err := req.Name()
		if err != nil {
			return malformed(t, err)
		}
		item, ok := m.store.Item(name)
		if !ok {
			return noSuchItem(t, name)
		}
		return protocol.OK(t, item)
	case protocol.ItemExists:
		name, err := req.Name()
		if err != nil {
			return malformed(t, err)
		}
		return protocol.OK(t, m.store.ContainsItem(name))
	case protocol.GetCurrentUserName:
		if user == nil {
			return notLoggedIn(t)
		}
		return protocol.OK(t, user.Name)
	case protocol.GetCredits, protocol.GetUserItems, protocol.GetUserItemsNames, protocol.UserHas:
		return m.userRead(user, req)
	case protocol.PurchaseItem, protocol.SellItem:
		return m.trade(ctx, user, req)
	case protocol.LogIn, protocol.LogOut:
		return protocol.Fail(t, protocol.FailureUnsupportedRequest, t.String()+" must be sent through a session")
	default:
		return protocol.Fail(t, protocol.FailureUnsupportedRequest, "unsupported request "+t.String())
	}
}

func (m *Market) userRead(user *domain.User, req protocol.Request) protocol.Response {
	t := req.Type
	if user == nil {
		return notLoggedIn(t)
	}
	var itemName string
	if t == protocol.UserHas {
		name, err := req.Name()
		if err != nil {
			return malformed(t, err)
		}
		itemName = name
	}

	unlock := m.lockAccount(user.Name)
	defer unlock()
	switch t {
	case protocol.GetCredits:
		return protocol.OK(t, user.Credits)
	case protocol.GetUserItems:
		return protocol.OK(t, user.Clone().Items)
	case protocol.GetUserItemsNames:
		return protocol.OK(t, user.ItemNames())
	default:
		return protocol.OK(t, user.Owned(itemName))
	}
}

func (m *Market) trade(ctx context.Context, user *domain.User, req protocol.Request) protocol.Response {
	t := req.Type
	if user == nil {
		return notLoggedIn(t)
	}
	args, err := req.Trade()
	if err != nil {
		return malformed(t, err)
	}
	item, ok := m.store.Item(args.Name)
	if !ok {
		return noSuchItem(t, args.Name)
	}

	unlock := m.lockAccount(user.Name)
	var total int64
	if t == protocol.PurchaseItem {
		total, _ = domain.PurchaseCost(item, args.Amount)
		err = user.Purchase(item, args.Amount)
	} else {
		total, _ = domain.SaleRevenue(item, args.Amount)
		err = user.Sell(item, args.Amount)
	}
	result := protocol.TradeResult{
		Item:    item.Name,
		Amount:  args.Amount,
		Total:   total,
		Credits: user.Credits,
		Owned:   user.Owned(item.Name),
	}
	unlock()

	if err != nil {
		return tradeFailure(t, err)
	}

	eventType := domain.EventItemPurchased
	if t == protocol.SellItem {
		eventType = domain.EventItemSold
	}
	logger.WithFields(logrus.Fields{
		"user":   user.Name,
		"item":   item.Name,
		"amount": args.Amount,
		"total":  total,
		"event":  eventType,
	}).Debug("trade applied")
	m.record(eventType, user.Name, map[string]interface{}{
		"item":   item.Name,
		"amount": args.Amount,
		"total":  total,
	})
	m.countMutation(ctx)
	return protocol.OK(t, result)
}

// countMutation commits once SaveFrequency successful trades have
// accumulated. It runs with no account lock held.
func (m *Market) countMutation(ctx context.Context) {
	m.pendingMu.Lock()
	m.pending++
	due := m.pending >= m.settings.SaveFrequency
	if due {
		m.pending = 0
	}
	m.pendingMu.Unlock()
	if due {
		_ = m.Commit(ctx, TriggerSaveFrequency)
	}
}

// LogIn binds name to a new session. The account is created on first login
// and every login grants a random bonus within the configured range.
func (m *Market) LogIn(_ context.Context, name string) (*domain.User, protocol.Response) {
	t := protocol.LogIn
	if name == "" {
		return nil, protocol.Fail(t, protocol.FailureUnsupportedRequest, "user name must not be empty")
	}

	m.activeMu.Lock()
	if !m.settings.AllowSimultaneousLogins && m.active[name] > 0 {
		m.activeMu.Unlock()
		return nil, protocol.Fail(t, protocol.FailureAlreadyLoggedIn, "user "+name+" is already logged in")
	}
	m.active[name]++
	sessions := len(m.active)
	m.activeMu.Unlock()
	metrics.SetActiveSessions(sessions)

	bonus := m.bonus()
	unlock := m.lockAccount(name)
	user := m.store.GetOrCreateUser(name)
	if user.Credits > math.MaxInt64-bonus {
		user.Credits = math.MaxInt64
	} else {
		user.Credits += bonus
	}
	result := protocol.LoginResult{Name: name, Bonus: bonus, Credits: user.Credits}
	unlock()

	logger.WithFields(logrus.Fields{"user": name, "bonus": bonus}).Info("user logged in")
	m.record(domain.EventUserLoggedIn, name, map[string]interface{}{"bonus": bonus})
	return user, protocol.OK(t, result)
}

// LogOut releases the session binding and commits the store.
func (m *Market) LogOut(ctx context.Context, user *domain.User) protocol.Response {
	t := protocol.LogOut
	if user == nil {
		return notLoggedIn(t)
	}

	m.activeMu.Lock()
	if m.active[user.Name] > 1 {
		m.active[user.Name]--
	} else {
		delete(m.active, user.Name)
	}
	sessions := len(m.active)
	m.activeMu.Unlock()
	metrics.SetActiveSessions(sessions)

	logger.WithField("user", user.Name).Info("user logged out")
	m.record(domain.EventUserLoggedOut, user.Name, nil)
	_ = m.Commit(ctx, TriggerLogout)
	return protocol.OK(t, nil)
}

// Commit flushes the store. It waits for in-flight mutations and blocks new
// ones until the backend returns.
func (m *Market) Commit(ctx context.Context, trigger string) error {
	m.commitMu.Lock()
	err := m.store.Commit(ctx)
	m.commitMu.Unlock()

	metrics.RecordCommit(trigger, err)
	if err != nil {
		logger.WithError(err).WithField("trigger", trigger).Error("commit store failed")
		return errors.Wrap(err, "commit store")
	}
	m.pendingMu.Lock()
	m.pending = 0
	m.pendingMu.Unlock()

	logger.WithField("trigger", trigger).Debug("store committed")
	m.record(domain.EventStoreCommitted, "", map[string]interface{}{"trigger": trigger})
	return nil
}

// ActiveUsers lists the names bound to at least one live session.
func (m *Market) ActiveUsers() []string {
	m.activeMu.Lock()
	defer m.activeMu.Unlock()
	names := make([]string, 0, len(m.active))
	for name := range m.active {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (m *Market) IsActive(name string) bool {
	m.activeMu.Lock()
	defer m.activeMu.Unlock()
	return m.active[name] > 0
}

// Account is a point-in-time copy of a user for reporting.
type Account struct {
	domain.User
	Active bool `json:"active"`
}

func (m *Market) Accounts() []Account {
	users := m.store.Users()
	out := make([]Account, 0, len(users))
	for _, u := range users {
		unlock := m.lockAccount(u.Name)
		snapshot := u.Clone()
		unlock()
		out = append(out, Account{User: snapshot, Active: m.IsActive(u.Name)})
	}
	return out
}

func (m *Market) Items() []domain.Item {
	return m.store.Items()
}

func (m *Market) bonus() int64 {
	span := m.settings.MaxBonus - m.settings.MinBonus + 1
	if span <= 0 {
		return m.settings.MinBonus
	}
	return m.settings.MinBonus + m.randN(span)
}

func (m *Market) record(eventType domain.EventType, userName string, payload map[string]interface{}) {
	if m.recorder == nil {
		return
	}
	m.recorder.Append(eventType, userName, payload)
}

func notLoggedIn(t protocol.RequestType) protocol.Response {
	return protocol.Fail(t, protocol.FailureNotLoggedIn, "not logged in")
}

func noSuchItem(t protocol.RequestType, name string) protocol.Response {
	return protocol.Fail(t, protocol.FailureNoSuchItem, "no such item: "+name)
}

func malformed(t protocol.RequestType, err error) protocol.Response {
	return protocol.Fail(t, protocol.FailureUnsupportedRequest, err.Error())
}

func tradeFailure(t protocol.RequestType, err error) protocol.Response {
	switch {
	case errors.Is(err, domain.ErrInsufficientFunds):
		return protocol.Fail(t, protocol.FailureInsufficientFunds, "not enough credits")
	case errors.Is(err, domain.ErrInsufficientInventory):
		return protocol.Fail(t, protocol.FailureInsufficientInventory, "not enough items to sell")
	case errors.Is(err, domain.ErrInvalidAmount):
		return protocol.Fail(t, protocol.FailureInvalidAmount, err.Error())
	default:
		return protocol.Fail(t, protocol.FailureInternal, err.Error())
	}
}
