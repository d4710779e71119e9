package client

import (
	"context"
	"encoding/json"
	"slices"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"tradepost/internal/domain"
	"tradepost/internal/protocol"
)

// Cached request types. Everything else is always forwarded.
var cacheable = map[protocol.RequestType]bool{
	protocol.GetAllUsersNames:   true,
	protocol.GetAllItems:        true,
	protocol.GetCurrentUserName: true,
	protocol.GetCredits:         true,
	protocol.GetUserItems:       true,
}

var userScoped = []protocol.RequestType{
	protocol.GetCurrentUserName,
	protocol.GetCredits,
	protocol.GetUserItems,
}

// Proxy answers read requests from a local cache and keeps it in step with
// the server on login, logout and trades. It is not safe for concurrent use.
type Proxy struct {
	transport Transport
	entries   map[protocol.RequestType]json.RawMessage
}

func NewProxy(t Transport) *Proxy {
	return &Proxy{
		transport: t,
		entries:   make(map[protocol.RequestType]json.RawMessage),
	}
}

// Reconnect opens a fresh connection, pings the server and reloads the
// global catalogs. The new connection is unauthenticated, so every
// user-scoped entry is dropped.
func (p *Proxy) Reconnect(ctx context.Context) error {
	p.clear()
	if err := p.transport.Connect(ctx); err != nil {
		return err
	}
	for _, t := range []protocol.RequestType{protocol.Ping, protocol.GetAllUsersNames, protocol.GetAllItems} {
		if _, err := p.forward(ctx, protocol.NewRequest(t)); err != nil {
			return err
		}
	}
	return nil
}

func (p *Proxy) Close() error {
	p.clear()
	return p.transport.Close()
}

// Cached reports whether t currently has a cache entry.
func (p *Proxy) Cached(t protocol.RequestType) bool {
	_, ok := p.entries[t]
	return ok
}

// Execute answers req. Business failures come back as failed responses.
// The returned error wraps ErrConnectionLost when the connection is gone,
// or is a *protocol.ProtocolError when req could not be encoded.
func (p *Proxy) Execute(ctx context.Context, req protocol.Request) (protocol.Response, error) {
	if resp, ok := p.lookup(req); ok {
		return resp, nil
	}

	switch req.Type {
	case protocol.LogIn:
		return p.logIn(ctx, req)
	case protocol.LogOut:
		resp, err := p.forward(ctx, req)
		if err == nil && resp.Success {
			p.clearUser()
		}
		return resp, err
	case protocol.PurchaseItem, protocol.SellItem:
		resp, err := p.forward(ctx, req)
		if err != nil || !resp.Success {
			return resp, err
		}
		return resp, p.applyTrade(ctx, req, resp)
	default:
		return p.forward(ctx, req)
	}
}

// lookup serves req from the cache. Item queries are answered from the
// catalog entry and owned-item queries from the inventory entry.
func (p *Proxy) lookup(req protocol.Request) (protocol.Response, bool) {
	t := req.Type
	if cacheable[t] {
		raw, ok := p.entries[t]
		if !ok {
			return protocol.Response{}, false
		}
		return protocol.Response{Type: t, Success: true, Data: raw}, true
	}

	switch t {
	case protocol.GetAllItemsNames, protocol.GetItem, protocol.ItemExists:
		items, ok := p.cachedItems()
		if !ok {
			return protocol.Response{}, false
		}
		if t == protocol.GetAllItemsNames {
			names := make([]string, 0, len(items))
			for _, item := range items {
				names = append(names, item.Name)
			}
			slices.Sort(names)
			return protocol.OK(t, names), true
		}
		name, err := req.Name()
		if err != nil {
			return protocol.Response{}, false
		}
		item, found := findItem(items, name)
		if t == protocol.ItemExists {
			return protocol.OK(t, found), true
		}
		if !found {
			return protocol.Fail(t, protocol.FailureNoSuchItem, "no such item: "+name), true
		}
		return protocol.OK(t, item), true
	case protocol.GetUserItemsNames, protocol.UserHas:
		owned, ok := p.cachedOwned()
		if !ok {
			return protocol.Response{}, false
		}
		if t == protocol.GetUserItemsNames {
			u := domain.User{Items: owned}
			return protocol.OK(t, u.ItemNames()), true
		}
		name, err := req.Name()
		if err != nil {
			return protocol.Response{}, false
		}
		return protocol.OK(t, owned[name]), true
	}
	return protocol.Response{}, false
}

// logIn drops the user entries before forwarding: the server unbinds the
// current user on every LOG_IN, even one it goes on to reject.
func (p *Proxy) logIn(ctx context.Context, req protocol.Request) (protocol.Response, error) {
	p.clearUser()
	resp, err := p.forward(ctx, req)
	if err != nil || !resp.Success {
		return resp, err
	}
	name, _ := req.Name()
	p.addUserName(name)
	for _, t := range userScoped {
		if _, err := p.forward(ctx, protocol.NewRequest(t)); err != nil {
			return resp, err
		}
	}
	return resp, nil
}

// applyTrade updates credits and inventory with the same arithmetic the
// server uses. When the result disagrees with what the server reported
// the affected entries are dropped.
func (p *Proxy) applyTrade(ctx context.Context, req protocol.Request, resp protocol.Response) error {
	args, err := req.Trade()
	if err != nil {
		p.invalidate(protocol.GetCredits, protocol.GetUserItems)
		return nil
	}
	item, found, err := p.item(ctx, args.Name)
	if err != nil {
		return err
	}
	if !found {
		p.invalidate(protocol.GetCredits, protocol.GetUserItems)
		return nil
	}

	var total, delta int64
	if req.Type == protocol.PurchaseItem {
		total, err = domain.PurchaseCost(item, args.Amount)
		delta = args.Amount
	} else {
		total, err = domain.SaleRevenue(item, args.Amount)
		delta = -args.Amount
	}
	if err != nil {
		p.invalidate(protocol.GetCredits, protocol.GetUserItems)
		return nil
	}

	var reported protocol.TradeResult
	haveReport := resp.Decode(&reported) == nil
	if haveReport && reported.Total != total {
		logger.WithFields(logrus.Fields{
			"item":   item.Name,
			"local":  total,
			"server": reported.Total,
		}).Warn("trade total differs from server, dropping cached account")
		p.invalidate(protocol.GetCredits, protocol.GetUserItems)
		return nil
	}

	if raw, ok := p.entries[protocol.GetCredits]; ok {
		var credits int64
		if json.Unmarshal(raw, &credits) != nil {
			p.invalidate(protocol.GetCredits)
		} else {
			if req.Type == protocol.PurchaseItem {
				credits -= total
			} else {
				credits += total
			}
			if haveReport && credits != reported.Credits {
				p.invalidate(protocol.GetCredits)
			} else {
				p.store(protocol.GetCredits, credits)
			}
		}
	}
	if owned, ok := p.cachedOwned(); ok {
		domain.AdjustQuantity(owned, item.Name, delta)
		if haveReport && owned[item.Name] != reported.Owned {
			p.invalidate(protocol.GetUserItems)
		} else {
			p.store(protocol.GetUserItems, owned)
		}
	}
	return nil
}

// item resolves a catalog entry, fetching the catalog if it is not cached.
func (p *Proxy) item(ctx context.Context, name string) (domain.Item, bool, error) {
	items, ok := p.cachedItems()
	if !ok {
		if _, err := p.forward(ctx, protocol.NewRequest(protocol.GetAllItems)); err != nil {
			return domain.Item{}, false, err
		}
		if items, ok = p.cachedItems(); !ok {
			return domain.Item{}, false, nil
		}
	}
	item, found := findItem(items, name)
	return item, found, nil
}

// forward sends req and records a successful response for cacheable types.
// A lost connection clears the whole cache: the server session is gone. A
// request that could not be encoded never left the client and is returned
// as is.
func (p *Proxy) forward(ctx context.Context, req protocol.Request) (protocol.Response, error) {
	resp, err := p.transport.Do(ctx, req)
	if err != nil {
		if protocol.IsProtocolError(err) {
			return protocol.Response{}, err
		}
		p.clear()
		if errors.Is(err, ErrConnectionLost) {
			return protocol.Response{}, err
		}
		return protocol.Response{}, errors.Wrap(ErrConnectionLost, err.Error())
	}
	if resp.Success && cacheable[req.Type] && len(resp.Data) > 0 {
		p.entries[req.Type] = resp.Data
	}
	return resp, nil
}

func (p *Proxy) cachedItems() ([]domain.Item, bool) {
	raw, ok := p.entries[protocol.GetAllItems]
	if !ok {
		return nil, false
	}
	var items []domain.Item
	if err := json.Unmarshal(raw, &items); err != nil {
		p.invalidate(protocol.GetAllItems)
		return nil, false
	}
	return items, true
}

func (p *Proxy) cachedOwned() (map[string]int64, bool) {
	raw, ok := p.entries[protocol.GetUserItems]
	if !ok {
		return nil, false
	}
	var owned map[string]int64
	if err := json.Unmarshal(raw, &owned); err != nil {
		p.invalidate(protocol.GetUserItems)
		return nil, false
	}
	if owned == nil {
		owned = map[string]int64{}
	}
	return owned, true
}

func (p *Proxy) addUserName(name string) {
	raw, ok := p.entries[protocol.GetAllUsersNames]
	if !ok {
		return
	}
	var names []string
	if err := json.Unmarshal(raw, &names); err != nil {
		p.invalidate(protocol.GetAllUsersNames)
		return
	}
	i, found := slices.BinarySearch(names, name)
	if found {
		return
	}
	p.store(protocol.GetAllUsersNames, slices.Insert(names, i, name))
}

func (p *Proxy) store(t protocol.RequestType, v interface{}) {
	raw, err := json.Marshal(v)
	if err != nil {
		p.invalidate(t)
		return
	}
	p.entries[t] = raw
}

func (p *Proxy) invalidate(types ...protocol.RequestType) {
	for _, t := range types {
		delete(p.entries, t)
	}
}

func (p *Proxy) clearUser() {
	p.invalidate(userScoped...)
}

func (p *Proxy) clear() {
	clear(p.entries)
}

func findItem(items []domain.Item, name string) (domain.Item, bool) {
	for _, item := range items {
		if item.Name == name {
			return item, true
		}
	}
	return domain.Item{}, false
}
