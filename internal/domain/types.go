package domain

import (
	"slices"
	"time"
)

type EventType string

const (
	EventUserLoggedIn   EventType = "UserLoggedIn"
	EventUserLoggedOut  EventType = "UserLoggedOut"
	EventItemPurchased  EventType = "ItemPurchased"
	EventItemSold       EventType = "ItemSold"
	EventStoreCommitted EventType = "StoreCommitted"
)

// Item is an entry of the trade catalog. Items are loaded with the store
// and never change while it is open.
type Item struct {
	Name      string `json:"name"`
	BuyPrice  int64  `json:"buy_price"`
	SellPrice int64  `json:"sell_price"`
}

// User is a player account. Items maps an item name to the owned quantity;
// an entry is removed as soon as its quantity drops to zero.
type User struct {
	Name    string           `json:"name"`
	Credits int64            `json:"credits"`
	Items   map[string]int64 `json:"items"`
}

func NewUser(name string) *User {
	return &User{
		Name:  name,
		Items: make(map[string]int64),
	}
}

// Owned returns the quantity of the named item, zero when absent.
func (u *User) Owned(item string) int64 {
	return u.Items[item]
}

func (u *User) ItemNames() []string {
	names := make([]string, 0, len(u.Items))
	for name := range u.Items {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Clone returns a deep copy safe to hand to another goroutine.
func (u *User) Clone() User {
	items := make(map[string]int64, len(u.Items))
	for k, v := range u.Items {
		items[k] = v
	}
	return User{Name: u.Name, Credits: u.Credits, Items: items}
}

type Event struct {
	ID        string                 `json:"event_id"`
	UserName  string                 `json:"user_name,omitempty"`
	Type      EventType              `json:"event_type"`
	Payload   map[string]interface{} `json:"payload"`
	CreatedAt time.Time              `json:"created_at"`
}
