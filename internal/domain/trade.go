package domain

import (
	"math"

	"github.com/pkg/errors"
)

var (
	ErrInvalidAmount         = errors.New("amount must be a positive integer")
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrInsufficientInventory = errors.New("insufficient inventory")
)

// PurchaseCost is the number of credits debited for buying amount units.
// Both the server and the client cache use it, so they must never diverge.
func PurchaseCost(item Item, amount int64) (int64, error) {
	return multiply(item.BuyPrice, amount)
}

// SaleRevenue is the number of credits granted for selling amount units.
func SaleRevenue(item Item, amount int64) (int64, error) {
	return multiply(item.SellPrice, amount)
}

func multiply(price, amount int64) (int64, error) {
	if amount < 1 || price < 0 {
		return 0, ErrInvalidAmount
	}
	if price != 0 && amount > math.MaxInt64/price {
		return 0, ErrInvalidAmount
	}
	return price * amount, nil
}

// AdjustQuantity adds delta to the named entry and drops it when the result
// is no longer positive.
func AdjustQuantity(items map[string]int64, name string, delta int64) {
	next := items[name] + delta
	if next <= 0 {
		delete(items, name)
		return
	}
	items[name] = next
}

// Purchase checks funds and applies the purchase in one step. On error the
// user is left untouched.
func (u *User) Purchase(item Item, amount int64) error {
	cost, err := PurchaseCost(item, amount)
	if err != nil {
		return err
	}
	if cost > u.Credits {
		return ErrInsufficientFunds
	}
	if u.Items == nil {
		u.Items = make(map[string]int64)
	}
	u.Credits -= cost
	AdjustQuantity(u.Items, item.Name, amount)
	return nil
}

// Sell checks inventory and applies the sale in one step. On error the user
// is left untouched.
func (u *User) Sell(item Item, amount int64) error {
	revenue, err := SaleRevenue(item, amount)
	if err != nil {
		return err
	}
	if u.Owned(item.Name) < amount {
		return ErrInsufficientInventory
	}
	if u.Credits > math.MaxInt64-revenue {
		return ErrInvalidAmount
	}
	u.Credits += revenue
	AdjustQuantity(u.Items, item.Name, -amount)
	return nil
}
