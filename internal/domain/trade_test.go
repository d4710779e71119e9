package domain

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

var sword = Item{Name: "sword", BuyPrice: 100, SellPrice: 40}

func TestPurchaseThenSellRemovesEntry(t *testing.T) {
	u := NewUser("alice")
	u.Credits = 150

	require.NoError(t, u.Purchase(sword, 1))
	require.Equal(t, int64(50), u.Credits)
	require.Equal(t, map[string]int64{"sword": 1}, u.Items)

	require.NoError(t, u.Sell(sword, 1))
	require.Equal(t, int64(90), u.Credits)
	require.Empty(t, u.Items)
	_, present := u.Items["sword"]
	require.False(t, present)
}

func TestPurchaseRejectedLeavesUserUntouched(t *testing.T) {
	u := NewUser("bob")
	u.Credits = 199

	err := u.Purchase(sword, 2)
	require.ErrorIs(t, err, ErrInsufficientFunds)
	require.Equal(t, int64(199), u.Credits)
	require.Empty(t, u.Items)
}

func TestSellRejectedLeavesUserUntouched(t *testing.T) {
	u := NewUser("carol")
	u.Credits = 10
	u.Items["sword"] = 1

	err := u.Sell(sword, 2)
	require.ErrorIs(t, err, ErrInsufficientInventory)
	require.Equal(t, int64(10), u.Credits)
	require.Equal(t, int64(1), u.Owned("sword"))
}

func TestPurchaseCostRejectsBadAmounts(t *testing.T) {
	_, err := PurchaseCost(sword, 0)
	require.ErrorIs(t, err, ErrInvalidAmount)

	_, err = PurchaseCost(sword, -3)
	require.ErrorIs(t, err, ErrInvalidAmount)

	_, err = PurchaseCost(sword, math.MaxInt64/50)
	require.ErrorIs(t, err, ErrInvalidAmount)

	cost, err := PurchaseCost(Item{Name: "free"}, math.MaxInt64)
	require.NoError(t, err)
	require.Zero(t, cost)
}

func TestAdjustQuantity(t *testing.T) {
	items := map[string]int64{}
	AdjustQuantity(items, "gem", 3)
	AdjustQuantity(items, "gem", -1)
	require.Equal(t, int64(2), items["gem"])
	AdjustQuantity(items, "gem", -2)
	require.NotContains(t, items, "gem")
}

func TestCloneIsDeep(t *testing.T) {
	u := NewUser("dave")
	u.Items["gem"] = 1
	c := u.Clone()
	c.Items["gem"] = 5
	require.Equal(t, int64(1), u.Owned("gem"))
	require.Equal(t, []string{"gem"}, u.ItemNames())
}
