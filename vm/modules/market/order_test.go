package market_test

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tolelom/tolmarket/core"
	"github.com/tolelom/tolmarket/events"
	"github.com/tolelom/tolmarket/internal/testutil"
	"github.com/tolelom/tolmarket/vm/modules/market"
	"github.com/tolelom/tolmarket/vm/modules/vault"
)

func TestCreateAndCancelOrder(t *testing.T) {
	forEachVenue(t, func(t *testing.T, v venue) {
		l := testutil.NewLedger(t, 2)
		seller, other := l.Accounts[0], l.Accounts[1]
		ref := l.Mint(seller.Address(), "1.json")
		v.approve(l, seller)

		id := v.createOrder(t, l, seller, ref, testutil.Ether(1))
		assert.Equal(t, uint64(1), id, "listing ids start at 1")
		assert.Equal(t, vault.Address, l.Owner(ref))
		o, err := market.GetOrder(l.State, id)
		require.NoError(t, err)
		assert.Equal(t, core.OrderOpen, o.Status)
		assert.Equal(t, v.address, o.Market)

		err = l.Exec(other, core.TxCancelOrder, v.address, nil, core.ListingPayload{ID: id})
		assert.ErrorIs(t, err, core.ErrUnauthorized)

		l.MustExec(seller, core.TxCancelOrder, v.address, nil, core.ListingPayload{ID: id})
		assert.Equal(t, seller.Address(), l.Owner(ref))
		o, _ = market.GetOrder(l.State, id)
		assert.Equal(t, core.OrderCancelled, o.Status)
		assert.Len(t, l.EventsOf(events.EventOrderCanceled), 1)

		err = l.Exec(seller, core.TxCancelOrder, v.address, nil, core.ListingPayload{ID: id})
		assert.ErrorIs(t, err, core.ErrAlreadySettled)
		v.fund(l, other)
		err = v.pay(l, other, core.TxBuyOrder, id, testutil.Ether(1))
		assert.ErrorIs(t, err, core.ErrAlreadySettled)
	})
}

// TestBuyOrderExactPayment checks that only the exact price buys, and that
// the sale pays the fee to the admin wallet and the rest to the seller.
func TestBuyOrderExactPayment(t *testing.T) {
	forEachVenue(t, func(t *testing.T, v venue) {
		l := testutil.NewLedger(t, 3)
		seller, buyer, fees := l.Accounts[0], l.Accounts[1], l.Accounts[2]
		feeWallet(t, l, fees.Address())
		ref := l.Mint(seller.Address(), "1.json")
		v.approve(l, seller)
		v.fund(l, buyer)
		price := testutil.Ether(1)
		id := v.createOrder(t, l, seller, ref, price)

		one := uint256.NewInt(1)
		under := new(uint256.Int).Sub(price, one)
		over := new(uint256.Int).Add(price, one)
		assert.ErrorIs(t, v.pay(l, buyer, core.TxBuyOrder, id, under), core.ErrInsufficientPayment)
		assert.ErrorIs(t, v.pay(l, buyer, core.TxBuyOrder, id, over), core.ErrInsufficientPayment)
		assert.Equal(t, testutil.Ether(100), v.balance(l, buyer.Address()), "rejected buys cost nothing")

		require.NoError(t, v.pay(l, buyer, core.TxBuyOrder, id, price))
		assert.Equal(t, buyer.Address(), l.Owner(ref))
		assert.Equal(t, testutil.Ether(99), v.balance(l, buyer.Address()))
		assert.Equal(t, testutil.MilliEther(100_950), v.balance(l, seller.Address()))
		assert.Equal(t, testutil.MilliEther(100_050), v.balance(l, fees.Address()))
		assert.True(t, v.balance(l, v.address).IsZero(), "market keeps nothing after a sale")

		o, err := market.GetOrder(l.State, id)
		require.NoError(t, err)
		assert.Equal(t, core.OrderSold, o.Status)
		assert.Equal(t, buyer.Address(), o.Buyer)

		evs := l.EventsOf(events.EventOrderSuccessful)
		require.Len(t, evs, 1)
		assert.Equal(t, testutil.MilliEther(50), evs[0].Data["fee"])

		assert.ErrorIs(t, v.pay(l, buyer, core.TxBuyOrder, id, price), core.ErrAlreadySettled)
		err = l.Exec(seller, core.TxCancelOrder, v.address, nil, core.ListingPayload{ID: id})
		assert.ErrorIs(t, err, core.ErrAlreadySettled)
	})
}

func TestCreateOrderChecks(t *testing.T) {
	forEachVenue(t, func(t *testing.T, v venue) {
		l := testutil.NewLedger(t, 2)
		seller, other := l.Accounts[0], l.Accounts[1]
		ref := l.Mint(seller.Address(), "1.json")

		err := l.Exec(seller, core.TxCreateOrder, v.address, nil, core.CreateOrderPayload{Asset: ref, Price: testutil.Ether(1)})
		assert.ErrorIs(t, err, core.ErrNotApproved, "engine needs operator approval to escrow")
		_, err = market.GetOrder(l.State, 1)
		assert.ErrorIs(t, err, core.ErrNotFound, "failed listing leaves no order")

		v.approve(l, seller)
		err = l.Exec(seller, core.TxCreateOrder, v.address, nil, core.CreateOrderPayload{Asset: ref, Price: core.Zero()})
		assert.ErrorIs(t, err, core.ErrInvalidInput)

		err = l.Exec(other, core.TxCreateOrder, v.address, nil, core.CreateOrderPayload{Asset: ref, Price: testutil.Ether(1)})
		assert.ErrorIs(t, err, core.ErrNotOwner)

		missing := core.AssetRef{Collection: l.Collection(), TokenID: 42}
		err = l.Exec(seller, core.TxCreateOrder, v.address, nil, core.CreateOrderPayload{Asset: missing, Price: testutil.Ether(1)})
		assert.ErrorIs(t, err, core.ErrNotFound)

		err = l.Exec(seller, core.TxCreateOrder, seller.Address(), nil, core.CreateOrderPayload{Asset: ref, Price: testutil.Ether(1)})
		assert.ErrorIs(t, err, core.ErrNotFound, "no engine at that address")
	})
}

func TestOrderBelongsToItsEngine(t *testing.T) {
	l := testutil.NewLedger(t, 2)
	seller, buyer := l.Accounts[0], l.Accounts[1]
	native, coinVenue := venues[0], venues[1]
	ref := l.Mint(seller.Address(), "1.json")
	native.approve(l, seller)
	id := native.createOrder(t, l, seller, ref, testutil.Ether(1))

	coinVenue.fund(l, buyer)
	err := coinVenue.pay(l, buyer, core.TxBuyOrder, id, testutil.Ether(1))
	assert.ErrorIs(t, err, core.ErrInvalidInput)
	err = l.Exec(seller, core.TxCancelOrder, market.CoinAddress, nil, core.ListingPayload{ID: id})
	assert.ErrorIs(t, err, core.ErrInvalidInput)
	assert.Equal(t, vault.Address, l.Owner(ref))
}

func TestCoinEngineRefusesNativeValue(t *testing.T) {
	l := testutil.NewLedger(t, 2)
	seller, buyer := l.Accounts[0], l.Accounts[1]
	v := venues[1]
	ref := l.Mint(seller.Address(), "1.json")
	v.approve(l, seller)
	v.fund(l, buyer)
	id := v.createOrder(t, l, seller, ref, testutil.Ether(1))

	err := l.Exec(buyer, core.TxBuyOrder, v.address, testutil.Ether(1), core.ListingPayload{ID: id, Amount: testutil.Ether(1)})
	assert.ErrorIs(t, err, core.ErrNotPayable)
	assert.Equal(t, testutil.Ether(100), l.Balance(buyer.Address()))
}

func TestCoinBuyNeedsAllowance(t *testing.T) {
	l := testutil.NewLedger(t, 2)
	seller, buyer := l.Accounts[0], l.Accounts[1]
	v := venues[1]
	ref := l.Mint(seller.Address(), "1.json")
	v.approve(l, seller)
	id := v.createOrder(t, l, seller, ref, testutil.Ether(1))

	err := v.pay(l, buyer, core.TxBuyOrder, id, testutil.Ether(1))
	assert.ErrorIs(t, err, core.ErrNotApproved)
	assert.Equal(t, vault.Address, l.Owner(ref))
}

// TestListingIDsAreShared checks orders and auctions of both engines draw
// ids from one counter.
func TestListingIDsAreShared(t *testing.T) {
	l := testutil.NewLedger(t, 1)
	seller := l.Accounts[0]
	native, coinVenue := venues[0], venues[1]
	native.approve(l, seller)
	coinVenue.approve(l, seller)

	a := native.createOrder(t, l, seller, l.Mint(seller.Address(), "a"), testutil.Ether(1))
	b := coinVenue.startAuction(t, l, seller, l.Mint(seller.Address(), "b"), testutil.Ether(1), 60)
	c := coinVenue.createOrder(t, l, seller, l.Mint(seller.Address(), "c"), testutil.Ether(1))
	d := native.startAuction(t, l, seller, l.Mint(seller.Address(), "d"), testutil.Ether(1), 60)
	assert.Equal(t, []uint64{1, 2, 3, 4}, []uint64{a, b, c, d})

	_, err := market.GetOrder(l.State, b)
	assert.ErrorIs(t, err, core.ErrNotFound, "an auction id is not an order")
}
