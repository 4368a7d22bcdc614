package market_test

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
	"github.com/tolelom/tolmarket/core"
	"github.com/tolelom/tolmarket/events"
	"github.com/tolelom/tolmarket/internal/testutil"
	"github.com/tolelom/tolmarket/vm/modules/coin"
	"github.com/tolelom/tolmarket/vm/modules/market"
	"github.com/tolelom/tolmarket/wallet"
)

// venue abstracts over the two engines so every scenario runs on both.
type venue struct {
	name    string
	address common.Address
	coin    bool
}

var venues = []venue{
	{name: "native", address: market.NativeAddress},
	{name: "coin", address: market.CoinAddress, coin: true},
}

func forEachVenue(t *testing.T, f func(t *testing.T, v venue)) {
	for _, v := range venues {
		t.Run(v.name, func(t *testing.T) { f(t, v) })
	}
}

// pay sends a payable listing call: as attached value on the native engine,
// as a declared amount pulled from the allowance on the coin engine.
func (v venue) pay(l *testutil.Ledger, w *wallet.Wallet, typ core.TxType, id uint64, amount *uint256.Int) error {
	if v.coin {
		return l.Exec(w, typ, v.address, nil, core.ListingPayload{ID: id, Amount: amount})
	}
	return l.Exec(w, typ, v.address, amount, core.ListingPayload{ID: id})
}

func (v venue) balance(l *testutil.Ledger, addr common.Address) *uint256.Int {
	if v.coin {
		return l.CoinBalance(addr)
	}
	return l.Balance(addr)
}

// fund lets the engine pull w's coins. Native buyers need nothing.
func (v venue) fund(l *testutil.Ledger, w *wallet.Wallet) {
	if v.coin {
		l.MustExec(w, core.TxCoinApprove, coin.Address, nil, core.CoinApprovePayload{Spender: v.address, Amount: testutil.Ether(100)})
	}
}

// approve lets the engine escrow seller's tokens of the genesis collection.
func (v venue) approve(l *testutil.Ledger, seller *wallet.Wallet) {
	l.MustExec(seller, core.TxSetApprovalForAll, l.Collection(), nil,
		core.SetApprovalForAllPayload{Operator: v.address, Approved: true})
}

func (v venue) createOrder(t *testing.T, l *testutil.Ledger, seller *wallet.Wallet, ref core.AssetRef, price *uint256.Int) uint64 {
	t.Helper()
	l.MustExec(seller, core.TxCreateOrder, v.address, nil, core.CreateOrderPayload{Asset: ref, Price: price})
	return lastID(t, l, events.EventOrderCreated, "order_id")
}

func (v venue) startAuction(t *testing.T, l *testutil.Ledger, seller *wallet.Wallet, ref core.AssetRef, reserve *uint256.Int, duration int64) uint64 {
	t.Helper()
	l.MustExec(seller, core.TxStartAuction, v.address, nil,
		core.StartAuctionPayload{Asset: ref, ReservePrice: reserve, Duration: duration})
	return lastID(t, l, events.EventStartAuction, "auction_id")
}

func lastID(t *testing.T, l *testutil.Ledger, typ events.EventType, field string) uint64 {
	t.Helper()
	evs := l.EventsOf(typ)
	require.NotEmpty(t, evs)
	id, ok := evs[len(evs)-1].Data[field].(uint64)
	require.True(t, ok, "%s carries %s", typ, field)
	return id
}

// feeWallet points both engines' fees at to.
func feeWallet(t *testing.T, l *testutil.Ledger, to common.Address) {
	t.Helper()
	for _, v := range venues {
		l.MustExec(l.Admin, core.TxUpdateAdminWallet, v.address, nil, core.WalletPayload{Wallet: to})
	}
}
