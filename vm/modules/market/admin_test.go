package market_test

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tolelom/tolmarket/core"
	"github.com/tolelom/tolmarket/internal/testutil"
	"github.com/tolelom/tolmarket/vm/modules/market"
	"github.com/tolelom/tolmarket/vm/modules/vault"
)

func TestGenesisEngines(t *testing.T) {
	l := testutil.NewLedger(t, 0)
	n, err := market.Config(l.State, market.NativeAddress)
	require.NoError(t, err)
	assert.Equal(t, core.CurrencyNative, n.Currency)
	assert.Equal(t, uint16(500), n.FeesRate)
	assert.Equal(t, uint16(500), n.AuctionFeesRate)
	assert.Equal(t, vault.Address, n.Pool)
	assert.Equal(t, l.Admin.Address(), n.AdminWallet)

	c, err := market.Config(l.State, market.CoinAddress)
	require.NoError(t, err)
	assert.Equal(t, core.CurrencyCoin, c.Currency)
	assert.NotEqual(t, common.Address{}, c.Coin)
}

func TestSettersNeedAdmin(t *testing.T) {
	l := testutil.NewLedger(t, 1)
	intruder := l.Accounts[0]
	calls := []struct {
		typ     core.TxType
		payload any
	}{
		{core.TxUpdateFeesRate, core.FeesRatePayload{Bps: 100}},
		{core.TxUpdateAuctionFeesRate, core.FeesRatePayload{Bps: 100}},
		{core.TxUpdateAdminWallet, core.WalletPayload{Wallet: intruder.Address()}},
		{core.TxUpdateNFTPool, core.NFTPoolPayload{Pool: vault.Address}},
	}
	for _, c := range calls {
		for _, v := range venues {
			err := l.Exec(intruder, c.typ, v.address, nil, c.payload)
			assert.ErrorIs(t, err, core.ErrUnauthorized, "%s on %s", c.typ, v.name)
		}
	}
}

func TestSetterValidation(t *testing.T) {
	l := testutil.NewLedger(t, 0)
	to := market.NativeAddress

	err := l.Exec(l.Admin, core.TxUpdateFeesRate, to, nil, core.FeesRatePayload{Bps: core.BasisPoints + 1})
	assert.ErrorIs(t, err, core.ErrInvalidInput)
	err = l.Exec(l.Admin, core.TxUpdateAuctionFeesRate, to, nil, core.FeesRatePayload{Bps: core.BasisPoints + 1})
	assert.ErrorIs(t, err, core.ErrInvalidInput)
	err = l.Exec(l.Admin, core.TxUpdateAdminWallet, to, nil, core.WalletPayload{})
	assert.ErrorIs(t, err, core.ErrInvalidInput)
	err = l.Exec(l.Admin, core.TxUpdateNFTPool, to, nil, core.NFTPoolPayload{Pool: l.Admin.Address()})
	assert.ErrorIs(t, err, core.ErrInvalidInput, "pool must be a registered vault")

	l.MustExec(l.Admin, core.TxUpdateFeesRate, to, nil, core.FeesRatePayload{Bps: core.BasisPoints})
	l.MustExec(l.Admin, core.TxUpdateAuctionFeesRate, to, nil, core.FeesRatePayload{Bps: 0})
	cfg, err := market.Config(l.State, to)
	require.NoError(t, err)
	assert.Equal(t, uint16(core.BasisPoints), cfg.FeesRate)
	assert.Zero(t, cfg.AuctionFeesRate)

	other, err := market.Config(l.State, market.CoinAddress)
	require.NoError(t, err)
	assert.Equal(t, uint16(500), other.FeesRate, "engines are configured independently")
}

// TestRateChangeAppliesToNextSale checks the fee is read at settlement.
func TestRateChangeAppliesToNextSale(t *testing.T) {
	l := testutil.NewLedger(t, 3)
	seller, buyer, fees := l.Accounts[0], l.Accounts[1], l.Accounts[2]
	v := venues[0]
	feeWallet(t, l, fees.Address())
	v.approve(l, seller)
	id := v.createOrder(t, l, seller, l.Mint(seller.Address(), "1.json"), testutil.Ether(1))

	l.MustExec(l.Admin, core.TxUpdateFeesRate, v.address, nil, core.FeesRatePayload{Bps: 1000})
	require.NoError(t, v.pay(l, buyer, core.TxBuyOrder, id, testutil.Ether(1)))
	assert.Equal(t, testutil.MilliEther(100_100), l.Balance(fees.Address()))
	assert.Equal(t, testutil.MilliEther(100_900), l.Balance(seller.Address()))
}

// TestRepointedPoolKeepsOpenListings checks listings settle through the
// vault that took custody, even after the engine moves to another pool.
func TestRepointedPoolKeepsOpenListings(t *testing.T) {
	l := testutil.NewLedger(t, 2)
	seller, buyer := l.Accounts[0], l.Accounts[1]
	v := venues[0]
	v.approve(l, seller)
	ref := l.Mint(seller.Address(), "1.json")
	id := v.createOrder(t, l, seller, ref, testutil.Ether(1))

	second := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	require.NoError(t, vault.Register(l.State, &core.Vault{Address: second, Name: "second"}))
	require.NoError(t, l.State.Commit())
	l.MustExec(l.Admin, core.TxUpdateNFTPool, v.address, nil, core.NFTPoolPayload{Pool: second})

	require.NoError(t, v.pay(l, buyer, core.TxBuyOrder, id, testutil.Ether(1)))
	assert.Equal(t, buyer.Address(), l.Owner(ref))
}

func TestDeployRequiresAdminWallet(t *testing.T) {
	state := testutil.NewStateDB()
	addr := common.HexToAddress("0x4d4b54")
	cfg := &core.MarketConfig{Address: addr, Currency: core.CurrencyNative, FeesRate: 500, AuctionFeesRate: 500}

	assert.ErrorIs(t, market.Deploy(state, cfg), core.ErrInvalidInput)
	_, err := state.GetMarketConfig(addr)
	assert.ErrorIs(t, err, core.ErrNotFound, "rejected engine is not stored")

	cfg.AdminWallet = common.HexToAddress("0xfee")
	require.NoError(t, market.Deploy(state, cfg))
	got, err := market.Config(state, addr)
	require.NoError(t, err)
	assert.Equal(t, cfg.AdminWallet, got.AdminWallet)
}
