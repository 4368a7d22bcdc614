// Package market implements the marketplace engines: fixed-price orders and
// timed English auctions over escrowed assets. Two engines run the same
// state machines and differ only in their payment medium.
package market

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/tolelom/tolmarket/core"
	"github.com/tolelom/tolmarket/crypto"
	"github.com/tolelom/tolmarket/events"
	"github.com/tolelom/tolmarket/vm"
	"github.com/tolelom/tolmarket/vm/modules/access"
	"github.com/tolelom/tolmarket/vm/modules/coin"
	"github.com/tolelom/tolmarket/vm/modules/vault"
)

var (
	// NativeAddress is the engine settling in the native currency.
	NativeAddress = crypto.ModuleAddress("market")
	// CoinAddress is the engine settling in the genesis fungible ledger.
	CoinAddress = crypto.ModuleAddress("coinmarket")
)

// listingSequence is shared by orders and auctions of every engine.
const listingSequence = "listing"

func init() {
	vm.Register(core.TxCreateOrder, handleCreateOrder)
	vm.RegisterPayable(core.TxBuyOrder, handleBuyOrder)
	vm.Register(core.TxCancelOrder, handleCancelOrder)
	vm.Register(core.TxStartAuction, handleStartAuction)
	vm.RegisterPayable(core.TxBid, handleBid)
	vm.Register(core.TxEndAuction, handleEndAuction)
	vm.Register(core.TxBidderWithdraw, handleBidderWithdraw)
	vm.Register(core.TxUpdateFeesRate, handleUpdateFeesRate)
	vm.Register(core.TxUpdateAuctionFeesRate, handleUpdateAuctionFeesRate)
	vm.Register(core.TxUpdateAdminWallet, handleUpdateAdminWallet)
	vm.Register(core.TxUpdateNFTPool, handleUpdateNFTPool)
}

// Deploy stores an engine's configuration after validating it.
func Deploy(state core.State, cfg *core.MarketConfig) error {
	if cfg.Address == (common.Address{}) {
		return fmt.Errorf("market address required: %w", core.ErrInvalidInput)
	}
	if cfg.AdminWallet == (common.Address{}) {
		return fmt.Errorf("admin wallet must be non-zero: %w", core.ErrInvalidInput)
	}
	if !core.ValidRate(cfg.FeesRate) || !core.ValidRate(cfg.AuctionFeesRate) {
		return fmt.Errorf("fee rates must be <= %d bps: %w", core.BasisPoints, core.ErrInvalidInput)
	}
	if _, err := currencyOf(cfg); err != nil {
		return err
	}
	return state.SetMarketConfig(cfg)
}

// Config loads an engine's configuration.
func Config(state core.State, market common.Address) (*core.MarketConfig, error) {
	cfg, err := state.GetMarketConfig(market)
	if err != nil {
		return nil, fmt.Errorf("market %s: %w", market.Hex(), err)
	}
	return cfg, nil
}

// ---- payment media ----

// currency is how an engine takes payment and pays out.
type currency interface {
	// offered is the amount the caller is paying with this transaction.
	offered(ctx *vm.Context, declared *uint256.Int) (*uint256.Int, error)
	// collect takes amount from the caller into the market's custody.
	collect(ctx *vm.Context, market common.Address, amount *uint256.Int) error
	// pay sends amount out of the market's custody.
	pay(ctx *vm.Context, market, to common.Address, amount *uint256.Int) error
}

// native payments arrive as transaction value, which the executor has
// already credited to the market account.
type native struct{}

func (native) offered(ctx *vm.Context, _ *uint256.Int) (*uint256.Int, error) {
	return ctx.Value(), nil
}

func (native) collect(*vm.Context, common.Address, *uint256.Int) error { return nil }

func (native) pay(ctx *vm.Context, market, to common.Address, amount *uint256.Int) error {
	return ctx.TransferValue(market, to, amount)
}

// ledger payments are pulled from the caller's allowance to the market.
type ledger struct{ coin common.Address }

func (ledger) offered(ctx *vm.Context, declared *uint256.Int) (*uint256.Int, error) {
	if !ctx.Value().IsZero() {
		return nil, fmt.Errorf("coin market takes no native value: %w", core.ErrNotPayable)
	}
	return core.Amount(declared), nil
}

func (l ledger) collect(ctx *vm.Context, market common.Address, amount *uint256.Int) error {
	return coin.TransferFrom(ctx, l.coin, market, ctx.Caller(), market, amount)
}

func (l ledger) pay(ctx *vm.Context, market, to common.Address, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	return coin.Transfer(ctx, l.coin, market, to, amount)
}

func currencyOf(cfg *core.MarketConfig) (currency, error) {
	switch cfg.Currency {
	case core.CurrencyNative:
		return native{}, nil
	case core.CurrencyCoin:
		if cfg.Coin == (common.Address{}) {
			return nil, fmt.Errorf("coin market needs a ledger address: %w", core.ErrInvalidInput)
		}
		return ledger{coin: cfg.Coin}, nil
	}
	return nil, fmt.Errorf("unknown currency %q: %w", cfg.Currency, core.ErrInvalidInput)
}

// engine is one market's configuration with its payment medium resolved.
type engine struct {
	cfg *core.MarketConfig
	cur currency
}

func load(ctx *vm.Context, market common.Address) (*engine, error) {
	cfg, err := Config(ctx.State, market)
	if err != nil {
		return nil, err
	}
	cur, err := currencyOf(cfg)
	if err != nil {
		return nil, err
	}
	return &engine{cfg: cfg, cur: cur}, nil
}

// settle splits price between the admin wallet (rate bps) and the seller.
func (e *engine) settle(ctx *vm.Context, seller common.Address, price *uint256.Int, rate uint16) (fee *uint256.Int, err error) {
	fee = core.Share(price, rate)
	proceeds, err := core.Sub(price, fee)
	if err != nil {
		return nil, err
	}
	if err := e.cur.pay(ctx, e.cfg.Address, e.cfg.AdminWallet, fee); err != nil {
		return nil, fmt.Errorf("pay fee: %w", err)
	}
	if err := e.cur.pay(ctx, e.cfg.Address, seller, proceeds); err != nil {
		return nil, fmt.Errorf("pay seller: %w", err)
	}
	return fee, nil
}

// release hands an escrowed asset to to. It uses the vault recorded at
// listing time, so repointing the pool does not strand open listings.
func (e *engine) release(ctx *vm.Context, ref core.AssetRef, to common.Address) error {
	held, err := vault.Held(ctx.State, ref)
	if err != nil {
		return err
	}
	return vault.Release(ctx, held.Vault, e.cfg.Address, ref, to)
}

// ---- admin setters ----

func adminEngine(ctx *vm.Context) (*core.MarketConfig, error) {
	cfg, err := Config(ctx.State, ctx.Target())
	if err != nil {
		return nil, err
	}
	if err := access.Authorize(ctx.State, cfg.Address, core.RoleAdmin, ctx.Caller()); err != nil {
		return nil, err
	}
	return cfg, nil
}

func handleUpdateFeesRate(ctx *vm.Context, payload json.RawMessage) error {
	var p core.FeesRatePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode update_fees_rate payload: %w", err)
	}
	return updateRate(ctx, p.Bps, false)
}

func handleUpdateAuctionFeesRate(ctx *vm.Context, payload json.RawMessage) error {
	var p core.FeesRatePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode update_auction_fees_rate payload: %w", err)
	}
	return updateRate(ctx, p.Bps, true)
}

func updateRate(ctx *vm.Context, bps uint16, auction bool) error {
	cfg, err := adminEngine(ctx)
	if err != nil {
		return err
	}
	if !core.ValidRate(bps) {
		return fmt.Errorf("fee rate %d bps exceeds %d: %w", bps, core.BasisPoints, core.ErrInvalidInput)
	}
	ev := events.EventFeesRateUpdated
	if auction {
		cfg.AuctionFeesRate = bps
		ev = events.EventAuctionFeesUpdated
	} else {
		cfg.FeesRate = bps
	}
	if err := ctx.State.SetMarketConfig(cfg); err != nil {
		return err
	}
	ctx.Emit(ev, map[string]any{"market": cfg.Address, "bps": bps})
	return nil
}

func handleUpdateAdminWallet(ctx *vm.Context, payload json.RawMessage) error {
	var p core.WalletPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode update_admin_wallet payload: %w", err)
	}
	if p.Wallet == (common.Address{}) {
		return fmt.Errorf("admin wallet must be non-zero: %w", core.ErrInvalidInput)
	}
	cfg, err := adminEngine(ctx)
	if err != nil {
		return err
	}
	cfg.AdminWallet = p.Wallet
	if err := ctx.State.SetMarketConfig(cfg); err != nil {
		return err
	}
	ctx.Emit(events.EventAdminWalletUpdated, map[string]any{"market": cfg.Address, "wallet": p.Wallet})
	return nil
}

func handleUpdateNFTPool(ctx *vm.Context, payload json.RawMessage) error {
	var p core.NFTPoolPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode update_nft_pool payload: %w", err)
	}
	cfg, err := adminEngine(ctx)
	if err != nil {
		return err
	}
	ok, err := vault.Exists(ctx.State, p.Pool)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s is not a vault: %w", p.Pool.Hex(), core.ErrInvalidInput)
	}
	cfg.Pool = p.Pool
	if err := ctx.State.SetMarketConfig(cfg); err != nil {
		return err
	}
	ctx.Emit(events.EventNFTPoolUpdated, map[string]any{"market": cfg.Address, "pool": p.Pool})
	return nil
}
