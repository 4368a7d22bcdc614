// Package coin implements fungible ledgers: balance tables with
// MINTER-gated issuance and allowance-based delegated transfer.
package coin

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
)

// Address is the ledger created at genesis and used by the coin market.
var Address = crypto.ModuleAddress("coin")

func init() {
	vm.Register(core.TxCoinMint, handleMint)
	vm.Register(core.TxCoinTransfer, handleTransfer)
	vm.Register(core.TxCoinApprove, handleApprove)
	vm.Register(core.TxCoinTransferFrom, handleTransferFrom)
}

// Deploy stores a new ledger with zero supply.
func Deploy(state core.State, info *core.CoinInfo) error {
	if info.Address == (common.Address{}) {
		return fmt.Errorf("coin address required: %w", core.ErrInvalidInput)
	}
	info.TotalSupply = core.Amount(info.TotalSupply)
	return state.SetCoinInfo(info)
}

// Info loads a ledger's metadata.
func Info(state core.State, coin common.Address) (*core.CoinInfo, error) {
	info, err := state.GetCoinInfo(coin)
	if err != nil {
		return nil, fmt.Errorf("coin %s: %w", coin.Hex(), err)
	}
	return info, nil
}

// BalanceOf returns holder's balance on coin.
func BalanceOf(state core.State, coin, holder common.Address) (*uint256.Int, error) {
	return state.GetCoinBalance(coin, holder)
}

// Allowance returns how much spender may still move on owner's behalf.
func Allowance(state core.State, coin, owner, spender common.Address) (*uint256.Int, error) {
	return state.GetAllowance(coin, owner, spender)
}

// Issue creates amount new units for to and grows the total supply.
// Callers enforce MINTER authority.
func Issue(state core.State, coin, to common.Address, amount *uint256.Int) error {
	info, err := Info(state, coin)
	if err != nil {
		return err
	}
	if info.TotalSupply, err = core.Add(info.TotalSupply, amount); err != nil {
		return fmt.Errorf("total supply: %w", err)
	}
	bal, err := state.GetCoinBalance(coin, to)
	if err != nil {
		return err
	}
	if bal, err = core.Add(bal, amount); err != nil {
		return err
	}
	if err := state.SetCoinBalance(coin, to, bal); err != nil {
		return err
	}
	return state.SetCoinInfo(info)
}

// Transfer moves amount from from to to.
func Transfer(ctx *vm.Context, coin, from, to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return fmt.Errorf("transfer to zero address: %w", core.ErrInvalidInput)
	}
	if _, err := Info(ctx.State, coin); err != nil {
		return err
	}
	if amount == nil || amount.IsZero() || from == to {
		return nil
	}
	src, err := ctx.State.GetCoinBalance(coin, from)
	if err != nil {
		return err
	}
	if src, err = core.Sub(src, amount); err != nil {
		return fmt.Errorf("coin %s holder %s: %w", coin.Hex(), from.Hex(), err)
	}
	dst, err := ctx.State.GetCoinBalance(coin, to)
	if err != nil {
		return err
	}
	if dst, err = core.Add(dst, amount); err != nil {
		return err
	}
	if err := ctx.State.SetCoinBalance(coin, from, src); err != nil {
		return err
	}
	if err := ctx.State.SetCoinBalance(coin, to, dst); err != nil {
		return err
	}
	ctx.Emit(events.EventCoinTransfer, map[string]any{"coin": coin, "from": from, "to": to, "amount": amount})
	return nil
}

// Approve replaces spender's allowance over owner's balance.
func Approve(ctx *vm.Context, coin, owner, spender common.Address, amount *uint256.Int) error {
	if spender == (common.Address{}) {
		return fmt.Errorf("approve zero address: %w", core.ErrInvalidInput)
	}
	if _, err := Info(ctx.State, coin); err != nil {
		return err
	}
	if err := ctx.State.SetAllowance(coin, owner, spender, core.Amount(amount)); err != nil {
		return err
	}
	ctx.Emit(events.EventCoinApproval, map[string]any{"coin": coin, "owner": owner, "spender": spender, "amount": core.Amount(amount)})
	return nil
}

// TransferFrom moves amount from owner to to, spending spender's allowance.
func TransferFrom(ctx *vm.Context, coin, spender, owner, to common.Address, amount *uint256.Int) error {
	allowed, err := ctx.State.GetAllowance(coin, owner, spender)
	if err != nil {
		return err
	}
	left, err := core.Sub(allowed, amount)
	if err != nil {
		return fmt.Errorf("%w: allowance of %s for %s is %s, need %s",
			core.ErrNotApproved, spender.Hex(), owner.Hex(), allowed.Dec(), core.Amount(amount).Dec())
	}
	if err := ctx.State.SetAllowance(coin, owner, spender, left); err != nil {
		return err
	}
	return Transfer(ctx, coin, owner, to, amount)
}

func handleMint(ctx *vm.Context, payload json.RawMessage) error {
	var p core.CoinMintPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode coin_mint payload: %w", err)
	}
	coin := ctx.Target()
	if err := access.Authorize(ctx.State, coin, core.RoleMinter, ctx.Caller()); err != nil {
		return err
	}
	if p.To == (common.Address{}) || p.Amount == nil || p.Amount.IsZero() {
		return fmt.Errorf("mint needs a recipient and a positive amount: %w", core.ErrInvalidInput)
	}
	if err := Issue(ctx.State, coin, p.To, p.Amount); err != nil {
		return err
	}
	ctx.Emit(events.EventCoinMinted, map[string]any{"coin": coin, "to": p.To, "amount": p.Amount})
	return nil
}

func handleTransfer(ctx *vm.Context, payload json.RawMessage) error {
	var p core.CoinTransferPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode coin_transfer payload: %w", err)
	}
	return Transfer(ctx, ctx.Target(), ctx.Caller(), p.To, p.Amount)
}

func handleApprove(ctx *vm.Context, payload json.RawMessage) error {
	var p core.CoinApprovePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode coin_approve payload: %w", err)
	}
	return Approve(ctx, ctx.Target(), ctx.Caller(), p.Spender, p.Amount)
}

func handleTransferFrom(ctx *vm.Context, payload json.RawMessage) error {
	var p core.CoinTransferFromPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode coin_transfer_from payload: %w", err)
	}
	return TransferFrom(ctx, ctx.Target(), ctx.Caller(), p.Owner, p.To, p.Amount)
}
