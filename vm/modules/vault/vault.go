// Package vault is the escrow custody point listings park assets in.
// Only MARKET principals of a vault may move assets through it.
package vault

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/tolelom/tolmarket/core"
	"github.com/tolelom/tolmarket/crypto"
	"github.com/tolelom/tolmarket/events"
	"github.com/tolelom/tolmarket/vm"
	"github.com/tolelom/tolmarket/vm/modules/access"
	"github.com/tolelom/tolmarket/vm/modules/nft"
)

// Address is the default escrow vault created at genesis.
var Address = crypto.ModuleAddress("vault")

func init() {
	vm.Register(core.TxVaultHold, handleHold)
	vm.Register(core.TxVaultRelease, handleRelease)
}

// Register stores a vault record.
func Register(state core.State, v *core.Vault) error {
	if v.Address == (common.Address{}) {
		return fmt.Errorf("vault address required: %w", core.ErrInvalidInput)
	}
	return state.SetVault(v)
}

// Exists reports whether addr is a registered vault.
func Exists(state core.State, addr common.Address) (bool, error) {
	_, err := state.GetVault(addr)
	if errors.Is(err, core.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Held returns the escrow record for ref, or ErrNotEscrowed.
func Held(state core.State, ref core.AssetRef) (*core.Escrow, error) {
	e, err := state.GetEscrow(ref)
	if errors.Is(err, core.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", core.ErrNotEscrowed, ref)
	}
	return e, err
}

// Hold moves ref from from into vaultAddr on behalf of operator, which must
// hold MARKET on the vault and be allowed by the registry to move the token.
func Hold(ctx *vm.Context, vaultAddr, operator common.Address, ref core.AssetRef, from common.Address) error {
	if err := authorize(ctx.State, vaultAddr, operator); err != nil {
		return err
	}
	owner, err := nft.OwnerOf(ctx.State, ref)
	if err != nil {
		return err
	}
	if owner != from {
		return fmt.Errorf("%w: %s does not own %s", core.ErrNotOwner, from.Hex(), ref)
	}
	if _, err := ctx.State.GetEscrow(ref); err == nil {
		return fmt.Errorf("%w: %s", core.ErrAlreadyEscrowed, ref)
	} else if !errors.Is(err, core.ErrNotFound) {
		return err
	}

	if err := ctx.State.SetEscrow(&core.Escrow{
		Vault:     vaultAddr,
		Asset:     ref,
		Depositor: from,
		Operator:  operator,
		HeldAt:    ctx.Now(),
	}); err != nil {
		return err
	}
	if err := nft.Transfer(ctx, operator, ref, from, vaultAddr); err != nil {
		return err
	}
	ctx.Emit(events.EventEscrowHeld, map[string]any{
		"vault": vaultAddr, "collection": ref.Collection, "token_id": ref.TokenID, "from": from, "operator": operator,
	})
	return nil
}

// Release hands ref held by vaultAddr to to, on behalf of a MARKET operator.
func Release(ctx *vm.Context, vaultAddr, operator common.Address, ref core.AssetRef, to common.Address) error {
	if err := authorize(ctx.State, vaultAddr, operator); err != nil {
		return err
	}
	e, err := Held(ctx.State, ref)
	if err != nil {
		return err
	}
	if e.Vault != vaultAddr {
		return fmt.Errorf("%w: %s is held by vault %s", core.ErrNotEscrowed, ref, e.Vault.Hex())
	}

	if err := ctx.State.DeleteEscrow(ref); err != nil {
		return err
	}
	if err := nft.Transfer(ctx, vaultAddr, ref, vaultAddr, to); err != nil {
		return err
	}
	ctx.Emit(events.EventEscrowReleased, map[string]any{
		"vault": vaultAddr, "collection": ref.Collection, "token_id": ref.TokenID, "to": to, "operator": operator,
	})
	return nil
}

func authorize(state core.State, vaultAddr, operator common.Address) error {
	ok, err := Exists(state, vaultAddr)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("vault %s: %w", vaultAddr.Hex(), core.ErrNotFound)
	}
	return access.Authorize(state, vaultAddr, core.RoleMarket, operator)
}

func decode(payload json.RawMessage, name string) (core.VaultPayload, error) {
	var p core.VaultPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return p, fmt.Errorf("decode %s payload: %w", name, err)
	}
	return p, nil
}

func handleHold(ctx *vm.Context, payload json.RawMessage) error {
	p, err := decode(payload, "vault_hold")
	if err != nil {
		return err
	}
	return Hold(ctx, ctx.Target(), ctx.Caller(), p.Asset, p.Account)
}

func handleRelease(ctx *vm.Context, payload json.RawMessage) error {
	p, err := decode(payload, "vault_release")
	if err != nil {
		return err
	}
	return Release(ctx, ctx.Target(), ctx.Caller(), p.Asset, p.Account)
}
