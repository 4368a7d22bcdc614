package nft

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/tolelom/tolmarket/core"
	"github.com/tolelom/tolmarket/events"
	"github.com/tolelom/tolmarket/vm"
)

func init() {
	vm.Register(core.TxTransferToken, handleTransferToken)
	vm.Register(core.TxApproveToken, handleApproveToken)
	vm.Register(core.TxSetApprovalForAll, handleSetApprovalForAll)
}

// GetToken loads a token, wrapping ErrNotFound with its reference.
func GetToken(state core.State, ref core.AssetRef) (*core.Token, error) {
	tok, err := state.GetToken(ref)
	if err != nil {
		return nil, fmt.Errorf("token %s: %w", ref, err)
	}
	return tok, nil
}

// OwnerOf returns the current owner of ref.
func OwnerOf(state core.State, ref core.AssetRef) (common.Address, error) {
	tok, err := GetToken(state, ref)
	if err != nil {
		return common.Address{}, err
	}
	return tok.Owner, nil
}

// CanOperate reports whether operator may move tok: it is the owner, the
// token's approved address, or an operator approved for all of the owner's
// tokens in the collection.
func CanOperate(state core.State, tok *core.Token, operator common.Address) (bool, error) {
	if operator == tok.Owner || (tok.Approved != (common.Address{}) && operator == tok.Approved) {
		return true, nil
	}
	return state.IsApprovedForAll(tok.Collection, tok.Owner, operator)
}

// Transfer moves ref from from to to on behalf of operator. from must be
// the current owner (ErrNotOwner) and operator must be allowed to move the
// token (ErrNotApproved). The single-token approval is cleared.
func Transfer(ctx *vm.Context, operator common.Address, ref core.AssetRef, from, to common.Address) error {
	if to == (common.Address{}) {
		return fmt.Errorf("transfer to zero address: %w", core.ErrInvalidInput)
	}
	tok, err := GetToken(ctx.State, ref)
	if err != nil {
		return err
	}
	if tok.Owner != from {
		return fmt.Errorf("%w: %s does not own %s", core.ErrNotOwner, from.Hex(), ref)
	}
	ok, err := CanOperate(ctx.State, tok, operator)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s may not move %s", core.ErrNotApproved, operator.Hex(), ref)
	}
	tok.Owner = to
	tok.Approved = common.Address{}
	if err := ctx.State.SetToken(tok); err != nil {
		return err
	}
	ctx.Emit(events.EventTokenTransfer, map[string]any{
		"collection": ref.Collection, "token_id": ref.TokenID, "from": from, "to": to,
	})
	return nil
}

func handleTransferToken(ctx *vm.Context, payload json.RawMessage) error {
	var p core.TransferTokenPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode transfer_token payload: %w", err)
	}
	ref := core.AssetRef{Collection: ctx.Target(), TokenID: p.TokenID}
	return Transfer(ctx, ctx.Caller(), ref, p.From, p.To)
}

func handleApproveToken(ctx *vm.Context, payload json.RawMessage) error {
	var p core.ApproveTokenPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode approve_token payload: %w", err)
	}
	ref := core.AssetRef{Collection: ctx.Target(), TokenID: p.TokenID}
	tok, err := GetToken(ctx.State, ref)
	if err != nil {
		return err
	}
	if p.Approved == tok.Owner {
		return fmt.Errorf("approval to current owner: %w", core.ErrInvalidInput)
	}
	caller := ctx.Caller()
	if caller != tok.Owner {
		all, err := ctx.State.IsApprovedForAll(tok.Collection, tok.Owner, caller)
		if err != nil {
			return err
		}
		if !all {
			return fmt.Errorf("%w: %s is neither owner nor operator of %s", core.ErrNotApproved, caller.Hex(), ref)
		}
	}
	tok.Approved = p.Approved
	if err := ctx.State.SetToken(tok); err != nil {
		return err
	}
	ctx.Emit(events.EventTokenApproval, map[string]any{
		"collection": ref.Collection, "token_id": ref.TokenID, "owner": tok.Owner, "approved": p.Approved,
	})
	return nil
}

func handleSetApprovalForAll(ctx *vm.Context, payload json.RawMessage) error {
	var p core.SetApprovalForAllPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode set_approval_for_all payload: %w", err)
	}
	collection := ctx.Target()
	if _, err := GetCollection(ctx.State, collection); err != nil {
		return err
	}
	owner := ctx.Caller()
	if p.Operator == owner || p.Operator == (common.Address{}) {
		return fmt.Errorf("invalid operator %s: %w", p.Operator.Hex(), core.ErrInvalidInput)
	}
	if err := ctx.State.SetApprovalForAll(collection, owner, p.Operator, p.Approved); err != nil {
		return err
	}
	ctx.Emit(events.EventApprovalForAll, map[string]any{
		"collection": collection, "owner": owner, "operator": p.Operator, "approved": p.Approved,
	})
	return nil
}
