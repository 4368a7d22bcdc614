package nft

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/tolelom/tolmarket/core"
	"github.com/tolelom/tolmarket/events"
	"github.com/tolelom/tolmarket/vm"
	"github.com/tolelom/tolmarket/vm/modules/access"
)

func init() {
	vm.RegisterPayable(core.TxRedeemVoucher, handleRedeemVoucher)
}

// VerifyVoucher recovers the voucher signer for collection and checks it
// holds MINTER there. Any failure is ErrInvalidSignature.
func VerifyVoucher(state core.State, chainID uint64, collection common.Address, v *core.Voucher) (common.Address, error) {
	signer, err := v.Signer(chainID, collection)
	if err != nil {
		return common.Address{}, err
	}
	ok, err := access.HasRole(state, collection, core.RoleMinter, signer)
	if err != nil {
		return common.Address{}, err
	}
	if !ok {
		return common.Address{}, fmt.Errorf("%w: signer %s is not a minter", core.ErrInvalidSignature, signer.Hex())
	}
	return signer, nil
}

// Redeem mints the voucher's token to the caller against the attached
// payment, which the executor has already moved to the collection account.
// The royalty share goes to the signer and the rest to the collection's
// admin wallet.
func Redeem(ctx *vm.Context, collection common.Address, v *core.Voucher) (*core.Token, error) {
	c, err := GetCollection(ctx.State, collection)
	if err != nil {
		return nil, err
	}
	signer, err := VerifyVoucher(ctx.State, ctx.Tx.ChainID, collection, v)
	if err != nil {
		return nil, err
	}
	paid := ctx.Value()
	if paid.Lt(core.Amount(v.MinPrice)) {
		return nil, fmt.Errorf("%w: paid %s, voucher requires %s", core.ErrInsufficientPayment, paid.Dec(), core.Amount(v.MinPrice).Dec())
	}
	used, err := ctx.State.IsVoucherRedeemed(collection, v.Code)
	if err != nil {
		return nil, err
	}
	if used {
		return nil, fmt.Errorf("%w: %s", core.ErrAlreadyRedeemed, v.Code.Hex())
	}
	if !core.ValidRate(v.RoyaltyFee) {
		return nil, fmt.Errorf("royalty fee %d bps out of range: %w", v.RoyaltyFee, core.ErrInvalidInput)
	}

	if err := ctx.State.MarkVoucherRedeemed(collection, v.Code); err != nil {
		return nil, err
	}
	tok, err := Mint(ctx, collection, ctx.Caller(), v.URI)
	if err != nil {
		return nil, err
	}
	tok.RoyaltyReceiver = signer
	tok.RoyaltyBps = v.RoyaltyFee
	if err := ctx.State.SetToken(tok); err != nil {
		return nil, err
	}

	royalty := core.Share(paid, v.RoyaltyFee)
	rest, err := core.Sub(paid, royalty)
	if err != nil {
		return nil, err
	}
	if err := ctx.TransferValue(collection, signer, royalty); err != nil {
		return nil, fmt.Errorf("pay royalty: %w", err)
	}
	if err := ctx.TransferValue(collection, c.AdminWallet, rest); err != nil {
		return nil, fmt.Errorf("pay admin wallet: %w", err)
	}

	ctx.Emit(events.EventVoucherRedeemed, map[string]any{
		"collection":   collection,
		"token_id":     tok.ID,
		"voucher_code": v.Code,
		"redeemer":     ctx.Caller(),
		"signer":       signer,
		"price":        paid,
		"royalty":      royalty,
	})
	return tok, nil
}

// RoyaltyInfo returns who is owed a royalty on a sale of ref at salePrice,
// and how much. Tokens minted without a voucher carry no royalty.
func RoyaltyInfo(state core.State, ref core.AssetRef, salePrice *uint256.Int) (common.Address, *uint256.Int, error) {
	tok, err := GetToken(state, ref)
	if err != nil {
		return common.Address{}, nil, err
	}
	return tok.RoyaltyReceiver, core.Share(salePrice, tok.RoyaltyBps), nil
}

func handleRedeemVoucher(ctx *vm.Context, payload json.RawMessage) error {
	var p core.RedeemVoucherPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode redeem_voucher payload: %w", err)
	}
	_, err := Redeem(ctx, ctx.Target(), &p.Voucher)
	return err
}
