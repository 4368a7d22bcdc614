package market

import (
	"encoding/json"
	"fmt"

	"github.com/tolelom/tolmarket/core"
	"github.com/tolelom/tolmarket/events"
	"github.com/tolelom/tolmarket/vm"
	"github.com/tolelom/tolmarket/vm/modules/nft"
	"github.com/tolelom/tolmarket/vm/modules/vault"
)

// GetOrder loads an order by id.
func GetOrder(state core.State, id uint64) (*core.Order, error) {
	o, err := state.GetOrder(id)
	if err != nil {
		return nil, fmt.Errorf("order %d: %w", id, err)
	}
	return o, nil
}

// orderOf loads an order and checks it belongs to the addressed engine.
func orderOf(ctx *vm.Context, id uint64) (*core.Order, error) {
	o, err := GetOrder(ctx.State, id)
	if err != nil {
		return nil, err
	}
	if o.Market != ctx.Target() {
		return nil, fmt.Errorf("order %d belongs to market %s: %w", id, o.Market.Hex(), core.ErrInvalidInput)
	}
	return o, nil
}

func handleCreateOrder(ctx *vm.Context, payload json.RawMessage) error {
	var p core.CreateOrderPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode create_order payload: %w", err)
	}
	if p.Price == nil || p.Price.IsZero() {
		return fmt.Errorf("price must be > 0: %w", core.ErrInvalidInput)
	}
	e, err := load(ctx, ctx.Target())
	if err != nil {
		return err
	}
	seller := ctx.Caller()
	owner, err := nft.OwnerOf(ctx.State, p.Asset)
	if err != nil {
		return err
	}
	if owner != seller {
		return fmt.Errorf("%w: %s does not own %s", core.ErrNotOwner, seller.Hex(), p.Asset)
	}

	id, err := ctx.State.NextSequence(listingSequence)
	if err != nil {
		return err
	}
	o := &core.Order{
		ID:        id,
		Market:    e.cfg.Address,
		Seller:    seller,
		Asset:     p.Asset,
		Price:     p.Price,
		Status:    core.OrderOpen,
		CreatedAt: ctx.Now(),
	}
	if err := ctx.State.SetOrder(o); err != nil {
		return err
	}
	if err := vault.Hold(ctx, e.cfg.Pool, e.cfg.Address, p.Asset, seller); err != nil {
		return fmt.Errorf("escrow asset: %w", err)
	}
	ctx.Emit(events.EventOrderCreated, map[string]any{
		"market": o.Market, "order_id": id, "seller": seller,
		"collection": p.Asset.Collection, "token_id": p.Asset.TokenID, "price": p.Price,
	})
	return nil
}

// Payment must equal the price exactly.
func handleBuyOrder(ctx *vm.Context, payload json.RawMessage) error {
	var p core.ListingPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode buy_order payload: %w", err)
	}
	e, err := load(ctx, ctx.Target())
	if err != nil {
		return err
	}
	o, err := orderOf(ctx, p.ID)
	if err != nil {
		return err
	}
	if o.Status != core.OrderOpen {
		return fmt.Errorf("%w: order %d is %s", core.ErrAlreadySettled, o.ID, o.Status)
	}
	paid, err := e.cur.offered(ctx, p.Amount)
	if err != nil {
		return err
	}
	if !paid.Eq(o.Price) {
		return fmt.Errorf("%w: order %d costs %s, got %s", core.ErrInsufficientPayment, o.ID, o.Price.Dec(), paid.Dec())
	}
	if err := e.cur.collect(ctx, e.cfg.Address, paid); err != nil {
		return fmt.Errorf("collect payment: %w", err)
	}

	buyer := ctx.Caller()
	o.Status = core.OrderSold
	o.Buyer = buyer
	o.SettledAt = ctx.Now()
	if err := ctx.State.SetOrder(o); err != nil {
		return err
	}
	fee, err := e.settle(ctx, o.Seller, o.Price, e.cfg.FeesRate)
	if err != nil {
		return err
	}
	if err := e.release(ctx, o.Asset, buyer); err != nil {
		return fmt.Errorf("release asset: %w", err)
	}
	ctx.Emit(events.EventOrderSuccessful, map[string]any{
		"market": o.Market, "order_id": o.ID, "seller": o.Seller, "buyer": buyer, "price": o.Price, "fee": fee,
	})
	return nil
}

func handleCancelOrder(ctx *vm.Context, payload json.RawMessage) error {
	var p core.ListingPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode cancel_order payload: %w", err)
	}
	e, err := load(ctx, ctx.Target())
	if err != nil {
		return err
	}
	o, err := orderOf(ctx, p.ID)
	if err != nil {
		return err
	}
	if o.Seller != ctx.Caller() {
		return fmt.Errorf("%w: only the seller can cancel order %d", core.ErrUnauthorized, o.ID)
	}
	if o.Status != core.OrderOpen {
		return fmt.Errorf("%w: order %d is %s", core.ErrAlreadySettled, o.ID, o.Status)
	}

	o.Status = core.OrderCancelled
	o.SettledAt = ctx.Now()
	if err := ctx.State.SetOrder(o); err != nil {
		return err
	}
	if err := e.release(ctx, o.Asset, o.Seller); err != nil {
		return fmt.Errorf("release asset: %w", err)
	}
	ctx.Emit(events.EventOrderCanceled, map[string]any{"market": o.Market, "order_id": o.ID, "seller": o.Seller})
	return nil
}
