package market

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/tolelom/tolmarket/core"
	"github.com/tolelom/tolmarket/events"
	"github.com/tolelom/tolmarket/vm"
	"github.com/tolelom/tolmarket/vm/modules/nft"
	"github.com/tolelom/tolmarket/vm/modules/vault"
)

// GetAuction loads an auction by id.
func GetAuction(state core.State, id uint64) (*core.Auction, error) {
	a, err := state.GetAuction(id)
	if err != nil {
		return nil, fmt.Errorf("auction %d: %w", id, err)
	}
	return a, nil
}

// PendingReturn is the refund bidder can withdraw from auction id.
func PendingReturn(state core.State, id uint64, bidder common.Address) (*uint256.Int, error) {
	return state.GetPendingReturn(id, bidder)
}

func auctionOf(ctx *vm.Context, id uint64) (*core.Auction, error) {
	a, err := GetAuction(ctx.State, id)
	if err != nil {
		return nil, err
	}
	if a.Market != ctx.Target() {
		return nil, fmt.Errorf("auction %d belongs to market %s: %w", id, a.Market.Hex(), core.ErrInvalidInput)
	}
	return a, nil
}

func handleStartAuction(ctx *vm.Context, payload json.RawMessage) error {
	var p core.StartAuctionPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode start_auction payload: %w", err)
	}
	if p.Duration <= 0 || p.Duration > math.MaxInt64-ctx.Now() {
		return fmt.Errorf("duration %d out of range: %w", p.Duration, core.ErrInvalidInput)
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
	a := &core.Auction{
		ID:           id,
		Market:       e.cfg.Address,
		Seller:       seller,
		Asset:        p.Asset,
		ReservePrice: core.Amount(p.ReservePrice),
		EndTime:      ctx.Now() + p.Duration,
		HighestBid:   core.Zero(),
		Status:       core.AuctionActive,
		Received:     core.Zero(),
		PaidOut:      core.Zero(),
		CreatedAt:    ctx.Now(),
	}
	if err := ctx.State.SetAuction(a); err != nil {
		return err
	}
	if err := vault.Hold(ctx, e.cfg.Pool, e.cfg.Address, p.Asset, seller); err != nil {
		return fmt.Errorf("escrow asset: %w", err)
	}
	ctx.Emit(events.EventStartAuction, map[string]any{
		"market": a.Market, "auction_id": id, "seller": seller,
		"collection": p.Asset.Collection, "token_id": p.Asset.TokenID,
		"reserve_price": a.ReservePrice, "end_time": a.EndTime,
	})
	return nil
}

// handleBid accepts a bid strictly above both the reserve and the current
// highest bid. A bidder holding a refund from this auction gets it paid out
// in the same call, and the displaced highest bid becomes a refund owed to
// its bidder.
func handleBid(ctx *vm.Context, payload json.RawMessage) error {
	var p core.ListingPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode bid payload: %w", err)
	}
	e, err := load(ctx, ctx.Target())
	if err != nil {
		return err
	}
	a, err := auctionOf(ctx, p.ID)
	if err != nil {
		return err
	}
	if a.Status != core.AuctionActive || ctx.Now() >= a.EndTime {
		return fmt.Errorf("%w: auction %d closed at %d", core.ErrAuctionEnded, a.ID, a.EndTime)
	}
	amount, err := e.cur.offered(ctx, p.Amount)
	if err != nil {
		return err
	}
	floor := a.ReservePrice
	if a.HighestBid.Gt(floor) {
		floor = a.HighestBid
	}
	if !amount.Gt(floor) {
		return fmt.Errorf("%w: bid %s must exceed %s", core.ErrBidTooLow, amount.Dec(), floor.Dec())
	}
	if err := e.cur.collect(ctx, e.cfg.Address, amount); err != nil {
		return fmt.Errorf("collect bid: %w", err)
	}

	bidder := ctx.Caller()
	if a.Received, err = core.Add(a.Received, amount); err != nil {
		return err
	}
	reclaim, err := ctx.State.GetPendingReturn(a.ID, bidder)
	if err != nil {
		return err
	}
	if !reclaim.IsZero() {
		if err := ctx.State.SetPendingReturn(a.ID, bidder, core.Zero()); err != nil {
			return err
		}
		if a.PaidOut, err = core.Add(a.PaidOut, reclaim); err != nil {
			return err
		}
	}
	if a.HasBidder() {
		if err := credit(ctx.State, a.ID, a.HighestBidder, a.HighestBid); err != nil {
			return err
		}
	}
	prevBidder, prevBid := a.HighestBidder, a.HighestBid
	a.HighestBidder = bidder
	a.HighestBid = amount
	if err := ctx.State.SetAuction(a); err != nil {
		return err
	}

	if err := e.cur.pay(ctx, e.cfg.Address, bidder, reclaim); err != nil {
		return fmt.Errorf("auto-reclaim refund: %w", err)
	}
	ctx.Emit(events.EventBid, map[string]any{
		"market": a.Market, "auction_id": a.ID, "bidder": bidder, "amount": amount,
		"reclaimed": reclaim, "outbid": prevBidder, "outbid_amount": prevBid,
	})
	return nil
}

// credit adds amount to bidder's refund balance for auction id.
func credit(state core.State, id uint64, bidder common.Address, amount *uint256.Int) error {
	owed, err := state.GetPendingReturn(id, bidder)
	if err != nil {
		return err
	}
	if owed, err = core.Add(owed, amount); err != nil {
		return err
	}
	return state.SetPendingReturn(id, bidder, owed)
}

// handleEndAuction settles an auction whose deadline has passed. Anyone may
// call it.
func handleEndAuction(ctx *vm.Context, payload json.RawMessage) error {
	var p core.ListingPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode end_auction payload: %w", err)
	}
	e, err := load(ctx, ctx.Target())
	if err != nil {
		return err
	}
	a, err := auctionOf(ctx, p.ID)
	if err != nil {
		return err
	}
	if a.Status != core.AuctionActive {
		return fmt.Errorf("%w: auction %d is %s", core.ErrAlreadySettled, a.ID, a.Status)
	}
	if ctx.Now() < a.EndTime {
		return fmt.Errorf("%w: auction %d ends at %d, now %d", core.ErrAuctionNotEnded, a.ID, a.EndTime, ctx.Now())
	}

	a.Status = core.AuctionEnded
	winner := a.Seller
	if a.HasBidder() {
		winner = a.HighestBidder
		if a.PaidOut, err = core.Add(a.PaidOut, a.HighestBid); err != nil {
			return err
		}
	}
	if err := ctx.State.SetAuction(a); err != nil {
		return err
	}

	fee := core.Zero()
	if a.HasBidder() {
		if fee, err = e.settle(ctx, a.Seller, a.HighestBid, e.cfg.AuctionFeesRate); err != nil {
			return err
		}
	}
	if err := e.release(ctx, a.Asset, winner); err != nil {
		return fmt.Errorf("release asset: %w", err)
	}
	ctx.Emit(events.EventAuctionEnd, map[string]any{
		"market": a.Market, "auction_id": a.ID, "seller": a.Seller, "winner": winner,
		"amount": a.HighestBid, "fee": fee,
	})
	return nil
}

// handleBidderWithdraw pays out the caller's refund balance. An empty
// balance is an error so a no-op is never mistaken for a payout.
func handleBidderWithdraw(ctx *vm.Context, payload json.RawMessage) error {
	var p core.ListingPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode bidder_withdraw payload: %w", err)
	}
	e, err := load(ctx, ctx.Target())
	if err != nil {
		return err
	}
	a, err := auctionOf(ctx, p.ID)
	if err != nil {
		return err
	}
	bidder := ctx.Caller()
	owed, err := ctx.State.GetPendingReturn(a.ID, bidder)
	if err != nil {
		return err
	}
	if owed.IsZero() {
		return fmt.Errorf("%w: auction %d owes %s nothing", core.ErrNothingToWithdraw, a.ID, bidder.Hex())
	}

	if err := ctx.State.SetPendingReturn(a.ID, bidder, core.Zero()); err != nil {
		return err
	}
	if a.PaidOut, err = core.Add(a.PaidOut, owed); err != nil {
		return err
	}
	if err := ctx.State.SetAuction(a); err != nil {
		return err
	}
	if err := e.cur.pay(ctx, e.cfg.Address, bidder, owed); err != nil {
		return fmt.Errorf("pay refund: %w", err)
	}
	ctx.Emit(events.EventWithdraw, map[string]any{"market": a.Market, "auction_id": a.ID, "bidder": bidder, "amount": owed})
	return nil
}
