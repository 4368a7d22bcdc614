package events

import (
	"sync"

	"go.uber.org/zap"
)

// EventType labels what happened.
type EventType string

const (
	EventBlockCommit EventType = "block_commit"
	EventTxExecuted  EventType = "tx_executed"
	EventTxFailed    EventType = "tx_failed"
	EventTransfer    EventType = "transfer" // native value

	EventRoleGranted EventType = "role_granted"
	EventRoleRevoked EventType = "role_revoked"

	EventCollectionCreated  EventType = "collection_created"
	EventTokenMinted        EventType = "token_minted"
	EventTokenTransfer      EventType = "token_transfer"
	EventTokenApproval      EventType = "token_approval"
	EventApprovalForAll     EventType = "approval_for_all"
	EventBaseURIUpdated     EventType = "base_uri_updated"
	EventCollectionWallet   EventType = "collection_admin_wallet_updated"
	EventVoucherRedeemed    EventType = "voucher_redeemed"
	EventEscrowHeld         EventType = "escrow_held"
	EventEscrowReleased     EventType = "escrow_released"
	EventCoinMinted         EventType = "coin_minted"
	EventCoinTransfer       EventType = "coin_transfer"
	EventCoinApproval       EventType = "coin_approval"
	EventOrderCreated       EventType = "order_created"
	EventOrderSuccessful    EventType = "order_successful"
	EventOrderCanceled      EventType = "order_canceled"
	EventStartAuction       EventType = "start_auction"
	EventBid                EventType = "bid"
	EventAuctionEnd         EventType = "end"
	EventWithdraw           EventType = "withdraw"
	EventFeesRateUpdated    EventType = "fees_rate_updated"
	EventAuctionFeesUpdated EventType = "auction_fees_rate_updated"
	EventAdminWalletUpdated EventType = "admin_wallet_updated"
	EventNFTPoolUpdated     EventType = "nft_pool_updated"
)

// Event carries a typed payload emitted after a state change.
type Event struct {
	Type        EventType      `json:"type"`
	TxID        string         `json:"tx_id"`
	BlockHeight int64          `json:"block_height"`
	Data        map[string]any `json:"data"`
}

// Handler is a callback invoked for matching events.
type Handler func(Event)

// Emitter is a simple pub/sub broker. Subscribe before Emit.
type Emitter struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	all      []Handler
	logger   *zap.Logger
}

// NewEmitter creates an Emitter with no subscribers. A nil logger discards
// handler panics silently.
func NewEmitter(logger *zap.Logger) *Emitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Emitter{handlers: make(map[EventType][]Handler), logger: logger}
}

// Subscribe registers h to be called whenever typ is emitted.
func (e *Emitter) Subscribe(typ EventType, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[typ] = append(e.handlers[typ], h)
}

// SubscribeAll registers h for every event type.
func (e *Emitter) SubscribeAll(h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.all = append(e.all, h)
}

// Emit delivers ev to all subscribers for ev.Type synchronously.
// Each handler is guarded by panic recovery so a misbehaving subscriber
// cannot halt block production.
func (e *Emitter) Emit(ev Event) {
	e.mu.RLock()
	handlers := make([]Handler, 0, len(e.handlers[ev.Type])+len(e.all))
	handlers = append(handlers, e.handlers[ev.Type]...)
	handlers = append(handlers, e.all...)
	e.mu.RUnlock()
	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					e.logger.Error("event handler panicked",
						zap.String("event", string(ev.Type)),
						zap.Any("panic", r))
				}
			}()
			h(ev)
		}()
	}
}
