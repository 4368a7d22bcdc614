package core

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Account holds a participant's native balance and replay-protection nonce.
type Account struct {
	Address common.Address `json:"address"`
	Balance *uint256.Int   `json:"balance"`
	Nonce   uint64         `json:"nonce"`
}

// Role names a capability granted within one component's scope.
type Role string

const (
	RoleAdmin  Role = "ADMIN"
	RoleMinter Role = "MINTER"
	RoleMarket Role = "MARKET"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleMinter, RoleMarket:
		return true
	}
	return false
}

// AssetRef identifies one non-fungible token: the collection that issued it
// and its sequential id within that collection.
type AssetRef struct {
	Collection common.Address `json:"collection"`
	TokenID    uint64         `json:"token_id"`
}

func (a AssetRef) String() string {
	return fmt.Sprintf("%s/%d", a.Collection.Hex(), a.TokenID)
}

// Collection is one asset registry. Its address is the verifying contract
// of every voucher it accepts.
type Collection struct {
	Address     common.Address `json:"address"`
	Name        string         `json:"name"`
	Symbol      string         `json:"symbol"`
	BaseURI     string         `json:"base_uri"`
	AdminWallet common.Address `json:"admin_wallet"` // receives voucher proceeds net of royalty
	Creator     common.Address `json:"creator"`
	NextTokenID uint64         `json:"next_token_id"`
	CreatedAt   int64          `json:"created_at"`
}

// Token is a minted asset. Tokens are never destroyed.
type Token struct {
	Collection      common.Address `json:"collection"`
	ID              uint64         `json:"id"`
	Owner           common.Address `json:"owner"`
	Approved        common.Address `json:"approved,omitempty"` // single-token approval, cleared on transfer
	URI             string         `json:"uri"`
	RoyaltyReceiver common.Address `json:"royalty_receiver,omitempty"`
	RoyaltyBps      uint16         `json:"royalty_bps,omitempty"`
	MintedAt        int64          `json:"minted_at"`
}

// Ref returns the token's asset reference.
func (t *Token) Ref() AssetRef {
	return AssetRef{Collection: t.Collection, TokenID: t.ID}
}

// Vault is a registered escrow custody point.
type Vault struct {
	Address common.Address `json:"address"`
	Name    string         `json:"name"`
}

// Escrow records that a vault holds an asset on behalf of a listing.
type Escrow struct {
	Vault     common.Address `json:"vault"`
	Asset     AssetRef       `json:"asset"`
	Depositor common.Address `json:"depositor"`
	Operator  common.Address `json:"operator"` // the MARKET principal that placed it
	HeldAt    int64          `json:"held_at"`
}

// Currency selects how a market engine takes and pays out money.
type Currency string

const (
	CurrencyNative Currency = "native"
	CurrencyCoin   Currency = "coin"
)

// MarketConfig is the fee schedule and wiring of one market engine.
// Changes apply to subsequent settlements only.
type MarketConfig struct {
	Address         common.Address `json:"address"`
	Currency        Currency       `json:"currency"`
	Coin            common.Address `json:"coin,omitempty"` // ledger used when Currency is coin
	FeesRate        uint16         `json:"fees_rate"`
	AuctionFeesRate uint16         `json:"auction_fees_rate"`
	AdminWallet     common.Address `json:"admin_wallet"`
	Pool            common.Address `json:"pool"`
}

// OrderStatus is the state of a fixed-price order.
type OrderStatus string

const (
	OrderOpen      OrderStatus = "open"
	OrderSold      OrderStatus = "sold"
	OrderCancelled OrderStatus = "cancelled"
)

// Order is a fixed-price listing. Sold and Cancelled are terminal.
type Order struct {
	ID        uint64         `json:"id"`
	Market    common.Address `json:"market"`
	Seller    common.Address `json:"seller"`
	Asset     AssetRef       `json:"asset"`
	Price     *uint256.Int   `json:"price"`
	Status    OrderStatus    `json:"status"`
	Buyer     common.Address `json:"buyer,omitempty"`
	CreatedAt int64          `json:"created_at"`
	SettledAt int64          `json:"settled_at,omitempty"`
}

// AuctionStatus is the state of a timed auction.
type AuctionStatus string

const (
	AuctionActive AuctionStatus = "active"
	AuctionEnded  AuctionStatus = "ended"
)

// Auction is a timed English auction. Received and PaidOut are the running
// totals of value taken in by bids and paid back out. While the auction is
// active, pending refunds plus the highest bid equal Received - PaidOut;
// ending it pays the highest bid out to the seller and fee wallet.
type Auction struct {
	ID            uint64         `json:"id"`
	Market        common.Address `json:"market"`
	Seller        common.Address `json:"seller"`
	Asset         AssetRef       `json:"asset"`
	ReservePrice  *uint256.Int   `json:"reserve_price"`
	EndTime       int64          `json:"end_time"`
	HighestBid    *uint256.Int   `json:"highest_bid"`
	HighestBidder common.Address `json:"highest_bidder,omitempty"`
	Status        AuctionStatus  `json:"status"`
	Received      *uint256.Int   `json:"received"`
	PaidOut       *uint256.Int   `json:"paid_out"`
	CreatedAt     int64          `json:"created_at"`
}

// HasBidder reports whether at least one bid was accepted.
func (a *Auction) HasBidder() bool {
	return a.HighestBidder != (common.Address{})
}

// CoinInfo describes a fungible ledger.
type CoinInfo struct {
	Address     common.Address `json:"address"`
	Name        string         `json:"name"`
	Symbol      string         `json:"symbol"`
	Decimals    uint8          `json:"decimals"`
	TotalSupply *uint256.Int   `json:"total_supply"`
}

// Receipt is the persisted outcome of one included transaction.
type Receipt struct {
	TxID        string `json:"tx_id"`
	BlockHeight int64  `json:"block_height"`
	Success     bool   `json:"success"`
	Error       string `json:"error,omitempty"`
	Logs        []Log  `json:"logs,omitempty"`
	Err         error  `json:"-"`
}

// Log is an event raised by a successful transaction, kept in its receipt.
type Log struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// State is the full ledger state interface. Implementations must be
// snapshot-able so the executor can roll back failed transactions.
type State interface {
	// Accounts
	GetAccount(addr common.Address) (*Account, error)
	SetAccount(account *Account) error

	// Roles
	HasRole(scope common.Address, role Role, principal common.Address) (bool, error)
	SetRole(scope common.Address, role Role, principal common.Address, member bool) error

	// Collections and tokens
	GetCollection(addr common.Address) (*Collection, error)
	SetCollection(c *Collection) error
	GetToken(ref AssetRef) (*Token, error)
	SetToken(t *Token) error
	IsApprovedForAll(collection, owner, operator common.Address) (bool, error)
	SetApprovalForAll(collection, owner, operator common.Address, approved bool) error
	IsVoucherRedeemed(collection common.Address, code common.Hash) (bool, error)
	MarkVoucherRedeemed(collection common.Address, code common.Hash) error

	// Escrow
	GetVault(addr common.Address) (*Vault, error)
	SetVault(v *Vault) error
	GetEscrow(ref AssetRef) (*Escrow, error)
	SetEscrow(e *Escrow) error
	DeleteEscrow(ref AssetRef) error

	// Fungible ledgers
	GetCoinInfo(coin common.Address) (*CoinInfo, error)
	SetCoinInfo(info *CoinInfo) error
	GetCoinBalance(coin, holder common.Address) (*uint256.Int, error)
	SetCoinBalance(coin, holder common.Address, amount *uint256.Int) error
	GetAllowance(coin, owner, spender common.Address) (*uint256.Int, error)
	SetAllowance(coin, owner, spender common.Address, amount *uint256.Int) error

	// Market
	GetMarketConfig(market common.Address) (*MarketConfig, error)
	SetMarketConfig(cfg *MarketConfig) error
	NextSequence(name string) (uint64, error)
	GetOrder(id uint64) (*Order, error)
	SetOrder(o *Order) error
	GetAuction(id uint64) (*Auction, error)
	SetAuction(a *Auction) error
	GetPendingReturn(auctionID uint64, bidder common.Address) (*uint256.Int, error)
	SetPendingReturn(auctionID uint64, bidder common.Address, amount *uint256.Int) error

	// Receipts
	GetReceipt(txID string) (*Receipt, error)
	SetReceipt(r *Receipt) error

	// Snapshot / rollback / commit
	Snapshot() (int, error)
	RevertToSnapshot(id int) error
	// DiscardSnapshot closes a snapshot, keeping the writes made since.
	DiscardSnapshot(id int) error
	// ComputeRoot returns the deterministic state root from the current write
	// buffer without flushing. Call this before signing a block.
	ComputeRoot() string
	// Commit flushes the write buffer to the underlying DB and clears it.
	// Always call ComputeRoot() first to obtain the root for the block header.
	Commit() error
	// Discard drops the write buffer, e.g. after a block failed to store.
	Discard()
}
