package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/tolelom/tolmarket/crypto"
)

// TxType identifies the kind of operation a transaction performs.
type TxType string

const (
	TxTransfer TxType = "transfer"

	// Access control
	TxGrantRole    TxType = "grant_role"
	TxRevokeRole   TxType = "revoke_role"
	TxRenounceRole TxType = "renounce_role"

	// Asset registry
	TxCreateCollection    TxType = "create_collection"
	TxMint                TxType = "mint"
	TxTransferToken       TxType = "transfer_token"
	TxApproveToken        TxType = "approve_token"
	TxSetApprovalForAll   TxType = "set_approval_for_all"
	TxSetBaseURI          TxType = "set_base_uri"
	TxSetCollectionWallet TxType = "set_collection_admin_wallet"
	TxRedeemVoucher       TxType = "redeem_voucher"

	// Escrow vault
	TxVaultHold    TxType = "vault_hold"
	TxVaultRelease TxType = "vault_release"

	// Fungible ledger
	TxCoinMint         TxType = "coin_mint"
	TxCoinTransfer     TxType = "coin_transfer"
	TxCoinApprove      TxType = "coin_approve"
	TxCoinTransferFrom TxType = "coin_transfer_from"

	// Market engine
	TxCreateOrder           TxType = "create_order"
	TxBuyOrder              TxType = "buy_order"
	TxCancelOrder           TxType = "cancel_order"
	TxStartAuction          TxType = "start_auction"
	TxBid                   TxType = "bid"
	TxEndAuction            TxType = "end_auction"
	TxBidderWithdraw        TxType = "bidder_withdraw"
	TxUpdateFeesRate        TxType = "update_fees_rate"
	TxUpdateAuctionFeesRate TxType = "update_auction_fees_rate"
	TxUpdateAdminWallet     TxType = "update_admin_wallet"
	TxUpdateNFTPool         TxType = "update_nft_pool"
)

// Transaction is the atomic unit of work on the ledger.
// To names the component the call is addressed to; Value is the native
// payment attached to it. Signature covers all fields except Signature.
type Transaction struct {
	ID        string          `json:"id"`
	ChainID   uint64          `json:"chain_id"`
	Type      TxType          `json:"type"`
	From      common.Address  `json:"from"`
	To        common.Address  `json:"to"`
	Nonce     uint64          `json:"nonce"`
	Fee       *uint256.Int    `json:"fee,omitempty"`
	Value     *uint256.Int    `json:"value,omitempty"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
	Signature string          `json:"signature"`
}

// signingBody holds the fields that are covered by the signature.
type signingBody struct {
	ChainID   uint64          `json:"chain_id"`
	Type      TxType          `json:"type"`
	From      common.Address  `json:"from"`
	To        common.Address  `json:"to"`
	Nonce     uint64          `json:"nonce"`
	Fee       *uint256.Int    `json:"fee"`
	Value     *uint256.Int    `json:"value"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// SigHash returns the 32-byte digest the sender signs.
// Returns nil if marshalling fails (which cannot happen in practice).
func (tx *Transaction) SigHash() []byte {
	body := signingBody{
		ChainID:   tx.ChainID,
		Type:      tx.Type,
		From:      tx.From,
		To:        tx.To,
		Nonce:     tx.Nonce,
		Fee:       Amount(tx.Fee),
		Value:     Amount(tx.Value),
		Timestamp: tx.Timestamp,
		Payload:   tx.Payload,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil
	}
	return crypto.HashBytes(data)
}

// Hash returns the hex transaction hash, which is also its ID.
func (tx *Transaction) Hash() string {
	return common.BytesToHash(tx.SigHash()).Hex()
}

// Sign computes the signature and sets ID.
func (tx *Transaction) Sign(priv crypto.PrivateKey) error {
	sig, err := crypto.Sign(priv, tx.SigHash())
	if err != nil {
		return err
	}
	tx.Signature = sig
	tx.ID = tx.Hash()
	return nil
}

// Verify checks the signature was produced by From and that ID matches.
func (tx *Transaction) Verify() error {
	if tx.From == (common.Address{}) {
		return errors.New("missing from field")
	}
	if tx.ID != tx.Hash() {
		return errors.New("tx id does not match its contents")
	}
	if err := crypto.Verify(tx.From, tx.SigHash(), tx.Signature); err != nil {
		return fmt.Errorf("sender %s: %w", tx.From.Hex(), err)
	}
	return nil
}

// NewTransaction creates an unsigned transaction with the current timestamp.
func NewTransaction(chainID uint64, typ TxType, from, to common.Address, nonce uint64, value *uint256.Int, payload any) (*Transaction, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Transaction{
		ChainID:   chainID,
		Type:      typ,
		From:      from,
		To:        to,
		Nonce:     nonce,
		Fee:       Zero(),
		Value:     Amount(value),
		Timestamp: time.Now().Unix(),
		Payload:   raw,
	}, nil
}

// ---- Payload types ----

// RolePayload grants, revokes or renounces a role within the To scope.
type RolePayload struct {
	Role    Role           `json:"role"`
	Account common.Address `json:"account"`
}

// CreateCollectionPayload deploys a new asset registry.
type CreateCollectionPayload struct {
	Name    string `json:"name"`
	Symbol  string `json:"symbol"`
	BaseURI string `json:"base_uri"`
}

// MintPayload mints the next token id of the To collection.
type MintPayload struct {
	To  common.Address `json:"to"`
	URI string         `json:"uri"`
}

// TransferTokenPayload moves a token on behalf of its owner.
type TransferTokenPayload struct {
	From    common.Address `json:"from"`
	To      common.Address `json:"to"`
	TokenID uint64         `json:"token_id"`
}

// ApproveTokenPayload approves one address to move one token.
type ApproveTokenPayload struct {
	Approved common.Address `json:"approved"`
	TokenID  uint64         `json:"token_id"`
}

// SetApprovalForAllPayload toggles an operator for all of the sender's tokens.
type SetApprovalForAllPayload struct {
	Operator common.Address `json:"operator"`
	Approved bool           `json:"approved"`
}

// SetBaseURIPayload replaces a collection's base URI.
type SetBaseURIPayload struct {
	BaseURI string `json:"base_uri"`
}

// WalletPayload points a beneficiary at a new wallet.
type WalletPayload struct {
	Wallet common.Address `json:"wallet"`
}

// RedeemVoucherPayload redeems a lazy-mint voucher against the To collection.
type RedeemVoucherPayload struct {
	Voucher Voucher `json:"voucher"`
}

// VaultPayload moves custody of Asset into (from Account) or out of (to
// Account) the To vault.
type VaultPayload struct {
	Asset   AssetRef       `json:"asset"`
	Account common.Address `json:"account"`
}

// CoinMintPayload creates new ledger units.
type CoinMintPayload struct {
	To     common.Address `json:"to"`
	Amount *uint256.Int   `json:"amount"`
}

// CoinTransferPayload moves ledger units from the sender.
type CoinTransferPayload struct {
	To     common.Address `json:"to"`
	Amount *uint256.Int   `json:"amount"`
}

// CoinApprovePayload sets a spender allowance.
type CoinApprovePayload struct {
	Spender common.Address `json:"spender"`
	Amount  *uint256.Int   `json:"amount"`
}

// CoinTransferFromPayload spends an allowance granted by Owner.
type CoinTransferFromPayload struct {
	Owner  common.Address `json:"owner"`
	To     common.Address `json:"to"`
	Amount *uint256.Int   `json:"amount"`
}

// CreateOrderPayload lists an asset at a fixed price.
type CreateOrderPayload struct {
	Asset AssetRef     `json:"asset"`
	Price *uint256.Int `json:"price"`
}

// StartAuctionPayload opens a timed auction.
type StartAuctionPayload struct {
	Asset        AssetRef     `json:"asset"`
	ReservePrice *uint256.Int `json:"reserve_price"`
	Duration     int64        `json:"duration"` // seconds
}

// ListingPayload addresses an existing order or auction. Amount is the
// payment offered to a coin-denominated market by buy_order and bid; native
// markets take the attached value instead and ignore it.
type ListingPayload struct {
	ID     uint64       `json:"id"`
	Amount *uint256.Int `json:"amount,omitempty"`
}

// FeesRatePayload sets a fee rate in basis points.
type FeesRatePayload struct {
	Bps uint16 `json:"bps"`
}

// NFTPoolPayload points a market at an escrow vault.
type NFTPoolPayload struct {
	Pool common.Address `json:"pool"`
}
