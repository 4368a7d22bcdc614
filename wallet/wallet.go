package wallet

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/tolelom/tolmarket/core"
	"github.com/tolelom/tolmarket/crypto"
)

// Wallet holds a key pair and provides transaction-building helpers for
// one chain.
type Wallet struct {
	priv    crypto.PrivateKey
	address common.Address
	chainID uint64
}

// New creates a Wallet from an existing private key.
func New(priv crypto.PrivateKey, chainID uint64) *Wallet {
	return &Wallet{priv: priv, address: priv.Address(), chainID: chainID}
}

// Generate creates a Wallet with a freshly generated key pair.
func Generate(chainID uint64) (*Wallet, error) {
	priv, _, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return New(priv, chainID), nil
}

// PrivKey returns the raw private key (handle with care).
func (w *Wallet) PrivKey() crypto.PrivateKey {
	return w.priv
}

// Address returns the account address derived from the public key.
func (w *Wallet) Address() common.Address {
	return w.address
}

// ChainID is the chain this wallet signs for.
func (w *Wallet) ChainID() uint64 {
	return w.chainID
}

// NewTx creates a signed transaction addressed to component to with value
// attached. nonce should match the account's current nonce.
func (w *Wallet) NewTx(typ core.TxType, to common.Address, nonce uint64, value *uint256.Int, payload any) (*core.Transaction, error) {
	tx, err := core.NewTransaction(w.chainID, typ, w.address, to, nonce, value, payload)
	if err != nil {
		return nil, err
	}
	if err := tx.Sign(w.priv); err != nil {
		return nil, err
	}
	return tx, nil
}

// Transfer creates a signed native transfer.
func (w *Wallet) Transfer(to common.Address, amount *uint256.Int, nonce uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxTransfer, to, nonce, amount, struct{}{})
}

// GrantRole grants role to account within scope.
func (w *Wallet) GrantRole(scope common.Address, role core.Role, account common.Address, nonce uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxGrantRole, scope, nonce, nil, core.RolePayload{Role: role, Account: account})
}

// SetApprovalForAll lets operator move all of the wallet's tokens in collection.
func (w *Wallet) SetApprovalForAll(collection, operator common.Address, approved bool, nonce uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxSetApprovalForAll, collection, nonce, nil,
		core.SetApprovalForAllPayload{Operator: operator, Approved: approved})
}

// Mint mints the next token of collection to to.
func (w *Wallet) Mint(collection, to common.Address, uri string, nonce uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxMint, collection, nonce, nil, core.MintPayload{To: to, URI: uri})
}

// CreateOrder lists asset on market at price.
func (w *Wallet) CreateOrder(market common.Address, asset core.AssetRef, price *uint256.Int, nonce uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxCreateOrder, market, nonce, nil, core.CreateOrderPayload{Asset: asset, Price: price})
}

// BuyOrder pays for order id with attached native value.
func (w *Wallet) BuyOrder(market common.Address, id uint64, value *uint256.Int, nonce uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxBuyOrder, market, nonce, value, core.ListingPayload{ID: id})
}

// StartAuction opens an auction on market for duration seconds.
func (w *Wallet) StartAuction(market common.Address, asset core.AssetRef, reserve *uint256.Int, duration int64, nonce uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxStartAuction, market, nonce, nil,
		core.StartAuctionPayload{Asset: asset, ReservePrice: reserve, Duration: duration})
}

// Bid bids attached native value on auction id.
func (w *Wallet) Bid(market common.Address, id uint64, value *uint256.Int, nonce uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxBid, market, nonce, value, core.ListingPayload{ID: id})
}

// RedeemVoucher redeems v against collection, paying value.
func (w *Wallet) RedeemVoucher(collection common.Address, v core.Voucher, value *uint256.Int, nonce uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxRedeemVoucher, collection, nonce, value, core.RedeemVoucherPayload{Voucher: v})
}

// SignVoucher produces a lazy-mint voucher for collection. The wallet must
// hold MINTER there for the voucher to redeem.
func (w *Wallet) SignVoucher(collection common.Address, code common.Hash, uri string, minPrice *uint256.Int, royaltyBps uint16) (*core.Voucher, error) {
	v := &core.Voucher{
		Code:       code,
		URI:        uri,
		MinPrice:   core.Amount(minPrice),
		RoyaltyFee: royaltyBps,
	}
	if err := v.Sign(w.priv, w.chainID, collection); err != nil {
		return nil, err
	}
	return v, nil
}
