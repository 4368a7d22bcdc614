package core

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/tolelom/tolmarket/crypto"
)

// These must match what off-ledger lazy minters sign with.
const (
	VoucherDomainName    = "LazyNFT-Voucher"
	VoucherDomainVersion = "1"
)

// NFTVoucher(bytes32 voucherCode,uint256 minPrice,uint96 royaltyFee,string uri)
var voucherTypeHash = crypto.HashBytes(
	[]byte("NFTVoucher(bytes32 voucherCode,uint256 minPrice,uint96 royaltyFee,string uri)"),
)

// Voucher is an off-ledger authorisation, signed by a MINTER of one
// collection, to mint a single token to whoever first pays MinPrice.
type Voucher struct {
	Code       common.Hash  `json:"voucher_code"`
	URI        string       `json:"uri"`
	MinPrice   *uint256.Int `json:"min_price"`
	RoyaltyFee uint16       `json:"royalty_fee"` // basis points paid to the signer
	Signature  string       `json:"signature"`
}

// VoucherDomain returns the signing domain of a collection on a chain.
func VoucherDomain(chainID uint64, collection common.Address) crypto.Domain {
	return crypto.Domain{
		Name:              VoucherDomainName,
		Version:           VoucherDomainVersion,
		ChainID:           chainID,
		VerifyingContract: collection,
	}
}

// StructHash is the EIP-712 hash of every field except Signature.
func (v *Voucher) StructHash() []byte {
	return crypto.HashBytes(
		voucherTypeHash,
		v.Code.Bytes(),
		crypto.Word(v.MinPrice),
		crypto.Uint64Word(uint64(v.RoyaltyFee)),
		crypto.HashBytes([]byte(v.URI)),
	)
}

// Digest returns the domain-separated digest the signer commits to.
func (v *Voucher) Digest(chainID uint64, collection common.Address) []byte {
	return crypto.TypedDataHash(VoucherDomain(chainID, collection).Separator(), v.StructHash())
}

// Sign fills in Signature using priv.
func (v *Voucher) Sign(priv crypto.PrivateKey, chainID uint64, collection common.Address) error {
	sig, err := crypto.Sign(priv, v.Digest(chainID, collection))
	if err != nil {
		return fmt.Errorf("sign voucher: %w", err)
	}
	v.Signature = sig
	return nil
}

// Signer recovers the address that signed the voucher for collection.
func (v *Voucher) Signer(chainID uint64, collection common.Address) (common.Address, error) {
	addr, err := crypto.Recover(v.Digest(chainID, collection), v.Signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return addr, nil
}
