package core

import (
	"strconv"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// typedVoucher is v as an eth_signTypedData_v4 request, the form wallets
// sign lazy-mint vouchers in.
func typedVoucher(v *Voucher, chainID uint64, collection common.Address) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"NFTVoucher": {
				{Name: "voucherCode", Type: "bytes32"},
				{Name: "minPrice", Type: "uint256"},
				{Name: "royaltyFee", Type: "uint96"},
				{Name: "uri", Type: "string"},
			},
		},
		PrimaryType: "NFTVoucher",
		Domain: apitypes.TypedDataDomain{
			Name:              VoucherDomainName,
			Version:           VoucherDomainVersion,
			ChainId:           math.NewHexOrDecimal256(int64(chainID)),
			VerifyingContract: collection.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"voucherCode": v.Code.Hex(),
			"minPrice":    v.MinPrice.Dec(),
			"royaltyFee":  strconv.FormatUint(uint64(v.RoyaltyFee), 10),
			"uri":         v.URI,
		},
	}
}

func TestVoucherDigestMatchesTypedData(t *testing.T) {
	collection := common.HexToAddress("0x00000000000000000000000000000000000c0de1")
	vouchers := map[string]*Voucher{
		"zero": {MinPrice: new(uint256.Int)},
		"typical": {
			Code:       common.HexToHash("0x01"),
			URI:        "ipfs://bafy/1.json",
			MinPrice:   uint256.NewInt(5e16),
			RoyaltyFee: 250,
		},
		"max price": {
			Code:       common.HexToHash("0xffeeddccbbaa99887766554433221100ffeeddccbbaa99887766554433221100"),
			URI:        "ar://日本",
			MinPrice:   new(uint256.Int).SetAllOne(),
			RoyaltyFee: BasisPoints,
		},
	}
	for name, v := range vouchers {
		for _, chainID := range []uint64{1, testChainID} {
			want, _, err := apitypes.TypedDataAndHash(typedVoucher(v, chainID, collection))
			require.NoError(t, err, name)
			assert.Equal(t, want, v.Digest(chainID, collection), "%s on chain %d", name, chainID)
		}
	}
}

// TestVoucherAcceptsWalletSignature signs the typed-data hash the way an
// external wallet does and checks the ledger recovers the same signer.
func TestVoucherAcceptsWalletSignature(t *testing.T) {
	priv := newKey(t)
	collection := common.HexToAddress("0xc011")
	v := &Voucher{Code: common.HexToHash("0x2a"), URI: "1.json", MinPrice: uint256.NewInt(100), RoyaltyFee: 10}

	digest, _, err := apitypes.TypedDataAndHash(typedVoucher(v, testChainID, collection))
	require.NoError(t, err)
	k, err := ethcrypto.ToECDSA(priv)
	require.NoError(t, err)
	sig, err := ethcrypto.Sign(digest, k)
	require.NoError(t, err)
	sig[64] += 27
	v.Signature = hexutil.Encode(sig)

	signer, err := v.Signer(testChainID, collection)
	require.NoError(t, err)
	assert.Equal(t, priv.Address(), signer)
}
