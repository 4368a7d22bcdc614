package crypto

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// SignatureLength is the size of an r || s || v signature.
const SignatureLength = 65

// Sign signs a 32-byte digest and returns the 0x-prefixed hex signature
// with v in {27, 28}.
func Sign(priv PrivateKey, digest []byte) (string, error) {
	k, err := ethcrypto.ToECDSA(priv)
	if err != nil {
		return "", fmt.Errorf("invalid private key: %w", err)
	}
	sig, err := ethcrypto.Sign(digest, k)
	if err != nil {
		return "", fmt.Errorf("sign digest: %w", err)
	}
	sig[64] += 27
	return hexutil.Encode(sig), nil
}

// Recover returns the address whose key produced sigHex over digest.
// Only v in {27, 28} and low-s are accepted, so a signature has exactly one
// valid byte form.
func Recover(digest []byte, sigHex string) (common.Address, error) {
	sig, err := hexutil.Decode(sigHex)
	if err != nil {
		return common.Address{}, fmt.Errorf("invalid signature hex: %w", err)
	}
	if len(sig) != SignatureLength {
		return common.Address{}, fmt.Errorf("signature must be %d bytes, got %d", SignatureLength, len(sig))
	}
	if v := sig[64]; v != 27 && v != 28 {
		return common.Address{}, fmt.Errorf("signature v must be 27 or 28, got %d", v)
	}
	sig = append([]byte(nil), sig...)
	sig[64] -= 27
	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:64])
	if !ethcrypto.ValidateSignatureValues(sig[64], r, s, true) {
		return common.Address{}, errors.New("signature values out of range")
	}
	pub, err := ethcrypto.SigToPub(digest, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("recover public key: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// Verify checks that sigHex over digest was produced by addr.
func Verify(addr common.Address, digest []byte, sigHex string) error {
	signer, err := Recover(digest, sigHex)
	if err != nil {
		return err
	}
	if signer != addr {
		return errors.New("signature verification failed")
	}
	return nil
}
