package crypto

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// PrivateKey holds a 32-byte secp256k1 secret scalar.
type PrivateKey []byte

// PublicKey holds a 65-byte uncompressed secp256k1 public key.
type PublicKey []byte

// GenerateKeyPair generates a new secp256k1 key pair.
func GenerateKeyPair() (PrivateKey, PublicKey, error) {
	k, err := ethcrypto.GenerateKey()
	if err != nil {
		return nil, nil, err
	}
	return PrivateKey(ethcrypto.FromECDSA(k)), PublicKey(ethcrypto.FromECDSAPub(&k.PublicKey)), nil
}

// Address returns the 20-byte account address derived from the public key
// (last 20 bytes of Keccak-256 over the uncompressed point).
func (pub PublicKey) Address() common.Address {
	if len(pub) != 65 {
		return common.Address{}
	}
	return common.BytesToAddress(ethcrypto.Keccak256(pub[1:])[12:])
}

// Hex returns the hex-encoded public key.
func (pub PublicKey) Hex() string {
	return hex.EncodeToString(pub)
}

// Hex returns the hex-encoded private key.
func (priv PrivateKey) Hex() string {
	return hex.EncodeToString(priv)
}

// Public derives the public key. It returns nil for a malformed key.
func (priv PrivateKey) Public() PublicKey {
	k, err := ethcrypto.ToECDSA(priv)
	if err != nil {
		return nil
	}
	return PublicKey(ethcrypto.FromECDSAPub(&k.PublicKey))
}

// Address is shorthand for priv.Public().Address().
func (priv PrivateKey) Address() common.Address {
	return priv.Public().Address()
}

// PrivKeyFromHex decodes a hex-encoded private key, with or without 0x.
func PrivKeyFromHex(s string) (PrivateKey, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid privkey hex: %w", err)
	}
	if _, err := ethcrypto.ToECDSA(b); err != nil {
		return nil, fmt.Errorf("invalid secp256k1 key: %w", err)
	}
	return PrivateKey(b), nil
}

// ParseAddress decodes a 0x-prefixed hex account address.
func ParseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}
