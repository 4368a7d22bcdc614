package crypto

import (
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Hash returns the Keccak-256 hash of data as a 0x-prefixed hex string.
func Hash(data []byte) string {
	return ethcrypto.Keccak256Hash(data).Hex()
}

// HashBytes returns the raw Keccak-256 hash of the concatenation of data.
func HashBytes(data ...[]byte) []byte {
	return ethcrypto.Keccak256(data...)
}

// ModuleAddress returns the fixed account address of a built-in module such
// as the escrow vault or a market engine. Module addresses have no private
// key, so nothing can sign for them.
func ModuleAddress(name string) common.Address {
	return common.BytesToAddress(HashBytes([]byte("module:" + name))[12:])
}

// CreateAddress derives the address of a component created by creator at
// the given account nonce.
func CreateAddress(creator common.Address, nonce uint64) common.Address {
	return ethcrypto.CreateAddress(creator, nonce)
}
