package crypto

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)
var eip712DomainTypeHash = HashBytes(
	[]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"),
)

// Domain is an EIP-712 signing domain. Binding ChainID and
// VerifyingContract into every digest stops a signature produced for one
// deployment from being accepted by another.
type Domain struct {
	Name              string
	Version           string
	ChainID           uint64
	VerifyingContract common.Address
}

// Separator returns keccak256(abi.encode(typeHash, name, version, chainId, verifyingContract)).
func (d Domain) Separator() []byte {
	return HashBytes(
		eip712DomainTypeHash,
		HashBytes([]byte(d.Name)),
		HashBytes([]byte(d.Version)),
		Uint64Word(d.ChainID),
		AddressWord(d.VerifyingContract),
	)
}

// TypedDataHash computes the final EIP-712 digest:
//
//	keccak256("\x19\x01" || domainSeparator || structHash)
func TypedDataHash(domainSep, structHash []byte) []byte {
	return HashBytes([]byte{0x19, 0x01}, domainSep, structHash)
}

// Word returns the 32-byte big-endian ABI word for n. A nil n encodes as zero.
func Word(n *uint256.Int) []byte {
	if n == nil {
		return make([]byte, 32)
	}
	b := n.Bytes32()
	return b[:]
}

// Uint64Word returns the 32-byte ABI word for v.
func Uint64Word(v uint64) []byte {
	return Word(uint256.NewInt(v))
}

// AddressWord left-pads addr to a 32-byte ABI word.
func AddressWord(addr common.Address) []byte {
	return common.LeftPadBytes(addr.Bytes(), 32)
}
