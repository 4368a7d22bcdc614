package core

import (
	"fmt"

	"github.com/holiman/uint256"
)

// BasisPoints is the denominator of every fee and royalty rate.
const BasisPoints = 10_000

// Zero returns a fresh zero amount.
func Zero() *uint256.Int { return new(uint256.Int) }

// Amount normalises a possibly-nil stored amount to a non-nil copy.
func Amount(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v.Clone()
}

// Add returns a+b, failing with ErrOverflow past 2^256-1.
func Add(a, b *uint256.Int) (*uint256.Int, error) {
	sum, overflow := new(uint256.Int).AddOverflow(Amount(a), Amount(b))
	if overflow {
		return nil, ErrOverflow
	}
	return sum, nil
}

// Sub returns a-b, failing with ErrInsufficientBalance if b > a.
func Sub(a, b *uint256.Int) (*uint256.Int, error) {
	diff, underflow := new(uint256.Int).SubOverflow(Amount(a), Amount(b))
	if underflow {
		return nil, fmt.Errorf("%w: have %s need %s", ErrInsufficientBalance, Amount(a).Dec(), Amount(b).Dec())
	}
	return diff, nil
}

// Share returns amount*bps/10000 rounded down. The intermediate product is
// 512-bit so it cannot overflow.
func Share(amount *uint256.Int, bps uint16) *uint256.Int {
	out, _ := new(uint256.Int).MulDivOverflow(Amount(amount), uint256.NewInt(uint64(bps)), uint256.NewInt(BasisPoints))
	return out
}

// ValidRate reports whether bps lies within [0, 10000].
func ValidRate(bps uint16) bool { return bps <= BasisPoints }
