package core

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tolelom/tolmarket/crypto"
)

const testChainID uint64 = 1337

func newKey(t *testing.T) crypto.PrivateKey {
	t.Helper()
	priv, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	return priv
}

func signedTx(t *testing.T, priv crypto.PrivateKey, nonce uint64) *Transaction {
	t.Helper()
	tx, err := NewTransaction(testChainID, TxTransfer, priv.Address(), common.HexToAddress("0xbeef"), nonce, uint256.NewInt(5), struct{}{})
	require.NoError(t, err)
	require.NoError(t, tx.Sign(priv))
	return tx
}

// TestTransactionSignVerify checks that signing sets the ID and that any
// covered field change breaks verification.
func TestTransactionSignVerify(t *testing.T) {
	priv := newKey(t)
	tx := signedTx(t, priv, 0)
	assert.NotEmpty(t, tx.ID)
	require.NoError(t, tx.Verify())

	tampered := *tx
	tampered.Value = uint256.NewInt(6)
	assert.Error(t, tampered.Verify())

	tampered = *tx
	tampered.ChainID = 1
	assert.Error(t, tampered.Verify())

	// Re-deriving the ID does not help without the key.
	tampered = *tx
	tampered.To = common.HexToAddress("0xcafe")
	tampered.ID = tampered.Hash()
	assert.Error(t, tampered.Verify())

	tampered = *tx
	tampered.From = newKey(t).Address()
	tampered.ID = tampered.Hash()
	assert.Error(t, tampered.Verify())
}

func TestTransactionNilAmountsHashLikeZero(t *testing.T) {
	a := &Transaction{ChainID: 1, Type: TxBid, Nonce: 3}
	b := &Transaction{ChainID: 1, Type: TxBid, Nonce: 3, Fee: Zero(), Value: Zero()}
	assert.Equal(t, a.Hash(), b.Hash())
}

// TestVoucherSignerRecovery checks that a voucher recovers to its signer
// only under the domain it was signed for.
func TestVoucherSignerRecovery(t *testing.T) {
	priv := newKey(t)
	collection := common.HexToAddress("0xc011")
	v := &Voucher{
		Code:       common.HexToHash("0x01"),
		URI:        "1.json",
		MinPrice:   uint256.NewInt(1000),
		RoyaltyFee: 250,
	}
	require.NoError(t, v.Sign(priv, testChainID, collection))

	signer, err := v.Signer(testChainID, collection)
	require.NoError(t, err)
	assert.Equal(t, priv.Address(), signer)

	other, err := v.Signer(testChainID, common.HexToAddress("0xc012"))
	require.NoError(t, err)
	assert.NotEqual(t, priv.Address(), other)

	other, err = v.Signer(1, collection)
	require.NoError(t, err)
	assert.NotEqual(t, priv.Address(), other)

	for name, mutate := range map[string]func(*Voucher){
		"code":      func(v *Voucher) { v.Code = common.HexToHash("0x02") },
		"uri":       func(v *Voucher) { v.URI = "2.json" },
		"min price": func(v *Voucher) { v.MinPrice = uint256.NewInt(1) },
		"royalty":   func(v *Voucher) { v.RoyaltyFee = 0 },
	} {
		c := *v
		mutate(&c)
		got, err := c.Signer(testChainID, collection)
		require.NoError(t, err, name)
		assert.NotEqual(t, priv.Address(), got, name)
	}

	bad := *v
	bad.Signature = "0x00"
	_, err = bad.Signer(testChainID, collection)
	assert.True(t, errors.Is(err, ErrInvalidSignature))
}

func TestAmountArithmetic(t *testing.T) {
	assert.True(t, Amount(nil).IsZero())

	v := uint256.NewInt(7)
	c := Amount(v)
	c.AddUint64(c, 1)
	assert.Equal(t, uint64(7), v.Uint64(), "Amount must copy")

	sum, err := Add(uint256.NewInt(2), nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), sum.Uint64())

	top := new(uint256.Int).SetAllOne()
	_, err = Add(top, uint256.NewInt(1))
	assert.ErrorIs(t, err, ErrOverflow)

	diff, err := Sub(uint256.NewInt(5), uint256.NewInt(3))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), diff.Uint64())
	_, err = Sub(uint256.NewInt(3), uint256.NewInt(5))
	assert.ErrorIs(t, err, ErrInsufficientBalance)
}

func TestShare(t *testing.T) {
	tests := []struct {
		amount uint64
		bps    uint16
		want   uint64
	}{
		{amount: 10_000, bps: 500, want: 500},
		{amount: 1_300, bps: 500, want: 65},
		{amount: 19, bps: 500, want: 0}, // rounds down
		{amount: 123, bps: 0, want: 0},
		{amount: 123, bps: 10_000, want: 123},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Share(uint256.NewInt(tt.amount), tt.bps).Uint64(), "%d at %d bps", tt.amount, tt.bps)
	}

	top := new(uint256.Int).SetAllOne()
	assert.Equal(t, top, Share(top, 10_000))

	assert.True(t, ValidRate(10_000))
	assert.False(t, ValidRate(10_001))
}

func TestRoleValid(t *testing.T) {
	assert.True(t, RoleAdmin.Valid())
	assert.True(t, RoleMarket.Valid())
	assert.False(t, Role("OWNER").Valid())
}

// ---- blockchain ----

type memStore struct {
	blocks map[string]*Block
	byH    map[int64]*Block
	tip    string
}

func newMemStore() *memStore {
	return &memStore{blocks: map[string]*Block{}, byH: map[int64]*Block{}}
}

func (m *memStore) GetBlock(hash string) (*Block, error) {
	if b, ok := m.blocks[hash]; ok {
		return b, nil
	}
	return nil, ErrNotFound
}

func (m *memStore) GetBlockByHeight(h int64) (*Block, error) {
	if b, ok := m.byH[h]; ok {
		return b, nil
	}
	return nil, ErrNotFound
}

func (m *memStore) GetTip() (string, error) { return m.tip, nil }

func (m *memStore) CommitBlock(b *Block) error {
	m.blocks[b.Hash] = b
	m.byH[b.Header.Height] = b
	m.tip = b.Hash
	return nil
}

func TestBlockchainAddBlock(t *testing.T) {
	priv := newKey(t)
	store := newMemStore()
	bc := NewBlockchain(store)
	require.NoError(t, bc.Init())
	assert.Nil(t, bc.Tip())
	assert.Equal(t, int64(-1), bc.Height())

	g := NewBlock(0, common.Hash{}.Hex(), priv.Address(), 100, nil)
	require.NoError(t, g.Sign(priv))
	require.NoError(t, bc.AddBlock(g))
	assert.Equal(t, int64(0), bc.Height())

	skip := NewBlock(2, g.Hash, priv.Address(), 101, nil)
	require.NoError(t, skip.Sign(priv))
	assert.Error(t, bc.AddBlock(skip))

	wrongPrev := NewBlock(1, "0xabc", priv.Address(), 101, nil)
	require.NoError(t, wrongPrev.Sign(priv))
	assert.Error(t, bc.AddBlock(wrongPrev))

	past := NewBlock(1, g.Hash, priv.Address(), 99, nil)
	require.NoError(t, past.Sign(priv))
	assert.Error(t, bc.AddBlock(past))

	next := NewBlock(1, g.Hash, priv.Address(), 100, nil)
	require.NoError(t, next.Sign(priv))
	require.NoError(t, bc.AddBlock(next))

	// A new Blockchain over the same store picks up the tip.
	reopened := NewBlockchain(store)
	require.NoError(t, reopened.Init())
	assert.Equal(t, next.Hash, reopened.Tip().Hash)
	got, err := reopened.GetBlockByHeight(0)
	require.NoError(t, err)
	assert.Equal(t, g.Hash, got.Hash)
}

func TestBlockSignVerify(t *testing.T) {
	priv := newKey(t)
	tx := signedTx(t, priv, 0)
	b := NewBlock(1, "0x00", priv.Address(), 5, []*Transaction{tx})
	assert.Equal(t, ComputeTxRoot([]*Transaction{tx}), b.Header.TxRoot)
	assert.NotEqual(t, ComputeTxRoot(nil), b.Header.TxRoot)

	require.NoError(t, b.Sign(priv))
	assert.Equal(t, b.ComputeHash(), b.Hash)
	require.NoError(t, b.Verify())

	b.Header.Timestamp++
	assert.Error(t, b.Verify())
}

// ---- mempool ----

func TestMempoolAdd(t *testing.T) {
	priv := newKey(t)
	m := NewMempool(testChainID, 2)

	tx := signedTx(t, priv, 0)
	require.NoError(t, m.Add(tx))
	assert.Error(t, m.Add(tx), "duplicate")

	got, ok := m.Get(tx.ID)
	require.True(t, ok)
	assert.Equal(t, tx, got)

	wrongChain, err := NewTransaction(1, TxTransfer, priv.Address(), common.HexToAddress("0xbeef"), 1, nil, struct{}{})
	require.NoError(t, err)
	require.NoError(t, wrongChain.Sign(priv))
	assert.Error(t, m.Add(wrongChain))

	unsigned := signedTx(t, priv, 1)
	unsigned.Signature = ""
	assert.Error(t, m.Add(unsigned))

	require.NoError(t, m.Add(signedTx(t, priv, 1)))
	assert.Error(t, m.Add(signedTx(t, priv, 2)), "full")
	assert.Equal(t, 2, m.Size())
}

func TestMempoolTimeWindow(t *testing.T) {
	priv := newKey(t)
	m := NewMempool(testChainID, 0)
	tx := signedTx(t, priv, 0)

	m.now = func() int64 { return tx.Timestamp + maxTxAge + 1 }
	assert.Error(t, m.Add(tx))
	m.now = func() int64 { return tx.Timestamp - maxTxFuture - 1 }
	assert.Error(t, m.Add(tx))
	m.now = func() int64 { return tx.Timestamp }
	assert.NoError(t, m.Add(tx))
}

// TestMempoolPendingOrdersBySenderNonce submits a sender's txs out of order
// and checks Pending hands them back in nonce order without disturbing
// other senders' slots.
func TestMempoolPendingOrdersBySenderNonce(t *testing.T) {
	alice, bob := newKey(t), newKey(t)
	m := NewMempool(testChainID, 0)

	a2, a0, b0, a1 := signedTx(t, alice, 2), signedTx(t, alice, 0), signedTx(t, bob, 0), signedTx(t, alice, 1)
	for _, tx := range []*Transaction{a2, a0, b0, a1} {
		require.NoError(t, m.Add(tx))
	}

	got := m.Pending(10)
	require.Len(t, got, 4)
	assert.Equal(t, []*Transaction{a0, a1, b0, a2}, got)

	assert.Len(t, m.Pending(2), 2)

	m.Remove([]string{a0.ID, b0.ID})
	assert.Equal(t, 2, m.Size())
	assert.Equal(t, []*Transaction{a1, a2}, m.Pending(10))
}
