package core

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

const (
	defaultMempoolSize = 10_000
	maxTxAge           = int64(time.Hour / time.Second)       // reject txs older than 1 hour
	maxTxFuture        = int64(5 * time.Minute / time.Second) // reject txs more than 5 min in the future
)

// Mempool is a thread-safe pending-transaction pool for one chain.
type Mempool struct {
	mu      sync.RWMutex
	chainID uint64
	maxSize int
	now     func() int64
	txs     map[string]*Transaction
	ord     []string // insertion-ordered IDs for deterministic pending iteration
}

// NewMempool creates an empty mempool that only accepts chainID
// transactions. maxSize <= 0 selects the default capacity.
func NewMempool(chainID uint64, maxSize int) *Mempool {
	if maxSize <= 0 {
		maxSize = defaultMempoolSize
	}
	return &Mempool{
		chainID: chainID,
		maxSize: maxSize,
		now:     func() int64 { return time.Now().Unix() },
		txs:     make(map[string]*Transaction),
	}
}

// Add validates and inserts a transaction. Returns an error if the pool is
// full, the tx is already present, the signature or chain id is wrong, or
// the timestamp is out of the acceptable window (-1 h / +5 min).
func (m *Mempool) Add(tx *Transaction) error {
	if tx.ChainID != m.chainID {
		return fmt.Errorf("wrong chain id: got %d want %d", tx.ChainID, m.chainID)
	}
	if err := tx.Verify(); err != nil {
		return fmt.Errorf("invalid tx signature: %w", err)
	}
	now := m.now()
	if now-tx.Timestamp > maxTxAge {
		return errors.New("transaction expired")
	}
	if tx.Timestamp-now > maxTxFuture {
		return errors.New("transaction timestamp too far in the future")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.txs) >= m.maxSize {
		return errors.New("mempool full")
	}
	if _, exists := m.txs[tx.ID]; exists {
		return errors.New("tx already in pool")
	}
	m.txs[tx.ID] = tx
	m.ord = append(m.ord, tx.ID)
	return nil
}

// Get returns a transaction by ID.
func (m *Mempool) Get(id string) (*Transaction, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tx, ok := m.txs[id]
	return tx, ok
}

// Pending returns up to n pending transactions in insertion order, except
// that each sender's transactions are reordered by nonce within the slots
// they occupy, so a batch submitted out of order still executes.
func (m *Mempool) Pending(n int) []*Transaction {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]*Transaction, 0, n)
	for _, id := range m.ord {
		if tx, ok := m.txs[id]; ok {
			result = append(result, tx)
			if len(result) >= n {
				break
			}
		}
	}

	slots := make(map[common.Address][]int)
	for i, tx := range result {
		slots[tx.From] = append(slots[tx.From], i)
	}
	for _, idx := range slots {
		group := make([]*Transaction, len(idx))
		for j, i := range idx {
			group[j] = result[i]
		}
		sort.SliceStable(group, func(a, b int) bool { return group[a].Nonce < group[b].Nonce })
		for j, i := range idx {
			result[i] = group[j]
		}
	}
	return result
}

// Remove deletes transactions by ID (called after block commit).
func (m *Mempool) Remove(ids []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := make(map[string]bool, len(ids))
	for _, id := range ids {
		delete(m.txs, id)
		removed[id] = true
	}
	filtered := m.ord[:0]
	for _, id := range m.ord {
		if !removed[id] {
			filtered = append(filtered, id)
		}
	}
	m.ord = filtered
}

// Size returns the current number of pending transactions.
func (m *Mempool) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.txs)
}
