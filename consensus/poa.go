// Package consensus implements Proof-of-Authority block production.
// Validators propose blocks in round-robin order. Each block is signed by
// the proposer; other nodes verify the signature before accepting the block.
package consensus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/tolelom/tolmarket/config"
	"github.com/tolelom/tolmarket/core"
	"github.com/tolelom/tolmarket/crypto"
	"github.com/tolelom/tolmarket/events"
	"github.com/tolelom/tolmarket/vm"
	"go.uber.org/zap"
)

const defaultMaxBlockTxs = 500

// Clock returns the current time. Block timestamps come from it.
type Clock func() time.Time

// PoA is the Proof-of-Authority consensus engine.
type PoA struct {
	cfg        *config.Config
	validators []common.Address
	bc         *core.Blockchain
	state      core.State
	mempool    *core.Mempool
	exec       *vm.Executor
	emitter    *events.Emitter
	logger     *zap.Logger
	clock      Clock
	privKey    crypto.PrivateKey
	address    common.Address
}

// Option customises a PoA engine.
type Option func(*PoA)

// WithClock replaces the wall clock used for block timestamps.
func WithClock(c Clock) Option { return func(p *PoA) { p.clock = c } }

// WithLogger sets the engine's logger.
func WithLogger(l *zap.Logger) Option { return func(p *PoA) { p.logger = l } }

// New creates a PoA engine for the local validator identified by privKey.
func New(
	cfg *config.Config,
	bc *core.Blockchain,
	state core.State,
	mempool *core.Mempool,
	exec *vm.Executor,
	emitter *events.Emitter,
	privKey crypto.PrivateKey,
	opts ...Option,
) *PoA {
	p := &PoA{
		cfg:     cfg,
		bc:      bc,
		state:   state,
		mempool: mempool,
		exec:    exec,
		emitter: emitter,
		logger:  zap.NewNop(),
		clock:   time.Now,
		privKey: privKey,
		address: privKey.Address(),
	}
	for _, v := range cfg.Validators {
		p.validators = append(p.validators, common.HexToAddress(v))
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Address is the local validator's address.
func (p *PoA) Address() common.Address { return p.address }

func (p *PoA) proposerAt(height int64) (common.Address, error) {
	if len(p.validators) == 0 {
		return common.Address{}, errors.New("no validators configured")
	}
	return p.validators[int(height%int64(len(p.validators)))], nil
}

// IsProposer reports whether this node should propose the next block.
func (p *PoA) IsProposer() bool {
	want, err := p.proposerAt(p.bc.Height() + 1)
	return err == nil && want == p.address
}

// ProduceBlock builds, executes, signs and commits the next block from the
// mempool. Transactions that cannot be included are dropped from the pool.
func (p *PoA) ProduceBlock() (*core.Block, []*core.Receipt, error) {
	if !p.IsProposer() {
		return nil, nil, errors.New("not the proposer for this round")
	}

	limit := p.cfg.MaxBlockTxs
	if limit <= 0 {
		limit = defaultMaxBlockTxs
	}
	txs := p.mempool.Pending(limit)

	tip := p.bc.Tip()
	prevHash, nextHeight, ts := config.GenesisHash, int64(0), p.clock().Unix()
	if tip != nil {
		prevHash = tip.Hash
		nextHeight = tip.Header.Height + 1
		// Ledger time never runs backwards, even if the local clock does.
		if ts < tip.Header.Timestamp {
			ts = tip.Header.Timestamp
		}
	}

	block := core.NewBlock(nextHeight, prevHash, p.address, ts, nil)
	receipts, dropped := p.exec.FillBlock(block, txs)

	// Compute root from the write buffer BEFORE flushing so that if AddBlock
	// fails the state has not yet been persisted.
	block.Header.StateRoot = p.state.ComputeRoot()
	if err := block.Sign(p.privKey); err != nil {
		p.state.Discard()
		return nil, nil, fmt.Errorf("sign block: %w", err)
	}

	if err := p.bc.AddBlock(block); err != nil {
		p.state.Discard()
		return nil, nil, fmt.Errorf("add block: %w", err)
	}

	// Flush state only after the block is safely stored.
	if err := p.state.Commit(); err != nil {
		p.logger.Fatal("block stored but state commit failed",
			zap.Int64("height", block.Header.Height), zap.Error(err))
	}

	// Emit after Sign() so block.Hash is set correctly.
	if p.emitter != nil {
		p.emitter.Emit(events.Event{
			Type:        events.EventBlockCommit,
			BlockHeight: block.Header.Height,
			Data:        map[string]any{"hash": block.Hash, "txs": len(block.Transactions), "timestamp": ts},
		})
	}

	ids := make([]string, 0, len(txs))
	for _, tx := range block.Transactions {
		ids = append(ids, tx.ID)
	}
	for _, tx := range dropped {
		ids = append(ids, tx.ID)
	}
	p.mempool.Remove(ids)

	p.logger.Debug("block produced",
		zap.Int64("height", block.Header.Height),
		zap.String("hash", block.Hash),
		zap.Int("txs", len(block.Transactions)),
		zap.Int("dropped", len(dropped)))
	return block, receipts, nil
}

// ValidateBlock checks that block was proposed by the expected validator
// and extends the current tip.
func (p *PoA) ValidateBlock(block *core.Block) error {
	expected, err := p.proposerAt(block.Header.Height)
	if err != nil {
		return err
	}
	if block.Header.Proposer != expected {
		return fmt.Errorf("wrong proposer: got %s want %s", block.Header.Proposer.Hex(), expected.Hex())
	}
	if block.Hash != block.ComputeHash() {
		return errors.New("block hash does not match header")
	}
	if err := block.Verify(); err != nil {
		return fmt.Errorf("block signature invalid: %w", err)
	}
	if block.Header.TxRoot != core.ComputeTxRoot(block.Transactions) && block.Header.Height != 0 {
		return errors.New("tx root does not match transactions")
	}

	tip := p.bc.Tip()
	if tip == nil {
		if !config.IsGenesisHash(block.Header.PrevHash) {
			return errors.New("first block must reference genesis prev-hash")
		}
		return nil
	}
	if block.Header.PrevHash != tip.Hash {
		return fmt.Errorf("prev_hash mismatch: got %s want %s", block.Header.PrevHash, tip.Hash)
	}
	if block.Header.Height != tip.Header.Height+1 {
		return fmt.Errorf("height mismatch: got %d want %d", block.Header.Height, tip.Header.Height+1)
	}
	if block.Header.Timestamp < tip.Header.Timestamp {
		return fmt.Errorf("timestamp %d precedes tip timestamp %d", block.Header.Timestamp, tip.Header.Timestamp)
	}
	return nil
}

// Run produces a block every interval while this node is the proposer
// and the mempool is not empty. It blocks until ctx is cancelled.
func (p *PoA) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !p.IsProposer() || p.mempool.Size() == 0 {
				continue
			}
			if _, _, err := p.ProduceBlock(); err != nil {
				p.logger.Error("produce block", zap.Error(err))
			}
		}
	}
}
