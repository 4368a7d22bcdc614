package vm

import (
	"errors"
	"fmt"
	"math"

	"github.com/ethereum/go-ethereum/common"
	"github.com/tolelom/tolmarket/core"
	"github.com/tolelom/tolmarket/events"
	"go.uber.org/zap"
)

// ErrInvalidTx marks a transaction that cannot be included in a block at
// all (bad chain id, signature, nonce or fee). Such a transaction leaves no
// trace in state. A transaction whose handler fails is still included: its
// nonce and fee are consumed and a failed receipt is stored.
var ErrInvalidTx = errors.New("invalid transaction")

// Executor applies transactions to the state using the global Handler registry.
type Executor struct {
	chainID  uint64
	state    core.State
	emitter  *events.Emitter
	logger   *zap.Logger
	registry *Registry
}

// NewExecutor creates an Executor for chainID with the given state and
// event emitter. emitter and logger may be nil.
func NewExecutor(chainID uint64, state core.State, emitter *events.Emitter, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		chainID:  chainID,
		state:    state,
		emitter:  emitter,
		logger:   logger,
		registry: globalRegistry,
	}
}

// ExecuteBlock applies all transactions in block sequentially. An invalid
// transaction causes the whole block to be rejected; a transaction whose
// handler fails only produces a failed receipt.
// EventBlockCommit is emitted by the caller (consensus) after signing so
// the event carries the correct block hash.
func (e *Executor) ExecuteBlock(block *core.Block) ([]*core.Receipt, error) {
	receipts := make([]*core.Receipt, 0, len(block.Transactions))
	for _, tx := range block.Transactions {
		r, err := e.ExecuteTx(block, tx)
		if err != nil {
			return nil, fmt.Errorf("tx %s: %w", tx.ID, err)
		}
		receipts = append(receipts, r)
	}
	return receipts, nil
}

// FillBlock executes candidates against block, keeps the ones that can be
// included and returns the rest as dropped. block.Transactions and its
// TxRoot are replaced by the included set.
func (e *Executor) FillBlock(block *core.Block, candidates []*core.Transaction) ([]*core.Receipt, []*core.Transaction) {
	var (
		included []*core.Transaction
		dropped  []*core.Transaction
		receipts []*core.Receipt
	)
	for _, tx := range candidates {
		r, err := e.ExecuteTx(block, tx)
		if err != nil {
			e.logger.Warn("dropping transaction",
				zap.String("tx", tx.ID),
				zap.String("type", string(tx.Type)),
				zap.Error(err))
			dropped = append(dropped, tx)
			continue
		}
		included = append(included, tx)
		receipts = append(receipts, r)
	}
	block.Transactions = included
	block.Header.TxRoot = core.ComputeTxRoot(included)
	return receipts, dropped
}

// ExecuteTx validates tx, consumes its nonce and fee, and runs its handler
// inside a snapshot. Handler failure reverts every effect of the handler,
// including attached value, and is reported through the receipt.
func (e *Executor) ExecuteTx(block *core.Block, tx *core.Transaction) (*core.Receipt, error) {
	if err := e.chargeTx(block, tx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTx, err)
	}

	snapID, err := e.state.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}

	ctx := NewContext(e.state, block, tx)
	receipt := &core.Receipt{TxID: tx.ID, BlockHeight: block.Header.Height, Success: true}
	if runErr := e.run(ctx, tx); runErr != nil {
		if err := e.state.RevertToSnapshot(snapID); err != nil {
			return nil, fmt.Errorf("revert snapshot after tx failure: %w (tx: %v)", err, runErr)
		}
		receipt.Success = false
		receipt.Error = runErr.Error()
		receipt.Err = runErr
	} else {
		if err := e.state.DiscardSnapshot(snapID); err != nil {
			return nil, fmt.Errorf("discard snapshot: %w", err)
		}
		for _, ev := range ctx.Events() {
			receipt.Logs = append(receipt.Logs, core.Log{Type: string(ev.Type), Data: ev.Data})
		}
	}
	if err := e.state.SetReceipt(receipt); err != nil {
		return nil, fmt.Errorf("store receipt: %w", err)
	}

	e.publish(block, tx, ctx, receipt)
	return receipt, nil
}

// chargeTx checks the envelope, then deducts the fee (paid to the block
// proposer) and increments the nonce.
func (e *Executor) chargeTx(block *core.Block, tx *core.Transaction) error {
	if tx.ChainID != e.chainID {
		return fmt.Errorf("wrong chain id: got %d want %d", tx.ChainID, e.chainID)
	}
	if err := tx.Verify(); err != nil {
		return fmt.Errorf("signature: %w", err)
	}
	acc, err := e.state.GetAccount(tx.From)
	if err != nil {
		return fmt.Errorf("get account: %w", err)
	}
	if acc.Nonce != tx.Nonce {
		return fmt.Errorf("invalid nonce: expected %d got %d", acc.Nonce, tx.Nonce)
	}
	if acc.Nonce == math.MaxUint64 {
		return fmt.Errorf("nonce overflow for account %s", tx.From.Hex())
	}
	fee := core.Amount(tx.Fee)
	if acc.Balance, err = core.Sub(acc.Balance, fee); err != nil {
		return fmt.Errorf("fee: %w", err)
	}
	acc.Nonce++
	if err := e.state.SetAccount(acc); err != nil {
		return err
	}
	if fee.IsZero() {
		return nil
	}
	proposer, err := e.state.GetAccount(block.Header.Proposer)
	if err != nil {
		return fmt.Errorf("get proposer account: %w", err)
	}
	if proposer.Balance, err = core.Add(proposer.Balance, fee); err != nil {
		return fmt.Errorf("fee: %w", err)
	}
	return e.state.SetAccount(proposer)
}

// run moves attached value to the target and dispatches to the handler.
func (e *Executor) run(ctx *Context, tx *core.Transaction) error {
	value := core.Amount(tx.Value)
	if !value.IsZero() {
		if !e.registry.Payable(tx.Type) {
			return fmt.Errorf("%s: %w", tx.Type, core.ErrNotPayable)
		}
		if tx.To == tx.From || tx.To == (common.Address{}) {
			return fmt.Errorf("value needs a recipient: %w", core.ErrInvalidInput)
		}
		if err := moveValue(e.state, tx.From, tx.To, value); err != nil {
			return fmt.Errorf("attach value: %w", err)
		}
	}
	return e.registry.Execute(tx.Type, ctx, tx.Payload)
}

func (e *Executor) publish(block *core.Block, tx *core.Transaction, ctx *Context, r *core.Receipt) {
	if r.Success {
		e.logger.Debug("tx executed",
			zap.String("tx", tx.ID),
			zap.String("type", string(tx.Type)),
			zap.Int64("height", block.Header.Height))
	} else {
		e.logger.Info("tx failed",
			zap.String("tx", tx.ID),
			zap.String("type", string(tx.Type)),
			zap.Int64("height", block.Header.Height),
			zap.String("error", r.Error))
	}
	if e.emitter == nil {
		return
	}
	if r.Success {
		for _, ev := range ctx.Events() {
			e.emitter.Emit(ev)
		}
		e.emitter.Emit(events.Event{
			Type:        events.EventTxExecuted,
			TxID:        tx.ID,
			BlockHeight: block.Header.Height,
			Data:        map[string]any{"type": string(tx.Type), "from": tx.From},
		})
		return
	}
	e.emitter.Emit(events.Event{
		Type:        events.EventTxFailed,
		TxID:        tx.ID,
		BlockHeight: block.Header.Height,
		Data:        map[string]any{"type": string(tx.Type), "from": tx.From, "error": r.Error},
	})
}
