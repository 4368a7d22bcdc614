package vm

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/tolelom/tolmarket/core"
	"github.com/tolelom/tolmarket/events"
)

// Context is passed to every Handler and provides access to the chain state,
// the current block and the triggering transaction. Events raised through
// Emit are held until the transaction commits.
type Context struct {
	State  core.State
	Block  *core.Block
	Tx     *core.Transaction
	events []events.Event
}

// NewContext builds a handler context. Module code gets one from the
// Executor; tests may construct it directly.
func NewContext(state core.State, block *core.Block, tx *core.Transaction) *Context {
	return &Context{State: state, Block: block, Tx: tx}
}

// Now is the ledger time (the block timestamp, unix seconds).
func (c *Context) Now() int64 { return c.Block.Header.Timestamp }

// Caller is the authenticated sender of the transaction.
func (c *Context) Caller() common.Address { return c.Tx.From }

// Target is the component the transaction is addressed to.
func (c *Context) Target() common.Address { return c.Tx.To }

// Value is the native payment attached to the transaction.
func (c *Context) Value() *uint256.Int { return core.Amount(c.Tx.Value) }

// Emit buffers an event; it is published only if the transaction succeeds.
func (c *Context) Emit(typ events.EventType, data map[string]any) {
	c.events = append(c.events, events.Event{
		Type:        typ,
		TxID:        c.Tx.ID,
		BlockHeight: c.Block.Header.Height,
		Data:        data,
	})
}

// Events returns the events buffered so far.
func (c *Context) Events() []events.Event { return c.events }

// TransferValue moves native balance between two accounts. A zero amount
// is a no-op.
func (c *Context) TransferValue(from, to common.Address, amount *uint256.Int) error {
	return moveValue(c.State, from, to, amount)
}

func moveValue(state core.State, from, to common.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() || from == to {
		return nil
	}
	src, err := state.GetAccount(from)
	if err != nil {
		return fmt.Errorf("get account %s: %w", from.Hex(), err)
	}
	bal, err := core.Sub(src.Balance, amount)
	if err != nil {
		return fmt.Errorf("account %s: %w", from.Hex(), err)
	}
	src.Balance = bal
	if err := state.SetAccount(src); err != nil {
		return err
	}

	dst, err := state.GetAccount(to)
	if err != nil {
		return fmt.Errorf("get account %s: %w", to.Hex(), err)
	}
	if dst.Balance, err = core.Add(dst.Balance, amount); err != nil {
		return fmt.Errorf("account %s: %w", to.Hex(), err)
	}
	return state.SetAccount(dst)
}
