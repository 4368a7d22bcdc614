// Package economy handles plain native-currency transfers between accounts.
package economy

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/tolelom/tolmarket/core"
	"github.com/tolelom/tolmarket/events"
	"github.com/tolelom/tolmarket/vm"
)

func init() {
	vm.RegisterPayable(core.TxTransfer, handleTransfer)
}

// Balance returns addr's native balance.
func Balance(state core.State, addr common.Address) (*uint256.Int, error) {
	acc, err := state.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	return core.Amount(acc.Balance), nil
}

// Credit adds amount to addr's native balance out of thin air. Only genesis
// allocation uses it.
func Credit(state core.State, addr common.Address, amount *uint256.Int) error {
	acc, err := state.GetAccount(addr)
	if err != nil {
		return err
	}
	if acc.Balance, err = core.Add(acc.Balance, amount); err != nil {
		return fmt.Errorf("credit %s: %w", addr.Hex(), err)
	}
	return state.SetAccount(acc)
}

// The executor has already moved tx.Value to tx.To; the handler only
// rejects empty transfers and records the event.
func handleTransfer(ctx *vm.Context, _ json.RawMessage) error {
	amount := ctx.Value()
	if amount.IsZero() {
		return fmt.Errorf("transfer amount must be > 0: %w", core.ErrInvalidInput)
	}
	ctx.Emit(events.EventTransfer, map[string]any{
		"from":   ctx.Caller(),
		"to":     ctx.Target(),
		"amount": amount,
	})
	return nil
}
