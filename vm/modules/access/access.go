// Package access keeps role membership per component scope and exposes the
// capability check every guarded operation runs first.
package access

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/tolelom/tolmarket/core"
	"github.com/tolelom/tolmarket/events"
	"github.com/tolelom/tolmarket/vm"
)

func init() {
	vm.Register(core.TxGrantRole, handleGrantRole)
	vm.Register(core.TxRevokeRole, handleRevokeRole)
	vm.Register(core.TxRenounceRole, handleRenounceRole)
}

// HasRole reports whether principal holds role within scope.
func HasRole(state core.State, scope common.Address, role core.Role, principal common.Address) (bool, error) {
	return state.HasRole(scope, role, principal)
}

// Authorize fails with ErrUnauthorized unless principal holds role within scope.
func Authorize(state core.State, scope common.Address, role core.Role, principal common.Address) error {
	ok, err := state.HasRole(scope, role, principal)
	if err != nil {
		return fmt.Errorf("check role %s: %w", role, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s lacks %s on %s", core.ErrUnauthorized, principal.Hex(), role, scope.Hex())
	}
	return nil
}

// Grant adds principal to role within scope without any authority check.
// It reports whether membership changed. Genesis and component deployment
// use it; transactions go through grant_role.
func Grant(state core.State, scope common.Address, role core.Role, principal common.Address) (bool, error) {
	if !role.Valid() {
		return false, fmt.Errorf("unknown role %q: %w", role, core.ErrInvalidInput)
	}
	held, err := state.HasRole(scope, role, principal)
	if err != nil || held {
		return false, err
	}
	return true, state.SetRole(scope, role, principal, true)
}

// Revoke removes principal from role within scope. It reports whether
// membership changed.
func Revoke(state core.State, scope common.Address, role core.Role, principal common.Address) (bool, error) {
	held, err := state.HasRole(scope, role, principal)
	if err != nil || !held {
		return false, err
	}
	return true, state.SetRole(scope, role, principal, false)
}

func decodeRole(payload json.RawMessage, name string) (core.RolePayload, error) {
	var p core.RolePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return p, fmt.Errorf("decode %s payload: %w", name, err)
	}
	if !p.Role.Valid() {
		return p, fmt.Errorf("unknown role %q: %w", p.Role, core.ErrInvalidInput)
	}
	if p.Account == (common.Address{}) {
		return p, fmt.Errorf("account required: %w", core.ErrInvalidInput)
	}
	return p, nil
}

// ADMIN is the role admin of every role, including itself.
func handleGrantRole(ctx *vm.Context, payload json.RawMessage) error {
	p, err := decodeRole(payload, "grant_role")
	if err != nil {
		return err
	}
	scope := ctx.Target()
	if err := Authorize(ctx.State, scope, core.RoleAdmin, ctx.Caller()); err != nil {
		return err
	}
	changed, err := Grant(ctx.State, scope, p.Role, p.Account)
	if err != nil {
		return err
	}
	if changed {
		ctx.Emit(events.EventRoleGranted, map[string]any{
			"scope": scope, "role": p.Role, "account": p.Account, "sender": ctx.Caller(),
		})
	}
	return nil
}

func handleRevokeRole(ctx *vm.Context, payload json.RawMessage) error {
	p, err := decodeRole(payload, "revoke_role")
	if err != nil {
		return err
	}
	scope := ctx.Target()
	if err := Authorize(ctx.State, scope, core.RoleAdmin, ctx.Caller()); err != nil {
		return err
	}
	return revoke(ctx, scope, p)
}

func handleRenounceRole(ctx *vm.Context, payload json.RawMessage) error {
	p, err := decodeRole(payload, "renounce_role")
	if err != nil {
		return err
	}
	if p.Account != ctx.Caller() {
		return fmt.Errorf("%w: can only renounce roles for self", core.ErrUnauthorized)
	}
	return revoke(ctx, ctx.Target(), p)
}

func revoke(ctx *vm.Context, scope common.Address, p core.RolePayload) error {
	changed, err := Revoke(ctx.State, scope, p.Role, p.Account)
	if err != nil {
		return err
	}
	if changed {
		ctx.Emit(events.EventRoleRevoked, map[string]any{
			"scope": scope, "role": p.Role, "account": p.Account, "sender": ctx.Caller(),
		})
	}
	return nil
}
