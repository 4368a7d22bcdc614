package access_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tolelom/tolmarket/core"
	"github.com/tolelom/tolmarket/events"
	"github.com/tolelom/tolmarket/internal/testutil"
	"github.com/tolelom/tolmarket/vm/modules/access"
)

func TestGrantRevokeByScopeAdmin(t *testing.T) {
	l := testutil.NewLedger(t, 2)
	alice, bob := l.Accounts[0], l.Accounts[1]
	scope := l.Collection()
	role := core.RolePayload{Role: core.RoleMinter, Account: alice.Address()}

	ok, err := access.HasRole(l.State, scope, core.RoleMinter, alice.Address())
	require.NoError(t, err)
	assert.False(t, ok)

	err = l.Exec(bob, core.TxGrantRole, scope, nil, role)
	assert.ErrorIs(t, err, core.ErrUnauthorized)

	l.MustExec(l.Admin, core.TxGrantRole, scope, nil, role)
	ok, _ = access.HasRole(l.State, scope, core.RoleMinter, alice.Address())
	assert.True(t, ok)
	assert.Len(t, l.EventsOf(events.EventRoleGranted), 1)

	// Granting again changes nothing and emits nothing.
	l.MustExec(l.Admin, core.TxGrantRole, scope, nil, role)
	assert.Len(t, l.EventsOf(events.EventRoleGranted), 1)

	err = l.Exec(bob, core.TxRevokeRole, scope, nil, role)
	assert.ErrorIs(t, err, core.ErrUnauthorized)

	l.MustExec(l.Admin, core.TxRevokeRole, scope, nil, role)
	ok, _ = access.HasRole(l.State, scope, core.RoleMinter, alice.Address())
	assert.False(t, ok)
	assert.Len(t, l.EventsOf(events.EventRoleRevoked), 1)
}

func TestRolesAreScoped(t *testing.T) {
	l := testutil.NewLedger(t, 1)
	alice := l.Accounts[0]
	l.MustExec(l.Admin, core.TxGrantRole, l.Collection(), nil, core.RolePayload{Role: core.RoleAdmin, Account: alice.Address()})

	// ADMIN on the collection says nothing about other scopes.
	other := core.RolePayload{Role: core.RoleMinter, Account: alice.Address()}
	err := l.Exec(alice, core.TxGrantRole, alice.Address(), nil, other)
	assert.ErrorIs(t, err, core.ErrUnauthorized)
	assert.NoError(t, access.Authorize(l.State, l.Collection(), core.RoleAdmin, alice.Address()))
	assert.ErrorIs(t, access.Authorize(l.State, l.Collection(), core.RoleMarket, alice.Address()), core.ErrUnauthorized)
}

func TestRenounceOnlyForSelf(t *testing.T) {
	l := testutil.NewLedger(t, 1)
	alice := l.Accounts[0]
	scope := l.Collection()

	err := l.Exec(alice, core.TxRenounceRole, scope, nil, core.RolePayload{Role: core.RoleAdmin, Account: l.Admin.Address()})
	assert.ErrorIs(t, err, core.ErrUnauthorized)

	l.MustExec(l.Admin, core.TxRenounceRole, scope, nil, core.RolePayload{Role: core.RoleMinter, Account: l.Admin.Address()})
	ok, _ := access.HasRole(l.State, scope, core.RoleMinter, l.Admin.Address())
	assert.False(t, ok)
	ok, _ = access.HasRole(l.State, scope, core.RoleAdmin, l.Admin.Address())
	assert.True(t, ok)
}

func TestRolePayloadValidation(t *testing.T) {
	l := testutil.NewLedger(t, 1)
	err := l.Exec(l.Admin, core.TxGrantRole, l.Collection(), nil, core.RolePayload{Role: "OWNER", Account: l.Accounts[0].Address()})
	assert.ErrorIs(t, err, core.ErrInvalidInput)
	err = l.Exec(l.Admin, core.TxGrantRole, l.Collection(), nil, core.RolePayload{Role: core.RoleAdmin})
	assert.ErrorIs(t, err, core.ErrInvalidInput)

	_, err = access.Grant(l.State, l.Collection(), "OWNER", l.Admin.Address())
	assert.ErrorIs(t, err, core.ErrInvalidInput)
	changed, err := access.Revoke(l.State, l.Collection(), core.RoleMarket, l.Admin.Address())
	require.NoError(t, err)
	assert.False(t, changed)
}
