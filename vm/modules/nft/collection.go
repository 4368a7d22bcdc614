// Package nft implements asset registries: collections of sequentially
// numbered, singly-owned tokens with operator approvals and lazy minting
// through signed vouchers.
package nft

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/tolelom/tolmarket/core"
	"github.com/tolelom/tolmarket/crypto"
	"github.com/tolelom/tolmarket/events"
	"github.com/tolelom/tolmarket/vm"
	"github.com/tolelom/tolmarket/vm/modules/access"
)

func init() {
	vm.Register(core.TxCreateCollection, handleCreateCollection)
	vm.Register(core.TxMint, handleMint)
	vm.Register(core.TxSetBaseURI, handleSetBaseURI)
	vm.Register(core.TxSetCollectionWallet, handleSetAdminWallet)
}

// genesisCreator has no key, so genesis collection addresses can never
// collide with ones created by create_collection.
var genesisCreator = crypto.ModuleAddress("genesis")

// GenesisAddress is the address of the index-th collection created at genesis.
func GenesisAddress(index uint64) common.Address {
	return crypto.CreateAddress(genesisCreator, index)
}

// Deploy stores a new collection. It fails if the address is taken.
func Deploy(state core.State, c *core.Collection) error {
	if c.Address == (common.Address{}) {
		return fmt.Errorf("collection address required: %w", core.ErrInvalidInput)
	}
	if c.AdminWallet == (common.Address{}) {
		return fmt.Errorf("admin wallet must be non-zero: %w", core.ErrInvalidInput)
	}
	if _, err := state.GetCollection(c.Address); err == nil {
		return fmt.Errorf("collection %s already exists: %w", c.Address.Hex(), core.ErrInvalidInput)
	} else if !errors.Is(err, core.ErrNotFound) {
		return err
	}
	return state.SetCollection(c)
}

// GetCollection loads a collection, wrapping ErrNotFound with its address.
func GetCollection(state core.State, addr common.Address) (*core.Collection, error) {
	c, err := state.GetCollection(addr)
	if err != nil {
		return nil, fmt.Errorf("collection %s: %w", addr.Hex(), err)
	}
	return c, nil
}

// Mint creates the next token of collection owned by to. Callers enforce
// MINTER authority.
func Mint(ctx *vm.Context, collection, to common.Address, uri string) (*core.Token, error) {
	if to == (common.Address{}) {
		return nil, fmt.Errorf("mint to zero address: %w", core.ErrInvalidInput)
	}
	c, err := GetCollection(ctx.State, collection)
	if err != nil {
		return nil, err
	}
	tok := &core.Token{
		Collection: collection,
		ID:         c.NextTokenID,
		Owner:      to,
		URI:        uri,
		MintedAt:   ctx.Now(),
	}
	c.NextTokenID++
	if err := ctx.State.SetCollection(c); err != nil {
		return nil, err
	}
	if err := ctx.State.SetToken(tok); err != nil {
		return nil, err
	}
	ctx.Emit(events.EventTokenMinted, map[string]any{
		"collection": collection, "token_id": tok.ID, "to": to, "uri": uri,
	})
	return tok, nil
}

// TokenURI returns the collection base URI followed by the token's URI.
func TokenURI(state core.State, ref core.AssetRef) (string, error) {
	c, err := GetCollection(state, ref.Collection)
	if err != nil {
		return "", err
	}
	tok, err := GetToken(state, ref)
	if err != nil {
		return "", err
	}
	return c.BaseURI + tok.URI, nil
}

func handleCreateCollection(ctx *vm.Context, payload json.RawMessage) error {
	var p core.CreateCollectionPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode create_collection payload: %w", err)
	}
	if p.Name == "" || p.Symbol == "" {
		return fmt.Errorf("collection name and symbol required: %w", core.ErrInvalidInput)
	}
	creator := ctx.Caller()
	c := &core.Collection{
		Address:     crypto.CreateAddress(creator, ctx.Tx.Nonce),
		Name:        p.Name,
		Symbol:      p.Symbol,
		BaseURI:     p.BaseURI,
		AdminWallet: creator,
		Creator:     creator,
		CreatedAt:   ctx.Now(),
	}
	if err := Deploy(ctx.State, c); err != nil {
		return err
	}
	for _, role := range []core.Role{core.RoleAdmin, core.RoleMinter} {
		if _, err := access.Grant(ctx.State, c.Address, role, creator); err != nil {
			return err
		}
	}
	ctx.Emit(events.EventCollectionCreated, map[string]any{
		"collection": c.Address, "name": c.Name, "symbol": c.Symbol, "creator": creator,
	})
	return nil
}

func handleMint(ctx *vm.Context, payload json.RawMessage) error {
	var p core.MintPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode mint payload: %w", err)
	}
	collection := ctx.Target()
	if err := access.Authorize(ctx.State, collection, core.RoleMinter, ctx.Caller()); err != nil {
		return err
	}
	_, err := Mint(ctx, collection, p.To, p.URI)
	return err
}

func handleSetBaseURI(ctx *vm.Context, payload json.RawMessage) error {
	var p core.SetBaseURIPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode set_base_uri payload: %w", err)
	}
	c, err := adminCollection(ctx)
	if err != nil {
		return err
	}
	c.BaseURI = p.BaseURI
	if err := ctx.State.SetCollection(c); err != nil {
		return err
	}
	ctx.Emit(events.EventBaseURIUpdated, map[string]any{"collection": c.Address, "base_uri": p.BaseURI})
	return nil
}

func handleSetAdminWallet(ctx *vm.Context, payload json.RawMessage) error {
	var p core.WalletPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode set_collection_admin_wallet payload: %w", err)
	}
	if p.Wallet == (common.Address{}) {
		return fmt.Errorf("admin wallet must be non-zero: %w", core.ErrInvalidInput)
	}
	c, err := adminCollection(ctx)
	if err != nil {
		return err
	}
	c.AdminWallet = p.Wallet
	if err := ctx.State.SetCollection(c); err != nil {
		return err
	}
	ctx.Emit(events.EventCollectionWallet, map[string]any{"collection": c.Address, "wallet": p.Wallet})
	return nil
}

// adminCollection loads the target collection after checking the caller
// holds ADMIN on it.
func adminCollection(ctx *vm.Context) (*core.Collection, error) {
	c, err := GetCollection(ctx.State, ctx.Target())
	if err != nil {
		return nil, err
	}
	if err := access.Authorize(ctx.State, c.Address, core.RoleAdmin, ctx.Caller()); err != nil {
		return nil, err
	}
	return c, nil
}
