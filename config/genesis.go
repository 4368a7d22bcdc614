package config

import (
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/tolelom/tolmarket/core"
	"github.com/tolelom/tolmarket/crypto"
	"github.com/tolelom/tolmarket/vm/modules/access"
	"github.com/tolelom/tolmarket/vm/modules/coin"
	"github.com/tolelom/tolmarket/vm/modules/economy"
	"github.com/tolelom/tolmarket/vm/modules/market"
	"github.com/tolelom/tolmarket/vm/modules/nft"
	"github.com/tolelom/tolmarket/vm/modules/vault"
)

// GenesisHash is the canonical all-zeros previous hash of the genesis block.
var GenesisHash = common.Hash{}.Hex()

// IsGenesisHash reports whether h is the canonical genesis prev-hash.
func IsGenesisHash(h string) bool {
	return h == GenesisHash
}

// ApplyGenesis writes the initial state: native and coin balances, the
// escrow vault, both market engines wired to it, and the genesis
// collections. The admin holds ADMIN on every component; the admin and the
// configured minters hold MINTER on the coin and every collection. Both
// markets hold MARKET on the vault. Nothing is committed.
func ApplyGenesis(g *GenesisConfig, state core.State) error {
	if err := g.Validate(); err != nil {
		return fmt.Errorf("invalid genesis: %w", err)
	}
	admin := common.HexToAddress(g.Admin)
	minters := []common.Address{admin}
	for _, m := range g.Minters {
		minters = append(minters, common.HexToAddress(m))
	}
	grant := func(scope common.Address, role core.Role, who ...common.Address) error {
		for _, p := range who {
			if _, err := access.Grant(state, scope, role, p); err != nil {
				return fmt.Errorf("grant %s on %s: %w", role, scope.Hex(), err)
			}
		}
		return nil
	}

	for _, addr := range sortedKeys(g.Alloc) {
		if err := economy.Credit(state, common.HexToAddress(addr), mustAmount(g.Alloc[addr])); err != nil {
			return err
		}
	}

	if err := vault.Register(state, &core.Vault{Address: vault.Address, Name: "nft-pool"}); err != nil {
		return err
	}
	if err := grant(vault.Address, core.RoleAdmin, admin); err != nil {
		return err
	}
	if err := grant(vault.Address, core.RoleMarket, market.NativeAddress, market.CoinAddress); err != nil {
		return err
	}

	if err := coin.Deploy(state, &core.CoinInfo{
		Address:  coin.Address,
		Name:     g.Coin.Name,
		Symbol:   g.Coin.Symbol,
		Decimals: g.Coin.Decimals,
	}); err != nil {
		return err
	}
	if err := grant(coin.Address, core.RoleAdmin, admin); err != nil {
		return err
	}
	if err := grant(coin.Address, core.RoleMinter, minters...); err != nil {
		return err
	}
	for _, addr := range sortedKeys(g.Coin.Alloc) {
		if err := coin.Issue(state, coin.Address, common.HexToAddress(addr), mustAmount(g.Coin.Alloc[addr])); err != nil {
			return err
		}
	}

	wallet := orDefault(g.Market.AdminWallet, admin)
	for _, cfg := range []*core.MarketConfig{
		{Address: market.NativeAddress, Currency: core.CurrencyNative},
		{Address: market.CoinAddress, Currency: core.CurrencyCoin, Coin: coin.Address},
	} {
		cfg.FeesRate = g.Market.FeesRate
		cfg.AuctionFeesRate = g.Market.AuctionFeesRate
		cfg.AdminWallet = wallet
		cfg.Pool = vault.Address
		if err := market.Deploy(state, cfg); err != nil {
			return err
		}
		if err := grant(cfg.Address, core.RoleAdmin, admin); err != nil {
			return err
		}
	}

	for i, cg := range g.Collections {
		c := &core.Collection{
			Address:     nft.GenesisAddress(uint64(i)),
			Name:        cg.Name,
			Symbol:      cg.Symbol,
			BaseURI:     cg.BaseURI,
			AdminWallet: orDefault(cg.AdminWallet, admin),
			Creator:     admin,
			CreatedAt:   g.Timestamp,
		}
		if err := nft.Deploy(state, c); err != nil {
			return err
		}
		if err := grant(c.Address, core.RoleAdmin, admin); err != nil {
			return err
		}
		if err := grant(c.Address, core.RoleMinter, minters...); err != nil {
			return err
		}
	}
	return nil
}

// CreateGenesisBlock applies the genesis state, commits it, and builds and
// signs block #0.
func CreateGenesisBlock(cfg *Config, state core.State, proposerPriv crypto.PrivateKey) (*core.Block, error) {
	if err := ApplyGenesis(&cfg.Genesis, state); err != nil {
		return nil, err
	}
	stateRoot := state.ComputeRoot()
	if err := state.Commit(); err != nil {
		return nil, fmt.Errorf("commit genesis state: %w", err)
	}

	block := core.NewBlock(0, GenesisHash, proposerPriv.Address(), cfg.Genesis.Timestamp, nil)
	block.Header.StateRoot = stateRoot
	// The chain id stands in for the (empty) transaction set.
	block.Header.TxRoot = crypto.Hash([]byte(fmt.Sprintf("genesis:%d", cfg.Genesis.ChainID)))
	if err := block.Sign(proposerPriv); err != nil {
		return nil, fmt.Errorf("sign genesis block: %w", err)
	}
	return block, nil
}

// sortedKeys iterates allocations in a fixed order so every node writes the
// same state.
func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// mustAmount parses an amount Validate has already accepted.
func mustAmount(s string) *uint256.Int {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		panic(fmt.Sprintf("config: unvalidated amount %q: %v", s, err))
	}
	return v
}

func orDefault(addr string, def common.Address) common.Address {
	if addr == "" {
		return def
	}
	return common.HexToAddress(addr)
}
