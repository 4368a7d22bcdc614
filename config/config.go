package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/joho/godotenv"
	"github.com/tolelom/tolmarket/core"
)

// envPrefix namespaces every environment override.
const envPrefix = "MARKETD_"

// MarketGenesis configures both market engines at genesis.
type MarketGenesis struct {
	FeesRate        uint16 `toml:"fees_rate"`         // bps on fixed-price sales
	AuctionFeesRate uint16 `toml:"auction_fees_rate"` // bps on auction settlements
	AdminWallet     string `toml:"admin_wallet"`      // defaults to the genesis admin
}

// CoinGenesis configures the fungible ledger used by the coin market.
type CoinGenesis struct {
	Name     string            `toml:"name"`
	Symbol   string            `toml:"symbol"`
	Decimals uint8             `toml:"decimals"`
	Alloc    map[string]string `toml:"alloc"` // address → decimal amount
}

// CollectionGenesis is one asset registry created at genesis.
type CollectionGenesis struct {
	Name        string `toml:"name"`
	Symbol      string `toml:"symbol"`
	BaseURI     string `toml:"base_uri"`
	AdminWallet string `toml:"admin_wallet"` // defaults to the genesis admin
}

// GenesisConfig describes the chain's initial state.
type GenesisConfig struct {
	ChainID     uint64              `toml:"chain_id"`
	Timestamp   int64               `toml:"timestamp"` // unix seconds of block 0
	Admin       string              `toml:"admin"`     // ADMIN of every built-in component
	Minters     []string            `toml:"minters"`   // MINTER on the coin and every collection, besides Admin
	Alloc       map[string]string   `toml:"alloc"`     // address → decimal native balance
	Market      MarketGenesis       `toml:"market"`
	Coin        CoinGenesis         `toml:"coin"`
	Collections []CollectionGenesis `toml:"collections"`
}

// Config holds all node configuration.
type Config struct {
	NodeID          string        `toml:"node_id"`
	DataDir         string        `toml:"data_dir"`
	LogLevel        string        `toml:"log_level"` // debug, info, warn or error
	LogDevelopment  bool          `toml:"log_development"`
	BlockIntervalMs int           `toml:"block_interval_ms"`
	MaxBlockTxs     int           `toml:"max_block_txs"` // max transactions per block; 0 → 500
	MempoolSize     int           `toml:"mempool_size"`  // 0 → 10000
	Validators      []string      `toml:"validators"`    // authorised proposer addresses
	Genesis         GenesisConfig `toml:"genesis"`
}

// DefaultConfig returns a single-node development configuration. Admin and
// Validators are left empty and must be filled in before Validate passes.
func DefaultConfig() *Config {
	return &Config{
		NodeID:          "node0",
		DataDir:         "./data",
		LogLevel:        "info",
		BlockIntervalMs: 1000,
		MaxBlockTxs:     500,
		MempoolSize:     10_000,
		Genesis: GenesisConfig{
			ChainID: 1337,
			Alloc:   map[string]string{},
			Market: MarketGenesis{
				FeesRate:        500,
				AuctionFeesRate: 500,
			},
			Coin: CoinGenesis{
				Name:     "Market Coin",
				Symbol:   "MKC",
				Decimals: 18,
				Alloc:    map[string]string{},
			},
			Collections: []CollectionGenesis{
				{Name: "LazyNFT", Symbol: "LNFT", BaseURI: "http://ipfs.com/"},
			},
		},
	}
}

// Load reads a TOML config file at path over DefaultConfig, loads a .env
// file if one is present, and applies MARKETD_* environment overrides. The
// result is NOT validated; call Validate after Load.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("decode config %q: %w", path, err)
	}

	// A missing .env is the normal case.
	_ = godotenv.Load()

	applyEnvOverrides(cfg)
	return cfg, nil
}

// Save writes the config to path as TOML.
func Save(cfg *Config, path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		f.Close()
		return fmt.Errorf("encode config: %w", err)
	}
	return f.Close()
}

func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.NodeID, envPrefix+"NODE_ID")
	setStr(&cfg.DataDir, envPrefix+"DATA_DIR")
	setStr(&cfg.LogLevel, envPrefix+"LOG_LEVEL")
	setBool(&cfg.LogDevelopment, envPrefix+"LOG_DEVELOPMENT")
	setInt(&cfg.BlockIntervalMs, envPrefix+"BLOCK_INTERVAL_MS")
	setInt(&cfg.MaxBlockTxs, envPrefix+"MAX_BLOCK_TXS")
	setInt(&cfg.MempoolSize, envPrefix+"MEMPOOL_SIZE")
	setStringSlice(&cfg.Validators, envPrefix+"VALIDATORS")

	setUint64(&cfg.Genesis.ChainID, envPrefix+"CHAIN_ID")
	setStr(&cfg.Genesis.Admin, envPrefix+"ADMIN")
	setStringSlice(&cfg.Genesis.Minters, envPrefix+"MINTERS")
	setUint16(&cfg.Genesis.Market.FeesRate, envPrefix+"FEES_RATE")
	setUint16(&cfg.Genesis.Market.AuctionFeesRate, envPrefix+"AUCTION_FEES_RATE")
	setStr(&cfg.Genesis.Market.AdminWallet, envPrefix+"ADMIN_WALLET")
}

// Each helper only mutates the target when the variable is set and parses.

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setUint16(dst *uint16, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 16); err == nil {
			*dst = uint16(n)
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	*dst = out
}

// Validate checks the configuration for values the node cannot run with.
func (c *Config) Validate() error {
	var errs []error
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log_level %q must be debug, info, warn or error", c.LogLevel))
	}
	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir is required"))
	}
	if c.MaxBlockTxs < 0 || c.MempoolSize < 0 || c.BlockIntervalMs < 0 {
		errs = append(errs, errors.New("max_block_txs, mempool_size and block_interval_ms must not be negative"))
	}
	if len(c.Validators) == 0 {
		errs = append(errs, errors.New("at least one validator is required"))
	}
	for _, v := range c.Validators {
		if !common.IsHexAddress(v) {
			errs = append(errs, fmt.Errorf("validator %q is not an address", v))
		}
	}
	if err := c.Genesis.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Validate checks addresses, amounts and rates in the genesis description.
func (g *GenesisConfig) Validate() error {
	var errs []error
	if g.ChainID == 0 {
		errs = append(errs, errors.New("genesis.chain_id must be non-zero"))
	}
	errs = append(errs, validateWallet("genesis.admin", g.Admin)...)
	for _, m := range g.Minters {
		if !common.IsHexAddress(m) {
			errs = append(errs, fmt.Errorf("genesis.minters: %q is not an address", m))
		}
	}
	errs = append(errs, validateAlloc("genesis.alloc", g.Alloc)...)
	errs = append(errs, validateAlloc("genesis.coin.alloc", g.Coin.Alloc)...)
	if !core.ValidRate(g.Market.FeesRate) || !core.ValidRate(g.Market.AuctionFeesRate) {
		errs = append(errs, fmt.Errorf("genesis.market fee rates must be <= %d bps", core.BasisPoints))
	}
	if w := g.Market.AdminWallet; w != "" {
		errs = append(errs, validateWallet("genesis.market.admin_wallet", w)...)
	}
	if g.Coin.Symbol == "" {
		errs = append(errs, errors.New("genesis.coin.symbol is required"))
	}
	for i, c := range g.Collections {
		if c.Name == "" || c.Symbol == "" {
			errs = append(errs, fmt.Errorf("genesis.collections[%d]: name and symbol are required", i))
		}
		if c.AdminWallet != "" {
			errs = append(errs, validateWallet(fmt.Sprintf("genesis.collections[%d].admin_wallet", i), c.AdminWallet)...)
		}
	}
	return errors.Join(errs...)
}

// validateWallet requires a non-zero address.
func validateWallet(field, w string) []error {
	switch {
	case !common.IsHexAddress(w):
		return []error{fmt.Errorf("%s %q is not an address", field, w)}
	case common.HexToAddress(w) == (common.Address{}):
		return []error{fmt.Errorf("%s must be non-zero", field)}
	}
	return nil
}

func validateAlloc(field string, alloc map[string]string) []error {
	var errs []error
	for addr, amount := range alloc {
		if !common.IsHexAddress(addr) {
			errs = append(errs, fmt.Errorf("%s: %q is not an address", field, addr))
		}
		if _, err := uint256.FromDecimal(amount); err != nil {
			errs = append(errs, fmt.Errorf("%s[%s]: amount %q: %w", field, addr, amount, err))
		}
	}
	return errs
}
