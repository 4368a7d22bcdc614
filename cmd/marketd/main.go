// Command marketd runs a single marketplace ledger node.
//
// Usage:
//
//	marketd genkey  -key validator.key
//	marketd voucher -key minter.key -collection 0x.. -code 0x.. -uri 1.json -min-price 1000
//	marketd run     -config marketd.toml -key validator.key [-txs txs.jsonl]
//
// Keystore passwords are read from MARKETD_PASSWORD.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/tolelom/tolmarket/config"
	"github.com/tolelom/tolmarket/consensus"
	"github.com/tolelom/tolmarket/core"
	"github.com/tolelom/tolmarket/events"
	"github.com/tolelom/tolmarket/storage"
	"github.com/tolelom/tolmarket/vm"
	"github.com/tolelom/tolmarket/wallet"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: marketd <genkey|voucher|run> [flags]")
		os.Exit(2)
	}
	var err error
	switch os.Args[1] {
	case "genkey":
		err = genKey(os.Args[2:])
	case "voucher":
		err = signVoucher(os.Args[2:])
	case "run":
		err = run(os.Args[2:])
	default:
		err = fmt.Errorf("unknown command %q", os.Args[1])
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "marketd:", err)
		os.Exit(1)
	}
}

func password() string {
	return os.Getenv("MARKETD_PASSWORD")
}

func genKey(args []string) error {
	fs := flag.NewFlagSet("genkey", flag.ExitOnError)
	keyPath := fs.String("key", "validator.key", "path to write the keystore file")
	_ = fs.Parse(args)

	w, err := wallet.Generate(0)
	if err != nil {
		return err
	}
	if err := wallet.SaveKey(*keyPath, password(), w.PrivKey()); err != nil {
		return err
	}
	fmt.Printf("address: %s\nsaved to: %s\n", w.Address().Hex(), *keyPath)
	return nil
}

func signVoucher(args []string) error {
	fs := flag.NewFlagSet("voucher", flag.ExitOnError)
	keyPath := fs.String("key", "minter.key", "keystore of a collection MINTER")
	chainID := fs.Uint64("chain-id", 1337, "chain the voucher is valid on")
	collection := fs.String("collection", "", "collection address")
	code := fs.String("code", "", "32-byte voucher code, hex")
	uri := fs.String("uri", "", "token URI suffix")
	minPrice := fs.String("min-price", "0", "minimum payment, decimal base units")
	royalty := fs.Uint("royalty-bps", 0, "royalty paid to the signer, basis points")
	_ = fs.Parse(args)

	if !common.IsHexAddress(*collection) {
		return fmt.Errorf("invalid collection address %q", *collection)
	}
	if *royalty > core.BasisPoints {
		return fmt.Errorf("royalty-bps %d exceeds %d", *royalty, core.BasisPoints)
	}
	price, err := uint256.FromDecimal(*minPrice)
	if err != nil {
		return fmt.Errorf("min-price: %w", err)
	}
	priv, err := wallet.LoadKey(*keyPath, password())
	if err != nil {
		return fmt.Errorf("load key: %w", err)
	}
	v, err := wallet.New(priv, *chainID).SignVoucher(
		common.HexToAddress(*collection), common.HexToHash(*code), *uri, price, uint16(*royalty))
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func run(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	cfgPath := fs.String("config", "marketd.toml", "path to the TOML config file")
	keyPath := fs.String("key", "validator.key", "validator keystore")
	txPath := fs.String("txs", "", "JSON-lines file of signed transactions, - for stdin")
	follow := fs.Bool("follow", false, "keep producing blocks on the configured interval until interrupted")
	_ = fs.Parse(args)

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	priv, err := wallet.LoadKey(*keyPath, password())
	if err != nil {
		return fmt.Errorf("load key: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("mkdir data dir: %w", err)
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "chain"))
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	// State and blocks share one database under disjoint key prefixes.
	state := storage.NewStateDB(db)
	bc := core.NewBlockchain(storage.NewLevelBlockStore(db))
	if err := bc.Init(); err != nil {
		return fmt.Errorf("blockchain init: %w", err)
	}
	if bc.Tip() == nil {
		genesis, err := config.CreateGenesisBlock(cfg, state, priv)
		if err != nil {
			return fmt.Errorf("genesis: %w", err)
		}
		if err := bc.AddBlock(genesis); err != nil {
			return fmt.Errorf("add genesis: %w", err)
		}
		logger.Info("genesis committed", zap.String("hash", genesis.Hash))
	}

	emitter := events.NewEmitter(logger)
	emitter.SubscribeAll(func(ev events.Event) {
		logger.Info("event",
			zap.String("type", string(ev.Type)),
			zap.String("tx", ev.TxID),
			zap.Int64("height", ev.BlockHeight),
			zap.Any("data", ev.Data))
	})

	mempool := core.NewMempool(cfg.Genesis.ChainID, cfg.MempoolSize)
	exec := vm.NewExecutor(cfg.Genesis.ChainID, state, emitter, logger)
	poa := consensus.New(cfg, bc, state, mempool, exec, emitter, priv, consensus.WithLogger(logger))
	logger.Info("node ready",
		zap.String("node", cfg.NodeID),
		zap.String("validator", poa.Address().Hex()),
		zap.Int64("height", bc.Height()))

	if *txPath != "" {
		n, err := loadTxs(*txPath, mempool, logger)
		if err != nil {
			return err
		}
		logger.Info("transactions queued", zap.Int("count", n))
	}

	if *follow {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		interval := time.Duration(cfg.BlockIntervalMs) * time.Millisecond
		if interval <= 0 {
			interval = time.Second
		}
		poa.Run(ctx, interval)
		logger.Info("shutting down")
		return nil
	}
	return drain(poa, mempool, logger)
}

// drain produces blocks until the mempool is empty.
func drain(poa *consensus.PoA, mempool *core.Mempool, logger *zap.Logger) error {
	for mempool.Size() > 0 {
		if !poa.IsProposer() {
			logger.Warn("not the proposer, leaving transactions queued", zap.Int("pending", mempool.Size()))
			return nil
		}
		block, receipts, err := poa.ProduceBlock()
		if err != nil {
			return fmt.Errorf("produce block: %w", err)
		}
		for _, r := range receipts {
			if !r.Success {
				logger.Warn("tx failed", zap.String("tx", r.TxID), zap.String("error", r.Error))
			}
		}
		if len(block.Transactions) == 0 {
			// Everything left was dropped as invalid.
			break
		}
	}
	return nil
}

// loadTxs reads one signed transaction per line into the mempool. Rejected
// transactions are logged and skipped.
func loadTxs(path string, mempool *core.Mempool, logger *zap.Logger) (int, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return 0, err
		}
		defer f.Close()
		r = f
	}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	n, line := 0, 0
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var tx core.Transaction
		if err := json.Unmarshal(sc.Bytes(), &tx); err != nil {
			logger.Warn("malformed transaction", zap.Int("line", line), zap.Error(err))
			continue
		}
		if err := mempool.Add(&tx); err != nil {
			logger.Warn("transaction rejected", zap.Int("line", line), zap.String("tx", tx.ID), zap.Error(err))
			continue
		}
		n++
	}
	return n, sc.Err()
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		cfg, err = config.DefaultConfig(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	zc := zap.NewProductionConfig()
	if cfg.LogDevelopment {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
