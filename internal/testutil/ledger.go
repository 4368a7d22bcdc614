package testutil

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
	"github.com/tolelom/tolmarket/config"
	"github.com/tolelom/tolmarket/consensus"
	"github.com/tolelom/tolmarket/core"
	"github.com/tolelom/tolmarket/events"
	"github.com/tolelom/tolmarket/storage"
	"github.com/tolelom/tolmarket/vm"
	"github.com/tolelom/tolmarket/vm/modules/coin"
	"github.com/tolelom/tolmarket/vm/modules/nft"
	"github.com/tolelom/tolmarket/wallet"
)

// ChainID is the chain every Ledger runs.
const ChainID uint64 = 1337

// GenesisTime is block 0's timestamp.
const GenesisTime int64 = 1_700_000_000

// Ether returns n whole native units (18 decimals).
func Ether(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), uint256.NewInt(1e18))
}

// MilliEther returns n thousandths of a native unit.
func MilliEther(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), uint256.NewInt(1e15))
}

// Ledger is a single-validator chain over in-memory storage with a clock
// the test controls. Every Exec call produces one block.
type Ledger struct {
	t        testing.TB
	Config   *config.Config
	State    *storage.StateDB
	Chain    *core.Blockchain
	Mempool  *core.Mempool
	Engine   *consensus.PoA
	Emitter  *events.Emitter
	Admin    *wallet.Wallet   // ADMIN of every component, first minter
	Accounts []*wallet.Wallet // funded with Ether(100) native and coin each
	Events   []events.Event   // every event published so far
	now      int64
}

// NewLedger boots a chain with genesis defaults and n funded accounts.
// The first genesis collection is at Collection().
func NewLedger(t testing.TB, n int) *Ledger {
	t.Helper()
	admin, err := wallet.Generate(ChainID)
	require.NoError(t, err)

	cfg := config.DefaultConfig()
	cfg.Validators = []string{admin.Address().Hex()}
	cfg.Genesis.ChainID = ChainID
	cfg.Genesis.Timestamp = GenesisTime
	cfg.Genesis.Admin = admin.Address().Hex()
	cfg.Genesis.Alloc[admin.Address().Hex()] = Ether(1000).Dec()

	l := &Ledger{t: t, Config: cfg, Admin: admin, now: GenesisTime + 1}
	for i := 0; i < n; i++ {
		w, err := wallet.Generate(ChainID)
		require.NoError(t, err)
		cfg.Genesis.Alloc[w.Address().Hex()] = Ether(100).Dec()
		cfg.Genesis.Coin.Alloc[w.Address().Hex()] = Ether(100).Dec()
		l.Accounts = append(l.Accounts, w)
	}
	require.NoError(t, cfg.Validate())

	l.State = storage.NewStateDB(NewMemDB())
	l.Chain = core.NewBlockchain(NewMemBlockStore())
	l.Mempool = core.NewMempool(ChainID, 0)
	l.Emitter = events.NewEmitter(nil)
	l.Emitter.SubscribeAll(func(ev events.Event) { l.Events = append(l.Events, ev) })

	genesis, err := config.CreateGenesisBlock(cfg, l.State, admin.PrivKey())
	require.NoError(t, err)
	require.NoError(t, l.Chain.AddBlock(genesis))

	exec := vm.NewExecutor(ChainID, l.State, l.Emitter, nil)
	l.Engine = consensus.New(cfg, l.Chain, l.State, l.Mempool, exec, l.Emitter, admin.PrivKey(),
		consensus.WithClock(func() time.Time { return time.Unix(l.now, 0) }))
	return l
}

// Collection is the address of the first genesis collection.
func (l *Ledger) Collection() common.Address { return nft.GenesisAddress(0) }

// Now is the timestamp the next block will carry.
func (l *Ledger) Now() int64 { return l.now }

// Advance moves the ledger clock forward.
func (l *Ledger) Advance(seconds int64) { l.now += seconds }

// Nonce returns addr's next nonce.
func (l *Ledger) Nonce(addr common.Address) uint64 {
	acc, err := l.State.GetAccount(addr)
	require.NoError(l.t, err)
	return acc.Nonce
}

// Exec signs and executes one transaction in its own block and returns the
// handler error, nil on success. Infrastructure failures fail the test.
func (l *Ledger) Exec(w *wallet.Wallet, typ core.TxType, to common.Address, value *uint256.Int, payload any) error {
	l.t.Helper()
	tx, err := w.NewTx(typ, to, l.Nonce(w.Address()), value, payload)
	require.NoError(l.t, err)
	r := l.Submit(tx)
	return r.Err
}

// MustExec is Exec requiring success.
func (l *Ledger) MustExec(w *wallet.Wallet, typ core.TxType, to common.Address, value *uint256.Int, payload any) {
	l.t.Helper()
	require.NoError(l.t, l.Exec(w, typ, to, value, payload), "%s by %s", typ, w.Address().Hex())
}

// Submit runs a prebuilt transaction in its own block and returns its receipt.
func (l *Ledger) Submit(tx *core.Transaction) *core.Receipt {
	l.t.Helper()
	require.NoError(l.t, l.Mempool.Add(tx))
	_, receipts, err := l.Engine.ProduceBlock()
	require.NoError(l.t, err)
	for _, r := range receipts {
		if r.TxID == tx.ID {
			return r
		}
	}
	l.t.Fatalf("tx %s was not included", tx.ID)
	return nil
}

// Balance is addr's native balance.
func (l *Ledger) Balance(addr common.Address) *uint256.Int {
	acc, err := l.State.GetAccount(addr)
	require.NoError(l.t, err)
	return acc.Balance
}

// CoinBalance is addr's balance on the genesis ledger.
func (l *Ledger) CoinBalance(addr common.Address) *uint256.Int {
	bal, err := coin.BalanceOf(l.State, coin.Address, addr)
	require.NoError(l.t, err)
	return bal
}

// Owner is the current owner of ref.
func (l *Ledger) Owner(ref core.AssetRef) common.Address {
	owner, err := nft.OwnerOf(l.State, ref)
	require.NoError(l.t, err)
	return owner
}

// Mint mints a token of the genesis collection to to and returns its ref.
func (l *Ledger) Mint(to common.Address, uri string) core.AssetRef {
	l.t.Helper()
	c, err := nft.GetCollection(l.State, l.Collection())
	require.NoError(l.t, err)
	l.MustExec(l.Admin, core.TxMint, l.Collection(), nil, core.MintPayload{To: to, URI: uri})
	return core.AssetRef{Collection: l.Collection(), TokenID: c.NextTokenID}
}

// EventsOf returns the published events of type typ.
func (l *Ledger) EventsOf(typ events.EventType) []events.Event {
	var out []events.Event
	for _, ev := range l.Events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}
