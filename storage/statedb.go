package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/tolelom/tolmarket/core"
	"github.com/tolelom/tolmarket/crypto"
)

// registerPrefix records a state-key prefix into statePrefixes so that
// ComputeRoot() always covers it.  All prefix constants must be declared
// via this function.
func registerPrefix(p string) string {
	statePrefixes = append(statePrefixes, p)
	return p
}

// statePrefixes is populated automatically by registerPrefix() below.
var statePrefixes []string

var (
	prefixAccount    = registerPrefix("acct:")
	prefixRole       = registerPrefix("role:")
	prefixCollection = registerPrefix("coll:")
	prefixToken      = registerPrefix("tok:")
	prefixOperator   = registerPrefix("opr:")
	prefixVoucher    = registerPrefix("vchr:")
	prefixVault      = registerPrefix("vault:")
	prefixEscrow     = registerPrefix("escr:")
	prefixCoinInfo   = registerPrefix("coin:")
	prefixCoinBal    = registerPrefix("cbal:")
	prefixAllowance  = registerPrefix("allw:")
	prefixMarket     = registerPrefix("mkt:")
	prefixSequence   = registerPrefix("seq:")
	prefixOrder      = registerPrefix("ord:")
	prefixAuction    = registerPrefix("auc:")
	prefixPending    = registerPrefix("pend:")
	prefixReceipt    = registerPrefix("rcpt:")
)

// key joins parts with ':' after prefix. Numeric ids are zero-padded so keys
// sort in id order.
func key(prefix string, parts ...string) string {
	var b bytes.Buffer
	b.WriteString(prefix)
	for i, p := range parts {
		if i > 0 {
			b.WriteByte(':')
		}
		b.WriteString(p)
	}
	return b.String()
}

func id(n uint64) string { return fmt.Sprintf("%020d", n) }

// undo restores one key of the write buffer to what it was before a write.
type undo struct {
	key        string
	prev       []byte
	hadDirty   bool
	wasDeleted bool
}

// StateDB implements core.State on top of a DB with in-memory write buffer,
// snapshot/rollback, and deterministic state-root computation.
type StateDB struct {
	db        DB
	dirty     map[string][]byte
	deleted   map[string]bool
	journal   []undo // only recorded while a snapshot is open
	snapshots []int  // journal length at each open snapshot
}

// NewStateDB creates a StateDB backed by db.
func NewStateDB(db DB) *StateDB {
	return &StateDB{
		db:      db,
		dirty:   make(map[string][]byte),
		deleted: make(map[string]bool),
	}
}

// ---- internal helpers ----

func (s *StateDB) get(key string) ([]byte, error) {
	if s.deleted[key] {
		return nil, core.ErrNotFound
	}
	if v, ok := s.dirty[key]; ok {
		return v, nil
	}
	return s.db.Get([]byte(key))
}

func (s *StateDB) set(key string, val []byte) {
	s.record(key)
	delete(s.deleted, key)
	s.dirty[key] = val
}

func (s *StateDB) del(key string) {
	s.record(key)
	delete(s.dirty, key)
	s.deleted[key] = true
}

func (s *StateDB) record(key string) {
	if len(s.snapshots) == 0 {
		return
	}
	prev, had := s.dirty[key]
	s.journal = append(s.journal, undo{key: key, prev: prev, hadDirty: had, wasDeleted: s.deleted[key]})
}

// getJSON decodes the record at key into v. ErrNotFound passes through
// unwrapped so callers can substitute zero values.
func (s *StateDB) getJSON(key string, v any) error {
	data, err := s.get(key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func (s *StateDB) setJSON(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	s.set(key, data)
	return nil
}

func (s *StateDB) has(key string) (bool, error) {
	_, err := s.get(key)
	if errors.Is(err, core.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// getAmount reads a balance-like record; a missing record is zero.
func (s *StateDB) getAmount(key string) (*uint256.Int, error) {
	amt := new(uint256.Int)
	err := s.getJSON(key, amt)
	if errors.Is(err, core.ErrNotFound) {
		return core.Zero(), nil
	}
	if err != nil {
		return nil, err
	}
	return amt, nil
}

// setAmount stores amt, deleting the record when it is zero so that empty
// balances do not contribute to the state root.
func (s *StateDB) setAmount(key string, amt *uint256.Int) error {
	if amt == nil || amt.IsZero() {
		s.del(key)
		return nil
	}
	return s.setJSON(key, amt)
}

func (s *StateDB) setFlag(key string, on bool) {
	if on {
		s.set(key, []byte{1})
		return
	}
	s.del(key)
}

// ---- Account ----

func (s *StateDB) GetAccount(addr common.Address) (*core.Account, error) {
	var acc core.Account
	err := s.getJSON(key(prefixAccount, addr.Hex()), &acc)
	if errors.Is(err, core.ErrNotFound) {
		return &core.Account{Address: addr, Balance: core.Zero()}, nil // zero-value account
	}
	if err != nil {
		return nil, err
	}
	acc.Balance = core.Amount(acc.Balance)
	return &acc, nil
}

func (s *StateDB) SetAccount(acc *core.Account) error {
	return s.setJSON(key(prefixAccount, acc.Address.Hex()), acc)
}

// ---- Roles ----

func (s *StateDB) HasRole(scope common.Address, role core.Role, principal common.Address) (bool, error) {
	return s.has(key(prefixRole, scope.Hex(), string(role), principal.Hex()))
}

func (s *StateDB) SetRole(scope common.Address, role core.Role, principal common.Address, member bool) error {
	s.setFlag(key(prefixRole, scope.Hex(), string(role), principal.Hex()), member)
	return nil
}

// ---- Collections and tokens ----

func (s *StateDB) GetCollection(addr common.Address) (*core.Collection, error) {
	var c core.Collection
	if err := s.getJSON(key(prefixCollection, addr.Hex()), &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *StateDB) SetCollection(c *core.Collection) error {
	return s.setJSON(key(prefixCollection, c.Address.Hex()), c)
}

func (s *StateDB) GetToken(ref core.AssetRef) (*core.Token, error) {
	var t core.Token
	if err := s.getJSON(key(prefixToken, ref.Collection.Hex(), id(ref.TokenID)), &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *StateDB) SetToken(t *core.Token) error {
	return s.setJSON(key(prefixToken, t.Collection.Hex(), id(t.ID)), t)
}

func (s *StateDB) IsApprovedForAll(collection, owner, operator common.Address) (bool, error) {
	return s.has(key(prefixOperator, collection.Hex(), owner.Hex(), operator.Hex()))
}

func (s *StateDB) SetApprovalForAll(collection, owner, operator common.Address, approved bool) error {
	s.setFlag(key(prefixOperator, collection.Hex(), owner.Hex(), operator.Hex()), approved)
	return nil
}

func (s *StateDB) IsVoucherRedeemed(collection common.Address, code common.Hash) (bool, error) {
	return s.has(key(prefixVoucher, collection.Hex(), code.Hex()))
}

func (s *StateDB) MarkVoucherRedeemed(collection common.Address, code common.Hash) error {
	s.setFlag(key(prefixVoucher, collection.Hex(), code.Hex()), true)
	return nil
}

// ---- Escrow ----

func (s *StateDB) GetVault(addr common.Address) (*core.Vault, error) {
	var v core.Vault
	if err := s.getJSON(key(prefixVault, addr.Hex()), &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *StateDB) SetVault(v *core.Vault) error {
	return s.setJSON(key(prefixVault, v.Address.Hex()), v)
}

func (s *StateDB) GetEscrow(ref core.AssetRef) (*core.Escrow, error) {
	var e core.Escrow
	if err := s.getJSON(key(prefixEscrow, ref.Collection.Hex(), id(ref.TokenID)), &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *StateDB) SetEscrow(e *core.Escrow) error {
	return s.setJSON(key(prefixEscrow, e.Asset.Collection.Hex(), id(e.Asset.TokenID)), e)
}

func (s *StateDB) DeleteEscrow(ref core.AssetRef) error {
	s.del(key(prefixEscrow, ref.Collection.Hex(), id(ref.TokenID)))
	return nil
}

// ---- Fungible ledgers ----

func (s *StateDB) GetCoinInfo(coin common.Address) (*core.CoinInfo, error) {
	var info core.CoinInfo
	if err := s.getJSON(key(prefixCoinInfo, coin.Hex()), &info); err != nil {
		return nil, err
	}
	info.TotalSupply = core.Amount(info.TotalSupply)
	return &info, nil
}

func (s *StateDB) SetCoinInfo(info *core.CoinInfo) error {
	return s.setJSON(key(prefixCoinInfo, info.Address.Hex()), info)
}

func (s *StateDB) GetCoinBalance(coin, holder common.Address) (*uint256.Int, error) {
	return s.getAmount(key(prefixCoinBal, coin.Hex(), holder.Hex()))
}

func (s *StateDB) SetCoinBalance(coin, holder common.Address, amount *uint256.Int) error {
	return s.setAmount(key(prefixCoinBal, coin.Hex(), holder.Hex()), amount)
}

func (s *StateDB) GetAllowance(coin, owner, spender common.Address) (*uint256.Int, error) {
	return s.getAmount(key(prefixAllowance, coin.Hex(), owner.Hex(), spender.Hex()))
}

func (s *StateDB) SetAllowance(coin, owner, spender common.Address, amount *uint256.Int) error {
	return s.setAmount(key(prefixAllowance, coin.Hex(), owner.Hex(), spender.Hex()), amount)
}

// ---- Market ----

func (s *StateDB) GetMarketConfig(market common.Address) (*core.MarketConfig, error) {
	var cfg core.MarketConfig
	if err := s.getJSON(key(prefixMarket, market.Hex()), &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (s *StateDB) SetMarketConfig(cfg *core.MarketConfig) error {
	return s.setJSON(key(prefixMarket, cfg.Address.Hex()), cfg)
}

// NextSequence increments the named counter and returns the new value, so
// the first id a counter hands out is 1.
func (s *StateDB) NextSequence(name string) (uint64, error) {
	k := key(prefixSequence, name)
	var cur uint64
	data, err := s.get(k)
	switch {
	case errors.Is(err, core.ErrNotFound):
	case err != nil:
		return 0, err
	default:
		if cur, err = strconv.ParseUint(string(data), 10, 64); err != nil {
			return 0, fmt.Errorf("decode sequence %q: %w", name, err)
		}
	}
	if cur == ^uint64(0) {
		return 0, fmt.Errorf("sequence %q: %w", name, core.ErrOverflow)
	}
	cur++
	s.set(k, []byte(strconv.FormatUint(cur, 10)))
	return cur, nil
}

func (s *StateDB) GetOrder(orderID uint64) (*core.Order, error) {
	var o core.Order
	if err := s.getJSON(key(prefixOrder, id(orderID)), &o); err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *StateDB) SetOrder(o *core.Order) error {
	return s.setJSON(key(prefixOrder, id(o.ID)), o)
}

func (s *StateDB) GetAuction(auctionID uint64) (*core.Auction, error) {
	var a core.Auction
	if err := s.getJSON(key(prefixAuction, id(auctionID)), &a); err != nil {
		return nil, err
	}
	a.HighestBid = core.Amount(a.HighestBid)
	a.Received = core.Amount(a.Received)
	a.PaidOut = core.Amount(a.PaidOut)
	return &a, nil
}

func (s *StateDB) SetAuction(a *core.Auction) error {
	return s.setJSON(key(prefixAuction, id(a.ID)), a)
}

func (s *StateDB) GetPendingReturn(auctionID uint64, bidder common.Address) (*uint256.Int, error) {
	return s.getAmount(key(prefixPending, id(auctionID), bidder.Hex()))
}

func (s *StateDB) SetPendingReturn(auctionID uint64, bidder common.Address, amount *uint256.Int) error {
	return s.setAmount(key(prefixPending, id(auctionID), bidder.Hex()), amount)
}

// ---- Receipts ----

func (s *StateDB) GetReceipt(txID string) (*core.Receipt, error) {
	var r core.Receipt
	if err := s.getJSON(key(prefixReceipt, txID), &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *StateDB) SetReceipt(r *core.Receipt) error {
	return s.setJSON(key(prefixReceipt, r.TxID), r)
}

// ---- Snapshot / Rollback / Commit ----

// Snapshot marks the current write buffer and returns a snapshot ID.
func (s *StateDB) Snapshot() (int, error) {
	s.snapshots = append(s.snapshots, len(s.journal))
	return len(s.snapshots) - 1, nil
}

// RevertToSnapshot undoes every write made since snapshot id and closes it
// together with every later snapshot.
func (s *StateDB) RevertToSnapshot(id int) error {
	if id < 0 || id >= len(s.snapshots) {
		return fmt.Errorf("invalid snapshot id %d", id)
	}
	mark := s.snapshots[id]
	for i := len(s.journal) - 1; i >= mark; i-- {
		u := s.journal[i]
		if u.hadDirty {
			s.dirty[u.key] = u.prev
		} else {
			delete(s.dirty, u.key)
		}
		if u.wasDeleted {
			s.deleted[u.key] = true
		} else {
			delete(s.deleted, u.key)
		}
	}
	s.journal = s.journal[:mark]
	s.snapshots = s.snapshots[:id]
	return nil
}

// DiscardSnapshot closes snapshot id and every later one, keeping their
// writes. Writes stay revertible through any enclosing snapshot.
func (s *StateDB) DiscardSnapshot(id int) error {
	if id < 0 || id >= len(s.snapshots) {
		return fmt.Errorf("invalid snapshot id %d", id)
	}
	s.snapshots = s.snapshots[:id]
	if id == 0 {
		s.journal = nil
	}
	return nil
}

// ComputeRoot returns the deterministic hash of the complete world state.
// It merges all persisted state entries (scanned by the known state
// prefixes) with the current write buffer, then hashes the sorted key-value
// pairs using length-prefix encoding. It does NOT flush or modify state.
func (s *StateDB) ComputeRoot() string {
	merged := make(map[string][]byte)
	for _, prefix := range statePrefixes {
		it := s.db.NewIterator([]byte(prefix))
		for it.Next() {
			merged[string(it.Key())] = bytes.Clone(it.Value())
		}
		it.Release()
	}
	for k, v := range s.dirty {
		merged[k] = v
	}
	for k := range s.deleted {
		delete(merged, k)
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	var lenBuf [4]byte
	for _, k := range keys {
		v := merged[k]
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(k)))
		buf.Write(lenBuf[:])
		buf.WriteString(k)
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(v)))
		buf.Write(lenBuf[:])
		buf.Write(v)
	}
	return crypto.Hash(buf.Bytes())
}

// Commit atomically flushes the write buffer to the underlying DB via a
// batch and then clears it. Call ComputeRoot() before signing the block,
// then call Commit() after the block is safely stored.
func (s *StateDB) Commit() error {
	batch := s.db.NewBatch()
	for k, v := range s.dirty {
		batch.Set([]byte(k), v)
	}
	for k := range s.deleted {
		batch.Delete([]byte(k))
	}
	if err := batch.Write(); err != nil {
		return fmt.Errorf("write state batch: %w", err)
	}
	s.dirty = make(map[string][]byte)
	s.deleted = make(map[string]bool)
	s.journal = nil
	s.snapshots = nil
	return nil
}

// Discard drops every uncommitted write and snapshot.
func (s *StateDB) Discard() {
	s.dirty = make(map[string][]byte)
	s.deleted = make(map[string]bool)
	s.journal = nil
	s.snapshots = nil
}

var _ core.State = (*StateDB)(nil)
