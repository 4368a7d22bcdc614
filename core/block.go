package core

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
	"github.com/tolelom/tolmarket/crypto"
)

// BlockHeader contains the block metadata that is hashed and signed.
// Timestamp is in unix seconds and is the "now" every transaction in the
// block observes.
type BlockHeader struct {
	Height    int64          `json:"height"`
	PrevHash  string         `json:"prev_hash"`
	StateRoot string         `json:"state_root"` // hash of state after executing this block
	TxRoot    string         `json:"tx_root"`    // hash of all transaction IDs
	Timestamp int64          `json:"timestamp"`
	Proposer  common.Address `json:"proposer"`
}

// Block is a collection of transactions with a signed header.
type Block struct {
	Header       BlockHeader    `json:"header"`
	Transactions []*Transaction `json:"transactions"`
	Hash         string         `json:"hash"`
	Signature    string         `json:"signature"`
}

// headerDigest returns the Keccak-256 digest of the serialised header.
func (b *Block) headerDigest() []byte {
	data, err := json.Marshal(b.Header)
	if err != nil {
		return nil
	}
	return crypto.HashBytes(data)
}

// ComputeHash returns the hex hash of the serialised header.
func (b *Block) ComputeHash() string {
	return common.BytesToHash(b.headerDigest()).Hex()
}

// Sign sets Hash and signs the block with the proposer's private key.
func (b *Block) Sign(priv crypto.PrivateKey) error {
	sig, err := crypto.Sign(priv, b.headerDigest())
	if err != nil {
		return err
	}
	b.Hash = b.ComputeHash()
	b.Signature = sig
	return nil
}

// Verify checks the block was signed by its declared proposer.
func (b *Block) Verify() error {
	return crypto.Verify(b.Header.Proposer, b.headerDigest(), b.Signature)
}

// ComputeTxRoot builds a deterministic root hash from all transaction IDs.
func ComputeTxRoot(txs []*Transaction) string {
	if len(txs) == 0 {
		return crypto.Hash([]byte("empty"))
	}
	var ids []byte
	for _, tx := range txs {
		ids = append(ids, []byte(tx.ID)...)
	}
	return crypto.Hash(ids)
}

// NewBlock creates an unsigned block stamped with timestamp.
func NewBlock(height int64, prevHash string, proposer common.Address, timestamp int64, txs []*Transaction) *Block {
	return &Block{
		Header: BlockHeader{
			Height:    height,
			PrevHash:  prevHash,
			TxRoot:    ComputeTxRoot(txs),
			Timestamp: timestamp,
			Proposer:  proposer,
		},
		Transactions: txs,
	}
}
