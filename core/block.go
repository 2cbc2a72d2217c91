package core

import (
	"encoding/json"
	"time"

	"github.com/JdoubleU92/numgame/crypto"
)

// BlockHeader contains the block metadata that is hashed and signed.
type BlockHeader struct {
	Height    int64   `json:"height"`
	PrevHash  string  `json:"prev_hash"`
	StateRoot string  `json:"state_root"` // hash of state after executing this block
	TxRoot    string  `json:"tx_root"`    // hash of all transaction IDs
	Timestamp int64   `json:"timestamp"`  // unix nanoseconds
	Proposer  Address `json:"proposer"`
}

// Block is an ordered batch of transactions with a signed header. Its
// timestamp is the "now" every game transition in the block observes.
type Block struct {
	Header       BlockHeader    `json:"header"`
	Transactions []*Transaction `json:"transactions"`
	Hash         string         `json:"hash"`
	Signature    string         `json:"signature"`
}

// Unix returns the block timestamp in whole seconds.
func (b *Block) Unix() int64 {
	return b.Header.Timestamp / int64(time.Second)
}

// ComputeHash returns the SHA-256 hash of the serialised header.
func (b *Block) ComputeHash() string {
	data, err := json.Marshal(b.Header)
	if err != nil {
		return ""
	}
	return crypto.Hash(data)
}

// Sign sets Hash and signs the block with the proposer's private key.
func (b *Block) Sign(priv crypto.PrivateKey) {
	b.Hash = b.ComputeHash()
	b.Signature = crypto.Sign(priv, []byte(b.Hash))
}

// Verify checks the block signature against the given public key.
func (b *Block) Verify(pub crypto.PublicKey) error {
	return crypto.Verify(pub, []byte(b.Hash), b.Signature)
}

// ComputeTxRoot builds a deterministic root hash from all transaction IDs.
func ComputeTxRoot(txs []*Transaction) string {
	if len(txs) == 0 {
		return crypto.Hash([]byte("empty"))
	}
	var ids []byte
	for _, tx := range txs {
		ids = append(ids, tx.ID...)
	}
	return crypto.Hash(ids)
}

// NewBlock creates an unsigned block stamped with the current time.
func NewBlock(height int64, prevHash string, proposer Address, txs []*Transaction) *Block {
	return NewBlockAt(height, prevHash, proposer, txs, time.Now())
}

// NewBlockAt creates an unsigned block stamped with ts.
func NewBlockAt(height int64, prevHash string, proposer Address, txs []*Transaction, ts time.Time) *Block {
	return &Block{
		Header: BlockHeader{
			Height:    height,
			PrevHash:  prevHash,
			TxRoot:    ComputeTxRoot(txs),
			Timestamp: ts.UnixNano(),
			Proposer:  proposer,
		},
		Transactions: txs,
	}
}

// SetTransactions replaces the block's transactions and recomputes TxRoot.
func (b *Block) SetTransactions(txs []*Transaction) {
	b.Transactions = txs
	b.Header.TxRoot = ComputeTxRoot(txs)
}
