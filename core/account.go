package core

// Account holds a participant's spendable token balance and replay-protection
// nonce. Value enters the game through commit payments and leaves it only
// through ledger withdrawals back into an Account.
type Account struct {
	Address Address `json:"address"`
	Balance uint64  `json:"balance"`
	Nonce   uint64  `json:"nonce"`
}

// ReceiptStatus records how a transaction ended.
type ReceiptStatus string

const (
	ReceiptOK     ReceiptStatus = "ok"
	ReceiptFailed ReceiptStatus = "failed"
)

// Receipt is stored for every transaction that reached its handler. A failed
// receipt means the handler's writes were reverted while the nonce and fee
// were still consumed.
type Receipt struct {
	TxID        string        `json:"tx_id"`
	Type        TxType        `json:"type"`
	From        Address       `json:"from"`
	BlockHeight int64         `json:"block_height"`
	Status      ReceiptStatus `json:"status"`
	Code        string        `json:"code,omitempty"`
	Error       string        `json:"error,omitempty"`
}

// State is the account-level chain state. Game, ledger and registry records
// are exposed by their own store interfaces; storage.StateDB implements all
// of them on one snapshot-able write buffer.
type State interface {
	GetAccount(addr Address) (*Account, error)
	SetAccount(acc *Account) error

	GetReceipt(txID string) (*Receipt, error)
	SetReceipt(r *Receipt) error

	// Snapshot / rollback / commit
	Snapshot() (int, error)
	RevertToSnapshot(id int) error
	// ComputeRoot returns the deterministic state root from the current write
	// buffer without flushing. Call this before signing a block.
	ComputeRoot() string
	// Commit flushes the write buffer to the underlying DB and clears it.
	Commit() error
}
