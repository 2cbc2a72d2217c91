package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/JdoubleU92/numgame/crypto"
)

// TxType identifies the kind of operation a transaction performs.
type TxType string

const (
	TxTransfer TxType = "transfer"

	TxCreateClone          TxType = "create_clone"
	TxReleaseClone         TxType = "release_clone"
	TxAddTrustedFactory    TxType = "add_trusted_factory"
	TxRemoveTrustedFactory TxType = "remove_trusted_factory"

	TxStartGame       TxType = "start_game"
	TxCommit          TxType = "commit"
	TxReveal          TxType = "reveal"
	TxDetermineWinner TxType = "determine_winner"

	TxWithdrawRefund          TxType = "withdraw_refund"
	TxWithdrawInstanceBalance TxType = "withdraw_instance_balance"
	TxWithdrawTemplateBalance TxType = "withdraw_template_balance"
	TxFundInstance            TxType = "fund_instance"
)

// Transaction is the atomic unit of work on the chain.
// From holds the sender's hex-encoded ed25519 public key; it is the caller
// identity every owner-gated operation checks against.
type Transaction struct {
	ID        string          `json:"id"`
	ChainID   string          `json:"chain_id"`
	Type      TxType          `json:"type"`
	From      Address         `json:"from"`
	Nonce     uint64          `json:"nonce"`
	Fee       uint64          `json:"fee"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
	Signature string          `json:"signature"`
}

// signingBody holds the fields that are covered by the signature.
type signingBody struct {
	ChainID   string          `json:"chain_id"`
	Type      TxType          `json:"type"`
	From      Address         `json:"from"`
	Nonce     uint64          `json:"nonce"`
	Fee       uint64          `json:"fee"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Hash returns a deterministic hash of the transaction (sans Signature).
func (tx *Transaction) Hash() string {
	data, err := json.Marshal(signingBody{
		ChainID:   tx.ChainID,
		Type:      tx.Type,
		From:      tx.From,
		Nonce:     tx.Nonce,
		Fee:       tx.Fee,
		Timestamp: tx.Timestamp,
		Payload:   tx.Payload,
	})
	if err != nil {
		return ""
	}
	return crypto.Hash(data)
}

// Sign computes the signature and sets ID.
func (tx *Transaction) Sign(priv crypto.PrivateKey) {
	hash := tx.Hash()
	tx.Signature = crypto.Sign(priv, []byte(hash))
	tx.ID = hash
}

// Verify checks that From is a valid public key and signed the transaction.
func (tx *Transaction) Verify() error {
	if tx.From.IsZero() {
		return errors.New("missing from field")
	}
	pub, err := crypto.PubKeyFromHex(string(tx.From))
	if err != nil {
		return fmt.Errorf("invalid from: %w", err)
	}
	hash := tx.Hash()
	if tx.ID != hash {
		return errors.New("transaction ID does not match its contents")
	}
	return crypto.Verify(pub, []byte(hash), tx.Signature)
}

// DecodePayload unmarshals the payload into v.
func (tx *Transaction) DecodePayload(v any) error {
	if err := json.Unmarshal(tx.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", tx.Type, err)
	}
	return nil
}

// NewTransaction creates an unsigned transaction stamped with the current time.
func NewTransaction(chainID string, typ TxType, from Address, nonce, fee uint64, payload any) (*Transaction, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Transaction{
		ChainID:   chainID,
		Type:      typ,
		From:      from,
		Nonce:     nonce,
		Fee:       fee,
		Timestamp: time.Now().UnixNano(),
		Payload:   raw,
	}, nil
}

// ---- Payload types ----

// TransferPayload moves spendable tokens between accounts.
type TransferPayload struct {
	To     Address `json:"to"`
	Amount uint64  `json:"amount"`
}

// CreateClonePayload asks Factory to mint a game instance owned by the sender.
type CreateClonePayload struct {
	Factory string `json:"factory"`
}

// ReleaseClonePayload retires the sender's live instance. A non-empty Factory
// must match the factory that minted it.
type ReleaseClonePayload struct {
	Factory string `json:"factory,omitempty"`
}

// TrustedFactoryPayload names a factory for the template owner's whitelist.
type TrustedFactoryPayload struct {
	Factory string `json:"factory"`
}

// StartGamePayload opens a new round on an instance the sender owns.
type StartGamePayload struct {
	InstanceID      string `json:"instance_id"`
	RequiredPlayers int    `json:"required_players"`
	BuyIn           uint64 `json:"buy_in"`
	ServiceFee      uint64 `json:"service_fee"`
	CommitDuration  int64  `json:"commit_duration"` // seconds
	RevealDuration  int64  `json:"reveal_duration"` // seconds
}

// CommitPayload escrows Value from the sender and stores the hidden digest.
type CommitPayload struct {
	InstanceID string        `json:"instance_id"`
	Digest     crypto.Digest `json:"digest"`
	Value      uint64        `json:"value"`
}

// RevealPayload discloses the number and salt behind an earlier commit.
type RevealPayload struct {
	InstanceID string `json:"instance_id"`
	Number     int    `json:"number"`
	Salt       string `json:"salt"`
}

// InstancePayload targets an instance without further arguments.
type InstancePayload struct {
	InstanceID string `json:"instance_id"`
}

// FundInstancePayload pays Amount straight into an instance balance.
type FundInstancePayload struct {
	InstanceID string `json:"instance_id"`
	Amount     uint64 `json:"amount"`
}
