// Package wallet provides key management and transaction building for the
// game's participants: hosts, players and the template owner.
package wallet

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/JdoubleU92/numgame/core"
	"github.com/JdoubleU92/numgame/crypto"
)

// Wallet holds a key pair bound to one chain and builds signed transactions.
type Wallet struct {
	priv    crypto.PrivateKey
	pub     crypto.PublicKey
	chainID string
}

// New creates a Wallet for chainID from an existing private key.
func New(chainID string, priv crypto.PrivateKey) *Wallet {
	return &Wallet{priv: priv, pub: priv.Public(), chainID: chainID}
}

// Generate creates a Wallet with a freshly generated key pair.
func Generate(chainID string) (*Wallet, error) {
	priv, _, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return New(chainID, priv), nil
}

// PrivKey returns the raw private key (handle with care).
func (w *Wallet) PrivKey() crypto.PrivateKey {
	return w.priv
}

// Address returns the hex public key that identifies the wallet on chain.
func (w *Wallet) Address() core.Address {
	return core.Address(w.pub.Hex())
}

// ChainID returns the chain the wallet signs for.
func (w *Wallet) ChainID() string { return w.chainID }

// NewTx creates a signed transaction. nonce should match the account's
// current nonce.
func (w *Wallet) NewTx(typ core.TxType, nonce, fee uint64, payload any) (*core.Transaction, error) {
	tx, err := core.NewTransaction(w.chainID, typ, w.Address(), nonce, fee, payload)
	if err != nil {
		return nil, err
	}
	tx.Sign(w.priv)
	return tx, nil
}

// Transfer creates a signed transfer transaction.
func (w *Wallet) Transfer(to core.Address, amount, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxTransfer, nonce, fee, core.TransferPayload{To: to, Amount: amount})
}

// CreateClone asks factory to mint an instance owned by this wallet.
func (w *Wallet) CreateClone(factory string, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxCreateClone, nonce, fee, core.CreateClonePayload{Factory: factory})
}

// ReleaseClone retires this wallet's live instance. factory may be empty.
func (w *Wallet) ReleaseClone(factory string, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxReleaseClone, nonce, fee, core.ReleaseClonePayload{Factory: factory})
}

// TrustFactory adds (trusted=true) or removes factory from the whitelist.
func (w *Wallet) TrustFactory(factory string, trusted bool, nonce, fee uint64) (*core.Transaction, error) {
	typ := core.TxRemoveTrustedFactory
	if trusted {
		typ = core.TxAddTrustedFactory
	}
	return w.NewTx(typ, nonce, fee, core.TrustedFactoryPayload{Factory: factory})
}

// StartGame opens a round on an owned instance.
func (w *Wallet) StartGame(p core.StartGamePayload, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxStartGame, nonce, fee, p)
}

// Commit hides number under salt and escrows value. The number and salt
// never leave the wallet; keep them to reveal later.
func (w *Wallet) Commit(instanceID string, number int, salt string, value, nonce, fee uint64) (*core.Transaction, error) {
	digest, err := crypto.ComputeDigest(salt, number)
	if err != nil {
		return nil, err
	}
	return w.CommitDigest(instanceID, digest, value, nonce, fee)
}

// CommitDigest commits a digest computed elsewhere.
func (w *Wallet) CommitDigest(instanceID string, digest crypto.Digest, value, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxCommit, nonce, fee, core.CommitPayload{InstanceID: instanceID, Digest: digest, Value: value})
}

// Reveal discloses a previously committed number.
func (w *Wallet) Reveal(instanceID string, number int, salt string, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxReveal, nonce, fee, core.RevealPayload{InstanceID: instanceID, Number: number, Salt: salt})
}

// DetermineWinner resolves the running game of instanceID.
func (w *Wallet) DetermineWinner(instanceID string, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxDetermineWinner, nonce, fee, core.InstancePayload{InstanceID: instanceID})
}

// WithdrawRefund pulls everything instanceID owes this wallet.
func (w *Wallet) WithdrawRefund(instanceID string, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxWithdrawRefund, nonce, fee, core.InstancePayload{InstanceID: instanceID})
}

// WithdrawInstanceBalance pulls the host balance of an owned instance.
func (w *Wallet) WithdrawInstanceBalance(instanceID string, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxWithdrawInstanceBalance, nonce, fee, core.InstancePayload{InstanceID: instanceID})
}

// WithdrawTemplateBalance pulls the template royalties.
func (w *Wallet) WithdrawTemplateBalance(nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxWithdrawTemplateBalance, nonce, fee, struct{}{})
}

// FundInstance pays amount into an instance's host balance.
func (w *Wallet) FundInstance(instanceID string, amount, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxFundInstance, nonce, fee, core.FundInstancePayload{InstanceID: instanceID, Amount: amount})
}

// NewSalt returns a random 32-character hex salt for a commitment.
func NewSalt() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	return hex.EncodeToString(b), nil
}
