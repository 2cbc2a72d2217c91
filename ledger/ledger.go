// Package ledger tracks value the game owes to participants.
//
// Nothing is ever pushed: resolution credits owed amounts, and each party
// pulls its own balance with a withdrawal that reads and zeroes it. Three
// kinds of balance exist: per-(instance, address) owed amounts, the
// per-instance balance belonging to the host, and the single template royalty
// balance belonging to the template owner.
package ledger

import (
	"errors"
	"fmt"
	"math/bits"

	"github.com/JdoubleU92/numgame/core"
	"github.com/JdoubleU92/numgame/core/errs"
	"github.com/JdoubleU92/numgame/game"
)

// Store persists ledger balances. Missing entries read as zero.
type Store interface {
	GetOwed(instanceID string, addr core.Address) (uint64, error)
	SetOwed(instanceID string, addr core.Address, amount uint64) error
	GetInstanceBalance(instanceID string) (uint64, error)
	SetInstanceBalance(instanceID string, amount uint64) error
	GetTemplateBalance() (uint64, error)
	SetTemplateBalance(amount uint64) error
}

// Ledger applies credits and withdrawals to a Store.
type Ledger struct {
	store Store
}

// New returns a Ledger over store.
func New(store Store) *Ledger {
	return &Ledger{store: store}
}

func add(cur, amount uint64) (uint64, error) {
	sum, carry := bits.Add64(cur, amount, 0)
	if carry != 0 {
		return 0, fmt.Errorf("%w: balance overflow", errs.ErrInvalidInput)
	}
	return sum, nil
}

// Credit adds amount to what instanceID owes addr.
func (l *Ledger) Credit(instanceID string, addr core.Address, amount uint64) error {
	if amount == 0 {
		return nil
	}
	cur, err := l.store.GetOwed(instanceID, addr)
	if err != nil {
		return err
	}
	next, err := add(cur, amount)
	if err != nil {
		return err
	}
	return l.store.SetOwed(instanceID, addr, next)
}

// Owed returns the amount instanceID currently owes addr.
func (l *Ledger) Owed(instanceID string, addr core.Address) (uint64, error) {
	return l.store.GetOwed(instanceID, addr)
}

// Withdraw zeroes and returns what instanceID owes addr. A zero balance
// fails with ErrNothingOwed, so a repeated withdrawal always fails.
func (l *Ledger) Withdraw(instanceID string, addr core.Address) (uint64, error) {
	amount, err := l.store.GetOwed(instanceID, addr)
	if err != nil {
		return 0, err
	}
	if amount == 0 {
		return 0, fmt.Errorf("%w: %s in instance %s", errs.ErrNothingOwed, addr.Short(), instanceID)
	}
	if err := l.store.SetOwed(instanceID, addr, 0); err != nil {
		return 0, err
	}
	return amount, nil
}

// CreditInstance adds amount to the host's balance of instanceID.
func (l *Ledger) CreditInstance(instanceID string, amount uint64) error {
	if amount == 0 {
		return nil
	}
	cur, err := l.store.GetInstanceBalance(instanceID)
	if err != nil {
		return err
	}
	next, err := add(cur, amount)
	if err != nil {
		return err
	}
	return l.store.SetInstanceBalance(instanceID, next)
}

// InstanceBalance returns the host balance of instanceID.
func (l *Ledger) InstanceBalance(instanceID string) (uint64, error) {
	return l.store.GetInstanceBalance(instanceID)
}

// WithdrawInstance zeroes and returns inst's host balance. Only the instance
// owner may withdraw it.
func (l *Ledger) WithdrawInstance(caller core.Address, inst *game.Instance) (uint64, error) {
	if caller != inst.Owner {
		return 0, fmt.Errorf("%w: only the instance owner can withdraw its balance", errs.ErrUnauthorized)
	}
	amount, err := l.store.GetInstanceBalance(inst.ID)
	if err != nil {
		return 0, err
	}
	if amount == 0 {
		return 0, fmt.Errorf("%w: instance %s balance is empty", errs.ErrNothingOwed, inst.ID)
	}
	if err := l.store.SetInstanceBalance(inst.ID, 0); err != nil {
		return 0, err
	}
	return amount, nil
}

// CreditTemplate adds amount to the template royalty balance.
func (l *Ledger) CreditTemplate(amount uint64) error {
	if amount == 0 {
		return nil
	}
	cur, err := l.store.GetTemplateBalance()
	if err != nil {
		return err
	}
	next, err := add(cur, amount)
	if err != nil {
		return err
	}
	return l.store.SetTemplateBalance(next)
}

// TemplateBalance returns the accumulated template royalties.
func (l *Ledger) TemplateBalance() (uint64, error) {
	return l.store.GetTemplateBalance()
}

// WithdrawTemplate zeroes and returns the template royalty balance. Only
// templateOwner may withdraw it.
func (l *Ledger) WithdrawTemplate(caller, templateOwner core.Address) (uint64, error) {
	if templateOwner.IsZero() || caller != templateOwner {
		return 0, fmt.Errorf("%w: only the template owner can withdraw royalties", errs.ErrUnauthorized)
	}
	amount, err := l.store.GetTemplateBalance()
	if err != nil {
		return 0, err
	}
	if amount == 0 {
		return 0, fmt.Errorf("%w: template balance is empty", errs.ErrNothingOwed)
	}
	if err := l.store.SetTemplateBalance(0); err != nil {
		return 0, err
	}
	return amount, nil
}

// ApplySettlement books every credit of a resolved game.
func (l *Ledger) ApplySettlement(s *game.Settlement) error {
	if s == nil {
		return errors.New("nil settlement")
	}
	for _, c := range s.Credits {
		if err := l.Credit(s.InstanceID, c.Address, c.Amount); err != nil {
			return fmt.Errorf("credit %s: %w", c.Address.Short(), err)
		}
	}
	if err := l.CreditInstance(s.InstanceID, s.InstanceCredit); err != nil {
		return fmt.Errorf("credit instance: %w", err)
	}
	if err := l.CreditTemplate(s.TemplateCredit); err != nil {
		return fmt.Errorf("credit template: %w", err)
	}
	return nil
}
