// Package registry holds the factory trust list and the clone records that
// bind each owner to the single live instance it minted.
package registry

import (
	"errors"
	"fmt"
	"strings"

	"github.com/JdoubleU92/numgame/core"
	"github.com/JdoubleU92/numgame/core/errs"
	"github.com/JdoubleU92/numgame/crypto"
	"github.com/JdoubleU92/numgame/game"
)

// TemplateInfo describes the template every instance is cloned from.
type TemplateInfo struct {
	Owner          core.Address `json:"owner"`
	RoyaltyPercent uint64       `json:"royalty_percent"`
	TargetRule     string       `json:"target_rule,omitempty"`
}

// CloneRecord binds an owner to its live instance and the factory that
// minted it. An owner has at most one record across all factories.
type CloneRecord struct {
	Factory    string       `json:"factory"`
	Owner      core.Address `json:"owner"`
	InstanceID string       `json:"instance_id"`
	CreatedAt  int64        `json:"created_at"`
}

// Store persists registry records. GetTemplateInfo and GetClone return
// errs.ErrNotFound for missing entries.
type Store interface {
	game.Store

	GetTemplateInfo() (*TemplateInfo, error)
	SetTemplateInfo(info *TemplateInfo) error

	IsTrusted(factory string) (bool, error)
	SetTrusted(factory string, trusted bool) error

	GetClone(owner core.Address) (*CloneRecord, error)
	SetClone(rec *CloneRecord) error
	DeleteClone(owner core.Address) error
}

// Registry implements the trust and clone registries over a Store.
type Registry struct {
	store Store
}

// New returns a Registry over store.
func New(store Store) *Registry {
	return &Registry{store: store}
}

// Template returns the template info written at genesis.
func (r *Registry) Template() (*TemplateInfo, error) {
	return r.store.GetTemplateInfo()
}

func (r *Registry) requireTemplateOwner(caller core.Address) error {
	info, err := r.store.GetTemplateInfo()
	if err != nil {
		return fmt.Errorf("template info: %w", err)
	}
	if info.Owner.IsZero() || caller != info.Owner {
		return fmt.Errorf("%w: only the template owner can change the trust list", errs.ErrUnauthorized)
	}
	return nil
}

func validFactory(factory string) error {
	if strings.TrimSpace(factory) == "" {
		return fmt.Errorf("%w: empty factory identifier", errs.ErrInvalidInput)
	}
	return nil
}

// AddTrustedFactory whitelists factory. It reports whether the trust list
// changed; adding a trusted factory again is a no-op.
func (r *Registry) AddTrustedFactory(caller core.Address, factory string) (bool, error) {
	return r.setTrusted(caller, factory, true)
}

// RemoveTrustedFactory removes factory from the whitelist. Existing clones
// keep working; their service fees simply stop paying royalties.
func (r *Registry) RemoveTrustedFactory(caller core.Address, factory string) (bool, error) {
	return r.setTrusted(caller, factory, false)
}

func (r *Registry) setTrusted(caller core.Address, factory string, trusted bool) (bool, error) {
	if err := r.requireTemplateOwner(caller); err != nil {
		return false, err
	}
	if err := validFactory(factory); err != nil {
		return false, err
	}
	cur, err := r.store.IsTrusted(factory)
	if err != nil {
		return false, err
	}
	if cur == trusted {
		return false, nil
	}
	return true, r.store.SetTrusted(factory, trusted)
}

// IsTrusted reports whether factory is whitelisted.
func (r *Registry) IsTrusted(factory string) (bool, error) {
	return r.store.IsTrusted(factory)
}

// RoyaltyPercent returns the template's share of inst's service fees: the
// configured percentage while inst's factory is trusted, zero otherwise.
func (r *Registry) RoyaltyPercent(inst *game.Instance) (uint64, error) {
	trusted, err := r.store.IsTrusted(inst.Factory)
	if err != nil || !trusted {
		return 0, err
	}
	info, err := r.store.GetTemplateInfo()
	if errors.Is(err, errs.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return info.RoyaltyPercent, nil
}

// InstanceID derives the identifier of the instance minted for owner from
// factory. seed must be unique per creation (the creating transaction's ID),
// so identifiers are never reused after a release.
func InstanceID(seed, factory string, owner core.Address) string {
	return crypto.Hash([]byte(seed + ":clone:" + factory + ":" + string(owner)))
}

// CreateClone mints a fresh Idle instance for owner from a trusted factory
// and records it. An owner holds at most one live clone, whatever factory
// minted it.
func (r *Registry) CreateClone(factory string, owner core.Address, seed string, now int64) (*game.Instance, error) {
	if err := validFactory(factory); err != nil {
		return nil, err
	}
	trusted, err := r.store.IsTrusted(factory)
	if err != nil {
		return nil, err
	}
	if !trusted {
		return nil, fmt.Errorf("%w: factory %q is not trusted", errs.ErrUnauthorized, factory)
	}

	switch rec, err := r.store.GetClone(owner); {
	case err == nil:
		return nil, fmt.Errorf("%w: %s already owns instance %s from %q",
			errs.ErrAlreadyOwns, owner.Short(), rec.InstanceID, rec.Factory)
	case !errors.Is(err, errs.ErrNotFound):
		return nil, err
	}

	id := InstanceID(seed, factory, owner)
	switch _, err := r.store.GetInstance(id); {
	case err == nil:
		return nil, fmt.Errorf("%w: instance id %s already allocated", errs.ErrAlreadyOwns, id)
	case !errors.Is(err, errs.ErrNotFound):
		return nil, err
	}

	inst := game.NewInstance(id, owner, factory, now)
	if err := r.store.SetInstance(inst); err != nil {
		return nil, err
	}
	rec := &CloneRecord{Factory: factory, Owner: owner, InstanceID: id, CreatedAt: now}
	if err := r.store.SetClone(rec); err != nil {
		return nil, err
	}
	return inst, nil
}

// InstanceByOwner returns owner's live instance, if any.
func (r *Registry) InstanceByOwner(owner core.Address) (string, bool, error) {
	rec, err := r.store.GetClone(owner)
	if errors.Is(err, errs.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return rec.InstanceID, true, nil
}

// ReleaseClone retires owner's live instance and frees the slot so a new
// clone can be created. A non-empty factory must match the one that minted
// the instance. The instance must have no unresolved game at now. Ledger
// balances of the retired instance remain withdrawable.
func (r *Registry) ReleaseClone(factory string, owner core.Address, now int64) (*game.Instance, error) {
	rec, err := r.store.GetClone(owner)
	if errors.Is(err, errs.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s has no live instance", errs.ErrNotFound, owner.Short())
	}
	if err != nil {
		return nil, err
	}
	if factory != "" && rec.Factory != factory {
		return nil, fmt.Errorf("%w: %s has no instance from %q", errs.ErrNotFound, owner.Short(), factory)
	}
	inst, err := r.store.GetInstance(rec.InstanceID)
	if err != nil {
		return nil, fmt.Errorf("instance %s: %w", rec.InstanceID, err)
	}
	if inst.PhaseAt(now).Active() {
		return nil, fmt.Errorf("%w: instance %s has a game in progress", errs.ErrPhaseViolation, inst.ID)
	}

	inst.Retired = true
	if err := r.store.SetInstance(inst); err != nil {
		return nil, err
	}
	if err := r.store.DeleteClone(owner); err != nil {
		return nil, err
	}
	return inst, nil
}
