package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/JdoubleU92/numgame/core"
	"github.com/JdoubleU92/numgame/core/errs"
	"github.com/JdoubleU92/numgame/crypto"
	"github.com/JdoubleU92/numgame/game"
	"github.com/JdoubleU92/numgame/registry"
)

// registerPrefix records a state-key prefix so that ComputeRoot covers it.
// Every state prefix must be declared through it.
func registerPrefix(p string) string {
	statePrefixes = append(statePrefixes, p)
	return p
}

var statePrefixes []string

var (
	prefixAccount  = registerPrefix("acct:")
	prefixInstance = registerPrefix("inst:")
	prefixClone    = registerPrefix("clone:")
	prefixTrust    = registerPrefix("trust:")
	prefixOwed     = registerPrefix("owed:")
	prefixInstBal  = registerPrefix("ibal:")
	prefixTemplate = registerPrefix("tmpl:")
	prefixReceipt  = registerPrefix("rcpt:")
)

const (
	keyTemplateInfo    = "tmpl:info"
	keyTemplateBalance = "tmpl:balance"
)

// Clone records are keyed by owner alone: one live clone per owner.
func cloneKey(owner core.Address) string {
	return prefixClone + string(owner)
}

func owedKey(instanceID string, addr core.Address) string {
	return prefixOwed + instanceID + "\x00" + string(addr)
}

type stateSnapshot struct {
	dirty   map[string][]byte
	deleted map[string]bool
}

// StateDB implements core.State, game.Store, ledger.Store and registry.Store
// on top of a DB with an in-memory write buffer, snapshot/rollback and
// deterministic state-root computation.
//
// A StateDB is not safe for concurrent use. Readers that must not observe a
// half-applied block open their own StateDB over the same DB: with an empty
// write buffer it reads committed state only.
type StateDB struct {
	db        DB
	dirty     map[string][]byte
	deleted   map[string]bool
	snapshots []stateSnapshot
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
		return nil, errs.ErrNotFound
	}
	if v, ok := s.dirty[key]; ok {
		return v, nil
	}
	return s.db.Get([]byte(key))
}

func (s *StateDB) set(key string, val []byte) {
	delete(s.deleted, key)
	s.dirty[key] = val
}

func (s *StateDB) del(key string) {
	delete(s.dirty, key)
	s.deleted[key] = true
}

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
		return err
	}
	s.set(key, data)
	return nil
}

func (s *StateDB) getUint(key string) (uint64, error) {
	data, err := s.get(key)
	if errors.Is(err, errs.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(string(data), 10, 64)
}

// setUint stores v, deleting the key at zero so drained balances leave no
// trace in the state root.
func (s *StateDB) setUint(key string, v uint64) {
	if v == 0 {
		s.del(key)
		return
	}
	s.set(key, []byte(strconv.FormatUint(v, 10)))
}

// scan returns the merged view of persisted and buffered entries under
// prefix, sorted by key.
func (s *StateDB) scan(prefix string) (map[string][]byte, []string) {
	merged := make(map[string][]byte)
	it := s.db.NewIterator([]byte(prefix))
	for it.Next() {
		v := make([]byte, len(it.Value()))
		copy(v, it.Value())
		merged[string(it.Key())] = v
	}
	it.Release()
	for k, v := range s.dirty {
		if strings.HasPrefix(k, prefix) {
			merged[k] = v
		}
	}
	for k := range s.deleted {
		delete(merged, k)
	}
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return merged, keys
}

// ---- Account ----

func (s *StateDB) GetAccount(addr core.Address) (*core.Account, error) {
	var acc core.Account
	err := s.getJSON(prefixAccount+string(addr), &acc)
	if errors.Is(err, errs.ErrNotFound) {
		return &core.Account{Address: addr}, nil // zero-value account
	}
	if err != nil {
		return nil, err
	}
	return &acc, nil
}

func (s *StateDB) SetAccount(acc *core.Account) error {
	return s.setJSON(prefixAccount+string(acc.Address), acc)
}

// ---- Receipt ----

func (s *StateDB) GetReceipt(txID string) (*core.Receipt, error) {
	var r core.Receipt
	if err := s.getJSON(prefixReceipt+txID, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *StateDB) SetReceipt(r *core.Receipt) error {
	return s.setJSON(prefixReceipt+r.TxID, r)
}

// ---- Instance ----

func (s *StateDB) GetInstance(id string) (*game.Instance, error) {
	var inst game.Instance
	if err := s.getJSON(prefixInstance+id, &inst); err != nil {
		return nil, err
	}
	if inst.Wins == nil {
		inst.Wins = map[core.Address]uint64{}
	}
	return &inst, nil
}

func (s *StateDB) SetInstance(inst *game.Instance) error {
	return s.setJSON(prefixInstance+inst.ID, inst)
}

// ---- Registry ----

func (s *StateDB) GetTemplateInfo() (*registry.TemplateInfo, error) {
	var info registry.TemplateInfo
	if err := s.getJSON(keyTemplateInfo, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (s *StateDB) SetTemplateInfo(info *registry.TemplateInfo) error {
	return s.setJSON(keyTemplateInfo, info)
}

func (s *StateDB) IsTrusted(factory string) (bool, error) {
	_, err := s.get(prefixTrust + factory)
	if errors.Is(err, errs.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *StateDB) SetTrusted(factory string, trusted bool) error {
	if trusted {
		s.set(prefixTrust+factory, []byte{1})
	} else {
		s.del(prefixTrust + factory)
	}
	return nil
}

// TrustedFactories lists the whitelisted factories in ascending order.
func (s *StateDB) TrustedFactories() []string {
	_, keys := s.scan(prefixTrust)
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = strings.TrimPrefix(k, prefixTrust)
	}
	return out
}

func (s *StateDB) GetClone(owner core.Address) (*registry.CloneRecord, error) {
	var rec registry.CloneRecord
	if err := s.getJSON(cloneKey(owner), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *StateDB) SetClone(rec *registry.CloneRecord) error {
	return s.setJSON(cloneKey(rec.Owner), rec)
}

func (s *StateDB) DeleteClone(owner core.Address) error {
	s.del(cloneKey(owner))
	return nil
}

// ---- Ledger ----

func (s *StateDB) GetOwed(instanceID string, addr core.Address) (uint64, error) {
	return s.getUint(owedKey(instanceID, addr))
}

func (s *StateDB) SetOwed(instanceID string, addr core.Address, amount uint64) error {
	s.setUint(owedKey(instanceID, addr), amount)
	return nil
}

func (s *StateDB) GetInstanceBalance(instanceID string) (uint64, error) {
	return s.getUint(prefixInstBal + instanceID)
}

func (s *StateDB) SetInstanceBalance(instanceID string, amount uint64) error {
	s.setUint(prefixInstBal+instanceID, amount)
	return nil
}

func (s *StateDB) GetTemplateBalance() (uint64, error) {
	return s.getUint(keyTemplateBalance)
}

func (s *StateDB) SetTemplateBalance(amount uint64) error {
	s.setUint(keyTemplateBalance, amount)
	return nil
}

// ---- Snapshot / Rollback / Commit ----

func copyBuffer(dirty map[string][]byte, deleted map[string]bool) (map[string][]byte, map[string]bool) {
	d := make(map[string][]byte, len(dirty))
	for k, v := range dirty {
		cp := make([]byte, len(v))
		copy(cp, v)
		d[k] = cp
	}
	del := make(map[string]bool, len(deleted))
	for k, v := range deleted {
		del[k] = v
	}
	return d, del
}

// Snapshot saves the current write buffer and returns a snapshot ID.
func (s *StateDB) Snapshot() (int, error) {
	dirty, deleted := copyBuffer(s.dirty, s.deleted)
	s.snapshots = append(s.snapshots, stateSnapshot{dirty: dirty, deleted: deleted})
	return len(s.snapshots) - 1, nil
}

// RevertToSnapshot restores the write buffer to a previously saved snapshot
// and discards it along with every later snapshot.
func (s *StateDB) RevertToSnapshot(id int) error {
	if id < 0 || id >= len(s.snapshots) {
		return fmt.Errorf("invalid snapshot id %d", id)
	}
	snap := s.snapshots[id]
	s.dirty, s.deleted = copyBuffer(snap.dirty, snap.deleted)
	s.snapshots = s.snapshots[:id]
	return nil
}

// DiscardSnapshots drops saved snapshots without touching the write buffer.
func (s *StateDB) DiscardSnapshots() {
	s.snapshots = nil
}

// ComputeRoot returns the deterministic hash of the complete world state:
// persisted entries under every registered prefix merged with the write
// buffer, sorted and length-prefix encoded. It does not flush anything, so
// it is safe to call before signing a block.
func (s *StateDB) ComputeRoot() string {
	var buf bytes.Buffer
	var lenBuf [4]byte
	for _, prefix := range sortedPrefixes() {
		merged, keys := s.scan(prefix)
		for _, k := range keys {
			v := merged[k]
			binary.BigEndian.PutUint32(lenBuf[:], uint32(len(k)))
			buf.Write(lenBuf[:])
			buf.WriteString(k)
			binary.BigEndian.PutUint32(lenBuf[:], uint32(len(v)))
			buf.Write(lenBuf[:])
			buf.Write(v)
		}
	}
	return crypto.Hash(buf.Bytes())
}

func sortedPrefixes() []string {
	p := append([]string(nil), statePrefixes...)
	sort.Strings(p)
	return p
}

// Commit atomically flushes the write buffer to the DB and clears it.
// Call ComputeRoot before signing the block and Commit once it is stored.
func (s *StateDB) Commit() error {
	batch := s.db.NewBatch()
	for k, v := range s.dirty {
		batch.Set([]byte(k), v)
	}
	for k := range s.deleted {
		batch.Delete([]byte(k))
	}
	if err := batch.Write(); err != nil {
		return err
	}
	s.dirty = make(map[string][]byte)
	s.deleted = make(map[string]bool)
	s.snapshots = nil
	return nil
}
