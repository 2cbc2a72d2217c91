// Package indexer maintains secondary indexes over committed blocks so
// clients can list the games a player joined and the instances a factory or
// owner has created without scanning full state.
package indexer

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"slices"
	"sync"

	"github.com/JdoubleU92/numgame/core/errs"
	"github.com/JdoubleU92/numgame/events"
	"github.com/JdoubleU92/numgame/storage"
)

const (
	prefixPlayerGames    = "idx:player:game:"
	prefixFactoryClones  = "idx:factory:clone:"
	prefixOwnerInstances = "idx:owner:inst:"
)

// Indexer subscribes to chain events and updates secondary lookup tables.
type Indexer struct {
	mu      sync.Mutex // serialises read-modify-write of list keys
	db      storage.DB
	emitter *events.Emitter
	subs    []string
}

// New creates an Indexer backed by db and subscribes to relevant events.
func New(db storage.DB, emitter *events.Emitter) *Indexer {
	idx := &Indexer{db: db, emitter: emitter}
	idx.subs = append(idx.subs,
		emitter.Subscribe(events.EventCloneCreated, idx.onCloneCreated),
		emitter.Subscribe(events.EventPlayerCommitted, idx.onPlayerCommitted),
	)
	return idx
}

// Close detaches the indexer from the emitter.
func (idx *Indexer) Close() {
	idx.emitter.Unsubscribe(idx.subs...)
}

// GamesByPlayer returns the instance IDs a player has committed to, in the
// order they first joined.
func (idx *Indexer) GamesByPlayer(player string) ([]string, error) {
	return idx.getList(prefixPlayerGames + player)
}

// ClonesByFactory returns every instance ID the factory has minted, including
// released ones.
func (idx *Indexer) ClonesByFactory(factory string) ([]string, error) {
	return idx.getList(prefixFactoryClones + factory)
}

// InstancesByOwner returns every instance ID ever minted for owner.
func (idx *Indexer) InstancesByOwner(owner string) ([]string, error) {
	return idx.getList(prefixOwnerInstances + owner)
}

// ---- event handlers ----

func (idx *Indexer) onCloneCreated(ev events.Event) {
	id := ev.InstanceID()
	factory, _ := ev.Data["factory"].(string)
	owner, _ := ev.Data["owner"].(string)
	if id == "" || factory == "" || owner == "" {
		return
	}
	idx.add(prefixFactoryClones+factory, id)
	idx.add(prefixOwnerInstances+owner, id)
}

func (idx *Indexer) onPlayerCommitted(ev events.Event) {
	id := ev.InstanceID()
	player, _ := ev.Data["player"].(string)
	if id == "" || player == "" {
		return
	}
	idx.add(prefixPlayerGames+player, id)
}

// ---- list helpers ----

func (idx *Indexer) add(key, value string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if err := idx.addToList(key, value); err != nil {
		log.Printf("[indexer] update %s: %v", key, err)
	}
}

func (idx *Indexer) getList(key string) ([]string, error) {
	data, err := idx.db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil, nil // empty list
		}
		return nil, err
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("indexer unmarshal: %w", err)
	}
	return ids, nil
}

// addToList appends value unless it is already present.
func (idx *Indexer) addToList(key, value string) error {
	ids, err := idx.getList(key)
	if err != nil {
		return err
	}
	if slices.Contains(ids, value) {
		return nil
	}
	data, err := json.Marshal(append(ids, value))
	if err != nil {
		return err
	}
	return idx.db.Set([]byte(key), data)
}
