// Package consensus implements single-authority block production. One
// validator key signs every block; a block is checked against that key and
// the current tip before it is stored, and the stored tip is checked again
// when the node restarts.
//
// The producer is the only writer of chain state: every game transition is
// applied by ProduceBlock on a single goroutine, in mempool arrival order.
package consensus

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/JdoubleU92/numgame/config"
	"github.com/JdoubleU92/numgame/core"
	"github.com/JdoubleU92/numgame/crypto"
	"github.com/JdoubleU92/numgame/events"
	"github.com/JdoubleU92/numgame/vm"
)

const defaultMaxBlockTxs = 500

// PoA is the Proof-of-Authority consensus engine.
type PoA struct {
	cfg     *config.Config
	bc      *core.Blockchain
	mempool *core.Mempool
	exec    *vm.Executor
	emitter *events.Emitter
	privKey crypto.PrivateKey
	pubKey  crypto.PublicKey

	mu  sync.Mutex // serializes ProduceBlock
	now func() time.Time
}

// New creates a PoA engine for the local validator identified by privKey.
func New(
	cfg *config.Config,
	bc *core.Blockchain,
	mempool *core.Mempool,
	exec *vm.Executor,
	emitter *events.Emitter,
	privKey crypto.PrivateKey,
) *PoA {
	exec.DeferEvents(true)
	return &PoA{
		cfg:     cfg,
		bc:      bc,
		mempool: mempool,
		exec:    exec,
		emitter: emitter,
		privKey: privKey,
		pubKey:  privKey.Public(),
		now:     time.Now,
	}
}

// SetClock replaces the wall clock used to stamp blocks.
func (p *PoA) SetClock(now func() time.Time) { p.now = now }

// ProduceBlock executes pending transactions, then signs, stores and commits
// the next block. Rejected transactions are dropped from the mempool and left
// out of the block; transactions whose handler failed are included with a
// failed receipt.
func (p *PoA) ProduceBlock() (*core.Block, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	limit := p.cfg.MaxBlockTxs
	if limit <= 0 {
		limit = defaultMaxBlockTxs
	}
	pending := p.mempool.Pending(limit)

	prevHash, nextHeight := config.GenesisHash, int64(1)
	ts := p.now()
	if tip := p.bc.Tip(); tip != nil {
		prevHash, nextHeight = tip.Hash, tip.Header.Height+1
		// Block time never runs backwards, even if the wall clock does.
		if tipTime := time.Unix(0, tip.Header.Timestamp); ts.Before(tipTime) {
			ts = tipTime
		}
	}
	block := core.NewBlockAt(nextHeight, prevHash, core.Address(p.pubKey.Hex()), nil, ts)

	state := p.exec.State()
	blockSnap, err := state.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	abort := func() {
		p.exec.DiscardEvents()
		if rerr := state.RevertToSnapshot(blockSnap); rerr != nil {
			log.Printf("[consensus] revert block %d: %v", nextHeight, rerr)
		}
	}

	included := make([]*core.Transaction, 0, len(pending))
	done := make([]string, 0, len(pending))
	for _, tx := range pending {
		done = append(done, tx.ID)
		if _, err := p.exec.ExecuteTx(block, tx); err != nil {
			if !errors.Is(err, vm.ErrRejected) {
				abort()
				return nil, fmt.Errorf("execute tx %s: %w", tx.ID, err)
			}
			log.Printf("[consensus] dropped tx %s: %v", tx.ID, err)
			continue
		}
		included = append(included, tx)
	}
	block.SetTransactions(included)

	// Compute root from the write buffer BEFORE flushing so that if AddBlock
	// fails the state has not yet been persisted and the node stays consistent.
	block.Header.StateRoot = state.ComputeRoot()
	block.Sign(p.privKey)

	if err := p.ValidateBlock(block); err != nil {
		abort()
		return nil, fmt.Errorf("validate block %d: %w", nextHeight, err)
	}
	if err := p.bc.AddBlock(block); err != nil {
		abort()
		return nil, fmt.Errorf("add block: %w", err)
	}

	// Flush state only after the block is safely stored.
	if err := state.Commit(); err != nil {
		log.Fatalf("[consensus] FATAL: block %d stored but state commit failed: %v",
			block.Header.Height, err)
	}
	p.mempool.Remove(done)
	p.exec.FlushEvents()

	// Emit after Sign() so block.Hash is set correctly.
	p.emitter.Emit(events.Event{
		Type:        events.EventBlockCommit,
		BlockHeight: block.Header.Height,
		Data: map[string]any{
			"hash":      block.Hash,
			"txs":       len(block.Transactions),
			"dropped":   len(pending) - len(included),
			"timestamp": block.Unix(),
		},
	})
	return block, nil
}

// ValidateBlock checks that block is signed by this node's validator key and
// extends the current tip. With no tip, block must be the genesis block.
func (p *PoA) ValidateBlock(block *core.Block) error {
	if err := p.verifySeal(block); err != nil {
		return err
	}

	tip := p.bc.Tip()
	if tip == nil {
		if !config.IsGenesisHash(block.Header.PrevHash) || block.Header.Height != 0 {
			return errors.New("first block must be height 0 and reference the genesis prev-hash")
		}
		return nil
	}
	if block.Header.PrevHash != tip.Hash {
		return fmt.Errorf("prev_hash mismatch: got %s want %s", block.Header.PrevHash, tip.Hash)
	}
	if block.Header.Height != tip.Header.Height+1 {
		return fmt.Errorf("height mismatch: got %d want %d", block.Header.Height, tip.Header.Height+1)
	}
	return nil
}

// VerifyTip checks that a persisted chain tip was sealed by this node's
// validator key, so a node restarted with a different key refuses to extend
// a chain it does not own. An empty chain passes.
func (p *PoA) VerifyTip() error {
	tip := p.bc.Tip()
	if tip == nil {
		return nil
	}
	if err := p.verifySeal(tip); err != nil {
		return fmt.Errorf("tip %d: %w", tip.Header.Height, err)
	}
	return nil
}

func (p *PoA) verifySeal(block *core.Block) error {
	if string(block.Header.Proposer) != p.pubKey.Hex() {
		return fmt.Errorf("wrong proposer: got %s want %s", block.Header.Proposer, p.pubKey.Hex())
	}
	if block.Hash != block.ComputeHash() {
		return errors.New("block hash does not match header")
	}
	if err := block.Verify(p.pubKey); err != nil {
		return fmt.Errorf("block signature invalid: %w", err)
	}
	return nil
}

// Run produces a block every interval until ctx is cancelled. Empty rounds
// still produce a block so that game deadlines keep advancing on chain.
func (p *PoA) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.ProduceBlock(); err != nil {
				log.Printf("[consensus] produce block error: %v", err)
			}
		}
	}
}
