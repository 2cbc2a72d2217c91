package config

import (
	"fmt"
	"sort"

	"github.com/JdoubleU92/numgame/core"
	"github.com/JdoubleU92/numgame/crypto"
	"github.com/JdoubleU92/numgame/registry"
)

// GenesisHash is a canonical all-zeros previous hash for the genesis block.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// GenesisState is the part of the state genesis writes to.
type GenesisState interface {
	core.State
	SetTemplateInfo(info *registry.TemplateInfo) error
	SetTrusted(factory string, trusted bool) error
}

// CreateGenesisBlock builds and signs block #0: it funds the Alloc accounts,
// records the template owner and royalty, trusts the initial factories and
// commits the state.
func CreateGenesisBlock(cfg *Config, state GenesisState, proposerPriv crypto.PrivateKey) (*core.Block, error) {
	g := cfg.Genesis

	addrs := make([]string, 0, len(g.Alloc))
	for addr := range g.Alloc {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)
	for _, hex := range addrs {
		addr, err := core.ParseAddress(hex)
		if err != nil {
			return nil, fmt.Errorf("genesis alloc: %w", err)
		}
		if err := state.SetAccount(&core.Account{Address: addr, Balance: g.Alloc[hex]}); err != nil {
			return nil, err
		}
	}

	owner := core.Address(g.TemplateOwner)
	if owner.IsZero() {
		owner = core.Address(proposerPriv.Public().Hex())
	}
	info := &registry.TemplateInfo{Owner: owner, RoyaltyPercent: g.RoyaltyPercent, TargetRule: g.TargetRule}
	if err := state.SetTemplateInfo(info); err != nil {
		return nil, err
	}
	for _, f := range g.TrustedFactories {
		if err := state.SetTrusted(f, true); err != nil {
			return nil, err
		}
	}

	stateRoot := state.ComputeRoot()
	if err := state.Commit(); err != nil {
		return nil, err
	}

	block := core.NewBlock(0, GenesisHash, core.Address(proposerPriv.Public().Hex()), nil)
	block.Header.StateRoot = stateRoot
	// The chain ID is bound into the genesis hash through TxRoot.
	block.Header.TxRoot = crypto.Hash([]byte(g.ChainID))
	block.Sign(proposerPriv)
	return block, nil
}

// IsGenesisHash reports whether h is the canonical genesis prev-hash.
func IsGenesisHash(h string) bool {
	return h == GenesisHash
}
