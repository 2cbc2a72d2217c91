// Package config loads node configuration from JSON or YAML files and the
// environment, and builds the genesis state.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/JdoubleU92/numgame/core"
	"github.com/JdoubleU92/numgame/game"
)

// Duration is a time.Duration written as a Go duration string ("5s") in
// JSON, YAML and the environment.
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// GenesisConfig describes the chain's initial state.
type GenesisConfig struct {
	ChainID string            `json:"chain_id" yaml:"chain_id"`
	Alloc   map[string]uint64 `json:"alloc" yaml:"alloc"` // pubkey hex → initial balance

	// TemplateOwner may edit the trust list and withdraws royalties.
	TemplateOwner    string   `json:"template_owner" yaml:"template_owner"`
	RoyaltyPercent   uint64   `json:"royalty_percent" yaml:"royalty_percent"`
	TrustedFactories []string `json:"trusted_factories" yaml:"trusted_factories"`
	TargetRule       string   `json:"target_rule" yaml:"target_rule"` // "mean" (default) or "median"
}

// TLSConfig enables HTTPS on the RPC server. ClientCA additionally requires
// clients to present a certificate signed by it.
type TLSConfig struct {
	CertFile string `json:"cert_file" yaml:"cert_file" env:"NUMGAME_RPC_TLS_CERT"`
	KeyFile  string `json:"key_file" yaml:"key_file" env:"NUMGAME_RPC_TLS_KEY"`
	ClientCA string `json:"client_ca" yaml:"client_ca" env:"NUMGAME_RPC_TLS_CLIENT_CA"`
}

// RPCConfig configures the JSON-RPC server.
type RPCConfig struct {
	Port      int       `json:"port" yaml:"port" env:"NUMGAME_RPC_PORT"`
	AuthToken string    `json:"auth_token" yaml:"auth_token" env:"NUMGAME_RPC_AUTH_TOKEN"`
	RateLimit float64   `json:"rate_limit" yaml:"rate_limit" env:"NUMGAME_RPC_RATE"` // sendTx per second; 0 disables
	RateBurst int       `json:"rate_burst" yaml:"rate_burst"`
	TLS       TLSConfig `json:"tls" yaml:"tls"`
}

// LiveStateConfig sets the synchronizer cadence used by websocket streams.
type LiveStateConfig struct {
	PollInterval Duration `json:"poll_interval" yaml:"poll_interval"`
	TickInterval Duration `json:"tick_interval" yaml:"tick_interval"`
}

// Config holds all node configuration.
type Config struct {
	NodeID        string          `json:"node_id" yaml:"node_id"`
	DataDir       string          `json:"data_dir" yaml:"data_dir" env:"NUMGAME_DATA_DIR"`
	MaxBlockTxs   int             `json:"max_block_txs" yaml:"max_block_txs"` // 0 → 500
	BlockInterval Duration        `json:"block_interval" yaml:"block_interval" env:"NUMGAME_BLOCK_INTERVAL"`
	RPC           RPCConfig       `json:"rpc" yaml:"rpc"`
	LiveState     LiveStateConfig `json:"live_state" yaml:"live_state"`
	Genesis       GenesisConfig   `json:"genesis" yaml:"genesis"`
}

// DefaultConfig returns a single-node development configuration.
func DefaultConfig() *Config {
	return &Config{
		NodeID:        "node0",
		DataDir:       "./data",
		MaxBlockTxs:   500,
		BlockInterval: Duration(2 * time.Second),
		RPC: RPCConfig{
			Port:      8545,
			RateLimit: 20,
			RateBurst: 40,
		},
		LiveState: LiveStateConfig{
			PollInterval: Duration(5 * time.Second),
			TickInterval: Duration(time.Second),
		},
		Genesis: GenesisConfig{
			ChainID:        "numgame-dev",
			Alloc:          map[string]uint64{},
			RoyaltyPercent: 10,
		},
	}
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// Load reads a JSON or YAML (by extension) config file over DefaultConfig,
// then applies environment overrides and validates the result. An empty
// path loads defaults plus environment only.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if isYAML(path) {
			err = yaml.Unmarshal(data, cfg)
		} else {
			err = json.Unmarshal(data, cfg)
		}
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides cfg fields from NUMGAME_* environment variables. Unset
// variables leave the current values alone.
func ApplyEnv(cfg *Config) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Validate rejects configurations the node cannot run with.
func (c *Config) Validate() error {
	if c.Genesis.ChainID == "" {
		return fmt.Errorf("genesis.chain_id is required")
	}
	if c.Genesis.RoyaltyPercent > 100 {
		return fmt.Errorf("genesis.royalty_percent %d exceeds 100", c.Genesis.RoyaltyPercent)
	}
	if _, err := game.RuleByName(c.Genesis.TargetRule); err != nil {
		return fmt.Errorf("genesis.target_rule: %w", err)
	}
	if c.Genesis.TemplateOwner != "" {
		if _, err := core.ParseAddress(c.Genesis.TemplateOwner); err != nil {
			return fmt.Errorf("genesis.template_owner: %w", err)
		}
	}
	if c.BlockInterval <= 0 {
		return fmt.Errorf("block_interval must be positive")
	}
	if c.LiveState.PollInterval <= 0 || c.LiveState.TickInterval <= 0 {
		return fmt.Errorf("live_state intervals must be positive")
	}
	if (c.RPC.TLS.CertFile == "") != (c.RPC.TLS.KeyFile == "") {
		return fmt.Errorf("rpc.tls needs both cert_file and key_file")
	}
	return nil
}

// Save writes the config to path as JSON or YAML, by extension.
func Save(cfg *Config, path string) error {
	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
