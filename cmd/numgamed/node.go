package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/JdoubleU92/numgame/config"
	"github.com/JdoubleU92/numgame/consensus"
	"github.com/JdoubleU92/numgame/core"
	"github.com/JdoubleU92/numgame/events"
	"github.com/JdoubleU92/numgame/indexer"
	"github.com/JdoubleU92/numgame/livestate"
	"github.com/JdoubleU92/numgame/metrics"
	"github.com/JdoubleU92/numgame/rpc"
	"github.com/JdoubleU92/numgame/storage"
	"github.com/JdoubleU92/numgame/vm"
	"github.com/JdoubleU92/numgame/wallet"

	// Register VM modules
	_ "github.com/JdoubleU92/numgame/vm/modules/economy"
	_ "github.com/JdoubleU92/numgame/vm/modules/factory"
	_ "github.com/JdoubleU92/numgame/vm/modules/numgame"
	_ "github.com/JdoubleU92/numgame/vm/modules/payout"
)

var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Run the validator node with its RPC server",
	Args:  cobra.NoArgs,
	RunE:  runNode,
}

func runNode(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	privKey, err := wallet.LoadKey(keyPath, password())
	if err != nil {
		return fmt.Errorf("load key: %w", err)
	}

	// ---- open DB ----
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("mkdir data dir: %w", err)
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "chain"))
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	state := storage.NewStateDB(db)
	bc := core.NewBlockchain(storage.NewBlockStore(db))
	if err := bc.Init(); err != nil {
		return fmt.Errorf("blockchain init: %w", err)
	}

	emitter := events.NewEmitter()
	mempool := core.NewMempool(cfg.Genesis.ChainID)
	exec := vm.NewExecutor(cfg.Genesis.ChainID, state, emitter)
	poa := consensus.New(cfg, bc, mempool, exec, emitter, privKey)

	// ---- genesis block (if fresh chain), else check we own the chain ----
	if bc.Tip() == nil {
		genesis, err := config.CreateGenesisBlock(cfg, state, privKey)
		if err != nil {
			return fmt.Errorf("genesis: %w", err)
		}
		if err := poa.ValidateBlock(genesis); err != nil {
			return fmt.Errorf("validate genesis: %w", err)
		}
		if err := bc.AddBlock(genesis); err != nil {
			return fmt.Errorf("add genesis: %w", err)
		}
		log.Printf("Genesis block committed: %s", genesis.Hash)
	} else if err := poa.VerifyTip(); err != nil {
		return fmt.Errorf("stored chain: %w", err)
	}

	idx := indexer.New(db, emitter)
	defer idx.Close()
	detachMetrics := metrics.Attach(emitter)
	defer detachMetrics()

	// ---- RPC ----
	tlsCfg, err := cfg.RPC.TLS.ServerTLS()
	if err != nil {
		return fmt.Errorf("tls: %w", err)
	}
	rpcHandler := rpc.NewHandler(bc, mempool, db, idx, cfg.Genesis.ChainID)
	rpcHandler.SetRateLimit(cfg.RPC.RateLimit, cfg.RPC.RateBurst)
	rpcServer := rpc.NewServer(fmt.Sprintf(":%d", cfg.RPC.Port), rpcHandler, cfg.RPC.AuthToken, tlsCfg)
	rpcServer.Handle("/metrics", metrics.Handler())
	rpcServer.MountStream(rpc.NewStream(livestate.NewStateSource(db), emitter, livestate.Options{
		PollInterval: cfg.LiveState.PollInterval.Std(),
		TickInterval: cfg.LiveState.TickInterval.Std(),
	}))
	if err := rpcServer.Start(); err != nil {
		return fmt.Errorf("rpc start: %w", err)
	}
	log.Printf("RPC listening on %s (tls=%t)", rpcServer.Addr(), tlsCfg != nil)
	if cfg.RPC.AuthToken != "" {
		log.Println("RPC Bearer token authentication enabled")
	}

	// ---- consensus loop ----
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		poa.Run(ctx, cfg.BlockInterval.Std())
	}()
	log.Printf("Consensus running (validator: %s, height %d)", privKey.Public().Hex(), bc.Height())

	<-ctx.Done()
	log.Println("Shutting down...")

	// Stop consensus first so no block is written while the server drains.
	wg.Wait()
	if err := rpcServer.Stop(); err != nil {
		log.Printf("rpc stop: %v", err)
	}
	log.Println("Shutdown complete.")
	return nil
}

var genkeyCmd = &cobra.Command{
	Use:   "genkey",
	Short: "Generate a new key and save it to the keystore",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if _, err := os.Stat(keyPath); err == nil {
			return fmt.Errorf("%s already exists", keyPath)
		}
		w, err := wallet.Generate("")
		if err != nil {
			return err
		}
		if err := wallet.SaveKey(keyPath, password(), w.PrivKey()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Generated key. Address: %s\nSaved to: %s\n", w.Address(), keyPath)
		return nil
	},
}

// runContext returns a context cancelled on SIGINT or SIGTERM.
func runContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
}
