package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/JdoubleU92/numgame/core"
	"github.com/JdoubleU92/numgame/crypto"
	"github.com/JdoubleU92/numgame/rpc"
	"github.com/JdoubleU92/numgame/wallet"
)

var (
	rpcURL  string
	txFee   uint64
	txWait  time.Duration
	remove  bool
	salt    string
	value   uint64
	players int
	buyIn   uint64
	svcFee  uint64
	commitD time.Duration
	revealD time.Duration
)

var digestCmd = &cobra.Command{
	Use:   "digest <number>",
	Short: "Compute the commitment digest for a number and salt",
	Long: `digest prints the commitment digest sha256(salt || number). Without
--salt a random salt is generated; keep it, the reveal needs it.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("number: %w", err)
		}
		s := salt
		if s == "" {
			if s, err = wallet.NewSalt(); err != nil {
				return err
			}
		}
		d, err := crypto.ComputeDigest(s, n)
		if err != nil {
			return err
		}
		return printJSON(cmd, map[string]any{"number": n, "salt": s, "digest": d})
	},
}

var txCmd = &cobra.Command{
	Use:   "tx",
	Short: "Sign and submit a transaction with the keystore key",
}

// txBuilder builds a transaction for the sender's next nonce.
type txBuilder func(w *wallet.Wallet, nonce uint64, args []string) (*core.Transaction, error)

func txSub(use, short string, nargs int, build txBuilder) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(nargs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return submit(cmd, args, build)
		},
	}
}

func init() {
	txCmd.PersistentFlags().StringVar(&rpcURL, "rpc", "http://127.0.0.1:8545", "node RPC endpoint")
	txCmd.PersistentFlags().Uint64Var(&txFee, "fee", 0, "transaction fee")
	txCmd.PersistentFlags().DurationVar(&txWait, "wait", 30*time.Second, "how long to wait for the receipt; 0 returns right after submission")
	digestCmd.Flags().StringVar(&salt, "salt", "", "salt to hash with the number (random when empty)")

	transfer := txSub("transfer <to> <amount>", "Transfer balance to another address", 2,
		func(w *wallet.Wallet, nonce uint64, args []string) (*core.Transaction, error) {
			to, err := core.ParseAddress(args[0])
			if err != nil {
				return nil, err
			}
			amount, err := strconv.ParseUint(args[1], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("amount: %w", err)
			}
			return w.Transfer(to, amount, nonce, txFee)
		})

	clone := txSub("clone <factory>", "Create a game instance from a factory", 1,
		func(w *wallet.Wallet, nonce uint64, args []string) (*core.Transaction, error) {
			return w.CreateClone(args[0], nonce, txFee)
		})

	release := &cobra.Command{
		Use:   "release [factory]",
		Short: "Release your live clone",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return submit(cmd, args, func(w *wallet.Wallet, nonce uint64, args []string) (*core.Transaction, error) {
				factory := ""
				if len(args) == 1 {
					factory = args[0]
				}
				return w.ReleaseClone(factory, nonce, txFee)
			})
		},
	}

	trust := txSub("trust <factory>", "Add a factory to the trust list (template owner only)", 1,
		func(w *wallet.Wallet, nonce uint64, args []string) (*core.Transaction, error) {
			return w.TrustFactory(args[0], !remove, nonce, txFee)
		})
	trust.Flags().BoolVar(&remove, "remove", false, "remove the factory instead")

	start := txSub("start <instance>", "Start a game on your instance", 1,
		func(w *wallet.Wallet, nonce uint64, args []string) (*core.Transaction, error) {
			return w.StartGame(core.StartGamePayload{
				InstanceID:      args[0],
				RequiredPlayers: players,
				BuyIn:           buyIn,
				ServiceFee:      svcFee,
				CommitDuration:  int64(commitD / time.Second),
				RevealDuration:  int64(revealD / time.Second),
			}, nonce, txFee)
		})
	start.Flags().IntVar(&players, "players", 2, "required number of players")
	start.Flags().Uint64Var(&buyIn, "buy-in", 100, "buy-in per player")
	start.Flags().Uint64Var(&svcFee, "service-fee", 0, "part of each buy-in kept by the host")
	start.Flags().DurationVar(&commitD, "commit", time.Hour, "commit phase length")
	start.Flags().DurationVar(&revealD, "reveal", time.Hour, "reveal phase length")

	commit := txSub("commit <instance> <number>", "Commit a hidden number and pay the buy-in", 2,
		func(w *wallet.Wallet, nonce uint64, args []string) (*core.Transaction, error) {
			n, err := strconv.Atoi(args[1])
			if err != nil {
				return nil, fmt.Errorf("number: %w", err)
			}
			if salt == "" {
				return nil, fmt.Errorf("--salt is required; generate one with `numgamed digest`")
			}
			return w.Commit(args[0], n, salt, value, nonce, txFee)
		})
	commit.Flags().StringVar(&salt, "salt", "", "salt hashed with the number")
	commit.Flags().Uint64Var(&value, "value", 0, "payment, must equal the buy-in")

	reveal := txSub("reveal <instance> <number> <salt>", "Reveal a committed number", 3,
		func(w *wallet.Wallet, nonce uint64, args []string) (*core.Transaction, error) {
			n, err := strconv.Atoi(args[1])
			if err != nil {
				return nil, fmt.Errorf("number: %w", err)
			}
			return w.Reveal(args[0], n, args[2], nonce, txFee)
		})

	resolve := txSub("resolve <instance>", "Determine the winner of a finished game", 1,
		func(w *wallet.Wallet, nonce uint64, args []string) (*core.Transaction, error) {
			return w.DetermineWinner(args[0], nonce, txFee)
		})

	refund := txSub("withdraw-refund <instance>", "Withdraw what an instance owes you", 1,
		func(w *wallet.Wallet, nonce uint64, args []string) (*core.Transaction, error) {
			return w.WithdrawRefund(args[0], nonce, txFee)
		})

	instBal := txSub("withdraw-instance <instance>", "Withdraw host fees from your instance", 1,
		func(w *wallet.Wallet, nonce uint64, args []string) (*core.Transaction, error) {
			return w.WithdrawInstanceBalance(args[0], nonce, txFee)
		})

	tmplBal := txSub("withdraw-template", "Withdraw accrued template royalties", 0,
		func(w *wallet.Wallet, nonce uint64, _ []string) (*core.Transaction, error) {
			return w.WithdrawTemplateBalance(nonce, txFee)
		})

	fund := txSub("fund <instance> <amount>", "Add to an instance's host balance", 2,
		func(w *wallet.Wallet, nonce uint64, args []string) (*core.Transaction, error) {
			amount, err := strconv.ParseUint(args[1], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("amount: %w", err)
			}
			return w.FundInstance(args[0], amount, nonce, txFee)
		})

	txCmd.AddCommand(transfer, clone, release, trust, start, commit, reveal, resolve, refund, instBal, tmplBal, fund)
}

func newClient(token string) *rpc.Client {
	return rpc.NewClient(rpcURL, token)
}

// submit loads the wallet, signs the built transaction at the current nonce,
// sends it and optionally waits for its receipt.
func submit(cmd *cobra.Command, args []string, build txBuilder) error {
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	w, err := wallet.LoadWallet(keyPath, password(), cfg.Genesis.ChainID)
	if err != nil {
		return fmt.Errorf("load wallet: %w", err)
	}

	ctx, cancel := runContext(cmd)
	defer cancel()
	client := newClient(cfg.RPC.AuthToken)

	nonce, err := client.Nonce(ctx, w.Address())
	if err != nil {
		return err
	}
	tx, err := build(w, nonce, args)
	if err != nil {
		return err
	}
	txID, err := client.SendTx(ctx, tx)
	if err != nil {
		return err
	}
	if txWait <= 0 {
		return printJSON(cmd, map[string]string{"tx_id": txID})
	}

	waitCtx, cancelWait := context.WithTimeout(ctx, txWait)
	defer cancelWait()
	receipt, err := client.WaitReceipt(waitCtx, txID, 500*time.Millisecond)
	if err != nil {
		return fmt.Errorf("wait for %s: %w", txID, err)
	}
	if err := printJSON(cmd, receipt); err != nil {
		return err
	}
	if receipt.Status != core.ReceiptOK {
		return fmt.Errorf("transaction failed: %s", receipt.Error)
	}
	return nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
