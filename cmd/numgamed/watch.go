package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/JdoubleU92/numgame/game"
	"github.com/JdoubleU92/numgame/livestate"
)

var (
	watchPoll time.Duration
	watchTick time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch <instance>",
	Short: "Follow an instance's state and deadlines by polling a node",
	Args:  cobra.ExactArgs(1),
	RunE:  runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&rpcURL, "rpc", "http://127.0.0.1:8545", "node RPC endpoint")
	watchCmd.Flags().DurationVar(&watchPoll, "poll", livestate.DefaultPollInterval, "snapshot poll interval")
	watchCmd.Flags().DurationVar(&watchTick, "tick", 10*time.Second, "countdown print interval")
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	ctx, cancel := runContext(cmd)
	defer cancel()

	out := cmd.OutOrStdout()
	var last game.Snapshot
	cb := livestate.Callbacks{
		OnSnapshot: func(snap game.Snapshot) {
			if snap.Phase == last.Phase && snap.Committed == last.Committed &&
				snap.Revealed == last.Revealed && snap.GameCount == last.GameCount {
				return
			}
			last = snap
			fmt.Fprintf(out, "game %d %s: %d/%d committed, %d revealed, prize %d\n",
				snap.GameCount, snap.Phase, snap.Committed, snap.RequiredPlayers, snap.Revealed, snap.PrizeAmount)
			if r := snap.LastResult; r != nil && !snap.Active {
				_ = printJSON(cmd, r)
			}
		},
		OnTick: func(_ string, c livestate.Countdown) {
			fmt.Fprintf(out, "  %s: %02d:%02d:%02d left [%s]\n", c.Region, c.Hours, c.Minutes, c.Seconds, c.Severity)
		},
	}

	// Remote nodes are observed by polling only; there is no local emitter.
	ls := livestate.New(newClient(cfg.RPC.AuthToken), nil, cb, livestate.Options{
		PollInterval: watchPoll,
		TickInterval: watchTick,
	})
	defer ls.Close()
	if err := ls.Track(ctx, args[0]); err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}
