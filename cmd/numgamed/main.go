// Command numgamed runs a numgame node and submits game transactions to one.
package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/JdoubleU92/numgame/config"
)

var (
	cfgPath string
	keyPath string

	rootCmd = &cobra.Command{
		Use:   "numgamed",
		Short: "Commit-reveal number guessing game node and client",
		Long: `numgamed runs a single-validator chain hosting commit-reveal
number guessing games, and signs and submits transactions to it.`,
		SilenceUsage: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "path to config file (JSON or YAML)")
	rootCmd.PersistentFlags().StringVar(&keyPath, "key", "validator.key", "path to keystore file")
	rootCmd.AddCommand(nodeCmd, genkeyCmd, digestCmd, txCmd, watchCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// password reads the keystore password from the environment; flags would
// leak it through ps.
func password() string {
	pw := os.Getenv("NUMGAME_PASSWORD")
	if pw == "" {
		log.Println("WARNING: NUMGAME_PASSWORD not set, keystore uses an empty password")
	}
	return pw
}

func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		log.Printf("Config file not found at %s, using defaults.", path)
		path = ""
	}
	return config.Load(path)
}
