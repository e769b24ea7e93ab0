// ABOUTME: Entry point for the berkeley command
// ABOUTME: Wires the coordinator, client, demo, and version subcommands with cobra
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/harperreed/berkeley-go/internal/config"
)

var configPath string

// Flags every subcommand shares, mapped to their config keys
var persistentBindings = map[string]string{
	"logging.file":  "log-file",
	"logging.debug": "debug",
	"wire.codec":    "codec",
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "berkeley",
		Short: "berkeley - Berkeley clock synchronization",
		Long: `berkeley runs a coordinator that periodically averages the clocks of
its connected clients, and the clients that report and correct their time.`,
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ./berkeley.yaml if present)")
	rootCmd.PersistentFlags().String("log-file", "", "Also write logs to this file")
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().String("codec", "json", "Wire codec clients request: json or cbor")

	rootCmd.AddCommand(coordinatorCmd())
	rootCmd.AddCommand(clientCmd())
	rootCmd.AddCommand(demoCmd())
	rootCmd.AddCommand(versionCmd())

	return rootCmd
}

// loadConfig layers .env, file, env, and the command's flags
func loadConfig(cmd *cobra.Command, bindings map[string]string) (*config.Config, error) {
	if err := config.LoadDotEnv(); err != nil {
		return nil, err
	}

	v := config.New()
	if err := bind(v, cmd, persistentBindings); err != nil {
		return nil, err
	}
	if err := bind(v, cmd, bindings); err != nil {
		return nil, err
	}

	return config.Load(v, configPath)
}

func bind(v *viper.Viper, cmd *cobra.Command, bindings map[string]string) error {
	return config.BindFlags(v, cmd.Flags(), bindings)
}
