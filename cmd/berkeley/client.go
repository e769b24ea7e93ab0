// ABOUTME: client subcommand
// ABOUTME: Connects one agent to a coordinator, found by address or mDNS, and serves until it ends
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/harperreed/berkeley-go/internal/agent"
	"github.com/harperreed/berkeley-go/internal/config"
	"github.com/harperreed/berkeley-go/internal/discovery"
	"github.com/harperreed/berkeley-go/internal/ui"
)

var clientBindings = map[string]string{
	"client.server":           "server",
	"client.id":               "id",
	"client.discover":         "discover",
	"client.discover_timeout": "discover-timeout",
}

func clientCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "client [id]",
		Short: "Run a client",
		Long: `Connect to a coordinator, answer its time requests, and apply its
adjustments. The optional argument sets the display id.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, clientBindings)
			if err != nil {
				return err
			}
			if len(args) == 1 {
				cfg.Client.ID = args[0]
			}
			return runClient(cfg)
		},
	}

	cmd.Flags().String("server", "localhost:5000", "Coordinator address host:port")
	cmd.Flags().String("id", "", "Display id (default Client-NNNN)")
	cmd.Flags().Bool("discover", false, "Find the coordinator via mDNS instead of --server")
	cmd.Flags().Duration("discover-timeout", 10*time.Second, "How long to browse for a coordinator")

	return cmd
}

func runClient(cfg *config.Config) error {
	closeLog, err := setupLogging(cfg.Logging.File, false)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ac := clientAgentConfig(cfg, cfg.Client.Server)
	if cfg.Client.Discover {
		server, err := discoverCoordinator(ctx, cfg.Client.DiscoverTimeout)
		if err != nil {
			return err
		}
		ac.ServerAddr = server.Addr()
		ac.Path = server.Path
	}

	a := agent.New(ac)
	log.Printf("Starting client %s", a.ID())

	err = a.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func clientAgentConfig(cfg *config.Config, serverAddr string) agent.Config {
	return agent.Config{
		ServerAddr: serverAddr,
		ID:         cfg.Client.ID,
		Codec:      cfg.Wire.Codec,
		Debug:      cfg.Logging.Debug,
		OnAdjustment: func(adj agent.Adjustment) {
			log.Printf("Time before: %s, after: %s, offset %s",
				ui.FormatTime(adj.Before), ui.FormatTime(adj.After), ui.FormatDelta(adj.OffsetAfter))
		},
	}
}

func discoverCoordinator(ctx context.Context, timeout time.Duration) (*discovery.ServerInfo, error) {
	log.Printf("Starting coordinator discovery...")

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	server, err := discovery.Discover(ctx)
	if err != nil {
		return nil, fmt.Errorf("no coordinator found after %s: %w", timeout, err)
	}
	log.Printf("Discovered coordinator %s at %s%s", server.Name, server.Addr(), server.Path)
	return server, nil
}
