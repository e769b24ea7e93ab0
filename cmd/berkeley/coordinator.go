// ABOUTME: coordinator subcommand
// ABOUTME: Runs the Berkeley coordinator with logged round reports or the dashboard
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/harperreed/berkeley-go/internal/config"
	"github.com/harperreed/berkeley-go/internal/coordinator"
	"github.com/harperreed/berkeley-go/internal/ui"
)

var coordinatorBindings = map[string]string{
	"coordinator.host":             "host",
	"coordinator.port":             "port",
	"coordinator.name":             "name",
	"coordinator.grace_period":     "grace",
	"coordinator.round_interval":   "interval",
	"coordinator.retry_interval":   "retry",
	"coordinator.response_timeout": "timeout",
	"coordinator.max_skew":         "max-skew",
	"coordinator.mdns":             "mdns",
	"coordinator.tui":              "tui",
}

func coordinatorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "coordinator",
		Aliases: []string{"server"},
		Short:   "Run the coordinator",
		Long:    "Accept clients and run a synchronization round every interval",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, coordinatorBindings)
			if err != nil {
				return err
			}
			return runCoordinator(cfg)
		},
	}

	addCoordinatorFlags(cmd)
	cmd.Flags().Bool("mdns", false, "Advertise via mDNS")
	cmd.Flags().Bool("tui", false, "Show the dashboard instead of streaming logs")

	return cmd
}

// addCoordinatorFlags declares the flags the coordinator and demo share
func addCoordinatorFlags(cmd *cobra.Command) {
	cmd.Flags().String("host", "localhost", "Listen host")
	cmd.Flags().Int("port", 5000, "Listen port")
	cmd.Flags().String("name", "Coordinator", "Coordinator display name")
	cmd.Flags().Duration("grace", 5*time.Second, "Wait before the first round")
	cmd.Flags().Duration("interval", 20*time.Second, "Wait between rounds")
	cmd.Flags().Duration("retry", 5*time.Second, "Wait when no client is connected")
	cmd.Flags().Duration("timeout", 5*time.Second, "Per-client response timeout")
	cmd.Flags().Float64("max-skew", 0, "Exclude reported times further than this many seconds (0 = off)")
}

func coordinatorConfig(cfg *config.Config) coordinator.Config {
	return coordinator.Config{
		Addr:            cfg.Coordinator.Addr(),
		Name:            cfg.Coordinator.Name,
		GracePeriod:     cfg.Coordinator.GracePeriod,
		RoundInterval:   cfg.Coordinator.RoundInterval,
		RetryInterval:   cfg.Coordinator.RetryInterval,
		ResponseTimeout: cfg.Coordinator.ResponseTimeout,
		MaxSkew:         cfg.Coordinator.MaxSkew,
		EnableMDNS:      cfg.Coordinator.MDNS,
		Debug:           cfg.Logging.Debug,
	}
}

func runCoordinator(cfg *config.Config) error {
	useTUI := cfg.Coordinator.TUI

	closeLog, err := setupLogging(cfg.Logging.File, useTUI)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var dashboard *ui.Dashboard
	var server *coordinator.Server

	refresh := func() {
		if dashboard != nil {
			dashboard.Update(dashboardStatus(server))
		}
	}

	sc := coordinatorConfig(cfg)
	sc.OnRound = func(s coordinator.Summary) {
		if dashboard != nil {
			refresh()
			return
		}
		log.Printf("\n%s", ui.RenderSummary(s))
	}
	sc.OnClientsChanged = func([]coordinator.PeerInfo) { refresh() }

	server, err = coordinator.New(sc)
	if err != nil {
		return err
	}

	if useTUI {
		dashboard = ui.NewDashboard(ui.Status{
			Name: server.Name(),
			Addr: cfg.Coordinator.Addr(),
		})
		runDashboard(ctx, dashboard, server, stop)
		defer dashboard.Stop()
	}

	return server.Start(ctx)
}

// runDashboard starts the TUI and a one-second refresh; quitting the
// TUI cancels the coordinator
func runDashboard(ctx context.Context, d *ui.Dashboard, server *coordinator.Server, cancel func()) {
	go func() {
		if err := d.Run(); err != nil {
			log.Printf("Dashboard error: %v", err)
		}
		cancel()
	}()

	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-d.QuitChan():
				cancel()
				return
			case <-ticker.C:
				d.Update(dashboardStatus(server))
			}
		}
	}()
}

func dashboardStatus(server *coordinator.Server) ui.Status {
	status := ui.Status{
		Name:    server.Name(),
		Offset:  server.Clock().Offset(),
		Now:     server.Clock().Now(),
		Clients: server.Clients(),
	}
	if addr := server.Addr(); addr != nil {
		status.Addr = addr.String()
	}
	status.Last, status.Rounds = server.LastRound()
	return status
}
