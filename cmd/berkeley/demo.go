// ABOUTME: demo subcommand
// ABOUTME: Runs one coordinator and several staggered clients in a single process
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/harperreed/berkeley-go/internal/agent"
	"github.com/harperreed/berkeley-go/internal/config"
	"github.com/harperreed/berkeley-go/internal/coordinator"
	"github.com/harperreed/berkeley-go/internal/ui"
)

var demoBindings = map[string]string{
	"coordinator.host":             "host",
	"coordinator.port":             "port",
	"coordinator.name":             "name",
	"coordinator.grace_period":     "grace",
	"coordinator.round_interval":   "interval",
	"coordinator.retry_interval":   "retry",
	"coordinator.response_timeout": "timeout",
	"coordinator.max_skew":         "max-skew",
	"demo.clients":                 "clients",
	"demo.stagger":                 "stagger",
	"demo.rounds":                  "rounds",
}

func demoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run a coordinator and clients in one process",
		Long:  "Start a coordinator, then the configured number of clients a little apart, and log every round",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, demoBindings)
			if err != nil {
				return err
			}
			return runDemo(cfg)
		},
	}

	addCoordinatorFlags(cmd)
	cmd.Flags().Int("clients", 4, "Number of clients")
	cmd.Flags().Duration("stagger", 500*time.Millisecond, "Delay between client starts")
	cmd.Flags().Int("rounds", 0, "Stop after this many rounds (0 = run until interrupted)")

	return cmd
}

func runDemo(cfg *config.Config) error {
	closeLog, err := setupLogging(cfg.Logging.File, false)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var rounds atomic.Int32
	sc := coordinatorConfig(cfg)
	sc.OnRound = func(s coordinator.Summary) {
		log.Printf("\n%s", ui.RenderSummary(s))
		if n := rounds.Add(1); cfg.Demo.Rounds > 0 && int(n) >= cfg.Demo.Rounds {
			log.Printf("Completed %d round(s), stopping", n)
			cancel()
		}
	}

	server, err := coordinator.New(sc)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Start(gctx) })

	select {
	case <-server.Ready():
	case <-gctx.Done():
		return g.Wait()
	}
	addr := server.Addr().String()

	log.Printf("Starting %d clients against %s", cfg.Demo.Clients, addr)
	for i := 0; i < cfg.Demo.Clients; i++ {
		if !sleepOrDone(gctx, cfg.Demo.Stagger) {
			break
		}

		ac := clientAgentConfig(cfg, addr)
		ac.ID = fmt.Sprintf("Client-%d", i+1)
		a := agent.New(ac)

		g.Go(func() error {
			// A client ending is never fatal to the demo
			if err := a.Run(gctx); err != nil {
				log.Printf("[%s] %v", a.ID(), err)
			}
			return nil
		})
	}

	return g.Wait()
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
