package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/shipgate/shipgate/pkg/api"
	"github.com/shipgate/shipgate/pkg/events"
	"github.com/shipgate/shipgate/pkg/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP rollout API",
	Long: `Run the HTTP API that CI systems trigger rollouts through.

The server exposes POST /api/rollouts, rollout history under
/api/rollouts, a /healthz liveness endpoint and Prometheus metrics on
/metrics.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("listen", "", "Bind address (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	listen, _ := cmd.Flags().GetString("listen")
	if listen == "" {
		listen = cfg.Listen
	}

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to open store: %v", err)
	}
	defer store.Close()

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()
	go logEvents(broker.Subscribe())

	ctrl, err := buildController(cfg, store, broker)
	if err != nil {
		return err
	}

	server := api.NewServer(ctrl, store, broker)
	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(listen); err != nil {
			errCh <- fmt.Errorf("API server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		fmt.Println("\nShutting down...")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
