package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shipgate/shipgate/pkg/cmdrun"
	"github.com/shipgate/shipgate/pkg/config"
	"github.com/shipgate/shipgate/pkg/deploy"
	"github.com/shipgate/shipgate/pkg/events"
	"github.com/shipgate/shipgate/pkg/log"
	"github.com/shipgate/shipgate/pkg/probe"
	"github.com/shipgate/shipgate/pkg/remote"
	"github.com/shipgate/shipgate/pkg/rollout"
	"github.com/shipgate/shipgate/pkg/storage"
)

// loadConfig reads the config file named by --config and initializes the
// global logger from it
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	log.Init(log.Config{
		Level:      log.Level(cfg.Log.Level),
		JSONOutput: cfg.Log.JSON,
	})
	return cfg, nil
}

// buildController wires one deploy stage per configured target into a
// rollout controller
func buildController(cfg *config.Config, store storage.Store, broker *events.Broker) (*rollout.Controller, error) {
	ctrl := rollout.New(store, broker, probe.New())

	for _, t := range cfg.Targets {
		runner, err := buildRunner(t)
		if err != nil {
			return nil, fmt.Errorf("target %q: %w", t.Host, err)
		}

		ctrl.RegisterTarget(rollout.Target{
			Host:     t.Host,
			Endpoint: t.Probe.Endpoint,
			Policy: probe.Policy{
				Interval:     t.Probe.Interval.Std(),
				Timeout:      t.Probe.Timeout.Std(),
				MaxAttempts:  t.Probe.MaxAttempts,
				SuccessToken: t.Probe.SuccessToken,
				StatusMin:    t.Probe.StatusMin,
				StatusMax:    t.Probe.StatusMax,
			},
			Deployer: deploy.NewStage(t.Host, runner, t.Commands),
		})
	}

	return ctrl, nil
}

// buildRunner picks the command transport for a target: the local shell
// for local targets, SSH for everything else
func buildRunner(t config.Target) (deploy.Runner, error) {
	if t.Local {
		return cmdrun.NewShell(t.CommandTimeout.Std()), nil
	}

	sshCfg, err := remote.ClientConfig(t.SSH.User, t.SSH.KeyFile, nil)
	if err != nil {
		return nil, err
	}

	executor := remote.NewExecutor(t.SSH.Addr, sshCfg)
	if t.CommandTimeout.Std() > 0 {
		executor.CommandTimeout = t.CommandTimeout.Std()
	}
	return executor, nil
}

// logEvents forwards broker events to the structured log until the
// subscription channel closes
func logEvents(sub events.Subscriber) {
	logger := log.WithComponent("events")
	for event := range sub {
		logger.Info().
			Str("rollout_id", event.RolloutID).
			Str("type", string(event.Type)).
			Str("host", event.Host).
			Str("reference", event.Reference).
			Str("state", string(event.State)).
			Str("message", event.Message).
			Time("timestamp", event.Timestamp).
			Msg("Rollout event")
	}
}
