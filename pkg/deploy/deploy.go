package deploy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shipgate/shipgate/pkg/log"
	"github.com/shipgate/shipgate/pkg/types"
)

// refToken is replaced with the deployment reference in command templates
const refToken = "{ref}"

// SubStep identifies one of the ordered deploy commands
type SubStep string

const (
	SubStepFetch   SubStep = "fetch"
	SubStepInstall SubStep = "install"
	SubStepRestart SubStep = "restart"
)

// Runner executes a command on the target host. Implemented by
// remote.Executor; tests substitute fakes.
type Runner interface {
	Run(ctx context.Context, command string) (*types.CommandResult, error)
}

// Commands holds the command templates for the three sub-steps. The fetch
// template may reference {ref}, which is substituted with the deployment
// reference.
type Commands struct {
	Fetch   string `yaml:"fetch"`
	Install string `yaml:"install"`
	Restart string `yaml:"restart"`
}

// Validate checks that all three sub-steps are configured
func (c Commands) Validate() error {
	if strings.TrimSpace(c.Fetch) == "" {
		return fmt.Errorf("deploy commands: fetch is required")
	}
	if strings.TrimSpace(c.Install) == "" {
		return fmt.Errorf("deploy commands: install is required")
	}
	if strings.TrimSpace(c.Restart) == "" {
		return fmt.Errorf("deploy commands: restart is required")
	}
	return nil
}

// StepError reports which sub-step failed and why. Exactly one of Result
// and Err is meaningful: Result for a command that ran and exited non-zero
// (or timed out), Err for infrastructure failures from the runner.
type StepError struct {
	Step   SubStep
	Result *types.CommandResult
	Err    error
}

func (e *StepError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s failed: %v", e.Step, e.Err)
	}
	if e.Result != nil && e.Result.TimedOut {
		return fmt.Sprintf("%s timed out after %s", e.Step, e.Result.Duration.Round(time.Millisecond))
	}
	if e.Result != nil {
		detail := strings.TrimSpace(e.Result.Stderr)
		if detail == "" {
			detail = strings.TrimSpace(e.Result.Stdout)
		}
		if detail != "" {
			return fmt.Sprintf("%s exited with status %d: %s", e.Step, e.Result.ExitCode, detail)
		}
		return fmt.Sprintf("%s exited with status %d", e.Step, e.Result.ExitCode)
	}
	return fmt.Sprintf("%s failed", e.Step)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Stage ships one deployment reference to a host: fetch the reference,
// install dependencies, restart the process manager. Strict order, stops at
// the first failing sub-step. Sub-steps are never retried here; surfacing
// is the rollout controller's job.
type Stage struct {
	host     string
	runner   Runner
	commands Commands
}

// NewStage creates a deploy stage for one host
func NewStage(host string, runner Runner, commands Commands) *Stage {
	return &Stage{
		host:     host,
		runner:   runner,
		commands: commands,
	}
}

// Deploy runs the three sub-steps for reference. Returns nil on success or
// a *StepError naming the first failed sub-step.
func (s *Stage) Deploy(ctx context.Context, reference string) error {
	logger := log.WithHost(s.host)

	steps := []struct {
		name    SubStep
		command string
	}{
		{SubStepFetch, strings.ReplaceAll(s.commands.Fetch, refToken, reference)},
		{SubStepInstall, strings.ReplaceAll(s.commands.Install, refToken, reference)},
		{SubStepRestart, strings.ReplaceAll(s.commands.Restart, refToken, reference)},
	}

	for _, step := range steps {
		logger.Info().
			Str("step", string(step.name)).
			Str("reference", reference).
			Msg("Running deploy step")

		result, err := s.runner.Run(ctx, step.command)
		if err != nil {
			logger.Error().
				Str("step", string(step.name)).
				Err(err).
				Msg("Deploy step could not run")
			return &StepError{Step: step.name, Err: err}
		}
		if !result.OK() {
			logger.Error().
				Str("step", string(step.name)).
				Int("exit_code", result.ExitCode).
				Bool("timed_out", result.TimedOut).
				Msg("Deploy step failed")
			return &StepError{Step: step.name, Result: result}
		}

		logger.Debug().
			Str("step", string(step.name)).
			Dur("duration", result.Duration).
			Msg("Deploy step done")
	}

	return nil
}
