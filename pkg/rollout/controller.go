package rollout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/shipgate/shipgate/pkg/events"
	"github.com/shipgate/shipgate/pkg/log"
	"github.com/shipgate/shipgate/pkg/metrics"
	"github.com/shipgate/shipgate/pkg/probe"
	"github.com/shipgate/shipgate/pkg/storage"
	"github.com/shipgate/shipgate/pkg/types"
)

// ErrConflict is returned at intake while another rollout is non-terminal
// for the same host. Requests are never queued; callers retry explicitly.
var ErrConflict = errors.New("a rollout is already in progress for this host")

// Deployer ships one deployment reference to a host. Implemented by
// deploy.Stage.
type Deployer interface {
	Deploy(ctx context.Context, reference string) error
}

// Prober runs one bounded health probe loop. Implemented by probe.Prober.
type Prober interface {
	Probe(ctx context.Context, endpoint string, pol probe.Policy) types.ProbeOutcome
}

// Target binds a host identifier to its deployer and health endpoint
type Target struct {
	Host     string
	Endpoint string
	Policy   probe.Policy
	Deployer Deployer
}

// Controller sequences deploy -> probe for one host at a time per host,
// decides the terminal status, and drives the rollback path when the probe
// fails after a successful deploy.
type Controller struct {
	mu      sync.RWMutex
	targets map[string]Target

	locks  *hostLocks
	store  storage.Store
	broker *events.Broker
	prober Prober
	logger zerolog.Logger
}

// New creates a controller. The broker may be nil when no observer cares
// about transitions.
func New(store storage.Store, broker *events.Broker, prober Prober) *Controller {
	return &Controller{
		targets: make(map[string]Target),
		locks:   newHostLocks(),
		store:   store,
		broker:  broker,
		prober:  prober,
		logger:  log.WithComponent("rollout"),
	}
}

// RegisterTarget makes a host deployable
func (c *Controller) RegisterTarget(t Target) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.targets[t.Host] = t
}

// Target returns the registered target for a host
func (c *Controller) Target(host string) (Target, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.targets[host]
	return t, ok
}

// Run executes one rollout to completion and returns its terminal record.
// The error return is for intake rejections only (validation, unknown
// target, ErrConflict); once a rollout is accepted its outcome is the
// record's terminal state, never an error.
func (c *Controller) Run(ctx context.Context, req types.RolloutRequest) (*types.Rollout, error) {
	if err := req.Validate(); err != nil {
		metrics.RolloutsRejectedTotal.Inc()
		return nil, err
	}

	target, ok := c.Target(req.Host)
	if !ok {
		metrics.RolloutsRejectedTotal.Inc()
		return nil, fmt.Errorf("unknown target host %q", req.Host)
	}

	if !c.locks.TryAcquire(req.Host) {
		metrics.RolloutsRejectedTotal.Inc()
		c.publish(&types.Rollout{Host: req.Host, Reference: req.Reference}, events.EventRolloutRejected, "conflict")
		return nil, ErrConflict
	}
	defer c.locks.Release(req.Host)

	r := &types.Rollout{
		ID:        uuid.New().String(),
		Host:      req.Host,
		Reference: req.Reference,
		State:     types.RolloutPending,
		StartedAt: time.Now(),
	}
	if prev, err := c.store.LastGoodReference(req.Host); err == nil {
		r.PreviousReference = prev
	}

	if err := c.store.CreateRollout(r); err != nil {
		metrics.RolloutsRejectedTotal.Inc()
		return nil, fmt.Errorf("failed to record rollout: %w", err)
	}
	metrics.RolloutsActive.Inc()
	defer metrics.RolloutsActive.Dec()
	c.publish(r, events.EventRolloutAccepted, "")

	c.execute(ctx, r, target, req)
	return r, nil
}

// execute drives the state machine after intake. Every path ends in
// exactly one terminal state.
func (c *Controller) execute(ctx context.Context, r *types.Rollout, target Target, req types.RolloutRequest) {
	logger := c.logger.With().Str("rollout_id", r.ID).Str("host", r.Host).Logger()

	// Deploying. Not cancellable mid-flight: a half-applied deploy is
	// worse than a slow one, so ctx is checked again only at the probe
	// boundary.
	c.transition(r, types.RolloutDeploying, events.EventRolloutDeploying, "")
	if err := target.Deployer.Deploy(context.WithoutCancel(ctx), r.Reference); err != nil {
		// Nothing new was confirmed running, so no rollback
		c.finish(r, types.RolloutFailed, types.FailureCause{Stage: types.StageDeploy, Reason: err.Error()})
		return
	}

	// Probing
	c.transition(r, types.RolloutProbing, events.EventRolloutProbing, "")
	pol := c.policyFor(target, req)
	endpoint := target.Endpoint
	if req.Endpoint != "" {
		endpoint = req.Endpoint
	}
	outcome := c.prober.Probe(ctx, endpoint, pol)
	if outcome.Healthy() {
		if err := c.store.SetLastGoodReference(r.Host, r.Reference); err != nil {
			logger.Error().Err(err).Msg("Failed to record last good reference")
		}
		c.finish(r, types.RolloutSucceeded)
		return
	}

	probeCause := types.FailureCause{Stage: types.StageProbe, Reason: outcome.String()}
	if ctx.Err() != nil {
		probeCause.Reason = "cancelled"
	}
	logger.Warn().Str("outcome", outcome.String()).Msg("Probe failed, attempting rollback")

	c.rollback(context.WithoutCancel(ctx), r, target, endpoint, pol, probeCause)
}

// rollback redeploys the previously known good reference, itself
// health-gated. Success is recorded as RolledBack, a partial failure
// distinct from Succeeded. A failed rollback is the worst case: the host
// is in an unknown state and both causes are reported.
func (c *Controller) rollback(ctx context.Context, r *types.Rollout, target Target, endpoint string, pol probe.Policy, probeCause types.FailureCause) {
	if r.PreviousReference == "" {
		c.finish(r, types.RolloutFailed, probeCause,
			types.FailureCause{Stage: types.StageRollback, Reason: "no known good reference to roll back to"})
		return
	}

	if err := target.Deployer.Deploy(ctx, r.PreviousReference); err != nil {
		c.finish(r, types.RolloutFailed, probeCause,
			types.FailureCause{Stage: types.StageRollback, Reason: err.Error()})
		return
	}

	outcome := c.prober.Probe(ctx, endpoint, pol)
	if !outcome.Healthy() {
		c.finish(r, types.RolloutFailed, probeCause,
			types.FailureCause{Stage: types.StageRollback, Reason: outcome.String()})
		return
	}

	c.finish(r, types.RolloutRolledBack, probeCause)
}

// policyFor merges request overrides onto the target's probe policy
func (c *Controller) policyFor(target Target, req types.RolloutRequest) probe.Policy {
	pol := target.Policy
	if req.ProbeInterval > 0 {
		pol.Interval = req.ProbeInterval
	}
	if req.ProbeTimeout > 0 {
		pol.Timeout = req.ProbeTimeout
	}
	if req.MaxAttempts > 0 {
		pol.MaxAttempts = req.MaxAttempts
	}
	return pol
}

// transition moves the rollout to a non-terminal state and persists it
func (c *Controller) transition(r *types.Rollout, state types.RolloutState, event events.EventType, msg string) {
	r.State = state
	if err := c.store.UpdateRollout(r); err != nil {
		c.logger.Error().Err(err).Str("rollout_id", r.ID).Msg("Failed to persist transition")
	}
	c.publish(r, event, msg)
}

// finish moves the rollout to its terminal state exactly once
func (c *Controller) finish(r *types.Rollout, state types.RolloutState, causes ...types.FailureCause) {
	r.State = state
	r.Causes = append(r.Causes, causes...)
	r.FinishedAt = time.Now()
	if err := c.store.UpdateRollout(r); err != nil {
		c.logger.Error().Err(err).Str("rollout_id", r.ID).Msg("Failed to persist terminal state")
	}

	metrics.RolloutsTotal.WithLabelValues(string(state)).Inc()
	metrics.RolloutDuration.WithLabelValues(string(state)).Observe(r.FinishedAt.Sub(r.StartedAt).Seconds())

	event := events.EventRolloutFailed
	switch state {
	case types.RolloutSucceeded:
		event = events.EventRolloutSucceeded
	case types.RolloutRolledBack:
		event = events.EventRolloutRolledBack
	}
	c.publish(r, event, r.CauseString())

	logEvent := c.logger.Info()
	if state == types.RolloutFailed {
		logEvent = c.logger.Error()
	}
	logEvent.
		Str("rollout_id", r.ID).
		Str("host", r.Host).
		Str("reference", r.Reference).
		Str("state", string(state)).
		Str("causes", r.CauseString()).
		Dur("duration", r.FinishedAt.Sub(r.StartedAt)).
		Msg("Rollout finished")
}

func (c *Controller) publish(r *types.Rollout, event events.EventType, msg string) {
	if c.broker == nil {
		return
	}
	c.broker.Publish(&events.Event{
		RolloutID: r.ID,
		Type:      event,
		Host:      r.Host,
		Reference: r.Reference,
		State:     r.State,
		Message:   msg,
	})
}
