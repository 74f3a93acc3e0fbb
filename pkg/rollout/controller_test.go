package rollout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shipgate/shipgate/pkg/probe"
	"github.com/shipgate/shipgate/pkg/storage"
	"github.com/shipgate/shipgate/pkg/types"
)

// memStore is an in-memory Store for controller tests
type memStore struct {
	mu       sync.Mutex
	rollouts map[string]*types.Rollout
	lastGood map[string]string
}

func newMemStore() *memStore {
	return &memStore{
		rollouts: make(map[string]*types.Rollout),
		lastGood: make(map[string]string),
	}
}

func (s *memStore) CreateRollout(r *types.Rollout) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *r
	s.rollouts[r.ID] = &clone
	return nil
}

func (s *memStore) UpdateRollout(r *types.Rollout) error { return s.CreateRollout(r) }

func (s *memStore) GetRollout(id string) (*types.Rollout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rollouts[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	clone := *r
	return &clone, nil
}

func (s *memStore) ListRollouts() ([]*types.Rollout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.Rollout
	for _, r := range s.rollouts {
		clone := *r
		out = append(out, &clone)
	}
	return out, nil
}

func (s *memStore) ListRolloutsByHost(host string) ([]*types.Rollout, error) {
	all, _ := s.ListRollouts()
	var out []*types.Rollout
	for _, r := range all {
		if r.Host == host {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *memStore) SetLastGoodReference(host, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastGood[host] = ref
	return nil
}

func (s *memStore) LastGoodReference(host string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastGood[host], nil
}

func (s *memStore) Close() error { return nil }

// fakeDeployer records deployed references and fails per reference
type fakeDeployer struct {
	mu       sync.Mutex
	deployed []string
	failFor  map[string]error
	block    chan struct{} // when set, Deploy blocks until closed
}

func newFakeDeployer() *fakeDeployer {
	return &fakeDeployer{failFor: make(map[string]error)}
}

func (d *fakeDeployer) Deploy(ctx context.Context, reference string) error {
	d.mu.Lock()
	d.deployed = append(d.deployed, reference)
	block := d.block
	err := d.failFor[reference]
	d.mu.Unlock()

	if block != nil {
		<-block
	}
	return err
}

func (d *fakeDeployer) references() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.deployed...)
}

// fakeProber returns scripted outcomes in order, repeating the last one
type fakeProber struct {
	mu        sync.Mutex
	outcomes  []types.ProbeOutcome
	endpoints []string
	calls     int
}

func (p *fakeProber) Probe(ctx context.Context, endpoint string, pol probe.Policy) types.ProbeOutcome {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.endpoints = append(p.endpoints, endpoint)
	idx := p.calls
	p.calls++
	if idx >= len(p.outcomes) {
		idx = len(p.outcomes) - 1
	}
	return p.outcomes[idx]
}

func healthyOutcome() types.ProbeOutcome {
	return types.ProbeOutcome{Status: types.ProbeHealthy, Attempts: 1}
}

func unhealthyOutcome(reason string) types.ProbeOutcome {
	return types.ProbeOutcome{Status: types.ProbeUnhealthy, Reason: reason, Attempts: 2}
}

func newTestController(t *testing.T, store storage.Store, deployer Deployer, prober Prober) *Controller {
	t.Helper()
	ctrl := New(store, nil, prober)
	ctrl.RegisterTarget(Target{
		Host:     "app-1",
		Endpoint: "http://app-1.internal/health",
		Policy:   probe.Policy{Interval: time.Millisecond, Timeout: time.Second, MaxAttempts: 2},
		Deployer: deployer,
	})
	return ctrl
}

func request(ref string) types.RolloutRequest {
	return types.RolloutRequest{Host: "app-1", Reference: ref}
}

func TestRun_Succeeded(t *testing.T) {
	store := newMemStore()
	deployer := newFakeDeployer()
	prober := &fakeProber{outcomes: []types.ProbeOutcome{healthyOutcome()}}
	ctrl := newTestController(t, store, deployer, prober)

	record, err := ctrl.Run(context.Background(), request("v2"))
	require.NoError(t, err)

	assert.Equal(t, types.RolloutSucceeded, record.State)
	assert.True(t, record.State.Terminal())
	assert.Empty(t, record.Causes)
	assert.Equal(t, []string{"v2"}, deployer.references())

	// Success records the new last known good reference
	ref, _ := store.LastGoodReference("app-1")
	assert.Equal(t, "v2", ref)

	// The persisted record matches the returned one
	persisted, err := store.GetRollout(record.ID)
	require.NoError(t, err)
	assert.Equal(t, types.RolloutSucceeded, persisted.State)
}

func TestRun_DeployFailureIsTerminalWithoutRollback(t *testing.T) {
	store := newMemStore()
	store.lastGood["app-1"] = "v1"
	deployer := newFakeDeployer()
	deployer.failFor["v2"] = errors.New("install exited with status 1")
	prober := &fakeProber{outcomes: []types.ProbeOutcome{healthyOutcome()}}
	ctrl := newTestController(t, store, deployer, prober)

	record, err := ctrl.Run(context.Background(), request("v2"))
	require.NoError(t, err)

	assert.Equal(t, types.RolloutFailed, record.State)
	require.Len(t, record.Causes, 1)
	assert.Equal(t, types.StageDeploy, record.Causes[0].Stage)

	// Nothing new was confirmed running: no rollback deploy of v1
	assert.Equal(t, []string{"v2"}, deployer.references())
	assert.Equal(t, 0, prober.calls, "a failed deploy is never probed")
}

func TestRun_ProbeFailureRollsBack(t *testing.T) {
	store := newMemStore()
	store.lastGood["app-1"] = "v1"
	deployer := newFakeDeployer()
	prober := &fakeProber{outcomes: []types.ProbeOutcome{
		unhealthyOutcome("HTTP 500"), // v2 probe
		healthyOutcome(),             // v1 rollback probe
	}}
	ctrl := newTestController(t, store, deployer, prober)

	record, err := ctrl.Run(context.Background(), request("v2"))
	require.NoError(t, err)

	assert.Equal(t, types.RolloutRolledBack, record.State)
	assert.Equal(t, []string{"v2", "v1"}, deployer.references())

	// The original probe failure is recorded, not silently equated with
	// success
	require.Len(t, record.Causes, 1)
	assert.Equal(t, types.StageProbe, record.Causes[0].Stage)
	assert.Contains(t, record.Causes[0].Reason, "HTTP 500")

	// v2 must not become the last known good reference
	ref, _ := store.LastGoodReference("app-1")
	assert.Equal(t, "v1", ref)
}

func TestRun_DoubleFailureRecordsBothCauses(t *testing.T) {
	store := newMemStore()
	store.lastGood["app-1"] = "v1"
	deployer := newFakeDeployer()
	prober := &fakeProber{outcomes: []types.ProbeOutcome{
		unhealthyOutcome("HTTP 500"),
		unhealthyOutcome("connection refused"),
	}}
	ctrl := newTestController(t, store, deployer, prober)

	record, err := ctrl.Run(context.Background(), request("v2"))
	require.NoError(t, err)

	assert.Equal(t, types.RolloutFailed, record.State)
	require.Len(t, record.Causes, 2)
	assert.Equal(t, types.StageProbe, record.Causes[0].Stage)
	assert.Contains(t, record.Causes[0].Reason, "HTTP 500")
	assert.Equal(t, types.StageRollback, record.Causes[1].Stage)
	assert.Contains(t, record.Causes[1].Reason, "connection refused")
}

func TestRun_RollbackDeployFailure(t *testing.T) {
	store := newMemStore()
	store.lastGood["app-1"] = "v1"
	deployer := newFakeDeployer()
	deployer.failFor["v1"] = errors.New("fetch exited with status 128")
	prober := &fakeProber{outcomes: []types.ProbeOutcome{unhealthyOutcome("HTTP 500")}}
	ctrl := newTestController(t, store, deployer, prober)

	record, err := ctrl.Run(context.Background(), request("v2"))
	require.NoError(t, err)

	assert.Equal(t, types.RolloutFailed, record.State)
	require.Len(t, record.Causes, 2)
	assert.Equal(t, types.StageRollback, record.Causes[1].Stage)
}

func TestRun_NoKnownGoodReference(t *testing.T) {
	store := newMemStore()
	deployer := newFakeDeployer()
	prober := &fakeProber{outcomes: []types.ProbeOutcome{unhealthyOutcome("HTTP 500")}}
	ctrl := newTestController(t, store, deployer, prober)

	record, err := ctrl.Run(context.Background(), request("v2"))
	require.NoError(t, err)

	assert.Equal(t, types.RolloutFailed, record.State)
	require.Len(t, record.Causes, 2)
	assert.Contains(t, record.Causes[1].Reason, "no known good reference")
	assert.Equal(t, []string{"v2"}, deployer.references(), "no rollback deploy without a known good reference")
}

func TestRun_EndpointOverride(t *testing.T) {
	store := newMemStore()
	deployer := newFakeDeployer()
	prober := &fakeProber{outcomes: []types.ProbeOutcome{healthyOutcome()}}
	ctrl := newTestController(t, store, deployer, prober)

	req := request("v2")
	req.Endpoint = "http://canary.internal/health"
	_, err := ctrl.Run(context.Background(), req)
	require.NoError(t, err)

	require.Len(t, prober.endpoints, 1)
	assert.Equal(t, "http://canary.internal/health", prober.endpoints[0])
}

func TestRun_ConflictForSameHost(t *testing.T) {
	store := newMemStore()
	deployer := newFakeDeployer()
	deployer.block = make(chan struct{})
	prober := &fakeProber{outcomes: []types.ProbeOutcome{healthyOutcome()}}
	ctrl := newTestController(t, store, deployer, prober)

	firstDone := make(chan *types.Rollout, 1)
	go func() {
		record, _ := ctrl.Run(context.Background(), request("v2"))
		firstDone <- record
	}()

	// Wait until the first rollout holds the host
	require.Eventually(t, func() bool {
		return ctrl.locks.Held("app-1")
	}, time.Second, time.Millisecond)

	// A concurrent request for the same host is rejected immediately
	_, err := ctrl.Run(context.Background(), request("v3"))
	assert.ErrorIs(t, err, ErrConflict)

	// Let the first rollout finish; the lock is released at its terminal
	// state and the host accepts requests again
	close(deployer.block)
	record := <-firstDone
	assert.Equal(t, types.RolloutSucceeded, record.State)

	record2, err := ctrl.Run(context.Background(), request("v3"))
	require.NoError(t, err)
	assert.Equal(t, types.RolloutSucceeded, record2.State)
}

func TestRun_DifferentHostsRunInParallel(t *testing.T) {
	store := newMemStore()
	prober := &fakeProber{outcomes: []types.ProbeOutcome{healthyOutcome()}}
	ctrl := New(store, nil, prober)

	blocked := newFakeDeployer()
	blocked.block = make(chan struct{})
	ctrl.RegisterTarget(Target{Host: "app-1", Endpoint: "http://app-1/health", Deployer: blocked})

	free := newFakeDeployer()
	ctrl.RegisterTarget(Target{Host: "app-2", Endpoint: "http://app-2/health", Deployer: free})

	go func() { _, _ = ctrl.Run(context.Background(), types.RolloutRequest{Host: "app-1", Reference: "v2"}) }()
	require.Eventually(t, func() bool {
		return ctrl.locks.Held("app-1")
	}, time.Second, time.Millisecond)

	// app-2 is not blocked by app-1's in-flight rollout
	record, err := ctrl.Run(context.Background(), types.RolloutRequest{Host: "app-2", Reference: "v2"})
	require.NoError(t, err)
	assert.Equal(t, types.RolloutSucceeded, record.State)

	close(blocked.block)
}

func TestRun_UnknownTarget(t *testing.T) {
	ctrl := newTestController(t, newMemStore(), newFakeDeployer(), &fakeProber{outcomes: []types.ProbeOutcome{healthyOutcome()}})

	_, err := ctrl.Run(context.Background(), types.RolloutRequest{Host: "nope", Reference: "v2"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrConflict)
}

func TestRun_InvalidRequest(t *testing.T) {
	ctrl := newTestController(t, newMemStore(), newFakeDeployer(), &fakeProber{outcomes: []types.ProbeOutcome{healthyOutcome()}})

	_, err := ctrl.Run(context.Background(), types.RolloutRequest{Host: "app-1"})
	require.Error(t, err)
}

func TestRun_CancelledDuringProbing(t *testing.T) {
	store := newMemStore()
	store.lastGood["app-1"] = "v1"
	deployer := newFakeDeployer()

	ctx, cancel := context.WithCancel(context.Background())
	prober := &cancellingProber{cancel: cancel}
	ctrl := newTestController(t, store, deployer, prober)

	record, err := ctrl.Run(ctx, request("v2"))
	require.NoError(t, err)

	// Cancellation during probing fails the probe stage with "cancelled"
	// and still attempts the rollback
	assert.Equal(t, types.RolloutRolledBack, record.State)
	require.NotEmpty(t, record.Causes)
	assert.Equal(t, types.StageProbe, record.Causes[0].Stage)
	assert.Equal(t, "cancelled", record.Causes[0].Reason)
	assert.Equal(t, []string{"v2", "v1"}, deployer.references())
}

// cancellingProber cancels the rollout context during the first probe and
// reports healthy on the rollback probe
type cancellingProber struct {
	mu     sync.Mutex
	cancel context.CancelFunc
	calls  int
}

func (p *cancellingProber) Probe(ctx context.Context, endpoint string, pol probe.Policy) types.ProbeOutcome {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.calls == 1 {
		p.cancel()
		return types.ProbeOutcome{Status: types.ProbeTimedOut, Reason: "request cancelled"}
	}
	return healthyOutcome()
}

func TestRun_TerminalStateIsExactlyOneOfFour(t *testing.T) {
	// Every scripted scenario must land in one of the terminal states
	scenarios := []struct {
		name     string
		deployer *fakeDeployer
		prober   *fakeProber
		lastGood string
	}{
		{"success", newFakeDeployer(), &fakeProber{outcomes: []types.ProbeOutcome{healthyOutcome()}}, ""},
		{"probe fail with rollback", newFakeDeployer(), &fakeProber{outcomes: []types.ProbeOutcome{unhealthyOutcome("x"), healthyOutcome()}}, "v1"},
		{"probe fail no rollback", newFakeDeployer(), &fakeProber{outcomes: []types.ProbeOutcome{unhealthyOutcome("x")}}, ""},
	}

	for _, sc := range scenarios {
		t.Run(sc.name, func(t *testing.T) {
			store := newMemStore()
			if sc.lastGood != "" {
				store.lastGood["app-1"] = sc.lastGood
			}
			ctrl := newTestController(t, store, sc.deployer, sc.prober)

			record, err := ctrl.Run(context.Background(), request("v2"))
			require.NoError(t, err)
			assert.True(t, record.State.Terminal(), "state %s is not terminal", record.State)
			assert.False(t, record.FinishedAt.IsZero())
		})
	}
}
