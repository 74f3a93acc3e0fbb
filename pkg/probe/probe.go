package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shipgate/shipgate/pkg/log"
	"github.com/shipgate/shipgate/pkg/metrics"
	"github.com/shipgate/shipgate/pkg/types"
)

const (
	// maxBodyBytes caps how much of a health response body is read when
	// matching the success token
	maxBodyBytes = 64 * 1024
)

// Policy configures one probe loop
type Policy struct {
	// Interval is the delay between attempts
	Interval time.Duration

	// Timeout bounds the whole loop. When it elapses the outcome is
	// TimedOut regardless of how many attempts remain.
	Timeout time.Duration

	// MaxAttempts bounds the number of attempts. Exhausting it yields
	// Unhealthy (or Unreachable when no attempt got a response).
	MaxAttempts int

	// SuccessToken, when non-empty, must appear in the response body of a
	// healthy response in addition to an accepted status code
	SuccessToken string

	// StatusMin and StatusMax bound the accepted HTTP status codes
	StatusMin int
	StatusMax int
}

// DefaultPolicy returns the policy used when a target configures nothing
func DefaultPolicy() Policy {
	return Policy{
		Interval:    5 * time.Second,
		Timeout:     2 * time.Minute,
		MaxAttempts: 12,
		StatusMin:   200,
		StatusMax:   399,
	}
}

// normalized fills zero fields from the defaults
func (p Policy) normalized() Policy {
	def := DefaultPolicy()
	if p.Interval <= 0 {
		p.Interval = def.Interval
	}
	if p.Timeout <= 0 {
		p.Timeout = def.Timeout
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.StatusMin == 0 {
		p.StatusMin = def.StatusMin
	}
	if p.StatusMax == 0 {
		p.StatusMax = def.StatusMax
	}
	return p
}

// Prober polls an HTTP(S) health endpoint until it reports healthy or the
// loop's bounds are hit. This is a bounded loop, never unbounded retry:
// process-manager restarts are asynchronous and take variable time, so the
// caller chooses how long readiness may take.
type Prober struct {
	// Client is the HTTP client used for probe requests
	Client *http.Client
}

// New creates a prober with a default client
func New() *Prober {
	return &Prober{
		Client: &http.Client{},
	}
}

// Probe polls endpoint at pol.Interval and returns exactly one of:
// Healthy, Unhealthy (attempts exhausted, at least one response seen),
// Unreachable (attempts exhausted, no attempt got a response), or
// TimedOut (pol.Timeout elapsed or ctx was cancelled first).
func (p *Prober) Probe(ctx context.Context, endpoint string, pol Policy) types.ProbeOutcome {
	pol = pol.normalized()
	logger := log.WithComponent("probe")

	start := time.Now()
	loopCtx, cancel := context.WithTimeout(ctx, pol.Timeout)
	defer cancel()

	attempts := 0
	responses := 0
	lastReason := ""

	for attempts < pol.MaxAttempts {
		attempts++

		healthy, gotResponse, reason := p.check(loopCtx, endpoint, pol)
		if healthy {
			metrics.ProbeAttemptsTotal.WithLabelValues("healthy").Inc()
			logger.Debug().
				Str("endpoint", endpoint).
				Int("attempt", attempts).
				Msg("Endpoint healthy")
			return types.ProbeOutcome{
				Status:   types.ProbeHealthy,
				Attempts: attempts,
				Elapsed:  time.Since(start),
			}
		}
		metrics.ProbeAttemptsTotal.WithLabelValues("unhealthy").Inc()
		if gotResponse {
			responses++
		}
		lastReason = reason

		// The loop deadline wins over the attempt budget
		if loopCtx.Err() != nil {
			return p.timedOut(start, attempts, lastReason)
		}

		logger.Debug().
			Str("endpoint", endpoint).
			Int("attempt", attempts).
			Str("reason", reason).
			Msg("Probe attempt failed")

		if attempts < pol.MaxAttempts {
			select {
			case <-time.After(pol.Interval):
			case <-loopCtx.Done():
				return p.timedOut(start, attempts, lastReason)
			}
		}
	}

	status := types.ProbeUnhealthy
	if responses == 0 {
		status = types.ProbeUnreachable
	}
	return types.ProbeOutcome{
		Status:   status,
		Reason:   lastReason,
		Attempts: attempts,
		Elapsed:  time.Since(start),
	}
}

func (p *Prober) timedOut(start time.Time, attempts int, lastReason string) types.ProbeOutcome {
	return types.ProbeOutcome{
		Status:   types.ProbeTimedOut,
		Reason:   lastReason,
		Attempts: attempts,
		Elapsed:  time.Since(start),
	}
}

// check performs one probe attempt. gotResponse reports whether the
// endpoint answered at all, which separates Unhealthy from Unreachable.
func (p *Prober) check(ctx context.Context, endpoint string, pol Policy) (healthy, gotResponse bool, reason string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, false, fmt.Sprintf("failed to create request: %v", err)
	}

	resp, err := p.Client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return false, false, "request cancelled"
		}
		return false, false, fmt.Sprintf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < pol.StatusMin || resp.StatusCode > pol.StatusMax {
		return false, true, fmt.Sprintf("HTTP %d (expected %d-%d)", resp.StatusCode, pol.StatusMin, pol.StatusMax)
	}

	if pol.SuccessToken != "" {
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return false, true, fmt.Sprintf("failed to read body: %v", err)
		}
		if !strings.Contains(string(body), pol.SuccessToken) {
			return false, true, fmt.Sprintf("success token %q not found in response", pol.SuccessToken)
		}
	}

	return true, true, ""
}
