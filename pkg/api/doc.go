// Package api exposes the HTTP trigger surface for CI systems: rollout
// creation, rollout history, liveness, and Prometheus metrics.
package api
