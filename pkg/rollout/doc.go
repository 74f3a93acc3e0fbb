/*
Package rollout sequences one health-gated deployment per target host and
decides its terminal status.

# State machine

Every accepted rollout moves through:

	Pending -> Deploying -> Probing -> { Succeeded | Failed | RolledBack }

	┌─────────┐    ┌───────────┐    ┌─────────┐    healthy    ┌───────────┐
	│ Pending │───▶│ Deploying │───▶│ Probing │──────────────▶│ Succeeded │
	└─────────┘    └─────┬─────┘    └────┬────┘               └───────────┘
	                     │               │ unhealthy/timeout/unreachable
	         deploy fail │               ▼
	                     │         rollback (deploy + probe of last good)
	                     │               │
	                     ▼          ok ──┴── fail
	               ┌────────┐       ▼          ▼
	               │ Failed │  RolledBack   Failed (both causes)
	               └────────┘

A deploy failure is terminal without rollback: nothing new was confirmed
running. A probe failure after a successful deploy triggers a rollback of
the previously known good reference, itself health-gated. RolledBack is a
partial failure and is never reported as Succeeded.

# Exclusivity

At most one rollout may be non-terminal per target host. Intake claims the
host in a non-blocking registry; a second request for the same host gets
ErrConflict immediately instead of queuing. Different hosts roll out fully
in parallel. Per host, rollouts are totally ordered: the claim is released
only when the terminal state has been persisted.

# Cancellation

A rollout in Deploying ignores cancellation until the stage boundary (a
half-applied deploy is worse than a slow one). A rollout in Probing is
cancellable; it fails the probe stage with the cause "cancelled" and the
rollback path runs to completion regardless.
*/
package rollout
