// Package deploy ships a deployment reference to a host in three strictly
// ordered sub-steps: fetch the reference, install dependencies, restart
// the process manager. The stage stops at the first failing sub-step and
// reports which one failed; retrying is the rollout controller's call.
package deploy
