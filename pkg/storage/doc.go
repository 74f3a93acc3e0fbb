// Package storage persists rollout history and the per-host last known
// good reference, the rollback source, in a BoltDB file.
package storage
