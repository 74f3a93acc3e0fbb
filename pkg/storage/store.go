package storage

import (
	"errors"

	"github.com/shipgate/shipgate/pkg/types"
)

// ErrNotFound is returned when a rollout record does not exist
var ErrNotFound = errors.New("rollout not found")

// Store defines the interface for rollout history storage
type Store interface {
	// Rollout records
	CreateRollout(rollout *types.Rollout) error
	UpdateRollout(rollout *types.Rollout) error
	GetRollout(id string) (*types.Rollout, error)
	ListRollouts() ([]*types.Rollout, error)
	ListRolloutsByHost(host string) ([]*types.Rollout, error)

	// Last known good reference per host, the rollback source.
	// LastGoodReference returns "" with a nil error when the host has
	// never had a succeeded rollout.
	SetLastGoodReference(host, reference string) error
	LastGoodReference(host string) (string, error)

	// Utility
	Close() error
}
