package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"

	bolt "go.etcd.io/bbolt"

	"github.com/shipgate/shipgate/pkg/types"
)

var (
	// Bucket names
	bucketRollouts = []byte("rollouts")
	bucketLastGood = []byte("last_good")
)

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "shipgate.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketRollouts,
			bucketLastGood,
		}
		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Rollout operations

func (s *BoltStore) CreateRollout(rollout *types.Rollout) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRollouts)
		data, err := json.Marshal(rollout)
		if err != nil {
			return err
		}
		return b.Put([]byte(rollout.ID), data)
	})
}

// UpdateRollout upserts the record, same as create
func (s *BoltStore) UpdateRollout(rollout *types.Rollout) error {
	return s.CreateRollout(rollout)
}

func (s *BoltStore) GetRollout(id string) (*types.Rollout, error) {
	var rollout types.Rollout
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRollouts)
		data := b.Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &rollout)
	})
	if err != nil {
		return nil, err
	}
	return &rollout, nil
}

func (s *BoltStore) ListRollouts() ([]*types.Rollout, error) {
	var rollouts []*types.Rollout
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRollouts)
		return b.ForEach(func(k, v []byte) error {
			var rollout types.Rollout
			if err := json.Unmarshal(v, &rollout); err != nil {
				return err
			}
			rollouts = append(rollouts, &rollout)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortByStart(rollouts)
	return rollouts, nil
}

func (s *BoltStore) ListRolloutsByHost(host string) ([]*types.Rollout, error) {
	all, err := s.ListRollouts()
	if err != nil {
		return nil, err
	}
	var rollouts []*types.Rollout
	for _, r := range all {
		if r.Host == host {
			rollouts = append(rollouts, r)
		}
	}
	return rollouts, nil
}

// Last known good reference operations

func (s *BoltStore) SetLastGoodReference(host, reference string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLastGood)
		return b.Put([]byte(host), []byte(reference))
	})
}

func (s *BoltStore) LastGoodReference(host string) (string, error) {
	var reference string
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLastGood)
		if data := b.Get([]byte(host)); data != nil {
			reference = string(data)
		}
		return nil
	})
	return reference, err
}

// sortByStart orders records newest first
func sortByStart(rollouts []*types.Rollout) {
	sort.Slice(rollouts, func(i, j int) bool {
		return rollouts[i].StartedAt.After(rollouts[j].StartedAt)
	})
}
