package amm

import (
	"github.com/hifi-finance/hifi-proxy-target/core/state"
)

var poolPrefix = []byte("amm:pool:")

// Store adapts the state manager to the pool engine's persistence needs.
type Store struct {
	*state.Manager
}

// NewStore wraps the manager with pool accessors.
func NewStore(m *state.Manager) *Store {
	return &Store{Manager: m}
}

// GetPool loads a pool record, returning nil when none exists.
func (s *Store) GetPool(id string) (*Pool, error) {
	pool := new(Pool)
	ok, err := s.GetRLP(state.Key(poolPrefix, []byte(id)), pool)
	if err != nil || !ok {
		return nil, err
	}
	return pool, nil
}

// PutPool stages a pool record.
func (s *Store) PutPool(pool *Pool) error {
	return s.PutRLP(state.Key(poolPrefix, []byte(pool.ID)), pool)
}
