package htoken

import (
	"github.com/hifi-finance/hifi-proxy-target/core/state"
)

var bondPrefix = []byte("htoken:bond:")

// Store adapts the state manager to the issuer engine's persistence needs.
type Store struct {
	*state.Manager
}

// NewStore wraps the manager with bond accessors.
func NewStore(m *state.Manager) *Store {
	return &Store{Manager: m}
}

// GetBond loads a bond definition, returning nil when none is registered.
func (s *Store) GetBond(symbol string) (*Bond, error) {
	bond := new(Bond)
	ok, err := s.GetRLP(state.Key(bondPrefix, []byte(symbol)), bond)
	if err != nil || !ok {
		return nil, err
	}
	return bond, nil
}

// PutBond stages a bond definition.
func (s *Store) PutBond(bond *Bond) error {
	return s.PutRLP(state.Key(bondPrefix, []byte(bond.Symbol)), bond)
}
