package lending

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/hifi-finance/hifi-proxy-target/core/state"
)

var vaultPrefix = []byte("lending:vault:")

// Store adapts the state manager to the ledger engine's persistence needs.
type Store struct {
	*state.Manager
}

// NewStore wraps the manager with vault accessors.
func NewStore(m *state.Manager) *Store {
	return &Store{Manager: m}
}

// GetVault loads a vault, returning nil when none exists yet.
func (s *Store) GetVault(bond string, addr common.Address) (*Vault, error) {
	vault := new(Vault)
	ok, err := s.GetRLP(state.Key(vaultPrefix, []byte(bond), addr.Bytes()), vault)
	if err != nil || !ok {
		return nil, err
	}
	return vault, nil
}

// PutVault stages a vault under its (bond, owner) key.
func (s *Store) PutVault(vault *Vault) error {
	return s.PutRLP(state.Key(vaultPrefix, []byte(vault.Bond), vault.Owner.Bytes()), vault)
}
