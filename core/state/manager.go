package state

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/hifi-finance/hifi-proxy-target/core/types"
	"github.com/hifi-finance/hifi-proxy-target/storage"
)

var (
	ErrInvalidAmount         = errors.New("state: amount must be positive")
	ErrInsufficientBalance   = errors.New("state: insufficient token balance")
	ErrInsufficientAllowance = errors.New("state: insufficient allowance")
)

var (
	accountPrefix   = []byte("account:")
	balancePrefix   = []byte("balance:")
	allowancePrefix = []byte("allowance:")
)

// Manager mediates all reads and writes of protocol state. Writes land in a
// dirty overlay and are recorded in an undo journal, so a composite
// operation can be reverted wholesale if any of its steps fails. Commit
// flushes the overlay to the backing database.
type Manager struct {
	db      storage.Database
	dirty   map[string][]byte
	journal []journalEntry
}

type journalEntry struct {
	key     string
	prev    []byte
	inDirty bool
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{
		db:    db,
		dirty: make(map[string][]byte),
	}
}

// Snapshot returns an identifier for the current journal position.
func (m *Manager) Snapshot() int {
	return len(m.journal)
}

// RevertToSnapshot unwinds every write recorded after the snapshot was
// taken, restoring the overlay to its state at that point.
func (m *Manager) RevertToSnapshot(id int) {
	if id < 0 || id > len(m.journal) {
		return
	}
	for i := len(m.journal) - 1; i >= id; i-- {
		entry := m.journal[i]
		if entry.inDirty {
			m.dirty[entry.key] = entry.prev
		} else {
			delete(m.dirty, entry.key)
		}
	}
	m.journal = m.journal[:id]
}

// Commit flushes the dirty overlay to the backing database and resets the
// journal. After a commit the recorded writes can no longer be reverted.
func (m *Manager) Commit() error {
	for key, value := range m.dirty {
		if err := m.db.Put([]byte(key), value); err != nil {
			return fmt.Errorf("state: commit %x: %w", key, err)
		}
	}
	m.dirty = make(map[string][]byte)
	m.journal = m.journal[:0]
	return nil
}

func (m *Manager) read(key []byte) ([]byte, bool, error) {
	if value, ok := m.dirty[string(key)]; ok {
		return value, true, nil
	}
	ok, err := m.db.Has(key)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	value, err := m.db.Get(key)
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (m *Manager) write(key []byte, value []byte) {
	k := string(key)
	prev, inDirty := m.dirty[k]
	m.journal = append(m.journal, journalEntry{key: k, prev: prev, inDirty: inDirty})
	m.dirty[k] = value
}

// Key derives a state key from a namespace prefix and its components.
func Key(prefix []byte, parts ...[]byte) []byte {
	buf := append([]byte(nil), prefix...)
	for _, part := range parts {
		buf = append(buf, part...)
		buf = append(buf, ':')
	}
	return ethcrypto.Keccak256(buf)
}

// GetRLP decodes the stored value for key into out. The boolean reports
// whether a value existed.
func (m *Manager) GetRLP(key []byte, out interface{}) (bool, error) {
	raw, ok, err := m.read(key)
	if err != nil || !ok {
		return false, err
	}
	if err := rlp.DecodeBytes(raw, out); err != nil {
		return false, fmt.Errorf("state: decode %x: %w", key, err)
	}
	return true, nil
}

// PutRLP encodes value and stages it under key.
func (m *Manager) PutRLP(key []byte, value interface{}) error {
	raw, err := rlp.EncodeToBytes(value)
	if err != nil {
		return fmt.Errorf("state: encode %x: %w", key, err)
	}
	m.write(key, raw)
	return nil
}

// --- Native accounts ---

// GetAccount loads the native account for addr, returning a zeroed account
// when none has been stored yet.
func (m *Manager) GetAccount(addr common.Address) (*types.Account, error) {
	account := &types.Account{}
	ok, err := m.GetRLP(Key(accountPrefix, addr.Bytes()), account)
	if err != nil {
		return nil, err
	}
	if !ok {
		account = &types.Account{}
	}
	account.Normalize()
	return account, nil
}

// PutAccount stages the native account for addr.
func (m *Manager) PutAccount(addr common.Address, account *types.Account) error {
	account.Normalize()
	return m.PutRLP(Key(accountPrefix, addr.Bytes()), account)
}

// NativeTransfer moves native value between two accounts.
func (m *Manager) NativeTransfer(from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	fromAcc, err := m.GetAccount(from)
	if err != nil {
		return err
	}
	if fromAcc.Balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	toAcc, err := m.GetAccount(to)
	if err != nil {
		return err
	}
	fromAcc.Balance = new(big.Int).Sub(fromAcc.Balance, amount)
	toAcc.Balance = new(big.Int).Add(toAcc.Balance, amount)
	if err := m.PutAccount(from, fromAcc); err != nil {
		return err
	}
	return m.PutAccount(to, toAcc)
}

// --- Token ledger ---

func balanceKey(symbol string, addr common.Address) []byte {
	return Key(balancePrefix, []byte(symbol), addr.Bytes())
}

func allowanceKey(symbol string, owner, spender common.Address) []byte {
	return Key(allowancePrefix, []byte(symbol), owner.Bytes(), spender.Bytes())
}

// TokenBalance returns the fungible token balance held by addr.
func (m *Manager) TokenBalance(symbol string, addr common.Address) (*big.Int, error) {
	balance := new(big.Int)
	ok, err := m.GetRLP(balanceKey(symbol, addr), balance)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return balance, nil
}

func (m *Manager) setTokenBalance(symbol string, addr common.Address, amount *big.Int) error {
	return m.PutRLP(balanceKey(symbol, addr), amount)
}

// TokenMint credits freshly created token units to an address.
func (m *Manager) TokenMint(symbol string, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	balance, err := m.TokenBalance(symbol, to)
	if err != nil {
		return err
	}
	return m.setTokenBalance(symbol, to, new(big.Int).Add(balance, amount))
}

// TokenBurn destroys token units held by an address.
func (m *Manager) TokenBurn(symbol string, from common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	balance, err := m.TokenBalance(symbol, from)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	return m.setTokenBalance(symbol, from, new(big.Int).Sub(balance, amount))
}

// TokenTransfer moves token units between two addresses.
func (m *Manager) TokenTransfer(symbol string, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	fromBalance, err := m.TokenBalance(symbol, from)
	if err != nil {
		return err
	}
	if fromBalance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	toBalance, err := m.TokenBalance(symbol, to)
	if err != nil {
		return err
	}
	if err := m.setTokenBalance(symbol, from, new(big.Int).Sub(fromBalance, amount)); err != nil {
		return err
	}
	return m.setTokenBalance(symbol, to, new(big.Int).Add(toBalance, amount))
}

// TokenApprove grants spender the right to move up to amount of owner's
// balance. The grant replaces any previous allowance.
func (m *Manager) TokenApprove(symbol string, owner, spender common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	return m.PutRLP(allowanceKey(symbol, owner, spender), amount)
}

// TokenAllowance reports the remaining allowance granted by owner to spender.
func (m *Manager) TokenAllowance(symbol string, owner, spender common.Address) (*big.Int, error) {
	allowance := new(big.Int)
	ok, err := m.GetRLP(allowanceKey(symbol, owner, spender), allowance)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return allowance, nil
}

// UseAllowance consumes part of an allowance, failing when the grant does
// not cover the requested amount.
func (m *Manager) UseAllowance(symbol string, owner, spender common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	allowance, err := m.TokenAllowance(symbol, owner, spender)
	if err != nil {
		return err
	}
	if allowance.Cmp(amount) < 0 {
		return ErrInsufficientAllowance
	}
	return m.PutRLP(allowanceKey(symbol, owner, spender), new(big.Int).Sub(allowance, amount))
}
