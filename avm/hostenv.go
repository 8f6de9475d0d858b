package avm

import (
	"sync"

	"github.com/colorfulnotion/avm/common"
	"github.com/colorfulnotion/avm/storage"
	"github.com/colorfulnotion/avm/types"
)

// HostEnv is the persistent state the AVM reads and commits to. Errors are
// I/O failures; a missing key or account is reported through the bool.
type HostEnv interface {
	GetStorage(addr common.Address, key []byte) ([]byte, bool, error)
	// SetStorage with an empty val deletes key.
	SetStorage(addr common.Address, key, val []byte) error
	GetAccount(addr common.Address) (*types.Account, bool, error)
	PutAccount(acct *types.Account) error
}

var _ HostEnv = (*storage.StateStore)(nil)
var _ HostEnv = (*MockHostEnv)(nil)

// MockHostEnv keeps state in maps. Used by tests and by Invoke when no
// environment is given.
type MockHostEnv struct {
	mu       sync.Mutex
	accounts map[common.Address]*types.Account
	storage  map[common.Address]map[string][]byte

	// Err, when set, is returned by every call.
	Err error
}

func NewMockHostEnv() *MockHostEnv {
	return &MockHostEnv{
		accounts: make(map[common.Address]*types.Account),
		storage:  make(map[common.Address]map[string][]byte),
	}
}

func (m *MockHostEnv) GetStorage(addr common.Address, key []byte) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, false, m.Err
	}
	v, ok := m.storage[addr][string(key)]
	return append([]byte(nil), v...), ok, nil
}

func (m *MockHostEnv) SetStorage(addr common.Address, key, val []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	if len(val) == 0 {
		delete(m.storage[addr], string(key))
		return nil
	}
	if m.storage[addr] == nil {
		m.storage[addr] = make(map[string][]byte)
	}
	m.storage[addr][string(key)] = append([]byte(nil), val...)
	return nil
}

func (m *MockHostEnv) GetAccount(addr common.Address) (*types.Account, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, false, m.Err
	}
	a, ok := m.accounts[addr]
	if !ok {
		return nil, false, nil
	}
	return a.Clone(), true, nil
}

func (m *MockHostEnv) PutAccount(acct *types.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.accounts[acct.Address] = acct.Clone()
	return nil
}

// StorageLen returns the number of keys stored for addr.
func (m *MockHostEnv) StorageLen(addr common.Address) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.storage[addr])
}
