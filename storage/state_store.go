package storage

import (
	"github.com/golang/snappy"
	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/filter"
	"github.com/syndtr/goleveldb/leveldb/opt"
	leveldbstorage "github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/colorfulnotion/avm/common"
	"github.com/colorfulnotion/avm/log"
	"github.com/colorfulnotion/avm/types"
)

// Key prefixes.
var (
	accountPrefix = []byte("a|")
	codePrefix    = []byte("c|")
	storagePrefix = []byte("s|")
)

// StateStore keeps accounts, contract code and contract storage in LevelDB.
// Contract code is stored once per code hash, snappy compressed.
type StateStore struct {
	db   *leveldb.DB
	path string
}

// NewStateStore opens or creates a store at path. An empty path gives an
// in-memory store.
func NewStateStore(path string) (*StateStore, error) {
	o := &opt.Options{
		OpenFilesCacheCapacity: 16,
		BlockCacheCapacity:     8 * opt.MiB,
		WriteBuffer:            4 * opt.MiB,
		Filter:                 filter.NewBloomFilter(10),
	}
	var (
		db  *leveldb.DB
		err error
	)
	if path == "" {
		db, err = leveldb.Open(leveldbstorage.NewMemStorage(), o)
	} else {
		db, err = leveldb.OpenFile(path, o)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "open state store %q", path)
	}
	return &StateStore{db: db, path: path}, nil
}

// Close releases the database and, for file stores, the directory lock.
func (s *StateStore) Close() error {
	return s.db.Close()
}

func accountKey(addr common.Address) []byte {
	return append(append([]byte{}, accountPrefix...), addr.Bytes()...)
}

func codeKey(h common.Hash) []byte {
	return append(append([]byte{}, codePrefix...), h.Bytes()...)
}

func storageKey(addr common.Address, key []byte) []byte {
	k := make([]byte, 0, len(storagePrefix)+common.AddressLength+1+len(key))
	k = append(k, storagePrefix...)
	k = append(k, addr.Bytes()...)
	k = append(k, '|')
	return append(k, key...)
}

func (s *StateStore) get(key []byte) ([]byte, bool, error) {
	v, err := s.db.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "get %x", key)
	}
	return v, true, nil
}

// GetAccount loads an account and, for contracts, its code.
func (s *StateStore) GetAccount(addr common.Address) (*types.Account, bool, error) {
	raw, ok, err := s.get(accountKey(addr))
	if err != nil || !ok {
		return nil, ok, err
	}
	acct, err := types.DecodeAccount(raw)
	if err != nil {
		return nil, false, errors.Wrapf(err, "account %s", addr.Hex())
	}
	if acct.IsContract {
		code, ok, err := s.GetCode(acct.CodeHash)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			return nil, false, errors.Errorf("code %s of account %s missing", acct.CodeHash.Hex(), addr.Hex())
		}
		acct.Code = code
	}
	return acct, true, nil
}

// PutAccount writes the account record and, when present, its code.
func (s *StateStore) PutAccount(acct *types.Account) error {
	batch := new(leveldb.Batch)
	batch.Put(accountKey(acct.Address), acct.Encode())
	if acct.IsContract && len(acct.Code) > 0 {
		batch.Put(codeKey(acct.CodeHash), snappy.Encode(nil, acct.Code))
	}
	if err := s.db.Write(batch, nil); err != nil {
		return errors.Wrapf(err, "put account %s", acct.Address.Hex())
	}
	log.Debug(log.StorageMonitoring, "put account", "addr", acct.Address.Hex(), "contract", acct.IsContract)
	return nil
}

// GetCode returns the decompressed code stored under h.
func (s *StateStore) GetCode(h common.Hash) ([]byte, bool, error) {
	raw, ok, err := s.get(codeKey(h))
	if err != nil || !ok {
		return nil, ok, err
	}
	code, err := snappy.Decode(nil, raw)
	if err != nil {
		return nil, false, errors.Wrapf(err, "decode code %s", h.Hex())
	}
	return code, true, nil
}

func (s *StateStore) GetStorage(addr common.Address, key []byte) ([]byte, bool, error) {
	return s.get(storageKey(addr, key))
}

// SetStorage writes val under key; an empty val deletes the key.
func (s *StateStore) SetStorage(addr common.Address, key, val []byte) error {
	k := storageKey(addr, key)
	var err error
	if len(val) == 0 {
		err = s.db.Delete(k, nil)
	} else {
		err = s.db.Put(k, val, nil)
	}
	return errors.Wrapf(err, "set storage %s/%x", addr.Hex(), key)
}

// StorageEntries returns all storage of addr in key order.
func (s *StateStore) StorageEntries(addr common.Address) ([][2][]byte, error) {
	prefix := storageKey(addr, nil)
	it := s.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer it.Release()
	var out [][2][]byte
	for it.Next() {
		k := append([]byte(nil), it.Key()[len(prefix):]...)
		v := append([]byte(nil), it.Value()...)
		out = append(out, [2][]byte{k, v})
	}
	return out, errors.Wrap(it.Error(), "iterate storage")
}

// Accounts returns the addresses of all stored accounts in key order.
func (s *StateStore) Accounts() ([]common.Address, error) {
	it := s.db.NewIterator(util.BytesPrefix(accountPrefix), nil)
	defer it.Release()
	var out []common.Address
	for it.Next() {
		out = append(out, common.BytesToAddress(it.Key()[len(accountPrefix):]))
	}
	return out, errors.Wrap(it.Error(), "iterate accounts")
}
