package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
	"golang.org/x/xerrors"
)

var ErrNotFound = errors.New("key not found")

// Store is a keyed record store. Writes only happen through Update, which
// applies all of a transaction's writes in one batch or none of them.
type Store interface {
	Get(key string, out interface{}) error
	Iterate(prefix string, fn func(key string, value []byte) error) error
	Update(ctx context.Context, fn func(tx Txn) error) error
	Close() error
}

// Txn collects writes until the surrounding Update commits. Reads see the
// transaction's own writes.
type Txn interface {
	Get(key string, out interface{}) error
	Put(key string, v interface{}) error
	Delete(key string) error
	// OnCommit registers f to run after the batch is durably written.
	OnCommit(f func())
	// OnRollback registers f to run if the transaction is abandoned. Hooks run in reverse order.
	OnRollback(f func())
}

type LevelStore struct {
	db   *leveldb.DB
	sync bool
}

func Open(p string) (*LevelStore, error) {
	_, err := os.Stat(p)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		if err := os.MkdirAll(p, 0700); err != nil {
			return nil, err
		}
	}

	db, err := leveldb.OpenFile(p, nil)
	if err != nil {
		return nil, xerrors.Errorf("open leveldb %s: %w", p, err)
	}
	return &LevelStore{db: db, sync: true}, nil
}

// NewMemory returns a store kept entirely in memory.
func NewMemory() *LevelStore {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		// memory storage cannot fail to open
		panic(err)
	}
	return &LevelStore{db: db}
}

func (s *LevelStore) Get(key string, out interface{}) error {
	return s.get(key, out)
}

func (s *LevelStore) get(key string, out interface{}) error {
	value, err := s.db.Get([]byte(key), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return ErrNotFound
		}
		return xerrors.Errorf("reading key '%s': %w", key, err)
	}
	if err := Decode(value, out); err != nil {
		return xerrors.Errorf("decoding key '%s': %w", key, err)
	}
	return nil
}

// Decode unmarshals a raw value handed out by Iterate.
func Decode(value []byte, out interface{}) error {
	return json.Unmarshal(value, out)
}

func (s *LevelStore) Iterate(prefix string, fn func(key string, value []byte) error) error {
	iter := s.db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
	defer iter.Release()
	for iter.Next() {
		// the iterator reuses its buffers
		value := append([]byte(nil), iter.Value()...)
		if err := fn(string(iter.Key()), value); err != nil {
			return err
		}
	}
	return iter.Error()
}

func (s *LevelStore) Update(ctx context.Context, fn func(tx Txn) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &txn{store: s, writes: make(map[string][]byte)}
	defer func() {
		if r := recover(); r != nil {
			tx.rollback()
			panic(r)
		}
	}()

	if err = fn(tx); err != nil {
		tx.rollback()
		return err
	}

	batch := new(leveldb.Batch)
	for _, key := range tx.order {
		value := tx.writes[key]
		if value == nil {
			batch.Delete([]byte(key))
		} else {
			batch.Put([]byte(key), value)
		}
	}
	if err = s.db.Write(batch, &opt.WriteOptions{Sync: s.sync}); err != nil {
		tx.rollback()
		return xerrors.Errorf("writing batch: %w", err)
	}

	for _, f := range tx.onCommit {
		f()
	}
	return nil
}

func (s *LevelStore) Close() error {
	return s.db.Close()
}

type txn struct {
	store      *LevelStore
	writes     map[string][]byte
	order      []string
	onCommit   []func()
	onRollback []func()
}

func (t *txn) Get(key string, out interface{}) error {
	if value, ok := t.writes[key]; ok {
		if value == nil {
			return ErrNotFound
		}
		return json.Unmarshal(value, out)
	}
	return t.store.get(key, out)
}

func (t *txn) Put(key string, v interface{}) error {
	bytes, err := json.Marshal(v)
	if err != nil {
		return xerrors.Errorf("encoding key '%s': %w", key, err)
	}
	t.set(key, bytes)
	return nil
}

func (t *txn) Delete(key string) error {
	t.set(key, nil)
	return nil
}

func (t *txn) set(key string, value []byte) {
	if _, ok := t.writes[key]; !ok {
		t.order = append(t.order, key)
	}
	t.writes[key] = value
}

func (t *txn) OnCommit(f func()) {
	t.onCommit = append(t.onCommit, f)
}

func (t *txn) OnRollback(f func()) {
	t.onRollback = append(t.onRollback, f)
}

func (t *txn) rollback() {
	for i := len(t.onRollback) - 1; i >= 0; i-- {
		t.onRollback[i]()
	}
	t.onRollback = nil
}
