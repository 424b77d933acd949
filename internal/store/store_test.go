package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/suite"
)

type record struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type Suite struct {
	suite.Suite
	store *LevelStore
	open  func() *LevelStore
}

func (s *Suite) SetupTest() {
	s.store = s.open()
}

func (s *Suite) TearDownTest() {
	s.NoError(s.store.Close())
}

func TestMemorySuite(t *testing.T) {
	suite.Run(t, &Suite{open: NewMemory})
}

func TestDiskSuite(t *testing.T) {
	s := &Suite{}
	s.open = func() *LevelStore {
		st, err := Open(filepath.Join(s.T().TempDir(), "db"))
		s.Require().NoError(err)
		return st
	}
	suite.Run(t, s)
}

func (s *Suite) TestGet_NotFound() {
	var r record
	err := s.store.Get("missing", &r)
	s.ErrorIs(err, ErrNotFound)
}

func (s *Suite) TestUpdate_Commit() {
	ctx := context.Background()
	committed := false
	err := s.store.Update(ctx, func(tx Txn) error {
		tx.OnCommit(func() { committed = true })
		return tx.Put("rec/1", record{Name: "a", Count: 1})
	})
	s.NoError(err)
	s.True(committed)

	var r record
	s.NoError(s.store.Get("rec/1", &r))
	s.Equal(record{Name: "a", Count: 1}, r)
}

func (s *Suite) TestUpdate_ReadOwnWrites() {
	err := s.store.Update(context.Background(), func(tx Txn) error {
		s.NoError(tx.Put("rec/1", record{Name: "a"}))
		var r record
		s.NoError(tx.Get("rec/1", &r))
		s.Equal("a", r.Name)

		s.NoError(tx.Delete("rec/1"))
		s.ErrorIs(tx.Get("rec/1", &r), ErrNotFound)
		return nil
	})
	s.NoError(err)
}

func (s *Suite) TestUpdate_RollbackDiscardsWrites() {
	ctx := context.Background()
	s.NoError(s.store.Update(ctx, func(tx Txn) error {
		return tx.Put("rec/1", record{Name: "before"})
	}))

	var calls []int
	boom := errors.New("boom")
	err := s.store.Update(ctx, func(tx Txn) error {
		tx.OnRollback(func() { calls = append(calls, 1) })
		tx.OnRollback(func() { calls = append(calls, 2) })
		tx.OnCommit(func() { s.Fail("commit hook must not run") })
		s.NoError(tx.Put("rec/1", record{Name: "after"}))
		s.NoError(tx.Put("rec/2", record{Name: "new"}))
		return boom
	})
	s.ErrorIs(err, boom)
	s.Equal([]int{2, 1}, calls)

	var r record
	s.NoError(s.store.Get("rec/1", &r))
	s.Equal("before", r.Name)
	s.ErrorIs(s.store.Get("rec/2", &r), ErrNotFound)
}

func (s *Suite) TestUpdate_CancelledContext() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.store.Update(ctx, func(tx Txn) error {
		s.Fail("must not run")
		return nil
	})
	s.ErrorIs(err, context.Canceled)
}

func (s *Suite) TestIterate_Prefix() {
	s.NoError(s.store.Update(context.Background(), func(tx Txn) error {
		s.NoError(tx.Put("node/a", record{Name: "a"}))
		s.NoError(tx.Put("node/b", record{Name: "b"}))
		return tx.Put("job/a", record{Name: "job"})
	}))

	var keys []string
	err := s.store.Iterate("node/", func(key string, value []byte) error {
		keys = append(keys, key)
		return nil
	})
	s.NoError(err)
	s.Equal([]string{"node/a", "node/b"}, keys)
}
