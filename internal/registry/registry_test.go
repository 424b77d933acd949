package registry

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/ethereum/go-ethereum/common"
	"github.com/lagrangedao/go-computing-market/internal/keylock"
	"github.com/lagrangedao/go-computing-market/internal/models"
	"github.com/lagrangedao/go-computing-market/internal/store"
	"github.com/stretchr/testify/suite"
)

var (
	owner    = common.HexToAddress("0x0000000000000000000000000000000000000a11")
	stranger = common.HexToAddress("0x000000000000000000000000000000000000beef")
)

type RegistrySuite struct {
	suite.Suite
	ctx      context.Context
	store    *store.LevelStore
	locks    *keylock.Locker
	clock    *clock.Mock
	registry *Registry
}

func TestRegistrySuite(t *testing.T) {
	suite.Run(t, new(RegistrySuite))
}

func (s *RegistrySuite) SetupTest() {
	s.ctx = context.Background()
	s.store = store.NewMemory()
	s.locks = keylock.New()
	s.clock = clock.NewMock()
	s.registry = New(s.store, s.locks, WithClock(s.clock))
}

func (s *RegistrySuite) TearDownTest() {
	s.NoError(s.store.Close())
}

func (s *RegistrySuite) register(caps models.Capabilities) *models.ComputeNode {
	n, err := s.registry.Register(s.ctx, owner, caps, big.NewInt(10), "ssh://10.0.0.1:22")
	s.Require().NoError(err)
	s.clock.Add(time.Second)
	return n
}

// inTx runs fn with the node lock held, the way the lifecycle does.
func (s *RegistrySuite) inTx(nodeId string, fn func(ctx context.Context, tx store.Txn) error) error {
	ctx, unlock, err := s.locks.Lock(s.ctx, Key(nodeId))
	if err != nil {
		return err
	}
	defer unlock()
	return s.store.Update(ctx, func(tx store.Txn) error { return fn(ctx, tx) })
}

func (s *RegistrySuite) assign(nodeId, assignment string) error {
	return s.inTx(nodeId, func(ctx context.Context, tx store.Txn) error {
		_, err := s.registry.AssignTx(ctx, tx, nodeId, assignment)
		return err
	})
}

func (s *RegistrySuite) release(nodeId, assignment string) error {
	return s.inTx(nodeId, func(ctx context.Context, tx store.Txn) error {
		_, err := s.registry.ReleaseTx(ctx, tx, nodeId, assignment, nil)
		return err
	})
}

func (s *RegistrySuite) TestRegister() {
	n := s.register(models.Capabilities{CpuCores: 8, MemoryGB: 32, GpuCount: 1, GpuType: "A100"})
	s.True(n.Available)
	s.Equal(models.NodeTypeSSH, n.Capabilities.NodeType)
	s.Zero(n.TotalJobs)
	s.Zero(n.SuccessfulJobs)

	got, err := s.registry.Get(n.NodeId)
	s.Require().NoError(err)
	s.Equal(n.NodeId, got.NodeId)
	s.Equal("10", got.PricePerHour.String())
}

func (s *RegistrySuite) TestRegister_Invalid() {
	_, err := s.registry.Register(s.ctx, owner, models.Capabilities{}, big.NewInt(0), "")
	s.ErrorIs(err, models.ErrInvalidArgument)
	_, err = s.registry.Register(s.ctx, owner, models.Capabilities{}, nil, "")
	s.ErrorIs(err, models.ErrInvalidArgument)
	_, err = s.registry.Register(s.ctx, owner, models.Capabilities{NodeType: "quantum"}, big.NewInt(1), "")
	s.ErrorIs(err, models.ErrInvalidArgument)
}

func (s *RegistrySuite) TestGet_NotFound() {
	_, err := s.registry.Get("missing")
	s.ErrorIs(err, models.ErrNotFound)
}

func (s *RegistrySuite) TestSetAvailability() {
	n := s.register(models.Capabilities{})

	_, err := s.registry.SetAvailability(s.ctx, n.NodeId, false, stranger)
	s.ErrorIs(err, models.ErrUnauthorized)

	got, err := s.registry.SetAvailability(s.ctx, n.NodeId, false, owner)
	s.Require().NoError(err)
	s.False(got.Available)

	got, err = s.registry.SetAvailability(s.ctx, n.NodeId, true, owner)
	s.Require().NoError(err)
	s.True(got.Available)
}

func (s *RegistrySuite) TestSetAvailability_WhileAssigned() {
	n := s.register(models.Capabilities{})
	s.Require().NoError(s.assign(n.NodeId, "job-1"))

	_, err := s.registry.SetAvailability(s.ctx, n.NodeId, true, owner)
	s.ErrorIs(err, models.ErrInvalidState)

	// switching off is remembered until the job lets go
	_, err = s.registry.SetAvailability(s.ctx, n.NodeId, false, owner)
	s.Require().NoError(err)
	s.Require().NoError(s.release(n.NodeId, "job-1"))

	got, err := s.registry.Get(n.NodeId)
	s.Require().NoError(err)
	s.False(got.Available)
	s.False(got.Assigned())
}

func (s *RegistrySuite) TestSetPrice() {
	n := s.register(models.Capabilities{})

	_, err := s.registry.SetPrice(s.ctx, n.NodeId, big.NewInt(20), stranger)
	s.ErrorIs(err, models.ErrUnauthorized)
	_, err = s.registry.SetPrice(s.ctx, n.NodeId, big.NewInt(0), owner)
	s.ErrorIs(err, models.ErrInvalidArgument)

	got, err := s.registry.SetPrice(s.ctx, n.NodeId, big.NewInt(20), owner)
	s.Require().NoError(err)
	s.Equal("20", got.PricePerHour.String())

	s.Require().NoError(s.assign(n.NodeId, "rental-1"))
	_, err = s.registry.SetPrice(s.ctx, n.NodeId, big.NewInt(30), owner)
	s.ErrorIs(err, models.ErrInvalidState)
}

func (s *RegistrySuite) TestDeregister() {
	n := s.register(models.Capabilities{})
	s.Require().NoError(s.assign(n.NodeId, "job-1"))

	_, err := s.registry.Deregister(s.ctx, n.NodeId, owner)
	s.ErrorIs(err, models.ErrInvalidState)

	s.Require().NoError(s.release(n.NodeId, "job-1"))
	got, err := s.registry.Deregister(s.ctx, n.NodeId, owner)
	s.Require().NoError(err)
	s.True(got.Deregistered)
	s.False(got.Available)

	_, err = s.registry.SetAvailability(s.ctx, n.NodeId, true, owner)
	s.ErrorIs(err, models.ErrInvalidState)

	// the record stays
	all, err := s.registry.List()
	s.Require().NoError(err)
	s.Len(all, 1)
}

func (s *RegistrySuite) TestAssign_Unavailable() {
	n := s.register(models.Capabilities{})
	s.Require().NoError(s.assign(n.NodeId, "job-1"))
	s.ErrorIs(s.assign(n.NodeId, "job-2"), models.ErrNodeUnavailable)

	off := s.register(models.Capabilities{})
	_, err := s.registry.SetAvailability(s.ctx, off.NodeId, false, owner)
	s.Require().NoError(err)
	s.ErrorIs(s.assign(off.NodeId, "job-3"), models.ErrNodeUnavailable)
}

func (s *RegistrySuite) TestRelease_WrongAssignment() {
	n := s.register(models.Capabilities{})
	s.Require().NoError(s.assign(n.NodeId, "job-1"))
	s.ErrorIs(s.release(n.NodeId, "job-2"), models.ErrInvalidState)
}

func (s *RegistrySuite) TestTx_RequiresLock() {
	n := s.register(models.Capabilities{})
	err := s.store.Update(s.ctx, func(tx store.Txn) error {
		_, err := s.registry.AssignTx(s.ctx, tx, n.NodeId, "job-1")
		return err
	})
	s.Error(err)
}

func (s *RegistrySuite) TestConcurrentAssign() {
	n := s.register(models.Capabilities{})

	var wg sync.WaitGroup
	var mu sync.Mutex
	var ok, unavailable int
	for _, id := range []string{"job-1", "job-2"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			err := s.assign(n.NodeId, id)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, models.ErrNodeUnavailable):
				unavailable++
			}
		}(id)
	}
	wg.Wait()
	s.Equal(1, ok)
	s.Equal(1, unavailable)
}

func (s *RegistrySuite) TestGetAvailable() {
	gpu := s.register(models.Capabilities{NodeType: models.NodeTypeTraining, CpuCores: 16, MemoryGB: 64, GpuCount: 4, GpuType: "A100"})
	small := s.register(models.Capabilities{CpuCores: 2, MemoryGB: 4})
	busy := s.register(models.Capabilities{NodeType: models.NodeTypeTraining, CpuCores: 32, MemoryGB: 128, GpuCount: 8, GpuType: "a100"})
	s.Require().NoError(s.assign(busy.NodeId, "job-1"))

	all, err := s.registry.GetAvailable(models.NodeFilter{})
	s.Require().NoError(err)
	s.Require().Len(all, 2)
	s.Equal(gpu.NodeId, all[0].NodeId)
	s.Equal(small.NodeId, all[1].NodeId)

	list, err := s.registry.GetAvailable(models.NodeFilter{GpuType: "a100", MinGpuCount: 1})
	s.Require().NoError(err)
	s.Require().Len(list, 1)
	s.Equal(gpu.NodeId, list[0].NodeId)

	list, err = s.registry.GetAvailable(models.NodeFilter{NodeType: models.NodeTypeSSH, MinCpuCores: 4})
	s.Require().NoError(err)
	s.Empty(list)
}

func (s *RegistrySuite) TestListByOwnerAndStats() {
	a := s.register(models.Capabilities{})
	s.register(models.Capabilities{})
	_, err := s.registry.Register(s.ctx, stranger, models.Capabilities{}, big.NewInt(5), "")
	s.Require().NoError(err)

	mine, err := s.registry.ListByOwner(owner)
	s.Require().NoError(err)
	s.Len(mine, 2)

	s.Require().NoError(s.assign(a.NodeId, "job-1"))
	s.Require().NoError(s.inTx(a.NodeId, func(ctx context.Context, tx store.Txn) error {
		_, err := s.registry.ReleaseTx(ctx, tx, a.NodeId, "job-1", func(n *models.ComputeNode) {
			n.TotalJobs++
			n.SuccessfulJobs++
		})
		return err
	}))

	stats, err := s.registry.Stats()
	s.Require().NoError(err)
	s.Equal(3, stats.TotalNodes)
	s.Equal(3, stats.AvailableNodes)
	s.EqualValues(1, stats.TotalJobs)
	s.InDelta(1.0, stats.AvgReliability, 1e-9)
}
