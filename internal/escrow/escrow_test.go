package escrow

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/ethereum/go-ethereum/common"
	"github.com/lagrangedao/go-computing-market/internal/keylock"
	"github.com/lagrangedao/go-computing-market/internal/ledger"
	"github.com/lagrangedao/go-computing-market/internal/models"
	"github.com/lagrangedao/go-computing-market/internal/store"
	"github.com/stretchr/testify/suite"
)

var (
	authority = common.HexToAddress("0x00000000000000000000000000000000000a0700")
	client    = common.HexToAddress("0x00000000000000000000000000000000000c1e47")
	provider  = common.HexToAddress("0x0000000000000000000000000000000000070f1d")
	stranger  = common.HexToAddress("0x000000000000000000000000000000000000beef")
)

// hookLedger wraps a real ledger and lets a test intercept credits.
type hookLedger struct {
	*ledger.StoreLedger
	onCredit func(ctx context.Context, account common.Address, amount *big.Int) error
}

func (h *hookLedger) Credit(ctx context.Context, account common.Address, amount *big.Int) error {
	if h.onCredit != nil {
		if err := h.onCredit(ctx, account, amount); err != nil {
			return err
		}
	}
	return h.StoreLedger.Credit(ctx, account, amount)
}

func (h *hookLedger) CreditTx(ctx context.Context, tx store.Txn, account common.Address, amount *big.Int) error {
	if h.onCredit != nil {
		if err := h.onCredit(ctx, account, amount); err != nil {
			return err
		}
	}
	return h.StoreLedger.CreditTx(ctx, tx, account, amount)
}

// remoteLedger applies every transfer on its own, like a token contract
// would, so the escrow ledger has to reverse it by hand.
type remoteLedger struct {
	inner    ledger.Ledger
	onCredit func(account common.Address) error
}

func (r *remoteLedger) Debit(ctx context.Context, account common.Address, amount *big.Int) error {
	return r.inner.Debit(ctx, account, amount)
}

func (r *remoteLedger) Credit(ctx context.Context, account common.Address, amount *big.Int) error {
	if r.onCredit != nil {
		if err := r.onCredit(account); err != nil {
			return err
		}
	}
	return r.inner.Credit(ctx, account, amount)
}

func (r *remoteLedger) Balance(ctx context.Context, account common.Address) (*big.Int, error) {
	return r.inner.Balance(ctx, account)
}

type EscrowSuite struct {
	suite.Suite
	ctx    context.Context
	store  *store.LevelStore
	funds  *hookLedger
	escrow *Ledger
}

func TestEscrowSuite(t *testing.T) {
	suite.Run(t, new(EscrowSuite))
}

func (s *EscrowSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = store.NewMemory()
	s.funds = &hookLedger{StoreLedger: ledger.NewStoreLedger(s.store)}
	s.escrow = New(s.store, s.funds, keylock.New(), authority, WithClock(clock.NewMock()))
	s.Require().NoError(s.funds.Deposit(s.ctx, client, big.NewInt(1000)))
}

func (s *EscrowSuite) TearDownTest() {
	s.NoError(s.store.Close())
}

func (s *EscrowSuite) balance(account common.Address) string {
	b, err := s.funds.Balance(s.ctx, account)
	s.Require().NoError(err)
	return b.String()
}

func (s *EscrowSuite) lockJob(id string, amount int64) *models.Escrow {
	e, err := s.escrow.Lock(s.ctx, models.EscrowKindJob, id, big.NewInt(amount), client, provider)
	s.Require().NoError(err)
	return e
}

// lockManaged locks an escrow the way a job or rental record does.
func (s *EscrowSuite) lockManaged(kind models.EscrowKind, id string, amount int64) {
	ctx, unlock, err := s.escrow.locks.Lock(s.ctx, Key(id))
	s.Require().NoError(err)
	defer unlock()
	s.Require().NoError(s.store.Update(ctx, func(tx store.Txn) error {
		_, err := s.escrow.LockTx(ctx, tx, kind, id, big.NewInt(amount), client, provider)
		return err
	}))
}

func (s *EscrowSuite) TestLock() {
	e := s.lockJob("job-1", 100)
	s.Equal(models.EscrowLocked, e.State)
	s.Equal("900", s.balance(client))

	got, err := s.escrow.Get("job-1")
	s.Require().NoError(err)
	s.Equal("100", got.Amount.String())
	s.Equal(client, got.Payer)
}

func (s *EscrowSuite) TestLock_Twice() {
	s.lockJob("job-1", 100)
	_, err := s.escrow.Lock(s.ctx, models.EscrowKindJob, "job-1", big.NewInt(100), client, provider)
	s.ErrorIs(err, models.ErrAlreadyLocked)
	s.Equal("900", s.balance(client))
}

func (s *EscrowSuite) TestLock_InsufficientFunds() {
	_, err := s.escrow.Lock(s.ctx, models.EscrowKindJob, "job-1", big.NewInt(1001), client, provider)
	s.ErrorIs(err, models.ErrInsufficientFunds)

	_, err = s.escrow.Get("job-1")
	s.ErrorIs(err, models.ErrNotFound)
	s.Equal("1000", s.balance(client))
}

func (s *EscrowSuite) TestRelease() {
	s.lockJob("job-1", 100)
	e, err := s.escrow.Release(s.ctx, "job-1", authority)
	s.Require().NoError(err)
	s.Equal(models.EscrowReleased, e.State)
	s.Equal("100", e.PayeeAmount.String())
	s.Equal("0", e.PayerAmount.String())
	s.Equal("100", s.balance(provider))
	s.Equal("900", s.balance(client))
}

func (s *EscrowSuite) TestRefund() {
	s.lockJob("job-1", 100)
	e, err := s.escrow.Refund(s.ctx, "job-1", authority)
	s.Require().NoError(err)
	s.Equal(models.EscrowRefunded, e.State)
	s.Equal("1000", s.balance(client))
	s.Equal("0", s.balance(provider))
}

func (s *EscrowSuite) TestSettle_NotFound() {
	_, err := s.escrow.Release(s.ctx, "missing", authority)
	s.ErrorIs(err, models.ErrNotFound)
}

func (s *EscrowSuite) TestSplit_AfterDispute() {
	s.lockJob("job-1", 100)

	e, err := s.escrow.Split(s.ctx, "job-1", big.NewInt(40), authority)
	s.Require().NoError(err)
	s.Equal(models.EscrowSplit, e.State)
	s.Equal("40", s.balance(provider))
	s.Equal("960", s.balance(client))

	_, err = s.escrow.Release(s.ctx, "job-1", authority)
	s.ErrorIs(err, models.ErrAlreadySettled)
	_, err = s.escrow.Refund(s.ctx, "job-1", authority)
	s.ErrorIs(err, models.ErrAlreadySettled)
	s.Equal("40", s.balance(provider))
	s.Equal("960", s.balance(client))
}

func (s *EscrowSuite) TestSplit_Bounds() {
	s.lockJob("job-1", 100)
	for _, amount := range []int64{0, 100, 101, -5} {
		_, err := s.escrow.Split(s.ctx, "job-1", big.NewInt(amount), authority)
		s.ErrorIs(err, models.ErrInvalidArgument, "amount %d", amount)
	}
	got, err := s.escrow.Get("job-1")
	s.Require().NoError(err)
	s.Equal(models.EscrowLocked, got.State)
}

func (s *EscrowSuite) TestSingleSettlement() {
	s.lockJob("job-1", 100)
	_, err := s.escrow.Release(s.ctx, "job-1", authority)
	s.Require().NoError(err)
	_, err = s.escrow.Release(s.ctx, "job-1", authority)
	s.ErrorIs(err, models.ErrAlreadySettled)
	s.Equal("100", s.balance(provider))
}

func (s *EscrowSuite) TestAuthorization_Job() {
	s.lockJob("job-1", 100)
	for _, caller := range []common.Address{client, provider, stranger} {
		_, err := s.escrow.Release(s.ctx, "job-1", caller)
		s.ErrorIs(err, models.ErrUnauthorized)
		_, err = s.escrow.Refund(s.ctx, "job-1", caller)
		s.ErrorIs(err, models.ErrUnauthorized)
	}
}

func (s *EscrowSuite) TestAuthorization_BeforeState() {
	s.lockJob("job-1", 100)
	_, err := s.escrow.Split(s.ctx, "job-1", big.NewInt(500), stranger)
	s.ErrorIs(err, models.ErrUnauthorized)

	_, err = s.escrow.Release(s.ctx, "job-1", authority)
	s.Require().NoError(err)
	_, err = s.escrow.Refund(s.ctx, "job-1", stranger)
	s.ErrorIs(err, models.ErrUnauthorized)
	s.NotErrorIs(err, models.ErrAlreadySettled)
}

// Standalone rental escrows have no rental record behind them, so either
// party may release them directly.
func (s *EscrowSuite) TestAuthorization_Rental() {
	lock := func(id string) {
		_, err := s.escrow.Lock(s.ctx, models.EscrowKindRental, id, big.NewInt(10), client, provider)
		s.Require().NoError(err)
	}

	lock("rental-1")
	_, err := s.escrow.Release(s.ctx, "rental-1", stranger)
	s.ErrorIs(err, models.ErrUnauthorized)
	_, err = s.escrow.Refund(s.ctx, "rental-1", client)
	s.ErrorIs(err, models.ErrUnauthorized)
	_, err = s.escrow.Release(s.ctx, "rental-1", client)
	s.NoError(err)

	lock("rental-2")
	_, err = s.escrow.Release(s.ctx, "rental-2", provider)
	s.NoError(err)

	lock("rental-3")
	_, err = s.escrow.Split(s.ctx, "rental-3", big.NewInt(3), authority)
	s.NoError(err)
}

func (s *EscrowSuite) TestManagedEscrowSettlesOnlyThroughItsOwner() {
	s.lockManaged(models.EscrowKindRental, "rental-1", 100)
	s.lockManaged(models.EscrowKindJob, "job-1", 100)

	for _, id := range []string{"rental-1", "job-1"} {
		_, err := s.escrow.Release(s.ctx, id, stranger)
		s.ErrorIs(err, models.ErrUnauthorized)
		_, err = s.escrow.Release(s.ctx, id, authority)
		s.ErrorIs(err, models.ErrInvalidState)
		_, err = s.escrow.Refund(s.ctx, id, authority)
		s.ErrorIs(err, models.ErrInvalidState)
		_, err = s.escrow.Split(s.ctx, id, big.NewInt(10), authority)
		s.ErrorIs(err, models.ErrInvalidState)
	}
	// the node owner of a rental escrow is refused too
	_, err := s.escrow.Release(s.ctx, "rental-1", provider)
	s.ErrorIs(err, models.ErrInvalidState)
	s.Equal("0", s.balance(provider))
	s.Equal("800", s.balance(client))

	ctx, unlock, err := s.escrow.locks.Lock(s.ctx, Key("rental-1"))
	s.Require().NoError(err)
	defer unlock()
	s.Require().NoError(s.store.Update(ctx, func(tx store.Txn) error {
		_, err := s.escrow.SettleTx(ctx, tx, "rental-1", PlanPayment(big.NewInt(10)))
		return err
	}))
	got, err := s.escrow.Get("rental-1")
	s.Require().NoError(err)
	s.True(got.Managed)
	s.Equal(models.EscrowSplit, got.State)
	s.Equal("10", s.balance(provider))
}

func (s *EscrowSuite) TestRelease_WithoutPayee() {
	_, err := s.escrow.Lock(s.ctx, models.EscrowKindJob, "job-1", big.NewInt(100), client, common.Address{})
	s.Require().NoError(err)

	_, err = s.escrow.Release(s.ctx, "job-1", authority)
	s.ErrorIs(err, models.ErrInvalidState)

	// a refund needs no payee
	_, err = s.escrow.Refund(s.ctx, "job-1", authority)
	s.NoError(err)
}

func (s *EscrowSuite) TestAssignPayeeTx() {
	_, err := s.escrow.Lock(s.ctx, models.EscrowKindJob, "job-1", big.NewInt(100), client, common.Address{})
	s.Require().NoError(err)

	locks := keylock.New()
	ctx, unlock, err := locks.Lock(s.ctx, Key("job-1"))
	s.Require().NoError(err)
	defer unlock()

	s.Require().NoError(s.store.Update(ctx, func(tx store.Txn) error {
		_, err := s.escrow.AssignPayeeTx(ctx, tx, "job-1", provider)
		return err
	}))
	err = s.store.Update(ctx, func(tx store.Txn) error {
		_, err := s.escrow.AssignPayeeTx(ctx, tx, "job-1", stranger)
		return err
	})
	s.ErrorIs(err, models.ErrInvalidState)

	_, err = s.escrow.Release(s.ctx, "job-1", authority)
	s.Require().NoError(err)
	s.Equal("100", s.balance(provider))
}

func (s *EscrowSuite) TestTx_RequiresLock() {
	err := s.store.Update(s.ctx, func(tx store.Txn) error {
		_, err := s.escrow.LockTx(s.ctx, tx, models.EscrowKindJob, "job-1", big.NewInt(1), client, provider)
		return err
	})
	s.Error(err)
	s.Equal("1000", s.balance(client))
}

// A payout that calls back into the ledger for the same escrow must not be
// able to settle it a second time.
func (s *EscrowSuite) TestReentrantSettlement() {
	s.lockJob("job-1", 100)

	var nested error
	s.funds.onCredit = func(ctx context.Context, account common.Address, amount *big.Int) error {
		s.funds.onCredit = nil
		_, nested = s.escrow.Release(ctx, "job-1", authority)
		return nil
	}

	_, err := s.escrow.Release(s.ctx, "job-1", authority)
	s.Require().NoError(err)
	s.ErrorIs(nested, models.ErrSettlementInProgress)
	s.Equal("100", s.balance(provider))
	s.Equal("900", s.balance(client))
}

func (s *EscrowSuite) TestFailedPayoutRollsBack() {
	s.lockJob("job-1", 100)

	boom := errors.New("transfer rejected")
	s.funds.onCredit = func(ctx context.Context, account common.Address, amount *big.Int) error {
		if account == client {
			return boom
		}
		return nil
	}

	// the payee share is credited first and must be reversed
	_, err := s.escrow.Split(s.ctx, "job-1", big.NewInt(40), authority)
	s.ErrorIs(err, boom)
	s.Equal("0", s.balance(provider))
	s.Equal("900", s.balance(client))

	got, err := s.escrow.Get("job-1")
	s.Require().NoError(err)
	s.Equal(models.EscrowLocked, got.State)

	s.funds.onCredit = nil
	_, err = s.escrow.Split(s.ctx, "job-1", big.NewInt(40), authority)
	s.NoError(err)
	s.Equal("40", s.balance(provider))
	s.Equal("960", s.balance(client))
}

// Nothing a settlement writes is visible before the escrow itself flips.
func (s *EscrowSuite) TestTransfersCommitWithSettlement() {
	s.lockJob("job-1", 100)

	var state models.EscrowState
	var paid string
	s.funds.onCredit = func(ctx context.Context, account common.Address, amount *big.Int) error {
		if account != client {
			return nil
		}
		e, err := s.escrow.Get("job-1")
		s.Require().NoError(err)
		state = e.State
		paid = s.balance(provider)
		return nil
	}

	_, err := s.escrow.Split(s.ctx, "job-1", big.NewInt(40), authority)
	s.Require().NoError(err)
	s.Equal(models.EscrowLocked, state)
	s.Equal("0", paid)
	s.Equal("40", s.balance(provider))
	s.Equal("960", s.balance(client))
}

func (s *EscrowSuite) TestFailedPayoutRollsBack_RemoteLedger() {
	remote := &remoteLedger{inner: s.funds.StoreLedger}
	l := New(s.store, remote, keylock.New(), authority, WithClock(clock.NewMock()))
	_, err := l.Lock(s.ctx, models.EscrowKindJob, "job-1", big.NewInt(100), client, provider)
	s.Require().NoError(err)
	s.Equal("900", s.balance(client))

	boom := errors.New("transfer rejected")
	remote.onCredit = func(account common.Address) error {
		if account == client {
			return boom
		}
		return nil
	}
	_, err = l.Split(s.ctx, "job-1", big.NewInt(40), authority)
	s.ErrorIs(err, boom)
	s.Equal("0", s.balance(provider))
	s.Equal("900", s.balance(client))

	remote.onCredit = nil
	_, err = l.Split(s.ctx, "job-1", big.NewInt(40), authority)
	s.Require().NoError(err)
	s.Equal("40", s.balance(provider))
	s.Equal("960", s.balance(client))
}

func (s *EscrowSuite) TestConcurrentSettlement() {
	s.lockJob("job-1", 100)

	var wg sync.WaitGroup
	var mu sync.Mutex
	var wins, settled int
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var err error
			if i%2 == 0 {
				_, err = s.escrow.Release(s.ctx, "job-1", authority)
			} else {
				_, err = s.escrow.Refund(s.ctx, "job-1", authority)
			}
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, models.ErrAlreadySettled):
				settled++
			}
		}(i)
	}
	wg.Wait()
	s.Equal(1, wins)
	s.Equal(15, settled)

	paid, _ := new(big.Int).SetString(s.balance(provider), 10)
	kept, _ := new(big.Int).SetString(s.balance(client), 10)
	s.Equal("1000", new(big.Int).Add(paid, kept).String())
}

func (s *EscrowSuite) TestList() {
	s.lockJob("job-1", 10)
	s.lockJob("job-2", 10)
	_, err := s.escrow.Release(s.ctx, "job-2", authority)
	s.Require().NoError(err)

	all, err := s.escrow.List(nil)
	s.Require().NoError(err)
	s.Len(all, 2)

	locked := models.EscrowLocked
	list, err := s.escrow.List(&locked)
	s.Require().NoError(err)
	s.Require().Len(list, 1)
	s.Equal("job-1", list[0].EntityId)
}

func (s *EscrowSuite) TestPlanPayment() {
	e := &models.Escrow{EntityId: "rental-1", Amount: big.NewInt(100)}

	got, err := PlanPayment(big.NewInt(100))(e)
	s.Require().NoError(err)
	s.Equal(models.EscrowReleased, got.State)

	got, err = PlanPayment(big.NewInt(0))(e)
	s.Require().NoError(err)
	s.Equal(models.EscrowRefunded, got.State)

	got, err = PlanPayment(big.NewInt(10))(e)
	s.Require().NoError(err)
	s.Equal(models.EscrowSplit, got.State)
	s.Equal("10", got.PayeeAmount.String())
	s.Equal("90", got.PayerAmount.String())

	_, err = PlanPayment(big.NewInt(101))(e)
	s.ErrorIs(err, models.ErrInvalidArgument)
}
