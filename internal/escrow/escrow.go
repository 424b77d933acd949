package escrow

import (
	"context"
	"errors"
	"math/big"

	"github.com/benbjohnson/clock"
	"github.com/ethereum/go-ethereum/common"
	"github.com/lagrangedao/go-computing-market/constants"
	"github.com/lagrangedao/go-computing-market/internal/events"
	"github.com/lagrangedao/go-computing-market/internal/keylock"
	"github.com/lagrangedao/go-computing-market/internal/ledger"
	"github.com/lagrangedao/go-computing-market/internal/models"
	"github.com/lagrangedao/go-computing-market/internal/store"
	"golang.org/x/xerrors"
)

func Key(entityId string) string {
	return constants.ESCROW_PREFIX + entityId
}

// Ledger holds the funds of every job and rental between funding and
// settlement.
//
// Each mutating call holds the entity's lock from the first read until the
// transfers are done. The new state is written into the transaction before
// any transfer is issued, and transfers already applied are reversed if the
// transaction does not commit.
type Ledger struct {
	store     store.Store
	funds     ledger.Ledger
	locks     *keylock.Locker
	clock     clock.Clock
	authority common.Address
	events    events.Publisher
}

type Option func(*Ledger)

func WithClock(c clock.Clock) Option {
	return func(l *Ledger) { l.clock = c }
}

func WithPublisher(p events.Publisher) Option {
	return func(l *Ledger) { l.events = p }
}

func New(st store.Store, funds ledger.Ledger, locks *keylock.Locker, authority common.Address, opts ...Option) *Ledger {
	l := &Ledger{
		store:     st,
		funds:     funds,
		locks:     locks,
		clock:     clock.New(),
		authority: authority,
		events:    events.Discard{},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) Authority() common.Address {
	return l.authority
}

// Lock moves amount from payer into a new escrow for entityId. The escrow is
// settled directly through Release, Refund or Split.
func (l *Ledger) Lock(ctx context.Context, kind models.EscrowKind, entityId string, amount *big.Int, payer, payee common.Address) (*models.Escrow, error) {
	var out *models.Escrow
	err := l.withLock(ctx, entityId, func(ctx context.Context) error {
		return l.store.Update(ctx, func(tx store.Txn) error {
			e, err := l.lockTx(ctx, tx, kind, entityId, amount, payer, payee, false)
			out = e
			return err
		})
	})
	return out, err
}

// Release pays the full amount to the payee.
func (l *Ledger) Release(ctx context.Context, entityId string, caller common.Address) (*models.Escrow, error) {
	return l.settle(ctx, entityId, caller, models.EscrowReleased, PlanRelease)
}

// Refund returns the full amount to the payer.
func (l *Ledger) Refund(ctx context.Context, entityId string, caller common.Address) (*models.Escrow, error) {
	return l.settle(ctx, entityId, caller, models.EscrowRefunded, PlanRefund)
}

// Split pays payeeAmount to the payee and the remainder to the payer.
func (l *Ledger) Split(ctx context.Context, entityId string, payeeAmount *big.Int, caller common.Address) (*models.Escrow, error) {
	return l.settle(ctx, entityId, caller, models.EscrowSplit, PlanSplit(payeeAmount))
}

// settle checks the caller before anything about the escrow is revealed.
// Managed escrows are refused: their job or rental settles them.
func (l *Ledger) settle(ctx context.Context, entityId string, caller common.Address, state models.EscrowState, plan Plan) (*models.Escrow, error) {
	var out *models.Escrow
	err := l.withLock(ctx, entityId, func(ctx context.Context) error {
		return l.store.Update(ctx, func(tx store.Txn) error {
			e, err := l.getTx(tx, entityId)
			if err != nil {
				return err
			}
			if err := l.authorize(e, state, caller); err != nil {
				return err
			}
			if e.State.IsTerminal() {
				return xerrors.Errorf("escrow %s is %s: %w", entityId, e.State, models.ErrAlreadySettled)
			}
			if e.Managed {
				return xerrors.Errorf("escrow %s settles through its %s: %w", entityId, e.Kind, models.ErrInvalidState)
			}
			out, err = l.SettleTx(ctx, tx, entityId, plan)
			return err
		})
	})
	return out, err
}

// authorize applies the settlement policy: job escrows are judged by the
// authority alone, while either party of a rental may release it.
func (l *Ledger) authorize(e *models.Escrow, state models.EscrowState, caller common.Address) error {
	if caller == l.authority {
		return nil
	}
	if e.Kind == models.EscrowKindRental && state == models.EscrowReleased && (caller == e.Payer || caller == e.Payee) {
		return nil
	}
	return xerrors.Errorf("%s may not settle %s escrow %s as %s: %w", caller.Hex(), e.Kind, e.EntityId, state, models.ErrUnauthorized)
}

func (l *Ledger) withLock(ctx context.Context, entityId string, fn func(ctx context.Context) error) error {
	ctx, unlock, err := l.locks.Lock(ctx, Key(entityId))
	if errors.Is(err, keylock.ErrReentrant) {
		return xerrors.Errorf("escrow %s: %w", entityId, models.ErrSettlementInProgress)
	}
	if err != nil {
		return err
	}
	defer unlock()
	return fn(ctx)
}

func (l *Ledger) Get(entityId string) (*models.Escrow, error) {
	e := new(models.Escrow)
	if err := l.store.Get(Key(entityId), e); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, xerrors.Errorf("escrow %s: %w", entityId, models.ErrNotFound)
		}
		return nil, err
	}
	return e, nil
}

// List returns all escrows, or only those in state when it is non-nil.
func (l *Ledger) List(state *models.EscrowState) ([]*models.Escrow, error) {
	var list []*models.Escrow
	err := l.store.Iterate(constants.ESCROW_PREFIX, func(key string, value []byte) error {
		e := new(models.Escrow)
		if err := store.Decode(value, e); err != nil {
			return err
		}
		if state == nil || e.State == *state {
			list = append(list, e)
		}
		return nil
	})
	return list, err
}

func (l *Ledger) getTx(tx store.Txn, entityId string) (*models.Escrow, error) {
	e := new(models.Escrow)
	if err := tx.Get(Key(entityId), e); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, xerrors.Errorf("escrow %s: %w", entityId, models.ErrNotFound)
		}
		return nil, err
	}
	return e, nil
}

func (l *Ledger) publish(tx store.Txn, e *models.Escrow) {
	ev := events.Event{Type: constants.EVENT_ESCROW, Id: e.EntityId, State: e.State.String(), Time: l.clock.Now().Unix(), Data: e}
	tx.OnCommit(func() { l.events.Publish(ev) })
}
