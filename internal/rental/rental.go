package rental

import (
	"context"
	"errors"
	"math/big"
	"sort"

	"github.com/benbjohnson/clock"
	"github.com/ethereum/go-ethereum/common"
	"github.com/filswan/go-mcs-sdk/mcs/api/common/logs"
	"github.com/google/uuid"
	"github.com/lagrangedao/go-computing-market/constants"
	"github.com/lagrangedao/go-computing-market/internal/escrow"
	"github.com/lagrangedao/go-computing-market/internal/events"
	"github.com/lagrangedao/go-computing-market/internal/keylock"
	"github.com/lagrangedao/go-computing-market/internal/models"
	"github.com/lagrangedao/go-computing-market/internal/notify"
	"github.com/lagrangedao/go-computing-market/internal/registry"
	"github.com/lagrangedao/go-computing-market/internal/settlement"
	"github.com/lagrangedao/go-computing-market/internal/store"
	"golang.org/x/xerrors"
)

func Key(rentalId string) string {
	return constants.RENTAL_PREFIX + rentalId
}

// Service rents whole nodes by the second. The renter pays for the full
// duration up front and gets back whatever was not used.
type Service struct {
	store     store.Store
	locks     *keylock.Locker
	escrow    *escrow.Ledger
	registry  *registry.Registry
	notifier  notify.Notifier
	clock     clock.Clock
	events    events.Publisher
	authority common.Address
}

type Option func(*Service)

func WithClock(c clock.Clock) Option {
	return func(s *Service) { s.clock = c }
}

func WithPublisher(p events.Publisher) Option {
	return func(s *Service) { s.events = p }
}

func WithNotifier(n notify.Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func New(st store.Store, locks *keylock.Locker, esc *escrow.Ledger, reg *registry.Registry, opts ...Option) *Service {
	s := &Service{
		store:     st,
		locks:     locks,
		escrow:    esc,
		registry:  reg,
		notifier:  notify.Noop{},
		clock:     clock.New(),
		events:    events.Discard{},
		authority: esc.Authority(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Rent binds an available node to renter for at most duration seconds at the
// node's current price, locking the full cost in escrow for the owner.
func (s *Service) Rent(ctx context.Context, nodeId string, renter common.Address, duration int64) (*models.Rental, error) {
	if duration <= 0 {
		return nil, xerrors.Errorf("rental duration %d: %w", duration, models.ErrInvalidArgument)
	}
	rentalId := uuid.NewString()
	ctx, unlock, err := s.locks.LockAll(ctx, Key(rentalId), escrow.Key(rentalId), registry.Key(nodeId))
	if err != nil {
		return nil, err
	}
	defer unlock()

	var out *models.Rental
	err = s.store.Update(ctx, func(tx store.Txn) error {
		node, err := s.registry.AssignTx(ctx, tx, nodeId, rentalId)
		if err != nil {
			return err
		}
		if node.Owner == renter {
			return xerrors.Errorf("%s owns node %s: %w", renter.Hex(), nodeId, models.ErrInvalidArgument)
		}
		total := settlement.RentalCost(node.PricePerHour, duration)
		if total.Sign() == 0 {
			return xerrors.Errorf("rental of %ds on node %s costs nothing: %w", duration, nodeId, models.ErrInvalidArgument)
		}

		r := &models.Rental{
			RentalId:       rentalId,
			GpuId:          nodeId,
			Renter:         renter,
			Owner:          node.Owner,
			PricePerHour:   new(big.Int).Set(node.PricePerHour),
			RentalStart:    s.clock.Now().Unix(),
			RentalDuration: duration,
			TotalCost:      total,
			Active:         true,
		}
		if _, err := s.escrow.LockTx(ctx, tx, models.EscrowKindRental, rentalId, total, renter, node.Owner); err != nil {
			return err
		}
		if err := s.put(tx, r); err != nil {
			return err
		}

		g := notify.Grant{EntityId: rentalId, NodeId: nodeId, Endpoint: node.Endpoint, User: renter, ExpiresAt: r.ExpiresAt()}
		tx.OnCommit(func() { notify.Send(context.Background(), s.notifier, true, g) })
		out = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	logs.GetLogger().Infof("rental %s: node %s to %s for %ds, cost: %s", rentalId, nodeId, renter.Hex(), duration, out.TotalCost)
	return out, nil
}

// Complete ends the rental and pays the owner for the time used. The renter,
// the owner and the authority may all end it.
func (s *Service) Complete(ctx context.Context, rentalId string, caller common.Address) (*models.Rental, error) {
	ctx, unlock, err := s.locks.Lock(ctx, Key(rentalId))
	if err != nil {
		return nil, err
	}
	defer unlock()

	r, err := s.Get(rentalId)
	if err != nil {
		return nil, err
	}
	if !r.Active {
		return nil, xerrors.Errorf("rental %s: %w", rentalId, models.ErrAlreadySettled)
	}
	if caller != r.Renter && caller != r.Owner && caller != s.authority {
		return nil, xerrors.Errorf("%s is not a party of rental %s: %w", caller.Hex(), rentalId, models.ErrUnauthorized)
	}

	ctx, unlockRest, err := s.locks.LockAll(ctx, escrow.Key(rentalId), registry.Key(r.GpuId))
	if err != nil {
		return nil, err
	}
	defer unlockRest()

	err = s.store.Update(ctx, func(tx store.Txn) error {
		now := s.clock.Now().Unix()
		res := settlement.Compute(r.PricePerHour, r.TotalCost, r.RentalStart, r.RentalDuration, now)
		if _, err := s.escrow.SettleTx(ctx, tx, rentalId, escrow.PlanPayment(res.Payment)); err != nil {
			return err
		}
		node, err := s.registry.ReleaseTx(ctx, tx, r.GpuId, rentalId, nil)
		if err != nil {
			return err
		}

		r.Active = false
		r.Completed = true
		r.UsedSeconds = res.Used
		r.Payment = res.Payment
		r.Refund = res.Refund
		r.EndedAt = now
		if err := s.put(tx, r); err != nil {
			return err
		}

		g := notify.Grant{EntityId: rentalId, NodeId: r.GpuId, Endpoint: node.Endpoint, User: r.Renter}
		tx.OnCommit(func() { notify.Send(context.Background(), s.notifier, false, g) })
		return nil
	})
	if err != nil {
		return nil, err
	}
	logs.GetLogger().Infof("rental %s completed by %s, used: %ds, payment: %s, refund: %s", rentalId, caller.Hex(), r.UsedSeconds, r.Payment, r.Refund)
	return r, nil
}

func (s *Service) put(tx store.Txn, r *models.Rental) error {
	if err := tx.Put(Key(r.RentalId), r); err != nil {
		return err
	}
	state := "active"
	if r.Completed {
		state = "completed"
	}
	ev := events.Event{Type: constants.EVENT_RENTAL, Id: r.RentalId, State: state, Time: s.clock.Now().Unix(), Data: r}
	tx.OnCommit(func() { s.events.Publish(ev) })
	return nil
}

func (s *Service) Get(rentalId string) (*models.Rental, error) {
	r := new(models.Rental)
	if err := s.store.Get(Key(rentalId), r); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, xerrors.Errorf("rental %s: %w", rentalId, models.ErrNotFound)
		}
		return nil, err
	}
	return r, nil
}

func (s *Service) List() ([]*models.Rental, error) {
	return s.list(func(*models.Rental) bool { return true })
}

func (s *Service) ListByRenter(renter common.Address) ([]*models.Rental, error) {
	return s.list(func(r *models.Rental) bool { return r.Renter == renter })
}

func (s *Service) ListActive() ([]*models.Rental, error) {
	return s.list(func(r *models.Rental) bool { return r.Active })
}

func (s *Service) list(keep func(*models.Rental) bool) ([]*models.Rental, error) {
	var rentals []*models.Rental
	err := s.store.Iterate(constants.RENTAL_PREFIX, func(key string, value []byte) error {
		r := new(models.Rental)
		if err := store.Decode(value, r); err != nil {
			return err
		}
		if keep(r) {
			rentals = append(rentals, r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(rentals, func(i, j int) bool {
		if rentals[i].RentalStart != rentals[j].RentalStart {
			return rentals[i].RentalStart < rentals[j].RentalStart
		}
		return rentals[i].RentalId < rentals[j].RentalId
	})
	return rentals, nil
}
