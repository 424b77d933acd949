package escrow

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/filswan/go-mcs-sdk/mcs/api/common/logs"
	"github.com/lagrangedao/go-computing-market/internal/keylock"
	"github.com/lagrangedao/go-computing-market/internal/ledger"
	"github.com/lagrangedao/go-computing-market/internal/models"
	"github.com/lagrangedao/go-computing-market/internal/store"
	"golang.org/x/xerrors"
)

// The Tx methods run inside a caller's store transaction. The caller must
// hold the escrow's lock (Key(entityId)) on ctx and is responsible for
// authorizing the action.

// LockTx locks funds on behalf of a job or rental record. The escrow is
// managed: it can only be settled through SettleTx by its owner.
func (l *Ledger) LockTx(ctx context.Context, tx store.Txn, kind models.EscrowKind, entityId string, amount *big.Int, payer, payee common.Address) (*models.Escrow, error) {
	return l.lockTx(ctx, tx, kind, entityId, amount, payer, payee, true)
}

func (l *Ledger) lockTx(ctx context.Context, tx store.Txn, kind models.EscrowKind, entityId string, amount *big.Int, payer, payee common.Address, managed bool) (*models.Escrow, error) {
	if err := requireHeld(ctx, entityId); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, xerrors.Errorf("escrow %s amount %v: %w", entityId, amount, models.ErrInvalidArgument)
	}

	var existing models.Escrow
	switch err := tx.Get(Key(entityId), &existing); {
	case err == nil:
		return nil, xerrors.Errorf("escrow %s is %s: %w", entityId, existing.State, models.ErrAlreadyLocked)
	case !errors.Is(err, store.ErrNotFound):
		return nil, err
	}

	e := &models.Escrow{
		EntityId: entityId,
		Kind:     kind,
		Amount:   new(big.Int).Set(amount),
		Payer:    payer,
		Payee:    payee,
		State:    models.EscrowLocked,
		Managed:  managed,
		LockedAt: l.clock.Now().Unix(),
	}
	if err := tx.Put(Key(entityId), e); err != nil {
		return nil, err
	}

	if err := l.debit(ctx, tx, entityId, payer, e.Amount); err != nil {
		return nil, xerrors.Errorf("lock escrow %s: %w", entityId, err)
	}

	l.publish(tx, e)
	tx.OnCommit(func() {
		logs.GetLogger().Infof("escrow %s locked %s from %s", entityId, e.Amount, payer.Hex())
	})
	return e, nil
}

// AssignPayeeTx names the payee of a job escrow that was funded before a
// provider was known. The payee can be set once.
func (l *Ledger) AssignPayeeTx(ctx context.Context, tx store.Txn, entityId string, payee common.Address) (*models.Escrow, error) {
	if err := requireHeld(ctx, entityId); err != nil {
		return nil, err
	}
	e, err := l.getTx(tx, entityId)
	if err != nil {
		return nil, err
	}
	if e.State.IsTerminal() {
		return nil, xerrors.Errorf("escrow %s is %s: %w", entityId, e.State, models.ErrAlreadySettled)
	}
	if e.Payee != (common.Address{}) {
		return nil, xerrors.Errorf("escrow %s already pays %s: %w", entityId, e.Payee.Hex(), models.ErrInvalidState)
	}
	if payee == (common.Address{}) {
		return nil, xerrors.Errorf("escrow %s payee: %w", entityId, models.ErrInvalidArgument)
	}
	e.Payee = payee
	if err := tx.Put(Key(entityId), e); err != nil {
		return nil, err
	}
	return e, nil
}

// SettleTx moves the escrow to the terminal state plan picks for it and pays
// out the shares.
func (l *Ledger) SettleTx(ctx context.Context, tx store.Txn, entityId string, plan Plan) (*models.Escrow, error) {
	if err := requireHeld(ctx, entityId); err != nil {
		return nil, err
	}
	e, err := l.getTx(tx, entityId)
	if err != nil {
		return nil, err
	}
	if e.State.IsTerminal() {
		return nil, xerrors.Errorf("escrow %s is %s: %w", entityId, e.State, models.ErrAlreadySettled)
	}
	s, err := plan(e)
	if err != nil {
		return nil, err
	}
	if err := checkSettlement(e, s); err != nil {
		return nil, err
	}

	e.State = s.State
	e.PayeeAmount = new(big.Int).Set(s.PayeeAmount)
	e.PayerAmount = new(big.Int).Set(s.PayerAmount)
	e.SettledAt = l.clock.Now().Unix()
	if err := tx.Put(Key(entityId), e); err != nil {
		return nil, err
	}

	if e.PayeeAmount.Sign() > 0 {
		if err := l.credit(ctx, tx, entityId, e.Payee, e.PayeeAmount); err != nil {
			return nil, xerrors.Errorf("pay escrow %s to payee: %w", entityId, err)
		}
	}
	if e.PayerAmount.Sign() > 0 {
		if err := l.credit(ctx, tx, entityId, e.Payer, e.PayerAmount); err != nil {
			return nil, xerrors.Errorf("pay escrow %s to payer: %w", entityId, err)
		}
	}

	l.publish(tx, e)
	tx.OnCommit(func() {
		logs.GetLogger().Infof("escrow %s %s, payee: %s, payer: %s", entityId, e.State, e.PayeeAmount, e.PayerAmount)
	})
	return e, nil
}

// debit and credit write the transfer into tx when the funds ledger can take
// part in the transaction. Otherwise the transfer is applied at once and
// reversed if tx does not commit.
func (l *Ledger) debit(ctx context.Context, tx store.Txn, entityId string, account common.Address, amount *big.Int) error {
	if txl, ok := l.funds.(ledger.TxLedger); ok {
		return txl.DebitTx(ctx, tx, account, amount)
	}
	if err := l.funds.Debit(ctx, account, amount); err != nil {
		return err
	}
	tx.OnRollback(func() { l.compensate("debit", entityId, account, amount, l.funds.Credit) })
	return nil
}

func (l *Ledger) credit(ctx context.Context, tx store.Txn, entityId string, account common.Address, amount *big.Int) error {
	if txl, ok := l.funds.(ledger.TxLedger); ok {
		return txl.CreditTx(ctx, tx, account, amount)
	}
	if err := l.funds.Credit(ctx, account, amount); err != nil {
		return err
	}
	tx.OnRollback(func() { l.compensate("credit", entityId, account, amount, l.funds.Debit) })
	return nil
}

// compensate reverses a transfer whose transaction did not commit.
func (l *Ledger) compensate(op, entityId string, account common.Address, amount *big.Int, reverse func(context.Context, common.Address, *big.Int) error) {
	if err := reverse(context.Background(), account, amount); err != nil {
		logs.GetLogger().Errorf("Failed reverse %s of %s for escrow %s on %s, error: %+v", op, amount, entityId, account.Hex(), err)
	}
}

// Plan decides how a locked escrow is divided.
type Plan func(e *models.Escrow) (models.Settlement, error)

// PlanRelease pays everything to the payee.
func PlanRelease(e *models.Escrow) (models.Settlement, error) {
	return models.Settlement{State: models.EscrowReleased, PayeeAmount: new(big.Int).Set(e.Amount), PayerAmount: new(big.Int)}, nil
}

// PlanRefund returns everything to the payer.
func PlanRefund(e *models.Escrow) (models.Settlement, error) {
	return models.Settlement{State: models.EscrowRefunded, PayeeAmount: new(big.Int), PayerAmount: new(big.Int).Set(e.Amount)}, nil
}

// PlanSplit requires 0 < payeeAmount < amount.
func PlanSplit(payeeAmount *big.Int) Plan {
	return func(e *models.Escrow) (models.Settlement, error) {
		if payeeAmount == nil || payeeAmount.Sign() <= 0 || payeeAmount.Cmp(e.Amount) >= 0 {
			return models.Settlement{}, xerrors.Errorf("split %v of escrow %s holding %s: %w", payeeAmount, e.EntityId, e.Amount, models.ErrInvalidArgument)
		}
		return models.Settlement{
			State:       models.EscrowSplit,
			PayeeAmount: new(big.Int).Set(payeeAmount),
			PayerAmount: new(big.Int).Sub(e.Amount, payeeAmount),
		}, nil
	}
}

// PlanPayment pays payment to the payee: a full release, a full refund, or
// a split of the two.
func PlanPayment(payment *big.Int) Plan {
	return func(e *models.Escrow) (models.Settlement, error) {
		switch {
		case payment == nil:
			return models.Settlement{}, xerrors.Errorf("escrow %s payment: %w", e.EntityId, models.ErrInvalidArgument)
		case payment.Cmp(e.Amount) == 0:
			return PlanRelease(e)
		case payment.Sign() == 0:
			return PlanRefund(e)
		default:
			return PlanSplit(payment)(e)
		}
	}
}

func checkSettlement(e *models.Escrow, s models.Settlement) error {
	switch s.State {
	case models.EscrowReleased, models.EscrowRefunded, models.EscrowSplit:
	case models.EscrowLocked:
		return xerrors.Errorf("settle escrow %s to %s: %w", e.EntityId, s.State, models.ErrInvalidTransition)
	default:
		panic("unhandled escrow state " + s.State.String())
	}
	if s.PayeeAmount == nil || s.PayerAmount == nil || s.PayeeAmount.Sign() < 0 || s.PayerAmount.Sign() < 0 {
		return xerrors.Errorf("settle escrow %s: negative share: %w", e.EntityId, models.ErrInvalidArgument)
	}
	if new(big.Int).Add(s.PayeeAmount, s.PayerAmount).Cmp(e.Amount) != 0 {
		return xerrors.Errorf("settle escrow %s: %s + %s != %s: %w", e.EntityId, s.PayeeAmount, s.PayerAmount, e.Amount, models.ErrInvalidArgument)
	}
	if s.PayeeAmount.Sign() > 0 && e.Payee == (common.Address{}) {
		return xerrors.Errorf("escrow %s has no payee: %w", e.EntityId, models.ErrInvalidState)
	}
	return nil
}

func requireHeld(ctx context.Context, entityId string) error {
	if !keylock.Held(ctx, Key(entityId)) {
		return xerrors.Errorf("escrow %s touched without holding its lock", entityId)
	}
	return nil
}
