package ledger

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/filswan/go-mcs-sdk/mcs/api/common/logs"
	"github.com/lagrangedao/go-computing-market/constants"
	"github.com/lagrangedao/go-computing-market/internal/models"
	"github.com/lagrangedao/go-computing-market/internal/store"
	"golang.org/x/xerrors"
)

// Ledger is the atomic transfer primitive the escrow ledger moves funds with.
// Each call either fully applies or has no effect.
type Ledger interface {
	Debit(ctx context.Context, account common.Address, amount *big.Int) error
	Credit(ctx context.Context, account common.Address, amount *big.Int) error
	Balance(ctx context.Context, account common.Address) (*big.Int, error)
}

// TxLedger is a Ledger that can apply a transfer inside the caller's store
// transaction, so balances commit in the same batch as the records that
// moved them.
type TxLedger interface {
	Ledger
	DebitTx(ctx context.Context, tx store.Txn, account common.Address, amount *big.Int) error
	CreditTx(ctx context.Context, tx store.Txn, account common.Address, amount *big.Int) error
}

type Account struct {
	Address common.Address `json:"address"`
	Balance *big.Int       `json:"balance"`
}

// StoreLedger keeps account balances in the market store. It stands in for
// the token contract on a single market instance.
//
// A transaction that touches a balance holds the ledger until it commits or
// rolls back, so no two transactions read-modify-write balances at once.
type StoreLedger struct {
	store store.Store
	gate  chan struct{}

	mu     sync.Mutex
	holder store.Txn
}

func NewStoreLedger(st store.Store) *StoreLedger {
	return &StoreLedger{store: st, gate: make(chan struct{}, 1)}
}

func accountKey(account common.Address) string {
	return constants.BALANCE_PREFIX + strings.ToLower(account.Hex())
}

func (l *StoreLedger) Debit(ctx context.Context, account common.Address, amount *big.Int) error {
	return l.store.Update(ctx, func(tx store.Txn) error {
		return l.DebitTx(ctx, tx, account, amount)
	})
}

func (l *StoreLedger) Credit(ctx context.Context, account common.Address, amount *big.Int) error {
	return l.store.Update(ctx, func(tx store.Txn) error {
		return l.CreditTx(ctx, tx, account, amount)
	})
}

func (l *StoreLedger) DebitTx(ctx context.Context, tx store.Txn, account common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	return l.apply(ctx, tx, account, func(balance *big.Int) error {
		if balance.Cmp(amount) < 0 {
			return xerrors.Errorf("debit %s from %s with balance %s: %w", amount, account.Hex(), balance, models.ErrInsufficientFunds)
		}
		balance.Sub(balance, amount)
		return nil
	})
}

func (l *StoreLedger) CreditTx(ctx context.Context, tx store.Txn, account common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	return l.apply(ctx, tx, account, func(balance *big.Int) error {
		balance.Add(balance, amount)
		return nil
	})
}

// Deposit funds an account from outside the market.
func (l *StoreLedger) Deposit(ctx context.Context, account common.Address, amount *big.Int) error {
	if err := l.Credit(ctx, account, amount); err != nil {
		return err
	}
	logs.GetLogger().Infof("deposited %s to %s", amount, account.Hex())
	return nil
}

func (l *StoreLedger) Balance(ctx context.Context, account common.Address) (*big.Int, error) {
	var acc Account
	err := l.store.Get(accountKey(account), &acc)
	if errors.Is(err, store.ErrNotFound) {
		return new(big.Int), nil
	}
	if err != nil {
		return nil, err
	}
	return balanceOf(&acc), nil
}

// Accounts lists every account that ever held funds.
func (l *StoreLedger) Accounts(ctx context.Context) ([]*Account, error) {
	var accounts []*Account
	err := l.store.Iterate(constants.BALANCE_PREFIX, func(key string, value []byte) error {
		acc := new(Account)
		if err := store.Decode(value, acc); err != nil {
			return err
		}
		acc.Balance = balanceOf(acc)
		accounts = append(accounts, acc)
		return nil
	})
	return accounts, err
}

func (l *StoreLedger) apply(ctx context.Context, tx store.Txn, account common.Address, fn func(balance *big.Int) error) error {
	if err := l.acquire(ctx, tx); err != nil {
		return err
	}

	acc := Account{Address: account}
	if err := tx.Get(accountKey(account), &acc); err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	balance := balanceOf(&acc)
	if err := fn(balance); err != nil {
		return err
	}
	acc.Balance = balance
	return tx.Put(accountKey(account), acc)
}

// acquire holds the ledger for tx until tx commits or rolls back. A
// transaction that already holds it passes straight through.
func (l *StoreLedger) acquire(ctx context.Context, tx store.Txn) error {
	l.mu.Lock()
	mine := l.holder == tx
	l.mu.Unlock()
	if mine {
		return nil
	}

	select {
	case l.gate <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	l.mu.Lock()
	l.holder = tx
	l.mu.Unlock()

	var once sync.Once
	release := func() {
		once.Do(func() {
			l.mu.Lock()
			l.holder = nil
			l.mu.Unlock()
			<-l.gate
		})
	}
	tx.OnCommit(release)
	tx.OnRollback(release)
	return nil
}

func balanceOf(acc *Account) *big.Int {
	if acc.Balance == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(acc.Balance)
}

func checkAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return xerrors.Errorf("amount %v must be positive: %w", amount, models.ErrInvalidArgument)
	}
	return nil
}
