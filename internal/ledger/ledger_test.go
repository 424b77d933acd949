package ledger

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lagrangedao/go-computing-market/internal/models"
	"github.com/lagrangedao/go-computing-market/internal/store"
	"github.com/stretchr/testify/require"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

func newLedger(t *testing.T) *StoreLedger {
	st := store.NewMemory()
	t.Cleanup(func() { _ = st.Close() })
	return NewStoreLedger(st)
}

func TestBalance_UnknownAccountIsZero(t *testing.T) {
	l := newLedger(t)
	balance, err := l.Balance(context.Background(), alice)
	require.NoError(t, err)
	require.Zero(t, balance.Sign())
}

func TestDebitCredit(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)
	require.NoError(t, l.Deposit(ctx, alice, big.NewInt(100)))
	require.NoError(t, l.Debit(ctx, alice, big.NewInt(30)))
	require.NoError(t, l.Credit(ctx, bob, big.NewInt(30)))

	balance, err := l.Balance(ctx, alice)
	require.NoError(t, err)
	require.Equal(t, "70", balance.String())

	balance, err = l.Balance(ctx, bob)
	require.NoError(t, err)
	require.Equal(t, "30", balance.String())

	accounts, err := l.Accounts(ctx)
	require.NoError(t, err)
	require.Len(t, accounts, 2)
}

func TestDebit_InsufficientFunds(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)
	require.NoError(t, l.Deposit(ctx, alice, big.NewInt(10)))

	err := l.Debit(ctx, alice, big.NewInt(11))
	require.ErrorIs(t, err, models.ErrInsufficientFunds)

	balance, err := l.Balance(ctx, alice)
	require.NoError(t, err)
	require.Equal(t, "10", balance.String())
}

func TestInvalidAmounts(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)
	require.ErrorIs(t, l.Credit(ctx, alice, nil), models.ErrInvalidArgument)
	require.ErrorIs(t, l.Credit(ctx, alice, big.NewInt(0)), models.ErrInvalidArgument)
	require.ErrorIs(t, l.Debit(ctx, alice, big.NewInt(-1)), models.ErrInvalidArgument)
}

func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)
	require.NoError(t, l.Deposit(ctx, alice, big.NewInt(10)))

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Debit(ctx, alice, big.NewInt(1)) == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 10, succeeded)

	balance, err := l.Balance(ctx, alice)
	require.NoError(t, err)
	require.Zero(t, balance.Sign())
}

func TestTx_CommitsWithTheTransaction(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	t.Cleanup(func() { _ = st.Close() })
	l := NewStoreLedger(st)
	require.NoError(t, l.Deposit(ctx, alice, big.NewInt(100)))

	err := st.Update(ctx, func(tx store.Txn) error {
		require.NoError(t, l.DebitTx(ctx, tx, alice, big.NewInt(60)))
		require.NoError(t, l.CreditTx(ctx, tx, bob, big.NewInt(60)))
		// the same transaction may touch the ledger again
		require.ErrorIs(t, l.DebitTx(ctx, tx, alice, big.NewInt(41)), models.ErrInsufficientFunds)

		balance, err := l.Balance(ctx, bob)
		require.NoError(t, err)
		require.Zero(t, balance.Sign())
		return nil
	})
	require.NoError(t, err)

	balance, err := l.Balance(ctx, bob)
	require.NoError(t, err)
	require.Equal(t, "60", balance.String())
	balance, err = l.Balance(ctx, alice)
	require.NoError(t, err)
	require.Equal(t, "40", balance.String())
}

func TestTx_RollbackDiscardsTransfers(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	t.Cleanup(func() { _ = st.Close() })
	l := NewStoreLedger(st)
	require.NoError(t, l.Deposit(ctx, alice, big.NewInt(100)))

	boom := errors.New("record write failed")
	err := st.Update(ctx, func(tx store.Txn) error {
		require.NoError(t, l.DebitTx(ctx, tx, alice, big.NewInt(60)))
		return boom
	})
	require.ErrorIs(t, err, boom)

	balance, err := l.Balance(ctx, alice)
	require.NoError(t, err)
	require.Equal(t, "100", balance.String())

	// the ledger is free again
	require.NoError(t, l.Debit(ctx, alice, big.NewInt(100)))
}

func TestTx_HoldsLedgerUntilCommit(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	t.Cleanup(func() { _ = st.Close() })
	l := NewStoreLedger(st)
	require.NoError(t, l.Deposit(ctx, alice, big.NewInt(100)))

	inside := make(chan struct{})
	proceed := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- st.Update(ctx, func(tx store.Txn) error {
			if err := l.DebitTx(ctx, tx, alice, big.NewInt(100)); err != nil {
				return err
			}
			close(inside)
			<-proceed
			return nil
		})
	}()
	<-inside

	waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, l.Debit(waitCtx, alice, big.NewInt(1)), context.DeadlineExceeded)

	close(proceed)
	require.NoError(t, <-done)
	require.ErrorIs(t, l.Debit(ctx, alice, big.NewInt(1)), models.ErrInsufficientFunds)
}
