package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/library-lending/internal/model"
	"github.com/mmeshcher/library-lending/internal/repository"
)

const (
	johnID   int64 = 1
	janeID   int64 = 2
	creditID int64 = 3
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestService(t *testing.T) (*Service, *repository.MemoryRepository, *fakeClock) {
	t.Helper()

	repo := repository.NewMemoryRepository()
	repo.AddUser(model.User{ID: johnID, FirstName: "John", Name: "Doe", Fees: decimal.Zero})
	repo.AddUser(model.User{ID: janeID, FirstName: "Jane", Name: "Smith", Fees: decimal.NewFromInt(5)})
	repo.AddUser(model.User{ID: creditID, FirstName: "Chris", Name: "Credit", Fees: decimal.NewFromInt(-10)})
	repo.AddBook(model.Book{ID: "a", Title: "Introduction to Go", FeeRate: decimal.RequireFromString("2.5"), BorrowingDays: 14, Available: true})
	repo.AddBook(model.Book{ID: "b", Title: "Concurrency in Go", FeeRate: decimal.RequireFromString("1.5"), BorrowingDays: 7, Available: true})

	clock := &fakeClock{now: time.Date(2024, time.March, 1, 10, 0, 0, 0, time.UTC)}

	svc := NewService(repo)
	svc.now = clock.Now

	return svc, repo, clock
}

func bookAvailable(t *testing.T, repo *repository.MemoryRepository, bookID string) bool {
	t.Helper()

	b, err := repo.GetBook(context.Background(), bookID)
	require.NoError(t, err)
	return b.Available
}

func userFees(t *testing.T, repo *repository.MemoryRepository, userID int64) decimal.Decimal {
	t.Helper()

	u, err := repo.GetUser(context.Background(), userID)
	require.NoError(t, err)
	return u.Fees
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got)
}

func TestGetOutstandingFees(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		userID int64
		want   string
	}{
		{name: "no fees", userID: johnID, want: "0"},
		{name: "existing fees", userID: janeID, want: "5"},
		{name: "negative balance is returned as is", userID: creditID, want: "-10"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fees, err := svc.GetOutstandingFees(ctx, tt.userID)
			require.NoError(t, err)
			assertDecimal(t, tt.want, fees)
		})
	}

	t.Run("unknown user", func(t *testing.T) {
		_, err := svc.GetOutstandingFees(ctx, 999)
		assert.ErrorIs(t, err, ErrUserNotFound)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestCheckOutBook(t *testing.T) {
	ctx := context.Background()

	t.Run("marks book unavailable and records checkout", func(t *testing.T) {
		svc, repo, clock := newTestService(t)

		require.NoError(t, svc.CheckOutBook(ctx, johnID, "a"))

		assert.False(t, bookAvailable(t, repo, "a"))

		txs, err := svc.GetUserLibraryTransactions(ctx, johnID)
		require.NoError(t, err)
		require.Len(t, txs, 1)
		assert.Equal(t, model.TransactionCheckout, txs[0].Kind)
		assert.Equal(t, "a", txs[0].BookID)
		assert.Equal(t, clock.Now(), txs[0].Date)
	})

	t.Run("unknown user or book collapse to invalid reference", func(t *testing.T) {
		svc, _, _ := newTestService(t)

		err := svc.CheckOutBook(ctx, 999, "a")
		assert.ErrorIs(t, err, ErrInvalidReference)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.NotErrorIs(t, err, ErrUserNotFound)
		assert.Equal(t, "Invalid userId or bookId", err.Error())

		err = svc.CheckOutBook(ctx, johnID, "missing")
		assert.ErrorIs(t, err, ErrInvalidReference)
	})

	t.Run("book already checked out", func(t *testing.T) {
		svc, _, _ := newTestService(t)

		require.NoError(t, svc.CheckOutBook(ctx, johnID, "a"))

		err := svc.CheckOutBook(ctx, johnID, "a")
		assert.ErrorIs(t, err, ErrNotAvailable)
		assert.ErrorIs(t, err, ErrInvalidState)

		err = svc.CheckOutBook(ctx, janeID, "a")
		assert.ErrorIs(t, err, ErrNotAvailable)
	})

	t.Run("can be checked out again after return", func(t *testing.T) {
		svc, _, clock := newTestService(t)

		require.NoError(t, svc.CheckOutBook(ctx, johnID, "a"))
		clock.Advance(time.Hour)
		_, err := svc.ReturnBook(ctx, johnID, "a")
		require.NoError(t, err)
		clock.Advance(time.Hour)

		assert.NoError(t, svc.CheckOutBook(ctx, janeID, "a"))
	})
}

func TestReturnBook(t *testing.T) {
	ctx := context.Background()

	t.Run("on time leaves fees unchanged", func(t *testing.T) {
		svc, repo, clock := newTestService(t)

		require.NoError(t, svc.CheckOutBook(ctx, johnID, "a"))
		clock.Advance(14 * day)

		receipt, err := svc.ReturnBook(ctx, johnID, "a")
		require.NoError(t, err)

		assert.Zero(t, receipt.OverdueDays)
		assert.True(t, receipt.LateFee.IsZero())
		assertDecimal(t, "0", userFees(t, repo, johnID))
		assert.True(t, bookAvailable(t, repo, "a"))
	})

	t.Run("late return charges whole overdue days", func(t *testing.T) {
		svc, repo, clock := newTestService(t)

		require.NoError(t, svc.CheckOutBook(ctx, johnID, "a"))
		start := clock.Now()
		clock.Advance(16 * day)

		receipt, err := svc.ReturnBook(ctx, johnID, "a")
		require.NoError(t, err)

		assert.Equal(t, int64(2), receipt.OverdueDays)
		assertDecimal(t, "5", receipt.LateFee)
		assert.Equal(t, start.Add(14*day), receipt.DueDate)
		assertDecimal(t, "5", userFees(t, repo, johnID))
		assert.True(t, bookAvailable(t, repo, "a"))
	})

	t.Run("partial day is not charged", func(t *testing.T) {
		svc, repo, clock := newTestService(t)

		require.NoError(t, svc.CheckOutBook(ctx, johnID, "a"))
		clock.Advance(16*day + 23*time.Hour)

		receipt, err := svc.ReturnBook(ctx, johnID, "a")
		require.NoError(t, err)

		assert.Equal(t, int64(2), receipt.OverdueDays)
		assertDecimal(t, "5", userFees(t, repo, johnID))
	})

	t.Run("fee accumulates on existing balance", func(t *testing.T) {
		svc, repo, clock := newTestService(t)

		require.NoError(t, svc.CheckOutBook(ctx, janeID, "b"))
		clock.Advance(10 * day)

		_, err := svc.ReturnBook(ctx, janeID, "b")
		require.NoError(t, err)

		// 3 дня просрочки по 1.5
		assertDecimal(t, "9.5", userFees(t, repo, janeID))
	})

	t.Run("renewal extends due date by one period", func(t *testing.T) {
		svc, repo, clock := newTestService(t)

		require.NoError(t, svc.CheckOutBook(ctx, johnID, "a"))
		start := clock.Now()
		clock.Advance(10 * day)
		_, err := svc.RenewBook(ctx, johnID, "a")
		require.NoError(t, err)
		clock.Advance(20 * day)

		receipt, err := svc.ReturnBook(ctx, johnID, "a")
		require.NoError(t, err)

		assert.Equal(t, start.Add(28*day), receipt.DueDate)
		assert.Equal(t, int64(2), receipt.OverdueDays)
		assertDecimal(t, "5", userFees(t, repo, johnID))
	})

	t.Run("book that is not checked out", func(t *testing.T) {
		svc, _, _ := newTestService(t)

		_, err := svc.ReturnBook(ctx, johnID, "a")
		assert.ErrorIs(t, err, ErrNotCheckedOut)
		assert.ErrorIs(t, err, ErrInvalidState)
	})

	t.Run("book held by another user", func(t *testing.T) {
		svc, repo, _ := newTestService(t)

		require.NoError(t, svc.CheckOutBook(ctx, johnID, "a"))

		_, err := svc.ReturnBook(ctx, janeID, "a")
		assert.ErrorIs(t, err, ErrNoCheckoutRecord)
		assert.False(t, bookAvailable(t, repo, "a"))
	})

	t.Run("previous borrower cannot return the current loan", func(t *testing.T) {
		svc, repo, clock := newTestService(t)

		require.NoError(t, svc.CheckOutBook(ctx, janeID, "a"))
		clock.Advance(day)
		_, err := svc.ReturnBook(ctx, janeID, "a")
		require.NoError(t, err)
		clock.Advance(day)
		require.NoError(t, svc.CheckOutBook(ctx, johnID, "a"))

		_, err = svc.ReturnBook(ctx, janeID, "a")
		assert.ErrorIs(t, err, ErrNoCheckoutRecord)
		assert.False(t, bookAvailable(t, repo, "a"))
	})

	t.Run("unknown user or book", func(t *testing.T) {
		svc, _, _ := newTestService(t)

		_, err := svc.ReturnBook(ctx, 999, "a")
		assert.ErrorIs(t, err, ErrInvalidReference)

		_, err = svc.ReturnBook(ctx, johnID, "missing")
		assert.ErrorIs(t, err, ErrInvalidReference)
	})
}

func TestRenewBook(t *testing.T) {
	ctx := context.Background()

	t.Run("renews once", func(t *testing.T) {
		svc, _, clock := newTestService(t)

		require.NoError(t, svc.CheckOutBook(ctx, johnID, "a"))
		start := clock.Now()
		clock.Advance(5 * day)

		outcome, err := svc.RenewBook(ctx, johnID, "a")
		require.NoError(t, err)
		assert.True(t, outcome.Renewed())
		assert.Equal(t, start.Add(28*day), outcome.DueDate)
		assert.Equal(t, "Book renewed successfully. New due date: 2024-03-29", outcome.Message())

		clock.Advance(day)
		outcome, err = svc.RenewBook(ctx, johnID, "a")
		require.NoError(t, err)
		assert.False(t, outcome.Renewed())
		assert.Equal(t, "Renewal failed: Book has already been renewed.", outcome.Message())

		txs, err := svc.GetUserLibraryTransactions(ctx, johnID)
		require.NoError(t, err)
		renewals := 0
		for _, tx := range txs {
			if tx.Kind == model.TransactionRenew {
				renewals++
			}
		}
		assert.Equal(t, 1, renewals)
	})

	t.Run("renewal in the same instant as checkout", func(t *testing.T) {
		svc, _, _ := newTestService(t)

		require.NoError(t, svc.CheckOutBook(ctx, johnID, "a"))

		outcome, err := svc.RenewBook(ctx, johnID, "a")
		require.NoError(t, err)
		assert.True(t, outcome.Renewed())

		outcome, err = svc.RenewBook(ctx, johnID, "a")
		require.NoError(t, err)
		assert.False(t, outcome.Renewed())
	})

	t.Run("new loan can be renewed again", func(t *testing.T) {
		svc, _, clock := newTestService(t)

		require.NoError(t, svc.CheckOutBook(ctx, johnID, "a"))
		clock.Advance(day)
		_, err := svc.RenewBook(ctx, johnID, "a")
		require.NoError(t, err)
		clock.Advance(day)
		_, err = svc.ReturnBook(ctx, johnID, "a")
		require.NoError(t, err)
		clock.Advance(day)
		require.NoError(t, svc.CheckOutBook(ctx, johnID, "a"))
		clock.Advance(day)

		outcome, err := svc.RenewBook(ctx, johnID, "a")
		require.NoError(t, err)
		assert.True(t, outcome.Renewed())
	})

	t.Run("without checkout", func(t *testing.T) {
		svc, _, _ := newTestService(t)

		_, err := svc.RenewBook(ctx, johnID, "a")
		assert.ErrorIs(t, err, ErrNoCheckoutRecord)
	})

	t.Run("after return", func(t *testing.T) {
		svc, _, clock := newTestService(t)

		require.NoError(t, svc.CheckOutBook(ctx, johnID, "a"))
		clock.Advance(day)
		_, err := svc.ReturnBook(ctx, johnID, "a")
		require.NoError(t, err)

		_, err = svc.RenewBook(ctx, johnID, "a")
		assert.ErrorIs(t, err, ErrNoCheckoutRecord)
	})

	t.Run("unknown user or book", func(t *testing.T) {
		svc, _, _ := newTestService(t)

		_, err := svc.RenewBook(ctx, 999, "a")
		assert.ErrorIs(t, err, ErrInvalidReference)

		_, err = svc.RenewBook(ctx, johnID, "missing")
		assert.ErrorIs(t, err, ErrInvalidReference)
	})
}

func TestProcessFeePayment(t *testing.T) {
	ctx := context.Background()

	t.Run("exact amount settles", func(t *testing.T) {
		svc, repo, _ := newTestService(t)

		outcome, err := svc.ProcessFeePayment(ctx, janeID, decimal.RequireFromString("5.00"))
		require.NoError(t, err)

		assert.True(t, outcome.Settled())
		assert.Equal(t, "Payment processed successfully. Outstanding fees have been cleared.", outcome.Message())
		assertDecimal(t, "0", userFees(t, repo, janeID))
	})

	for _, amount := range []string{"4.99", "5.01", "0", "-5"} {
		t.Run("mismatch "+amount, func(t *testing.T) {
			svc, repo, _ := newTestService(t)

			outcome, err := svc.ProcessFeePayment(ctx, janeID, decimal.RequireFromString(amount))
			require.NoError(t, err)

			assert.False(t, outcome.Settled())
			assertDecimal(t, "5", outcome.Outstanding)
			assert.Equal(t, "Payment failed: Payment amount does not match the outstanding fees. Outstanding Fees: 5", outcome.Message())
			assertDecimal(t, "5", userFees(t, repo, janeID))
		})
	}

	t.Run("zero balance settles with zero", func(t *testing.T) {
		svc, _, _ := newTestService(t)

		outcome, err := svc.ProcessFeePayment(ctx, johnID, decimal.Zero)
		require.NoError(t, err)
		assert.True(t, outcome.Settled())
	})

	t.Run("unknown user", func(t *testing.T) {
		svc, _, _ := newTestService(t)

		_, err := svc.ProcessFeePayment(ctx, 999, decimal.NewFromInt(1))
		assert.ErrorIs(t, err, ErrUserNotFound)
	})
}

func TestGetUserLibraryTransactions(t *testing.T) {
	ctx := context.Background()

	t.Run("newest first and only for the user", func(t *testing.T) {
		svc, _, clock := newTestService(t)

		require.NoError(t, svc.CheckOutBook(ctx, johnID, "a"))
		clock.Advance(time.Hour)
		require.NoError(t, svc.CheckOutBook(ctx, janeID, "b"))
		clock.Advance(time.Hour)
		_, err := svc.RenewBook(ctx, johnID, "a")
		require.NoError(t, err)
		clock.Advance(time.Hour)
		_, err = svc.ReturnBook(ctx, johnID, "a")
		require.NoError(t, err)

		txs, err := svc.GetUserLibraryTransactions(ctx, johnID)
		require.NoError(t, err)
		require.Len(t, txs, 3)

		kinds := []model.TransactionKind{txs[0].Kind, txs[1].Kind, txs[2].Kind}
		assert.Equal(t, []model.TransactionKind{model.TransactionReturn, model.TransactionRenew, model.TransactionCheckout}, kinds)

		for i := 1; i < len(txs); i++ {
			assert.True(t, txs[i-1].Date.After(txs[i].Date), "transactions must be sorted by date descending")
		}
		for _, tx := range txs {
			assert.Equal(t, johnID, tx.UserID)
		}
	})

	t.Run("no transactions", func(t *testing.T) {
		svc, _, _ := newTestService(t)

		txs, err := svc.GetUserLibraryTransactions(ctx, johnID)
		require.NoError(t, err)
		assert.Empty(t, txs)
	})

	t.Run("unknown user", func(t *testing.T) {
		svc, _, _ := newTestService(t)

		_, err := svc.GetUserLibraryTransactions(ctx, 999)
		assert.ErrorIs(t, err, ErrUserNotFound)
	})
}

func TestCheckOutBooks(t *testing.T) {
	ctx := context.Background()

	t.Run("empty list", func(t *testing.T) {
		svc, _, _ := newTestService(t)

		res, err := svc.CheckOutBooks(ctx, johnID, nil)
		require.NoError(t, err)
		assert.NotNil(t, res)
		assert.Empty(t, res)
	})

	t.Run("partial success is kept", func(t *testing.T) {
		svc, repo, _ := newTestService(t)

		res, err := svc.CheckOutBooks(ctx, johnID, []string{"a", "missing"})
		require.NoError(t, err)

		assert.Equal(t, map[string]string{
			"a":       CheckoutSucceededMessage,
			"missing": ErrInvalidReference.Error(),
		}, res)
		assert.False(t, bookAvailable(t, repo, "a"))
	})

	t.Run("duplicate id fails the second time", func(t *testing.T) {
		svc, _, _ := newTestService(t)

		require.NoError(t, svc.CheckOutBook(ctx, janeID, "b"))

		res, err := svc.CheckOutBooks(ctx, johnID, []string{"b", "a"})
		require.NoError(t, err)

		assert.Equal(t, ErrNotAvailable.Error(), res["b"])
		assert.Equal(t, CheckoutSucceededMessage, res["a"])
	})

	t.Run("result messages keep client wording", func(t *testing.T) {
		svc, _, _ := newTestService(t)

		require.NoError(t, svc.CheckOutBook(ctx, janeID, "b"))

		res, err := svc.CheckOutBooks(ctx, johnID, []string{"a", "b", "missing"})
		require.NoError(t, err)

		assert.Equal(t, map[string]string{
			"a":       "Checkout successful.",
			"b":       "Book not available",
			"missing": "Invalid userId or bookId",
		}, res)
	})

	t.Run("unknown user aborts the batch", func(t *testing.T) {
		svc, repo, _ := newTestService(t)

		_, err := svc.CheckOutBooks(ctx, 999, []string{"a"})
		assert.ErrorIs(t, err, ErrUserNotFound)
		assert.True(t, bookAvailable(t, repo, "a"))
	})

	t.Run("storage failure is not captured", func(t *testing.T) {
		mem, _, _ := newTestService(t)
		repo := &failingRepository{Repository: mem.repo, failAdd: errors.New("disk full")}
		svc := NewService(repo)

		_, err := svc.CheckOutBooks(ctx, johnID, []string{"a"})
		require.Error(t, err)
		assert.False(t, IsDomainError(err))
	})
}

// failingRepository подменяет Store внутри транзакции, чтобы AddTransaction завершался ошибкой.
type failingRepository struct {
	Repository
	failAdd error
}

func (r *failingRepository) WithinTx(ctx context.Context, fn repository.TxFunc) error {
	return r.Repository.WithinTx(ctx, func(ctx context.Context, s repository.Store) error {
		return fn(ctx, &failingStore{Store: s, failAdd: r.failAdd})
	})
}

type failingStore struct {
	repository.Store
	failAdd error
}

func (s *failingStore) AddTransaction(ctx context.Context, t model.Transaction) (model.Transaction, error) {
	return model.Transaction{}, s.failAdd
}

func TestMutationsAreAtomic(t *testing.T) {
	ctx := context.Background()
	svc, mem, clock := newTestService(t)

	require.NoError(t, svc.CheckOutBook(ctx, johnID, "a"))
	clock.Advance(20 * day)

	failing := NewService(&failingRepository{Repository: mem, failAdd: errors.New("connection reset")})
	failing.now = clock.Now

	_, err := failing.ReturnBook(ctx, johnID, "a")
	require.Error(t, err)

	assert.False(t, bookAvailable(t, mem, "a"), "availability must be rolled back")
	assertDecimal(t, "0", userFees(t, mem, johnID))

	err = failing.CheckOutBook(ctx, janeID, "b")
	require.Error(t, err)
	assert.True(t, bookAvailable(t, mem, "b"))
}

func TestServiceClose(t *testing.T) {
	svc := &Service{}
	assert.NoError(t, svc.Close())

	svc, _, _ = newTestService(t)
	assert.NoError(t, svc.Close())
}
