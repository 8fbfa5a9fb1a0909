// Package service реализует бизнес-логику выдачи книг: выдачу, продление,
// возврат с начислением штрафа, журнал операций и оплату задолженности.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/library-lending/internal/model"
	"github.com/mmeshcher/library-lending/internal/repository"
)

// CheckoutSucceededMessage записывается в результат пакетной выдачи для успешно выданной книги.
const CheckoutSucceededMessage = "Checkout successful."

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	repository.Store
	WithinTx(ctx context.Context, fn repository.TxFunc) error
	Close() error
}

// Service содержит бизнес-логику выдачи книг.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService создаёт новый сервис поверх указанного хранилища.
func NewService(repo Repository) *Service {
	return &Service{
		repo: repo,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// GetOutstandingFees возвращает текущую задолженность пользователя.
func (s *Service) GetOutstandingFees(ctx context.Context, userID int64) (decimal.Decimal, error) {
	u, err := s.getUser(ctx, s.repo, userID)
	if err != nil {
		return decimal.Zero, err
	}
	return u.Fees, nil
}

// CheckOutBook выдаёт книгу пользователю.
func (s *Service) CheckOutBook(ctx context.Context, userID int64, bookID string) error {
	return s.repo.WithinTx(ctx, func(ctx context.Context, st repository.Store) error {
		_, book, err := s.lookup(ctx, st, userID, bookID)
		if err != nil {
			return err
		}

		if !book.Available {
			return ErrNotAvailable
		}

		if err := st.SetBookAvailability(ctx, bookID, false); err != nil {
			return fmt.Errorf("mark book unavailable: %w", err)
		}

		return s.appendTransaction(ctx, st, userID, bookID, model.TransactionCheckout)
	})
}

// ReturnBook принимает книгу у пользователя и начисляет штраф за просрочку.
func (s *Service) ReturnBook(ctx context.Context, userID int64, bookID string) (*model.ReturnReceipt, error) {
	var receipt *model.ReturnReceipt

	err := s.repo.WithinTx(ctx, func(ctx context.Context, st repository.Store) error {
		user, book, err := s.lookup(ctx, st, userID, bookID)
		if err != nil {
			return err
		}

		if book.Available {
			return ErrNotCheckedOut
		}

		l, found, err := s.loadLoan(ctx, st, userID, bookID)
		if err != nil {
			return err
		}
		if !found || !l.active() {
			return ErrNoCheckoutRecord
		}

		now := s.now()
		due := l.dueDate(book.BorrowingDays)
		overdue := overdueDays(due, now)
		lateFee := book.FeeRate.Mul(decimal.NewFromInt(overdue))

		if overdue > 0 {
			if err := st.UpdateUserFees(ctx, userID, user.Fees.Add(lateFee)); err != nil {
				return fmt.Errorf("charge late fee: %w", err)
			}
		}

		if err := st.SetBookAvailability(ctx, bookID, true); err != nil {
			return fmt.Errorf("mark book available: %w", err)
		}

		if err := s.appendTransactionAt(ctx, st, userID, bookID, model.TransactionReturn, now); err != nil {
			return err
		}

		receipt = &model.ReturnReceipt{
			DueDate:     due,
			ReturnedAt:  now,
			OverdueDays: overdue,
			LateFee:     lateFee,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return receipt, nil
}

// GetUserLibraryTransactions возвращает журнал операций пользователя, начиная с последних.
func (s *Service) GetUserLibraryTransactions(ctx context.Context, userID int64) ([]model.Transaction, error) {
	if _, err := s.getUser(ctx, s.repo, userID); err != nil {
		return nil, err
	}

	res, err := s.repo.FindTransactions(ctx, model.TransactionFilter{
		UserID:      userID,
		NewestFirst: true,
	})
	if err != nil {
		return nil, fmt.Errorf("find transactions: %w", err)
	}
	return res, nil
}

// ProcessFeePayment гасит задолженность пользователя. Частичная оплата не принимается:
// сумма должна в точности совпадать с задолженностью.
func (s *Service) ProcessFeePayment(ctx context.Context, userID int64, amount decimal.Decimal) (model.PaymentOutcome, error) {
	var outcome model.PaymentOutcome

	err := s.repo.WithinTx(ctx, func(ctx context.Context, st repository.Store) error {
		user, err := s.getUser(ctx, st, userID)
		if err != nil {
			return err
		}

		if !amount.Equal(user.Fees) {
			outcome = model.PaymentOutcome{Status: model.PaymentMismatch, Outstanding: user.Fees}
			return nil
		}

		if err := st.UpdateUserFees(ctx, userID, decimal.Zero); err != nil {
			return fmt.Errorf("clear fees: %w", err)
		}

		outcome = model.PaymentOutcome{Status: model.PaymentSettled, Outstanding: decimal.Zero}
		return nil
	})
	if err != nil {
		return model.PaymentOutcome{}, err
	}

	return outcome, nil
}

// RenewBook продлевает активную выдачу на один стандартный срок. Продлить выдачу можно один раз.
func (s *Service) RenewBook(ctx context.Context, userID int64, bookID string) (model.RenewalOutcome, error) {
	var outcome model.RenewalOutcome

	err := s.repo.WithinTx(ctx, func(ctx context.Context, st repository.Store) error {
		_, book, err := s.lookup(ctx, st, userID, bookID)
		if err != nil {
			return err
		}

		l, found, err := s.loadLoan(ctx, st, userID, bookID)
		if err != nil {
			return err
		}
		if !found || !l.active() {
			return ErrNoCheckoutRecord
		}

		if l.renewals > 0 {
			outcome = model.RenewalOutcome{Status: model.RenewalAlreadyRenewed}
			return nil
		}

		if err := s.appendTransaction(ctx, st, userID, bookID, model.TransactionRenew); err != nil {
			return err
		}

		l.renewals++
		outcome = model.RenewalOutcome{
			Status:  model.RenewalRenewed,
			DueDate: l.dueDate(book.BorrowingDays),
		}
		return nil
	})
	if err != nil {
		return model.RenewalOutcome{}, err
	}

	return outcome, nil
}

// CheckOutBooks выдаёт пользователю несколько книг по порядку. Ошибка выдачи одной книги
// не отменяет уже выполненные выдачи и попадает в результат текстом.
func (s *Service) CheckOutBooks(ctx context.Context, userID int64, bookIDs []string) (map[string]string, error) {
	if _, err := s.getUser(ctx, s.repo, userID); err != nil {
		return nil, err
	}

	results := make(map[string]string, len(bookIDs))
	for _, bookID := range bookIDs {
		err := s.CheckOutBook(ctx, userID, bookID)
		switch {
		case err == nil:
			results[bookID] = CheckoutSucceededMessage
		case IsDomainError(err):
			results[bookID] = err.Error()
		default:
			return nil, fmt.Errorf("check out book %q: %w", bookID, err)
		}
	}

	return results, nil
}

func (s *Service) getUser(ctx context.Context, st repository.Store, userID int64) (*model.User, error) {
	u, err := st.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// lookup загружает пользователя и книгу. Отсутствие любого из них даёт ErrInvalidReference.
func (s *Service) lookup(ctx context.Context, st repository.Store, userID int64, bookID string) (*model.User, *model.Book, error) {
	u, err := s.getUser(ctx, st, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, nil, ErrInvalidReference
		}
		return nil, nil, err
	}

	b, err := st.GetBook(ctx, bookID)
	if err != nil {
		if errors.Is(err, repository.ErrBookNotFound) {
			return nil, nil, ErrInvalidReference
		}
		return nil, nil, fmt.Errorf("get book: %w", err)
	}

	return u, b, nil
}

func (s *Service) loadLoan(ctx context.Context, st repository.Store, userID int64, bookID string) (loan, bool, error) {
	history, err := st.FindTransactions(ctx, model.TransactionFilter{
		UserID: userID,
		BookID: bookID,
	})
	if err != nil {
		return loan{}, false, fmt.Errorf("find loan history: %w", err)
	}

	l, found := projectLoan(history)
	return l, found, nil
}

func (s *Service) appendTransaction(ctx context.Context, st repository.Store, userID int64, bookID string, kind model.TransactionKind) error {
	return s.appendTransactionAt(ctx, st, userID, bookID, kind, s.now())
}

func (s *Service) appendTransactionAt(ctx context.Context, st repository.Store, userID int64, bookID string, kind model.TransactionKind, at time.Time) error {
	_, err := st.AddTransaction(ctx, model.Transaction{
		UserID: userID,
		BookID: bookID,
		Kind:   kind,
		Date:   at,
	})
	if err != nil {
		return fmt.Errorf("append %s transaction: %w", kind, err)
	}
	return nil
}
