// Package repository содержит реализации хранилища сервиса выдачи книг.
package repository

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/library-lending/internal/model"
)

var (
	// ErrUserNotFound возвращается, если пользователь не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrBookNotFound возвращается, если книга не найдена.
	ErrBookNotFound = errors.New("book not found")
)

// Store описывает операции чтения и записи, доступные движку выдачи.
type Store interface {
	GetUser(ctx context.Context, userID int64) (*model.User, error)
	GetBook(ctx context.Context, bookID string) (*model.Book, error)
	UpdateUserFees(ctx context.Context, userID int64, fees decimal.Decimal) error
	SetBookAvailability(ctx context.Context, bookID string, available bool) error
	// AddTransaction дописывает запись в журнал и возвращает её с присвоенным идентификатором.
	AddTransaction(ctx context.Context, t model.Transaction) (model.Transaction, error)
	FindTransactions(ctx context.Context, filter model.TransactionFilter) ([]model.Transaction, error)
}

// TxFunc - единица работы, которую WithinTx выполняет атомарно:
// либо сохраняются все изменения fn, либо ни одно.
type TxFunc func(ctx context.Context, s Store) error

var (
	_ Store = (*PostgresRepository)(nil)
	_ Store = (*MemoryRepository)(nil)
)
