// Package model содержит доменные сущности сервиса выдачи книг.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// User представляет читателя библиотеки и его задолженность по штрафам.
type User struct {
	ID        int64
	FirstName string
	Name      string
	Fees      decimal.Decimal
}

// Book описывает книгу, условия её выдачи и текущую доступность.
type Book struct {
	ID            string
	Title         string
	FeeRate       decimal.Decimal
	BorrowingDays int
	Available     bool
}

// TransactionKind описывает тип записи в журнале выдачи.
type TransactionKind string

const (
	TransactionCheckout TransactionKind = "Checkout"
	TransactionRenew    TransactionKind = "Renew"
	TransactionReturn   TransactionKind = "Return"
)

// Transaction - неизменяемая запись журнала выдачи.
type Transaction struct {
	ID     int64
	UserID int64
	BookID string
	Kind   TransactionKind
	Date   time.Time
}

// TransactionFilter задаёт условия выборки записей журнала.
// Нулевые значения полей означают отсутствие ограничения.
type TransactionFilter struct {
	UserID      int64
	BookID      string
	Kinds       []TransactionKind
	NewestFirst bool
	Limit       int
}

// ReturnReceipt содержит итог возврата книги.
type ReturnReceipt struct {
	DueDate     time.Time
	ReturnedAt  time.Time
	OverdueDays int64
	LateFee     decimal.Decimal
}
