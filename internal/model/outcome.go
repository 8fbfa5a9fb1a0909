package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// DueDateLayout задаёт формат даты возврата в сообщениях.
const DueDateLayout = "2006-01-02"

// PaymentStatus описывает результат оплаты штрафа.
type PaymentStatus int

const (
	PaymentSettled PaymentStatus = iota
	PaymentMismatch
)

// PaymentOutcome - результат оплаты. При несовпадении суммы Outstanding
// содержит текущую задолженность пользователя.
type PaymentOutcome struct {
	Status      PaymentStatus
	Outstanding decimal.Decimal
}

// Settled сообщает, погашена ли задолженность.
func (o PaymentOutcome) Settled() bool {
	return o.Status == PaymentSettled
}

// Message возвращает текст результата оплаты.
func (o PaymentOutcome) Message() string {
	if o.Settled() {
		return "Payment processed successfully. Outstanding fees have been cleared."
	}
	return "Payment failed: Payment amount does not match the outstanding fees. Outstanding Fees: " + o.Outstanding.String()
}

// RenewalStatus описывает результат продления выдачи.
type RenewalStatus int

const (
	RenewalRenewed RenewalStatus = iota
	RenewalAlreadyRenewed
)

// RenewalOutcome - результат продления. DueDate заполняется только при успешном продлении.
type RenewalOutcome struct {
	Status  RenewalStatus
	DueDate time.Time
}

// Renewed сообщает, была ли выдача продлена.
func (o RenewalOutcome) Renewed() bool {
	return o.Status == RenewalRenewed
}

// Message возвращает текст результата продления.
func (o RenewalOutcome) Message() string {
	if o.Renewed() {
		return "Book renewed successfully. New due date: " + o.DueDate.Format(DueDateLayout)
	}
	return "Renewal failed: Book has already been renewed."
}
