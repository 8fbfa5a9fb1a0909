package service

import (
	"time"

	"github.com/mmeshcher/library-lending/internal/model"
)

const day = 24 * time.Hour

// loan описывает последнюю выдачу книги пользователю, восстановленную по журналу.
type loan struct {
	checkout model.Transaction
	renewals int
	returned bool
}

// projectLoan восстанавливает состояние последней выдачи по истории пары
// (пользователь, книга), упорядоченной от старых записей к новым.
func projectLoan(history []model.Transaction) (loan, bool) {
	var (
		l     loan
		found bool
	)

	for _, t := range history {
		switch t.Kind {
		case model.TransactionCheckout:
			l = loan{checkout: t}
			found = true
		case model.TransactionRenew:
			if found {
				l.renewals++
			}
		case model.TransactionReturn:
			if found {
				l.returned = true
			}
		}
	}

	return l, found
}

// active сообщает, что книга ещё не возвращена.
func (l loan) active() bool {
	return !l.returned
}

// dueDate: дата выдачи плюс срок выдачи за исходный период и каждое продление.
func (l loan) dueDate(borrowingDays int) time.Time {
	periods := 1 + l.renewals
	return l.checkout.Date.Add(time.Duration(borrowingDays*periods) * day)
}

// overdueDays возвращает число полных суток просрочки.
func overdueDays(due, at time.Time) int64 {
	if !at.After(due) {
		return 0
	}
	return int64(at.Sub(due) / day)
}
