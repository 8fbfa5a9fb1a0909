package service

import "errors"

// Виды ошибок движка выдачи. Конкретные ошибки ниже оборачивают один из видов,
// поэтому вид проверяется через errors.Is.
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidState = errors.New("invalid state")
)

var (
	// ErrUserNotFound возвращается, если пользователь не найден.
	ErrUserNotFound error = &lendingError{kind: ErrNotFound, msg: "User not found."}
	// ErrInvalidReference возвращается, если не найден пользователь или книга.
	ErrInvalidReference error = &lendingError{kind: ErrNotFound, msg: "Invalid userId or bookId"}
	// ErrNotAvailable возвращается при попытке выдать уже выданную книгу.
	ErrNotAvailable error = &lendingError{kind: ErrInvalidState, msg: "Book not available"}
	// ErrNotCheckedOut возвращается при возврате книги, которая не выдана.
	ErrNotCheckedOut error = &lendingError{kind: ErrInvalidState, msg: "The book cannot be returned because it was not checked out by the current user."}
	// ErrNoCheckoutRecord возвращается, если у пользователя нет активной выдачи книги.
	ErrNoCheckoutRecord error = &lendingError{kind: ErrInvalidState, msg: "No valid checkout record found for this book and user."}
)

// Тексты ошибок уходят клиенту в теле ответа и в результатах пакетной выдачи.
type lendingError struct {
	kind error
	msg  string
}

func (e *lendingError) Error() string { return e.msg }

func (e *lendingError) Unwrap() error { return e.kind }

// IsDomainError сообщает, является ли err ожидаемой ошибкой бизнес-правил.
func IsDomainError(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidState)
}
