// Package validation содержит функции валидации входных данных.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
)

const (
	// BookIDTag проверяет алфавит идентификатора книги.
	BookIDTag = "bookid"
	// moneyScale - число знаков после запятой в денежных суммах.
	moneyScale = 2
)

// ErrInvalidInput возвращается при некорректных входных данных.
var ErrInvalidInput = errors.New("invalid input")

// NewValidator создаёт валидатор с правилом bookid. Поля в сообщениях об ошибках
// называются по тегу query, как их видит клиент.
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("query"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})

	if err := v.RegisterValidation(BookIDTag, func(fl validator.FieldLevel) bool {
		return hasBookIDAlphabet(fl.Field().String())
	}); err != nil {
		panic(err)
	}

	return v
}

// Struct проверяет структуру и переводит ошибки валидатора в сообщения для клиента.
// Результат всегда оборачивает ErrInvalidInput.
func Struct(v *validator.Validate, s any) error {
	err := v.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return multierr.Append(ErrInvalidInput, err)
	}

	res := ErrInvalidInput
	for _, fe := range fieldErrs {
		res = multierr.Append(res, errors.New(describe(fe)))
	}
	return res
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters long", fe.Field(), fe.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", fe.Field(), fe.Param())
	case BookIDTag:
		return fmt.Sprintf("%s may contain only letters, digits, '-', '_' and '.'", fe.Field())
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}

// hasBookIDAlphabet сообщает, что id состоит из букв, цифр, дефисов,
// подчёркиваний и точек. Пустая строка проверяется тегом required.
func hasBookIDAlphabet(id string) bool {
	for _, ch := range id {
		if unicode.IsLetter(ch) || unicode.IsDigit(ch) {
			continue
		}
		switch ch {
		case '-', '_', '.':
			continue
		}
		return false
	}

	return true
}

// ParseUserID разбирает положительный целочисленный идентификатор пользователя.
func ParseUserID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: malformed user id %q", ErrInvalidInput, raw)
	}
	return id, nil
}

// ParseAmount разбирает денежную сумму с точностью не более двух знаков после запятой.
func ParseAmount(raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: malformed amount %q", ErrInvalidInput, raw)
	}

	if !d.Round(moneyScale).Equal(d) {
		return decimal.Zero, fmt.Errorf("%w: amount %q has more than %d decimal places", ErrInvalidInput, raw, moneyScale)
	}

	return d, nil
}
