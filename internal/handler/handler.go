// Package handler содержит HTTP-обработчики API сервиса выдачи книг.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/library-lending/internal/middleware"
	"github.com/mmeshcher/library-lending/internal/model"
	"github.com/mmeshcher/library-lending/internal/service"
	"github.com/mmeshcher/library-lending/internal/validation"
)

const internalErrorMessage = "An internal error occurred. Please try again later."

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	GetOutstandingFees(ctx context.Context, userID int64) (decimal.Decimal, error)
	CheckOutBook(ctx context.Context, userID int64, bookID string) error
	ReturnBook(ctx context.Context, userID int64, bookID string) (*model.ReturnReceipt, error)
	GetUserLibraryTransactions(ctx context.Context, userID int64) ([]model.Transaction, error)
	ProcessFeePayment(ctx context.Context, userID int64, amount decimal.Decimal) (model.PaymentOutcome, error)
	RenewBook(ctx context.Context, userID int64, bookID string) (model.RenewalOutcome, error)
	CheckOutBooks(ctx context.Context, userID int64, bookIDs []string) (map[string]string, error)
}

// Handler реализует HTTP-обработчики API сервиса выдачи книг.
type Handler struct {
	service  Service
	logger   *zap.Logger
	validate *validator.Validate
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger) *Handler {
	return &Handler{
		service:  s,
		logger:   logger,
		validate: validation.NewValidator(),
	}
}

type messageResponse struct {
	Message string `json:"message"`
}

// loanRequest описывает пару (пользователь, книга) из параметров запроса.
type loanRequest struct {
	UserID int64  `query:"userId"`
	BookID string `query:"bookId" validate:"required,max=64,bookid"`
}

func (h *Handler) parseLoanRequest(r *http.Request) (loanRequest, error) {
	q := r.URL.Query()

	userID, err := validation.ParseUserID(q.Get("userId"))
	if err != nil {
		return loanRequest{}, err
	}

	req := loanRequest{UserID: userID, BookID: q.Get("bookId")}
	if err := validation.Struct(h.validate, req); err != nil {
		return loanRequest{}, err
	}

	return req, nil
}

type feesResponse struct {
	UserID          int64           `json:"userId"`
	OutstandingFees decimal.Decimal `json:"outstandingFees"`
}

// GetOutstandingFees возвращает задолженность пользователя.
func (h *Handler) GetOutstandingFees(w http.ResponseWriter, r *http.Request) {
	userID, err := validation.ParseUserID(chi.URLParam(r, "userId"))
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, messageResponse{Message: err.Error()})
		return
	}

	fees, err := h.service.GetOutstandingFees(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err, "get outstanding fees error", zap.Int64("userID", userID))
		return
	}

	h.writeJSON(w, http.StatusOK, feesResponse{UserID: userID, OutstandingFees: fees})
}

// CheckOutBook выдаёт книгу пользователю.
func (h *Handler) CheckOutBook(w http.ResponseWriter, r *http.Request) {
	req, err := h.parseLoanRequest(r)
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, messageResponse{Message: err.Error()})
		return
	}

	if err := h.service.CheckOutBook(r.Context(), req.UserID, req.BookID); err != nil {
		h.writeError(w, r, err, "check out book error", zap.Int64("userID", req.UserID), zap.String("book", req.BookID))
		return
	}

	h.writeJSON(w, http.StatusOK, messageResponse{Message: "Book checked out successfully."})
}

type returnResponse struct {
	Message     string          `json:"message"`
	DueDate     string          `json:"dueDate"`
	OverdueDays int64           `json:"overdueDays"`
	LateFee     decimal.Decimal `json:"lateFee"`
}

// ReturnBook принимает книгу у пользователя.
func (h *Handler) ReturnBook(w http.ResponseWriter, r *http.Request) {
	req, err := h.parseLoanRequest(r)
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, messageResponse{Message: err.Error()})
		return
	}

	receipt, err := h.service.ReturnBook(r.Context(), req.UserID, req.BookID)
	if err != nil {
		h.writeError(w, r, err, "return book error", zap.Int64("userID", req.UserID), zap.String("book", req.BookID))
		return
	}

	h.writeJSON(w, http.StatusOK, returnResponse{
		Message:     "Book returned successfully.",
		DueDate:     receipt.DueDate.Format(time.RFC3339),
		OverdueDays: receipt.OverdueDays,
		LateFee:     receipt.LateFee,
	})
}

type transactionResponse struct {
	ID              int64  `json:"id"`
	BookID          string `json:"bookId"`
	TransactionType string `json:"transactionType"`
	Date            string `json:"date"`
}

type transactionsResponse struct {
	UserID       int64                 `json:"userId"`
	Transactions []transactionResponse `json:"transactions"`
}

// GetUserLibraryTransactions возвращает журнал операций пользователя.
func (h *Handler) GetUserLibraryTransactions(w http.ResponseWriter, r *http.Request) {
	userID, err := validation.ParseUserID(chi.URLParam(r, "userId"))
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, messageResponse{Message: err.Error()})
		return
	}

	transactions, err := h.service.GetUserLibraryTransactions(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err, "get transactions error", zap.Int64("userID", userID))
		return
	}

	resp := transactionsResponse{
		UserID:       userID,
		Transactions: make([]transactionResponse, 0, len(transactions)),
	}
	for _, t := range transactions {
		resp.Transactions = append(resp.Transactions, transactionResponse{
			ID:              t.ID,
			BookID:          t.BookID,
			TransactionType: string(t.Kind),
			Date:            t.Date.Format(time.RFC3339),
		})
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// ProcessFeePayment принимает оплату задолженности.
func (h *Handler) ProcessFeePayment(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	userID, err := validation.ParseUserID(q.Get("userId"))
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, messageResponse{Message: err.Error()})
		return
	}

	amount, err := validation.ParseAmount(q.Get("paymentAmount"))
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, messageResponse{Message: err.Error()})
		return
	}

	outcome, err := h.service.ProcessFeePayment(r.Context(), userID, amount)
	if err != nil {
		h.writeError(w, r, err, "process payment error", zap.Int64("userID", userID))
		return
	}

	status := http.StatusOK
	if !outcome.Settled() {
		status = http.StatusBadRequest
	}
	h.writeJSON(w, status, messageResponse{Message: outcome.Message()})
}

type renewResponse struct {
	Message string `json:"message"`
	DueDate string `json:"dueDate,omitempty"`
}

// RenewBook продлевает выдачу книги.
func (h *Handler) RenewBook(w http.ResponseWriter, r *http.Request) {
	req, err := h.parseLoanRequest(r)
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, messageResponse{Message: err.Error()})
		return
	}

	outcome, err := h.service.RenewBook(r.Context(), req.UserID, req.BookID)
	if err != nil {
		h.writeError(w, r, err, "renew book error", zap.Int64("userID", req.UserID), zap.String("book", req.BookID))
		return
	}

	if !outcome.Renewed() {
		h.writeJSON(w, http.StatusBadRequest, renewResponse{Message: outcome.Message()})
		return
	}

	h.writeJSON(w, http.StatusOK, renewResponse{
		Message: outcome.Message(),
		DueDate: outcome.DueDate.Format(time.RFC3339),
	})
}

type checkoutBooksResponse struct {
	UserID  int64             `json:"userId"`
	Results map[string]string `json:"results"`
}

// CheckOutBooks выдаёт пользователю несколько книг.
func (h *Handler) CheckOutBooks(w http.ResponseWriter, r *http.Request) {
	userID, err := validation.ParseUserID(r.URL.Query().Get("userId"))
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, messageResponse{Message: err.Error()})
		return
	}

	var bookIDs []string
	if err := json.NewDecoder(r.Body).Decode(&bookIDs); err != nil {
		h.writeJSON(w, http.StatusBadRequest, messageResponse{Message: "request body must be a JSON array of book ids"})
		return
	}

	results, err := h.service.CheckOutBooks(r.Context(), userID, bookIDs)
	if err != nil {
		h.writeError(w, r, err, "check out books error", zap.Int64("userID", userID), zap.Int("books", len(bookIDs)))
		return
	}

	h.writeJSON(w, http.StatusOK, checkoutBooksResponse{UserID: userID, Results: results})
}

// writeError отображает ошибку сервиса в HTTP-статус. Подробности непредвиденных
// ошибок пишутся в журнал и не передаются клиенту.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error, msg string, fields ...zap.Field) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		h.writeJSON(w, http.StatusNotFound, messageResponse{Message: err.Error()})
	case errors.Is(err, service.ErrInvalidState):
		h.writeJSON(w, http.StatusBadRequest, messageResponse{Message: err.Error()})
	default:
		if requestID, ok := middleware.GetRequestIDFromContext(r.Context()); ok {
			fields = append(fields, zap.String("request_id", requestID))
		}
		h.logger.Error(msg, append(fields, zap.Error(err))...)
		h.writeJSON(w, http.StatusInternalServerError, messageResponse{Message: internalErrorMessage})
	}
}

// writeJSON пишет ответ в JSON. Заголовок уже отправлен, поэтому ошибка
// кодирования только пишется в журнал.
func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode response error", zap.Error(err), zap.Int("status", status))
	}
}
