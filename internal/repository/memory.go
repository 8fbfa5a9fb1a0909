package repository

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/library-lending/internal/model"
)

// MemoryRepository хранит данные в памяти процесса. Все операции сериализуются
// одним мьютексом, а WithinTx работает с копией состояния и фиксирует её
// только при успешном завершении.
type MemoryRepository struct {
	mu    sync.Mutex
	state *memoryState
}

type memoryState struct {
	users        map[int64]model.User
	books        map[string]model.Book
	transactions []model.Transaction
	lastUserID   int64
	lastTxID     int64
}

// NewMemoryRepository создаёт пустое хранилище в памяти.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		state: &memoryState{
			users: make(map[int64]model.User),
			books: make(map[string]model.Book),
		},
	}
}

// NewSeededMemoryRepository создаёт хранилище в памяти с демонстрационными данными.
func NewSeededMemoryRepository() *MemoryRepository {
	r := NewMemoryRepository()

	r.AddUser(model.User{FirstName: "John", Name: "Doe", Fees: decimal.Zero})
	r.AddUser(model.User{FirstName: "Jane", Name: "Smith", Fees: decimal.NewFromInt(5)})

	r.AddBook(model.Book{
		ID:            "a",
		Title:         "Introduction to C#",
		FeeRate:       decimal.RequireFromString("1.50"),
		BorrowingDays: 14,
		Available:     true,
	})
	r.AddBook(model.Book{
		ID:            "b",
		Title:         "ASP.NET Core in Action",
		FeeRate:       decimal.RequireFromString("2.00"),
		BorrowingDays: 14,
		Available:     true,
	})

	return r
}

// AddUser сохраняет пользователя. Нулевой ID заменяется следующим свободным.
func (r *MemoryRepository) AddUser(u model.User) model.User {
	r.mu.Lock()
	defer r.mu.Unlock()

	if u.ID == 0 {
		u.ID = r.state.lastUserID + 1
	}
	if u.ID > r.state.lastUserID {
		r.state.lastUserID = u.ID
	}
	r.state.users[u.ID] = u
	return u
}

// AddBook сохраняет книгу.
func (r *MemoryRepository) AddBook(b model.Book) model.Book {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.state.books[b.ID] = b
	return b
}

// Close ничего не освобождает и нужен для соответствия Repository.
func (r *MemoryRepository) Close() error {
	return nil
}

// WithinTx выполняет fn над копией состояния и фиксирует её, если fn не вернула ошибку.
func (r *MemoryRepository) WithinTx(ctx context.Context, fn TxFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	work := r.state.clone()
	if err := fn(ctx, &memoryStore{state: work}); err != nil {
		return err
	}
	r.state = work
	return nil
}

func (r *MemoryRepository) store() *memoryStore {
	return &memoryStore{state: r.state}
}

// GetUser возвращает пользователя по идентификатору.
func (r *MemoryRepository) GetUser(ctx context.Context, userID int64) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store().GetUser(ctx, userID)
}

// GetBook возвращает книгу по идентификатору.
func (r *MemoryRepository) GetBook(ctx context.Context, bookID string) (*model.Book, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store().GetBook(ctx, bookID)
}

// UpdateUserFees сохраняет новую сумму задолженности пользователя.
func (r *MemoryRepository) UpdateUserFees(ctx context.Context, userID int64, fees decimal.Decimal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store().UpdateUserFees(ctx, userID, fees)
}

// SetBookAvailability меняет признак доступности книги.
func (r *MemoryRepository) SetBookAvailability(ctx context.Context, bookID string, available bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store().SetBookAvailability(ctx, bookID, available)
}

// AddTransaction дописывает запись в журнал выдачи.
func (r *MemoryRepository) AddTransaction(ctx context.Context, t model.Transaction) (model.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store().AddTransaction(ctx, t)
}

// FindTransactions возвращает записи журнала, подходящие под фильтр.
func (r *MemoryRepository) FindTransactions(ctx context.Context, filter model.TransactionFilter) ([]model.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store().FindTransactions(ctx, filter)
}

func (s *memoryState) clone() *memoryState {
	c := &memoryState{
		users:        make(map[int64]model.User, len(s.users)),
		books:        make(map[string]model.Book, len(s.books)),
		transactions: slices.Clone(s.transactions),
		lastUserID:   s.lastUserID,
		lastTxID:     s.lastTxID,
	}
	for id, u := range s.users {
		c.users[id] = u
	}
	for id, b := range s.books {
		c.books[id] = b
	}
	return c
}

// memoryStore реализует Store без блокировок; синхронизацию обеспечивает MemoryRepository.
type memoryStore struct {
	state *memoryState
}

func (s *memoryStore) GetUser(_ context.Context, userID int64) (*model.User, error) {
	u, ok := s.state.users[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &u, nil
}

func (s *memoryStore) GetBook(_ context.Context, bookID string) (*model.Book, error) {
	b, ok := s.state.books[bookID]
	if !ok {
		return nil, ErrBookNotFound
	}
	return &b, nil
}

func (s *memoryStore) UpdateUserFees(_ context.Context, userID int64, fees decimal.Decimal) error {
	u, ok := s.state.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	u.Fees = fees
	s.state.users[userID] = u
	return nil
}

func (s *memoryStore) SetBookAvailability(_ context.Context, bookID string, available bool) error {
	b, ok := s.state.books[bookID]
	if !ok {
		return ErrBookNotFound
	}
	b.Available = available
	s.state.books[bookID] = b
	return nil
}

func (s *memoryStore) AddTransaction(_ context.Context, t model.Transaction) (model.Transaction, error) {
	s.state.lastTxID++
	t.ID = s.state.lastTxID
	s.state.transactions = append(s.state.transactions, t)
	return t, nil
}

func (s *memoryStore) FindTransactions(_ context.Context, filter model.TransactionFilter) ([]model.Transaction, error) {
	var res []model.Transaction
	for _, t := range s.state.transactions {
		if filter.UserID != 0 && t.UserID != filter.UserID {
			continue
		}
		if filter.BookID != "" && t.BookID != filter.BookID {
			continue
		}
		if len(filter.Kinds) > 0 && !slices.Contains(filter.Kinds, t.Kind) {
			continue
		}
		res = append(res, t)
	}

	slices.SortStableFunc(res, func(a, b model.Transaction) int {
		c := a.Date.Compare(b.Date)
		if c == 0 {
			c = cmp.Compare(a.ID, b.ID)
		}
		if filter.NewestFirst {
			return -c
		}
		return c
	})

	if filter.Limit > 0 && len(res) > filter.Limit {
		res = res[:filter.Limit]
	}

	return res, nil
}
