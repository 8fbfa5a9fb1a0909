package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // регистрация диалекта
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/library-lending/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	dialectPostgres   = "postgres"
	transactionsTable = "library_transactions"
)

var retryDelays = []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

// querier - общее подмножество pgxpool.Pool и pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// pgStore реализует Store поверх пула или открытой транзакции.
// Внутри транзакции строки пользователя и книги читаются с блокировкой.
type pgStore struct {
	q         querier
	forUpdate bool
}

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pgStore
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{
		pgStore: pgStore{q: pool},
		pool:    pool,
	}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect(dialectPostgres); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// WithinTx выполняет fn в одной транзакции. При конфликте сериализации,
// взаимной блокировке или обрыве соединения транзакция повторяется целиком.
func (r *PostgresRepository) WithinTx(ctx context.Context, fn TxFunc) error {
	return r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		if err := fn(ctx, &pgStore{q: tx, forUpdate: true}); err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
}

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error

	for i := 0; i <= len(retryDelays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		if !isRetryable(err) || i == len(retryDelays) {
			break
		}

		timer := time.NewTimer(retryDelays[i])
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}
	return isConnectionError(err)
}

func isConnectionError(err error) bool {
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

func (s *pgStore) lockClause() string {
	if s.forUpdate {
		return " FOR UPDATE"
	}
	return ""
}

// GetUser возвращает пользователя по идентификатору.
func (s *pgStore) GetUser(ctx context.Context, userID int64) (*model.User, error) {
	row := s.q.QueryRow(ctx,
		`SELECT id, first_name, name, fees FROM users WHERE id = $1`+s.lockClause(),
		userID,
	)

	var (
		u    model.User
		fees pgtype.Numeric
	)
	if err := row.Scan(&u.ID, &u.FirstName, &u.Name, &fees); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	u.Fees = numericToDecimal(fees)

	return &u, nil
}

// GetBook возвращает книгу по идентификатору.
func (s *pgStore) GetBook(ctx context.Context, bookID string) (*model.Book, error) {
	row := s.q.QueryRow(ctx,
		`SELECT id, title, fee_rate, borrowing_days, available FROM books WHERE id = $1`+s.lockClause(),
		bookID,
	)

	var (
		b       model.Book
		feeRate pgtype.Numeric
	)
	if err := row.Scan(&b.ID, &b.Title, &feeRate, &b.BorrowingDays, &b.Available); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBookNotFound
		}
		return nil, fmt.Errorf("get book: %w", err)
	}
	b.FeeRate = numericToDecimal(feeRate)

	return &b, nil
}

// UpdateUserFees сохраняет новую сумму задолженности пользователя.
func (s *pgStore) UpdateUserFees(ctx context.Context, userID int64, fees decimal.Decimal) error {
	tag, err := s.q.Exec(ctx,
		`UPDATE users SET fees = $2 WHERE id = $1`,
		userID, decimalToNumeric(fees),
	)
	if err != nil {
		return fmt.Errorf("update user fees: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// SetBookAvailability меняет признак доступности книги.
func (s *pgStore) SetBookAvailability(ctx context.Context, bookID string, available bool) error {
	tag, err := s.q.Exec(ctx,
		`UPDATE books SET available = $2 WHERE id = $1`,
		bookID, available,
	)
	if err != nil {
		return fmt.Errorf("update book availability: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrBookNotFound
	}
	return nil
}

// AddTransaction дописывает запись в журнал выдачи.
func (s *pgStore) AddTransaction(ctx context.Context, t model.Transaction) (model.Transaction, error) {
	err := s.q.QueryRow(ctx,
		`INSERT INTO library_transactions (user_id, book_id, kind, occurred_at) VALUES ($1, $2, $3, $4) RETURNING id`,
		t.UserID, t.BookID, string(t.Kind), t.Date,
	).Scan(&t.ID)
	if err != nil {
		return model.Transaction{}, fmt.Errorf("insert transaction: %w", err)
	}
	return t, nil
}

// FindTransactions возвращает записи журнала, подходящие под фильтр.
func (s *pgStore) FindTransactions(ctx context.Context, filter model.TransactionFilter) ([]model.Transaction, error) {
	query, args, err := buildTransactionsQuery(filter)
	if err != nil {
		return nil, err
	}

	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select transactions: %w", err)
	}
	defer rows.Close()

	var res []model.Transaction
	for rows.Next() {
		var (
			t    model.Transaction
			kind string
		)
		if err := rows.Scan(&t.ID, &t.UserID, &t.BookID, &kind, &t.Date); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		t.Kind = model.TransactionKind(kind)
		t.Date = t.Date.UTC()
		res = append(res, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

func buildTransactionsQuery(filter model.TransactionFilter) (string, []any, error) {
	ds := goqu.Dialect(dialectPostgres).
		From(transactionsTable).
		Prepared(true).
		Select("id", "user_id", "book_id", "kind", "occurred_at")

	if filter.UserID != 0 {
		ds = ds.Where(goqu.C("user_id").Eq(filter.UserID))
	}
	if filter.BookID != "" {
		ds = ds.Where(goqu.C("book_id").Eq(filter.BookID))
	}
	if len(filter.Kinds) > 0 {
		kinds := make([]string, 0, len(filter.Kinds))
		for _, k := range filter.Kinds {
			kinds = append(kinds, string(k))
		}
		ds = ds.Where(goqu.C("kind").In(kinds))
	}

	if filter.NewestFirst {
		ds = ds.Order(goqu.C("occurred_at").Desc(), goqu.C("id").Desc())
	} else {
		ds = ds.Order(goqu.C("occurred_at").Asc(), goqu.C("id").Asc())
	}

	if filter.Limit > 0 {
		ds = ds.Limit(uint(filter.Limit))
	}

	query, args, err := ds.ToSQL()
	if err != nil {
		return "", nil, fmt.Errorf("build transactions query: %w", err)
	}
	return query, args, nil
}

func numericToDecimal(n pgtype.Numeric) decimal.Decimal {
	if !n.Valid || n.Int == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(n.Int, n.Exp)
}

func decimalToNumeric(d decimal.Decimal) pgtype.Numeric {
	return pgtype.Numeric{Int: d.Coefficient(), Exp: d.Exponent(), Valid: true}
}
