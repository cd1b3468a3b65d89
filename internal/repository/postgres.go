// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/mmeshcher/expenses-system/internal/model"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrUsernameTaken возвращается при попытке создать пользователя с занятым логином.
var (
	ErrUsernameTaken = errors.New("username already taken")
	// ErrEmailTaken возвращается при попытке создать пользователя с занятым email.
	ErrEmailTaken = errors.New("email already registered")
	// ErrUserNotFound возвращается, если пользователь не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrClaimNotFound возвращается, если заявка не найдена.
	ErrClaimNotFound = errors.New("expense claim not found")
	// ErrClaimReviewed возвращается при попытке рассмотреть уже рассмотренную заявку.
	ErrClaimReviewed = errors.New("expense claim already reviewed")
)

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
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

	r := &PostgresRepository{pool: pool}

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

	if err := goose.SetDialect("postgres"); err != nil {
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

// CreateUser создаёт нового пользователя и возвращает его идентификатор.
func (r *PostgresRepository) CreateUser(ctx context.Context, u *model.User) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO users (username, full_name, email, role, password_hash)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		u.Username, u.FullName, u.Email, string(u.Role), u.PasswordHash,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			if pgErr.ConstraintName == "users_email_key" {
				return 0, fmt.Errorf("%w: %s", ErrEmailTaken, u.Email)
			}
			return 0, fmt.Errorf("%w: %s", ErrUsernameTaken, u.Username)
		}
		return 0, fmt.Errorf("create user: %w", err)
	}
	return id, nil
}

// GetUserByUsername возвращает пользователя по логину. Сравнение логина
// чувствительно к регистру.
func (r *PostgresRepository) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, username, full_name, email, role, password_hash, created_at
		 FROM users WHERE username = $1`,
		username,
	)
	return scanUser(row)
}

// GetUserByID возвращает пользователя по идентификатору.
func (r *PostgresRepository) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, username, full_name, email, role, password_hash, created_at
		 FROM users WHERE id = $1`,
		id,
	)
	return scanUser(row)
}

func scanUser(row pgx.Row) (*model.User, error) {
	var (
		u    model.User
		role string
	)
	err := row.Scan(&u.ID, &u.Username, &u.FullName, &u.Email, &role, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	u.Role = model.Role(role)
	return &u, nil
}

// CreateClaim сохраняет новую заявку на возмещение.
func (r *PostgresRepository) CreateClaim(ctx context.Context, c *model.Claim) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO expenses (id, owner_id, amount_cents, currency, description, expense_date, status, submitted_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		c.ID, c.OwnerID, c.AmountCents, string(c.Currency), c.Description, c.ExpenseDate, string(c.Status), c.SubmittedAt,
	)
	if err != nil {
		return fmt.Errorf("insert claim: %w", err)
	}
	return nil
}

const claimColumns = `id, owner_id, amount_cents, currency, description, expense_date,
	 status, submitted_at, reviewed_at, reviewed_by, comments`

func scanClaim(row pgx.Row) (*model.Claim, error) {
	var (
		c        model.Claim
		currency string
		status   string
	)
	err := row.Scan(
		&c.ID, &c.OwnerID, &c.AmountCents, &currency, &c.Description, &c.ExpenseDate,
		&status, &c.SubmittedAt, &c.ReviewedAt, &c.ReviewedBy, &c.Comments,
	)
	if err != nil {
		return nil, err
	}
	c.Currency = model.Currency(currency)
	c.Status = model.ClaimStatus(status)
	return &c, nil
}

// GetClaimsByOwner возвращает заявки пользователя, новые первыми.
// Для рассмотренных заявок подтягивается имя менеджера.
func (r *PostgresRepository) GetClaimsByOwner(ctx context.Context, ownerID int64) ([]model.Claim, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT e.id, e.owner_id, e.amount_cents, e.currency, e.description, e.expense_date,
		 e.status, e.submitted_at, e.reviewed_at, e.reviewed_by, e.comments, m.full_name
		 FROM expenses e
		 LEFT JOIN users m ON m.id = e.reviewed_by
		 WHERE e.owner_id = $1
		 ORDER BY e.submitted_at DESC`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("select claims: %w", err)
	}
	defer rows.Close()

	var claims []model.Claim
	for rows.Next() {
		var (
			c        model.Claim
			currency string
			status   string
		)
		err := rows.Scan(
			&c.ID, &c.OwnerID, &c.AmountCents, &currency, &c.Description, &c.ExpenseDate,
			&status, &c.SubmittedAt, &c.ReviewedAt, &c.ReviewedBy, &c.Comments, &c.ReviewerName,
		)
		if err != nil {
			return nil, fmt.Errorf("scan claim: %w", err)
		}
		c.Currency = model.Currency(currency)
		c.Status = model.ClaimStatus(status)
		claims = append(claims, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return claims, nil
}

// GetPendingClaims возвращает нерассмотренные заявки вместе с данными владельца,
// новые первыми. Если ownerID задан, выборка ограничивается одним владельцем.
func (r *PostgresRepository) GetPendingClaims(ctx context.Context, ownerID *int64) ([]model.PendingClaim, error) {
	query := `SELECT e.id, e.owner_id, e.amount_cents, e.currency, e.description, e.expense_date,
		 e.status, e.submitted_at, e.reviewed_at, e.reviewed_by, e.comments,
		 u.id, u.full_name, u.email
		 FROM expenses e
		 JOIN users u ON u.id = e.owner_id
		 WHERE e.status = $1`
	args := []any{string(model.ClaimStatusPending)}

	if ownerID != nil {
		query += ` AND e.owner_id = $2`
		args = append(args, *ownerID)
	}
	query += ` ORDER BY e.submitted_at DESC`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select pending claims: %w", err)
	}
	defer rows.Close()

	var claims []model.PendingClaim
	for rows.Next() {
		var (
			pc       model.PendingClaim
			currency string
			status   string
		)
		err := rows.Scan(
			&pc.ID, &pc.OwnerID, &pc.AmountCents, &currency, &pc.Description, &pc.ExpenseDate,
			&status, &pc.SubmittedAt, &pc.ReviewedAt, &pc.ReviewedBy, &pc.Comments,
			&pc.Owner.ID, &pc.Owner.FullName, &pc.Owner.Email,
		)
		if err != nil {
			return nil, fmt.Errorf("scan pending claim: %w", err)
		}
		pc.Currency = model.Currency(currency)
		pc.Status = model.ClaimStatus(status)
		claims = append(claims, pc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return claims, nil
}

// ReviewClaim переводит заявку из PENDING в указанный терминальный статус одним
// условным UPDATE. Проверка статуса выполняется в момент записи, поэтому из двух
// конкурирующих рассмотрений успешным будет ровно одно, второе получит
// ErrClaimReviewed.
func (r *PostgresRepository) ReviewClaim(ctx context.Context, claimID string, status model.ClaimStatus, reviewerID int64, comments string) (*model.Claim, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx,
		`UPDATE expenses
		 SET status = $2, reviewed_at = now(), reviewed_by = $3, comments = $4
		 WHERE id = $1 AND status = $5
		 RETURNING `+claimColumns,
		claimID, string(status), reviewerID, comments, string(model.ClaimStatusPending),
	)

	claim, err := scanClaim(row)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("update claim: %w", err)
		}

		// UPDATE не затронул строк: либо заявки нет, либо она уже рассмотрена.
		var existing string
		err = tx.QueryRow(ctx, `SELECT status FROM expenses WHERE id = $1`, claimID).Scan(&existing)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, ErrClaimNotFound
			}
			return nil, fmt.Errorf("select claim status: %w", err)
		}
		return nil, fmt.Errorf("%w: status %s", ErrClaimReviewed, existing)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	return claim, nil
}
