package account

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/la-ruche/keyserver/internal/infra"
)

// Repository persists accounts.
type Repository interface {
	// Ensure inserts acc unless its username is taken and returns the stored
	// account either way.
	Ensure(ctx context.Context, acc Account) (Account, error)
	FindByUsername(ctx context.Context, username string) (Account, error)
	FindByID(ctx context.Context, id string) (Account, error)
}

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db infra.DB
}

// NewPostgresRepository builds a Postgres-backed account repository.
func NewPostgresRepository(db infra.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const ensureSQL = `INSERT INTO app_user (id, username, created_at) VALUES ($1, $2, $3)
ON CONFLICT (username) DO UPDATE SET username = EXCLUDED.username
RETURNING id, username, created_at`

func (r *PostgresRepository) Ensure(ctx context.Context, acc Account) (Account, error) {
	id, err := uuid.Parse(acc.ID)
	if err != nil {
		return Account{}, err
	}
	row := r.db.QueryRow(ctx, ensureSQL, id, acc.Username, acc.CreatedAt.UTC())
	return scanAccount(row, "ensure account")
}

func (r *PostgresRepository) FindByUsername(ctx context.Context, username string) (Account, error) {
	row := r.db.QueryRow(ctx, `SELECT id, username, created_at FROM app_user WHERE username = $1`, username)
	return scanAccount(row, "find account by username")
}

func (r *PostgresRepository) FindByID(ctx context.Context, id string) (Account, error) {
	accountID, err := uuid.Parse(id)
	if err != nil {
		return Account{}, ErrNotFound
	}
	row := r.db.QueryRow(ctx, `SELECT id, username, created_at FROM app_user WHERE id = $1`, accountID)
	return scanAccount(row, "find account by id")
}

func scanAccount(row pgx.Row, op string) (Account, error) {
	var (
		id        uuid.UUID
		createdAt time.Time
		acc       Account
	)
	if err := row.Scan(&id, &acc.Username, &createdAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrNotFound
		}
		return Account{}, infra.Unavailable(op, err)
	}
	acc.ID = id.String()
	acc.CreatedAt = createdAt.UTC()
	return acc, nil
}
