package passkey

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/la-ruche/keyserver/internal/infra"
)

const uniqueViolation = "23505"

// Repository persists passkey credentials.
type Repository interface {
	Create(ctx context.Context, c Credential) error
	ListByAccount(ctx context.Context, accountID string) ([]Credential, error)
	FindByID(ctx context.Context, id []byte) (Credential, error)
	// AdvanceCounter stores counter only if it is strictly greater than the
	// stored value. It reports whether the row was updated.
	AdvanceCounter(ctx context.Context, id []byte, counter uint32, backupState bool, usedAt time.Time) (bool, error)
}

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db infra.DB
}

// NewPostgresRepository builds a Postgres-backed credential repository.
func NewPostgresRepository(db infra.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const credentialColumns = `credential_id, user_id, public_key, counter, attestation_type, transports,
	aaguid, backup_eligible, backup_state, created_at, last_used_at`

func (r *PostgresRepository) Create(ctx context.Context, c Credential) error {
	owner, err := uuid.Parse(c.AccountID)
	if err != nil {
		return err
	}
	transports := c.Transports
	if transports == nil {
		transports = []string{}
	}
	_, err = r.db.Exec(ctx, `INSERT INTO webauthn_credential (`+credentialColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		c.ID, owner, c.PublicKey, int64(c.Counter), c.AttestationType, transports,
		c.AAGUID, c.BackupEligible, c.BackupState, c.CreatedAt.UTC(), c.LastUsedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrCredentialExists
		}
		return infra.Unavailable("create credential", err)
	}
	return nil
}

func (r *PostgresRepository) ListByAccount(ctx context.Context, accountID string) ([]Credential, error) {
	owner, err := uuid.Parse(accountID)
	if err != nil {
		return nil, nil
	}
	rows, err := r.db.Query(ctx, `SELECT `+credentialColumns+` FROM webauthn_credential
		WHERE user_id = $1 ORDER BY created_at`, owner)
	if err != nil {
		return nil, infra.Unavailable("list credentials", err)
	}
	defer rows.Close()

	var out []Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, infra.Unavailable("list credentials", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, infra.Unavailable("list credentials", err)
	}
	return out, nil
}

func (r *PostgresRepository) FindByID(ctx context.Context, id []byte) (Credential, error) {
	row := r.db.QueryRow(ctx, `SELECT `+credentialColumns+` FROM webauthn_credential WHERE credential_id = $1`, id)
	c, err := scanCredential(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Credential{}, ErrCredentialNotFound
	}
	if err != nil {
		return Credential{}, infra.Unavailable("find credential", err)
	}
	return c, nil
}

func (r *PostgresRepository) AdvanceCounter(ctx context.Context, id []byte, counter uint32, backupState bool, usedAt time.Time) (bool, error) {
	cmd, err := r.db.Exec(ctx, `UPDATE webauthn_credential
		SET counter = $2, backup_state = $3, last_used_at = $4
		WHERE credential_id = $1 AND counter < $2`,
		id, int64(counter), backupState, usedAt.UTC())
	if err != nil {
		return false, infra.Unavailable("advance credential counter", err)
	}
	return cmd.RowsAffected() == 1, nil
}

func scanCredential(row pgx.Row) (Credential, error) {
	var (
		c         Credential
		owner     uuid.UUID
		counter   int64
		createdAt time.Time
		lastUsed  *time.Time
	)
	if err := row.Scan(&c.ID, &owner, &c.PublicKey, &counter, &c.AttestationType, &c.Transports,
		&c.AAGUID, &c.BackupEligible, &c.BackupState, &createdAt, &lastUsed); err != nil {
		return Credential{}, err
	}
	c.AccountID = owner.String()
	c.Counter = uint32(counter)
	c.CreatedAt = createdAt.UTC()
	if lastUsed != nil {
		used := lastUsed.UTC()
		c.LastUsedAt = &used
	}
	return c, nil
}
