package device

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/la-ruche/keyserver/internal/infra"
)

// Repository persists devices.
type Repository interface {
	Create(ctx context.Context, d Device) error
	// ListByAccount returns the account's devices, newest first.
	ListByAccount(ctx context.Context, accountID string) ([]Device, error)
	// PublishKeys overwrites the key material of a device owned by accountID
	// and bumps its last-seen time. It returns ErrNotFound when no such device
	// exists for the account.
	PublishKeys(ctx context.Context, accountID, deviceID string, keys *PublishedKeys, seenAt time.Time) error
	// ListKeyed returns up to limit devices with key material, oldest first.
	ListKeyed(ctx context.Context, accountID string, limit int) ([]Device, error)
}

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db infra.DB
}

// NewPostgresRepository builds a Postgres-backed device repository.
func NewPostgresRepository(db infra.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const deviceColumns = `id, user_id, name, verified, identity_pub, spk_pub, spk_sig, created_at, last_seen`

func (r *PostgresRepository) Create(ctx context.Context, d Device) error {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return err
	}
	accountID, err := uuid.Parse(d.AccountID)
	if err != nil {
		return err
	}
	var identityPub, spkPub, spkSig []byte
	if d.Keys != nil {
		identityPub, spkPub, spkSig = d.Keys.identityPub, d.Keys.signedPrekeyPub, d.Keys.signedPrekeySig
	}
	_, err = r.db.Exec(ctx, `INSERT INTO device (`+deviceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		id, accountID, d.Name, d.Verified, identityPub, spkPub, spkSig, d.CreatedAt.UTC(), d.LastSeen)
	return infra.Unavailable("create device", err)
}

func (r *PostgresRepository) ListByAccount(ctx context.Context, accountID string) ([]Device, error) {
	owner, err := uuid.Parse(accountID)
	if err != nil {
		return nil, nil
	}
	rows, err := r.db.Query(ctx, `SELECT `+deviceColumns+` FROM device
		WHERE user_id = $1 ORDER BY created_at DESC, id`, owner)
	if err != nil {
		return nil, infra.Unavailable("list devices", err)
	}
	return collect(rows, "list devices")
}

func (r *PostgresRepository) PublishKeys(ctx context.Context, accountID, deviceID string, keys *PublishedKeys, seenAt time.Time) error {
	if keys == nil {
		return ErrInvalidKeys
	}
	owner, err := uuid.Parse(accountID)
	if err != nil {
		return ErrNotFound
	}
	id, err := uuid.Parse(deviceID)
	if err != nil {
		return ErrNotFound
	}
	cmd, err := r.db.Exec(ctx, `UPDATE device
		SET identity_pub = $3, spk_pub = $4, spk_sig = $5, last_seen = $6
		WHERE id = $1 AND user_id = $2`,
		id, owner, keys.identityPub, keys.signedPrekeyPub, keys.signedPrekeySig, seenAt.UTC())
	if err != nil {
		return infra.Unavailable("publish device keys", err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) ListKeyed(ctx context.Context, accountID string, limit int) ([]Device, error) {
	owner, err := uuid.Parse(accountID)
	if err != nil {
		return nil, nil
	}
	rows, err := r.db.Query(ctx, `SELECT `+deviceColumns+` FROM device
		WHERE user_id = $1 AND identity_pub IS NOT NULL
		ORDER BY created_at ASC, id
		LIMIT $2`, owner, limit)
	if err != nil {
		return nil, infra.Unavailable("list keyed devices", err)
	}
	return collect(rows, "list keyed devices")
}

func collect(rows pgx.Rows, op string) ([]Device, error) {
	defer rows.Close()
	var out []Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, infra.Unavailable(op, err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, infra.Unavailable(op, err)
	}
	return out, nil
}

func scanDevice(row pgx.Row) (Device, error) {
	var (
		id, owner                   uuid.UUID
		identityPub, spkPub, spkSig []byte
		createdAt                   time.Time
		lastSeen                    *time.Time
		d                           Device
	)
	if err := row.Scan(&id, &owner, &d.Name, &d.Verified, &identityPub, &spkPub, &spkSig, &createdAt, &lastSeen); err != nil {
		return Device{}, err
	}
	d.ID = id.String()
	d.AccountID = owner.String()
	d.CreatedAt = createdAt.UTC()
	if lastSeen != nil {
		seen := lastSeen.UTC()
		d.LastSeen = &seen
	}
	if identityPub != nil {
		keys, err := NewPublishedKeys(identityPub, spkPub, spkSig)
		if err != nil {
			return Device{}, err
		}
		d.Keys = keys
	}
	return d, nil
}
