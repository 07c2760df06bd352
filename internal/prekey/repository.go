package prekey

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/la-ruche/keyserver/internal/infra"
)

// Repository persists one-time prekeys.
type Repository interface {
	// Insert stores keys for a device, ignoring key ids the device already has.
	// It returns the number of rows actually inserted.
	Insert(ctx context.Context, accountID, deviceID string, keys []PrekeyInput) (int, error)
	// Claim atomically marks the lowest unused prekey of the device as used and
	// returns it. ok is false when the device has no unused prekey.
	Claim(ctx context.Context, deviceID string) (key OneTimePrekey, ok bool, err error)
	// CountUnused returns how many prekeys of the device are still unused.
	CountUnused(ctx context.Context, deviceID string) (int, error)
	// HasAny reports whether the device ever published a prekey.
	HasAny(ctx context.Context, deviceID string) (bool, error)
}

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db infra.DB
}

// NewPostgresRepository builds a Postgres-backed prekey repository.
func NewPostgresRepository(db infra.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const insertSQL = `INSERT INTO prekey (device_id, user_id, key_id, pubkey)
SELECT $1, $2, k.key_id, k.pubkey
FROM unnest($3::bigint[], $4::bytea[]) AS k(key_id, pubkey)
ON CONFLICT (device_id, key_id) DO NOTHING`

// claimSQL flips exactly one row in a single statement. SKIP LOCKED lets
// concurrent claimers move on to the next key instead of queueing.
const claimSQL = `UPDATE prekey SET used = true, claimed_at = now()
WHERE device_id = $1
  AND used = false
  AND key_id = (
    SELECT key_id FROM prekey
    WHERE device_id = $1 AND used = false
    ORDER BY key_id
    LIMIT 1
    FOR UPDATE SKIP LOCKED
  )
RETURNING key_id, pubkey`

func (r *PostgresRepository) Insert(ctx context.Context, accountID, deviceID string, keys []PrekeyInput) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	dev, err := uuid.Parse(deviceID)
	if err != nil {
		return 0, err
	}
	owner, err := uuid.Parse(accountID)
	if err != nil {
		return 0, err
	}
	ids := make([]int64, len(keys))
	pubs := make([][]byte, len(keys))
	for i, k := range keys {
		ids[i] = int64(k.KeyID)
		pubs[i] = k.PublicKey
	}
	cmd, err := r.db.Exec(ctx, insertSQL, dev, owner, ids, pubs)
	if err != nil {
		return 0, infra.Unavailable("insert prekeys", err)
	}
	return int(cmd.RowsAffected()), nil
}

func (r *PostgresRepository) Claim(ctx context.Context, deviceID string) (OneTimePrekey, bool, error) {
	dev, err := uuid.Parse(deviceID)
	if err != nil {
		return OneTimePrekey{}, false, nil
	}
	var (
		keyID int64
		pub   []byte
	)
	if err := r.db.QueryRow(ctx, claimSQL, dev).Scan(&keyID, &pub); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return OneTimePrekey{}, false, nil
		}
		return OneTimePrekey{}, false, infra.Unavailable("claim prekey", err)
	}
	return OneTimePrekey{DeviceID: deviceID, KeyID: uint32(keyID), PublicKey: pub, Used: true}, true, nil
}

func (r *PostgresRepository) CountUnused(ctx context.Context, deviceID string) (int, error) {
	dev, err := uuid.Parse(deviceID)
	if err != nil {
		return 0, nil
	}
	var n int
	if err := r.db.QueryRow(ctx, `SELECT count(*) FROM prekey WHERE device_id = $1 AND used = false`, dev).Scan(&n); err != nil {
		return 0, infra.Unavailable("count prekeys", err)
	}
	return n, nil
}

func (r *PostgresRepository) HasAny(ctx context.Context, deviceID string) (bool, error) {
	dev, err := uuid.Parse(deviceID)
	if err != nil {
		return false, nil
	}
	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM prekey WHERE device_id = $1)`, dev).Scan(&exists); err != nil {
		return false, infra.Unavailable("check prekeys", err)
	}
	return exists, nil
}
