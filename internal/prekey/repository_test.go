package prekey

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/la-ruche/keyserver/internal/infra"
)

func TestPostgresClaimReturnsClaimedKey(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	dev := uuid.New()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE SKIP LOCKED")).
		WithArgs(dev).
		WillReturnRows(pgxmock.NewRows([]string{"key_id", "pubkey"}).AddRow(int64(7), []byte("otk")))

	repo := NewPostgresRepository(mock)
	key, ok, err := repo.Claim(context.Background(), dev.String())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint32(7), key.KeyID)
	assert.Equal(t, []byte("otk"), key.PublicKey)
	assert.True(t, key.Used)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresClaimExhausted(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	dev := uuid.New()
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE prekey SET used = true")).
		WithArgs(dev).
		WillReturnError(pgx.ErrNoRows)

	repo := NewPostgresRepository(mock)
	_, ok, err := repo.Claim(context.Background(), dev.String())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPostgresClaimFailureIsStoreUnavailable(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	dev := uuid.New()
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE prekey")).
		WithArgs(dev).
		WillReturnError(errors.New("server closed the connection"))

	repo := NewPostgresRepository(mock)
	_, _, err = repo.Claim(context.Background(), dev.String())
	assert.ErrorIs(t, err, infra.ErrStoreUnavailable)
}

func TestPostgresInsertIgnoresConflicts(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	dev, owner := uuid.New(), uuid.New()
	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (device_id, key_id) DO NOTHING")).
		WithArgs(dev, owner, []int64{1, 2}, [][]byte{[]byte("a"), []byte("b")}).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	repo := NewPostgresRepository(mock)
	n, err := repo.Insert(context.Background(), owner.String(), dev.String(), []PrekeyInput{
		{KeyID: 1, PublicKey: []byte("a")},
		{KeyID: 2, PublicKey: []byte("b")},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
