package account

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/la-ruche/keyserver/internal/infra"
)

func TestPostgresEnsureReturnsStoredRow(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	existing := uuid.New()
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO app_user")).
		WithArgs(pgxmock.AnyArg(), "alice", pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id", "username", "created_at"}).AddRow(existing, "alice", created))

	repo := NewPostgresRepository(mock)
	acc, err := repo.Ensure(context.Background(), Account{ID: uuid.NewString(), Username: "alice", CreatedAt: time.Now()})
	require.NoError(t, err)
	assert.Equal(t, existing.String(), acc.ID)
	assert.Equal(t, created, acc.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresFindByUsernameNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(regexp.QuoteMeta("FROM app_user WHERE username = $1")).
		WithArgs("ghost").
		WillReturnError(pgx.ErrNoRows)

	repo := NewPostgresRepository(mock)
	_, err = repo.FindByUsername(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresFailureIsStoreUnavailable(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id := uuid.New()
	mock.ExpectQuery(regexp.QuoteMeta("FROM app_user WHERE id = $1")).
		WithArgs(id).
		WillReturnError(errors.New("connection reset by peer"))

	repo := NewPostgresRepository(mock)
	_, err = repo.FindByID(context.Background(), id.String())
	assert.ErrorIs(t, err, infra.ErrStoreUnavailable)
}

func TestPostgresFindByMalformedIDIsNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewPostgresRepository(mock)
	_, err = repo.FindByID(context.Background(), "not-a-uuid")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
