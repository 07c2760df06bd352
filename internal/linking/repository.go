package linking

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/la-ruche/keyserver/internal/infra"
)

// ErrEventNotFound is returned when no open audit event matches a token.
var ErrEventNotFound = errors.New("link event not found")

// AuditRepository records link attempts.
type AuditRepository interface {
	Record(ctx context.Context, e Event) error
	// MarkCompleted stamps the open event for token. It returns
	// ErrEventNotFound when there is none.
	MarkCompleted(ctx context.Context, token string, at time.Time) error
}

// PostgresAuditRepository implements AuditRepository using PostgreSQL.
type PostgresAuditRepository struct {
	db infra.DB
}

func NewPostgresAuditRepository(db infra.DB) *PostgresAuditRepository {
	return &PostgresAuditRepository{db: db}
}

func (r *PostgresAuditRepository) Record(ctx context.Context, e Event) error {
	owner, err := uuid.Parse(e.AccountID)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `INSERT INTO device_link_event (user_id, token, sas, created_at) VALUES ($1, $2, $3, $4)`,
		owner, e.Token, e.SAS, e.CreatedAt.UTC())
	return infra.Unavailable("record link event", err)
}

func (r *PostgresAuditRepository) MarkCompleted(ctx context.Context, token string, at time.Time) error {
	cmd, err := r.db.Exec(ctx, `UPDATE device_link_event SET completed_at = $2 WHERE token = $1 AND completed_at IS NULL`,
		token, at.UTC())
	if err != nil {
		return infra.Unavailable("complete link event", err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrEventNotFound
	}
	return nil
}

type memoryAuditRepository struct {
	mu     sync.Mutex
	events map[string]Event
}

// NewMemoryAuditRepository builds an in-memory audit trail.
func NewMemoryAuditRepository() AuditRepository {
	return &memoryAuditRepository{events: make(map[string]Event)}
}

func (r *memoryAuditRepository) Record(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[e.Token] = e
	return nil
}

func (r *memoryAuditRepository) MarkCompleted(_ context.Context, token string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.events[token]
	if !ok || e.CompletedAt != nil {
		return ErrEventNotFound
	}
	completed := at.UTC()
	e.CompletedAt = &completed
	r.events[token] = e
	return nil
}
