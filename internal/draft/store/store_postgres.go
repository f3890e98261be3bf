package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"intake/internal/draft/models"
	id "intake/pkg/domain"
	"intake/pkg/platform/sentinel"
)

// PostgresStore persists drafts in the form_drafts table with a JSONB payload.
// A save never replaces a row holding a newer snapshot.
type PostgresStore struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
}

type PostgresOption func(*PostgresStore)

func WithPostgresNow(now func() time.Time) PostgresOption {
	return func(s *PostgresStore) {
		if now != nil {
			s.now = now
		}
	}
}

func NewPostgres(db *sql.DB, ttl time.Duration, opts ...PostgresOption) *PostgresStore {
	s := &PostgresStore{db: db, ttl: ttlOrDefault(ttl), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *PostgresStore) Load(ctx context.Context, key models.Key) (*models.Snapshot, error) {
	var raw []byte
	var savedAt time.Time
	err := s.db.QueryRowContext(ctx, `
		SELECT data, saved_at FROM form_drafts
		WHERE owner_id = $1 AND form = $2 AND (expires_at IS NULL OR expires_at > $3)`,
		key.OwnerID.String(), key.Form, s.now(),
	).Scan(&raw, &savedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load draft: %w", err)
	}
	snap := &models.Snapshot{Key: key, SavedAt: savedAt}
	if err := json.Unmarshal(raw, &snap.Data); err != nil {
		return nil, fmt.Errorf("decode draft: %w", err)
	}
	return snap, nil
}

func (s *PostgresStore) Save(ctx context.Context, snap *models.Snapshot) error {
	data, err := json.Marshal(snap.Data)
	if err != nil {
		return fmt.Errorf("marshal draft: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO form_drafts (owner_id, form, data, saved_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (owner_id, form) DO UPDATE SET
			data = EXCLUDED.data,
			saved_at = EXCLUDED.saved_at,
			expires_at = EXCLUDED.expires_at
		WHERE form_drafts.saved_at <= EXCLUDED.saved_at`,
		snap.Key.OwnerID.String(), snap.Key.Form, data, snap.SavedAt, s.now().Add(s.ttl),
	)
	if err != nil {
		return fmt.Errorf("save draft: %w", err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, key models.Key) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM form_drafts WHERE owner_id = $1 AND form = $2`,
		key.OwnerID.String(), key.Form)
	if err != nil {
		return fmt.Errorf("delete draft: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteOwner(ctx context.Context, owner id.UserID) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM form_drafts WHERE owner_id = $1`, owner.String())
	if err != nil {
		return 0, fmt.Errorf("purge owner drafts: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// DeleteExpired removes rows whose TTL elapsed.
func (s *PostgresStore) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM form_drafts WHERE expires_at < $1`, s.now())
	if err != nil {
		return 0, fmt.Errorf("delete expired drafts: %w", err)
	}
	return res.RowsAffected()
}
