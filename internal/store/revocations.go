package store

import (
	"context"
	"fmt"
	"time"
)

// RevokeSession adds a token hash to the denylist until expiresAt.
func (s *PostgresStore) RevokeSession(ctx context.Context, tokenHash string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_sessions (token_hash, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (token_hash) DO NOTHING
	`, tokenHash, expiresAt)
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsSessionRevoked(ctx context.Context, tokenHash string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM revoked_sessions WHERE token_hash = $1 AND expires_at > NOW())
	`, tokenHash).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked session: %w", err)
	}
	return revoked, nil
}

// PruneRevokedSessions drops denylist entries whose tokens have expired anyway.
func (s *PostgresStore) PruneRevokedSessions(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM revoked_sessions WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, fmt.Errorf("prune revoked sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune revoked sessions: %w", err)
	}
	return n, nil
}
