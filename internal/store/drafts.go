package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

const draftColumns = `id, user_id, title, content, description, status, mode, version, deleted_at, created_at, updated_at`

func scanDraft(row rowScanner) (Draft, error) {
	var item Draft
	err := row.Scan(
		&item.ID,
		&item.UserID,
		&item.Title,
		&item.Content,
		&item.Description,
		&item.Status,
		&item.Mode,
		&item.Version,
		&item.DeletedAt,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	return item, err
}

func (s *PostgresStore) ListDrafts(ctx context.Context, ownerID string) ([]Draft, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+draftColumns+`
		FROM drafts
		WHERE user_id = $1 AND status <> 'deleted'
		ORDER BY updated_at DESC
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list drafts: %w", err)
	}
	defer rows.Close()

	items := make([]Draft, 0)
	for rows.Next() {
		item, err := scanDraft(rows)
		if err != nil {
			return nil, fmt.Errorf("scan draft: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate drafts: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetDraft(ctx context.Context, ownerID, draftID string) (Draft, error) {
	item, err := scanDraft(s.db.QueryRowContext(ctx, `
		SELECT `+draftColumns+`
		FROM drafts
		WHERE id = $1 AND user_id = $2 AND status <> 'deleted'
	`, draftID, ownerID))
	if errors.Is(err, sql.ErrNoRows) {
		return Draft{}, ErrNotFound
	}
	if err != nil {
		return Draft{}, fmt.Errorf("get draft: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) CreateDraft(ctx context.Context, ownerID string, in DraftInput) (Draft, error) {
	status := valueOr(in.Status, DraftStatusDraft)
	item, err := scanDraft(s.db.QueryRowContext(ctx, `
		INSERT INTO drafts (user_id, title, content, description, status, mode, deleted_at)
		VALUES ($1, $2, $3, $4, $5, $6, CASE WHEN $5 = 'deleted' THEN NOW() END)
		RETURNING `+draftColumns,
		ownerID,
		valueOr(in.Title, DefaultDraftTitle),
		valueOr(in.Content, ""),
		valueOr(in.Description, ""),
		status,
		valueOr(in.Mode, ""),
	))
	if err != nil {
		return Draft{}, fmt.Errorf("insert draft: %w", err)
	}
	return item, nil
}

// UpdateDraft applies the set fields of patch to a draft owned by ownerID.
// The owner predicate lives in the WHERE clause, so another owner's draft is
// reported as ErrNotFound. So is a deleted draft, unless the patch sets status.
func (s *PostgresStore) UpdateDraft(ctx context.Context, ownerID, draftID string, patch DraftPatch) (Draft, error) {
	if patch.Empty() {
		return Draft{}, ErrNoFields
	}

	sets := make([]string, 0, 8)
	args := make([]any, 0, 8)
	set := func(column string, value string) int {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
		return len(args)
	}
	if patch.Title != nil {
		set("title", *patch.Title)
	}
	if patch.Content != nil {
		set("content", *patch.Content)
	}
	if patch.Description != nil {
		set("description", *patch.Description)
	}
	if patch.Mode != nil {
		set("mode", *patch.Mode)
	}
	if patch.Status != nil {
		n := set("status", *patch.Status)
		sets = append(sets, fmt.Sprintf("deleted_at = CASE WHEN $%d = 'deleted' THEN COALESCE(deleted_at, NOW()) ELSE NULL END", n))
	}
	sets = append(sets, "updated_at = NOW()", "version = version + 1")

	args = append(args, draftID, ownerID)
	where := fmt.Sprintf("id = $%d AND user_id = $%d", len(args)-1, len(args))
	if patch.Version != nil {
		args = append(args, *patch.Version)
		where += fmt.Sprintf(" AND version = $%d", len(args))
	}
	// A deleted draft only accepts a status change (restore).
	live := ""
	if patch.Status == nil {
		live = " AND status <> 'deleted'"
	}
	where += live

	query := "UPDATE drafts SET " + strings.Join(sets, ", ") + " WHERE " + where + " RETURNING " + draftColumns
	item, err := scanDraft(s.db.QueryRowContext(ctx, query, args...))
	if err == nil {
		return item, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Draft{}, fmt.Errorf("update draft: %w", err)
	}
	if patch.Version == nil {
		return Draft{}, ErrNotFound
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM drafts WHERE id = $1 AND user_id = $2`+live+`)
	`, draftID, ownerID).Scan(&exists); err != nil {
		return Draft{}, fmt.Errorf("check draft version: %w", err)
	}
	if exists {
		return Draft{}, ErrVersionConflict
	}
	return Draft{}, ErrNotFound
}

// SoftDeleteDraft marks a draft deleted and reports whether a row changed.
// Deleting an already deleted, missing or foreign draft is a successful no-op.
func (s *PostgresStore) SoftDeleteDraft(ctx context.Context, ownerID, draftID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE drafts
		SET status = 'deleted', deleted_at = NOW(), updated_at = NOW(), version = version + 1
		WHERE id = $1 AND user_id = $2 AND status <> 'deleted'
	`, draftID, ownerID)
	if err != nil {
		return false, fmt.Errorf("soft delete draft: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("soft delete draft: %w", err)
	}
	return n > 0, nil
}

func valueOr(value *string, fallback string) string {
	if value == nil {
		return fallback
	}
	return *value
}
