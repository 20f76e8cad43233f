package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using the generated drafts.fts column.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search ranks the owner's live drafts with plainto_tsquery over the 'simple'
// configuration, which works for both Tamil and English text.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" || q.OwnerID == "" {
		return nil, 0, nil
	}
	q = normalize(q)

	const where = `user_id = $2 AND status <> 'deleted' AND fts @@ plainto_tsquery('simple', $1)`

	var total int
	if err := p.db.QueryRowContext(ctx, `SELECT count(*) FROM drafts WHERE `+where, q.Text, q.OwnerID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}
	if total == 0 {
		return nil, 0, nil
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT id, title,
			ts_headline('simple', coalesce(description, '') || ' ' || coalesce(content, ''),
				plainto_tsquery('simple', $1), 'MaxFragments=1,MaxWords=30') AS snippet
		FROM drafts
		WHERE `+where+`
		ORDER BY ts_rank(fts, plainto_tsquery('simple', $1)) DESC, updated_at DESC
		LIMIT $3 OFFSET $4
	`, q.Text, q.OwnerID, q.Limit, q.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.Title, &r.Snippet); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords returns every live draft for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]DraftRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, user_id, title, description, content, status, updated_at
		FROM drafts
		WHERE status <> 'deleted'
	`)
	if err != nil {
		return nil, fmt.Errorf("load drafts: %w", err)
	}
	defer rows.Close()

	records := make([]DraftRecord, 0)
	for rows.Next() {
		var d DraftRecord
		var updated sql.NullTime
		if err := rows.Scan(&d.ID, &d.UserID, &d.Title, &d.Description, &d.Content, &d.Status, &updated); err != nil {
			return nil, fmt.Errorf("scan draft: %w", err)
		}
		if updated.Valid {
			d.UpdatedAt = updated.Time.UnixMilli()
		}
		records = append(records, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate drafts: %w", err)
	}
	return records, nil
}
