package search

import (
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS searches documents via PostgreSQL full-text search, ranking by
// ts_rank over the generated fts column.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Search executes a ranked query scoped to the owner.
func (p *PgFTS) Search(q Query) ([]Record, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT id, owner, kind, title, slug, headline, updated_at
		FROM documents
		WHERE owner = $1 AND fts @@ plainto_tsquery('english', $2)
	`
	args := []any{q.Owner, q.Text}
	if q.Kind != "" {
		query += ` AND kind = $3`
		args = append(args, q.Kind)
	}
	query += fmt.Sprintf(` ORDER BY ts_rank(fts, plainto_tsquery('english', $2)) DESC LIMIT %d`, limit)

	rows, err := p.db.Query(query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.Owner, &rec.Kind, &rec.Title, &rec.Slug, &rec.Headline, &rec.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("pgfts iterate: %w", err)
	}
	return results, len(results), nil
}
