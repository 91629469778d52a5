package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrSlugTaken reports a unique violation on (owner, slug). The database
// constraint is the authoritative collision signal; the sync engine's
// pre-flight SlugExists probe is only a fast path.
var ErrSlugTaken = errors.New("slug already in use")

// ErrNotFound reports a root document that does not exist.
var ErrNotFound = errors.New("document not found")

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// InsertDocument creates the root record and returns the assigned id.
func (s *PostgresStore) InsertDocument(ctx context.Context, rec DocumentRecord) (string, error) {
	const query = `
		INSERT INTO documents (
			owner, kind, title, slug, layout, is_public,
			full_name, headline, email, phone, location, website, summary,
			hero_title, hero_tagline, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, NOW())
		RETURNING id
	`
	var id string
	err := s.db.QueryRowContext(ctx, query,
		rec.Owner, rec.Kind, rec.Title, rec.Slug, rec.Layout, rec.Public,
		rec.FullName, rec.Headline, rec.Email, rec.Phone, rec.Location, rec.Website, rec.Summary,
		rec.HeroTitle, rec.HeroTagline,
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return "", ErrSlugTaken
		}
		return "", fmt.Errorf("insert document: %w", err)
	}
	return id, nil
}

// SlugExists reports whether the owner already has a document at slug.
func (s *PostgresStore) SlugExists(ctx context.Context, owner, slug string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM documents WHERE owner=$1 AND slug=$2)`,
		owner, slug,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check slug: %w", err)
	}
	return exists, nil
}

// UpdateDocument replaces every scalar field of the root record. The WHERE
// clause is scoped to the owner, so an update aimed at someone else's
// document touches zero rows and reports ErrNotFound.
func (s *PostgresStore) UpdateDocument(ctx context.Context, rec DocumentRecord) error {
	const query = `
		UPDATE documents SET
			title=$2, slug=$3, layout=$4, is_public=$5,
			full_name=$6, headline=$7, email=$8, phone=$9, location=$10,
			website=$11, summary=$12, hero_title=$13, hero_tagline=$14,
			updated_at=NOW()
		WHERE id=$1 AND owner=$15
	`
	result, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.Title, rec.Slug, rec.Layout, rec.Public,
		rec.FullName, rec.Headline, rec.Email, rec.Phone, rec.Location,
		rec.Website, rec.Summary, rec.HeroTitle, rec.HeroTagline,
		rec.Owner,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrSlugTaken
		}
		return fmt.Errorf("update document: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// ReplaceSections swaps a CV's entire child tree in one transaction:
// delete all sections (items cascade), re-insert everything in order.
// Either the new tree lands completely or the old one stays intact.
func (s *PostgresStore) ReplaceSections(ctx context.Context, documentID string, sections []SectionRecord, items []ItemRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace sections: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM sections WHERE document_id=$1`, documentID); err != nil {
		return fmt.Errorf("delete sections: %w", err)
	}
	for _, section := range sections {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sections (id, document_id, type, title, sort_order, is_visible)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, section.ID, documentID, section.Type, section.Title, section.SortOrder, section.Visible); err != nil {
			return fmt.Errorf("insert section %s: %w", section.ID, err)
		}
	}
	for _, item := range items {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO section_items (id, section_id, sort_order, fields)
			VALUES ($1, $2, $3, $4)
		`, item.ID, item.SectionID, item.SortOrder, item.Fields); err != nil {
			return fmt.Errorf("insert item %s: %w", item.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace sections: %w", err)
	}
	return nil
}

// ReplaceBlocks is ReplaceSections for portfolio documents.
func (s *PostgresStore) ReplaceBlocks(ctx context.Context, documentID string, blocks []BlockRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace blocks: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM blocks WHERE document_id=$1`, documentID); err != nil {
		return fmt.Errorf("delete blocks: %w", err)
	}
	for _, block := range blocks {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO blocks (id, document_id, type, title, sort_order, is_visible, content)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, block.ID, documentID, block.Type, block.Title, block.SortOrder, block.Visible, block.Content); err != nil {
			return fmt.Errorf("insert block %s: %w", block.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace blocks: %w", err)
	}
	return nil
}

// InsertSection inserts one child row; used by the create path, where a
// failed child is logged and skipped rather than aborting the save.
func (s *PostgresStore) InsertSection(ctx context.Context, rec SectionRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sections (id, document_id, type, title, sort_order, is_visible)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, rec.ID, rec.DocumentID, rec.Type, rec.Title, rec.SortOrder, rec.Visible)
	if err != nil {
		return fmt.Errorf("insert section: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertItem(ctx context.Context, rec ItemRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO section_items (id, section_id, sort_order, fields)
		VALUES ($1, $2, $3, $4)
	`, rec.ID, rec.SectionID, rec.SortOrder, rec.Fields)
	if err != nil {
		return fmt.Errorf("insert item: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertBlock(ctx context.Context, rec BlockRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO blocks (id, document_id, type, title, sort_order, is_visible, content)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, rec.ID, rec.DocumentID, rec.Type, rec.Title, rec.SortOrder, rec.Visible, rec.Content)
	if err != nil {
		return fmt.Errorf("insert block: %w", err)
	}
	return nil
}

const documentColumns = `
	id, owner, kind, title, slug, layout, is_public,
	full_name, headline, email, phone, location, website, summary,
	hero_title, hero_tagline, updated_at
`

func scanDocument(row interface{ Scan(...any) error }) (DocumentRecord, error) {
	var rec DocumentRecord
	err := row.Scan(
		&rec.ID, &rec.Owner, &rec.Kind, &rec.Title, &rec.Slug, &rec.Layout, &rec.Public,
		&rec.FullName, &rec.Headline, &rec.Email, &rec.Phone, &rec.Location, &rec.Website, &rec.Summary,
		&rec.HeroTitle, &rec.HeroTagline, &rec.UpdatedAt,
	)
	return rec, err
}

func (s *PostgresStore) GetDocument(ctx context.Context, id string) (DocumentRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id=$1`, id)
	rec, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return DocumentRecord{}, ErrNotFound
	}
	if err != nil {
		return DocumentRecord{}, fmt.Errorf("get document: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) ListDocuments(ctx context.Context, owner string) ([]DocumentRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE owner=$1 ORDER BY updated_at DESC`,
		owner,
	)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var records []DocumentRecord
	for rows.Next() {
		rec, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return records, nil
}

func (s *PostgresStore) LoadSections(ctx context.Context, documentID string) ([]SectionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, type, title, sort_order, is_visible
		FROM sections WHERE document_id=$1 ORDER BY sort_order
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("load sections: %w", err)
	}
	defer rows.Close()

	var records []SectionRecord
	for rows.Next() {
		var rec SectionRecord
		if err := rows.Scan(&rec.ID, &rec.DocumentID, &rec.Type, &rec.Title, &rec.SortOrder, &rec.Visible); err != nil {
			return nil, fmt.Errorf("scan section: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sections: %w", err)
	}
	return records, nil
}

// LoadItems returns every item of a document, grouped by section through
// the join, ordered for direct assembly into the in-memory model.
func (s *PostgresStore) LoadItems(ctx context.Context, documentID string) ([]ItemRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT i.id, i.section_id, i.sort_order, i.fields
		FROM section_items i
		JOIN sections sec ON sec.id = i.section_id
		WHERE sec.document_id=$1
		ORDER BY sec.sort_order, i.sort_order
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("load items: %w", err)
	}
	defer rows.Close()

	var records []ItemRecord
	for rows.Next() {
		var rec ItemRecord
		if err := rows.Scan(&rec.ID, &rec.SectionID, &rec.SortOrder, &rec.Fields); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate items: %w", err)
	}
	return records, nil
}

func (s *PostgresStore) LoadBlocks(ctx context.Context, documentID string) ([]BlockRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, type, title, sort_order, is_visible, content
		FROM blocks WHERE document_id=$1 ORDER BY sort_order
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("load blocks: %w", err)
	}
	defer rows.Close()

	var records []BlockRecord
	for rows.Next() {
		var rec BlockRecord
		if err := rows.Scan(&rec.ID, &rec.DocumentID, &rec.Type, &rec.Title, &rec.SortOrder, &rec.Visible, &rec.Content); err != nil {
			return nil, fmt.Errorf("scan block: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate blocks: %w", err)
	}
	return records, nil
}

func (s *PostgresStore) DeleteDocument(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id=$1`, id); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
