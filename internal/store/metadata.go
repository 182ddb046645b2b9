package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/scriptorium/scriptorium/internal/authority"
)

// maxBatchParams bounds the number of bound parameters per SQLite query.
const maxBatchParams = 500

// SQLiteMetadataStore persists passage metadata and collection tiers.
// GetByIDs is the hot path: a single batch join per enrichment call.
type SQLiteMetadataStore struct {
	db *sql.DB
}

const metadataSchema = `
CREATE TABLE IF NOT EXISTS collections (
	name      TEXT PRIMARY KEY,
	tradition TEXT NOT NULL DEFAULT '',
	tier      INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS passages (
	id            TEXT PRIMARY KEY,
	document_id   TEXT NOT NULL,
	title         TEXT NOT NULL DEFAULT '',
	author        TEXT NOT NULL DEFAULT '',
	tradition     TEXT NOT NULL DEFAULT '',
	collection    TEXT NOT NULL DEFAULT '',
	language      TEXT NOT NULL DEFAULT '',
	locator       TEXT NOT NULL DEFAULT '',
	date          INTEGER NOT NULL DEFAULT 0,
	tier_override INTEGER,
	text          TEXT NOT NULL DEFAULT '',
	created_at    INTEGER NOT NULL,
	updated_at    INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_passages_collection ON passages(collection);
CREATE INDEX IF NOT EXISTS idx_passages_document ON passages(document_id);
`

// NewSQLiteMetadataStore opens (or creates) the metadata database at path.
// Use ":memory:" for an in-memory store in tests.
func NewSQLiteMetadataStore(path string) (*SQLiteMetadataStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open metadata database: %w", err)
	}

	// Single connection avoids table-lock races under modernc/sqlite.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(metadataSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply metadata schema: %w", err)
	}

	return &SQLiteMetadataStore{db: db}, nil
}

// SavePassages upserts passage metadata records.
func (s *SQLiteMetadataStore) SavePassages(ctx context.Context, passages []*Passage) error {
	if len(passages) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO passages (id, document_id, title, author, tradition, collection,
			language, locator, date, tier_override, text, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			document_id = excluded.document_id,
			title = excluded.title,
			author = excluded.author,
			tradition = excluded.tradition,
			collection = excluded.collection,
			language = excluded.language,
			locator = excluded.locator,
			date = excluded.date,
			tier_override = excluded.tier_override,
			text = excluded.text,
			updated_at = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for _, p := range passages {
		var override any
		if p.TierOverride != nil {
			override = int(*p.TierOverride)
		}
		if _, err := stmt.ExecContext(ctx,
			p.ID, p.DocumentID, p.Title, p.Author, p.Tradition, p.Collection,
			p.Language, p.Locator, p.Date.Unix(), override, p.Text, now, now,
		); err != nil {
			return fmt.Errorf("upsert passage %s: %w", p.ID, err)
		}
	}

	return tx.Commit()
}

// SetCollectionTier records a collection's configured authority tier.
func (s *SQLiteMetadataStore) SetCollectionTier(ctx context.Context, name, tradition string, tier authority.Tier) error {
	if !tier.Valid() {
		return fmt.Errorf("invalid tier %d for collection %q", tier, name)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO collections (name, tradition, tier) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET tradition = excluded.tradition, tier = excluded.tier`,
		name, tradition, int(tier))
	if err != nil {
		return fmt.Errorf("set collection tier: %w", err)
	}
	return nil
}

// ReloadCollectionTiers replaces all configured collection tiers in one
// transaction. Used by the re-tier watcher when the tier file changes.
func (s *SQLiteMetadataStore) ReloadCollectionTiers(ctx context.Context, tiers map[string]authority.Tier) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	for name, tier := range tiers {
		if !tier.Valid() {
			return fmt.Errorf("invalid tier %d for collection %q", tier, name)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO collections (name, tier) VALUES (?, ?)
			ON CONFLICT(name) DO UPDATE SET tier = excluded.tier`,
			name, int(tier)); err != nil {
			return fmt.Errorf("reload tier for %q: %w", name, err)
		}
	}

	return tx.Commit()
}

// GetByIDs returns passages for the given identifiers with their
// collection tiers joined in. Missing identifiers are absent from the
// result, never an error.
func (s *SQLiteMetadataStore) GetByIDs(ctx context.Context, ids []string) ([]*Passage, error) {
	if len(ids) == 0 {
		return []*Passage{}, nil
	}

	passages := make([]*Passage, 0, len(ids))
	for start := 0; start < len(ids); start += maxBatchParams {
		end := start + maxBatchParams
		if end > len(ids) {
			end = len(ids)
		}
		batch, err := s.getBatch(ctx, ids[start:end])
		if err != nil {
			return nil, err
		}
		passages = append(passages, batch...)
	}

	return passages, nil
}

func (s *SQLiteMetadataStore) getBatch(ctx context.Context, ids []string) ([]*Passage, error) {
	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT p.id, p.document_id, p.title, p.author, p.tradition, p.collection,
			p.language, p.locator, p.date, p.tier_override, p.text,
			COALESCE(c.tier, 1), p.created_at, p.updated_at
		FROM passages p
		LEFT JOIN collections c ON c.name = p.collection
		WHERE p.id IN (%s)`, placeholders), args...)
	if err != nil {
		return nil, fmt.Errorf("batch passage lookup: %w", err)
	}
	defer rows.Close()

	var passages []*Passage
	for rows.Next() {
		var (
			p         Passage
			date      int64
			override  sql.NullInt64
			colTier   int
			createdAt int64
			updatedAt int64
		)
		if err := rows.Scan(&p.ID, &p.DocumentID, &p.Title, &p.Author, &p.Tradition,
			&p.Collection, &p.Language, &p.Locator, &date, &override, &p.Text,
			&colTier, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan passage row: %w", err)
		}

		p.Date = time.Unix(date, 0).UTC()
		p.CollectionTier = authority.Tier(colTier)
		if override.Valid {
			tier := authority.Tier(override.Int64)
			p.TierOverride = &tier
		}
		p.CreatedAt = time.Unix(createdAt, 0).UTC()
		p.UpdatedAt = time.Unix(updatedAt, 0).UTC()

		passages = append(passages, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate passage rows: %w", err)
	}

	return passages, nil
}

// DeletePassages removes passages by ID.
func (s *SQLiteMetadataStore) DeletePassages(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	for start := 0; start < len(ids); start += maxBatchParams {
		end := start + maxBatchParams
		if end > len(ids) {
			end = len(ids)
		}
		batch := ids[start:end]

		placeholders := strings.Repeat("?,", len(batch))
		placeholders = placeholders[:len(placeholders)-1]
		args := make([]any, len(batch))
		for i, id := range batch {
			args[i] = id
		}

		if _, err := s.db.ExecContext(ctx,
			fmt.Sprintf("DELETE FROM passages WHERE id IN (%s)", placeholders), args...); err != nil {
			return fmt.Errorf("delete passages: %w", err)
		}
	}

	return nil
}

// PassageCount returns the number of stored passages.
func (s *SQLiteMetadataStore) PassageCount(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM passages").Scan(&count); err != nil {
		return 0, fmt.Errorf("count passages: %w", err)
	}
	return count, nil
}

// Close releases the database handle.
func (s *SQLiteMetadataStore) Close() error {
	return s.db.Close()
}
