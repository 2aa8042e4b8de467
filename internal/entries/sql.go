package entries

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/gophjournal/internal/common"
	"github.com/dmitrijs2005/gophjournal/internal/dbx"
	"github.com/dmitrijs2005/gophjournal/internal/migrations"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

type queries struct {
	insertEntry string
	insertMeta  string
	selectEntry string
	selectMeta  string
	listEntries string
	listMeta    string
	deleteMeta  string
	deleteEntry string
}

var sqliteQueries = queries{
	insertEntry: `INSERT INTO entries (id, tag_id, ciphertext, nonce, wrapped_key, key_nonce, encryption_level, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
	insertMeta:  `INSERT INTO entry_metadata (entry_id, key, value) VALUES (?, ?, ?)`,
	selectEntry: `SELECT id, tag_id, ciphertext, nonce, wrapped_key, key_nonce, encryption_level, created_at FROM entries WHERE id = ?`,
	selectMeta:  `SELECT entry_id, key, value FROM entry_metadata WHERE entry_id = ?`,
	listEntries: `SELECT id, tag_id, ciphertext, nonce, wrapped_key, key_nonce, encryption_level, created_at FROM entries
		WHERE tag_id = ? ORDER BY created_at, id`,
	listMeta: `SELECT m.entry_id, m.key, m.value FROM entry_metadata m
		JOIN entries e ON e.id = m.entry_id WHERE e.tag_id = ?`,
	deleteMeta:  `DELETE FROM entry_metadata WHERE entry_id = ?`,
	deleteEntry: `DELETE FROM entries WHERE id = ?`,
}

var postgresQueries = queries{
	insertEntry: `INSERT INTO entries (id, tag_id, ciphertext, nonce, wrapped_key, key_nonce, encryption_level, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
	insertMeta:  `INSERT INTO entry_metadata (entry_id, key, value) VALUES ($1, $2, $3)`,
	selectEntry: `SELECT id, tag_id, ciphertext, nonce, wrapped_key, key_nonce, encryption_level, created_at FROM entries WHERE id = $1`,
	selectMeta:  `SELECT entry_id, key, value FROM entry_metadata WHERE entry_id = $1`,
	listEntries: `SELECT id, tag_id, ciphertext, nonce, wrapped_key, key_nonce, encryption_level, created_at FROM entries
		WHERE tag_id = $1 ORDER BY created_at, id`,
	listMeta: `SELECT m.entry_id, m.key, m.value FROM entry_metadata m
		JOIN entries e ON e.id = m.entry_id WHERE e.tag_id = $1`,
	deleteMeta:  `DELETE FROM entry_metadata WHERE entry_id = $1`,
	deleteEntry: `DELETE FROM entries WHERE id = $1`,
}

// SQLRepository stores entries in two tables, entries and entry_metadata,
// over any database/sql driver. Writes touching both tables run in one
// transaction.
type SQLRepository struct {
	db *sql.DB
	q  queries
}

// NewSQLiteRepository expects the sqlite migrations to be applied.
func NewSQLiteRepository(db *sql.DB) *SQLRepository {
	return &SQLRepository{db: db, q: sqliteQueries}
}

// NewPostgresRepository expects the postgres migrations to be applied.
func NewPostgresRepository(db *sql.DB) *SQLRepository {
	return &SQLRepository{db: db, q: postgresQueries}
}

// OpenSQL opens dsn with the driver for backend ("sqlite" or "postgres"),
// applies migrations and returns the repository.
func OpenSQL(ctx context.Context, backend, dsn string) (*SQLRepository, error) {
	var (
		driver string
		newRep func(*sql.DB) *SQLRepository
	)
	switch backend {
	case "sqlite":
		driver, newRep = "sqlite", NewSQLiteRepository
	case "postgres":
		driver, newRep = "pgx", NewPostgresRepository
	default:
		return nil, fmt.Errorf("unsupported sql backend %q", backend)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	if backend == "sqlite" {
		db.SetMaxOpenConns(1)
	}

	if err := migrations.Up(ctx, db, backend); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migration error: %w", err)
	}
	return newRep(db), nil
}

func (r *SQLRepository) Close() error {
	return r.db.Close()
}

func (r *SQLRepository) Save(ctx context.Context, e *Entry) error {
	return dbx.WithTx(ctx, r.db, func(ctx context.Context, tx dbx.DBTX) error {
		_, err := tx.ExecContext(ctx, r.q.insertEntry,
			e.ID, e.TagID, e.Ciphertext, e.Nonce, e.WrappedKey, e.KeyNonce, e.EncryptionLevel, e.CreatedAt.UnixNano())
		if err != nil {
			return fmt.Errorf("failed to insert entry: %w", err)
		}
		for _, k := range e.Metadata.sortedKeys() {
			if _, err := tx.ExecContext(ctx, r.q.insertMeta, e.ID, k, e.Metadata[k]); err != nil {
				return fmt.Errorf("failed to insert entry metadata: %w", err)
			}
		}
		return nil
	})
}

func (r *SQLRepository) Get(ctx context.Context, id string) (*Entry, error) {
	e, err := scanEntry(r.db.QueryRowContext(ctx, r.q.selectEntry, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("entry %s: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query row scan failed: %w", err)
	}

	meta, err := r.metadata(ctx, r.q.selectMeta, id)
	if err != nil {
		return nil, err
	}
	e.Metadata = meta[id]
	return e, nil
}

func (r *SQLRepository) ListByTag(ctx context.Context, tagID string) ([]*Entry, error) {
	rows, err := r.db.QueryContext(ctx, r.q.listEntries, tagID)
	if err != nil {
		return nil, fmt.Errorf("failed to select entries: %w", err)
	}
	defer rows.Close()

	var result []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return nil, nil
	}

	meta, err := r.metadata(ctx, r.q.listMeta, tagID)
	if err != nil {
		return nil, err
	}
	for _, e := range result {
		e.Metadata = meta[e.ID]
	}
	return result, nil
}

func (r *SQLRepository) Delete(ctx context.Context, id string) error {
	return dbx.WithTx(ctx, r.db, func(ctx context.Context, tx dbx.DBTX) error {
		if _, err := tx.ExecContext(ctx, r.q.deleteMeta, id); err != nil {
			return fmt.Errorf("failed to delete entry metadata: %w", err)
		}
		res, err := tx.ExecContext(ctx, r.q.deleteEntry, id)
		if err != nil {
			return fmt.Errorf("failed to delete entry: %w", err)
		}
		if err := dbx.ExpectAffected(res); err != nil {
			return fmt.Errorf("entry %s: %w", id, err)
		}
		return nil
	})
}

func (r *SQLRepository) metadata(ctx context.Context, query string, arg string) (map[string]Metadata, error) {
	rows, err := r.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to select entry metadata: %w", err)
	}
	defer rows.Close()

	out := make(map[string]Metadata)
	for rows.Next() {
		var entryID, k, v string
		if err := rows.Scan(&entryID, &k, &v); err != nil {
			return nil, err
		}
		if out[entryID] == nil {
			out[entryID] = make(Metadata)
		}
		out[entryID][k] = v
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (*Entry, error) {
	var (
		e       Entry
		created int64
	)
	if err := s.Scan(&e.ID, &e.TagID, &e.Ciphertext, &e.Nonce, &e.WrappedKey, &e.KeyNonce, &e.EncryptionLevel, &created); err != nil {
		return nil, err
	}
	e.CreatedAt = time.Unix(0, created).UTC()
	return &e, nil
}
