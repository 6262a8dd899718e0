package collection

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteRepository stores records in a SQLite database
type SQLiteRepository struct {
	conn *sql.DB
	mu   sync.RWMutex
}

// NewSQLiteRepository opens (or creates) the database at dbPath and migrates the schema
func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	conn, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	r := &SQLiteRepository{conn: conn}
	if err := r.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return r, nil
}

func (r *SQLiteRepository) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS artworks (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		url TEXT NOT NULL,
		thumbnail_url TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT '',
		checksum TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_artworks_created_at ON artworks(created_at);
	CREATE INDEX IF NOT EXISTS idx_artworks_user_id ON artworks(user_id);
	`

	_, err := r.conn.Exec(schema)
	return err
}

// Insert implements Repository
func (r *SQLiteRepository) Insert(ctx context.Context, a *Artwork) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.conn.ExecContext(ctx, `
		INSERT OR REPLACE INTO artworks (id, user_id, url, thumbnail_url, name, category, checksum, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.UserID, a.URL, a.ThumbnailURL, a.Name, a.Category, a.Checksum, a.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to insert artwork: %w", err)
	}
	return nil
}

// Get implements Repository
func (r *SQLiteRepository) Get(ctx context.Context, id string) (*Artwork, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	row := r.conn.QueryRowContext(ctx, `
		SELECT id, user_id, url, thumbnail_url, name, category, checksum, created_at
		FROM artworks WHERE id = ?
	`, id)

	a, err := scanArtwork(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get artwork: %w", err)
	}
	return a, nil
}

// List implements Repository
func (r *SQLiteRepository) List(ctx context.Context, limit int) ([]Artwork, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rows, err := r.conn.QueryContext(ctx, `
		SELECT id, user_id, url, thumbnail_url, name, category, checksum, created_at
		FROM artworks ORDER BY created_at DESC, id ASC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list artworks: %w", err)
	}
	defer rows.Close()

	items := []Artwork{}
	for rows.Next() {
		a, err := scanArtwork(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan artwork: %w", err)
		}
		items = append(items, *a)
	}
	return items, rows.Err()
}

// Close implements Repository
func (r *SQLiteRepository) Close() error {
	return r.conn.Close()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanArtwork(s scanner) (*Artwork, error) {
	var a Artwork
	var created int64
	if err := s.Scan(&a.ID, &a.UserID, &a.URL, &a.ThumbnailURL, &a.Name, &a.Category, &a.Checksum, &created); err != nil {
		return nil, err
	}
	a.CreatedAt = time.Unix(0, created).UTC()
	return &a, nil
}

var _ Repository = (*SQLiteRepository)(nil)
