package lookup

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// PostgresStore backs the document index with PostgreSQL, for deployments
// that already run one behind the collaboration backend.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore connects to the database at dsn.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("lookup: postgres requires a DSN (set store.dsn or DATABASE_URL)")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("lookup: failed to open database: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("lookup: failed to connect: %w", err)
	}
	s := &PostgresStore{db: db}
	if err := s.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS documents (
		doc_id TEXT PRIMARY KEY,
		title  TEXT NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("lookup: failed to create schema: %w", err)
	}
	return nil
}

// Search matches titles case-insensitively by substring.
func (s *PostgresStore) Search(ctx context.Context, query string, limit int) ([]Record, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc_id, title FROM documents
		 WHERE title ILIKE '%' || $1 || '%'
		 ORDER BY length(title), title LIMIT $2`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("lookup: search failed: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// Get returns the record for a document ID.
func (s *PostgresStore) Get(ctx context.Context, docID string) (Record, error) {
	var rec Record
	err := s.db.QueryRowContext(ctx,
		`SELECT doc_id, title FROM documents WHERE doc_id = $1`, docID).
		Scan(&rec.DocID, &rec.Title)
	if err == sql.ErrNoRows {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, docID)
	}
	if err != nil {
		return Record{}, fmt.Errorf("lookup: get failed: %w", err)
	}
	return rec, nil
}

// Put inserts or replaces a record.
func (s *PostgresStore) Put(ctx context.Context, rec Record) error {
	if rec.DocID == "" || rec.Title == "" {
		return fmt.Errorf("lookup: docId and title are required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (doc_id, title) VALUES ($1, $2)
		 ON CONFLICT (doc_id) DO UPDATE SET title = EXCLUDED.title`,
		rec.DocID, rec.Title)
	if err != nil {
		return fmt.Errorf("lookup: put failed: %w", err)
	}
	return nil
}

// Rename updates the title of an existing document.
func (s *PostgresStore) Rename(ctx context.Context, docID, title string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET title = $1 WHERE doc_id = $2`, title, docID)
	if err != nil {
		return fmt.Errorf("lookup: rename failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, docID)
	}
	return nil
}

// Delete removes a document from the index.
func (s *PostgresStore) Delete(ctx context.Context, docID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE doc_id = $1`, docID)
	if err != nil {
		return fmt.Errorf("lookup: delete failed: %w", err)
	}
	return nil
}

// Close releases the database.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
