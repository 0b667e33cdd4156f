package lookup

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteStore is the default, file-backed document index.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStore opens (and if needed creates) the index database.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./inkpad.db"
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("lookup: failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("lookup: failed to connect: %w", err)
	}
	s := &SQLiteStore{db: db, dbPath: dbPath}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) ensureSchema() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS documents (
		doc_id TEXT PRIMARY KEY,
		title  TEXT NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("lookup: failed to create schema: %w", err)
	}
	return nil
}

// Search matches titles case-insensitively by substring.
func (s *SQLiteStore) Search(ctx context.Context, query string, limit int) ([]Record, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc_id, title FROM documents
		 WHERE lower(title) LIKE '%' || lower(?) || '%'
		 ORDER BY length(title), title LIMIT ?`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("lookup: search failed: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// Get returns the record for a document ID.
func (s *SQLiteStore) Get(ctx context.Context, docID string) (Record, error) {
	var rec Record
	err := s.db.QueryRowContext(ctx,
		`SELECT doc_id, title FROM documents WHERE doc_id = ?`, docID).
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
func (s *SQLiteStore) Put(ctx context.Context, rec Record) error {
	if rec.DocID == "" || rec.Title == "" {
		return fmt.Errorf("lookup: docId and title are required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (doc_id, title) VALUES (?, ?)
		 ON CONFLICT(doc_id) DO UPDATE SET title = excluded.title`,
		rec.DocID, rec.Title)
	if err != nil {
		return fmt.Errorf("lookup: put failed: %w", err)
	}
	return nil
}

// Rename updates the title of an existing document.
func (s *SQLiteStore) Rename(ctx context.Context, docID, title string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET title = ? WHERE doc_id = ?`, title, docID)
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
func (s *SQLiteStore) Delete(ctx context.Context, docID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE doc_id = ?`, docID)
	if err != nil {
		return fmt.Errorf("lookup: delete failed: %w", err)
	}
	return nil
}

// Close releases the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.DocID, &rec.Title); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
