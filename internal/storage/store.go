package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sqlite "modernc.org/sqlite"
)

const (
	sqliteConstraintCode = 19
	defaultBusyTimeout   = 5000
)

// Store wraps the SQLite handle and exposes helper methods used by the server.
type Store struct {
	db *sql.DB
}

// Snippet represents a row in the snippets table. Tags are stored as a JSON
// array in a TEXT column.
type Snippet struct {
	ID          string
	Title       string
	Description string
	Language    string
	Code        string
	Tags        []string
	AuthorID    string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// SnippetUpdate is a sparse patch: nil pointers leave the column untouched.
type SnippetUpdate struct {
	Title       *string
	Description *string
	Language    *string
	Code        *string
	Tags        *[]string
}

// ErrNotFound is returned when a snippet or share code does not exist.
var ErrNotFound = errors.New("not found")

// ErrCodeTaken is returned when attempting to mint a duplicate share code.
var ErrCodeTaken = errors.New("share code already taken")

// NewStore initializes the SQLite database at the provided path. Call Close when done.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = "codeshare.db"
	}
	dsn := buildDSN(path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", defaultBusyTimeout)); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying DB connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func buildDSN(path string) string {
	switch {
	case strings.HasPrefix(path, "sqlite://"):
		path = path[len("sqlite://"):]
	case strings.HasPrefix(path, "file:"), strings.HasPrefix(path, ":memory:"):
		// already in a form sqlite understands
	default:
		path = "file:" + path
	}
	separator := "?"
	if strings.Contains(path, "?") {
		separator = "&"
	}
	return fmt.Sprintf("%s%s_pragma=busy_timeout=%d&_pragma=foreign_keys=ON", path, separator, defaultBusyTimeout)
}

// Migrate runs the schema creation statements.
func (s *Store) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS snippets (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			language TEXT NOT NULL DEFAULT '',
			code TEXT NOT NULL DEFAULT '',
			tags TEXT NOT NULL DEFAULT '[]',
			author_id TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE INDEX IF NOT EXISTS idx_snippets_author ON snippets(author_id);`,
		`CREATE TABLE IF NOT EXISTS share_codes (
			code TEXT PRIMARY KEY,
			snippet_id TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY(snippet_id) REFERENCES snippets(id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_share_codes_snippet ON share_codes(snippet_id);`,
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	for _, stmt := range statements {
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// CreateSnippet inserts a new snippet row.
func (s *Store) CreateSnippet(ctx context.Context, snippet Snippet) error {
	tags, err := encodeTags(snippet.Tags)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO snippets(id, title, description, language, code, tags, author_id)
		VALUES(?, ?, ?, ?, ?, ?, ?)
	`, snippet.ID, snippet.Title, snippet.Description, snippet.Language, snippet.Code, tags, snippet.AuthorID)
	if err != nil && isConstraintError(err) {
		return fmt.Errorf("snippet %s: %w", snippet.ID, ErrCodeTaken)
	}
	return err
}

// GetSnippet fetches a snippet by id.
func (s *Store) GetSnippet(ctx context.Context, id string) (*Snippet, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, description, language, code, tags, author_id, created_at, updated_at
		FROM snippets WHERE id = ?
	`, id)
	return scanSnippet(row)
}

// UpdateSnippet applies a sparse patch and returns the updated row.
func (s *Store) UpdateSnippet(ctx context.Context, id string, update SnippetUpdate) (*Snippet, error) {
	sets := make([]string, 0, 6)
	args := make([]any, 0, 7)
	if update.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, *update.Title)
	}
	if update.Description != nil {
		sets = append(sets, "description = ?")
		args = append(args, *update.Description)
	}
	if update.Language != nil {
		sets = append(sets, "language = ?")
		args = append(args, *update.Language)
	}
	if update.Code != nil {
		sets = append(sets, "code = ?")
		args = append(args, *update.Code)
	}
	if update.Tags != nil {
		tags, err := encodeTags(*update.Tags)
		if err != nil {
			return nil, err
		}
		sets = append(sets, "tags = ?")
		args = append(args, tags)
	}
	if len(sets) == 0 {
		return s.GetSnippet(ctx, id)
	}
	sets = append(sets, "updated_at = CURRENT_TIMESTAMP")
	args = append(args, id)
	query := fmt.Sprintf("UPDATE snippets SET %s WHERE id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, fmt.Errorf("snippet %s: %w", id, ErrNotFound)
	}
	return s.GetSnippet(ctx, id)
}

// DeleteSnippet removes the snippet and, through the cascade, its share codes.
func (s *Store) DeleteSnippet(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM snippets WHERE id = ?`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("snippet %s: %w", id, ErrNotFound)
	}
	return nil
}

// ListSnippetsByAuthor returns an author's snippets, most recently updated first.
func (s *Store) ListSnippetsByAuthor(ctx context.Context, authorID string) ([]Snippet, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, description, language, code, tags, author_id, created_at, updated_at
		FROM snippets WHERE author_id = ?
		ORDER BY updated_at DESC
	`, authorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snippets []Snippet
	for rows.Next() {
		var snippet Snippet
		var tags string
		if err := rows.Scan(&snippet.ID, &snippet.Title, &snippet.Description, &snippet.Language,
			&snippet.Code, &tags, &snippet.AuthorID, &snippet.CreatedAt, &snippet.UpdatedAt); err != nil {
			return nil, err
		}
		if err := decodeTags(tags, &snippet.Tags); err != nil {
			return nil, err
		}
		snippets = append(snippets, snippet)
	}
	return snippets, rows.Err()
}

// CreateShareCode binds a code to a snippet. ErrCodeTaken on collisions so
// the caller can mint another.
func (s *Store) CreateShareCode(ctx context.Context, code, snippetID string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO share_codes(code, snippet_id) VALUES(?, ?)`, code, snippetID)
	if err != nil && isConstraintError(err) {
		return fmt.Errorf("code %s: %w", code, ErrCodeTaken)
	}
	return err
}

// ResolveShareCode returns the snippet a share code points at.
func (s *Store) ResolveShareCode(ctx context.Context, code string) (*Snippet, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT sn.id, sn.title, sn.description, sn.language, sn.code, sn.tags, sn.author_id, sn.created_at, sn.updated_at
		FROM share_codes sc
		JOIN snippets sn ON sn.id = sc.snippet_id
		WHERE sc.code = ?
	`, code)
	return scanSnippet(row)
}

// ShareCodeFor returns the first share code minted for a snippet, if any.
func (s *Store) ShareCodeFor(ctx context.Context, snippetID string) (string, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT code FROM share_codes WHERE snippet_id = ? ORDER BY created_at ASC LIMIT 1
	`, snippetID)
	var code string
	if err := row.Scan(&code); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return code, nil
}

func scanSnippet(row *sql.Row) (*Snippet, error) {
	var snippet Snippet
	var tags string
	err := row.Scan(&snippet.ID, &snippet.Title, &snippet.Description, &snippet.Language,
		&snippet.Code, &tags, &snippet.AuthorID, &snippet.CreatedAt, &snippet.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := decodeTags(tags, &snippet.Tags); err != nil {
		return nil, err
	}
	return &snippet, nil
}

func encodeTags(tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	raw, err := json.Marshal(tags)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func decodeTags(raw string, out *[]string) error {
	if raw == "" {
		*out = nil
		return nil
	}
	return json.Unmarshal([]byte(raw), out)
}

func isConstraintError(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		// Code() returns the extended result code; the primary code is its low byte.
		return sqliteErr.Code()&0xff == sqliteConstraintCode
	}
	return false
}
