package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const (
	defaultBusyTimeout = 5000
	postsTable         = "posts"
)

func init() {
	// sqlx only knows the cgo driver name; modernc registers itself as "sqlite".
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// Store wraps the SQLite handle holding submitted items.
type Store struct {
	db *sqlx.DB
}

// Item is one submitted photo and its comment.
type Item struct {
	ID        int64     `db:"id" json:"id"`
	Timestamp time.Time `db:"timestamp" json:"timestamp"`
	Comment   string    `db:"comment" json:"comment"`
	Name      string    `db:"name" json:"name"`
}

// ErrNameTaken is returned when an item's storage name is already in use.
var ErrNameTaken = errors.New("storage name already taken")

// NewStore opens the SQLite database at the provided path. Call Close when done.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = "slideshow.sqlite"
	}
	db, err := sqlx.Open("sqlite", buildDSN(path))
	if err != nil {
		return nil, err
	}
	// One writer keeps modernc from reporting SQLITE_BUSY under concurrent uploads;
	// WAL lets the broadcaster read a committed snapshot meanwhile.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if !isMemoryPath(path) {
		if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("enable WAL mode: %w", err)
		}
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
	return fmt.Sprintf("%s%s_pragma=busy_timeout=%d", path, separator, defaultBusyTimeout)
}

func isMemoryPath(path string) bool {
	return strings.Contains(path, ":memory:") || strings.Contains(path, "mode=memory")
}

// Migrate runs the schema creation statements.
func (s *Store) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS posts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp DATETIME NOT NULL,
			comment TEXT NOT NULL DEFAULT '',
			name TEXT NOT NULL UNIQUE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_posts_timestamp ON posts(timestamp);`,
	}
	tx, err := s.db.BeginTxx(ctx, nil)
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

// Insert stores a new item and fills in its ID. ErrNameTaken is returned when
// the storage name collides with an existing row.
func (s *Store) Insert(ctx context.Context, item *Item) error {
	query, args, err := sq.Insert(postsTable).
		Columns("timestamp", "comment", "name").
		Values(item.Timestamp.UTC(), item.Comment, item.Name).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrNameTaken
		}
		return err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	item.ID = id
	return nil
}

// All returns every stored item ordered by id.
func (s *Store) All(ctx context.Context) ([]Item, error) {
	query, args, err := sq.Select("id", "timestamp", "comment", "name").
		From(postsTable).
		OrderBy("id ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}
	var items []Item
	if err := s.db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, err
	}
	return items, nil
}

// Count reports how many items are stored.
func (s *Store) Count(ctx context.Context) (int, error) {
	query, args, err := sq.Select("COUNT(1)").From(postsTable).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count: %w", err)
	}
	var count int
	if err := s.db.GetContext(ctx, &count, query, args...); err != nil {
		return 0, err
	}
	return count, nil
}

// MaxID returns the highest assigned id. ok is false when the store is empty.
func (s *Store) MaxID(ctx context.Context) (id int64, ok bool, err error) {
	query, args, err := sq.Select("MAX(id)").From(postsTable).ToSql()
	if err != nil {
		return 0, false, fmt.Errorf("build max id: %w", err)
	}
	var maxID sql.NullInt64
	if err := s.db.GetContext(ctx, &maxID, query, args...); err != nil {
		return 0, false, err
	}
	return maxID.Int64, maxID.Valid, nil
}

// DeleteUpTo removes every item whose id is in [1, maxID] and reports how
// many rows were removed.
func (s *Store) DeleteUpTo(ctx context.Context, maxID int64) (int64, error) {
	query, args, err := sq.Delete(postsTable).
		Where(sq.And{sq.GtOrEq{"id": 1}, sq.LtOrEq{"id": maxID}}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build delete: %w", err)
	}
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// modernc enables extended result codes, so a unique index violation is
// told apart from NOT NULL or CHECK failures.
func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return false
}
