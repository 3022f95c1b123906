package agentconfig

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Store reads agent configuration records.
//
// Contract:
//   - Concurrency: implementations must be safe for concurrent use.
//   - Latest returns the most recently updated record for the pair, or an
//     error wrapping ErrConfigNotFound.
type Store interface {
	Latest(ctx context.Context, agentType, scope string) (StoredRecord, error)
}

// Dialect selects SQL placeholder style and DDL.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// DefaultTable is the table SQLStore reads and writes.
const DefaultTable = "agent_configs"

// SQLStore is a Store over database/sql.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	table   string
	tags    VersionTags
	now     func() time.Time
}

// StoreOption configures a SQLStore.
type StoreOption func(*SQLStore)

// WithTable overrides the table name.
func WithTable(name string) StoreOption {
	return func(s *SQLStore) {
		if name != "" {
			s.table = name
		}
	}
}

// WithVersionTags bumps tags after every Put.
func WithVersionTags(tags VersionTags) StoreOption {
	return func(s *SQLStore) {
		s.tags = tags
	}
}

// WithNow overrides the clock used for timestamps.
func WithNow(now func() time.Time) StoreOption {
	return func(s *SQLStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewSQLStore wraps an open database.
func NewSQLStore(db *sql.DB, dialect Dialect, opts ...StoreOption) (*SQLStore, error) {
	if db == nil {
		return nil, ErrNilDB
	}
	switch dialect {
	case DialectPostgres, DialectSQLite:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDialect, dialect)
	}
	s := &SQLStore{
		db:      db,
		dialect: dialect,
		table:   DefaultTable,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// OpenSQLStore opens and pings a database. driver is "postgres" or "sqlite".
func OpenSQLStore(ctx context.Context, driver, dsn string, opts ...StoreOption) (*SQLStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("agentconfig: dsn is required")
	}
	dialect := Dialect(driver)
	switch dialect {
	case DialectPostgres, DialectSQLite:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDialect, driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dialect == DialectPostgres {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return NewSQLStore(db, dialect, opts...)
}

// DB returns the underlying database.
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

// Close releases database resources.
func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Migrate creates the table and index if missing.
func (s *SQLStore) Migrate(ctx context.Context) error {
	ts := "TIMESTAMP"
	if s.dialect == DialectPostgres {
		ts = "TIMESTAMPTZ"
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ` + s.table + ` (
			id TEXT PRIMARY KEY,
			agent_type TEXT NOT NULL,
			scope TEXT NOT NULL,
			model TEXT NOT NULL,
			parameters TEXT NOT NULL,
			version_id BIGINT NOT NULL,
			created_at ` + ts + ` NOT NULL,
			updated_at ` + ts + ` NOT NULL,
			UNIQUE (agent_type, scope, version_id)
		)`,
		`CREATE INDEX IF NOT EXISTS ` + s.table + `_latest_idx ON ` + s.table + ` (agent_type, scope, updated_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Latest implements Store.
func (s *SQLStore) Latest(ctx context.Context, agentType, scope string) (StoredRecord, error) {
	row := s.db.QueryRowContext(ctx, s.bind(`
		SELECT id, agent_type, scope, model, parameters, version_id, created_at, updated_at
		FROM `+s.table+`
		WHERE agent_type = ? AND scope = ?
		ORDER BY updated_at DESC, version_id DESC
		LIMIT 1`), agentType, scope)

	var (
		rec    StoredRecord
		params []byte
	)
	err := row.Scan(&rec.ID, &rec.AgentType, &rec.Scope, &rec.Model, &params, &rec.VersionID, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return StoredRecord{}, fmt.Errorf("%w: %s/%s", ErrConfigNotFound, agentType, scope)
	}
	if err != nil {
		return StoredRecord{}, fmt.Errorf("get latest config: %w", err)
	}
	rec.Parameters = params
	return rec, nil
}

// Put inserts d as the next version of its (agentType, scope) and bumps the
// version tag when one is configured. An empty scope means GlobalScope.
func (s *SQLStore) Put(ctx context.Context, d Draft) (StoredRecord, error) {
	if strings.TrimSpace(d.AgentType) == "" {
		return StoredRecord{}, ErrEmptyAgentType
	}
	if d.Scope == "" {
		d.Scope = GlobalScope
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return StoredRecord{}, fmt.Errorf("begin put: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current int64
	err = tx.QueryRowContext(ctx, s.bind(`
		SELECT COALESCE(MAX(version_id), 0) FROM `+s.table+`
		WHERE agent_type = ? AND scope = ?`), d.AgentType, d.Scope).Scan(&current)
	if err != nil {
		return StoredRecord{}, fmt.Errorf("read version: %w", err)
	}

	now := s.now().UTC()
	rec := StoredRecord{
		ID:         uuid.NewString(),
		AgentType:  d.AgentType,
		Scope:      d.Scope,
		Model:      d.Model,
		Parameters: d.Parameters,
		VersionID:  current + 1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	_, err = tx.ExecContext(ctx, s.bind(`
		INSERT INTO `+s.table+` (id, agent_type, scope, model, parameters, version_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		rec.ID, rec.AgentType, rec.Scope, rec.Model, string(rec.Parameters), rec.VersionID, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return StoredRecord{}, fmt.Errorf("insert config: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return StoredRecord{}, fmt.Errorf("commit put: %w", err)
	}

	if s.tags != nil {
		if _, err := s.tags.Bump(ctx, rec.AgentType, rec.Scope); err != nil {
			return rec, fmt.Errorf("bump version tag: %w", err)
		}
	}
	return rec, nil
}

// bind rewrites ? placeholders to $n for postgres.
func (s *SQLStore) bind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

var _ Store = (*SQLStore)(nil)
