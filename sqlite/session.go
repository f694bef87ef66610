// Package sqlite implements the execution collaborator on SQLite: it runs
// assembled statements through sqlx, coerces driver values back to declared
// column types and folds joined rows into nested entities.
package sqlite

import (
	"context"
	"fmt"
	"sort"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/asaidimu/go-queryset/core/model"
	"github.com/asaidimu/go-queryset/core/query"
)

// runner is satisfied by both *sqlx.DB and *sqlx.Tx, so statements run the
// same way inside and outside a transaction.
type runner interface {
	QueryxContext(ctx context.Context, query string, args ...any) (*sqlx.Rows, error)
	QueryRowxContext(ctx context.Context, query string, args ...any) *sqlx.Row
}

// Session is a database handle with an optional open transaction. It
// implements queryset.Executor.
type Session struct {
	db       *sqlx.DB
	tx       *sqlx.Tx
	registry *model.Registry
	logger   *zap.Logger
}

// Open connects to a SQLite database and wraps it in a session.
func Open(dsn string, registry *model.Registry, logger *zap.Logger) (*Session, error) {
	db, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	return NewSession(db, registry, logger), nil
}

// NewSession wraps an existing database handle.
func NewSession(db *sqlx.DB, registry *model.Registry, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{db: db, registry: registry, logger: logger}
}

// DB exposes the underlying handle.
func (s *Session) DB() *sqlx.DB { return s.db }

// Close closes the underlying handle, rolling back any open transaction.
func (s *Session) Close() error {
	if s.tx != nil {
		if err := s.tx.Rollback(); err != nil {
			s.logger.Warn("rollback on close failed", zap.Error(err))
		}
		s.tx = nil
	}
	return s.db.Close()
}

// Begin opens a transaction; subsequent statements run inside it until
// Commit or Rollback.
func (s *Session) Begin(ctx context.Context) error {
	if s.tx != nil {
		return fmt.Errorf("transaction already open")
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	s.tx = tx
	return nil
}

// Commit commits the open transaction.
func (s *Session) Commit() error {
	if s.tx == nil {
		return fmt.Errorf("no open transaction")
	}
	err := s.tx.Commit()
	s.tx = nil
	return err
}

// Rollback discards the open transaction.
func (s *Session) Rollback() error {
	if s.tx == nil {
		return fmt.Errorf("no open transaction")
	}
	err := s.tx.Rollback()
	s.tx = nil
	return err
}

func (s *Session) runner() runner {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

func (s *Session) queryRows(ctx context.Context, sqlText string, args []any) ([]map[string]any, error) {
	rows, err := s.runner().QueryxContext(ctx, sqlText, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var out []map[string]any
	for rows.Next() {
		row := make(map[string]any)
		if err := rows.MapScan(row); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration failed: %w", err)
	}
	return out, nil
}

// Select runs a select statement and assembles its rows into entities.
func (s *Session) Select(ctx context.Context, stmt *query.Statement) ([]model.Entity, error) {
	raw, err := s.queryRows(ctx, stmt.SQL, stmt.Args)
	if err != nil {
		return nil, err
	}
	types := columnTypes(s.registry, stmt)
	rows := make([]map[string]any, len(raw))
	for i, row := range raw {
		rows[i] = normalizeRow(s.logger, row, types)
	}
	return assembleEntities(stmt, rows), nil
}

// Scalar runs a statement expected to yield a single value.
func (s *Session) Scalar(ctx context.Context, stmt *query.Statement) (any, error) {
	var value any
	if err := s.runner().QueryRowxContext(ctx, stmt.SQL, stmt.Args...).Scan(&value); err != nil {
		return nil, fmt.Errorf("scalar query failed: %w", err)
	}
	return value, nil
}

// Mutate runs an update or delete and returns its RETURNING rows.
func (s *Session) Mutate(ctx context.Context, stmt *query.Statement) ([]model.Entity, error) {
	raw, err := s.queryRows(ctx, stmt.SQL, stmt.Args)
	if err != nil {
		return nil, err
	}
	types := columnTypes(s.registry, stmt)
	entities := make([]model.Entity, len(raw))
	for i, row := range raw {
		entities[i] = model.Entity(normalizeRow(s.logger, row, types))
	}
	s.applyIntent(stmt)
	return entities, nil
}

// Insert writes rows for a model and returns the stored entities in input
// order. Rows may omit columns; absent columns insert as NULL so the
// database applies its defaults for nullable columns.
func (s *Session) Insert(ctx context.Context, m *model.Model, rows []map[string]any) ([]model.Entity, error) {
	if len(rows) == 0 {
		return nil, nil
	}

	colSet := make(map[string]struct{})
	for _, row := range rows {
		for name := range row {
			colSet[name] = struct{}{}
		}
	}
	cols := make([]string, 0, len(colSet))
	for name := range colSet {
		cols = append(cols, name)
	}
	sort.Strings(cols)

	quoted := make([]string, len(cols))
	for i, name := range cols {
		quoted[i] = quoteIdent(name)
	}
	returning := make([]string, 0, len(m.ColumnNames()))
	for _, name := range m.ColumnNames() {
		returning = append(returning, quoteIdent(name))
	}

	b := sq.Insert(quoteIdent(m.Table)).Columns(quoted...)
	for _, row := range rows {
		values := make([]any, len(cols))
		for i, name := range cols {
			values[i] = row[name]
		}
		b = b.Values(values...)
	}
	b = b.Suffix("RETURNING " + strings.Join(returning, ", "))

	sqlText, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build insert: %w", err)
	}
	s.logger.Debug("insert", zap.String("model", m.Name), zap.Int("rows", len(rows)))

	raw, err := s.queryRows(ctx, sqlText, args)
	if err != nil {
		return nil, err
	}
	types := make(map[string]model.ColumnType, len(m.Columns))
	for _, col := range m.Columns {
		types[col.Name] = col.Type
	}
	entities := make([]model.Entity, len(raw))
	for i, row := range raw {
		entities[i] = model.Entity(normalizeRow(s.logger, row, types))
	}
	return entities, nil
}

// applyIntent honors the advisory write intents riding on a mutation
// statement. Statements execute eagerly, so a flush request only needs to be
// acknowledged; a commit request commits the open transaction, if any.
func (s *Session) applyIntent(stmt *query.Statement) {
	if stmt.Flush {
		s.logger.Debug("flush requested; statements execute eagerly")
	}
	if stmt.Commit {
		if s.tx == nil {
			s.logger.Debug("commit requested outside a transaction")
			return
		}
		if err := s.Commit(); err != nil {
			s.logger.Error("commit failed", zap.Error(err))
		}
	}
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

var sqlTypes = map[model.ColumnType]string{
	model.TypeInteger:  "INTEGER",
	model.TypeText:     "TEXT",
	model.TypeBoolean:  "INTEGER",
	model.TypeFloat:    "REAL",
	model.TypeDateTime: "DATETIME",
}

// CreateTables creates the tables for the named models, in the given order.
// Intended for demos and tests; production schemas belong to migrations.
func (s *Session) CreateTables(ctx context.Context, names ...string) error {
	for _, name := range names {
		m, ok := s.registry.Model(name)
		if !ok {
			return fmt.Errorf("model %q is not registered", name)
		}
		ddl := s.createTableSQL(m)
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("failed to create table for model %q: %w", name, err)
		}
	}
	return nil
}

func (s *Session) createTableSQL(m *model.Model) string {
	defs := make([]string, 0, len(m.Columns)+len(m.Relationships))
	for _, col := range m.Columns {
		def := quoteIdent(col.Name) + " " + sqlTypes[col.Type]
		if col.PrimaryKey {
			def += " PRIMARY KEY"
		} else if !col.Nullable {
			def += " NOT NULL"
		}
		defs = append(defs, def)
	}
	for _, rel := range m.Relationships {
		if rel.Cardinality != model.ToOne {
			continue
		}
		if rel.LocalColumn == m.PrimaryKey().Name {
			continue
		}
		target, ok := s.registry.Model(rel.Target)
		if !ok {
			continue
		}
		defs = append(defs, fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s(%s)",
			quoteIdent(rel.LocalColumn), quoteIdent(target.Table), quoteIdent(rel.RemoteColumn)))
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", quoteIdent(m.Table), strings.Join(defs, ", "))
}
