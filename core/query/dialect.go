package query

import (
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

// Dialect abstracts the few SQL constructs that differ between supported
// backends: case-insensitive pattern matching, date-part extraction and the
// bind placeholder format. Statements are always assembled with `?`
// placeholders and rewritten to the dialect's format in a single final pass,
// which keeps placeholder numbering correct across nested subqueries.
type Dialect interface {
	Name() string
	// CaseInsensitiveLike builds a case-insensitive pattern match for an
	// already qualified column expression.
	CaseInsensitiveLike(column string, pattern string) sq.Sqlizer
	// DatePart returns a SQL expression extracting the given part (year,
	// month or day) of a qualified column as an integer.
	DatePart(part string, column string) string
	PlaceholderFormat() sq.PlaceholderFormat
}

// SQLiteDialect targets SQLite. LIKE on SQLite is only case-insensitive for
// ASCII, so case-insensitive matches fold both sides through LOWER explicitly.
type SQLiteDialect struct{}

func (SQLiteDialect) Name() string { return "sqlite" }

func (SQLiteDialect) CaseInsensitiveLike(column string, pattern string) sq.Sqlizer {
	return sq.Expr(fmt.Sprintf("LOWER(%s) LIKE LOWER(?)", column), pattern)
}

func (SQLiteDialect) DatePart(part string, column string) string {
	format := map[string]string{"year": "%Y", "month": "%m", "day": "%d"}[part]
	return fmt.Sprintf("CAST(strftime('%s', %s) AS INTEGER)", format, column)
}

func (SQLiteDialect) PlaceholderFormat() sq.PlaceholderFormat { return sq.Question }

// PostgresDialect targets PostgreSQL and other ANSI-leaning backends.
type PostgresDialect struct{}

func (PostgresDialect) Name() string { return "postgres" }

func (PostgresDialect) CaseInsensitiveLike(column string, pattern string) sq.Sqlizer {
	return sq.Expr(fmt.Sprintf("%s ILIKE ?", column), pattern)
}

func (PostgresDialect) DatePart(part string, column string) string {
	return fmt.Sprintf("EXTRACT(%s FROM %s)", map[string]string{
		"year": "YEAR", "month": "MONTH", "day": "DAY",
	}[part], column)
}

func (PostgresDialect) PlaceholderFormat() sq.PlaceholderFormat { return sq.Dollar }
