package sqlite

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asaidimu/go-queryset/core/query"
)

func mockSession(t *testing.T) (*Session, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })
	db := sqlx.NewDb(mockDB, "sqlmock")
	return NewSession(db, testRegistry(t), nil), mock
}

func TestSession_Select(t *testing.T) {
	session, mock := mockSession(t)
	registry := session.registry
	stmt := sectionStatement(t, registry, nil, false)
	stmt.SQL = `SELECT "sections"."id" AS "id", "sections"."title" AS "title", "sections"."hidden" AS "hidden", "sections"."status_id" AS "status_id" FROM "sections" WHERE ("sections"."hidden" = ?)`
	stmt.Args = []any{false}

	mock.ExpectQuery(regexp.QuoteMeta(stmt.SQL)).
		WithArgs(false).
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "hidden", "status_id"}).
			AddRow(1, []byte("Getting Started"), 0, nil).
			AddRow(2, "Advanced Topics", 1, 3))

	entities, err := session.Select(context.Background(), stmt)
	require.NoError(t, err)
	require.Len(t, entities, 2)

	// Driver storage classes come back coerced to the declared types.
	assert.Equal(t, int64(1), entities[0]["id"])
	assert.Equal(t, "Getting Started", entities[0]["title"])
	assert.Equal(t, false, entities[0]["hidden"])
	assert.Nil(t, entities[0]["status_id"])
	assert.Equal(t, true, entities[1]["hidden"])

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSession_Scalar(t *testing.T) {
	session, mock := mockSession(t)
	stmt := &query.Statement{
		Kind: query.KindCount,
		SQL:  `SELECT COUNT(*) FROM "sections"`,
	}

	mock.ExpectQuery(regexp.QuoteMeta(stmt.SQL)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))

	value, err := session.Scalar(context.Background(), stmt)
	require.NoError(t, err)
	assert.EqualValues(t, 4, value)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSession_MutateReturnsReturningRows(t *testing.T) {
	session, mock := mockSession(t)
	section, _ := session.registry.Model("Section")
	stmt := &query.Statement{
		Kind:       query.KindUpdate,
		SQL:        `UPDATE "sections" SET "hidden" = ? WHERE "id" IN (SELECT DISTINCT "sections"."id" FROM "sections") RETURNING "id"`,
		Args:       []any{true},
		Model:      section,
		Columns:    []string{"id"},
		PrimaryKey: "id",
	}

	mock.ExpectQuery(regexp.QuoteMeta(stmt.SQL)).
		WithArgs(true).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1).AddRow(3))

	entities, err := session.Mutate(context.Background(), stmt)
	require.NoError(t, err)
	require.Len(t, entities, 2)
	assert.Equal(t, int64(1), entities[0]["id"])
	assert.Equal(t, int64(3), entities[1]["id"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSession_CommitIntent(t *testing.T) {
	session, mock := mockSession(t)
	section, _ := session.registry.Model("Section")
	stmt := &query.Statement{
		Kind:       query.KindDelete,
		SQL:        `DELETE FROM "sections" WHERE "id" IN (SELECT DISTINCT "sections"."id" FROM "sections") RETURNING "id"`,
		Model:      section,
		Columns:    []string{"id"},
		PrimaryKey: "id",
		Commit:     true,
	}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(stmt.SQL)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectCommit()

	ctx := context.Background()
	require.NoError(t, session.Begin(ctx))
	_, err := session.Mutate(ctx, stmt)
	require.NoError(t, err)

	// The commit intent closed the transaction.
	assert.Error(t, session.Commit())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSession_TransactionLifecycle(t *testing.T) {
	session, mock := mockSession(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectRollback()

	require.NoError(t, session.Begin(ctx))
	assert.Error(t, session.Begin(ctx))
	require.NoError(t, session.Rollback())
	assert.Error(t, session.Rollback())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSession_Insert(t *testing.T) {
	session, mock := mockSession(t)
	sub, _ := session.registry.Model("Subsection")

	expected := `INSERT INTO "subsections" ("section_id","title") VALUES (?,?),(?,?) RETURNING "id", "title", "section_id", "status_id"`
	mock.ExpectQuery(regexp.QuoteMeta(expected)).
		WithArgs(1, "Installation", 1, "Configuration").
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "section_id", "status_id"}).
			AddRow(10, "Installation", 1, nil).
			AddRow(11, "Configuration", 1, nil))

	entities, err := session.Insert(context.Background(), sub, []map[string]any{
		{"title": "Installation", "section_id": 1},
		{"title": "Configuration", "section_id": 1},
	})
	require.NoError(t, err)
	require.Len(t, entities, 2)
	assert.Equal(t, int64(10), entities[0]["id"])
	assert.Equal(t, "Configuration", entities[1]["title"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSession_InsertNothing(t *testing.T) {
	session, _ := mockSession(t)
	sub, _ := session.registry.Model("Subsection")
	entities, err := session.Insert(context.Background(), sub, nil)
	require.NoError(t, err)
	assert.Nil(t, entities)
}

func TestSession_CreateTables(t *testing.T) {
	session, mock := mockSession(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS "publication_statuses"`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS "sections"`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := session.CreateTables(context.Background(), "PublicationStatus", "Section")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())

	assert.Error(t, session.CreateTables(context.Background(), "Missing"))
}

func TestCreateTableSQL(t *testing.T) {
	session, _ := mockSession(t)
	section, _ := session.registry.Model("Section")

	ddl := session.createTableSQL(section)
	assert.Equal(t,
		`CREATE TABLE IF NOT EXISTS "sections" (`+
			`"id" INTEGER PRIMARY KEY, `+
			`"title" TEXT NOT NULL, `+
			`"hidden" INTEGER NOT NULL, `+
			`"status_id" INTEGER, `+
			`FOREIGN KEY ("status_id") REFERENCES "publication_statuses"("id"))`,
		ddl)
}
