package queryset

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asaidimu/go-queryset/core/model"
	"github.com/asaidimu/go-queryset/core/query"
)

// fakeExecutor records the statements it receives and returns canned rows.
type fakeExecutor struct {
	statements []*query.Statement
	inserted   [][]map[string]any

	selectRows []model.Entity
	scalar     any
	mutateRows []model.Entity
	insertRows []model.Entity
	err        error
}

func (f *fakeExecutor) Select(ctx context.Context, stmt *query.Statement) ([]model.Entity, error) {
	f.statements = append(f.statements, stmt)
	return f.selectRows, f.err
}

func (f *fakeExecutor) Scalar(ctx context.Context, stmt *query.Statement) (any, error) {
	f.statements = append(f.statements, stmt)
	return f.scalar, f.err
}

func (f *fakeExecutor) Mutate(ctx context.Context, stmt *query.Statement) ([]model.Entity, error) {
	f.statements = append(f.statements, stmt)
	return f.mutateRows, f.err
}

func (f *fakeExecutor) Insert(ctx context.Context, m *model.Model, rows []map[string]any) ([]model.Entity, error) {
	f.inserted = append(f.inserted, rows)
	return f.insertRows, f.err
}

func testModels(t *testing.T) *model.Registry {
	t.Helper()
	registry := model.NewRegistry()
	err := registry.Register(
		&model.Model{
			Name:  "Section",
			Table: "sections",
			Columns: []model.Column{
				{Name: "id", Type: model.TypeInteger, PrimaryKey: true},
				{Name: "title", Type: model.TypeText},
				{Name: "hidden", Type: model.TypeBoolean},
			},
			Relationships: []model.Relationship{
				{Name: "subsections", Target: "Subsection", Cardinality: model.ToMany, LocalColumn: "id", RemoteColumn: "section_id"},
			},
		},
		&model.Model{
			Name:  "Subsection",
			Table: "subsections",
			Columns: []model.Column{
				{Name: "id", Type: model.TypeInteger, PrimaryKey: true},
				{Name: "title", Type: model.TypeText},
				{Name: "section_id", Type: model.TypeInteger},
			},
		},
	)
	require.NoError(t, err)
	return registry
}

func testRepository(t *testing.T, exec Executor) *Repository {
	t.Helper()
	repo, err := NewRepository("Section", Config{
		Registry: testModels(t),
		Executor: exec,
	})
	require.NoError(t, err)
	return repo
}

func TestNewRepository_Validation(t *testing.T) {
	registry := testModels(t)
	exec := &fakeExecutor{}

	_, err := NewRepository("Missing", Config{Registry: registry, Executor: exec})
	assert.Error(t, err)

	_, err = NewRepository("Section", Config{Executor: exec})
	assert.Error(t, err)

	_, err = NewRepository("Section", Config{Registry: registry})
	assert.Error(t, err)
}

func TestQuerySet_All(t *testing.T) {
	exec := &fakeExecutor{selectRows: []model.Entity{{"id": int64(1), "title": "a"}}}
	repo := testRepository(t, exec)

	entities, err := repo.Objects().Filter("hidden", false).All(context.Background())
	require.NoError(t, err)
	require.Len(t, entities, 1)
	assert.Equal(t, "a", entities[0]["title"])

	require.Len(t, exec.statements, 1)
	stmt := exec.statements[0]
	assert.Equal(t, query.KindSelect, stmt.Kind)
	assert.Contains(t, stmt.SQL, `"sections"."hidden" = ?`)
}

func TestQuerySet_ConstructionErrorSurfacesAtTerminal(t *testing.T) {
	exec := &fakeExecutor{}
	repo := testRepository(t, exec)

	qs := repo.Objects().Filter("nope", 1).OrderBy("title")
	require.Error(t, qs.Err())

	_, err := qs.All(context.Background())
	assert.IsType(t, &query.UnknownFieldError{}, err)
	_, err = qs.Count(context.Background())
	assert.IsType(t, &query.UnknownFieldError{}, err)
	_, err = qs.Delete(context.Background())
	assert.IsType(t, &query.UnknownFieldError{}, err)
	assert.Empty(t, exec.statements)
}

func TestQuerySet_SliceStepError(t *testing.T) {
	repo := testRepository(t, &fakeExecutor{})
	_, err := repo.Objects().SliceStep(0, 10, 3).All(context.Background())
	var stepErr *query.InvalidSliceStepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, 3, stepErr.Step)
}

func TestQuerySet_First(t *testing.T) {
	exec := &fakeExecutor{selectRows: []model.Entity{{"id": int64(1)}}}
	repo := testRepository(t, exec)

	entity, err := repo.Objects().First(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, entity["id"])
	assert.Contains(t, exec.statements[0].SQL, "LIMIT 1")

	exec.selectRows = nil
	entity, err = repo.Objects().First(context.Background())
	require.NoError(t, err)
	assert.Nil(t, entity)
}

func TestQuerySet_CountAndExists(t *testing.T) {
	exec := &fakeExecutor{scalar: int64(3)}
	repo := testRepository(t, exec)

	n, err := repo.Objects().Count(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	ok, err := repo.Objects().Exists(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	exec.scalar = int64(0)
	ok, err = repo.Objects().Exists(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestQuerySet_GetOneOrNone(t *testing.T) {
	exec := &fakeExecutor{}
	repo := testRepository(t, exec)
	ctx := context.Background()

	entity, err := repo.Objects().GetOneOrNone(ctx)
	require.NoError(t, err)
	assert.Nil(t, entity)
	// Ambiguity detection needs at most two rows.
	assert.Contains(t, exec.statements[0].SQL, "LIMIT 2")

	exec.selectRows = []model.Entity{{"id": int64(1)}}
	entity, err = repo.Objects().GetOneOrNone(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, entity["id"])

	exec.selectRows = []model.Entity{{"id": int64(1)}, {"id": int64(2)}}
	_, err = repo.Objects().GetOneOrNone(ctx)
	var multi *query.MultipleResultsError
	require.ErrorAs(t, err, &multi)
	assert.Equal(t, "Section", multi.Model)
}

func TestQuerySet_GetOne(t *testing.T) {
	exec := &fakeExecutor{}
	repo := testRepository(t, exec)

	_, err := repo.Objects().GetOne(context.Background())
	var notFound *query.NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "Section", notFound.Model)
}

func TestQuerySet_GetOrCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("existing entity is returned", func(t *testing.T) {
		exec := &fakeExecutor{selectRows: []model.Entity{{"id": int64(1), "title": "a"}}}
		repo := testRepository(t, exec)

		entity, created, err := repo.Objects().GetOrCreate(ctx, map[string]any{"title": "a"}, nil)
		require.NoError(t, err)
		assert.False(t, created)
		assert.EqualValues(t, 1, entity["id"])
		assert.Empty(t, exec.inserted)
	})

	t.Run("missing entity is created from filters and defaults", func(t *testing.T) {
		exec := &fakeExecutor{insertRows: []model.Entity{{"id": int64(2), "title": "b", "hidden": true}}}
		repo := testRepository(t, exec)

		entity, created, err := repo.Objects().GetOrCreate(ctx,
			map[string]any{"title": "b"},
			map[string]any{"hidden": true, "title": "ignored"})
		require.NoError(t, err)
		assert.True(t, created)
		assert.EqualValues(t, 2, entity["id"])
		require.Len(t, exec.inserted, 1)
		// Filter values win over colliding defaults.
		assert.Equal(t, []map[string]any{{"title": "b", "hidden": true}}, exec.inserted[0])
	})

	t.Run("lookup paths are rejected as creation fields", func(t *testing.T) {
		repo := testRepository(t, &fakeExecutor{})
		_, _, err := repo.Objects().GetOrCreate(ctx, map[string]any{"title__icontains": "b"}, nil)
		assert.IsType(t, &query.InvalidPathError{}, err)
	})
}

func TestQuerySet_UpdateOrCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("existing entity is updated", func(t *testing.T) {
		exec := &fakeExecutor{
			selectRows: []model.Entity{{"id": int64(1), "title": "a", "hidden": false}},
			mutateRows: []model.Entity{{"id": int64(1), "title": "a", "hidden": true}},
		}
		repo := testRepository(t, exec)

		entity, created, err := repo.Objects().UpdateOrCreate(ctx,
			map[string]any{"title": "a"},
			map[string]any{"hidden": true})
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, true, entity["hidden"])

		// The update targets the found entity's primary key.
		last := exec.statements[len(exec.statements)-1]
		assert.Equal(t, query.KindUpdate, last.Kind)
		assert.Contains(t, last.Args, int64(1))
	})

	t.Run("missing entity is created", func(t *testing.T) {
		exec := &fakeExecutor{insertRows: []model.Entity{{"id": int64(2)}}}
		repo := testRepository(t, exec)

		_, created, err := repo.Objects().UpdateOrCreate(ctx,
			map[string]any{"title": "b"},
			map[string]any{"hidden": true})
		require.NoError(t, err)
		assert.True(t, created)
		require.Len(t, exec.inserted, 1)
	})
}

func TestQuerySet_InBulk(t *testing.T) {
	ctx := context.Background()

	t.Run("nil ids select everything matching the filters", func(t *testing.T) {
		exec := &fakeExecutor{selectRows: []model.Entity{
			{"id": int64(1), "title": "a"},
			{"id": int64(2), "title": "b"},
		}}
		repo := testRepository(t, exec)
		out, err := repo.Objects().Filter("hidden", false).InBulk(ctx, nil, "")
		require.NoError(t, err)
		require.Len(t, out, 2)
		assert.Equal(t, "b", out[int64(2)]["title"])
		require.Len(t, exec.statements, 1)
		assert.Contains(t, exec.statements[0].SQL, `"sections"."hidden" = ?`)
	})

	t.Run("explicit empty id list selects nothing", func(t *testing.T) {
		exec := &fakeExecutor{}
		repo := testRepository(t, exec)
		out, err := repo.Objects().InBulk(ctx, []any{}, "")
		require.NoError(t, err)
		assert.Empty(t, out)
		assert.Empty(t, exec.statements)
	})

	t.Run("keyed by primary key by default", func(t *testing.T) {
		exec := &fakeExecutor{selectRows: []model.Entity{
			{"id": int64(1), "title": "a"},
			{"id": int64(2), "title": "b"},
		}}
		repo := testRepository(t, exec)
		out, err := repo.Objects().InBulk(ctx, []any{int64(1), int64(2)}, "")
		require.NoError(t, err)
		require.Len(t, out, 2)
		assert.Equal(t, "a", out[int64(1)]["title"])
		assert.Contains(t, exec.statements[0].SQL, `"sections"."id" IN (?,?)`)
	})

	t.Run("duplicate key values fail", func(t *testing.T) {
		exec := &fakeExecutor{selectRows: []model.Entity{
			{"id": int64(1), "title": "same"},
			{"id": int64(2), "title": "same"},
		}}
		repo := testRepository(t, exec)
		_, err := repo.Objects().InBulk(ctx, []any{"same"}, "title")
		var dup *query.DuplicateKeyError
		require.ErrorAs(t, err, &dup)
		assert.Equal(t, "title", dup.Field)
	})

	t.Run("unknown key field fails", func(t *testing.T) {
		repo := testRepository(t, &fakeExecutor{})
		_, err := repo.Objects().InBulk(ctx, []any{1}, "nope")
		assert.IsType(t, &query.UnknownFieldError{}, err)
	})
}

func TestQuerySet_UpdateAndDelete(t *testing.T) {
	ctx := context.Background()
	exec := &fakeExecutor{mutateRows: []model.Entity{{"id": int64(1)}}}
	repo := testRepository(t, exec)

	rows, err := repo.Objects().Filter("hidden", true).Update(ctx, map[string]any{"title": "x"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, query.KindUpdate, exec.statements[0].Kind)

	rows, err = repo.Objects().Filter("hidden", true).Delete(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, query.KindDelete, exec.statements[1].Kind)
}

func TestQuerySet_AllFlat(t *testing.T) {
	exec := &fakeExecutor{selectRows: []model.Entity{{"title": "a"}, {"title": "b"}}}
	repo := testRepository(t, exec)

	values, err := repo.Objects().ValuesList("title").Flat().AllFlat(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, values)
}

func TestRepository_CreateValidatesColumns(t *testing.T) {
	exec := &fakeExecutor{insertRows: []model.Entity{{"id": int64(1)}}}
	repo := testRepository(t, exec)
	ctx := context.Background()

	_, err := repo.Create(ctx, map[string]any{"nope": 1})
	assert.IsType(t, &query.UnknownFieldError{}, err)

	entity, err := repo.Create(ctx, map[string]any{"title": "a"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, entity["id"])
}

func TestRepository_BulkCreate(t *testing.T) {
	exec := &fakeExecutor{insertRows: []model.Entity{{"id": int64(1)}, {"id": int64(2)}}}
	repo := testRepository(t, exec)

	rows, err := repo.BulkCreate(context.Background(), []map[string]any{
		{"title": "a"},
		{"title": "b"},
	})
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	rows, err = repo.BulkCreate(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, rows)
}

func TestRepository_Get(t *testing.T) {
	exec := &fakeExecutor{selectRows: []model.Entity{{"id": int64(7)}}}
	repo := testRepository(t, exec)

	entity, err := repo.Get(context.Background(), int64(7))
	require.NoError(t, err)
	assert.EqualValues(t, 7, entity["id"])
	assert.Contains(t, exec.statements[0].SQL, `"sections"."id" = ?`)
}

func TestRepository_Subscribe(t *testing.T) {
	repo := testRepository(t, &fakeExecutor{})
	unsubscribe := repo.Subscribe(QuerySuccess, func(ctx context.Context, event Event) error {
		return nil
	})
	require.NotNil(t, unsubscribe)
	unsubscribe()
}
