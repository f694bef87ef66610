package queryset

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/asaidimu/go-queryset/core/model"
	"github.com/asaidimu/go-queryset/core/query"
)

// QuerySet is the chainable query facade over one model. Intermediate calls
// return a new QuerySet and never touch the database; terminal calls assemble
// a statement, emit lifecycle events and run it through the executor. A
// QuerySet is immutable, so it can be stored and branched freely:
//
//	active := repo.Objects().Filter("hidden", false)
//	page := active.OrderBy("title").Slice(0, 20).All(ctx)
type QuerySet struct {
	state  *query.State
	asm    *query.Assembler
	exec   Executor
	em     emitter
	logger *zap.Logger
}

func (qs *QuerySet) with(st *query.State) *QuerySet {
	if st == qs.state {
		return qs
	}
	c := *qs
	c.state = st
	return &c
}

// Err returns the first construction error accumulated by intermediate calls.
func (qs *QuerySet) Err() error { return qs.state.Err() }

// Model returns the primary model the set queries.
func (qs *QuerySet) Model() *model.Model { return qs.state.Model() }

// Filter adds a predicate from a lookup path and operand.
func (qs *QuerySet) Filter(path string, value any) *QuerySet {
	return qs.with(qs.state.Filter(path, value))
}

// FilterMap adds one predicate per map entry, in sorted key order.
func (qs *QuerySet) FilterMap(filters map[string]any) *QuerySet {
	return qs.with(qs.state.FilterMap(filters))
}

// OrderBy appends ordering paths; a leading '-' orders descending.
func (qs *QuerySet) OrderBy(paths ...string) *QuerySet {
	return qs.with(qs.state.OrderBy(paths...))
}

// Options marks relationship paths for eager loading.
func (qs *QuerySet) Options(paths ...string) *QuerySet {
	return qs.with(qs.state.Options(paths...))
}

// InnerJoin explicitly joins relationship paths with inner semantics.
func (qs *QuerySet) InnerJoin(paths ...string) *QuerySet {
	return qs.with(qs.state.InnerJoin(paths...))
}

// OuterJoin explicitly joins relationship paths with left-outer semantics.
func (qs *QuerySet) OuterJoin(paths ...string) *QuerySet {
	return qs.with(qs.state.OuterJoin(paths...))
}

// Limit bounds the number of primary entities returned.
func (qs *QuerySet) Limit(n int) *QuerySet { return qs.with(qs.state.Limit(n)) }

// Offset skips the first n primary entities.
func (qs *QuerySet) Offset(n int) *QuerySet { return qs.with(qs.state.Offset(n)) }

// Distinct requests duplicate elimination on the select.
func (qs *QuerySet) Distinct() *QuerySet { return qs.with(qs.state.Distinct()) }

// Slice bounds the set to the half-open range [start, stop).
func (qs *QuerySet) Slice(start, stop int) *QuerySet {
	return qs.with(qs.state.Slice(start, stop))
}

// SliceStep is Slice with an explicit step; only a unit step is supported.
func (qs *QuerySet) SliceStep(start, stop, step int) *QuerySet {
	return qs.with(qs.state.SliceStep(start, stop, step))
}

// At narrows the set to the single entity at the given position.
func (qs *QuerySet) At(index int) *QuerySet { return qs.with(qs.state.At(index)) }

// ValuesList restricts the select to the named primary-model columns.
func (qs *QuerySet) ValuesList(fields ...string) *QuerySet {
	return qs.with(qs.state.ValuesList(fields...))
}

// Flat marks a single-field values list for scalar extraction via AllFlat.
func (qs *QuerySet) Flat() *QuerySet { return qs.with(qs.state.Flat()) }

// Named marks the values list for named (map) extraction; the default.
func (qs *QuerySet) Named() *QuerySet { return qs.with(qs.state.Named()) }

// Returning restricts update/delete RETURNING payloads to the named columns.
func (qs *QuerySet) Returning(fields ...string) *QuerySet {
	return qs.with(qs.state.Returning(fields...))
}

// ReturningModel requests full entity rows from update/delete RETURNING.
func (qs *QuerySet) ReturningModel() *QuerySet {
	return qs.with(qs.state.ReturningModel())
}

// ExecutionOptions merges opaque options passed through to the executor.
func (qs *QuerySet) ExecutionOptions(opts map[string]any) *QuerySet {
	return qs.with(qs.state.ExecutionOptions(opts))
}

// WithFlush records the advisory intent to flush after the next terminal call.
func (qs *QuerySet) WithFlush() *QuerySet { return qs.with(qs.state.WithFlush()) }

// WithCommit records the advisory intent to commit after the next terminal call.
func (qs *QuerySet) WithCommit() *QuerySet { return qs.with(qs.state.WithCommit()) }

func queryParam(stmt *query.Statement) map[string]any {
	return map[string]any{"sql": stmt.SQL, "args": stmt.Args}
}

func (qs *QuerySet) runSelect(ctx context.Context, operation string, st *query.State) ([]model.Entity, *query.Statement, error) {
	stmt, err := qs.asm.Assemble(st, query.KindSelect, nil)
	if err != nil {
		return nil, nil, err
	}
	result, err := qs.em.withEvents(operation, QueryStart, QuerySuccess, QueryFailed, nil, queryParam(stmt),
		func() (any, error) {
			return qs.exec.Select(ctx, stmt)
		})
	if err != nil {
		return nil, nil, err
	}
	return result.([]model.Entity), stmt, nil
}

// All runs the select and returns every matching entity.
func (qs *QuerySet) All(ctx context.Context) ([]model.Entity, error) {
	entities, _, err := qs.runSelect(ctx, "all", qs.state)
	return entities, err
}

// AllFlat runs a flat single-field values list and returns the bare values.
func (qs *QuerySet) AllFlat(ctx context.Context) ([]any, error) {
	entities, stmt, err := qs.runSelect(ctx, "all_flat", qs.state)
	if err != nil {
		return nil, err
	}
	if !stmt.Flat || len(stmt.Columns) != 1 {
		return nil, fmt.Errorf("flat extraction requires ValuesList with one field and Flat")
	}
	out := make([]any, len(entities))
	for i, e := range entities {
		out[i] = e[stmt.Columns[0]]
	}
	return out, nil
}

// First returns the first matching entity, or nil when the set is empty.
func (qs *QuerySet) First(ctx context.Context) (model.Entity, error) {
	entities, _, err := qs.runSelect(ctx, "first", qs.state.Limit(1))
	if err != nil {
		return nil, err
	}
	if len(entities) == 0 {
		return nil, nil
	}
	return entities[0], nil
}

// Count returns the number of distinct matching primary entities.
func (qs *QuerySet) Count(ctx context.Context) (int64, error) {
	stmt, err := qs.asm.Assemble(qs.state, query.KindCount, nil)
	if err != nil {
		return 0, err
	}
	result, err := qs.em.withEvents("count", QueryStart, QuerySuccess, QueryFailed, nil, queryParam(stmt),
		func() (any, error) {
			return qs.exec.Scalar(ctx, stmt)
		})
	if err != nil {
		return 0, err
	}
	return toInt64(result)
}

// Exists reports whether any entity matches.
func (qs *QuerySet) Exists(ctx context.Context) (bool, error) {
	n, err := qs.Count(ctx)
	return n > 0, err
}

// GetOneOrNone returns the single matching entity, nil when nothing matches,
// or MultipleResultsError when more than one entity matches.
func (qs *QuerySet) GetOneOrNone(ctx context.Context) (model.Entity, error) {
	// Fetching two rows is enough to detect ambiguity without draining
	// the full result set.
	entities, _, err := qs.runSelect(ctx, "get_one_or_none", qs.state.Limit(2))
	if err != nil {
		return nil, err
	}
	switch len(entities) {
	case 0:
		return nil, nil
	case 1:
		return entities[0], nil
	default:
		return nil, &query.MultipleResultsError{Model: qs.state.Model().Name}
	}
}

// GetOne returns the single matching entity and fails when nothing matches.
func (qs *QuerySet) GetOne(ctx context.Context) (model.Entity, error) {
	entity, err := qs.GetOneOrNone(ctx)
	if err != nil {
		return nil, err
	}
	if entity == nil {
		return nil, &query.NotFoundError{Model: qs.state.Model().Name}
	}
	return entity, nil
}

// plainColumns verifies that every key names a direct column of the primary
// model, the only keys usable as creation fields.
func (qs *QuerySet) plainColumns(fields map[string]any) error {
	m := qs.state.Model()
	for name := range fields {
		if strings.Contains(name, query.LookupSep) {
			return &query.InvalidPathError{Path: name, Reason: "lookup paths cannot be used as creation fields"}
		}
		if _, ok := m.Column(name); !ok {
			return &query.UnknownFieldError{Model: m.Name, Token: name, Path: name}
		}
	}
	return nil
}

func (qs *QuerySet) create(ctx context.Context, values map[string]any) (model.Entity, error) {
	result, err := qs.em.withEvents("create", EntityCreateStart, EntityCreateSuccess, EntityCreateFailed, values, nil,
		func() (any, error) {
			entities, err := qs.exec.Insert(ctx, qs.state.Model(), []map[string]any{values})
			if err != nil {
				return nil, err
			}
			if len(entities) == 0 {
				return nil, fmt.Errorf("insert returned no rows for model %q", qs.state.Model().Name)
			}
			return entities[0], nil
		})
	if err != nil {
		return nil, err
	}
	return result.(model.Entity), nil
}

// GetOrCreate looks up the entity matching the filter fields and creates it
// from the filters merged with defaults when absent. The second return value
// reports whether a creation happened. Filter fields must be plain columns of
// the primary model since they double as creation fields.
func (qs *QuerySet) GetOrCreate(ctx context.Context, filters map[string]any, defaults map[string]any) (model.Entity, bool, error) {
	if err := qs.plainColumns(filters); err != nil {
		return nil, false, err
	}
	entity, err := qs.FilterMap(filters).GetOneOrNone(ctx)
	if err != nil {
		return nil, false, err
	}
	if entity != nil {
		return entity, false, nil
	}
	values := make(map[string]any, len(filters)+len(defaults))
	for k, v := range defaults {
		values[k] = v
	}
	for k, v := range filters {
		values[k] = v
	}
	created, err := qs.create(ctx, values)
	if err != nil {
		return nil, false, err
	}
	return created, true, nil
}

// UpdateOrCreate looks up the entity matching the filter fields, applies the
// defaults to it when found, and creates it from filters merged with defaults
// otherwise. The second return value reports whether a creation happened.
func (qs *QuerySet) UpdateOrCreate(ctx context.Context, filters map[string]any, defaults map[string]any) (model.Entity, bool, error) {
	if err := qs.plainColumns(filters); err != nil {
		return nil, false, err
	}
	entity, err := qs.FilterMap(filters).GetOneOrNone(ctx)
	if err != nil {
		return nil, false, err
	}
	if entity == nil {
		values := make(map[string]any, len(filters)+len(defaults))
		for k, v := range defaults {
			values[k] = v
		}
		for k, v := range filters {
			values[k] = v
		}
		created, err := qs.create(ctx, values)
		if err != nil {
			return nil, false, err
		}
		return created, true, nil
	}
	if len(defaults) == 0 {
		return entity, false, nil
	}
	pk := qs.state.Model().PrimaryKey().Name
	updated, err := qs.Filter(pk, entity[pk]).ReturningModel().Update(ctx, defaults)
	if err != nil {
		return nil, false, err
	}
	if len(updated) == 0 {
		return entity, false, nil
	}
	return updated[0], false, nil
}

// InBulk fetches entities keyed by a field value. A nil id list selects
// everything matching the current filters; an explicit empty list selects
// nothing and skips the query entirely. An empty field selects the primary
// key. A value shared by two entities is an error rather than a silent
// overwrite.
func (qs *QuerySet) InBulk(ctx context.Context, ids []any, field string) (map[any]model.Entity, error) {
	m := qs.state.Model()
	if field == "" {
		field = m.PrimaryKey().Name
	}
	if _, ok := m.Column(field); !ok {
		return nil, &query.UnknownFieldError{Model: m.Name, Token: field, Path: field}
	}
	out := make(map[any]model.Entity, len(ids))
	if ids != nil && len(ids) == 0 {
		return out, nil
	}
	set := qs
	if ids != nil {
		set = qs.Filter(field+query.LookupSep+"in", ids)
	}
	entities, err := set.All(ctx)
	if err != nil {
		return nil, err
	}
	for _, e := range entities {
		key := e[field]
		if _, dup := out[key]; dup {
			return nil, &query.DuplicateKeyError{Field: field, Value: key}
		}
		out[key] = e
	}
	return out, nil
}

// Update applies the column assignments to every matching entity and returns
// the RETURNING rows: primary keys by default, or whatever Returning /
// ReturningModel selected.
func (qs *QuerySet) Update(ctx context.Context, values map[string]any) ([]model.Entity, error) {
	stmt, err := qs.asm.Assemble(qs.state, query.KindUpdate, values)
	if err != nil {
		return nil, err
	}
	result, err := qs.em.withEvents("update", EntityUpdateStart, EntityUpdateSuccess, EntityUpdateFailed, values, queryParam(stmt),
		func() (any, error) {
			return qs.exec.Mutate(ctx, stmt)
		})
	if err != nil {
		return nil, err
	}
	return result.([]model.Entity), nil
}

// Delete removes every matching entity and returns the RETURNING rows.
func (qs *QuerySet) Delete(ctx context.Context) ([]model.Entity, error) {
	stmt, err := qs.asm.Assemble(qs.state, query.KindDelete, nil)
	if err != nil {
		return nil, err
	}
	result, err := qs.em.withEvents("delete", EntityDeleteStart, EntityDeleteSuccess, EntityDeleteFailed, nil, queryParam(stmt),
		func() (any, error) {
			return qs.exec.Mutate(ctx, stmt)
		})
	if err != nil {
		return nil, err
	}
	return result.([]model.Entity), nil
}

func toInt64(value any) (int64, error) {
	switch v := value.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case float64:
		return int64(v), nil
	case nil:
		return 0, nil
	default:
		return 0, fmt.Errorf("unexpected scalar type %T", value)
	}
}
