package query

import (
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"

	"github.com/asaidimu/go-queryset/core/model"
)

// ColumnRef locates a column relative to the primary model: the relationship
// hops leading to its table and the column name. Empty Hops means the primary
// table itself.
type ColumnRef struct {
	Hops   []string
	Column string
}

// PathKey returns the hop path joined with the lookup separator; empty for
// the primary table.
func (r ColumnRef) PathKey() string { return strings.Join(r.Hops, LookupSep) }

func (r ColumnRef) equal(other ColumnRef) bool {
	return r.Column == other.Column && slices.Equal(r.Hops, other.Hops)
}

// Predicate is one boolean condition accumulated by a filter call. Predicates
// are ANDed together; their construction order carries no meaning.
type Predicate struct {
	Path     string // original filter key, kept for diagnostics
	Ref      ColumnRef
	Operator string
	Value    any
}

// OrderingTerm is one ordering column with its direction. Terms keep call
// order; a duplicate column is dropped (first occurrence wins, regardless of
// the later direction).
type OrderingTerm struct {
	Path string
	Ref  ColumnRef
	Desc bool
}

// State is the full immutable snapshot accumulated between builder calls.
// Every intermediate call returns a fresh State; existing values are never
// mutated, so a State may be branched from concurrent call sites without
// synchronization. Construction errors (bad paths, unknown operators, invalid
// slices) are detected during the call that supplied the bad input and pinned
// on the returned State: later calls propagate the first error unchanged and
// terminal calls surface it before any execution.
type State struct {
	mdl      *model.Model
	resolver *Resolver

	joins     *JoinNode
	preds     []Predicate
	ordering  []OrderingTerm
	limit     *uint64
	offset    *uint64
	distinct  bool
	values    []ColumnRef
	flat      bool
	returning []ColumnRef
	retModel  bool
	execOpts  map[string]any
	flush     bool
	commit    bool
	single    bool

	err error
}

// NewState creates the empty accumulated state for a model.
func NewState(m *model.Model, resolver *Resolver) *State {
	return &State{mdl: m, resolver: resolver, joins: newJoinRoot(m.Name)}
}

// Model returns the primary model.
func (s *State) Model() *model.Model { return s.mdl }

// Joins returns the root of the accumulated join tree.
func (s *State) Joins() *JoinNode { return s.joins }

// Err returns the first construction error recorded on this state, if any.
func (s *State) Err() error { return s.err }

// Single reports whether the state was produced by a single-index access.
func (s *State) Single() bool { return s.single }

// Flush and Commit expose the advisory write intents.
func (s *State) Flush() bool  { return s.flush }
func (s *State) Commit() bool { return s.commit }

func (s *State) clone() *State {
	c := *s
	c.preds = slices.Clone(s.preds)
	c.ordering = slices.Clone(s.ordering)
	c.values = slices.Clone(s.values)
	c.returning = slices.Clone(s.returning)
	c.execOpts = maps.Clone(s.execOpts)
	return &c
}

func (s *State) fail(err error) *State {
	if s.err != nil {
		return s
	}
	c := s.clone()
	c.err = err
	return c
}

// Filter resolves a filter path, registers any joins it traverses and records
// the predicate. The value is interpreted by the path's lookup operator
// (equality when none is named).
func (s *State) Filter(path string, value any) *State {
	if s.err != nil {
		return s
	}
	rp, err := s.resolver.ResolveField(s.mdl, path)
	if err != nil {
		return s.fail(err)
	}
	c := s.clone()
	c.joins = ensureJoined(c.joins, rp.Hops, joinRequest{kind: JoinInner})
	c.preds = append(c.preds, Predicate{Path: path, Ref: rp.Ref(), Operator: rp.Operator, Value: value})
	return c
}

// FilterMap applies Filter for every entry. Keys are processed in sorted
// order so join discovery (and therefore alias numbering) is deterministic.
func (s *State) FilterMap(filters map[string]any) *State {
	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	c := s
	for _, k := range keys {
		c = c.Filter(k, filters[k])
	}
	return c
}

// OrderBy appends ordering terms. A leading '-' orders descending. A column
// already ordered is skipped: first occurrence wins.
func (s *State) OrderBy(paths ...string) *State {
	c := s
	for _, path := range paths {
		if c.err != nil {
			return c
		}
		rp, desc, err := c.resolver.ResolveOrdering(c.mdl, path)
		if err != nil {
			return c.fail(err)
		}
		ref := rp.Ref()
		if slices.ContainsFunc(c.ordering, func(t OrderingTerm) bool { return t.Ref.equal(ref) }) {
			continue
		}
		n := c.clone()
		n.joins = ensureJoined(n.joins, rp.Hops, joinRequest{kind: JoinInner})
		n.ordering = append(n.ordering, OrderingTerm{Path: path, Ref: ref, Desc: desc})
		c = n
	}
	return c
}

// Options marks relationship paths for eager loading. A hop that is already
// joined for filtering/ordering purposes is reused; missing hops are added as
// inner joins dedicated to loading.
func (s *State) Options(paths ...string) *State {
	c := s
	for _, path := range paths {
		if c.err != nil {
			return c
		}
		hops, err := c.resolver.ResolveRelationship(c.mdl, path)
		if err != nil {
			return c.fail(err)
		}
		n := c.clone()
		n.joins = ensureJoined(n.joins, hops, joinRequest{kind: JoinInner, eager: true})
		c = n
	}
	return c
}

// InnerJoin explicitly joins relationship paths with inner semantics.
func (s *State) InnerJoin(paths ...string) *State {
	return s.explicitJoin(paths, JoinInner)
}

// OuterJoin explicitly joins relationship paths with left-outer semantics.
func (s *State) OuterJoin(paths ...string) *State {
	return s.explicitJoin(paths, JoinOuter)
}

func (s *State) explicitJoin(paths []string, kind JoinKind) *State {
	c := s
	for _, path := range paths {
		if c.err != nil {
			return c
		}
		hops, err := c.resolver.ResolveRelationship(c.mdl, path)
		if err != nil {
			return c.fail(err)
		}
		n := c.clone()
		n.joins = ensureJoined(n.joins, hops, joinRequest{kind: kind, explicit: true})
		c = n
	}
	return c
}

// Limit bounds the number of primary entities returned.
func (s *State) Limit(n int) *State {
	if s.err != nil {
		return s
	}
	if n < 1 {
		return s.fail(fmt.Errorf("limit must be at least 1, got %d", n))
	}
	c := s.clone()
	v := uint64(n)
	c.limit = &v
	return c
}

// Offset skips the first n primary entities.
func (s *State) Offset(n int) *State {
	if s.err != nil {
		return s
	}
	if n < 0 {
		return s.fail(fmt.Errorf("offset cannot be negative, got %d", n))
	}
	c := s.clone()
	v := uint64(n)
	c.offset = &v
	return c
}

// Distinct requests duplicate-row elimination on the select.
func (s *State) Distinct() *State {
	if s.err != nil {
		return s
	}
	c := s.clone()
	c.distinct = true
	return c
}

// Slice sets offset/limit from half-open bounds [start, stop).
func (s *State) Slice(start, stop int) *State {
	if s.err != nil {
		return s
	}
	if start < 0 || stop < start {
		return s.fail(fmt.Errorf("invalid slice bounds [%d:%d]", start, stop))
	}
	c := s.clone()
	off, lim := uint64(start), uint64(stop-start)
	c.offset = &off
	c.limit = &lim
	return c
}

// SliceStep is Slice with an explicit step; only a unit step is supported.
func (s *State) SliceStep(start, stop, step int) *State {
	if s.err != nil {
		return s
	}
	if step != 1 {
		return s.fail(&InvalidSliceStepError{Step: step})
	}
	return s.Slice(start, stop)
}

// At selects the single entity at the given position: limit 1, offset index,
// and the result is marked as a single entity rather than a collection.
func (s *State) At(index int) *State {
	if s.err != nil {
		return s
	}
	if index < 0 {
		return s.fail(fmt.Errorf("index cannot be negative, got %d", index))
	}
	c := s.clone()
	off, lim := uint64(index), uint64(1)
	c.offset = &off
	c.limit = &lim
	c.single = true
	return c
}

// ValuesList restricts the select to the named primary-model columns.
func (s *State) ValuesList(fields ...string) *State {
	if s.err != nil {
		return s
	}
	if len(fields) == 0 {
		return s.fail(fmt.Errorf("values list requires at least one field"))
	}
	c := s.clone()
	c.values = c.values[:0]
	for _, f := range fields {
		col, ok := s.mdl.Column(f)
		if !ok {
			return s.fail(&UnknownFieldError{Model: s.mdl.Name, Token: f, Path: f})
		}
		c.values = append(c.values, ColumnRef{Column: col.Name})
	}
	return c
}

// Flat marks the values-list projection for flat (single scalar) extraction.
func (s *State) Flat() *State {
	if s.err != nil {
		return s
	}
	c := s.clone()
	c.flat = true
	return c
}

// Named marks the values-list projection for named (map) extraction. This is
// the default; it undoes an earlier Flat.
func (s *State) Named() *State {
	if s.err != nil {
		return s
	}
	c := s.clone()
	c.flat = false
	return c
}

// Returning restricts the RETURNING payload of update/delete statements to
// the named primary-model columns. It replaces any earlier returning spec.
func (s *State) Returning(fields ...string) *State {
	if s.err != nil {
		return s
	}
	c := s.clone()
	c.returning = c.returning[:0]
	c.retModel = false
	for _, f := range fields {
		col, ok := s.mdl.Column(f)
		if !ok {
			return s.fail(&UnknownFieldError{Model: s.mdl.Name, Token: f, Path: f})
		}
		c.returning = append(c.returning, ColumnRef{Column: col.Name})
	}
	return c
}

// ReturningModel requests full entity rows from update/delete RETURNING.
func (s *State) ReturningModel() *State {
	if s.err != nil {
		return s
	}
	c := s.clone()
	c.returning = nil
	c.retModel = true
	return c
}

// ExecutionOptions merges opaque options passed through to the execution
// collaborator.
func (s *State) ExecutionOptions(opts map[string]any) *State {
	if s.err != nil {
		return s
	}
	c := s.clone()
	if c.execOpts == nil {
		c.execOpts = make(map[string]any, len(opts))
	}
	maps.Copy(c.execOpts, opts)
	return c
}

// WithFlush records the advisory intent to flush after the next terminal
// call. The intent rides on the assembled statement and is interpreted once
// per execution by the session collaborator.
func (s *State) WithFlush() *State {
	if s.err != nil {
		return s
	}
	c := s.clone()
	c.flush = true
	return c
}

// WithCommit records the advisory intent to commit after the next terminal
// call.
func (s *State) WithCommit() *State {
	if s.err != nil {
		return s
	}
	c := s.clone()
	c.commit = true
	return c
}
