package query

import (
	"fmt"
	"sort"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"go.uber.org/zap"

	"github.com/asaidimu/go-queryset/core/model"
)

// Assembler translates accumulated query state into executable statements.
// It owns the join planning pass that assigns table aliases, and is the only
// place SQL text is produced.
type Assembler struct {
	registry *model.Registry
	lookups  *LookupRegistry
	dialect  Dialect
	logger   *zap.Logger
}

// NewAssembler creates an assembler. A nil logger disables logging.
func NewAssembler(registry *model.Registry, lookups *LookupRegistry, logger *zap.Logger) *Assembler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Assembler{
		registry: registry,
		lookups:  lookups,
		dialect:  lookups.Dialect(),
		logger:   logger,
	}
}

// joinPlan is one planned join clause with its assigned alias.
type joinPlan struct {
	key         string // hop path joined with the lookup separator
	alias       string
	parentAlias string
	node        *JoinNode
	mdl         *model.Model
}

// plan is the alias-resolved view of a state's join tree.
type plan struct {
	table       string // primary table, doubling as the primary alias
	joins       []joinPlan
	aliasByPath map[string]string
}

func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// planJoins walks the join tree depth-first in insertion order and assigns
// each node a stable alias: the first join against a table uses the bare
// table name, later joins against the same table get a numeric suffix. The
// primary table keeps its own name, so a self-referencing join numbers from 2.
func (a *Assembler) planJoins(s *State) (*plan, error) {
	p := &plan{
		table:       s.Model().Table,
		aliasByPath: map[string]string{"": s.Model().Table},
	}
	used := map[string]int{s.Model().Table: 1}

	var walk func(parent *JoinNode, parentAlias string, path []string) error
	walk = func(parent *JoinNode, parentAlias string, path []string) error {
		for _, node := range parent.Children() {
			target, ok := a.registry.Model(node.Target)
			if !ok {
				return fmt.Errorf("model %q referenced by relationship %q is not registered", node.Target, node.Rel.Name)
			}
			alias := target.Table
			used[target.Table]++
			if n := used[target.Table]; n > 1 {
				alias = fmt.Sprintf("%s_%d", target.Table, n)
			}
			hops := append(append([]string{}, path...), node.Rel.Name)
			key := strings.Join(hops, LookupSep)
			p.aliasByPath[key] = alias
			p.joins = append(p.joins, joinPlan{
				key:         key,
				alias:       alias,
				parentAlias: parentAlias,
				node:        node,
				mdl:         target,
			})
			if err := walk(node, alias, hops); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(s.Joins(), p.table, nil); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *joinPlan) clause() string {
	return fmt.Sprintf("%s AS %s ON %s.%s = %s.%s",
		quoteIdentifier(p.mdl.Table), quoteIdentifier(p.alias),
		quoteIdentifier(p.parentAlias), quoteIdentifier(p.node.Rel.LocalColumn),
		quoteIdentifier(p.alias), quoteIdentifier(p.node.Rel.RemoteColumn))
}

func applyJoins(b sq.SelectBuilder, p *plan) sq.SelectBuilder {
	for i := range p.joins {
		jp := &p.joins[i]
		if jp.node.Kind == JoinOuter {
			b = b.LeftJoin(jp.clause())
		} else {
			b = b.Join(jp.clause())
		}
	}
	return b
}

func (a *Assembler) wherePredicates(s *State, p *plan) (sq.Sqlizer, error) {
	preds := s.preds
	if len(preds) == 0 {
		return nil, nil
	}
	conj := make(sq.And, 0, len(preds))
	for _, pred := range preds {
		alias, ok := p.aliasByPath[pred.Ref.PathKey()]
		if !ok {
			return nil, fmt.Errorf("no join planned for predicate path %q", pred.Path)
		}
		column := quoteIdentifier(alias) + "." + quoteIdentifier(pred.Ref.Column)
		expr, err := a.lookups.Predicate(pred.Operator, column, pred.Value)
		if err != nil {
			return nil, err
		}
		conj = append(conj, expr)
	}
	return conj, nil
}

// Assemble turns the accumulated state into a statement of the requested
// kind. For updates, values holds the column assignments.
func (a *Assembler) Assemble(s *State, kind Kind, values map[string]any) (*Statement, error) {
	if err := s.Err(); err != nil {
		return nil, err
	}
	p, err := a.planJoins(s)
	if err != nil {
		return nil, err
	}
	where, err := a.wherePredicates(s, p)
	if err != nil {
		return nil, err
	}

	var stmt *Statement
	switch kind {
	case KindSelect:
		stmt, err = a.assembleSelect(s, p, where)
	case KindCount:
		stmt, err = a.assembleCount(s, p, where)
	case KindUpdate:
		stmt, err = a.assembleUpdate(s, p, where, values)
	case KindDelete:
		stmt, err = a.assembleDelete(s, p, where)
	default:
		err = fmt.Errorf("unsupported statement kind %v", kind)
	}
	if err != nil {
		return nil, err
	}

	stmt.SQL, err = a.dialect.PlaceholderFormat().ReplacePlaceholders(stmt.SQL)
	if err != nil {
		return nil, err
	}
	stmt.Kind = kind
	stmt.Model = s.Model()
	stmt.PrimaryKey = s.Model().PrimaryKey().Name
	stmt.HasJoins = !s.Joins().Empty()
	stmt.Single = s.Single()
	stmt.ExecOptions = s.execOpts
	stmt.Flush = s.flush
	stmt.Commit = s.commit

	a.logger.Debug("assembled statement",
		zap.String("kind", kind.String()),
		zap.String("model", s.Model().Name),
		zap.String("sql", stmt.SQL),
		zap.Int("args", len(stmt.Args)))
	return stmt, nil
}

func (a *Assembler) qualifiedPK(s *State, p *plan) string {
	return quoteIdentifier(p.table) + "." + quoteIdentifier(s.Model().PrimaryKey().Name)
}

func (a *Assembler) orderClauses(s *State, p *plan) ([]string, error) {
	clauses := make([]string, 0, len(s.ordering))
	for _, term := range s.ordering {
		alias, ok := p.aliasByPath[term.Ref.PathKey()]
		if !ok {
			return nil, fmt.Errorf("no join planned for ordering path %q", term.Path)
		}
		dir := "ASC"
		if term.Desc {
			dir = "DESC"
		}
		clauses = append(clauses, quoteIdentifier(alias)+"."+quoteIdentifier(term.Ref.Column)+" "+dir)
	}
	return clauses, nil
}

func (a *Assembler) assembleSelect(s *State, p *plan, where sq.Sqlizer) (*Statement, error) {
	stmt := &Statement{Flat: s.flat}

	var columns []string
	if len(s.values) > 0 {
		if s.flat && len(s.values) != 1 {
			return nil, fmt.Errorf("flat extraction requires exactly one field, got %d", len(s.values))
		}
		for _, ref := range s.values {
			columns = append(columns,
				quoteIdentifier(p.table)+"."+quoteIdentifier(ref.Column)+" AS "+quoteIdentifier(ref.Column))
			stmt.Columns = append(stmt.Columns, ref.Column)
		}
	} else {
		if s.flat {
			return nil, fmt.Errorf("flat extraction requires a values-list projection")
		}
		for _, name := range s.Model().ColumnNames() {
			columns = append(columns,
				quoteIdentifier(p.table)+"."+quoteIdentifier(name)+" AS "+quoteIdentifier(name))
			stmt.Columns = append(stmt.Columns, name)
		}
		loads, loadCols, err := a.planLoads(s.Joins(), p, nil)
		if err != nil {
			return nil, err
		}
		stmt.Loads = loads
		columns = append(columns, loadCols...)
	}

	b := sq.Select(columns...).From(quoteIdentifier(p.table))
	if s.distinct {
		b = b.Distinct()
	}
	b = applyJoins(b, p)

	paginate := s.limit != nil || s.offset != nil
	if paginate && !s.Joins().Empty() {
		// Joins fan the primary entity out across rows, so a bare
		// LIMIT/OFFSET would bound rows rather than entities. The bounds
		// move into a subquery over distinct primary keys and the outer
		// query selects members of that page. The predicates stay on the
		// outer query too, so filters on joined columns keep constraining
		// the eager-loaded rows exactly as they do without pagination.
		inner := sq.Select("DISTINCT " + a.qualifiedPK(s, p)).From(quoteIdentifier(p.table))
		inner = applyJoins(inner, p)
		if where != nil {
			inner = inner.Where(where)
			b = b.Where(where)
		}
		if s.limit != nil {
			inner = inner.Limit(*s.limit)
		}
		if s.offset != nil {
			inner = inner.Offset(*s.offset)
		}
		innerSQL, innerArgs, err := inner.ToSql()
		if err != nil {
			return nil, err
		}
		b = b.Where(sq.Expr(a.qualifiedPK(s, p)+" IN ("+innerSQL+")", innerArgs...))
	} else {
		if where != nil {
			b = b.Where(where)
		}
		if s.limit != nil {
			b = b.Limit(*s.limit)
		}
		if s.offset != nil {
			b = b.Offset(*s.offset)
		}
	}

	order, err := a.orderClauses(s, p)
	if err != nil {
		return nil, err
	}
	if len(order) > 0 {
		b = b.OrderBy(order...)
	}

	stmt.SQL, stmt.Args, err = b.ToSql()
	if err != nil {
		return nil, err
	}
	return stmt, nil
}

// planLoads builds the eager-load instructions from the join tree, together
// with the prefixed select columns that feed them.
func (a *Assembler) planLoads(parent *JoinNode, p *plan, path []string) ([]*Load, []string, error) {
	var loads []*Load
	var columns []string
	for _, node := range parent.Children() {
		if !node.Eager {
			continue
		}
		hops := append(append([]string{}, path...), node.Rel.Name)
		key := strings.Join(hops, LookupSep)
		alias := p.aliasByPath[key]
		target, ok := a.registry.Model(node.Target)
		if !ok {
			return nil, nil, fmt.Errorf("model %q referenced by relationship %q is not registered", node.Target, node.Rel.Name)
		}
		mode := LoadReuseJoin
		if node.EagerOwn {
			mode = LoadDedicatedJoin
		}
		load := &Load{
			Field:       node.Rel.Name,
			Path:        hops,
			Prefix:      key,
			Mode:        mode,
			Cardinality: node.Rel.Cardinality,
			TargetModel: target.Name,
			PrimaryKey:  target.PrimaryKey().Name,
			Columns:     target.ColumnNames(),
		}
		for _, col := range load.Columns {
			columns = append(columns,
				quoteIdentifier(alias)+"."+quoteIdentifier(col)+" AS "+quoteIdentifier(key+LookupSep+col))
		}
		children, childCols, err := a.planLoads(node, p, hops)
		if err != nil {
			return nil, nil, err
		}
		load.Children = children
		columns = append(columns, childCols...)
		loads = append(loads, load)
	}
	return loads, columns, nil
}

func (a *Assembler) assembleCount(s *State, p *plan, where sq.Sqlizer) (*Statement, error) {
	expr := "COUNT(*)"
	if !s.Joins().Empty() {
		expr = "COUNT(DISTINCT " + a.qualifiedPK(s, p) + ")"
	}
	b := sq.Select(expr).From(quoteIdentifier(p.table))
	b = applyJoins(b, p)
	if where != nil {
		b = b.Where(where)
	}
	stmt := &Statement{}
	var err error
	stmt.SQL, stmt.Args, err = b.ToSql()
	if err != nil {
		return nil, err
	}
	return stmt, nil
}

// mutationTarget builds the pk-membership predicate shared by update and
// delete: the statement body touches only the primary table and targets rows
// whose primary key appears in a distinct-key subquery carrying the joins,
// predicates and bounds of the accumulated state.
func (a *Assembler) mutationTarget(s *State, p *plan, where sq.Sqlizer) (sq.Sqlizer, error) {
	inner := sq.Select("DISTINCT " + a.qualifiedPK(s, p)).From(quoteIdentifier(p.table))
	inner = applyJoins(inner, p)
	if where != nil {
		inner = inner.Where(where)
	}
	if s.limit != nil {
		inner = inner.Limit(*s.limit)
	}
	if s.offset != nil {
		inner = inner.Offset(*s.offset)
	}
	innerSQL, innerArgs, err := inner.ToSql()
	if err != nil {
		return nil, err
	}
	pk := quoteIdentifier(s.Model().PrimaryKey().Name)
	return sq.Expr(pk+" IN ("+innerSQL+")", innerArgs...), nil
}

func (a *Assembler) returningColumns(s *State) []string {
	if s.retModel {
		cols := make([]string, 0, len(s.Model().ColumnNames()))
		for _, name := range s.Model().ColumnNames() {
			cols = append(cols, quoteIdentifier(name))
		}
		return cols
	}
	if len(s.returning) > 0 {
		cols := make([]string, 0, len(s.returning))
		for _, ref := range s.returning {
			cols = append(cols, quoteIdentifier(ref.Column))
		}
		return cols
	}
	return []string{quoteIdentifier(s.Model().PrimaryKey().Name)}
}

func (a *Assembler) returningNames(s *State) []string {
	if s.retModel {
		return s.Model().ColumnNames()
	}
	if len(s.returning) > 0 {
		names := make([]string, 0, len(s.returning))
		for _, ref := range s.returning {
			names = append(names, ref.Column)
		}
		return names
	}
	return []string{s.Model().PrimaryKey().Name}
}

func (a *Assembler) assembleUpdate(s *State, p *plan, where sq.Sqlizer, values map[string]any) (*Statement, error) {
	if len(values) == 0 {
		return nil, fmt.Errorf("update requires at least one column assignment")
	}
	cols := make([]string, 0, len(values))
	for name := range values {
		if _, ok := s.Model().Column(name); !ok {
			return nil, &UnknownFieldError{Model: s.Model().Name, Token: name, Path: name}
		}
		cols = append(cols, name)
	}
	sort.Strings(cols)

	b := sq.Update(quoteIdentifier(p.table))
	for _, name := range cols {
		b = b.Set(quoteIdentifier(name), values[name])
	}
	target, err := a.mutationTarget(s, p, where)
	if err != nil {
		return nil, err
	}
	b = b.Where(target).Suffix("RETURNING " + strings.Join(a.returningColumns(s), ", "))

	stmt := &Statement{Columns: a.returningNames(s)}
	stmt.SQL, stmt.Args, err = b.ToSql()
	if err != nil {
		return nil, err
	}
	return stmt, nil
}

func (a *Assembler) assembleDelete(s *State, p *plan, where sq.Sqlizer) (*Statement, error) {
	b := sq.Delete(quoteIdentifier(p.table))
	target, err := a.mutationTarget(s, p, where)
	if err != nil {
		return nil, err
	}
	b = b.Where(target).Suffix("RETURNING " + strings.Join(a.returningColumns(s), ", "))

	stmt := &Statement{Columns: a.returningNames(s)}
	var toErr error
	stmt.SQL, stmt.Args, toErr = b.ToSql()
	if toErr != nil {
		return nil, toErr
	}
	return stmt, nil
}
