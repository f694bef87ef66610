package query

import (
	"fmt"
	"reflect"

	sq "github.com/Masterminds/squirrel"
)

// defaultLookup is applied when a filter path carries no trailing operator.
const defaultLookup = "exact"

// PredicateFunc builds a boolean expression for an already alias-qualified
// column and a caller-supplied operand.
type PredicateFunc func(column string, value any) (sq.Sqlizer, error)

// LookupRegistry is the fixed table of lookup operators. It is built once at
// startup for a dialect and never mutated afterwards, so it is safe to share
// across goroutines without synchronization.
type LookupRegistry struct {
	dialect Dialect
	ops     map[string]PredicateFunc
}

// NewLookupRegistry builds the standard operator table for a dialect.
func NewLookupRegistry(dialect Dialect) *LookupRegistry {
	r := &LookupRegistry{dialect: dialect, ops: make(map[string]PredicateFunc)}
	r.registerStandard()
	r.registerDateParts()
	return r
}

// Dialect returns the dialect the registry was built for.
func (r *LookupRegistry) Dialect() Dialect { return r.dialect }

// Has reports whether an operator name is registered.
func (r *LookupRegistry) Has(name string) bool {
	_, ok := r.ops[name]
	return ok
}

// Predicate builds the expression for a named operator. An empty name selects
// the default equality operator.
func (r *LookupRegistry) Predicate(name string, column string, value any) (sq.Sqlizer, error) {
	if name == "" {
		name = defaultLookup
	}
	op, ok := r.ops[name]
	if !ok {
		return nil, &UnknownLookupOperatorError{Operator: name, Path: column}
	}
	return op(column, value)
}

func (r *LookupRegistry) registerStandard() {
	eq := func(column string, value any) (sq.Sqlizer, error) {
		return sq.Eq{column: value}, nil
	}
	r.ops["exact"] = eq
	r.ops["eq"] = eq
	r.ops["ne"] = func(column string, value any) (sq.Sqlizer, error) {
		return sq.NotEq{column: value}, nil
	}
	r.ops["gt"] = func(column string, value any) (sq.Sqlizer, error) {
		return sq.Gt{column: value}, nil
	}
	r.ops["ge"] = func(column string, value any) (sq.Sqlizer, error) {
		return sq.GtOrEq{column: value}, nil
	}
	r.ops["lt"] = func(column string, value any) (sq.Sqlizer, error) {
		return sq.Lt{column: value}, nil
	}
	r.ops["le"] = func(column string, value any) (sq.Sqlizer, error) {
		return sq.LtOrEq{column: value}, nil
	}
	r.ops["in"] = func(column string, value any) (sq.Sqlizer, error) {
		if !isSequence(value) {
			return nil, fmt.Errorf("operator `in` requires a slice operand, got %T", value)
		}
		return sq.Eq{column: value}, nil
	}
	r.ops["notin"] = func(column string, value any) (sq.Sqlizer, error) {
		if !isSequence(value) {
			return nil, fmt.Errorf("operator `notin` requires a slice operand, got %T", value)
		}
		return sq.NotEq{column: value}, nil
	}
	r.ops["isnull"] = func(column string, value any) (sq.Sqlizer, error) {
		isNull, ok := value.(bool)
		if !ok {
			return nil, fmt.Errorf("operator `isnull` requires a bool operand, got %T", value)
		}
		if isNull {
			return sq.Eq{column: nil}, nil
		}
		return sq.NotEq{column: nil}, nil
	}
	r.ops["between"] = func(column string, value any) (sq.Sqlizer, error) {
		lo, hi, err := rangeOperands(value)
		if err != nil {
			return nil, err
		}
		return sq.Expr(fmt.Sprintf("%s BETWEEN ? AND ?", column), lo, hi), nil
	}
	r.ops["like"] = func(column string, value any) (sq.Sqlizer, error) {
		return sq.Like{column: value}, nil
	}
	r.ops["ilike"] = r.patternOp("ilike", true, func(s string) string { return s })
	r.ops["startswith"] = r.patternOp("startswith", false, func(s string) string { return s + "%" })
	r.ops["istartswith"] = r.patternOp("istartswith", true, func(s string) string { return s + "%" })
	r.ops["endswith"] = r.patternOp("endswith", false, func(s string) string { return "%" + s })
	r.ops["iendswith"] = r.patternOp("iendswith", true, func(s string) string { return "%" + s })
	r.ops["contains"] = r.patternOp("contains", false, func(s string) string { return "%" + s + "%" })
	r.ops["icontains"] = r.patternOp("icontains", true, func(s string) string { return "%" + s + "%" })
}

// patternOp builds a LIKE-family operator that derives the pattern from a
// string operand.
func (r *LookupRegistry) patternOp(name string, caseInsensitive bool, pattern func(string) string) PredicateFunc {
	dialect := r.dialect
	return func(column string, value any) (sq.Sqlizer, error) {
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("operator `%s` requires a string operand, got %T", name, value)
		}
		if caseInsensitive {
			return dialect.CaseInsensitiveLike(column, pattern(s)), nil
		}
		return sq.Like{column: pattern(s)}, nil
	}
}

// registerDateParts fills the year/month/day component-comparison family:
// `year` (equality) plus `year_ne`, `year_gt`, `year_ge`, `year_lt`,
// `year_le`, and likewise for month and day.
func (r *LookupRegistry) registerDateParts() {
	comparisons := []struct {
		suffix string
		op     string
	}{
		{"", "="},
		{"_ne", "<>"},
		{"_gt", ">"},
		{"_ge", ">="},
		{"_lt", "<"},
		{"_le", "<="},
	}
	dialect := r.dialect
	for _, part := range []string{"year", "month", "day"} {
		for _, cmp := range comparisons {
			op := cmp.op
			r.ops[part+cmp.suffix] = func(column string, value any) (sq.Sqlizer, error) {
				return sq.Expr(fmt.Sprintf("%s %s ?", dialect.DatePart(part, column), op), value), nil
			}
		}
	}
}

func isSequence(value any) bool {
	if value == nil {
		return false
	}
	k := reflect.TypeOf(value).Kind()
	return k == reflect.Slice || k == reflect.Array
}

func rangeOperands(value any) (any, any, error) {
	if !isSequence(value) {
		return nil, nil, fmt.Errorf("operator `between` requires a two-element slice operand, got %T", value)
	}
	v := reflect.ValueOf(value)
	if v.Len() != 2 {
		return nil, nil, fmt.Errorf("operator `between` requires exactly two operands, got %d", v.Len())
	}
	return v.Index(0).Interface(), v.Index(1).Interface(), nil
}
