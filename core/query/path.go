// Package query implements the query graph builder and statement assembler:
// double-underscore path resolution against a registered model graph, the
// deduplicated join tree, the lookup-operator table, the immutable accumulated
// query state, and the translation of that state into executable select,
// count, update and delete statements.
package query

import (
	"strings"

	"github.com/asaidimu/go-queryset/core/model"
)

// LookupSep separates hops, the terminal column and an optional lookup
// operator inside a path string, e.g. "subsections__status__code__icontains".
const LookupSep = "__"

// ResolvedPath is the outcome of walking a field path: the ordered
// relationship hops, the model owning the terminal column, the column itself
// and the lookup operator selected by the trailing token (defaulting to
// equality).
type ResolvedPath struct {
	Hops     []model.Relationship
	Model    *model.Model
	Column   model.Column
	Operator string
}

// Ref returns the column reference for the resolved path.
func (p ResolvedPath) Ref() ColumnRef {
	hops := make([]string, len(p.Hops))
	for i, h := range p.Hops {
		hops[i] = h.Name
	}
	return ColumnRef{Hops: hops, Column: p.Column.Name}
}

// Resolver walks path strings against the model registry. Resolution is pure
// metadata work; no database access happens here.
type Resolver struct {
	registry *model.Registry
	lookups  *LookupRegistry
}

// NewResolver creates a resolver over a model registry and operator table.
func NewResolver(registry *model.Registry, lookups *LookupRegistry) *Resolver {
	return &Resolver{registry: registry, lookups: lookups}
}

// Registry returns the model registry the resolver reads from.
func (r *Resolver) Registry() *model.Registry { return r.registry }

// Lookups returns the lookup-operator table.
func (r *Resolver) Lookups() *LookupRegistry { return r.lookups }

func (r *Resolver) split(path string) ([]string, error) {
	if path == "" {
		return nil, &InvalidPathError{Path: path, Reason: "empty path"}
	}
	tokens := strings.Split(path, LookupSep)
	for _, tok := range tokens {
		if tok == "" {
			return nil, &InvalidPathError{Path: path, Reason: "empty path segment"}
		}
	}
	return tokens, nil
}

// ResolveField resolves a filter-style path: zero or more relationship hops,
// a terminal column and an optional trailing lookup operator. Every token is
// checked even after the terminal column is found, so a malformed path such as
// "first_name__last_name" fails instead of silently filtering on the last
// valid column.
func (r *Resolver) ResolveField(m *model.Model, path string) (ResolvedPath, error) {
	tokens, err := r.split(path)
	if err != nil {
		return ResolvedPath{}, err
	}

	res := ResolvedPath{Model: m, Operator: defaultLookup}
	cur := m
	haveColumn := false
	for i, tok := range tokens {
		last := i == len(tokens)-1
		if rel, ok := cur.Relationship(tok); ok && !haveColumn {
			target, ok := r.registry.Model(rel.Target)
			if !ok {
				return ResolvedPath{}, &UnknownFieldError{Model: cur.Name, Token: tok, Path: path}
			}
			if last {
				return ResolvedPath{}, &InvalidPathError{
					Path:   path,
					Reason: "path ends at relationship `" + tok + "`; a column is required",
				}
			}
			res.Hops = append(res.Hops, rel)
			cur = target
			continue
		}
		if col, ok := cur.Column(tok); ok {
			if !haveColumn {
				res.Column = col
				res.Model = cur
				haveColumn = true
				continue
			}
			// A column name may double as a lookup operator, e.g. a
			// date column `day` filtered by day-of-month via "day__day".
			if last && tok == res.Column.Name && r.lookups.Has(tok) {
				res.Operator = tok
				continue
			}
			return ResolvedPath{}, &InvalidPathError{
				Path:   path,
				Reason: "more than one column named; only one terminal column is allowed",
			}
		}
		if last && haveColumn {
			if r.lookups.Has(tok) {
				res.Operator = tok
				continue
			}
			return ResolvedPath{}, &UnknownLookupOperatorError{Operator: tok, Path: path}
		}
		return ResolvedPath{}, &UnknownFieldError{Model: cur.Name, Token: tok, Path: path}
	}
	return res, nil
}

// ResolveRelationship resolves an option/explicit-join path, where every
// token must name a relationship.
func (r *Resolver) ResolveRelationship(m *model.Model, path string) ([]model.Relationship, error) {
	tokens, err := r.split(path)
	if err != nil {
		return nil, err
	}
	hops := make([]model.Relationship, 0, len(tokens))
	cur := m
	for _, tok := range tokens {
		rel, ok := cur.Relationship(tok)
		if !ok {
			return nil, &UnknownFieldError{Model: cur.Name, Token: tok, Path: path}
		}
		target, ok := r.registry.Model(rel.Target)
		if !ok {
			return nil, &UnknownFieldError{Model: cur.Name, Token: tok, Path: path}
		}
		hops = append(hops, rel)
		cur = target
	}
	return hops, nil
}

// ResolveOrdering resolves an ordering path. A leading '-' selects descending
// order; lookup operators are not allowed in ordering paths.
func (r *Resolver) ResolveOrdering(m *model.Model, path string) (ResolvedPath, bool, error) {
	desc := strings.HasPrefix(path, "-")
	trimmed := strings.TrimLeft(path, "+-")
	res, err := r.ResolveField(m, trimmed)
	if err != nil {
		return ResolvedPath{}, false, err
	}
	if res.Operator != defaultLookup {
		return ResolvedPath{}, false, &InvalidPathError{
			Path:   path,
			Reason: "lookup operator `" + res.Operator + "` is not allowed in an ordering path",
		}
	}
	return res, desc, nil
}
