// Package model defines the static descriptor tables that describe an
// application's model graph. Each model declares its table, columns and
// relationships once at startup; the query layer consumes this metadata
// through a Registry without any runtime reflection or database access.
package model

import (
	"fmt"
)

// Entity is a single database row, keyed by column name. Eager-loaded
// relationships appear under the relationship's field name, holding either a
// nested Entity (to-one) or a []Entity (to-many).
type Entity map[string]any

// Cardinality describes the shape of a relationship's target.
type Cardinality string

const (
	// ToOne relationships resolve to a single related entity (or nil).
	ToOne Cardinality = "to_one"
	// ToMany relationships resolve to a collection of related entities.
	ToMany Cardinality = "to_many"
)

// ColumnType is the logical type of a column, used by execution collaborators
// to normalize driver values.
type ColumnType string

const (
	TypeInteger  ColumnType = "integer"
	TypeText     ColumnType = "text"
	TypeBoolean  ColumnType = "boolean"
	TypeFloat    ColumnType = "float"
	TypeDateTime ColumnType = "datetime"
)

// Column describes a scalar column on a model.
type Column struct {
	Name       string
	Type       ColumnType
	Nullable   bool
	PrimaryKey bool
}

// Relationship describes a traversable link to another model. Both directions
// of a relationship are declared explicitly: a to-one side carries the foreign
// key column in LocalColumn, a reverse to-many side carries its primary key in
// LocalColumn and the child's foreign key in RemoteColumn.
type Relationship struct {
	Name         string
	Target       string // registered name of the target model
	Cardinality  Cardinality
	LocalColumn  string // join column on the owning model's table
	RemoteColumn string // join column on the target model's table
}

// Model is the descriptor table for one entity type. The exported fields are
// the declaration; lookup maps are built when the model is registered.
type Model struct {
	Name          string
	Table         string
	Columns       []Column
	Relationships []Relationship

	columns map[string]Column
	rels    map[string]Relationship
	pk      string
}

// Column returns the named column descriptor, if declared.
func (m *Model) Column(name string) (Column, bool) {
	c, ok := m.columns[name]
	return c, ok
}

// Relationship returns the named relationship descriptor, if declared.
func (m *Model) Relationship(name string) (Relationship, bool) {
	r, ok := m.rels[name]
	return r, ok
}

// PrimaryKey returns the model's primary key column.
func (m *Model) PrimaryKey() Column {
	return m.columns[m.pk]
}

// ColumnNames returns column names in declaration order.
func (m *Model) ColumnNames() []string {
	names := make([]string, len(m.Columns))
	for i, c := range m.Columns {
		names[i] = c.Name
	}
	return names
}

// index builds the lookup maps and checks the model is internally consistent.
func (m *Model) index() error {
	if m.Name == "" {
		return fmt.Errorf("model must have a name")
	}
	if m.Table == "" {
		return fmt.Errorf("model %s must have a table", m.Name)
	}
	m.columns = make(map[string]Column, len(m.Columns))
	m.pk = ""
	for _, c := range m.Columns {
		if c.Name == "" {
			return fmt.Errorf("model %s declares a column without a name", m.Name)
		}
		if _, dup := m.columns[c.Name]; dup {
			return fmt.Errorf("model %s declares column %q twice", m.Name, c.Name)
		}
		m.columns[c.Name] = c
		if c.PrimaryKey {
			if m.pk != "" {
				return fmt.Errorf("model %s declares more than one primary key column", m.Name)
			}
			m.pk = c.Name
		}
	}
	if m.pk == "" {
		return fmt.Errorf("model %s has no primary key column", m.Name)
	}
	m.rels = make(map[string]Relationship, len(m.Relationships))
	for _, r := range m.Relationships {
		if r.Name == "" {
			return fmt.Errorf("model %s declares a relationship without a name", m.Name)
		}
		if _, clash := m.columns[r.Name]; clash {
			return fmt.Errorf("model %s: relationship %q clashes with a column of the same name", m.Name, r.Name)
		}
		if _, dup := m.rels[r.Name]; dup {
			return fmt.Errorf("model %s declares relationship %q twice", m.Name, r.Name)
		}
		m.rels[r.Name] = r
	}
	return nil
}

// Registry holds all registered model descriptors and serves metadata lookups
// for the query layer. Register everything at startup; a populated registry is
// read-only and safe for concurrent use.
type Registry struct {
	models map[string]*Model
}

// NewRegistry creates an empty model registry.
func NewRegistry() *Registry {
	return &Registry{models: make(map[string]*Model)}
}

// Register indexes and validates the given models. Cross-model checks
// (relationship targets and join columns) run after all models are indexed, so
// mutually referencing models may be registered in one call.
func (r *Registry) Register(models ...*Model) error {
	for _, m := range models {
		if err := m.index(); err != nil {
			return err
		}
		if _, dup := r.models[m.Name]; dup {
			return fmt.Errorf("model %s is already registered", m.Name)
		}
		r.models[m.Name] = m
	}
	for _, m := range models {
		for _, rel := range m.Relationships {
			target, ok := r.models[rel.Target]
			if !ok {
				return fmt.Errorf("model %s: relationship %q targets unregistered model %q", m.Name, rel.Name, rel.Target)
			}
			if _, ok := m.Column(rel.LocalColumn); !ok {
				return fmt.Errorf("model %s: relationship %q joins on unknown local column %q", m.Name, rel.Name, rel.LocalColumn)
			}
			if _, ok := target.Column(rel.RemoteColumn); !ok {
				return fmt.Errorf("model %s: relationship %q joins on unknown column %q of model %s", m.Name, rel.Name, rel.RemoteColumn, rel.Target)
			}
		}
	}
	return nil
}

// Model returns the registered model descriptor by name.
func (r *Registry) Model(name string) (*Model, bool) {
	m, ok := r.models[name]
	return m, ok
}
