package query

import "github.com/asaidimu/go-queryset/core/model"

// Kind identifies the statement family an assembly produced.
type Kind int

const (
	KindSelect Kind = iota
	KindCount
	KindUpdate
	KindDelete
)

func (k Kind) String() string {
	switch k {
	case KindCount:
		return "count"
	case KindUpdate:
		return "update"
	case KindDelete:
		return "delete"
	default:
		return "select"
	}
}

// LoadMode records whether an eager load rides on a join that also constrains
// the result set, or on a join added purely for loading.
type LoadMode int

const (
	// LoadReuseJoin populates the relationship from a join that filtering,
	// ordering or an explicit join call already introduced. The loaded
	// children reflect that join's constraints.
	LoadReuseJoin LoadMode = iota
	// LoadDedicatedJoin populates the relationship from a join that exists
	// only for loading and does not constrain the primary result set.
	LoadDedicatedJoin
)

// Load is one eager-load instruction: which relationship to populate, where
// its columns sit in the flat result row, and how to fold child rows into the
// parent entity. Nested loads mirror the relationship path.
type Load struct {
	Field       string // relationship name on the parent entity
	Path        []string
	Prefix      string // column alias prefix in the row, e.g. "subsections__status"
	Mode        LoadMode
	Cardinality model.Cardinality
	TargetModel string
	PrimaryKey  string
	Columns     []string
	Children    []*Load
}

// Statement is the executable outcome of assembly: final SQL with bound
// arguments plus everything the execution collaborator needs to shape rows
// back into entities.
type Statement struct {
	Kind Kind
	SQL  string
	Args []any

	Model      *model.Model
	Columns    []string // bare result-column names for the primary entity
	Loads      []*Load
	PrimaryKey string
	HasJoins   bool

	// Flat/Single describe the requested result shape; Named is implied
	// whenever a values-list projection is not flat.
	Flat   bool
	Single bool

	ExecOptions map[string]any
	Flush       bool
	Commit      bool
}
