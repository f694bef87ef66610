// Package queryset provides the chainable query facade: an immutable builder
// over a registered model graph whose terminal calls assemble statements and
// hand them to an execution collaborator, plus the repository entry point that
// wires models, dialect, executor and event bus together.
package queryset

import (
	"context"

	"github.com/asaidimu/go-queryset/core/model"
	"github.com/asaidimu/go-queryset/core/query"
)

// Executor is the execution collaborator: it runs assembled statements and
// shapes the raw rows back into entities. The builder never touches a
// database handle itself, so any engine that can honor a Statement (a live
// session, a transaction, a mock) plugs in here.
type Executor interface {
	// Select runs a select statement and returns assembled entities, with
	// eager-loaded relationships nested per the statement's load
	// instructions and fan-out rows already collapsed.
	Select(ctx context.Context, stmt *query.Statement) ([]model.Entity, error)

	// Scalar runs a statement expected to yield a single value, such as a
	// count.
	Scalar(ctx context.Context, stmt *query.Statement) (any, error)

	// Mutate runs an update or delete statement and returns its RETURNING
	// rows.
	Mutate(ctx context.Context, stmt *query.Statement) ([]model.Entity, error)

	// Insert writes new rows for a model and returns the stored entities.
	Insert(ctx context.Context, m *model.Model, rows []map[string]any) ([]model.Entity, error)
}
