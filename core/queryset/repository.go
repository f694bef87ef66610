package queryset

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/asaidimu/go-queryset/core/model"
	"github.com/asaidimu/go-queryset/core/query"
)

// Config carries the collaborators a repository needs. Registry and Executor
// are required; Dialect defaults to SQLite, Logger to a no-op logger and Bus
// to a fresh bus.
type Config struct {
	Registry *model.Registry
	Dialect  query.Dialect
	Executor Executor
	Logger   *zap.Logger
	Bus      *Bus
}

// Repository is the entry point for one model: it owns the resolver,
// assembler and event bus, hands out query sets and performs entity writes.
type Repository struct {
	mdl      *model.Model
	resolver *query.Resolver
	asm      *query.Assembler
	exec     Executor
	bus      *Bus
	logger   *zap.Logger
}

// NewRepository creates a repository for a registered model.
func NewRepository(modelName string, cfg Config) (*Repository, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("repository requires a model registry")
	}
	if cfg.Executor == nil {
		return nil, fmt.Errorf("repository requires an executor")
	}
	m, ok := cfg.Registry.Model(modelName)
	if !ok {
		return nil, fmt.Errorf("model %q is not registered", modelName)
	}

	dialect := cfg.Dialect
	if dialect == nil {
		dialect = query.SQLiteDialect{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	bus := cfg.Bus
	if bus == nil {
		var err error
		bus, err = NewBus()
		if err != nil {
			return nil, fmt.Errorf("failed to create event bus: %w", err)
		}
	}

	lookups := query.NewLookupRegistry(dialect)
	resolver := query.NewResolver(cfg.Registry, lookups)
	return &Repository{
		mdl:      m,
		resolver: resolver,
		asm:      query.NewAssembler(cfg.Registry, lookups, logger),
		exec:     cfg.Executor,
		bus:      bus,
		logger:   logger,
	}, nil
}

// Model returns the repository's model.
func (r *Repository) Model() *model.Model { return r.mdl }

// Objects returns a fresh query set over the whole table.
func (r *Repository) Objects() *QuerySet {
	return &QuerySet{
		state:  query.NewState(r.mdl, r.resolver),
		asm:    r.asm,
		exec:   r.exec,
		em:     emitter{bus: r.bus, modelName: r.mdl.Name},
		logger: r.logger,
	}
}

// Create inserts one entity and returns it as stored.
func (r *Repository) Create(ctx context.Context, values map[string]any) (model.Entity, error) {
	qs := r.Objects()
	if err := qs.plainColumns(values); err != nil {
		return nil, err
	}
	return qs.create(ctx, values)
}

// BulkCreate inserts several entities in one statement and returns them as
// stored, in input order.
func (r *Repository) BulkCreate(ctx context.Context, rows []map[string]any) ([]model.Entity, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	qs := r.Objects()
	for _, row := range rows {
		if err := qs.plainColumns(row); err != nil {
			return nil, err
		}
	}
	em := emitter{bus: r.bus, modelName: r.mdl.Name}
	result, err := em.withEvents("bulk_create", EntityCreateStart, EntityCreateSuccess, EntityCreateFailed, rows, nil,
		func() (any, error) {
			return r.exec.Insert(ctx, r.mdl, rows)
		})
	if err != nil {
		return nil, err
	}
	return result.([]model.Entity), nil
}

// Get fetches the entity with the given primary key, failing when absent.
func (r *Repository) Get(ctx context.Context, pk any) (model.Entity, error) {
	return r.Objects().Filter(r.mdl.PrimaryKey().Name, pk).GetOne(ctx)
}

// Subscribe registers a callback for a lifecycle event and returns its
// unsubscribe function.
func (r *Repository) Subscribe(event EventType, callback EventCallback) func() {
	return r.bus.Subscribe(string(event), callback)
}
