package sqlite

import (
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/asaidimu/go-queryset/core/model"
	"github.com/asaidimu/go-queryset/core/query"
)

// columnTypes builds the result-column type table for a statement: the
// primary entity's columns under their bare names plus every eager-loaded
// column under its prefixed alias.
func columnTypes(registry *model.Registry, stmt *query.Statement) map[string]model.ColumnType {
	types := make(map[string]model.ColumnType)
	for _, name := range stmt.Columns {
		if col, ok := stmt.Model.Column(name); ok {
			types[name] = col.Type
		}
	}
	var walk func(loads []*query.Load)
	walk = func(loads []*query.Load) {
		for _, load := range loads {
			if target, ok := registry.Model(load.TargetModel); ok {
				for _, name := range load.Columns {
					if col, ok := target.Column(name); ok {
						types[load.Prefix+query.LookupSep+name] = col.Type
					}
				}
			}
			walk(load.Children)
		}
	}
	walk(stmt.Loads)
	return types
}

// normalizeRow coerces driver values to the declared column types. The
// sqlite driver hands back int64/float64/[]byte/string depending on storage
// class rather than declared type, so booleans arrive as integers and text
// sometimes as byte slices.
func normalizeRow(logger *zap.Logger, row map[string]any, types map[string]model.ColumnType) map[string]any {
	out := make(map[string]any, len(row))
	for col, val := range row {
		if val == nil {
			out[col] = nil
			continue
		}
		t, ok := types[col]
		if !ok {
			out[col] = val
			continue
		}
		normalized, err := normalizeValue(t, val)
		if err != nil {
			logger.Warn("unexpected driver value",
				zap.String("column", col),
				zap.Error(err))
			out[col] = val
			continue
		}
		out[col] = normalized
	}
	return out
}

func normalizeValue(t model.ColumnType, val any) (any, error) {
	switch t {
	case model.TypeBoolean:
		if intVal, isInt := val.(int64); isInt {
			return intVal != 0, nil
		}
		if boolVal, isBool := val.(bool); isBool {
			return boolVal, nil
		}
		return nil, fmt.Errorf("expected boolean storage, got %T", val)
	case model.TypeText, model.TypeDateTime:
		if byteVal, isByte := val.([]byte); isByte {
			return string(byteVal), nil
		}
		if strVal, isString := val.(string); isString {
			return strVal, nil
		}
		if timeVal, isTime := val.(time.Time); isTime {
			return timeVal, nil
		}
		return nil, fmt.Errorf("expected text storage, got %T", val)
	case model.TypeInteger:
		if intVal, isInt := val.(int64); isInt {
			return intVal, nil
		}
		if floatVal, isFloat := val.(float64); isFloat {
			return int64(floatVal), nil
		}
		return nil, fmt.Errorf("expected integer storage, got %T", val)
	case model.TypeFloat:
		if floatVal, isFloat := val.(float64); isFloat {
			return floatVal, nil
		}
		if intVal, isInt := val.(int64); isInt {
			return float64(intVal), nil
		}
		return nil, fmt.Errorf("expected float storage, got %T", val)
	default:
		return val, nil
	}
}

// assembleEntities folds flat result rows back into entities. Joined rows
// fan a primary entity out across several rows, so primary rows are
// deduplicated by primary key and each eager-loaded child is attached once
// per parent, preserving row order throughout.
func assembleEntities(stmt *query.Statement, rows []map[string]any) []model.Entity {
	entities := make([]model.Entity, 0, len(rows))
	// Deduplication needs the primary key in the projection; a values-list
	// row without it passes through as-is.
	canDedup := slices.Contains(stmt.Columns, stmt.PrimaryKey)
	if (len(stmt.Loads) == 0 && !stmt.HasJoins) || !canDedup {
		for _, row := range rows {
			entities = append(entities, model.Entity(row))
		}
		return clampSingle(stmt, entities)
	}

	seen := make(map[string]model.Entity)
	for _, row := range rows {
		pkVal := row[stmt.PrimaryKey]
		key := fmt.Sprint(pkVal)
		entity, ok := seen[key]
		if !ok {
			entity = make(model.Entity, len(stmt.Columns))
			for _, name := range stmt.Columns {
				entity[name] = row[name]
			}
			for _, load := range stmt.Loads {
				prepareField(entity, load)
			}
			seen[key] = entity
			entities = append(entities, entity)
		}
		attachLoads(entity, key, row, stmt.Loads, seen)
	}
	return clampSingle(stmt, entities)
}

// clampSingle honors a single-index access: the statement's bounds already
// select one primary entity, so anything past the first is discarded.
func clampSingle(stmt *query.Statement, entities []model.Entity) []model.Entity {
	if stmt.Single && len(entities) > 1 {
		return entities[:1]
	}
	return entities
}

// prepareField gives an eager-loaded relationship its zero shape before any
// child rows are seen: an empty slice for collections, nil for references.
func prepareField(entity model.Entity, load *query.Load) {
	if load.Cardinality == model.ToMany {
		entity[load.Field] = []model.Entity{}
	} else {
		entity[load.Field] = nil
	}
}

func attachLoads(parent model.Entity, parentKey string, row map[string]any, loads []*query.Load, seen map[string]model.Entity) {
	for _, load := range loads {
		pkAlias := load.Prefix + query.LookupSep + load.PrimaryKey
		pkVal := row[pkAlias]
		if pkVal == nil {
			// Outer-joined row with no child; the prepared zero shape
			// stands.
			continue
		}
		childKey := parentKey + "|" + load.Prefix + "|" + fmt.Sprint(pkVal)
		child, ok := seen[childKey]
		if !ok {
			child = make(model.Entity, len(load.Columns))
			for _, name := range load.Columns {
				child[name] = row[load.Prefix+query.LookupSep+name]
			}
			for _, sub := range load.Children {
				prepareField(child, sub)
			}
			seen[childKey] = child
			if load.Cardinality == model.ToMany {
				parent[load.Field] = append(parent[load.Field].([]model.Entity), child)
			} else {
				parent[load.Field] = child
			}
		}
		attachLoads(child, childKey, row, load.Children, seen)
	}
}
