package queryset

import (
	"context"
	"time"

	"github.com/asaidimu/go-events"
	"github.com/google/uuid"
)

// EventType identifies the lifecycle events emitted around query execution
// and entity writes.
type EventType string

const (
	QueryStart   EventType = "query:start"
	QuerySuccess EventType = "query:success"
	QueryFailed  EventType = "query:failed"

	EntityCreateStart   EventType = "entity:create:start"
	EntityCreateSuccess EventType = "entity:create:success"
	EntityCreateFailed  EventType = "entity:create:failed"
	EntityUpdateStart   EventType = "entity:update:start"
	EntityUpdateSuccess EventType = "entity:update:success"
	EntityUpdateFailed  EventType = "entity:update:failed"
	EntityDeleteStart   EventType = "entity:delete:start"
	EntityDeleteSuccess EventType = "entity:delete:success"
	EntityDeleteFailed  EventType = "entity:delete:failed"
)

// Event is the payload delivered to subscribers. Duration is only present on
// success/failed events and is measured in milliseconds.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp int64     `json:"timestamp"`
	Operation string    `json:"operation"`
	Model     *string   `json:"model,omitempty"`
	Input     any       `json:"input,omitempty"`
	Output    any       `json:"output,omitempty"`
	Query     any       `json:"query,omitempty"`
	Error     *string   `json:"error,omitempty"`
	Duration  *int64    `json:"duration,omitempty"`
}

// EventCallback is the subscriber signature.
type EventCallback func(ctx context.Context, event Event) error

// Bus carries repository lifecycle events.
type Bus = events.TypedEventBus[Event]

// NewBus creates an event bus with the library defaults.
func NewBus() (*Bus, error) {
	return events.NewTypedEventBus[Event](events.DefaultConfig())
}

func createEvent(
	eventType EventType,
	operation string,
	modelName string,
	input any,
	output any,
	queryParam any,
	errStr *string,
	startTime time.Time,
) Event {
	var duration *int64
	if !startTime.IsZero() {
		d := time.Since(startTime).Milliseconds()
		duration = &d
	}

	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UnixMilli(),
		Operation: operation,
		Model:     &modelName,
		Input:     input,
		Output:    output,
		Query:     queryParam,
		Error:     errStr,
		Duration:  duration,
	}
}

// emitter wraps operations with start, success and failure events. A nil bus
// disables emission entirely.
type emitter struct {
	bus       *Bus
	modelName string
}

func (e emitter) emit(event Event) {
	if e.bus != nil {
		e.bus.Emit(string(event.Type), event)
	}
}

func (e emitter) withEvents(
	operation string,
	startType, successType, failedType EventType,
	input any,
	queryParam any,
	fn func() (any, error),
) (any, error) {
	startTime := time.Now()
	// Start events carry no duration; createEvent treats a zero time as
	// "not measured".
	e.emit(createEvent(startType, operation, e.modelName, input, nil, queryParam, nil, time.Time{}))

	result, err := fn()
	if err != nil {
		errStr := err.Error()
		e.emit(createEvent(failedType, operation, e.modelName, input, nil, queryParam, &errStr, startTime))
		return nil, err
	}

	e.emit(createEvent(successType, operation, e.modelName, input, result, queryParam, nil, startTime))
	return result, nil
}
