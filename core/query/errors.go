package query

import "fmt"

// UnknownFieldError reports a path token that names neither a column nor a
// relationship on the model reached at that point of the path.
type UnknownFieldError struct {
	Model string
	Token string
	Path  string
}

func (e *UnknownFieldError) Error() string {
	return fmt.Sprintf("query path %q: model %s has no column or relationship %q", e.Path, e.Model, e.Token)
}

// UnknownLookupOperatorError reports a trailing path token that is not a
// registered lookup operator.
type UnknownLookupOperatorError struct {
	Operator string
	Path     string
}

func (e *UnknownLookupOperatorError) Error() string {
	return fmt.Sprintf("query path %q: unknown lookup operator %q", e.Path, e.Operator)
}

// InvalidPathError reports an empty or malformed path string.
type InvalidPathError struct {
	Path   string
	Reason string
}

func (e *InvalidPathError) Error() string {
	return fmt.Sprintf("invalid query path %q: %s", e.Path, e.Reason)
}

// InvalidSliceStepError reports a slice access with a step other than one.
type InvalidSliceStepError struct {
	Step int
}

func (e *InvalidSliceStepError) Error() string {
	return fmt.Sprintf("slice step must be 1, got %d", e.Step)
}

// MultipleResultsError reports that a single-result accessor matched more than
// one row.
type MultipleResultsError struct {
	Model string
}

func (e *MultipleResultsError) Error() string {
	return fmt.Sprintf("expected at most one %s row, got more than one", e.Model)
}

// DuplicateKeyError reports that the key field chosen for an in-bulk mapping
// is not unique across the result rows.
type DuplicateKeyError struct {
	Field string
	Value any
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("in-bulk key field %q is not unique: duplicate value %v", e.Field, e.Value)
}

// NotFoundError reports that a strict single-result accessor matched no rows.
type NotFoundError struct {
	Model string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no %s row matched the query", e.Model)
}
