package episode

import (
	"errors"
	"fmt"
)

// ErrSchema is matched by every *SchemaError.
var ErrSchema = errors.New("schema violation")

// ErrKeyReassigned is returned when an object key already bound to one
// remote ID is bound to another.
var ErrKeyReassigned = errors.New("object key already mapped to a different id")

// SchemaError reports a document that does not conform to the project
// meta or to the episode annotation format.
type SchemaError struct {
	// Path locates the offending element, e.g. "frames[2].figures[0]".
	Path string
	Msg  string
}

func (e *SchemaError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("schema violation: %s", e.Msg)
	}
	return fmt.Sprintf("schema violation at %s: %s", e.Path, e.Msg)
}

// Unwrap lets errors.Is(err, ErrSchema) match.
func (e *SchemaError) Unwrap() error {
	return ErrSchema
}

func schemaErrorf(path, format string, args ...any) *SchemaError {
	return &SchemaError{Path: path, Msg: fmt.Sprintf(format, args...)}
}
