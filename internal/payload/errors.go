package payload

import (
	"errors"
	"fmt"

	"ingest-connector/internal/util"
)

var (
	// ErrFieldType marks a raw value that failed coercion to its declared type.
	ErrFieldType = errors.New("field type error")
	// ErrUnsupportedType marks a mapping that declares an unknown data type.
	ErrUnsupportedType = errors.New("unsupported data type")
	// ErrMissingUniqueIdentifier marks a record that produced no unique identifiers.
	ErrMissingUniqueIdentifier = errors.New("missing unique identifiers")
)

// BuildError describes why one record could not be turned into a payload.
// Kind is one of the sentinel errors above and can be matched with errors.Is.
type BuildError struct {
	Ordinal       int
	Selector      string
	Raw           string
	SelectorLabel string // "Column", "Path", "XPath"
	Kind          error
	Err           error
}

func (e *BuildError) Error() string {
	if errors.Is(e.Kind, ErrMissingUniqueIdentifier) {
		return fmt.Sprintf("Row %d missing unique identifiers", e.Ordinal)
	}
	label := e.SelectorLabel
	if label == "" {
		label = "Column"
	}
	msg := fmt.Sprintf("Row %d, %s '%s', Value '%s' invalid", e.Ordinal, label, e.Selector, util.Snippet(e.Raw))
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg + ": " + e.Kind.Error()
}

func (e *BuildError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Reason returns a short label for the error kind, used as a metrics label.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrFieldType):
		return "field_type"
	case errors.Is(err, ErrUnsupportedType):
		return "unsupported_type"
	case errors.Is(err, ErrMissingUniqueIdentifier):
		return "missing_unique_identifier"
	default:
		return "other"
	}
}
