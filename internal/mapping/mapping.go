// Package mapping holds the declarative field-mapping model: how a source selector
// (column header, JSON path, XPath, SQL column) maps to a destination field.
package mapping

import (
	"errors"
	"fmt"
	"strings"
)

// ErrConfigInvalid marks malformed or missing configuration and mapper files.
// Errors wrapping it abort a run before any record is read.
var ErrConfigInvalid = errors.New("configuration invalid")

// Supported declared data types.
const (
	TypeString = "string"
	TypeNumber = "number"
	TypeDate   = "date"
	TypeBool   = "bool"
)

// KnownTypes lists the data types accepted in a mapping set.
var KnownTypes = []string{TypeString, TypeNumber, TypeDate, TypeBool}

// Target selects the destination variant of the payloads built from a mapping set.
type Target int

const (
	Golden Target = iota
	Scheme
)

// String returns the upper-case label used in connector keys and audit file names.
func (t Target) String() string {
	switch t {
	case Golden:
		return "GOLDEN"
	case Scheme:
		return "SCHEME"
	default:
		return fmt.Sprintf("Target(%d)", int(t))
	}
}

// FieldMapping describes one source selector → destination field rule.
type FieldMapping struct {
	Selector string
	Key      string
	DataType string
	IsUnique bool
}

// Set is an immutable, validated mapping set partitioned by uniqueness.
type Set struct {
	target Target
	all    []FieldMapping
	unique []FieldMapping
	values []FieldMapping
}

// New validates mappings and returns the partitioned set. Data types are
// normalized to lower case. Unique mappings may omit the data type.
func New(target Target, mappings []FieldMapping) (*Set, error) {
	if len(mappings) == 0 {
		return nil, fmt.Errorf("%w: mapping set is empty", ErrConfigInvalid)
	}

	var errs []string
	s := &Set{target: target, all: make([]FieldMapping, 0, len(mappings))}
	for i, m := range mappings {
		m.Selector = strings.TrimSpace(m.Selector)
		m.Key = strings.TrimSpace(m.Key)
		m.DataType = strings.ToLower(strings.TrimSpace(m.DataType))

		if m.Selector == "" {
			errs = append(errs, fmt.Sprintf("- Field_Mappings[%d]: source selector is required", i))
		}
		if !m.IsUnique && m.Key == "" {
			errs = append(errs, fmt.Sprintf("- Field_Mappings[%d]: Grs_Field_Key is required for non-unique mappings", i))
		}
		if m.DataType != "" || !m.IsUnique {
			if !IsKnownType(m.DataType) {
				errs = append(errs, fmt.Sprintf("- Field_Mappings[%d]: unrecognized Data_Type '%s' (allowed: %s)",
					i, m.DataType, strings.Join(KnownTypes, ", ")))
			}
		}

		s.all = append(s.all, m)
		if m.IsUnique {
			s.unique = append(s.unique, m)
		} else {
			s.values = append(s.values, m)
		}
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w:\n%s", ErrConfigInvalid, strings.Join(errs, "\n"))
	}
	return s, nil
}

// IsKnownType reports whether t (case-insensitive) is a supported data type.
func IsKnownType(t string) bool {
	t = strings.ToLower(strings.TrimSpace(t))
	for _, k := range KnownTypes {
		if t == k {
			return true
		}
	}
	return false
}

// Target returns the destination variant the set was built for.
func (s *Set) Target() Target { return s.target }

// All returns every mapping in declaration order.
func (s *Set) All() []FieldMapping { return append([]FieldMapping(nil), s.all...) }

// UniqueMappings returns the mappings flagged unique, in declaration order.
func (s *Set) UniqueMappings() []FieldMapping { return append([]FieldMapping(nil), s.unique...) }

// ValueMappings returns the non-unique mappings, in declaration order.
func (s *Set) ValueMappings() []FieldMapping { return append([]FieldMapping(nil), s.values...) }

// Selectors returns every distinct selector referenced by the set.
func (s *Set) Selectors() []string {
	seen := make(map[string]bool, len(s.all))
	out := make([]string, 0, len(s.all))
	for _, m := range s.all {
		if !seen[m.Selector] {
			seen[m.Selector] = true
			out = append(out, m.Selector)
		}
	}
	return out
}
