package payload

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"ingest-connector/internal/mapping"
	"ingest-connector/internal/transform"

	"github.com/shopspring/decimal"
)

// Mappings is the partitioned mapping set a builder works from.
// *mapping.Set satisfies it.
type Mappings interface {
	Target() mapping.Target
	UniqueMappings() []mapping.FieldMapping
	ValueMappings() []mapping.FieldMapping
}

// Options carries the connector-wide settings that shape built payloads.
type Options struct {
	// UniqueIDType, when set, is the id type of every unique identifier.
	// When empty each unique mapping's own key is used instead.
	UniqueIDType string
	// WorkflowKey is attached to scheme payloads.
	WorkflowKey string
	// SelectorLabel names the selector dialect in diagnostics ("Column", "Path", "XPath").
	SelectorLabel string
}

// Builder converts flat records into payloads. It holds no per-record state,
// so building the same record twice yields equal payloads.
type Builder struct {
	target mapping.Target
	unique []mapping.FieldMapping
	values []mapping.FieldMapping
	opts   Options
}

// NewBuilder creates a Builder over the given mappings.
func NewBuilder(m Mappings, opts Options) *Builder {
	return &Builder{
		target: m.Target(),
		unique: m.UniqueMappings(),
		values: m.ValueMappings(),
		opts:   opts,
	}
}

// Target returns the destination variant of built payloads.
func (b *Builder) Target() mapping.Target { return b.target }

// Build resolves every mapping against rec. Absent and blank values are skipped.
// On failure the returned error is a *BuildError.
func (b *Builder) Build(rec Record, ordinal int) (*Payload, error) {
	p := b.newPayload()

	for _, m := range b.unique {
		raw, ok := lookup(rec, m.Selector)
		if !ok {
			continue
		}
		p.UniqueIdentifiers = append(p.UniqueIdentifiers, UniqueIdentifier{Value: raw, IDType: b.idType(m)})
	}

	for _, m := range b.values {
		raw, ok := lookup(rec, m.Selector)
		if !ok {
			continue
		}
		fv, err := coerceField(m, raw)
		if err != nil {
			return nil, b.buildError(ordinal, m.Selector, raw, err)
		}
		p.Fields = append(p.Fields, fv)
	}

	if len(p.UniqueIdentifiers) == 0 {
		return nil, &BuildError{Ordinal: ordinal, Kind: ErrMissingUniqueIdentifier}
	}
	return p, nil
}

func (b *Builder) newPayload() *Payload {
	p := &Payload{
		UniqueIdentifiers: []UniqueIdentifier{},
		Fields:            []FieldValue{},
		Target:            b.target,
	}
	if b.target == mapping.Scheme {
		p.WorkflowKey = b.opts.WorkflowKey
	}
	return p
}

func (b *Builder) idType(m mapping.FieldMapping) string {
	if b.opts.UniqueIDType != "" {
		return b.opts.UniqueIDType
	}
	return m.Key
}

func (b *Builder) buildError(ordinal int, selector, raw string, err error) *BuildError {
	kind := ErrFieldType
	if errors.Is(err, transform.ErrUnknownType) {
		kind = ErrUnsupportedType
	}
	return &BuildError{
		Ordinal:       ordinal,
		Selector:      selector,
		Raw:           raw,
		SelectorLabel: b.opts.SelectorLabel,
		Kind:          kind,
		Err:           err,
	}
}

// lookup returns the trimmed value for selector; blank values count as absent.
func lookup(rec Record, selector string) (string, bool) {
	raw, ok := rec.Lookup(selector)
	if !ok {
		return "", false
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	return raw, true
}

func coerceField(m mapping.FieldMapping, raw string) (FieldValue, error) {
	v, err := transform.Coerce(m.DataType, raw)
	if err != nil {
		return FieldValue{}, err
	}
	switch tv := v.(type) {
	case string:
		return StringField(m.Key, tv), nil
	case decimal.Decimal:
		return NumberField(m.Key, tv), nil
	case time.Time:
		return DateField(m.Key, tv), nil
	case bool:
		return BoolField(m.Key, tv), nil
	default:
		return FieldValue{}, fmt.Errorf("%w: coercion for '%s' produced %T", transform.ErrUnknownType, m.DataType, v)
	}
}
