// Package payload defines the normalized ingestion payload, its JSON wire format,
// and the builders that produce payloads from source records.
package payload

import (
	"fmt"
	"time"

	"ingest-connector/internal/mapping"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

// UnknownUniqueValue is reported in audit rows for payloads without identifiers.
const UnknownUniqueValue = "UNKNOWN"

// Record resolves a selector to the raw text of one source record.
// The second result is false when the selector is absent from the record.
type Record interface {
	Lookup(selector string) (string, bool)
}

// UniqueIdentifier lets the receiving system match a payload to an existing entity.
type UniqueIdentifier struct {
	Value  string `json:"GoldenRecordUniqueId"`
	IDType string `json:"UniqueIdType"`
}

// Kind identifies which variant of a FieldValue is populated.
type Kind int

const (
	KindString Kind = iota
	KindNumber
	KindDate
	KindBool
	KindJSON
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindDate:
		return "date"
	case KindBool:
		return "bool"
	case KindJSON:
		return "json"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// FieldValue is a destination field with exactly one populated value variant.
type FieldValue struct {
	Key    string
	Kind   Kind
	Text   string // KindString and KindJSON
	Number decimal.Decimal
	Time   time.Time
	Bool   bool
}

func StringField(key, s string) FieldValue { return FieldValue{Key: key, Kind: KindString, Text: s} }
func NumberField(key string, d decimal.Decimal) FieldValue {
	return FieldValue{Key: key, Kind: KindNumber, Number: d}
}
func DateField(key string, t time.Time) FieldValue { return FieldValue{Key: key, Kind: KindDate, Time: t} }
func BoolField(key string, b bool) FieldValue      { return FieldValue{Key: key, Kind: KindBool, Bool: b} }
func JSONField(key, text string) FieldValue        { return FieldValue{Key: key, Kind: KindJSON, Text: text} }

// Equal reports whether two field values carry the same key, variant and value.
func (f FieldValue) Equal(o FieldValue) bool {
	if f.Key != o.Key || f.Kind != o.Kind {
		return false
	}
	switch f.Kind {
	case KindNumber:
		return f.Number.Equal(o.Number)
	case KindDate:
		return f.Time.Equal(o.Time)
	case KindBool:
		return f.Bool == o.Bool
	default:
		return f.Text == o.Text
	}
}

// wireField is the JSON shape of a FieldValue. Unpopulated variants are omitted.
type wireField struct {
	FieldKey     string      `json:"FieldKey"`
	StringValue  *string     `json:"StringValue,omitempty"`
	NumericValue json.Number `json:"NumericValue,omitempty"`
	DateValue    *time.Time  `json:"DateValue,omitempty"`
	BoolValue    *bool       `json:"BoolValue,omitempty"`
	JSONValue    *string     `json:"JsonValue,omitempty"`
}

func (f FieldValue) MarshalJSON() ([]byte, error) {
	w := wireField{FieldKey: f.Key}
	switch f.Kind {
	case KindString:
		s := f.Text
		w.StringValue = &s
	case KindNumber:
		w.NumericValue = json.Number(f.Number.String())
	case KindDate:
		t := f.Time
		w.DateValue = &t
	case KindBool:
		b := f.Bool
		w.BoolValue = &b
	case KindJSON:
		s := f.Text
		w.JSONValue = &s
	default:
		return nil, fmt.Errorf("field '%s' has unknown kind %v", f.Key, f.Kind)
	}
	return json.Marshal(w)
}

func (f *FieldValue) UnmarshalJSON(data []byte) error {
	var w wireField
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	out := FieldValue{Key: w.FieldKey}
	switch {
	case w.StringValue != nil:
		out.Kind, out.Text = KindString, *w.StringValue
	case w.NumericValue != "":
		d, err := decimal.NewFromString(w.NumericValue.String())
		if err != nil {
			return fmt.Errorf("field '%s' NumericValue: %w", w.FieldKey, err)
		}
		out.Kind, out.Number = KindNumber, d
	case w.DateValue != nil:
		out.Kind, out.Time = KindDate, *w.DateValue
	case w.BoolValue != nil:
		out.Kind, out.Bool = KindBool, *w.BoolValue
	case w.JSONValue != nil:
		out.Kind, out.Text = KindJSON, *w.JSONValue
	default:
		return fmt.Errorf("field '%s' carries no value", w.FieldKey)
	}
	*f = out
	return nil
}

// Payload is one normalized record delivered to the golden or scheme endpoint.
// Scheme payloads additionally carry WorkflowKey.
type Payload struct {
	UniqueIdentifiers []UniqueIdentifier `json:"UniqueData"`
	Fields            []FieldValue       `json:"FieldValues"`
	WorkflowKey       string             `json:"WorkflowKey,omitempty"`
	Target            mapping.Target     `json:"-"`
}

// FirstUniqueValue returns the first identifier value, or UNKNOWN when there is none.
func (p *Payload) FirstUniqueValue() string {
	if p == nil || len(p.UniqueIdentifiers) == 0 {
		return UnknownUniqueValue
	}
	return p.UniqueIdentifiers[0].Value
}

// Marshal encodes p in the wire format.
func Marshal(p *Payload) ([]byte, error) {
	return json.Marshal(p)
}

// Unmarshal decodes a wire-format payload. The target is inferred from WorkflowKey.
func Unmarshal(data []byte) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	if p.WorkflowKey != "" {
		p.Target = mapping.Scheme
	}
	return &p, nil
}
