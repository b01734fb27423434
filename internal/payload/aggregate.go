package payload

import (
	"bytes"
	"strings"

	"ingest-connector/internal/mapping"

	"github.com/goccy/go-json"
)

// groupKeySeparator joins the unique values that identify a table-control group.
const groupKeySeparator = "|"

// Aggregator collapses rows sharing the same unique-column values into one payload
// per group. The non-unique columns of every row are serialized into a single
// JSON array field.
//
// Rows with no unique values at all still form a group keyed by the all-empty
// tuple; building that group fails with ErrMissingUniqueIdentifier instead of
// delivering a payload whose unique identifiers are all blank. Fully blank
// spreadsheet rows are dropped by XLSXReader and never join that group.
type Aggregator struct {
	target   mapping.Target
	unique   []mapping.FieldMapping
	values   []mapping.FieldMapping
	jsonKey  string
	opts     Options
	groups   map[string]*group
	order    []*group
	rowCount int
}

type group struct {
	key   string
	first map[string]string
	rows  [][]jsonPair
}

// jsonPair preserves mapping order inside each serialized row object.
type jsonPair struct {
	key   string
	value string
}

// Outcome is the result of building one aggregated group.
type Outcome struct {
	Ordinal int
	Payload *Payload
	Err     error
}

// NewAggregator creates an aggregator writing the JSON array under jsonFieldKey.
func NewAggregator(m Mappings, jsonFieldKey string, opts Options) *Aggregator {
	return &Aggregator{
		target:  m.Target(),
		unique:  m.UniqueMappings(),
		values:  m.ValueMappings(),
		jsonKey: jsonFieldKey,
		opts:    opts,
		groups:  make(map[string]*group),
	}
}

// Add assigns rec to its group. Groups keep first-seen order.
func (a *Aggregator) Add(rec Record) {
	a.rowCount++

	parts := make([]string, len(a.unique))
	for i, m := range a.unique {
		if raw, ok := rec.Lookup(m.Selector); ok {
			parts[i] = strings.TrimSpace(raw)
		}
	}
	key := strings.Join(parts, groupKeySeparator)

	g, ok := a.groups[key]
	if !ok {
		g = &group{key: key, first: make(map[string]string, len(a.unique))}
		for i, m := range a.unique {
			g.first[m.Selector] = parts[i]
		}
		a.groups[key] = g
		a.order = append(a.order, g)
	}

	row := make([]jsonPair, 0, len(a.values))
	for _, m := range a.values {
		if raw, ok := lookup(rec, m.Selector); ok {
			row = append(row, jsonPair{key: m.Selector, value: raw})
		}
	}
	g.rows = append(g.rows, row)
}

// Rows returns the number of rows added so far.
func (a *Aggregator) Rows() int { return a.rowCount }

// Groups returns the number of distinct groups formed so far.
func (a *Aggregator) Groups() int { return len(a.order) }

// Build produces one outcome per group in first-seen order. Ordinals are 1-based group positions.
func (a *Aggregator) Build() []Outcome {
	out := make([]Outcome, 0, len(a.order))
	for i, g := range a.order {
		p, err := a.buildGroup(g, i+1)
		out = append(out, Outcome{Ordinal: i + 1, Payload: p, Err: err})
	}
	return out
}

func (a *Aggregator) buildGroup(g *group, ordinal int) (*Payload, error) {
	p := &Payload{
		UniqueIdentifiers: []UniqueIdentifier{},
		Fields:            []FieldValue{},
		Target:            a.target,
	}
	if a.target == mapping.Scheme {
		p.WorkflowKey = a.opts.WorkflowKey
	}

	for _, m := range a.unique {
		v := g.first[m.Selector]
		if v == "" {
			continue
		}
		idType := a.opts.UniqueIDType
		if idType == "" {
			idType = m.Key
		}
		p.UniqueIdentifiers = append(p.UniqueIdentifiers, UniqueIdentifier{Value: v, IDType: idType})
	}
	if len(p.UniqueIdentifiers) == 0 {
		return nil, &BuildError{Ordinal: ordinal, Kind: ErrMissingUniqueIdentifier}
	}

	text, err := encodeRows(g.rows)
	if err != nil {
		return nil, &BuildError{
			Ordinal:       ordinal,
			Selector:      a.jsonKey,
			SelectorLabel: a.opts.SelectorLabel,
			Kind:          ErrFieldType,
			Err:           err,
		}
	}
	p.Fields = append(p.Fields, JSONField(a.jsonKey, text))
	return p, nil
}

// encodeRows writes a JSON array of objects, keeping each object's keys in mapping order.
func encodeRows(rows [][]jsonPair) (string, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, row := range rows {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteByte('{')
		for j, pair := range row {
			if j > 0 {
				buf.WriteByte(',')
			}
			k, err := json.Marshal(pair.key)
			if err != nil {
				return "", err
			}
			v, err := json.Marshal(pair.value)
			if err != nil {
				return "", err
			}
			buf.Write(k)
			buf.WriteByte(':')
			buf.Write(v)
		}
		buf.WriteByte('}')
	}
	buf.WriteByte(']')
	return buf.String(), nil
}
