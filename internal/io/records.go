package io

import "strings"

// RowNumbered is implemented by records that know their physical row in the source
// (delimited line or worksheet row). Other records are numbered by position.
type RowNumbered interface {
	RowNumber() int
}

// MapRecord is a record keyed by exact selector.
type MapRecord map[string]string

func (m MapRecord) Lookup(selector string) (string, bool) {
	v, ok := m[selector]
	return v, ok
}

// columnIndex maps header names to column positions. Exact matches win over
// case-insensitive ones; duplicate headers resolve to the last column.
type columnIndex struct {
	exact map[string]int
	fold  map[string]int
}

func newColumnIndex(headers []string) *columnIndex {
	ci := &columnIndex{
		exact: make(map[string]int, len(headers)),
		fold:  make(map[string]int, len(headers)),
	}
	for i, h := range headers {
		if h == "" {
			continue
		}
		ci.exact[h] = i
		ci.fold[strings.ToLower(h)] = i
	}
	return ci
}

func (ci *columnIndex) find(selector string) (int, bool) {
	if i, ok := ci.exact[selector]; ok {
		return i, true
	}
	i, ok := ci.fold[strings.ToLower(strings.TrimSpace(selector))]
	return i, ok
}

func (ci *columnIndex) len() int { return len(ci.exact) }

// rowRecord is a positional row resolved through a shared column index.
// Columns beyond the end of a short row are absent.
type rowRecord struct {
	index  *columnIndex
	values []string
	row    int
}

func (r *rowRecord) Lookup(selector string) (string, bool) {
	i, ok := r.index.find(selector)
	if !ok || i >= len(r.values) {
		return "", false
	}
	return r.values[i], true
}

func (r *rowRecord) RowNumber() int { return r.row }
