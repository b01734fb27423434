package io

import (
	"context"
	"fmt"
	stdio "io"
	"os"
	"regexp"
	"strings"
	"sync"

	"ingest-connector/internal/logging"

	"github.com/tidwall/gjson"
)

// JSONReader yields the objects of a JSON array document. Selectors are dotted
// paths with optional bracket indexes ("customer.name", "items[0].sku", "$.id").
type JSONReader struct {
	path    string
	records []gjson.Result
	pos     int
}

// NewJSONReader loads path and selects the record array. An empty recordPath
// uses the document root. A single object is treated as one record.
func NewJSONReader(path, recordPath string) (*JSONReader, error) {
	logging.Logf(logging.Debug, "JSONReader reading file: %s (RecordPath: '%s')", path, recordPath)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("JSONReader failed to read file '%s': %w", path, err)
	}
	return newJSONReaderBytes(path, data, recordPath)
}

func newJSONReaderBytes(path string, data []byte, recordPath string) (*JSONReader, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		logging.Logf(logging.Warning, "JSON file '%s' is empty", path)
		return &JSONReader{path: path}, nil
	}
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("JSONReader failed to parse JSON from '%s': invalid document", path)
	}

	root := gjson.ParseBytes(data)
	if strings.TrimSpace(recordPath) != "" {
		root = root.Get(toGJSONPath(recordPath))
		if !root.Exists() {
			return nil, fmt.Errorf("JSONReader: record path '%s' not found in '%s'", recordPath, path)
		}
	}

	jr := &JSONReader{path: path}
	switch {
	case root.IsArray():
		for _, item := range root.Array() {
			if !item.IsObject() {
				logging.Logf(logging.Warning, "JSONReader: skipping non-object array element in '%s': %s", path, item.Raw)
				continue
			}
			jr.records = append(jr.records, item)
		}
	case root.IsObject():
		jr.records = []gjson.Result{root}
	default:
		return nil, fmt.Errorf("JSONReader: '%s' must contain an array of objects or a single object, got %s", path, root.Type)
	}
	logging.Logf(logging.Debug, "JSONReader loaded %d records from %s", len(jr.records), path)
	return jr, nil
}

// Len returns the number of records selected from the document.
func (jr *JSONReader) Len() int { return len(jr.records) }

// Next returns the next object.
func (jr *JSONReader) Next(ctx context.Context) (Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if jr.pos >= len(jr.records) {
		return nil, stdio.EOF
	}
	rec := jsonRecord{node: jr.records[jr.pos]}
	jr.pos++
	return rec, nil
}

// Close drops the loaded document.
func (jr *JSONReader) Close() error {
	jr.records = nil
	jr.pos = 0
	return nil
}

type jsonRecord struct {
	node gjson.Result
}

// Lookup resolves a path. Nulls are absent; nested objects and arrays are
// returned as raw JSON text; numbers keep their literal form.
func (r jsonRecord) Lookup(selector string) (string, bool) {
	res := r.node.Get(toGJSONPath(selector))
	if !res.Exists() || res.Type == gjson.Null {
		return "", false
	}
	if res.Type == gjson.String {
		return res.Str, true
	}
	return res.Raw, true
}

var (
	bracketIndexRegex = regexp.MustCompile(`\[(\d+)\]`)
	bracketKeyRegex   = regexp.MustCompile(`\[['"]([^'"\]]+)['"]\]`)
	pathCache         sync.Map // selector -> gjson path
)

// toGJSONPath converts "$.items[0]['first name']" style selectors to gjson syntax.
func toGJSONPath(selector string) string {
	if cached, ok := pathCache.Load(selector); ok {
		return cached.(string)
	}
	p := strings.TrimSpace(selector)
	p = strings.TrimPrefix(p, "$")
	p = bracketKeyRegex.ReplaceAllStringFunc(p, func(m string) string {
		key := bracketKeyRegex.FindStringSubmatch(m)[1]
		return "." + escapeGJSON(key)
	})
	p = bracketIndexRegex.ReplaceAllString(p, ".$1")
	p = strings.TrimPrefix(p, ".")
	pathCache.Store(selector, p)
	return p
}

// escapeGJSON escapes gjson path metacharacters in a literal key.
func escapeGJSON(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch r {
		case '.', '*', '?', '|', '#', '@', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
