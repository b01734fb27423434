package io

import (
	"context"
	"fmt"
	stdio "io"
	"math"
	"os"
	"strconv"

	"ingest-connector/internal/logging"

	"github.com/antchfx/xmlquery"
	"github.com/antchfx/xpath"
)

// XMLReader yields the nodes matched by a record XPath. Field selectors are
// XPath expressions evaluated relative to each record node.
type XMLReader struct {
	path    string
	nodes   []*xmlquery.Node
	pos     int
	exprs   map[string]*xpath.Expr
	invalid map[string]bool
}

// NewXMLReader parses path and selects the record nodes.
func NewXMLReader(path, recordXPath string) (*XMLReader, error) {
	logging.Logf(logging.Debug, "XMLReader reading file: %s (RecordXPath: '%s')", path, recordXPath)
	recordExpr, err := xpath.Compile(recordXPath)
	if err != nil {
		return nil, fmt.Errorf("XMLReader: invalid record XPath '%s': %w", recordXPath, err)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("XMLReader failed to open file '%s': %w", path, err)
	}
	defer f.Close()

	doc, err := xmlquery.Parse(f)
	if err != nil {
		return nil, fmt.Errorf("XMLReader failed to parse XML from '%s': %w", path, err)
	}

	nodes := xmlquery.QuerySelectorAll(doc, recordExpr)
	if len(nodes) == 0 {
		logging.Logf(logging.Warning, "XMLReader: record XPath '%s' matched no nodes in '%s'", recordXPath, path)
	}
	logging.Logf(logging.Debug, "XMLReader selected %d record nodes from %s", len(nodes), path)
	return &XMLReader{
		path:    path,
		nodes:   nodes,
		exprs:   make(map[string]*xpath.Expr),
		invalid: make(map[string]bool),
	}, nil
}

// Len returns the number of record nodes.
func (xr *XMLReader) Len() int { return len(xr.nodes) }

// Next returns the next record node.
func (xr *XMLReader) Next(ctx context.Context) (Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if xr.pos >= len(xr.nodes) {
		return nil, stdio.EOF
	}
	rec := &xmlRecord{reader: xr, node: xr.nodes[xr.pos]}
	xr.pos++
	return rec, nil
}

// Close drops the parsed document.
func (xr *XMLReader) Close() error {
	xr.nodes = nil
	return nil
}

// compile caches compiled selectors. Invalid selectors are reported once and then treated as absent.
func (xr *XMLReader) compile(selector string) (*xpath.Expr, bool) {
	if expr, ok := xr.exprs[selector]; ok {
		return expr, true
	}
	if xr.invalid[selector] {
		return nil, false
	}
	expr, err := xpath.Compile(selector)
	if err != nil {
		xr.invalid[selector] = true
		logging.Logf(logging.Warning, "XMLReader: invalid XPath selector '%s' in '%s': %v", selector, xr.path, err)
		return nil, false
	}
	xr.exprs[selector] = expr
	return expr, true
}

type xmlRecord struct {
	reader *XMLReader
	node   *xmlquery.Node
}

// Lookup evaluates selector against the record node. Node-set results yield the
// string value of the first matched node; an empty node-set is absent.
func (r *xmlRecord) Lookup(selector string) (string, bool) {
	expr, ok := r.reader.compile(selector)
	if !ok {
		return "", false
	}
	switch v := expr.Evaluate(xmlquery.CreateXPathNavigator(r.node)).(type) {
	case *xpath.NodeIterator:
		if !v.MoveNext() {
			return "", false
		}
		return v.Current().Value(), true
	case string:
		return v, true
	case float64:
		if math.IsNaN(v) {
			return "", false
		}
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(v), true
	default:
		return "", false
	}
}
