// Package connector wires record readers, payload builders and the delivery
// client into runnable connectors, one per source format and destination target.
package connector

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"ingest-connector/internal/config"
	"ingest-connector/internal/delivery"
	etlio "ingest-connector/internal/io"
	"ingest-connector/internal/logging"
	"ingest-connector/internal/mapping"
	"ingest-connector/internal/metrics"
	"ingest-connector/internal/payload"
	"ingest-connector/internal/processor"

	"github.com/google/uuid"
)

// Connector runs one configured import.
type Connector interface {
	// Key is the registry key, e.g. CSV_GOLDEN_RECORD.
	Key() string
	// Execute loads the configuration at configPath and processes its source.
	// Configuration and mapper problems fail before any record is read and
	// return a nil result. Otherwise the completed result is always returned,
	// together with an error when a source could not be read or ctx was cancelled.
	Execute(ctx context.Context, configPath string) (*processor.ExecutionResult, error)
}

// Options are shared by every connector built from a registry.
type Options struct {
	Metrics *metrics.Recorder
	// HTTPClient overrides the delivery transport.
	HTTPClient *http.Client
	// Now stamps audit file names. Defaults to time.Now.
	Now func() time.Time
}

// Factory variables, overridable in tests.
var (
	openSourceFunc = etlio.OpenSource
	newRunIDFunc   = uuid.NewString
)

// driver is the connector implementation shared by every variant; kind and
// target select the reader and the destination endpoint.
type driver struct {
	key    string
	kind   string
	target mapping.Target
	opts   Options
}

func newDriver(kind string, target mapping.Target, opts Options) *driver {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &driver{
		key:    Key(kind, target),
		kind:   kind,
		target: target,
		opts:   opts,
	}
}

// Key returns the registry key for a source kind and target, e.g. "JSON_SCHEME_RECORD".
func Key(kind string, target mapping.Target) string {
	return fmt.Sprintf("%s_%s_RECORD", strings.ToUpper(kind), target)
}

func (d *driver) Key() string { return d.key }

// derivedName is the audit file prefix of single-source connectors, e.g. "XML_GOLDEN".
func (d *driver) derivedName() string {
	return fmt.Sprintf("%s_%s", strings.ToUpper(d.kind), d.target)
}

// selectorLabel names the selector dialect in build diagnostics.
func (d *driver) selectorLabel() string {
	switch d.kind {
	case config.KindJSON:
		return "Path"
	case config.KindXML:
		return "XPath"
	default:
		return "Column"
	}
}

// execution holds everything one Execute call shares across its sources.
type execution struct {
	*driver
	cfg    *config.ConnectorConfig
	run    *processor.Run
	sender processor.Sender
	filter *processor.RecordFilter
	// set holds the flat mapper; sheets the spreadsheet mapper.
	set    *mapping.Set
	sheets []mapping.Sheet
}

func (d *driver) Execute(ctx context.Context, configPath string) (*processor.ExecutionResult, error) {
	cfg, err := config.Load(configPath, d.kind, d.target)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", d.key, err)
	}
	client, err := delivery.NewClient(delivery.Options{
		BaseURL:    cfg.APIBaseURL,
		APIKey:     cfg.APIKey,
		Gzip:       cfg.Gzip,
		Timeout:    time.Duration(cfg.TimeoutSeconds) * time.Second,
		HTTPClient: d.opts.HTTPClient,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", d.key, mapping.ErrConfigInvalid, err)
	}
	filter, err := processor.NewRecordFilter(cfg.Filter)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", d.key, mapping.ErrConfigInvalid, err)
	}

	e := &execution{driver: d, cfg: cfg, sender: client, filter: filter}
	if d.kind == config.KindExcel {
		e.sheets, err = mapping.LoadSheets(cfg.FieldMapperFilePath, d.target)
	} else {
		e.set, err = mapping.LoadFile(cfg.FieldMapperFilePath, d.target)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", d.key, err)
	}

	runID := newRunIDFunc()
	errPath := filepath.Join(cfg.LogFolderPath, fmt.Sprintf("%s_%s_errors.log", d.key, runID))
	fileSink, err := logging.NewFileSink(errPath)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to create error log '%s': %w", d.key, errPath, err)
	}
	sink := logging.TeeSink{logging.Default(), fileSink}
	defer func() {
		if cerr := sink.Close(); cerr != nil {
			logging.Logf(logging.Warning, "%s: failed to close error log '%s': %v", d.key, errPath, cerr)
		}
	}()

	e.run = processor.NewRun(processor.RunConfig{
		Connector: d.key,
		ID:        runID,
		Errors:    sink,
		Metrics:   d.opts.Metrics,
	})
	logging.Logf(logging.Info, "%s [%s]: starting with config '%s', posting to %s",
		d.key, runID, configPath, client.Endpoint(d.target))

	var runErr error
	switch d.kind {
	case config.KindCSV:
		runErr = e.runDelimitedFolder(ctx)
	case config.KindExcel:
		runErr = e.runWorkbookFolder(ctx)
	case config.KindJSON, config.KindXML:
		runErr = e.runDocument(ctx)
	case config.KindSQL:
		runErr = e.runQuery(ctx)
	default:
		runErr = fmt.Errorf("unsupported source kind '%s'", d.kind)
	}

	ctxErr := ctx.Err()
	if errors.Is(runErr, processor.ErrCancelled) && ctxErr == nil {
		ctxErr = context.Canceled
	}
	result := e.run.Complete(ctxErr)
	if runErr != nil {
		return result, fmt.Errorf("%s: %w", d.key, runErr)
	}
	return result, nil
}

// builderOptions returns the payload options for this run.
func (e *execution) builderOptions() payload.Options {
	return payload.Options{
		UniqueIDType:  e.cfg.UniqueIDType,
		WorkflowKey:   e.cfg.WorkflowKey,
		SelectorLabel: e.selectorLabel(),
	}
}

// openAudit creates the audit logger for one source under LogFolderPath.
func (e *execution) openAudit(derivedName string) (*etlio.CSVAuditLogger, error) {
	path := filepath.Join(e.cfg.LogFolderPath, etlio.AuditFileName(derivedName, e.opts.Now()))
	audit, err := etlio.NewCSVAuditLogger(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create audit log: %w", err)
	}
	logging.Logf(logging.Info, "%s: audit log %s", e.key, path)
	return audit, nil
}

func closeAudit(audit etlio.AuditWriter) {
	if err := audit.Close(); err != nil {
		logging.Logf(logging.Error, "Failed to close audit log: %v", err)
	}
}

func closeReader(name string, r etlio.RecordReader) {
	if err := r.Close(); err != nil {
		logging.Logf(logging.Warning, "Failed to close source '%s': %v", name, err)
	}
}

// source assembles a processor.Source for reader.
func (e *execution) source(name string, reader etlio.RecordReader, builder *payload.Builder, audit etlio.AuditWriter) processor.Source {
	return processor.Source{
		Name:      name,
		Reader:    reader,
		Builder:   builder,
		Filter:    e.filter,
		Sender:    e.sender,
		Audit:     audit,
		BatchSize: e.cfg.BatchSize,
	}
}
