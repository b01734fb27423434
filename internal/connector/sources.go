package connector

import (
	"context"
	"errors"
	"fmt"
	stdio "io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"ingest-connector/internal/config"
	etlio "ingest-connector/internal/io"
	"ingest-connector/internal/logging"
	"ingest-connector/internal/mapping"
	"ingest-connector/internal/payload"
	"ingest-connector/internal/processor"
)

func cancelled(ctx context.Context) error {
	return fmt.Errorf("%w: %w", processor.ErrCancelled, ctx.Err())
}

// listFiles returns the files in dir with extension ext (case-insensitive), sorted by name.
// Office lock files ("~$name.xlsx") are skipped.
func listFiles(dir, ext string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list input folder '%s': %w", dir, err)
	}
	var files []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, "~$") {
			continue
		}
		if strings.EqualFold(filepath.Ext(name), ext) {
			files = append(files, filepath.Join(dir, name))
		}
	}
	if len(files) == 0 {
		logging.Logf(logging.Warning, "No %s files found in '%s'.", ext, dir)
	}
	return files, nil
}

// baseName strips directory and extension: "/in/customers.csv" → "customers".
func baseName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// eachFile runs process for every file and archives the ones that completed.
// A failing file is logged and skipped; cancellation stops the loop.
func (e *execution) eachFile(ctx context.Context, files []string, process func(context.Context, string) error) error {
	var failures []error
	for _, path := range files {
		if ctx.Err() != nil {
			return cancelled(ctx)
		}
		if err := process(ctx, path); err != nil {
			if errors.Is(err, processor.ErrCancelled) {
				return err
			}
			logging.Logf(logging.Error, "%s: source '%s' failed: %v", e.key, path, err)
			failures = append(failures, err)
			continue
		}
		if err := e.archive(path); err != nil {
			logging.Logf(logging.Error, "%s: %v", e.key, err)
			failures = append(failures, err)
		}
	}
	return errors.Join(failures...)
}

// runDelimitedFolder processes every *.csv file in InputFolder, one audit file each.
func (e *execution) runDelimitedFolder(ctx context.Context) error {
	files, err := listFiles(e.cfg.InputFolder, ".csv")
	if err != nil {
		return err
	}
	builder := payload.NewBuilder(e.set, e.builderOptions())
	return e.eachFile(ctx, files, func(ctx context.Context, path string) error {
		src := etlio.Source{
			Format: etlio.FormatCSV,
			Path:   path,
			CSV: etlio.CSVOptions{
				Delimiter:   e.cfg.Delimiter,
				CommentChar: e.cfg.CommentChar,
				Encoding:    e.cfg.Encoding,
			},
		}
		return e.processSource(ctx, src, filepath.Base(path), baseName(path), builder)
	})
}

// runWorkbookFolder processes every *.xlsx file in InputFolder. Each mapped sheet
// is read in mapper order and all sheets of a workbook share one audit file.
func (e *execution) runWorkbookFolder(ctx context.Context) error {
	files, err := listFiles(e.cfg.InputFolder, ".xlsx")
	if err != nil {
		return err
	}
	return e.eachFile(ctx, files, e.processWorkbook)
}

func (e *execution) processWorkbook(ctx context.Context, path string) error {
	wb, err := etlio.OpenWorkbook(path)
	if err != nil {
		return err
	}
	defer func() {
		if err := wb.Close(); err != nil {
			logging.Logf(logging.Warning, "%v", err)
		}
	}()
	audit, err := e.openAudit(baseName(path))
	if err != nil {
		return err
	}
	defer closeAudit(audit)

	for _, sheet := range e.sheets {
		if ctx.Err() != nil {
			return cancelled(ctx)
		}
		if _, ok := wb.FindSheet(sheet.Name); !ok {
			logging.Logf(logging.Warning, "%s: sheet '%s' not found in '%s', skipping.", e.key, sheet.Name, path)
			continue
		}
		if err := e.processSheet(ctx, wb, sheet, path, audit); err != nil {
			return err
		}
	}
	return nil
}

func (e *execution) processSheet(ctx context.Context, wb *etlio.Workbook, sheet mapping.Sheet, path string, audit etlio.AuditWriter) error {
	reader, err := wb.Sheet(sheet.Name)
	if err != nil {
		return err
	}
	name := fmt.Sprintf("%s[%s]", filepath.Base(path), reader.SheetName())
	defer closeReader(name, reader)

	opts := e.builderOptions()
	src := e.source(name, reader, payload.NewBuilder(sheet.Set, opts), audit)
	if sheet.IsTableControl() {
		return e.run.ProcessAggregated(ctx, src, payload.NewAggregator(sheet.Set, sheet.JSONFieldKey, opts))
	}
	return e.run.Process(ctx, src)
}

// runDocument processes the JSON or XML document at InputFilePath.
func (e *execution) runDocument(ctx context.Context) error {
	src := etlio.Source{Format: etlio.FormatJSON, Path: e.cfg.InputFilePath, RecordPath: e.cfg.RecordPath}
	if e.kind == config.KindXML {
		src = etlio.Source{Format: etlio.FormatXML, Path: e.cfg.InputFilePath, RecordPath: e.cfg.RecordXPath}
	}
	builder := payload.NewBuilder(e.set, e.builderOptions())
	if err := e.processSource(ctx, src, filepath.Base(src.Path), e.derivedName(), builder); err != nil {
		return err
	}
	return e.archive(src.Path)
}

// runQuery processes the rows returned by Query.
func (e *execution) runQuery(ctx context.Context) error {
	src := etlio.Source{
		Format: etlio.FormatSQL,
		SQL: etlio.SQLOptions{
			Driver:           e.cfg.Driver,
			ConnectionString: e.cfg.ConnectionString,
			Query:            e.cfg.Query,
			ConnectTimeout:   time.Duration(e.cfg.TimeoutSeconds) * time.Second,
		},
	}
	builder := payload.NewBuilder(e.set, e.builderOptions())
	return e.processSource(ctx, src, e.derivedName(), e.derivedName(), builder)
}

// processSource opens src, creates its audit file and streams it through the run.
func (e *execution) processSource(ctx context.Context, src etlio.Source, name, derivedName string, builder *payload.Builder) error {
	reader, err := openSourceFunc(ctx, src)
	if err != nil {
		return err
	}
	defer closeReader(name, reader)
	audit, err := e.openAudit(derivedName)
	if err != nil {
		return err
	}
	defer closeAudit(audit)
	return e.run.Process(ctx, e.source(name, reader, builder, audit))
}

// archive moves a fully processed file into ArchiveFolder, replacing any file
// of the same name. It does nothing when no ArchiveFolder is configured.
func (e *execution) archive(path string) error {
	if e.cfg.ArchiveFolder == "" {
		return nil
	}
	dest := filepath.Join(e.cfg.ArchiveFolder, filepath.Base(path))
	if err := moveFile(path, dest); err != nil {
		return fmt.Errorf("failed to archive '%s' to '%s': %w", path, dest, err)
	}
	logging.Logf(logging.Info, "Archived '%s' to '%s'.", path, dest)
	return nil
}

func moveFile(src, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}
	if err := os.Remove(dest); err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := os.Rename(src, dest); err == nil {
		return nil
	}
	// Rename fails across devices; fall back to copy and delete.
	if err := copyFile(src, dest); err != nil {
		return err
	}
	return os.Remove(src)
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := stdio.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
