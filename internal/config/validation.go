package config

import (
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	etlio "ingest-connector/internal/io"
	"ingest-connector/internal/logging"
	"ingest-connector/internal/mapping"

	"github.com/Knetic/govaluate"
	"github.com/antchfx/xpath"
)

var knownKinds = []string{KindCSV, KindExcel, KindJSON, KindXML, KindSQL}

// isValidEnumValue checks if a value is present in a list of allowed string values (case-insensitive).
func isValidEnumValue(value string, allowedValues []string) bool {
	lowerValue := strings.ToLower(value)
	for _, allowed := range allowedValues {
		if lowerValue == strings.ToLower(allowed) {
			return true
		}
	}
	return false
}

// Validate checks cfg for a connector of the given kind and target. All problems
// are reported together, one "- Config.<Field>: message" line each.
func Validate(cfg *ConnectorConfig, kind string, target mapping.Target) error {
	var allErrors []string

	if !isValidEnumValue(kind, knownKinds) {
		allErrors = append(allErrors, fmt.Sprintf("- Config: unknown source kind '%s', must be one of %v", kind, knownKinds))
	}
	allErrors = append(allErrors, validateSource("Config", cfg, kind)...)
	allErrors = append(allErrors, validateDelivery("Config", cfg)...)

	if strings.TrimSpace(cfg.FieldMapperFilePath) == "" {
		allErrors = append(allErrors, "- Config.FieldMapperFilePath: is required")
	}
	if strings.TrimSpace(cfg.LogFolderPath) == "" {
		allErrors = append(allErrors, "- Config.LogFolderPath: is required")
	}
	if target == mapping.Scheme && cfg.WorkflowKey == "" {
		allErrors = append(allErrors, "- Config.WorkflowKey: is required for scheme record connectors")
	}
	if cfg.BatchSize < 1 {
		allErrors = append(allErrors, fmt.Sprintf("- Config.BatchSize: must be at least 1, got %d", cfg.BatchSize))
	}
	if cfg.TimeoutSeconds < 0 {
		allErrors = append(allErrors, fmt.Sprintf("- Config.TimeoutSeconds: must not be negative, got %d", cfg.TimeoutSeconds))
	}
	if strings.TrimSpace(cfg.Filter) != "" {
		if _, err := govaluate.NewEvaluableExpression(cfg.Filter); err != nil {
			allErrors = append(allErrors, fmt.Sprintf("- Config.Filter: invalid expression syntax: %v", err))
		}
	}

	if len(allErrors) > 0 {
		return fmt.Errorf("%w: configuration validation failed:\n%s", mapping.ErrConfigInvalid, strings.Join(allErrors, "\n"))
	}
	logging.Logf(logging.Debug, "Configuration validation successful.")
	return nil
}

// validateSource checks the fields the source kind depends on.
func validateSource(prefix string, cfg *ConnectorConfig, kind string) []string {
	var errs []string
	required := func(field, value string) {
		if strings.TrimSpace(value) == "" {
			errs = append(errs, fmt.Sprintf("- %s.%s: is required for %s sources", prefix, field, kind))
		}
	}

	switch strings.ToLower(kind) {
	case KindCSV:
		required("InputFolder", cfg.InputFolder)
		if err := validateSingleRuneString(cfg.Delimiter, "Delimiter", false); err != nil {
			errs = append(errs, fmt.Sprintf("- %s.Delimiter: %v", prefix, err))
		} else if err := etlio.CheckSeparator(cfg.Delimiter); err != nil {
			errs = append(errs, fmt.Sprintf("- %s.Delimiter: %v", prefix, err))
		}
		if err := validateSingleRuneString(cfg.CommentChar, "CommentChar", true); err != nil {
			errs = append(errs, fmt.Sprintf("- %s.CommentChar: %v", prefix, err))
		} else if err := etlio.CheckSeparator(cfg.CommentChar); err != nil {
			errs = append(errs, fmt.Sprintf("- %s.CommentChar: %v", prefix, err))
		}
		if cfg.Delimiter != "" && cfg.Delimiter == cfg.CommentChar {
			errs = append(errs, fmt.Sprintf("- %s.CommentChar: must differ from the delimiter", prefix))
		}
		if err := etlio.CheckEncoding(cfg.Encoding); err != nil {
			errs = append(errs, fmt.Sprintf("- %s.Encoding: %v", prefix, err))
		}
	case KindExcel:
		required("InputFolder", cfg.InputFolder)
	case KindJSON:
		required("InputFilePath", cfg.InputFilePath)
	case KindXML:
		required("InputFilePath", cfg.InputFilePath)
		required("RecordXPath", cfg.RecordXPath)
		if strings.TrimSpace(cfg.RecordXPath) != "" {
			if _, err := xpath.Compile(cfg.RecordXPath); err != nil {
				errs = append(errs, fmt.Sprintf("- %s.RecordXPath: invalid XPath '%s': %v", prefix, cfg.RecordXPath, err))
			}
		}
	case KindSQL:
		required("ConnectionString", cfg.ConnectionString)
		required("Query", cfg.Query)
		if _, err := etlio.NormalizeDriver(cfg.Driver); err != nil {
			errs = append(errs, fmt.Sprintf("- %s.Driver: %v", prefix, err))
		}
	}
	if cfg.ArchiveFolder != "" && kind == KindSQL {
		logging.Logf(logging.Warning, "Config option 'ArchiveFolder' is ignored for %s sources.", kind)
	}
	return errs
}

// validateDelivery checks the ingestion endpoint settings.
func validateDelivery(prefix string, cfg *ConnectorConfig) []string {
	var errs []string
	if cfg.APIBaseURL == "" {
		return append(errs, fmt.Sprintf("- %s.ApiBaseUrl: is required", prefix))
	}
	u, err := url.Parse(cfg.APIBaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Sprintf("- %s.ApiBaseUrl: '%s' must be an absolute http(s) URL", prefix, cfg.APIBaseURL))
	}
	if cfg.APIKey == "" {
		logging.Logf(logging.Warning, "No ApiKey configured (and %s is not set); requests are sent without X-API-Key.", EnvAPIKey)
	}
	return errs
}

// ValidateJobs checks a jobs file.
func ValidateJobs(jobs *JobsFile) error {
	var allErrors []string
	if jobs.Concurrency < 1 {
		allErrors = append(allErrors, fmt.Sprintf("- Jobs.Concurrency: must be at least 1, got %d", jobs.Concurrency))
	}
	if len(jobs.Jobs) == 0 {
		allErrors = append(allErrors, "- Jobs.Jobs: at least one job is required")
	}
	names := make(map[string]bool, len(jobs.Jobs))
	for i, job := range jobs.Jobs {
		prefix := fmt.Sprintf("Jobs.Jobs[%d]", i)
		if strings.TrimSpace(job.Connector) == "" {
			allErrors = append(allErrors, fmt.Sprintf("- %s.Connector: is required", prefix))
		}
		if strings.TrimSpace(job.Config) == "" {
			allErrors = append(allErrors, fmt.Sprintf("- %s.Config: is required", prefix))
		}
		if names[job.Name] {
			allErrors = append(allErrors, fmt.Sprintf("- %s.Name: duplicate job name '%s'", prefix, job.Name))
		}
		names[job.Name] = true
	}
	if len(allErrors) > 0 {
		return fmt.Errorf("%w: jobs validation failed:\n%s", mapping.ErrConfigInvalid, strings.Join(allErrors, "\n"))
	}
	return nil
}

// validateSingleRuneString checks that s is exactly one character, or empty when allowed.
func validateSingleRuneString(s, fieldName string, allowEmpty bool) error {
	if s == "" {
		if allowEmpty {
			return nil
		}
		return fmt.Errorf("%s must not be empty", fieldName)
	}
	if utf8.RuneCountInString(s) != 1 {
		return fmt.Errorf("%s must be a single character, got '%s'", fieldName, s)
	}
	return nil
}
