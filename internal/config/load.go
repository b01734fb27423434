package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"ingest-connector/internal/logging"
	"ingest-connector/internal/mapping"
	"ingest-connector/internal/util"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// ErrNotFound marks a configuration or jobs file that does not exist.
var ErrNotFound = errors.New("configuration file not found")

// Load reads the JSON connector configuration at filename, applies the defaults
// for kind and validates it for the given destination target. Every failure
// wraps mapping.ErrConfigInvalid.
func Load(filename, kind string, target mapping.Target) (*ConnectorConfig, error) {
	if _, err := os.Stat(filename); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %w: '%s'", mapping.ErrConfigInvalid, ErrNotFound, filename)
		}
		return nil, fmt.Errorf("%w: failed to stat config file '%s': %v", mapping.ErrConfigInvalid, filename, err)
	}

	v := viper.New()
	v.SetConfigFile(filename)
	v.SetConfigType("json")
	v.SetDefault("BatchSize", defaultBatchSize(kind))
	v.SetDefault("TimeoutSeconds", DefaultTimeoutSeconds)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("%w: failed to parse JSON in '%s': %v", mapping.ErrConfigInvalid, filename, err)
	}

	var cfg ConnectorConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to decode '%s': %v", mapping.ErrConfigInvalid, filename, err)
	}

	applyDefaults(&cfg, kind)
	resolvePaths(&cfg, filepath.Dir(filename))

	if err := Validate(&cfg, kind, target); err != nil {
		return nil, err
	}
	logging.Logf(logging.Debug, "Loaded %s configuration '%s' (api key %s, connection %s)",
		kind, filename, util.MaskSecret(cfg.APIKey), util.MaskCredentials(cfg.ConnectionString))
	return &cfg, nil
}

func defaultBatchSize(kind string) int {
	switch kind {
	case KindJSON, KindXML:
		return DefaultDocumentBatch
	default:
		return DefaultBatchSize
	}
}

// applyDefaults fills unset values and expands environment placeholders.
func applyDefaults(cfg *ConnectorConfig, kind string) {
	if cfg.BatchSize == 0 {
		cfg.BatchSize = defaultBatchSize(kind)
	}
	if cfg.TimeoutSeconds == 0 {
		cfg.TimeoutSeconds = DefaultTimeoutSeconds
	}
	if kind == KindSQL && strings.TrimSpace(cfg.Driver) == "" {
		cfg.Driver = DefaultDriver
	}
	if kind == KindCSV && cfg.Delimiter == "" {
		cfg.Delimiter = DefaultCSVDelimiter
	}

	cfg.APIKey = strings.TrimSpace(util.ExpandEnvUniversal(cfg.APIKey))
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv(EnvAPIKey)
	}
	cfg.ConnectionString = util.ExpandEnvUniversal(cfg.ConnectionString)
	cfg.APIBaseURL = strings.TrimSpace(cfg.APIBaseURL)
	cfg.UniqueIDType = strings.TrimSpace(cfg.UniqueIDType)
	cfg.WorkflowKey = strings.TrimSpace(cfg.WorkflowKey)
}

// resolvePaths expands environment placeholders in file paths. Relative paths
// are taken relative to the configuration file's directory.
func resolvePaths(cfg *ConnectorConfig, baseDir string) {
	for _, p := range []*string{&cfg.InputFolder, &cfg.ArchiveFolder, &cfg.InputFilePath, &cfg.FieldMapperFilePath, &cfg.LogFolderPath} {
		if strings.TrimSpace(*p) == "" {
			continue
		}
		expanded := util.ExpandEnvUniversal(strings.TrimSpace(*p))
		if !filepath.IsAbs(expanded) {
			expanded = filepath.Join(baseDir, expanded)
		}
		*p = filepath.Clean(expanded)
	}
}

// LoadJobs reads and validates a YAML jobs file. Relative job config paths are
// resolved against the jobs file's directory.
func LoadJobs(filename string) (*JobsFile, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %w: '%s'", mapping.ErrConfigInvalid, ErrNotFound, filename)
		}
		return nil, fmt.Errorf("%w: failed to read jobs file '%s': %v", mapping.ErrConfigInvalid, filename, err)
	}
	var jobs JobsFile
	if err := yaml.Unmarshal(data, &jobs); err != nil {
		return nil, fmt.Errorf("%w: failed to parse YAML in '%s': %v", mapping.ErrConfigInvalid, filename, err)
	}
	if jobs.Concurrency == 0 {
		jobs.Concurrency = DefaultJobsConcurrency
	}
	baseDir := filepath.Dir(filename)
	for i := range jobs.Jobs {
		job := &jobs.Jobs[i]
		job.Config = util.ExpandEnvUniversal(strings.TrimSpace(job.Config))
		if job.Config != "" && !filepath.IsAbs(job.Config) {
			job.Config = filepath.Join(baseDir, job.Config)
		}
		if strings.TrimSpace(job.Name) == "" {
			job.Name = fmt.Sprintf("job-%d", i+1)
		}
	}
	if err := ValidateJobs(&jobs); err != nil {
		return nil, err
	}
	return &jobs, nil
}
