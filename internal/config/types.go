package config

// Source kinds. Each connector variant reads exactly one kind.
const (
	KindCSV   = "csv"
	KindExcel = "excel"
	KindJSON  = "json"
	KindXML   = "xml"
	KindSQL   = "sql"
)

// Defaults applied before validation.
const (
	DefaultBatchSize       = 100 // delimited, spreadsheet and SQL sources
	DefaultDocumentBatch   = 50  // JSON and XML sources
	DefaultTimeoutSeconds  = 30
	DefaultDriver          = "postgres"
	DefaultCSVDelimiter    = ","
	DefaultJobsConcurrency = 1

	// EnvAPIKey supplies ApiKey when the configuration leaves it empty.
	EnvAPIKey = "INGEST_API_KEY"
)

// ConnectorConfig is the JSON document a connector run is invoked with.
// Which source fields are required depends on the connector's kind.
type ConnectorConfig struct {
	// InputFolder holds the *.csv or *.xlsx files processed by folder connectors.
	InputFolder string `mapstructure:"InputFolder"`
	// ArchiveFolder, when set, receives every fully processed source file.
	ArchiveFolder string `mapstructure:"ArchiveFolder"`
	// InputFilePath is the JSON or XML document to read.
	InputFilePath string `mapstructure:"InputFilePath"`
	// RecordXPath selects the XML record nodes. Required for XML sources.
	RecordXPath string `mapstructure:"RecordXPath"`
	// RecordPath optionally selects the JSON record array. Empty means the document root.
	RecordPath string `mapstructure:"RecordPath"`

	// ConnectionString and Query define a SQL source. Environment variables are expanded.
	ConnectionString string `mapstructure:"ConnectionString"`
	// Driver is postgres (default), mysql or sqlserver.
	Driver string `mapstructure:"Driver"`
	Query  string `mapstructure:"Query"`

	// Delimited text options.
	Delimiter   string `mapstructure:"Delimiter"`
	CommentChar string `mapstructure:"CommentChar"`
	Encoding    string `mapstructure:"Encoding"`

	FieldMapperFilePath string `mapstructure:"FieldMapperFilePath"`
	APIBaseURL          string `mapstructure:"ApiBaseUrl"`
	APIKey              string `mapstructure:"ApiKey"`
	LogFolderPath       string `mapstructure:"LogFolderPath"`

	// UniqueIDType, when set, is the id type of every unique identifier.
	// Otherwise each unique mapping's key is used.
	UniqueIDType string `mapstructure:"UniqueIdType"`
	// WorkflowKey is required by scheme connectors.
	WorkflowKey string `mapstructure:"WorkflowKey"`

	BatchSize      int  `mapstructure:"BatchSize"`
	TimeoutSeconds int  `mapstructure:"TimeoutSeconds"`
	Gzip           bool `mapstructure:"Gzip"`
	// Filter is an optional govaluate expression over selectors; records evaluating
	// to false are skipped before payloads are built.
	Filter string `mapstructure:"Filter"`
}

// JobsFile lists connector runs executed by the jobs command.
type JobsFile struct {
	// Concurrency bounds how many jobs run at once. Defaults to 1.
	Concurrency int   `yaml:"concurrency"`
	Jobs        []Job `yaml:"jobs"`
}

// Job is one connector invocation.
type Job struct {
	Name      string `yaml:"name"`
	Connector string `yaml:"connector"`
	Config    string `yaml:"config"`
}
