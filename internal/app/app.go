package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"ingest-connector/internal/config"
	"ingest-connector/internal/connector"
	"ingest-connector/internal/logging"
	"ingest-connector/internal/metrics"
	"ingest-connector/internal/processor"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// Define common application-level errors.
var (
	ErrUsage          = errors.New("usage error")
	ErrConfigNotFound = errors.New("configuration file not found")
	ErrMissingArgs    = errors.New("missing required arguments")
)

// connectorResolver is the part of connector.Registry the commands use.
type connectorResolver interface {
	Resolve(key string) (connector.Connector, error)
	Keys() []string
}

// Factory variables, overridable in tests.
var (
	newRegistryFunc = func(opts connector.Options) (connectorResolver, error) {
		return connector.NewDefaultRegistry(opts)
	}
	osStatFunc = os.Stat
)

// AppRunner encapsulates the command-line application.
type AppRunner struct {
	stdout io.Writer
	stderr io.Writer
}

// NewAppRunner creates a runner writing to the process's standard streams.
func NewAppRunner() *AppRunner {
	return &AppRunner{stdout: os.Stdout, stderr: os.Stderr}
}

// cliOptions holds parsed flag values for one invocation.
type cliOptions struct {
	logLevel    string
	metricsAddr string
	configPath  string
	jobsFile    string
	recorder    *metrics.Recorder
	started     bool
}

const examples = `  ingest-connector list
  ingest-connector run CSV_GOLDEN_RECORD --config configs/customers.json
  ingest-connector run xml_scheme_record --config=%CONFIG_DIR%/xml.json --loglevel=debug
  ingest-connector jobs --file jobs.yaml --metrics-addr :9102`

func (a *AppRunner) newRootCommand(opts *cliOptions) *cobra.Command {
	root := &cobra.Command{
		Use:           "ingest-connector",
		Short:         "Import CSV, Excel, JSON, XML and SQL records into the golden and scheme record APIs",
		Example:       examples,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			opts.started = true
			level, err := logging.ParseLevel(opts.logLevel)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrUsage, err)
			}
			logging.SetLevel(level)
			return nil
		},
	}
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	})
	root.PersistentFlags().StringVar(&opts.logLevel, "loglevel", "info", "Logging level (none, error, warn, info, debug)")
	root.PersistentFlags().StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while running (e.g. :9102)")

	runCmd := &cobra.Command{
		Use:   "run <KEY>",
		Short: "Run one connector with a JSON configuration file",
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("%w: run expects exactly one connector key, got %d", ErrMissingArgs, len(args))
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.configPath == "" {
				return fmt.Errorf("%w: --config is required", ErrMissingArgs)
			}
			return a.withMetrics(opts, func() error {
				return a.runConnector(cmd.Context(), opts, args[0])
			})
		},
	}
	runCmd.Flags().StringVar(&opts.configPath, "config", "", "Connector configuration JSON file")

	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Run the connector jobs listed in a YAML file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.jobsFile == "" {
				return fmt.Errorf("%w: --file is required", ErrMissingArgs)
			}
			return a.withMetrics(opts, func() error {
				return a.runJobs(cmd.Context(), opts)
			})
		},
	}
	jobsCmd.Flags().StringVar(&opts.jobsFile, "file", "", "Jobs YAML file")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List the available connector keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := newRegistryFunc(connector.Options{})
			if err != nil {
				return err
			}
			for _, key := range reg.Keys() {
				fmt.Fprintln(a.stdout, key)
			}
			return nil
		},
	}

	root.AddCommand(runCmd, jobsCmd, listCmd)
	return root
}

// Usage prints the command-line help information to the specified writer.
func (a *AppRunner) Usage(writer io.Writer) {
	root := a.newRootCommand(&cliOptions{})
	root.SetOut(writer)
	_ = root.Help()
}

// Run executes args with a context cancelled on SIGINT or SIGTERM.
func (a *AppRunner) Run(args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.RunContext(ctx, args)
}

// RunContext executes args. Cancelling ctx stops running connectors cooperatively.
func (a *AppRunner) RunContext(ctx context.Context, args []string) error {
	if len(args) == 0 {
		a.Usage(a.stderr)
		return nil
	}
	opts := &cliOptions{}
	root := a.newRootCommand(opts)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return nil
	}
	if !opts.started && !errors.Is(err, ErrUsage) && !errors.Is(err, ErrMissingArgs) {
		// Unknown commands and argument validation fail before any command runs.
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}
	return err
}

// withMetrics serves the run's metrics while fn executes, when an address is configured.
func (a *AppRunner) withMetrics(opts *cliOptions, fn func() error) error {
	opts.recorder = metrics.NewRecorder()
	if opts.metricsAddr == "" {
		return fn()
	}
	addr, stop, err := startMetricsServer(opts.metricsAddr, opts.recorder)
	if err != nil {
		return fmt.Errorf("failed to start metrics server on '%s': %w", opts.metricsAddr, err)
	}
	defer stop()
	logging.Logf(logging.Info, "Serving metrics on http://%s/metrics", addr)
	return fn()
}

// startMetricsServer listens on addr and returns the bound address and a stop function.
func startMetricsServer(addr string, rec *metrics.Recorder) (string, func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", rec.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Logf(logging.Error, "Metrics server failed: %v", err)
		}
	}()
	stop := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logging.Logf(logging.Warning, "Metrics server shutdown: %v", err)
		}
	}
	return ln.Addr().String(), stop, nil
}

func (a *AppRunner) registry(opts *cliOptions) (connectorResolver, error) {
	return newRegistryFunc(connector.Options{Metrics: opts.recorder})
}

// execute resolves key and runs it against configPath.
func execute(ctx context.Context, reg connectorResolver, key, configPath string) (*processor.ExecutionResult, error) {
	if _, err := osStatFunc(configPath); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: '%s'", ErrConfigNotFound, configPath)
		}
		return nil, fmt.Errorf("failed to stat config file '%s': %w", configPath, err)
	}
	c, err := reg.Resolve(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUsage, err)
	}
	return c.Execute(ctx, configPath)
}

func (a *AppRunner) runConnector(ctx context.Context, opts *cliOptions, key string) error {
	reg, err := a.registry(opts)
	if err != nil {
		return err
	}
	logging.Logf(logging.Info, "Running %s with config: %s", key, opts.configPath)
	result, err := execute(ctx, reg, key, opts.configPath)
	if result != nil {
		fmt.Fprintf(a.stdout, "%s: %s (%s)\n", key, result, result.Duration().Round(time.Millisecond))
	}
	return err
}

// runJobs executes every job of the jobs file, at most Concurrency at a time.
// A failing job does not stop the others; all failures are returned together.
func (a *AppRunner) runJobs(ctx context.Context, opts *cliOptions) error {
	jobs, err := config.LoadJobs(opts.jobsFile)
	if err != nil {
		if errors.Is(err, config.ErrNotFound) {
			return fmt.Errorf("%w: %v", ErrConfigNotFound, err)
		}
		return err
	}
	reg, err := a.registry(opts)
	if err != nil {
		return err
	}
	logging.Logf(logging.Info, "Running %d jobs from '%s' (concurrency %d)", len(jobs.Jobs), opts.jobsFile, jobs.Concurrency)

	results := make([]*processor.ExecutionResult, len(jobs.Jobs))
	failures := make([]error, len(jobs.Jobs))
	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(jobs.Concurrency)
	for i, job := range jobs.Jobs {
		i, job := i, job
		g.Go(func() error {
			logging.Logf(logging.Info, "Job '%s': %s %s", job.Name, job.Connector, job.Config)
			result, err := execute(ctx, reg, job.Connector, job.Config)
			mu.Lock()
			defer mu.Unlock()
			results[i] = result
			if err != nil {
				logging.Logf(logging.Error, "Job '%s' failed: %v", job.Name, err)
				failures[i] = fmt.Errorf("job '%s': %w", job.Name, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	for i, job := range jobs.Jobs {
		status := "ok"
		if failures[i] != nil {
			status = "failed"
		}
		summary := "not run"
		if results[i] != nil {
			summary = results[i].String()
		}
		fmt.Fprintf(a.stdout, "%-20s %-22s %-6s %s\n", job.Name, job.Connector, status, summary)
	}
	return errors.Join(failures...)
}
