package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cloudbees/browser-matrix-tests/config"
	"github.com/cloudbees/browser-matrix-tests/credentials"
	"github.com/cloudbees/browser-matrix-tests/errdefs"
	"github.com/cloudbees/browser-matrix-tests/framework"
	"github.com/cloudbees/browser-matrix-tests/logging"
	"github.com/cloudbees/browser-matrix-tests/matrix"
	"github.com/cloudbees/browser-matrix-tests/metrics"
	"github.com/cloudbees/browser-matrix-tests/reporting"
	"github.com/cloudbees/browser-matrix-tests/scenario"
	"github.com/cloudbees/browser-matrix-tests/webdriver"
)

const (
	exitOK          = 0
	exitFailed      = 1
	exitConfigError = 2
)

var errPipelinesFailed = errors.New("one or more environments failed")

// app holds the process-level dependencies of the commands, so that tests can replace them.
type app struct {
	stdout     io.Writer
	stderr     io.Writer
	lookupEnv  func(string) (string, bool)
	httpClient *http.Client
	program    string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{
		stdout:     os.Stdout,
		stderr:     os.Stderr,
		lookupEnv:  os.LookupEnv,
		httpClient: &http.Client{},
		program:    filepath.Base(os.Args[0]),
	}
	code := a.execute(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}

func (a *app) execute(ctx context.Context, args []string) int {
	cmd := a.newRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(a.stdout)
	cmd.SetErr(a.stderr)

	err := cmd.ExecuteContext(ctx)
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, errPipelinesFailed):
		return exitFailed
	default:
		fmt.Fprintf(a.stderr, "Error: %s\n", err)
		return exitConfigError
	}
}

func (a *app) newRootCommand() *cobra.Command {
	params := &commandParams{}
	root := &cobra.Command{
		Use:   a.program,
		Short: "Run a browser test scenario against a matrix of remote browser environments",
		Long: "Runs one scenario in a remote browser session for every environment in the matrix, " +
			"concurrently, and reports each session's result back to the provider.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, params)
		},
	}
	params.addFlags(root.PersistentFlags())

	root.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run the scenario in every environment (the default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, params)
		},
	})

	var asYAML bool
	list := &cobra.Command{
		Use:   "list",
		Short: "Print the environments that a run would cover",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.list(cmd, params, asYAML)
		},
	}
	list.Flags().BoolVar(&asYAML, "yaml", false, "print the matrix as YAML, in the configuration file format")
	root.AddCommand(list)
	return root
}

func (a *app) loadConfig(cmd *cobra.Command, params *commandParams) (config.Config, matrix.Filtered, error) {
	cfg, err := config.Load(config.LoadOptions{
		ConfigPath: params.configPath,
		Flags:      flagBindings(cmd.Flags()),
	})
	if err != nil {
		return config.Config{}, matrix.Filtered{}, err
	}
	provider := matrix.Filtered{Provider: cfg.Provider()}
	if params.filters.IsDefined() {
		provider.Filter = params.filters.AsFilter
	}
	return cfg, provider, nil
}

func (a *app) run(cmd *cobra.Command, params *commandParams) error {
	level, err := logging.ParseLevel(params.logLevel)
	if err != nil {
		return &errdefs.ConfigurationError{Field: "log-level", Err: err}
	}
	log := logging.New(a.stderr, logging.Options{Level: level, NoColor: params.noColor, JSON: params.logJSON})

	cfg, provider, err := a.loadConfig(cmd, params)
	if err != nil {
		return err
	}
	spec, err := cfg.Scenario()
	if err != nil {
		return err
	}
	creds, err := credentials.Load(credentials.Source{LookupEnv: a.lookupEnv, PropertiesFile: params.credentialsFile})
	if err != nil {
		return err
	}
	client, err := webdriver.NewClient(cfg.RemoteURL, a.httpClient)
	if err != nil {
		return &errdefs.ConfigurationError{Field: "remote_url", Err: err}
	}
	client.Build = cfg.Build
	if client.Build == "" {
		client.Build = uuid.NewString()
	}
	reporter, err := reporting.NewSauceReporter(cfg.APIURL, creds, a.httpClient)
	if err != nil {
		return &errdefs.ConfigurationError{Field: "api_url", Err: err}
	}

	collector := metrics.NewCollector()
	label := cfg.RunLabel(spec)
	dispatcherConfig := framework.Config{
		Concurrency: cfg.Concurrency,
		Timeouts:    cfg.DispatcherTimeouts(),
		Label:       func(matrix.EnvironmentDescriptor) string { return label },
		Logger:      &log,
		Observers:   []framework.Observer{collector},
	}
	console := NewConsolePipelineLogger(a.stdout, params.noColor)
	console.DebugOutputOnFailure = params.debug || params.debugAll
	console.DebugOutputOnSuccess = params.debugAll
	dispatcherConfig.PipelineLogger = console
	if params.verbose {
		dispatcherConfig.DebugLogger = logging.Printf(log.Level(zerolog.DebugLevel))
	}
	dispatcher := framework.NewDispatcher[*webdriver.Session](creds, client, scenario.NewExecutor(spec), reporter, dispatcherConfig)

	ctx := cmd.Context()
	if cfg.Timeouts.Total > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeouts.Total)
		defer cancel()
	}

	log.Info().
		Object("credentials", creds).
		Str("remote_url", cfg.RemoteURL).
		Str("build", client.Build).
		Str("label", label).
		Msg("Starting run")
	params.filters.Describe(a.stdout)
	fmt.Fprintf(a.stdout, "Running %q against %s\n\n", spec.Name, spec.URL)

	start := time.Now()
	results := dispatcher.RunMatrix(ctx, provider)
	collector.ObserveRun(results)

	fmt.Fprintln(a.stdout)
	framework.PrintResults(a.stdout, results, !params.noColor)
	fmt.Fprintf(a.stdout, "\nRun finished in %s (build %s)\n", elapsed(time.Since(start)), client.Build)
	if len(results.Failures) > 0 {
		fmt.Fprintln(a.stdout, "\nTo run a failed environment again:")
		for _, f := range results.Failures {
			fmt.Fprintf(a.stdout, "  %s\n", params.rerunCommand(a.program, cmd.Flags(), f.Environment))
		}
	}

	if params.metricsFile != "" {
		if err := collector.WriteTextfile(params.metricsFile); err != nil {
			log.Error().Err(err).Str("path", params.metricsFile).Msg("Could not write metrics")
		}
	}
	if !results.OK() {
		return errPipelinesFailed
	}
	return nil
}

func (a *app) list(cmd *cobra.Command, params *commandParams, asYAML bool) error {
	_, provider, err := a.loadConfig(cmd, params)
	if err != nil {
		return err
	}
	envs := provider.ListEnvironments()
	if asYAML {
		doc := struct {
			Matrix []config.EnvironmentConfig `yaml:"matrix"`
		}{Matrix: make([]config.EnvironmentConfig, 0, len(envs))}
		for _, env := range envs {
			doc.Matrix = append(doc.Matrix, config.EnvironmentConfig{
				OS:      env.OperatingSystem,
				Browser: env.BrowserName,
				Version: env.BrowserVersion.StringValue(),
			})
		}
		enc := yaml.NewEncoder(a.stdout)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return err
		}
		return enc.Close()
	}
	for _, env := range envs {
		fmt.Fprintln(a.stdout, env.ID())
	}
	for _, env := range provider.Excluded() {
		fmt.Fprintf(a.stdout, "%s (skipped)\n", env.ID())
	}
	return nil
}
