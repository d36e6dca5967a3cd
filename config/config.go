// Package config loads the settings for a test run from an optional YAML file, environment
// variables and command-line flags, in increasing order of precedence.
package config

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/cloudbees/browser-matrix-tests/errdefs"
	"github.com/cloudbees/browser-matrix-tests/framework"
	"github.com/cloudbees/browser-matrix-tests/matrix"
	"github.com/cloudbees/browser-matrix-tests/reporting"
	"github.com/cloudbees/browser-matrix-tests/scenario"
	"github.com/cloudbees/browser-matrix-tests/webdriver"
)

// EnvPrefix is prepended to config keys to get environment variable names, e.g.
// BROWSER_MATRIX_TIMEOUTS_RUN for timeouts.run.
const EnvPrefix = "BROWSER_MATRIX"

const (
	DefaultRemoteURL = "https://ondemand.saucelabs.com:443/wd/hub"
	DefaultLabel     = "Mobile Deposit"
)

type Config struct {
	RemoteURL   string              `mapstructure:"remote_url" yaml:"remote_url"`
	APIURL      string              `mapstructure:"api_url" yaml:"api_url"`
	TargetURL   string              `mapstructure:"target_url" yaml:"target_url"`
	Label       string              `mapstructure:"label" yaml:"label"`
	Build       string              `mapstructure:"build" yaml:"build,omitempty"`
	Concurrency int                 `mapstructure:"concurrency" yaml:"concurrency"`
	ElementWait time.Duration       `mapstructure:"element_wait" yaml:"element_wait"`
	Timeouts    TimeoutsConfig      `mapstructure:"timeouts" yaml:"timeouts"`
	Matrix      []EnvironmentConfig `mapstructure:"matrix" yaml:"matrix"`
	Checks      []CheckConfig       `mapstructure:"checks" yaml:"checks"`

	// MatrixDefined is true if the configuration set a matrix, even an empty one.
	MatrixDefined bool `mapstructure:"-" yaml:"-"`
}

type TimeoutsConfig struct {
	Open    time.Duration `mapstructure:"open" yaml:"open"`
	Run     time.Duration `mapstructure:"run" yaml:"run"`
	Report  time.Duration `mapstructure:"report" yaml:"report"`
	Release time.Duration `mapstructure:"release" yaml:"release"`
	// Total bounds the whole run; zero means no limit.
	Total time.Duration `mapstructure:"total" yaml:"total"`
}

type EnvironmentConfig struct {
	OS      string `mapstructure:"os" yaml:"os"`
	Browser string `mapstructure:"browser" yaml:"browser"`
	Version string `mapstructure:"version" yaml:"version,omitempty"`
}

type CheckConfig struct {
	Description string `mapstructure:"description" yaml:"description"`
	By          string `mapstructure:"by" yaml:"by"`
	Value       string `mapstructure:"value" yaml:"value"`
	TextPattern string `mapstructure:"text_pattern" yaml:"text_pattern,omitempty"`
}

// LoadOptions controls Load.
type LoadOptions struct {
	// ConfigPath is a YAML file to read. It is optional, but if given it must exist.
	ConfigPath string
	// Flags maps config keys to command-line flags that override them when they are set.
	Flags map[string]*pflag.Flag
}

// NewViper returns a viper instance with all defaults set and environment variables enabled.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("remote_url", DefaultRemoteURL)
	v.SetDefault("api_url", reporting.DefaultAPIURL)
	v.SetDefault("target_url", scenario.DefaultDepositURL)
	v.SetDefault("label", DefaultLabel)
	v.SetDefault("build", "")
	v.SetDefault("concurrency", 0)
	v.SetDefault("element_wait", time.Duration(0))
	v.SetDefault("timeouts.open", framework.DefaultOpenTimeout)
	v.SetDefault("timeouts.run", framework.DefaultRunTimeout)
	v.SetDefault("timeouts.report", framework.DefaultReportTimeout)
	v.SetDefault("timeouts.release", framework.DefaultReleaseTimeout)
	v.SetDefault("timeouts.total", time.Duration(0))
	return v
}

// Load returns the effective, validated configuration. Every error it returns is an
// *errdefs.ConfigurationError.
func Load(opts LoadOptions) (Config, error) {
	v := NewViper()
	if opts.ConfigPath != "" {
		v.SetConfigFile(opts.ConfigPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, &errdefs.ConfigurationError{Field: "config", Err: err}
		}
	}
	for key, flag := range opts.Flags {
		if err := v.BindPFlag(key, flag); err != nil {
			return Config{}, &errdefs.ConfigurationError{Field: key, Err: err}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, &errdefs.ConfigurationError{Err: fmt.Errorf("unmarshal config: %w", err)}
	}
	cfg.MatrixDefined = v.IsSet("matrix")
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if err := validateURL("remote_url", c.RemoteURL); err != nil {
		return err
	}
	if err := validateURL("api_url", c.APIURL); err != nil {
		return err
	}
	if strings.TrimSpace(c.TargetURL) == "" {
		return errdefs.Configurationf("target_url", "must not be empty")
	}
	if strings.TrimSpace(c.Label) == "" {
		return errdefs.Configurationf("label", "must not be empty")
	}
	if c.Concurrency < 0 {
		return errdefs.Configurationf("concurrency", "must not be negative, got %d", c.Concurrency)
	}
	if c.ElementWait < 0 {
		return errdefs.Configurationf("element_wait", "must not be negative")
	}
	for name, d := range map[string]time.Duration{
		"timeouts.open":    c.Timeouts.Open,
		"timeouts.run":     c.Timeouts.Run,
		"timeouts.report":  c.Timeouts.Report,
		"timeouts.release": c.Timeouts.Release,
		"timeouts.total":   c.Timeouts.Total,
	} {
		if d < 0 {
			return errdefs.Configurationf(name, "must not be negative, got %s", d)
		}
	}
	seen := make(map[string]bool)
	for i, e := range c.Matrix {
		field := fmt.Sprintf("matrix[%d]", i)
		if strings.TrimSpace(e.OS) == "" || strings.TrimSpace(e.Browser) == "" {
			return errdefs.Configurationf(field, "os and browser are required")
		}
		id := e.descriptor().ID()
		if seen[id] {
			return errdefs.Configurationf(field, "duplicate environment %s", id)
		}
		seen[id] = true
	}
	if _, err := c.checks(); err != nil {
		return err
	}
	return nil
}

func validateURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return &errdefs.ConfigurationError{Field: field, Err: err}
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return errdefs.Configurationf(field, "must be an absolute http or https URL")
	}
	if u.User != nil {
		return errdefs.Configurationf(field, "must not contain credentials; set SAUCE_USERNAME and SAUCE_ACCESS_KEY instead")
	}
	return nil
}

func (e EnvironmentConfig) descriptor() matrix.EnvironmentDescriptor {
	return matrix.New(strings.TrimSpace(e.OS), strings.TrimSpace(e.Browser), strings.TrimSpace(e.Version))
}

// Provider returns the configured matrix, or the default matrix if none was configured.
func (c Config) Provider() matrix.Static {
	if !c.MatrixDefined {
		return matrix.Default()
	}
	ret := make(matrix.Static, 0, len(c.Matrix))
	for _, e := range c.Matrix {
		ret = append(ret, e.descriptor())
	}
	return ret
}

func (c Config) checks() ([]scenario.Check, error) {
	if len(c.Checks) == 0 {
		return []scenario.Check{scenario.AccountNumberPresent()}, nil
	}
	ret := make([]scenario.Check, 0, len(c.Checks))
	for i, cc := range c.Checks {
		field := fmt.Sprintf("checks[%d]", i)
		by, err := webdriver.ParseBy(cc.By, cc.Value)
		if err != nil {
			return nil, &errdefs.ConfigurationError{Field: field, Err: err}
		}
		if cc.Value == "" {
			return nil, errdefs.Configurationf(field, "value is required")
		}
		check := scenario.Check{Description: cc.Description, By: by}
		if check.Description == "" {
			check.Description = fmt.Sprintf("element %s is present", by)
		}
		if cc.TextPattern != "" {
			if check.TextPattern, err = regexp.Compile(cc.TextPattern); err != nil {
				return nil, &errdefs.ConfigurationError{Field: field + ".text_pattern", Err: err}
			}
		}
		ret = append(ret, check)
	}
	return ret, nil
}

// Scenario returns the scenario to run in every session.
func (c Config) Scenario() (scenario.Spec, error) {
	checks, err := c.checks()
	if err != nil {
		return scenario.Spec{}, err
	}
	spec := scenario.Default(c.TargetURL)
	spec.Checks = checks
	spec.ElementWait = c.ElementWait
	return spec, nil
}

// RunLabel is the name that the provider shows for every session of the run.
func (c Config) RunLabel(spec scenario.Spec) string {
	return c.Label + ": " + spec.Name
}

func (c Config) DispatcherTimeouts() framework.Timeouts {
	return framework.Timeouts{
		Open:    c.Timeouts.Open,
		Run:     c.Timeouts.Run,
		Report:  c.Timeouts.Report,
		Release: c.Timeouts.Release,
	}
}
