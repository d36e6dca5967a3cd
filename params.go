package main

import (
	"regexp"
	"strings"
	"time"

	"github.com/alessio/shellescape"
	"github.com/spf13/pflag"

	"github.com/cloudbees/browser-matrix-tests/matrix"
)

type commandParams struct {
	configPath      string
	credentialsFile string
	filters         matrix.RegexFilters
	debug           bool
	debugAll        bool
	verbose         bool
	metricsFile     string
	logLevel        string
	logJSON         bool
	noColor         bool
}

// configFlags maps config keys to the flags that override them.
var configFlags = map[string]string{
	"target_url":     "url",
	"remote_url":     "remote-url",
	"api_url":        "api-url",
	"label":          "label",
	"build":          "build",
	"concurrency":    "concurrency",
	"element_wait":   "element-wait",
	"timeouts.total": "timeout",
}

func (c *commandParams) addFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&c.configPath, "config", "c", "", "YAML file with the run configuration")
	fs.StringVar(&c.credentialsFile, "credentials-file", "",
		"properties file with username and key (default ~/.sauce-ondemand, used only if SAUCE_USERNAME/SAUCE_ACCESS_KEY are unset)")
	fs.String("url", "", "URL of the page under test")
	fs.String("remote-url", "", "URL of the remote WebDriver hub (must not contain credentials)")
	fs.String("api-url", "", "base URL of the provider's REST API, for reporting results")
	fs.String("label", "", "label shown by the provider for every session")
	fs.String("build", "", "build identifier that groups the sessions of this run (default: a random UUID)")
	fs.Int("concurrency", 0, "maximum number of environments to test at once (0 = no limit)")
	fs.Duration("element-wait", 0, "how long to keep looking for an element before failing a check")
	fs.Duration("timeout", 0, "maximum duration of the whole run (0 = no limit)")
	fs.Var(&c.filters.MustMatch, "run", "regex pattern(s) to select environments to run, matched against os/browser/version")
	fs.Var(&c.filters.MustNotMatch, "skip", "regex pattern(s) to select environments not to run")
	fs.BoolVar(&c.debug, "debug", false, "show debug output for failed environments")
	fs.BoolVar(&c.debugAll, "debug-all", false, "show debug output for all environments")
	fs.BoolVarP(&c.verbose, "verbose", "v", false, "stream debug output to the log as it happens")
	fs.StringVar(&c.metricsFile, "metrics-file", "", "write Prometheus metrics to this file when the run ends")
	fs.StringVar(&c.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	fs.BoolVar(&c.logJSON, "log-json", false, "write logs as JSON")
	fs.BoolVar(&c.noColor, "no-color", false, "disable colored output")
}

// flagBindings returns the flags that override config keys, for config.LoadOptions.
func flagBindings(fs *pflag.FlagSet) map[string]*pflag.Flag {
	ret := make(map[string]*pflag.Flag, len(configFlags))
	for key, name := range configFlags {
		if f := fs.Lookup(name); f != nil {
			ret[key] = f
		}
	}
	return ret
}

// rerunFlagsExcluded are the flags that a rerun command must not repeat.
var rerunFlagsExcluded = map[string]bool{
	"run":          true,
	"skip":         true,
	"metrics-file": true,
}

// rerunCommand builds a shell command that runs only the given environment again, repeating every
// flag that was set on this run.
func (c *commandParams) rerunCommand(program string, fs *pflag.FlagSet, env matrix.EnvironmentDescriptor) string {
	var b commandBuilder
	b.add(program, "run")
	fs.Visit(func(f *pflag.Flag) {
		switch {
		case rerunFlagsExcluded[f.Name]:
		case f.Value.Type() == "bool":
			if f.Value.String() == "true" {
				b.add("--" + f.Name)
			} else {
				b.add("--" + f.Name + "=false")
			}
		default:
			b.add("--"+f.Name, f.Value.String())
		}
	})
	b.add("--run", "^"+regexp.QuoteMeta(env.ID())+"$")
	return b.String()
}

// elapsed formats durations in the summary line.
func elapsed(d time.Duration) string {
	return d.Truncate(time.Millisecond).String()
}

type commandBuilder []string

func (b *commandBuilder) add(args ...string) {
	for _, a := range args {
		*b = append(*b, shellescape.Quote(a))
	}
}

func (b commandBuilder) String() string {
	return strings.Join(b, " ")
}
