package matrix

import (
	"fmt"
	"io"
	"regexp"
	"strings"
)

// Filter is a function that can determine whether to run against a specific environment or not.
type Filter func(EnvironmentDescriptor) bool

type RegexFilters struct {
	MustMatch    RegexList
	MustNotMatch RegexList
}

func (r RegexFilters) IsDefined() bool {
	return r.MustMatch.IsDefined() || r.MustNotMatch.IsDefined()
}

func (r RegexFilters) AsFilter(d EnvironmentDescriptor) bool {
	name := d.ID()
	return (!r.MustMatch.IsDefined() || r.MustMatch.AnyMatch(name)) &&
		!r.MustNotMatch.AnyMatch(name)
}

// Describe writes a human-readable explanation of the filters, if any are defined.
func (r RegexFilters) Describe(w io.Writer) {
	if !r.IsDefined() {
		return
	}
	fmt.Fprintln(w, "Some environments will be skipped based on the filter criteria for this test run:")
	if r.MustMatch.IsDefined() {
		fmt.Fprintf(w, "  skip any not matching %s\n", r.MustMatch)
	}
	if r.MustNotMatch.IsDefined() {
		fmt.Fprintf(w, "  skip any matching %s\n", r.MustNotMatch)
	}
	fmt.Fprintln(w)
}

// RegexList is a list of patterns that can be built up from repeated command-line flags.
type RegexList struct {
	patterns []*regexp.Regexp
}

func (r RegexList) String() string {
	var ss []string
	for _, p := range r.patterns {
		ss = append(ss, `"`+p.String()+`"`)
	}
	return strings.Join(ss, " or ")
}

// Set is called by the command line parser
func (r *RegexList) Set(value string) error {
	rx, err := regexp.Compile(value)
	if err != nil {
		return fmt.Errorf("invalid regex: %w", err)
	}
	r.patterns = append(r.patterns, rx)
	return nil
}

// Type is reported in the command line help text.
func (r *RegexList) Type() string { return "regex" }

func (r RegexList) IsDefined() bool {
	return len(r.patterns) != 0
}

func (r RegexList) AnyMatch(s string) bool {
	for _, p := range r.patterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}
