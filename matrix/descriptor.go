package matrix

import (
	"strings"

	"gopkg.in/launchdarkly/go-sdk-common.v2/ldvalue"
)

// EnvironmentDescriptor identifies one operating system/browser/version combination to run the
// scenario against. It is a plain value: two descriptors with the same fields are the same
// environment.
type EnvironmentDescriptor struct {
	OperatingSystem string
	BrowserName     string
	BrowserVersion  ldvalue.OptionalString
}

// New is a convenience constructor; an empty version means "let the provider choose".
func New(operatingSystem, browserName, browserVersion string) EnvironmentDescriptor {
	d := EnvironmentDescriptor{OperatingSystem: operatingSystem, BrowserName: browserName}
	if browserVersion != "" {
		d.BrowserVersion = ldvalue.NewOptionalString(browserVersion)
	}
	return d
}

// ID returns a path-like identifier such as "Windows 8.1/internet explorer/11", which is what
// the --run and --skip filters match against.
func (d EnvironmentDescriptor) ID() string {
	parts := []string{d.OperatingSystem, d.BrowserName}
	if d.BrowserVersion.IsDefined() {
		parts = append(parts, d.BrowserVersion.StringValue())
	}
	return strings.Join(parts, "/")
}

func (d EnvironmentDescriptor) String() string { return d.ID() }
