package webdriver

import (
	"encoding/json"

	"gopkg.in/launchdarkly/go-sdk-common.v2/ldvalue"

	"github.com/cloudbees/browser-matrix-tests/matrix"
)

// CapabilityRequest describes the remote session we want. It is built fresh for every pipeline.
type CapabilityRequest struct {
	Platform       string
	BrowserName    string
	BrowserVersion ldvalue.OptionalString
	// Name is the human-readable label that the provider shows for the session.
	Name  string
	Build string
	Tags  []string
}

// NewCapabilityRequest derives a request from an environment and a run label.
func NewCapabilityRequest(env matrix.EnvironmentDescriptor, label string) CapabilityRequest {
	return CapabilityRequest{
		Platform:       env.OperatingSystem,
		BrowserName:    env.BrowserName,
		BrowserVersion: env.BrowserVersion,
		Name:           label,
		Tags:           []string{env.OperatingSystem, env.BrowserName},
	}
}

// legacyCapabilities uses the JSON wire protocol names that older grids expect.
type legacyCapabilities struct {
	BrowserName string   `json:"browserName"`
	Version     *string  `json:"version,omitempty"`
	Platform    string   `json:"platform"`
	Name        string   `json:"name,omitempty"`
	Build       string   `json:"build,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

type vendorOptions struct {
	Name  string   `json:"name,omitempty"`
	Build string   `json:"build,omitempty"`
	Tags  []string `json:"tags,omitempty"`
}

type w3cCapabilities struct {
	BrowserName    string        `json:"browserName"`
	BrowserVersion *string       `json:"browserVersion,omitempty"`
	PlatformName   string        `json:"platformName"`
	VendorOptions  vendorOptions `json:"sauce:options"`
}

type newSessionParams struct {
	DesiredCapabilities legacyCapabilities `json:"desiredCapabilities"`
	Capabilities        struct {
		AlwaysMatch w3cCapabilities `json:"alwaysMatch"`
	} `json:"capabilities"`
}

// MarshalJSON produces a new-session payload that both W3C and legacy endpoints accept.
func (c CapabilityRequest) MarshalJSON() ([]byte, error) {
	var version *string
	if c.BrowserVersion.IsDefined() {
		v := c.BrowserVersion.StringValue()
		version = &v
	}
	var params newSessionParams
	params.DesiredCapabilities = legacyCapabilities{
		BrowserName: c.BrowserName,
		Version:     version,
		Platform:    c.Platform,
		Name:        c.Name,
		Build:       c.Build,
		Tags:        c.Tags,
	}
	params.Capabilities.AlwaysMatch = w3cCapabilities{
		BrowserName:    c.BrowserName,
		BrowserVersion: version,
		PlatformName:   c.Platform,
		VendorOptions:  vendorOptions{Name: c.Name, Build: c.Build, Tags: c.Tags},
	}
	return json.Marshal(params)
}
