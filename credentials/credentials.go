// Package credentials loads the authentication material that every pipeline uses to talk to the
// remote provider.
//
// Credentials are loaded once at startup and passed by value into each pipeline. Nothing
// modifies them afterward, so concurrent pipelines can share them without locking.
package credentials

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/cloudbees/browser-matrix-tests/errdefs"
)

const propertiesFileName = ".sauce-ondemand"

// Environment variables that are checked, in order of preference.
var (
	usernameVars  = []string{"SAUCE_USERNAME", "SAUCE_USER_NAME"}
	accessKeyVars = []string{"SAUCE_ACCESS_KEY", "SAUCE_API_KEY"}
)

// Credentials identify the account that owns the remote sessions.
type Credentials struct {
	Username  string
	AccessKey string
}

// String never includes the access key, so Credentials can be passed to any logger safely.
func (c Credentials) String() string {
	return c.Username + ":" + redact(c.AccessKey)
}

// MarshalZerologObject implements zerolog.LogObjectMarshaler.
func (c Credentials) MarshalZerologObject(e *zerolog.Event) {
	e.Str("username", c.Username).Str("access_key", redact(c.AccessKey))
}

// GoString keeps the key out of %#v output too.
func (c Credentials) GoString() string {
	return "credentials.Credentials{Username:" + c.Username + ", AccessKey:" + redact(c.AccessKey) + "}"
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "****"
}

// Source tells Load where to look for credentials.
type Source struct {
	// LookupEnv defaults to os.LookupEnv.
	LookupEnv func(string) (string, bool)
	// PropertiesFile is a Java-properties file with "username" and "key" entries. If empty, the
	// file ~/.sauce-ondemand is used when it exists.
	PropertiesFile string
}

// Load returns credentials from environment variables, falling back to the properties file.
// It returns an *errdefs.ConfigurationError if either value cannot be found.
func Load(src Source) (Credentials, error) {
	lookup := src.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	c := Credentials{
		Username:  firstEnv(lookup, usernameVars),
		AccessKey: firstEnv(lookup, accessKeyVars),
	}
	if c.Username != "" && c.AccessKey != "" {
		return c, nil
	}

	path := src.PropertiesFile
	explicit := path != ""
	if !explicit {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, propertiesFileName)
		}
	}
	if path != "" {
		fromFile, err := readPropertiesFile(path)
		switch {
		case err == nil:
			if c.Username == "" {
				c.Username = fromFile.Username
			}
			if c.AccessKey == "" {
				c.AccessKey = fromFile.AccessKey
			}
		case explicit || !errors.Is(err, os.ErrNotExist):
			return Credentials{}, &errdefs.ConfigurationError{Field: path, Err: err}
		}
	}

	if c.Username == "" {
		return Credentials{}, errdefs.Configurationf("username", "not set; define %s", strings.Join(usernameVars, " or "))
	}
	if c.AccessKey == "" {
		return Credentials{}, errdefs.Configurationf("access key", "not set; define %s", strings.Join(accessKeyVars, " or "))
	}
	return c, nil
}

func firstEnv(lookup func(string) (string, bool), names []string) string {
	for _, name := range names {
		if v, ok := lookup(name); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func readPropertiesFile(path string) (Credentials, error) {
	if _, err := os.Stat(path); err != nil {
		return Credentials{}, err
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("properties")
	if err := v.ReadInConfig(); err != nil {
		return Credentials{}, err
	}
	return Credentials{
		Username:  strings.TrimSpace(v.GetString("username")),
		AccessKey: strings.TrimSpace(v.GetString("key")),
	}, nil
}
