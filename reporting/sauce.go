// Package reporting tells the remote provider whether the scenario passed in each session, so
// that the provider's dashboard shows the same result as the local run.
package reporting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/cloudbees/browser-matrix-tests/credentials"
	"github.com/cloudbees/browser-matrix-tests/errdefs"
	"github.com/cloudbees/browser-matrix-tests/framework"
)

// DefaultAPIURL is the base of the provider's REST API.
const DefaultAPIURL = "https://saucelabs.com/rest/v1"

const maxErrorBody = 500

// JobUpdate is the body of a job status update.
type JobUpdate struct {
	Passed     bool        `json:"passed"`
	CustomData *CustomData `json:"custom-data,omitempty"`
}

type CustomData struct {
	Failure     string                `json:"failure,omitempty"`
	FailureKind framework.FailureKind `json:"failure_kind,omitempty"`
}

// NewJobUpdate converts an Outcome into the update that the provider expects.
func NewJobUpdate(outcome framework.Outcome) JobUpdate {
	u := JobUpdate{Passed: outcome.Passed}
	if !outcome.Passed {
		u.CustomData = &CustomData{Failure: outcome.FailureDetail, FailureKind: outcome.FailureKind}
	}
	return u
}

// SauceReporter implements framework.Reporter against the Sauce Labs jobs API. An update sets
// the job's status rather than adding to it, so reporting the same outcome twice is harmless.
type SauceReporter struct {
	apiURL     string
	creds      credentials.Credentials
	httpClient *http.Client
}

func NewSauceReporter(apiURL string, creds credentials.Credentials, httpClient *http.Client) (*SauceReporter, error) {
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	u, err := url.Parse(apiURL)
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("API URL must be http or https, got %q", u.Scheme)
	}
	if u.User != nil {
		return nil, errors.New("API URL must not contain credentials")
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &SauceReporter{
		apiURL:     strings.TrimSuffix(apiURL, "/"),
		creds:      creds,
		httpClient: httpClient,
	}, nil
}

// JobURL is the address of a session's job record.
func (r *SauceReporter) JobURL(sessionID string) string {
	return fmt.Sprintf("%s/%s/jobs/%s", r.apiURL, url.PathEscape(r.creds.Username), url.PathEscape(sessionID))
}

// Report implements framework.Reporter. Any failure is returned as an *errdefs.ReportingError.
func (r *SauceReporter) Report(ctx context.Context, sessionID string, outcome framework.Outcome) error {
	if sessionID == "" {
		return &errdefs.ReportingError{Err: errors.New("no session ID")}
	}
	if outcome.SessionID != "" && outcome.SessionID != sessionID {
		return &errdefs.ReportingError{
			SessionID: sessionID,
			Err:       fmt.Errorf("outcome belongs to session %s", outcome.SessionID),
		}
	}
	data, err := json.Marshal(NewJobUpdate(outcome))
	if err != nil {
		return &errdefs.ReportingError{SessionID: sessionID, Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, r.JobURL(sessionID), bytes.NewReader(data))
	if err != nil {
		return &errdefs.ReportingError{SessionID: sessionID, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(r.creds.Username, r.creds.AccessKey)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return &errdefs.ReportingError{SessionID: sessionID, Err: err}
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if resp.StatusCode >= 300 {
		return &errdefs.ReportingError{
			SessionID: sessionID,
			Err:       fmt.Errorf("job update returned HTTP status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
		}
	}
	return nil
}
