// Package webdriver implements just enough of the remote browser automation protocol to open a
// session on a remote grid, drive a scenario in it, and close it again.
package webdriver

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
	"time"

	"github.com/cloudbees/browser-matrix-tests/credentials"
	"github.com/cloudbees/browser-matrix-tests/errdefs"
	"github.com/cloudbees/browser-matrix-tests/framework"
	"github.com/cloudbees/browser-matrix-tests/matrix"
)

const abandonedSessionCleanupTimeout = 30 * time.Second

// Client opens sessions on one remote grid. It is safe for concurrent use; the sessions it
// returns are not shared between goroutines.
type Client struct {
	remoteURL  string
	httpClient *http.Client

	// Build is added to every capability request so that the provider can group the sessions of
	// one test run together.
	Build string
}

// NewClient creates a Client for the given hub URL, such as https://ondemand.saucelabs.com/wd/hub.
// The URL must not contain credentials; those are supplied per session and sent in a header.
func NewClient(remoteURL string, httpClient *http.Client) (*Client, error) {
	u, err := url.Parse(remoteURL)
	if err != nil {
		return nil, fmt.Errorf("invalid remote URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("remote URL must be http or https, got %q", u.Scheme)
	}
	if u.User != nil {
		return nil, errors.New("remote URL must not contain credentials")
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		remoteURL:  strings.TrimSuffix(remoteURL, "/"),
		httpClient: httpClient,
	}, nil
}

// Open implements framework.SessionFactory.
func (c *Client) Open(
	ctx context.Context,
	env matrix.EnvironmentDescriptor,
	creds credentials.Credentials,
	label string,
	logger framework.Logger,
) (*Session, error) {
	caps := NewCapabilityRequest(env, label)
	caps.Build = c.Build
	s, err := c.NewSession(ctx, caps, creds, logger)
	if err != nil {
		var sce *errdefs.SessionCreationError
		if errors.As(err, &sce) && sce.Environment == "" {
			sce.Environment = env.ID()
		}
		return nil, err
	}
	return s, nil
}

// NewSession asks the remote end to start a browser matching caps. Any failure is returned as an
// *errdefs.SessionCreationError. If the remote end created a session but we could not finish
// setting it up (for instance because ctx expired while the response was being read), that
// session is deleted again before NewSession returns.
func (c *Client) NewSession(
	ctx context.Context,
	caps CapabilityRequest,
	creds credentials.Credentials,
	logger framework.Logger,
) (*Session, error) {
	if logger == nil {
		logger = framework.NullLogger()
	}
	fail := func(statusCode int, err error) (*Session, error) {
		return nil, &errdefs.SessionCreationError{StatusCode: statusCode, Err: err}
	}

	data, err := json.Marshal(caps)
	if err != nil {
		return fail(0, err)
	}
	logger.Printf("Requesting session from %s with capabilities: %s", c.remoteURL, string(data))

	statusCode, body, err := c.send(ctx, http.MethodPost, c.remoteURL+"/session", data, creds)
	if err != nil {
		return fail(0, err)
	}
	resp, err := decodeResponse("new session", statusCode, body)

	var value newSessionValue
	if len(resp.Value) > 0 {
		_ = json.Unmarshal(resp.Value, &value)
	}
	sessionID := resp.SessionID
	if sessionID == "" {
		sessionID = value.SessionID
	}

	s := &Session{
		client:       c,
		id:           sessionID,
		endpoint:     c.remoteURL + "/session/" + url.PathEscape(sessionID),
		capabilities: value.Capabilities,
		creds:        creds,
		logger:       logger,
	}
	success := false
	defer func() {
		if !success && sessionID != "" {
			logger.Printf("Deleting session %s that could not be set up", sessionID)
			cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), abandonedSessionCleanupTimeout)
			defer cancel()
			if err := s.Close(cleanupCtx); err != nil {
				logger.Printf("Could not delete abandoned session %s: %s", sessionID, err)
			}
		}
	}()

	if err != nil {
		return fail(statusCode, err)
	}
	if sessionID == "" {
		return fail(statusCode, errors.New("remote end did not return a session ID"))
	}
	if err := ctx.Err(); err != nil {
		return fail(statusCode, err)
	}

	success = true
	if caps := s.Capabilities(); len(caps) > 0 {
		negotiated, _ := json.Marshal(caps)
		logger.Printf("Session %s created with capabilities: %s", sessionID, string(negotiated))
	} else {
		logger.Printf("Session %s created", sessionID)
	}
	return s, nil
}

// send performs one protocol request and returns the status code and full response body.
func (c *Client) send(
	ctx context.Context,
	method, target string,
	payload []byte,
	creds credentials.Credentials,
) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return 0, nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
	}
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(creds.Username, creds.AccessKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("error reading response body: %w", err)
	}
	return resp.StatusCode, data, nil
}
