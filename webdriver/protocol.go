package webdriver

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Legacy JSON wire protocol status codes that we need to recognize.
const (
	legacyStatusSuccess       = 0
	legacyStatusNoSuchElement = 7
)

const (
	errCodeNoSuchElement    = "no such element"
	errCodeInvalidSessionID = "invalid session id"
)

// response is the envelope used by both protocol dialects.
type response struct {
	SessionID string          `json:"sessionId"`
	Status    *int            `json:"status"`
	Value     json.RawMessage `json:"value"`
}

type errorValue struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type newSessionValue struct {
	SessionID    string                 `json:"sessionId"`
	Capabilities map[string]interface{} `json:"capabilities"`
}

type elementValue struct {
	W3C    string `json:"element-6066-11e4-a52e-4f735466cecf"`
	Legacy string `json:"ELEMENT"`
}

// CommandError is an error response from the remote end.
type CommandError struct {
	Command    string
	StatusCode int
	// Code is the W3C error code, such as "no such element". For legacy responses it is derived
	// from the numeric status where we know it.
	Code    string
	Message string
}

func (e *CommandError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s failed", e.Command)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " with HTTP status %d", e.StatusCode)
	}
	if e.Code != "" {
		fmt.Fprintf(&b, " (%s)", e.Code)
	}
	if e.Message != "" {
		b.WriteString(": " + e.Message)
	}
	return b.String()
}

// IsNoSuchElement returns true if err means that a locator matched nothing.
func IsNoSuchElement(err error) bool {
	var ce *CommandError
	return errors.As(err, &ce) && ce.Code == errCodeNoSuchElement
}

// IsInvalidSession returns true if err means that the remote end no longer knows the session.
func IsInvalidSession(err error) bool {
	var ce *CommandError
	return errors.As(err, &ce) && ce.Code == errCodeInvalidSessionID
}

// decodeResponse parses a response body and turns protocol-level failures into a *CommandError,
// whether they are signalled by HTTP status (W3C) or by a nonzero "status" field (legacy).
func decodeResponse(command string, statusCode int, body []byte) (response, error) {
	var resp response
	if len(body) > 0 {
		if err := json.Unmarshal(body, &resp); err != nil {
			if statusCode >= 300 {
				return resp, &CommandError{Command: command, StatusCode: statusCode, Message: truncate(string(body))}
			}
			return resp, fmt.Errorf("malformed response to %s: %s", command, truncate(string(body)))
		}
	}

	legacyFailure := resp.Status != nil && *resp.Status != legacyStatusSuccess
	if statusCode < 300 && !legacyFailure {
		return resp, nil
	}

	ce := &CommandError{Command: command}
	if statusCode >= 300 {
		ce.StatusCode = statusCode
	}
	var ev errorValue
	if len(resp.Value) > 0 && json.Unmarshal(resp.Value, &ev) == nil {
		ce.Code = ev.Error
		ce.Message = ev.Message
	}
	if ce.Code == "" && resp.Status != nil && *resp.Status == legacyStatusNoSuchElement {
		ce.Code = errCodeNoSuchElement
	}
	if ce.Code == "" && statusCode == 404 && command != "new session" {
		ce.Code = errCodeInvalidSessionID
	}
	return resp, ce
}

func truncate(s string) string {
	const max = 500
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
