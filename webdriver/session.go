package webdriver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/cloudbees/browser-matrix-tests/credentials"
	"github.com/cloudbees/browser-matrix-tests/framework"
)

// Session is a live remote browser session. It is owned by a single pipeline until Close is
// called.
type Session struct {
	client       *Client
	id           string
	endpoint     string
	capabilities map[string]interface{}
	creds        credentials.Credentials
	logger       framework.Logger

	closeOnce sync.Once
	closeErr  error
}

// By is an element locator.
type By struct {
	Using string `json:"using"`
	Value string `json:"value"`
}

func ByCSSSelector(selector string) By { return By{Using: "css selector", Value: selector} }

func ByXPath(expr string) By { return By{Using: "xpath", Value: expr} }

func ByLinkText(text string) By { return By{Using: "link text", Value: text} }

func ByTagName(name string) By { return By{Using: "tag name", Value: name} }

// ByClassName is expressed as a CSS selector, since W3C endpoints do not support the "class
// name" strategy.
func ByClassName(name string) By { return ByCSSSelector("." + cssIdent(name)) }

// ByID is expressed as a CSS selector for the same reason as ByClassName.
func ByID(id string) By { return ByCSSSelector("#" + cssIdent(id)) }

// ParseBy converts a strategy name as written in configuration into a locator.
func ParseBy(strategy, value string) (By, error) {
	switch strings.ToLower(strings.TrimSpace(strategy)) {
	case "css", "css selector":
		return ByCSSSelector(value), nil
	case "class", "class name":
		return ByClassName(value), nil
	case "id":
		return ByID(value), nil
	case "xpath":
		return ByXPath(value), nil
	case "link text":
		return ByLinkText(value), nil
	case "tag", "tag name":
		return ByTagName(value), nil
	default:
		return By{}, fmt.Errorf("unknown locator strategy %q", strategy)
	}
}

func (b By) String() string {
	return fmt.Sprintf("%s %q", b.Using, b.Value)
}

func cssIdent(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r == '-' || r == '_' || r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r > 0x7f:
			b.WriteRune(r)
		default:
			b.WriteRune('\\')
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Element is a reference to an element in the remote page.
type Element struct {
	ID string
}

func (s *Session) ID() string { return s.id }

// Endpoint is the session's base URL. It never contains credentials.
func (s *Session) Endpoint() string { return s.endpoint }

// Capabilities returns what the remote end reported about the session, if anything.
func (s *Session) Capabilities() map[string]interface{} { return s.capabilities }

// Navigate loads a URL in the session's browser and waits for the page load to finish.
func (s *Session) Navigate(ctx context.Context, target string) error {
	s.logger.Printf("Navigating to %s", target)
	_, err := s.command(ctx, "navigate", http.MethodPost, "/url", map[string]string{"url": target})
	return err
}

// Title returns the current page title.
func (s *Session) Title(ctx context.Context) (string, error) {
	resp, err := s.command(ctx, "get title", http.MethodGet, "/title", nil)
	if err != nil {
		return "", err
	}
	var title string
	if err := json.Unmarshal(resp.Value, &title); err != nil {
		return "", fmt.Errorf("malformed title in response: %w", err)
	}
	return title, nil
}

// FindElement looks up the first element matching the locator. If nothing matches, the error
// satisfies IsNoSuchElement.
func (s *Session) FindElement(ctx context.Context, by By) (Element, error) {
	s.logger.Printf("Finding element by %s", by)
	resp, err := s.command(ctx, "find element", http.MethodPost, "/element", by)
	if err != nil {
		return Element{}, err
	}
	var ev elementValue
	if err := json.Unmarshal(resp.Value, &ev); err != nil {
		return Element{}, fmt.Errorf("malformed element reference in response: %w", err)
	}
	id := ev.W3C
	if id == "" {
		id = ev.Legacy
	}
	if id == "" {
		return Element{}, fmt.Errorf("response to find element did not contain an element reference")
	}
	return Element{ID: id}, nil
}

// ElementText returns the rendered text of an element.
func (s *Session) ElementText(ctx context.Context, el Element) (string, error) {
	resp, err := s.command(ctx, "get element text", http.MethodGet, "/element/"+url.PathEscape(el.ID)+"/text", nil)
	if err != nil {
		return "", err
	}
	var text string
	if err := json.Unmarshal(resp.Value, &text); err != nil {
		return "", fmt.Errorf("malformed element text in response: %w", err)
	}
	return text, nil
}

// Close ends the remote session. Only the first call has any effect; later calls return the
// same result. A session that the remote end has already discarded counts as closed.
func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.logger.Printf("Deleting session %s", s.id)
		statusCode, body, err := s.client.send(ctx, http.MethodDelete, s.endpoint, nil, s.creds)
		if err != nil {
			s.closeErr = err
			return
		}
		if statusCode == http.StatusNotFound {
			s.logger.Printf("Session %s was already gone", s.id)
			return
		}
		if _, err := decodeResponse("delete session", statusCode, body); err != nil {
			if IsInvalidSession(err) {
				return
			}
			s.closeErr = err
		}
	})
	return s.closeErr
}

func (s *Session) command(ctx context.Context, name, method, path string, params interface{}) (response, error) {
	var payload []byte
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return response{}, err
		}
		payload = data
	} else if method == http.MethodPost {
		payload = []byte("{}")
	}
	statusCode, body, err := s.client.send(ctx, method, s.endpoint+path, payload, s.creds)
	if err != nil {
		return response{}, fmt.Errorf("%s: %w", name, err)
	}
	return decodeResponse(name, statusCode, body)
}
