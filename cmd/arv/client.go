package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// Exit codes for client verbs
const (
	exitOK          = 0
	exitClientError = 1
	exitServerError = 2
	exitForbidden   = 3
	exitConflict    = 4
)

// defaultHost is used when neither ARV_BASE nor ARV_HOST is set.
const defaultHost = "http://localhost:3000"

// exitError carries a process exit code alongside the message.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

func exitf(code int, format string, args ...any) *exitError {
	return &exitError{code: code, msg: fmt.Sprintf(format, args...)}
}

// exitCodeFor maps an HTTP status to the documented exit code.
func exitCodeFor(status int) int {
	switch {
	case status < 400:
		return exitOK
	case status == http.StatusForbidden:
		return exitForbidden
	case status == http.StatusConflict:
		return exitConflict
	case status >= 500:
		return exitServerError
	default:
		return exitClientError
	}
}

// apiClient is the REST client behind every non-serve verb.
type apiClient struct {
	// base is the session-scoped API root (ARV_BASE) when set, otherwise
	// the server root (ARV_HOST)
	base  string
	key   string
	model string
	http  *http.Client
}

func newClient() *apiClient {
	base := os.Getenv("ARV_BASE")
	if base == "" {
		base = os.Getenv("ARV_HOST")
	}
	if base == "" {
		base = defaultHost
	}
	return &apiClient{
		base:  strings.TrimRight(base, "/"),
		key:   os.Getenv("ARV_KEY"),
		model: os.Getenv("ARV_MODEL"),
		http:  &http.Client{Timeout: 60 * time.Second},
	}
}

// sessionScoped reports whether ARV_BASE already points inside a session.
func (c *apiClient) sessionScoped() bool {
	return strings.Contains(c.base, "/api/sessions/")
}

// serverRoot strips any session scope off the base URL.
func (c *apiClient) serverRoot() string {
	if i := strings.Index(c.base, "/api/"); i >= 0 {
		return c.base[:i]
	}
	return c.base
}

// sessionURL resolves a path under the session root. Outside a session
// scope the sid argument is required.
func (c *apiClient) sessionURL(sid, path string) (string, error) {
	if c.sessionScoped() && sid == "" {
		return c.base + path, nil
	}
	if sid == "" {
		return "", exitf(exitClientError, "session id required (or set ARV_BASE to a session API root)")
	}
	return c.serverRoot() + "/api/sessions/" + sid + path, nil
}

// issueURL resolves a path under the global issue root.
func (c *apiClient) issueURL(issueID, path string) string {
	return c.serverRoot() + "/api/issues/" + issueID + path
}

// do performs a request and decodes the JSON response. A non-2xx status is
// returned as an exitError carrying the mapped exit code.
func (c *apiClient) do(method, rawURL string, body any) (map[string]any, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, exitf(exitClientError, "failed to encode request: %v", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(method, rawURL, reader)
	if err != nil {
		return nil, exitf(exitClientError, "invalid request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.key != "" {
		req.Header.Set("X-Agent-Key", c.key)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, exitf(exitServerError, "request failed: %v", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, exitf(exitServerError, "failed to read response: %v", err)
	}

	var decoded map[string]any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			if resp.StatusCode >= 400 {
				return nil, exitf(exitCodeFor(resp.StatusCode), "%s: %s", resp.Status, strings.TrimSpace(string(raw)))
			}
			return nil, exitf(exitServerError, "malformed response: %v", err)
		}
	}

	if resp.StatusCode >= 400 {
		msg := resp.Status
		if m, ok := decoded["message"].(string); ok && m != "" {
			msg = m
		}
		if code, ok := decoded["code"].(string); ok && code != "" {
			msg = code + ": " + msg
		}
		return nil, exitf(exitCodeFor(resp.StatusCode), "%s", msg)
	}
	return decoded, nil
}

// query builds a query string from non-empty values.
func query(params map[string]string) string {
	values := url.Values{}
	for k, v := range params {
		if v != "" {
			values.Set(k, v)
		}
	}
	if len(values) == 0 {
		return ""
	}
	return "?" + values.Encode()
}

// printJSON renders a response body for scripting consumers.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
