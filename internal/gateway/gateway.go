// Package gateway is the HTTP client for the recognition backend: camera
// lifecycle, snapshots, face quality scoring, registration, directory
// lookups and the recognition event stream.
package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kozaktomas/punchclock/internal/constants"
)

// Client talks to the backend API rooted at URL (for example
// "http://device:5002/api").
type Client struct {
	URL          string
	parsedURL    *url.URL
	httpClient   *http.Client
	timeout      time.Duration
	captureDir   string
	maxFrameSize int64
}

// New creates a client for the given API base URL. timeout bounds every
// request; the long-lived streams only use it for the wait on response
// headers. Zero disables it.
func New(rawURL string, timeout time.Duration) (*Client, error) {
	return NewWithCapture(rawURL, timeout, "")
}

// NewWithCapture creates a client that also dumps every JSON response into
// captureDir. Pass an empty captureDir to disable capturing.
func NewWithCapture(rawURL string, timeout time.Duration, captureDir string) (*Client, error) {
	rawURL = strings.TrimRight(strings.TrimSpace(rawURL), "/")
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("invalid API URL %q: scheme must be http or https", rawURL)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("invalid API URL %q: missing host", rawURL)
	}

	c := &Client{
		URL:          rawURL,
		parsedURL:    parsed,
		httpClient:   http.DefaultClient,
		timeout:      timeout,
		maxFrameSize: constants.MaxFrameSize,
	}
	if err := c.SetCaptureDir(captureDir); err != nil {
		return nil, err
	}
	return c, nil
}

// Root is the server root the API lives under, used for resolving
// relative asset paths such as profile photos.
func (c *Client) Root() string {
	return strings.TrimSuffix(c.URL, "/api")
}

// resolveURL builds a full URL from the base API URL and the given path segments.
// If the last segment contains a query string (e.g. "attendance?limit=10"), it is
// split so JoinPath only receives the path portion and the query is appended.
func (c *Client) resolveURL(pathSegments ...string) string {
	if len(pathSegments) == 0 {
		return c.parsedURL.String()
	}
	last := pathSegments[len(pathSegments)-1]
	if pathPart, query, ok := strings.Cut(last, "?"); ok {
		segments := append([]string(nil), pathSegments...)
		segments[len(segments)-1] = pathPart
		result := c.parsedURL.JoinPath(segments...)
		result.RawQuery = query
		return result.String()
	}
	return c.parsedURL.JoinPath(pathSegments...).String()
}

// StatusError is returned when the backend answers with an unexpected
// HTTP status.
type StatusError struct {
	Code int
	Body string
	// Message is the "message" or "error" field of a JSON error body.
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("request failed with status %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("request failed with status %d: %s", e.Code, e.Body)
}

func newStatusError(resp *http.Response) *StatusError {
	body := readErrorBody(resp.Body)
	se := &StatusError{Code: resp.StatusCode, Body: body}

	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal([]byte(body), &payload); err == nil {
		se.Message = payload.Message
		if se.Message == "" {
			se.Message = payload.Error
		}
	}
	return se
}

// IsNotFoundError returns true if the error indicates a 404 Not Found response.
func IsNotFoundError(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == http.StatusNotFound
}

// IsUnavailable returns true for 5xx responses, which the backend uses when
// the camera or the recognition pipeline is not running.
func IsUnavailable(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code >= http.StatusInternalServerError
}

// ErrorMessage extracts the server supplied message from err, if any.
func ErrorMessage(err error) string {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Message
	}
	return ""
}

// readErrorBody reads the response body for error messages.
// Returns a placeholder if reading fails (we're already in an error path).
func readErrorBody(r io.Reader) string {
	body, err := io.ReadAll(io.LimitReader(r, 64<<10))
	if err != nil {
		return "(could not read error body)"
	}
	return strings.TrimSpace(string(body))
}

// SetCaptureDir enables API response capturing to the specified directory.
// Pass an empty string to disable capturing.
func (c *Client) SetCaptureDir(dir string) error {
	if dir == "" {
		c.captureDir = ""
		return nil
	}

	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("could not create capture directory: %w", err)
	}
	c.captureDir = dir
	return nil
}

// captureResponse saves the API response body to a file if capturing is enabled.
func (c *Client) captureResponse(endpoint string, body []byte) {
	if c.captureDir == "" {
		return
	}

	name, _, _ := strings.Cut(endpoint, "?")
	name = strings.TrimPrefix(strings.ReplaceAll(name, "/", "_"), "_")
	name = fmt.Sprintf("%s_%s.json", name, time.Now().Format("20060102_150405.000"))
	path := filepath.Join(c.captureDir, name)

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, body, "", "  "); err == nil {
		body = pretty.Bytes()
	}

	if err := os.WriteFile(path, body, 0600); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to capture response to %s: %v\n", path, err)
	}
}

// ID is an identifier the backend sends either as a string or a number.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || string(b) == "null":
		*id = ""
	case b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return fmt.Errorf("unmarshal id: %w", err)
		}
		*id = ID(s)
	default:
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("unmarshal id: %w", err)
		}
		*id = ID(n.String())
	}
	return nil
}

func (id ID) String() string { return string(id) }
