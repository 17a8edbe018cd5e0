// Package vault talks to a HashiCorp Vault compatible secret backend: KV v2
// storage, the PKI engine, userpass login and a few sys endpoints.
package vault

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
)

// MethodList is Vault's LIST verb.
const MethodList = "LIST"

var (
	// ErrUnavailable indicates Vault could not be reached or answered 5xx.
	ErrUnavailable = errors.New("vault unavailable")

	// ErrNotFound indicates Vault answered 404.
	ErrNotFound = errors.New("vault path not found")

	// ErrPermissionDenied indicates Vault answered 403.
	ErrPermissionDenied = errors.New("vault permission denied")

	// ErrLoginFailed indicates the credentials were refused.
	ErrLoginFailed = errors.New("vault login failed")
)

// ResponseError is a non-2xx answer from Vault.
type ResponseError struct {
	Status int
	Errors []string
}

func (e *ResponseError) Error() string {
	if len(e.Errors) == 0 {
		return fmt.Sprintf("vault returned status %d", e.Status)
	}
	return fmt.Sprintf("vault returned status %d: %s", e.Status, strings.Join(e.Errors, "; "))
}

// Is maps the status onto the package sentinels.
func (e *ResponseError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	case ErrPermissionDenied:
		return e.Status == http.StatusForbidden
	case ErrUnavailable:
		return e.Status >= 500
	default:
		return false
	}
}

// Response is a raw Vault answer.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Decode unmarshals the JSON body into v.
func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("failed to decode vault response: %w", err)
	}
	return nil
}

// Options configures a Client.
type Options struct {
	Addr     string
	Timeout  time.Duration
	RetryMax int
	Logger   *slog.Logger
}

// Client is a Vault HTTP client. Reads go through a retrying client; writes
// are sent once because issuance and login are not idempotent.
type Client struct {
	addr   string
	reader *retryablehttp.Client
	writer *http.Client
	logger *slog.Logger
}

// NewClient creates a Vault client
func NewClient(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	reader := retryablehttp.NewClient()
	reader.HTTPClient = cleanhttp.DefaultPooledClient()
	reader.HTTPClient.Timeout = opts.Timeout
	reader.RetryMax = opts.RetryMax
	reader.RetryWaitMin = 100 * time.Millisecond
	reader.RetryWaitMax = 2 * time.Second
	reader.Logger = opts.Logger
	reader.ErrorHandler = retryablehttp.PassthroughErrorHandler

	writer := cleanhttp.DefaultPooledClient()
	writer.Timeout = opts.Timeout

	return &Client{
		addr:   strings.TrimRight(opts.Addr, "/"),
		reader: reader,
		writer: writer,
		logger: opts.Logger,
	}
}

// Addr returns the configured Vault address.
func (c *Client) Addr() string {
	return c.addr
}

// Raw sends a request and returns the answer whatever its status. Only
// transport failures are errors.
func (c *Client) Raw(ctx context.Context, method, path, token string, body any) (*Response, error) {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, fmt.Errorf("failed to encode vault request: %w", err)
		}
	}

	endpoint := c.addr + "/v1/" + strings.TrimLeft(path, "/")

	var resp *http.Response
	var err error
	if method == http.MethodGet || method == MethodList {
		var req *retryablehttp.Request
		req, err = retryablehttp.NewRequestWithContext(ctx, method, endpoint, payload)
		if err != nil {
			return nil, fmt.Errorf("failed to build vault request: %w", err)
		}
		setHeaders(req.Header, token, payload != nil)
		resp, err = c.reader.Do(req)
	} else {
		var req *http.Request
		req, err = http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("failed to build vault request: %w", err)
		}
		setHeaders(req.Header, token, payload != nil)
		resp, err = c.writer.Do(req)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", ErrUnavailable, method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %w", ErrUnavailable, err)
	}

	c.logger.Debug("vault request", "method", method, "path", path, "status", resp.StatusCode)
	return &Response{Status: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

// Do sends a request and turns non-2xx answers into *ResponseError.
func (c *Client) Do(ctx context.Context, method, path, token string, body any) (*Response, error) {
	resp, err := c.Raw(ctx, method, path, token, body)
	if err != nil {
		return nil, err
	}
	if resp.Status < 200 || resp.Status > 299 {
		return nil, responseError(resp)
	}
	return resp, nil
}

func setHeaders(h http.Header, token string, hasBody bool) {
	if token != "" {
		h.Set("X-Vault-Token", token)
	}
	if hasBody {
		h.Set("Content-Type", "application/json")
	}
}

func responseError(resp *Response) *ResponseError {
	var body struct {
		Errors []string `json:"errors"`
	}
	_ = json.Unmarshal(resp.Body, &body)
	return &ResponseError{Status: resp.Status, Errors: body.Errors}
}

// JoinPath escapes each segment of the slash separated parts and joins them.
func JoinPath(parts ...string) string {
	var segs []string
	for _, part := range parts {
		for _, seg := range strings.Split(part, "/") {
			if seg != "" {
				segs = append(segs, url.PathEscape(seg))
			}
		}
	}
	return strings.Join(segs, "/")
}
