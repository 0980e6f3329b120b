package orientlog

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
)

const (
	sessionHeader       = "OSESSIONID"
	authorizationHeader = "Authorization"
	bulkWritePath       = "batch"

	// bound on response bytes kept for a DeliveryError
	maxErrorBody = 512

	// bound on response bytes drained from successful responses, so the
	// connection can be reused
	maxDrainBody = 64 << 10
)

// Deliverer is the part of the Client used by the Sink.
type Deliverer interface {
	Send(ctx context.Context, payload []byte) error
	EnsureClass(ctx context.Context, className string) (created bool, err error)
	CloseIdleConnections()
}

// Client delivers batch payloads to the store's bulk-write endpoint and holds
// the session state used to authenticate them.
//
// A server issued session token, once received, takes precedence over the
// static credentials. When the server rejects the token, the Client forgets it
// and retries exactly once with the static credentials (or anonymously).
type Client struct {
	opts        *ClientOptions
	http        *http.Client
	baseURL     string
	database    string
	credentials string

	// guards session and gz; held for one whole delivery, so deliveries are
	// serialized and each reads and writes the session exactly once
	mu      sync.Mutex
	session string
	gz      *gzip.Writer
}

// NewClient creates a Client for the database served at serverURL. No
// requests are made until the first Send or EnsureClass.
func NewClient(serverURL, database string, opts *ClientOptions) (*Client, error) {
	if len(serverURL) == 0 {
		return nil, errors.New("valid server URL required")
	}
	if len(database) == 0 {
		return nil, errors.New("valid database name required")
	}

	if !strings.HasSuffix(serverURL, "/") {
		serverURL += "/"
	}
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL %q: %w", serverURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid server URL %q: scheme must be http or https", serverURL)
	}

	if opts == nil {
		opts = DefaultClientOptions()
	} else {
		opts.resolve()
	}

	c := &Client{
		opts:     opts,
		http:     opts.HTTPClient,
		baseURL:  u.String(),
		database: database,
	}

	if strings.TrimSpace(opts.Username) != "" && len(opts.Password) > 0 {
		c.credentials = base64.StdEncoding.EncodeToString([]byte(opts.Username + ":" + opts.Password))
	}

	c.debug("created Client for database %s at %s with the resolved ClientOptions: %+v", database, c.baseURL, redacted(opts))

	return c, nil
}

// Send posts one batch payload. It makes at most two attempts: the second one
// only when the first was rejected with 401 while a session token was in use.
// Any other non-2xx outcome is returned as a *DeliveryError.
func (c *Client) Send(ctx context.Context, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	body, encoding, err := c.encodeBody(payload)
	if err != nil {
		return err
	}

	endpoint := c.endpoint(bulkWritePath, c.database)

	for attempt := 1; ; attempt++ {
		usedSession := len(c.session) > 0

		res, err := c.do(ctx, http.MethodPost, endpoint, body, encoding)
		if err != nil {
			return fmt.Errorf("failed to POST batch to %s: %w", endpoint, err)
		}

		if res.ok() {
			// the most recent successful response owns the session
			c.session = res.header.Get(sessionHeader)
			c.debug("delivered batch of %d bytes on attempt %d", len(payload), attempt)
			return nil
		}

		if res.status == http.StatusUnauthorized && usedSession && attempt == 1 {
			c.debug("session rejected by server; retrying with static credentials")
			c.session = ""
			continue
		}

		return &DeliveryError{StatusCode: res.status, Status: res.statusText, Body: res.body}
	}
}

// Session returns the current server session token, if any.
func (c *Client) Session() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// CloseIdleConnections releases idle pooled connections.
func (c *Client) CloseIdleConnections() {
	c.http.CloseIdleConnections()
}

func (c *Client) encodeBody(payload []byte) ([]byte, string, error) {
	if !c.opts.Compress {
		return payload, "", nil
	}

	var buf bytes.Buffer
	if c.gz == nil {
		c.gz = gzip.NewWriter(&buf)
	} else {
		c.gz.Reset(&buf)
	}
	if _, err := c.gz.Write(payload); err != nil {
		return nil, "", fmt.Errorf("failed to compress payload: %w", err)
	}
	if err := c.gz.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to compress payload: %w", err)
	}
	return buf.Bytes(), "gzip", nil
}

type response struct {
	status     int
	statusText string
	header     http.Header

	// excerpt, only kept for failed requests
	body string
}

func (r *response) ok() bool { return r.status >= 200 && r.status < 300 }

// do performs one request, authenticated with the current session state, and
// reads the response before returning. The caller must hold c.mu.
func (c *Client) do(ctx context.Context, method, endpoint string, body []byte, encoding string) (*response, error) {
	if c.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.RequestTimeout)
		defer cancel()
	}

	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, r)
	if err != nil {
		return nil, err
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if len(encoding) > 0 {
		req.Header.Set("Content-Encoding", encoding)
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)
	c.authorize(req.Header)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	res := &response{
		status:     resp.StatusCode,
		statusText: resp.Status,
		header:     resp.Header,
	}

	if res.ok() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBody))
		return res, nil
	}

	excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	res.body = strings.TrimSpace(string(excerpt))
	return res, nil
}

// authorize attaches the session token if there is one, else the static
// credentials if configured; otherwise the request is anonymous.
func (c *Client) authorize(h http.Header) {
	switch {
	case len(c.session) > 0:
		h.Set(sessionHeader, c.session)
	case len(c.credentials) > 0:
		h.Set(authorizationHeader, "Basic "+c.credentials)
	}
}

func (c *Client) endpoint(parts ...string) string {
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = url.PathEscape(p)
	}
	return c.baseURL + strings.Join(escaped, "/")
}

// redacted returns a copy of opts that is safe to log.
func redacted(opts *ClientOptions) ClientOptions {
	o := *opts
	if len(o.Password) > 0 {
		o.Password = "***"
	}
	o.HTTPClient = nil
	return o
}

// internal logging helpers:
func (c *Client) debug(format string, args ...any) {
	if !c.opts.Verbose {
		return
	}
	internalf("client", format, args...)
}

// since reports the seconds elapsed since t, for duration metrics.
func since(t time.Time) float64 { return time.Since(t).Seconds() }
