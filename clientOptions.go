package orientlog

import (
	"net/http"
	"time"
)

// ClientOptions are used to customize the delivery Client.
//
// # Invalid options are coerced
//
// NB: The struct pointer options approach is used to be consistent with the
// options used for the Handler, which uses the struct pointer approach to be
// consistent with the `HandlerOptions` used by log/slog.
type ClientOptions struct {

	// Username and Password are sent as Basic credentials whenever no server
	// session is active. Credentials are only used if the Username is not
	// blank and the Password is not empty.
	Username string
	Password string

	// RequestTimeout bounds each HTTP round trip, including reading the
	// response. If RequestTimeout < 0, no timeout is applied beyond the
	// HTTP client's own. The default is 30 seconds.
	RequestTimeout time.Duration

	// Compress enables gzip compression of batch request bodies, sent with
	// `Content-Encoding: gzip`. Only enable it when the server, or a proxy in
	// front of it, accepts compressed requests.
	Compress bool

	// HTTPClient is the client used for all requests. The default is a new
	// http.Client using http.DefaultTransport.
	HTTPClient *http.Client

	// UserAgent is sent with every request. The default is "orientlog".
	UserAgent string

	// Verbose controls whether debug logs are written to the internal logger.
	Verbose bool
}

const (
	defaultRequestTimeout = time.Second * 30
	defaultUserAgent      = "orientlog"
)

// DefaultClientOptions returns *ClientOptions with all default values.
func DefaultClientOptions() *ClientOptions {
	return &ClientOptions{
		RequestTimeout: defaultRequestTimeout,
		HTTPClient:     &http.Client{},
		UserAgent:      defaultUserAgent,
	}
}

// resolve ensures that all options have valid values.
func (o *ClientOptions) resolve() {

	// can be negative (no timeout) or positive, but not 0
	if o.RequestTimeout == 0 {
		o.RequestTimeout = defaultRequestTimeout
	}

	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{}
	}

	if len(o.UserAgent) == 0 {
		o.UserAgent = defaultUserAgent
	}
}
