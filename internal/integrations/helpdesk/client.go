package helpdesk

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"support-bridge/internal/domain"
	"support-bridge/internal/observability"
	"support-bridge/internal/signing"
)

const (
	defaultAPIBaseURL = "https://api.helper.ai"
	defaultSubject    = "Support Request"
	defaultTimeout    = 10 * time.Second
	tracerName        = "support-bridge/helpdesk"
)

// AdminSigner signs privileged calls with the administrative secret.
type AdminSigner interface {
	Sign(p signing.Payload) (signing.SignedPayload, error)
}

// SessionIssuer builds widget sessions and end-user-scoped tokens with the
// widget secret.
type SessionIssuer interface {
	NewSession(email string) (domain.WidgetSession, error)
	Issue(session domain.WidgetSession) (signing.SessionToken, error)
}

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("helpdesk: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Config locates the helpdesk endpoints. WidgetHost serves the end-user
// conversation API, APIBaseURL the administrative mailbox API.
// CustomerInfoURL is this service's customer lookup endpoint that the
// helpdesk calls back with ?email=.
type Config struct {
	APIBaseURL      string
	WidgetHost      string
	MailboxSlug     string
	CustomerInfoURL string
}

// Client talks to the external helpdesk on behalf of end users and of the
// support team.
type Client struct {
	cfg        Config
	admin      AdminSigner
	sessions   SessionIssuer
	reporter   observability.Reporter
	httpClient *http.Client
	now        func() time.Time
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

// NewClient creates a Client for cfg. Widget calls authenticate with tokens
// from sessions, mailbox calls with digests from admin; failures go to
// reporter.
func NewClient(cfg Config, admin AdminSigner, sessions SessionIssuer, reporter observability.Reporter, opts ...Option) (*Client, error) {
	if admin == nil {
		return nil, errors.New("helpdesk: admin signer must not be nil")
	}
	if sessions == nil {
		return nil, errors.New("helpdesk: session issuer must not be nil")
	}
	if reporter == nil {
		return nil, errors.New("helpdesk: reporter must not be nil")
	}
	cfg.APIBaseURL = strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/")
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = defaultAPIBaseURL
	}
	cfg.WidgetHost = strings.TrimRight(strings.TrimSpace(cfg.WidgetHost), "/")
	if cfg.WidgetHost == "" {
		return nil, errors.New("helpdesk: widget host must not be empty")
	}
	cfg.MailboxSlug = strings.TrimSpace(cfg.MailboxSlug)
	if cfg.MailboxSlug == "" {
		return nil, errors.New("helpdesk: mailbox slug must not be empty")
	}
	cfg.CustomerInfoURL = strings.TrimSpace(cfg.CustomerInfoURL)
	if _, err := url.Parse(cfg.CustomerInfoURL); err != nil || cfg.CustomerInfoURL == "" {
		return nil, errors.New("helpdesk: customer info URL must be a valid URL")
	}

	c := &Client{
		cfg:      cfg,
		admin:    admin,
		sessions: sessions,
		reporter: reporter,
		httpClient: &http.Client{
			Timeout:   defaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func tracer() trace.Tracer {
	return otel.GetTracerProvider().Tracer(tracerName)
}

// resolvedHTTPClient returns the configured HTTP client, or a default with a
// 10s timeout if none was set.
func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: defaultTimeout}
}

// customerInfoURL returns the callback URL for email, or nil when there is
// no email to look up.
func (c *Client) customerInfoURL(email string) *string {
	if email == "" {
		return nil
	}
	u, err := url.Parse(c.cfg.CustomerInfoURL)
	if err != nil {
		return nil
	}
	q := u.Query()
	q.Set("email", email)
	u.RawQuery = q.Encode()
	s := u.String()
	return &s
}

// doJSONRequest sends body and returns the response body of a 2xx response.
// Non-2xx responses become *HTTPStatusError.
func (c *Client) doJSONRequest(ctx context.Context, method, endpoint, authorization string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("helpdesk: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", authorization)

	res, err := c.resolvedHTTPClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("helpdesk: request failed: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        endpoint,
			Body:       string(buf),
		}
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("helpdesk: read response body: %w", err)
	}
	return buf, nil
}

// annotate copies upstream status details from err into f.
func annotate(f observability.Failure, err error) observability.Failure {
	f.Err = err
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		f.StatusCode = statusErr.StatusCode
		f.Detail = statusErr.Body
		f.Err = nil
	}
	return f
}
