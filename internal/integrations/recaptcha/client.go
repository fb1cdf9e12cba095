package recaptcha

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	defaultVerifyURL = "https://www.google.com/recaptcha/api/siteverify"
	defaultTimeout   = 5 * time.Second
)

type verifyResponse struct {
	Success    bool     `json:"success"`
	Score      *float64 `json:"score"`
	Hostname   string   `json:"hostname"`
	ErrorCodes []string `json:"error-codes"`
}

// Client verifies CAPTCHA responses with the siteverify API.
type Client struct {
	secret     string
	verifyURL  string
	minScore   float64
	httpClient *http.Client
}

type Option func(*Client)

func WithVerifyURL(u string) Option {
	return func(c *Client) {
		c.verifyURL = u
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithMinScore rejects v3 responses scoring below min. v2 responses carry no
// score and are not affected.
func WithMinScore(min float64) Option {
	return func(c *Client) {
		c.minScore = min
	}
}

// New creates a Client that verifies responses with secret.
func New(secret string, opts ...Option) (*Client, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("recaptcha: secret must not be empty")
	}
	c := &Client{
		secret:    secret,
		verifyURL: defaultVerifyURL,
		httpClient: &http.Client{
			Timeout:   defaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Verify reports whether token is a valid CAPTCHA response. An empty token
// is rejected without a network call.
func (c *Client) Verify(ctx context.Context, token, remoteIP string) (bool, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return false, nil
	}

	form := url.Values{}
	form.Set("secret", c.secret)
	form.Set("response", token)
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.verifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		return false, fmt.Errorf("recaptcha: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("recaptcha: request failed: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode != http.StatusOK {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 1024))
		return false, fmt.Errorf("recaptcha: unexpected status %d: %s", res.StatusCode, string(buf))
	}

	var out verifyResponse
	if err := json.NewDecoder(io.LimitReader(res.Body, 1<<16)).Decode(&out); err != nil {
		return false, fmt.Errorf("recaptcha: decode response: %w", err)
	}
	if !out.Success {
		return false, nil
	}
	if out.Score != nil && *out.Score < c.minScore {
		return false, nil
	}
	return true, nil
}
