// Package transport issues the raw HTTP calls against the auth and GraphQL endpoints.
package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const defaultTimeout = 30 * time.Second

// Error is returned for network failures and for any response whose status is not 200.
type Error struct {
	StatusCode int
	Status     string
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Status
}

func (e *Error) Unwrap() error {
	return e.Err
}

type Client struct {
	httpClient         *http.Client
	scheme             string
	insecureSkipVerify bool
	timeout            time.Duration
	logger             *logrus.Entry
}

type Option func(*Client)

// WithScheme sets the URL scheme used to reach the host, https by default.
func WithScheme(scheme string) Option {
	return func(c *Client) {
		if scheme != "" {
			c.scheme = scheme
		}
	}
}

// WithHTTPClient replaces the underlying http.Client. WithInsecureSkipVerify and
// WithTimeout are ignored when it is set.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithInsecureSkipVerify disables TLS certificate validation.
func WithInsecureSkipVerify(skip bool) Option {
	return func(c *Client) {
		c.insecureSkipVerify = skip
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithLogger(logger *logrus.Entry) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func New(opts ...Option) *Client {
	c := &Client{
		scheme:  "https",
		timeout: defaultTimeout,
		logger:  logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		tr := http.DefaultTransport.(*http.Transport).Clone()
		if c.insecureSkipVerify {
			c.logger.Warn("TLS certificate verification is disabled")
			tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		}
		c.httpClient = &http.Client{Transport: tr, Timeout: c.timeout}
	}
	return c
}

// Fetch sends a POST to host+path when body is non-nil and a GET otherwise, and returns
// the raw JSON response body. A non-200 status fails with *Error carrying the status text.
func (c *Client) Fetch(ctx context.Context, host, path string, header http.Header, body []byte) (json.RawMessage, error) {
	method := http.MethodGet
	var reader io.Reader
	if body != nil {
		method = http.MethodPost
		reader = bytes.NewReader(body)
	}

	target := fmt.Sprintf("%s://%s%s", c.scheme, host, path)
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot create request to %s", path)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if body != nil {
		req.ContentLength = int64(len(body))
	}

	logger := c.logger.WithFields(logrus.Fields{
		"method": method,
		"path":   path,
	})
	resp, err := c.httpClient.Do(req)
	if err != nil {
		logger.Debugf("request failed: %v", err)
		return nil, &Error{Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		logger.Debugf("unexpected status %d", resp.StatusCode)
		return nil, &Error{StatusCode: resp.StatusCode, Status: statusText(resp)}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{StatusCode: resp.StatusCode, Status: statusText(resp), Err: err}
	}
	return json.RawMessage(data), nil
}

// statusText strips the numeric code from resp.Status, "500 Internal Server Error"
// becoming "Internal Server Error".
func statusText(resp *http.Response) string {
	text := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
	if text == "" {
		text = http.StatusText(resp.StatusCode)
	}
	return text
}
