// Package graph runs authenticated operations against the GraphQL engine.
package graph

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/mirror-media/jwtgraph/cache"
	"github.com/mirror-media/jwtgraph/config"
	"github.com/mirror-media/jwtgraph/token"
	"github.com/mirror-media/jwtgraph/transport"
	"github.com/pkg/errors"
	"github.com/rs/xid"
	"github.com/sirupsen/logrus"
)

const Path = "/api/graphql-engine/v1/graphql"

// Error is one entry of the "errors" array of a GraphQL response.
type Error struct {
	Message    string                 `json:"message"`
	Path       []interface{}          `json:"path,omitempty"`
	Extensions map[string]interface{} `json:"extensions,omitempty"`
}

// GraphQLError is returned when the response carries errors. Its message is the
// message of the first one.
type GraphQLError struct {
	Errors []Error
}

func (e *GraphQLError) Error() string {
	if len(e.Errors) == 0 {
		return "graph: request failed with no error message"
	}
	return e.Errors[0].Message
}

type response struct {
	Data   json.RawMessage `json:"data"`
	Errors []Error         `json:"errors"`
}

type Client struct {
	fetcher           token.Fetcher
	domain            string
	manager           *token.Manager
	logger            *logrus.Entry
	validateQuery     bool
	replaceNullString bool
	closer            io.Closer
}

type options struct {
	fetcher           token.Fetcher
	store             token.Store
	verifier          token.Verifier
	logger            *logrus.Entry
	validateQuery     bool
	replaceNullString bool
	managerOptions    []token.Option
	closer            io.Closer
}

type Option func(*options)

// WithFetcher replaces the default https transport.
func WithFetcher(f token.Fetcher) Option {
	return func(o *options) {
		o.fetcher = f
	}
}

func WithStore(s token.Store) Option {
	return func(o *options) {
		o.store = s
	}
}

func WithVerifier(v token.Verifier) Option {
	return func(o *options) {
		o.verifier = v
	}
}

func WithLogger(logger *logrus.Entry) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithQueryValidation parses every query locally and rejects syntax errors before
// a token is requested or anything is sent.
func WithQueryValidation() Option {
	return func(o *options) {
		o.validateQuery = true
	}
}

// WithNullStringReplacement rewrites "null" string values in response data to JSON null.
func WithNullStringReplacement() Option {
	return func(o *options) {
		o.replaceNullString = true
	}
}

func WithManagerOptions(opts ...token.Option) Option {
	return func(o *options) {
		o.managerOptions = append(o.managerOptions, opts...)
	}
}

// NewClient acquires the first token for domain and returns a client ready to run
// operations. It fails if that acquisition fails.
func NewClient(ctx context.Context, domain, accessToken string, opts ...Option) (*Client, error) {
	o := options{
		logger: logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.fetcher == nil {
		o.fetcher = transport.New(transport.WithLogger(o.logger))
	}

	managerOptions := []token.Option{token.WithLogger(o.logger), token.WithStore(o.store)}
	if o.verifier != nil {
		managerOptions = append(managerOptions, token.WithVerifier(o.verifier))
	}
	managerOptions = append(managerOptions, o.managerOptions...)
	manager := token.NewManager(o.fetcher, domain, accessToken, managerOptions...)

	if _, err := manager.Acquire(ctx); err != nil {
		return nil, errors.Wrapf(err, "cannot create client for %s", domain)
	}

	return &Client{
		fetcher:           o.fetcher,
		domain:            domain,
		manager:           manager,
		logger:            o.logger.WithField("domain", domain),
		validateQuery:     o.validateQuery,
		replaceNullString: o.replaceNullString,
		closer:            o.closer,
	}, nil
}

// NewClientFromConf wires transport, token store and verifier from c.
func NewClientFromConf(ctx context.Context, c config.Conf, logger *logrus.Entry) (*Client, error) {
	if err := c.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}

	timeout := c.TimeoutDuration()
	opts := []Option{
		WithLogger(logger),
		WithFetcher(transport.New(
			transport.WithScheme(c.Scheme),
			transport.WithInsecureSkipVerify(c.InsecureSkipVerify),
			transport.WithTimeout(timeout),
			transport.WithLogger(logger),
		)),
		WithManagerOptions(token.WithTimeout(timeout)),
	}
	if c.TokenSecret != "" {
		opts = append(opts, WithVerifier(token.NewHMACVerifier([]byte(c.TokenSecret))))
	}
	if c.ValidateQuery {
		opts = append(opts, WithQueryValidation())
	}
	if c.ReplaceNullString {
		opts = append(opts, WithNullStringReplacement())
	}

	var rdb cache.Rediser
	if c.TokenStore == config.StoreRedis {
		var err error
		rdb, err = cache.NewRedis(c.RedisService)
		if err != nil {
			return nil, errors.Wrap(err, "cannot create redis client")
		}
		opts = append(opts,
			WithStore(token.NewRedisStore(rdb, c.Domain, cache.TTL(c.RedisService))),
			func(o *options) { o.closer = rdb },
		)
	}

	client, err := NewClient(ctx, c.Domain, c.AccessToken, opts...)
	if err != nil && rdb != nil {
		_ = rdb.Close()
	}
	return client, err
}

// Storage returns the store caching the client's current token.
func (c *Client) Storage() token.Store {
	return c.manager.Storage()
}

func (c *Client) Manager() *token.Manager {
	return c.manager
}

// Close releases the redis connection of a shared token store, if any.
func (c *Client) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}

// Run executes a query or mutation and returns the "data" field of the response.
// variables may be nil. The token is refreshed first if it has expired.
func (c *Client) Run(ctx context.Context, query string, variables map[string]interface{}) (json.RawMessage, error) {
	logger := c.logger.WithField("requestId", xid.New().String())

	if c.validateQuery {
		if err := validateQuery(query); err != nil {
			logger.Infof("rejected query: %v", err)
			return nil, err
		}
	}

	body, err := requestBody(query, variables)
	if err != nil {
		return nil, err
	}

	tok, err := c.manager.GetValidToken(ctx)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+tok)
	header.Set("Content-Type", "application/json")
	header.Set("Content-Length", strconv.Itoa(len(body)))

	raw, err := c.fetcher.Fetch(ctx, c.domain, Path, header, body)
	if err != nil {
		logger.Infof("GraphQL request failed: %v", err)
		return nil, err
	}

	var resp response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, errors.Wrap(err, "graph: cannot decode response")
	}
	if len(resp.Errors) > 0 {
		logger.Infof("GraphQL request received error from: %s", resp.Errors[0].Message)
		return nil, &GraphQLError{Errors: resp.Errors}
	}

	data := resp.Data
	if c.replaceNullString && len(data) > 0 {
		if data, err = ReplaceNullString(data); err != nil {
			return nil, errors.Wrap(err, "graph: cannot normalize response")
		}
	}
	return data, nil
}

// RunInto runs the operation and unmarshals its data into v.
func (c *Client) RunInto(ctx context.Context, query string, variables map[string]interface{}, v interface{}) error {
	data, err := c.Run(ctx, query, variables)
	if err != nil {
		return err
	}
	return errors.Wrap(json.Unmarshal(data, v), "graph: cannot unmarshal data")
}
