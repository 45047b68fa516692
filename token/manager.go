package token

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/google/go-querystring/query"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	RequestPath   = "/api/auth/token"
	RefreshPath   = "/api/auth/refresh"
	RefreshHeader = "x-jwt-token"

	defaultTimeout = 30 * time.Second
)

// Fetcher performs one HTTP call and returns the JSON body. It POSTs when body is
// non-nil and GETs otherwise. transport.Client is the production implementation.
type Fetcher interface {
	Fetch(ctx context.Context, host, path string, header http.Header, body []byte) (json.RawMessage, error)
}

// AuthError reports a failed request or refresh. Err is the underlying transport
// or decode error.
type AuthError struct {
	Op  string
	Err error
}

func (e *AuthError) Error() string {
	return "token " + e.Op + " failed: " + e.Err.Error()
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

type requestQuery struct {
	Token string `url:"token"`
}

// RequestToken exchanges accessToken for a token at domain and caches it in store.
// A nil store leaves the token uncached.
func RequestToken(ctx context.Context, f Fetcher, store Store, domain, accessToken string) (*State, error) {
	return requestToken(ctx, f, store, nil, domain, accessToken)
}

// RefreshToken trades current for a new token. It does not write to any store.
func RefreshToken(ctx context.Context, f Fetcher, domain, current string) (*State, error) {
	return refreshToken(ctx, f, nil, domain, current)
}

func requestToken(ctx context.Context, f Fetcher, store Store, v Verifier, domain, accessToken string) (*State, error) {
	q, err := query.Values(requestQuery{Token: accessToken})
	if err != nil {
		return nil, &AuthError{Op: "request", Err: err}
	}
	state, err := fetchState(ctx, f, v, domain, RequestPath+"?"+q.Encode(), nil, nil)
	if err != nil {
		return nil, &AuthError{Op: "request", Err: err}
	}
	if store == nil {
		return state, nil
	}
	if err := store.Set(ctx, state.Token); err != nil {
		return nil, &AuthError{Op: "request", Err: errors.Wrap(err, "cannot cache token")}
	}
	return state, nil
}

func refreshToken(ctx context.Context, f Fetcher, v Verifier, domain, current string) (*State, error) {
	header := http.Header{}
	header.Set(RefreshHeader, current)
	state, err := fetchState(ctx, f, v, domain, RefreshPath, header, []byte{})
	if err != nil {
		return nil, &AuthError{Op: "refresh", Err: err}
	}
	return state, nil
}

// fetchState calls the auth endpoint, whose body is the token as a JSON string.
func fetchState(ctx context.Context, f Fetcher, v Verifier, domain, path string, header http.Header, body []byte) (*State, error) {
	raw, err := f.Fetch(ctx, domain, path, header, body)
	if err != nil {
		return nil, err
	}
	var tok string
	if err := json.Unmarshal(raw, &tok); err != nil {
		return nil, &DecodeError{Reason: "auth endpoint did not return a token string", Err: err}
	}
	claims, err := Decode(tok)
	if err != nil {
		return nil, err
	}
	if v != nil {
		if err := v.Verify(tok); err != nil {
			return nil, err
		}
	}
	return &State{Token: tok, Claims: claims}, nil
}

// call is one acquisition or refresh. Waiters block on done and then read state/err.
type call struct {
	done  chan struct{}
	state *State
	err   error
}

func (c *call) wait(ctx context.Context) (*State, error) {
	select {
	case <-c.done:
		return c.state, c.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Manager keeps at most one token acquisition or refresh in flight and hands its
// outcome to every caller of GetValidToken.
type Manager struct {
	fetcher     Fetcher
	domain      string
	accessToken string
	store       Store
	verifier    Verifier
	logger      *logrus.Entry
	now         func() time.Time
	timeout     time.Duration

	mu sync.Mutex
	// pending is the call every new caller joins; last is the latest call that succeeded.
	pending *call
	last    *call
}

type Option func(*Manager)

func WithStore(s Store) Option {
	return func(m *Manager) {
		if s != nil {
			m.store = s
		}
	}
}

func WithVerifier(v Verifier) Option {
	return func(m *Manager) {
		m.verifier = v
	}
}

func WithLogger(logger *logrus.Entry) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithTimeout bounds each acquisition and refresh, independently of the context of
// whichever caller started it.
func WithTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.timeout = d
		}
	}
}

func NewManager(f Fetcher, domain, accessToken string, opts ...Option) *Manager {
	m := &Manager{
		fetcher:     f,
		domain:      domain,
		accessToken: accessToken,
		store:       NewMemoryStore(),
		logger:      logrus.NewEntry(logrus.StandardLogger()),
		now:         time.Now,
		timeout:     defaultTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.WithField("domain", domain)
	return m
}

// Storage returns the store the current token is cached in.
func (m *Manager) Storage() Store {
	return m.store
}

// RequestToken performs a fresh acquisition with the manager's credentials, outside
// of the shared pending slot.
func (m *Manager) RequestToken(ctx context.Context) (*State, error) {
	return requestToken(ctx, m.fetcher, m.store, m.verifier, m.domain, m.accessToken)
}

// RefreshToken refreshes current and caches the result in the manager's store.
func (m *Manager) RefreshToken(ctx context.Context, current string) (*State, error) {
	state, err := refreshToken(ctx, m.fetcher, m.verifier, m.domain, current)
	if err != nil {
		return nil, err
	}
	if err := m.store.Set(ctx, state.Token); err != nil {
		return nil, &AuthError{Op: "refresh", Err: errors.Wrap(err, "cannot cache refreshed token")}
	}
	return state, nil
}

// IsExpired reports whether claims have expired. A token that was never cached is
// never considered expired.
func (m *Manager) IsExpired(ctx context.Context, claims Claims) bool {
	_, ok, err := m.store.Get(ctx)
	if err != nil {
		m.logger.Warnf("cannot read cached token, checking expiry anyway: %v", err)
		ok = true
	}
	if !ok {
		return false
	}
	now := float64(m.now().UnixNano()) / float64(time.Second)
	return math.Floor(claims.Exp-now) <= 0
}

// Acquire joins the pending operation, starting an acquisition if there is none,
// and waits for its result.
func (m *Manager) Acquire(ctx context.Context) (*State, error) {
	_, state, err := m.join(ctx)
	return state, err
}

// GetValidToken returns the current token, refreshing it first if it has expired.
// Concurrent callers that find the same expired token share a single refresh.
func (m *Manager) GetValidToken(ctx context.Context) (string, error) {
	observed, state, err := m.join(ctx)
	if err != nil {
		return "", err
	}
	if !m.IsExpired(ctx, state.Claims) {
		return state.Token, nil
	}

	m.mu.Lock()
	c := m.pending
	if c == observed || c == nil {
		current := state.Token
		m.logger.Info("token expired, refreshing")
		c = m.startLocked("refresh", func(ctx context.Context) (*State, error) {
			return m.RefreshToken(ctx, current)
		})
	} else {
		m.logger.Debug("joining refresh started by another caller")
	}
	m.mu.Unlock()

	state, err = c.wait(ctx)
	if err != nil {
		return "", err
	}
	return state.Token, nil
}

func (m *Manager) join(ctx context.Context) (*call, *State, error) {
	m.mu.Lock()
	c := m.pending
	if c == nil {
		c = m.startLocked("request", m.RequestToken)
	}
	m.mu.Unlock()

	state, err := c.wait(ctx)
	return c, state, err
}

// startLocked runs fn in the background and installs it as the pending call.
// m.mu must be held. A failed call hands the slot back to the last successful one.
func (m *Manager) startLocked(op string, fn func(context.Context) (*State, error)) *call {
	c := &call{done: make(chan struct{})}
	m.pending = c

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		defer cancel()
		state, err := fn(ctx)

		m.mu.Lock()
		c.state, c.err = state, err
		if err != nil {
			m.logger.Errorf("token %s failed: %v", op, err)
			if m.pending == c {
				m.pending = m.last
			}
		} else {
			m.logger.WithField("exp", state.Claims.Exp).Infof("token %s succeeded", op)
			m.last = c
		}
		m.mu.Unlock()
		close(c.done)
	}()
	return c
}
