package capsule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"capsule-go/internal/metrics"
)

// Endpoint identifies a store target: a connection URL plus a database index.
// The database index is never taken from the URL path.
type Endpoint struct {
	URL string
	DB  int
}

// ParseEndpoint validates rawURL and returns the endpoint for database db.
func ParseEndpoint(rawURL string, db int) (Endpoint, error) {
	ep := Endpoint{URL: rawURL, DB: db}
	if _, err := ep.options(); err != nil {
		return Endpoint{}, err
	}
	return ep, nil
}

// Key returns the cache key of the endpoint.
func (e Endpoint) Key() string {
	return fmt.Sprintf("%s.%d", e.URL, e.DB)
}

// Redacted returns the URL with any password masked, for logs.
func (e Endpoint) Redacted() string {
	u, err := url.Parse(e.URL)
	if err != nil {
		return "<invalid>"
	}
	return u.Redacted()
}

// options converts the endpoint into go-redis client options.
func (e Endpoint) options() (*redis.Options, error) {
	u, err := url.Parse(e.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidEndpoint, u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidEndpoint)
	}
	if e.DB < 0 {
		return nil, fmt.Errorf("%w: negative database index %d", ErrInvalidEndpoint, e.DB)
	}

	// Drop path and query; only scheme, credentials and address are honored.
	base := &url.URL{Scheme: u.Scheme, User: u.User, Host: u.Host}
	opts, err := redis.ParseURL(base.String())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
	}
	opts.DB = e.DB
	// One attempt per command; retry policy belongs to the caller.
	opts.MaxRetries = -1
	return opts, nil
}

// Dialer opens dedicated, uncached connections for listeners.
type Dialer interface {
	Dial(ctx context.Context, ep Endpoint) (*redis.Client, error)
}

// Registry caches one shared client per endpoint for the publish path and
// opens dedicated clients for listeners. It is safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	clients map[string]*redis.Client
	closed  bool

	// dials collapses concurrent cache misses for one key into one connect.
	dials singleflight.Group

	dialTimeout time.Duration
	logger      *slog.Logger
}

// NewRegistry creates an empty endpoint registry.
func NewRegistry(dialTimeout time.Duration, logger *slog.Logger) *Registry {
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}
	return &Registry{
		clients:     make(map[string]*redis.Client),
		dialTimeout: dialTimeout,
		logger:      logger,
	}
}

// Resolve returns the cached client for ep, connecting on a cache miss.
// A cached client is returned without a liveness check; callers detect
// staleness at use time and call Invalidate.
//
// The registry lock covers only the map. Connecting happens outside it, so
// a slow endpoint never delays callers of another endpoint.
func (r *Registry) Resolve(ctx context.Context, ep Endpoint) (*redis.Client, error) {
	key := ep.Key()
	if client, ok, err := r.cached(key); ok || err != nil {
		return client, err
	}

	v, err, _ := r.dials.Do(key, func() (any, error) {
		if client, ok, err := r.cached(key); ok || err != nil {
			return client, err
		}

		client, err := r.connect(ctx, ep, false)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			_ = client.Close()
			return nil, ErrClosed
		}
		r.clients[key] = client
		r.mu.Unlock()

		metrics.EndpointConnections.Inc()
		r.logger.Debug("endpoint connected", "endpoint", ep.Redacted(), "db", ep.DB)
		return client, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*redis.Client), nil
}

// cached looks key up under the lock. ok is false on a miss.
func (r *Registry) cached(key string) (client *redis.Client, ok bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, false, ErrClosed
	}
	client, ok = r.clients[key]
	return client, ok, nil
}

// Dial opens a dedicated client for ep that is not cached. The caller owns
// the client and must close it.
func (r *Registry) Dial(ctx context.Context, ep Endpoint) (*redis.Client, error) {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	return r.connect(ctx, ep, true)
}

// Invalidate drops client from the cache if it is still the cached client
// for ep, and closes it. The next Resolve connects afresh.
func (r *Registry) Invalidate(ep Endpoint, client *redis.Client) {
	r.mu.Lock()
	cur, ok := r.clients[ep.Key()]
	evict := ok && cur == client
	if evict {
		delete(r.clients, ep.Key())
		metrics.EndpointConnections.Dec()
	}
	r.mu.Unlock()

	if evict {
		r.logger.Warn("endpoint connection dropped", "endpoint", ep.Redacted(), "db", ep.DB)
		_ = client.Close()
	}
}

// Len returns the number of cached endpoint clients.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// Close closes every cached client. Subsequent calls to Resolve and Dial
// fail with ErrClosed.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	var errs []error
	for key, client := range r.clients {
		if err := client.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(r.clients, key)
		metrics.EndpointConnections.Dec()
	}
	return errors.Join(errs...)
}

// connect builds a client for ep and verifies it with PING. go-redis selects
// the database as part of connection setup, so a bad index fails here too.
func (r *Registry) connect(ctx context.Context, ep Endpoint, dedicated bool) (*redis.Client, error) {
	opts, err := ep.options()
	if err != nil {
		return nil, err
	}
	opts.DialTimeout = r.dialTimeout

	kind := "shared"
	if dedicated {
		// A blocking pop holds its connection for the whole wait.
		kind = "dedicated"
		opts.PoolSize = 1
		opts.MinIdleConns = 0
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, r.dialTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		metrics.EndpointDialFailuresTotal.WithLabelValues(kind).Inc()
		r.logger.Warn("failed to connect to endpoint",
			"endpoint", ep.Redacted(),
			"db", ep.DB,
			"kind", kind,
			"error", err,
		)
		return nil, fmt.Errorf("%w: %s db %d: %w", ErrUnreachable, ep.Redacted(), ep.DB, err)
	}

	return client, nil
}
