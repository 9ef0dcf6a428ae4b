// Package capsule implements topic-style publish/subscribe on top of Redis
// lists. Publishing pushes an envelope onto the list named by the channel;
// subscribing starts a listener that blocks on one or more lists and fans
// each decoded payload out to its handlers.
//
// A Capsule caches channel handles and listeners by composite key, so
// repeated requests for the same channel or channel set reuse the same
// connection and background loop.
package capsule

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// DefaultURL is the store used when no URL is configured.
const DefaultURL = "redis://127.0.0.1:6379/"

// Options configures a Capsule.
type Options struct {
	// URL and DB are the default endpoint for calls without WithEndpoint.
	URL string
	DB  int

	DialTimeout      time.Duration
	ReconnectBackoff time.Duration
	PollTimeout      time.Duration

	// StopIdleListeners stops and evicts a listener once its last handler
	// is unsubscribed. By default the loop keeps running.
	StopIdleListeners bool
}

// CallOption overrides per-call settings.
type CallOption func(*callOptions)

type callOptions struct {
	url string
	db  int
}

// WithEndpoint targets url and database db instead of the defaults.
// An empty url or a negative db keeps the corresponding default.
func WithEndpoint(url string, db int) CallOption {
	return func(o *callOptions) {
		if url != "" {
			o.url = url
		}
		if db >= 0 {
			o.db = db
		}
	}
}

// Subscription identifies one handler registered on one listener.
type Subscription struct {
	listener *Listener
	id       uint64
}

// Listener returns the listener the handler is registered on.
func (s *Subscription) Listener() *Listener {
	return s.listener
}

// Capsule is the entry point for publishing and subscribing. It is safe for
// concurrent use. Each Capsule owns its own caches and connections.
type Capsule struct {
	opts     Options
	registry *Registry
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	channels  map[string]*Channel
	listeners map[string]*Listener
	closed    bool
}

// New creates a Capsule. No connection is opened until first use.
func New(opts Options, logger *slog.Logger) *Capsule {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.URL == "" {
		opts.URL = DefaultURL
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Capsule{
		opts:      opts,
		registry:  NewRegistry(opts.DialTimeout, logger),
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		channels:  make(map[string]*Channel),
		listeners: make(map[string]*Listener),
	}
}

// endpoint resolves the target endpoint from the defaults and overrides.
func (c *Capsule) endpoint(options []CallOption) (Endpoint, error) {
	o := callOptions{url: c.opts.URL, db: c.opts.DB}
	for _, opt := range options {
		opt(&o)
	}
	return ParseEndpoint(o.url, o.db)
}

// Channel returns the cached handle for name, creating it on first use.
func (c *Capsule) Channel(name string, options ...CallOption) (*Channel, error) {
	if strings.TrimSpace(name) == "" {
		return nil, ErrEmptyChannel
	}
	ep, err := c.endpoint(options)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}

	key := channelKey(name, ep)
	ch, ok := c.channels[key]
	if !ok {
		ch = newChannel(name, ep, c.registry, c.logger)
		c.channels[key] = ch
	}
	return ch, nil
}

// Publish enqueues payload on the named channel. Failures are returned to
// the caller; retry policy is the caller's decision.
func (c *Capsule) Publish(ctx context.Context, channel string, payload any, options ...CallOption) error {
	ch, err := c.Channel(channel, options...)
	if err != nil {
		return err
	}
	return ch.Enqueue(ctx, payload)
}

// Subscribe registers handler for messages on channels. Subscriptions with
// the same channel set, in any order, on the same endpoint share one
// listener: its connection and loop are created on the first call only.
func (c *Capsule) Subscribe(channels []string, handler Handler, options ...CallOption) (*Subscription, error) {
	if handler == nil {
		return nil, ErrNilHandler
	}
	names, err := normalizeChannels(channels)
	if err != nil {
		return nil, err
	}
	ep, err := c.endpoint(options)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}

	key := listenerKey(names, ep)
	l, ok := c.listeners[key]
	if !ok {
		l, err = NewListener(names, ep, c.registry, ListenerConfig{
			ReconnectBackoff: c.opts.ReconnectBackoff,
			PollTimeout:      c.opts.PollTimeout,
		}, c.logger)
		if err != nil {
			return nil, err
		}
	}

	id, err := l.AddHandler(handler)
	if err != nil {
		return nil, err
	}

	if !ok {
		c.listeners[key] = l
		l.Start(c.ctx)
		c.logger.Debug("listener created", "listener", key)
	}

	return &Subscription{listener: l, id: id}, nil
}

// Unsubscribe removes the subscription's handler. Other handlers on the same
// listener are unaffected. It reports whether the handler was registered.
func (c *Capsule) Unsubscribe(sub *Subscription) bool {
	if sub == nil || sub.listener == nil {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	l := sub.listener
	if !l.RemoveHandler(sub.id) {
		return false
	}

	if c.opts.StopIdleListeners && l.HandlerCount() == 0 {
		if c.listeners[l.Key()] == l {
			delete(c.listeners, l.Key())
		}
		l.signalStop()
		c.logger.Debug("idle listener stopped", "listener", l.Key())
	}
	return true
}

// Listeners returns stats for every cached listener, ordered by key.
func (c *Capsule) Listeners() []ListenerStats {
	c.mu.Lock()
	stats := make([]ListenerStats, 0, len(c.listeners))
	for _, l := range c.listeners {
		stats = append(stats, l.Stats())
	}
	c.mu.Unlock()

	sort.Slice(stats, func(i, j int) bool { return stats[i].Key < stats[j].Key })
	return stats
}

// Connections returns the number of shared publish-side endpoint clients.
func (c *Capsule) Connections() int {
	return c.registry.Len()
}

// Close stops every listener, waiting until their loops exit or ctx ends,
// and closes all endpoint connections.
func (c *Capsule) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	listeners := make([]*Listener, 0, len(c.listeners))
	for _, l := range c.listeners {
		listeners = append(listeners, l)
	}
	c.listeners = make(map[string]*Listener)
	c.channels = make(map[string]*Channel)
	c.mu.Unlock()

	c.cancel()

	var errs []error
	for _, l := range listeners {
		if err := l.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := c.registry.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
