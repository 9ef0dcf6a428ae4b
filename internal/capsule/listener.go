package capsule

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"capsule-go/internal/metrics"
)

// State is the lifecycle state of a listener.
type State int32

const (
	StateCreated State = iota
	StateConnecting
	StateListening
	StateReconnecting
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateConnecting:
		return "connecting"
	case StateListening:
		return "listening"
	case StateReconnecting:
		return "reconnecting"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Message is a decoded list element handed to every handler.
type Message struct {
	// Channel is the list the element was popped from.
	Channel string

	// Data is the envelope's data field, or MalformedPayload.
	Data any

	ReceivedAt time.Time
}

// Handler processes a message. A returned error or a panic is reported as a
// HandlerFault and does not affect other handlers or the listener loop.
type Handler func(ctx context.Context, msg *Message) error

// ListenerConfig tunes the listener loop.
type ListenerConfig struct {
	// ReconnectBackoff is the fixed wait between connection attempts.
	ReconnectBackoff time.Duration

	// PollTimeout bounds each blocking pop so stop requests are observed.
	// Redis blocking timeouts have one second granularity.
	PollTimeout time.Duration
}

// ListenerStats is a point-in-time view of a listener.
type ListenerStats struct {
	Key        string   `json:"key"`
	Channels   []string `json:"channels"`
	Endpoint   string   `json:"endpoint"`
	DB         int      `json:"db"`
	State      string   `json:"state"`
	Handlers   int      `json:"handlers"`
	Delivered  uint64   `json:"delivered"`
	Malformed  uint64   `json:"malformed"`
	Faults     uint64   `json:"faults"`
	Reconnects uint64   `json:"reconnects"`
}

type handlerEntry struct {
	id uint64
	fn Handler
}

// Listener owns a dedicated connection and a blocking-pop loop over one or
// more channels. Every handler sees every message from any of its channels.
type Listener struct {
	key      string
	channels []string
	endpoint Endpoint
	dialer   Dialer
	cfg      ListenerConfig
	logger   *slog.Logger

	mu       sync.RWMutex
	handlers []handlerEntry
	nextID   uint64

	state      atomic.Int32
	delivered  atomic.Uint64
	malformed  atomic.Uint64
	faults     atomic.Uint64
	reconnects atomic.Uint64

	runMu   sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}

	clientMu sync.Mutex
	client   *redis.Client
}

// NewListener creates a listener for the given channels. Channel names are
// normalized. The loop does not run until Start is called.
func NewListener(channels []string, ep Endpoint, dialer Dialer, cfg ListenerConfig, logger *slog.Logger) (*Listener, error) {
	names, err := normalizeChannels(channels)
	if err != nil {
		return nil, err
	}
	if cfg.ReconnectBackoff <= 0 {
		cfg.ReconnectBackoff = 10 * time.Second
	}
	if cfg.PollTimeout < time.Second {
		cfg.PollTimeout = time.Second
	}

	key := listenerKey(names, ep)
	return &Listener{
		key:      key,
		channels: names,
		endpoint: ep,
		dialer:   dialer,
		cfg:      cfg,
		logger: logger.With(
			"listener", key,
			"channels", names,
			"endpoint", ep.Redacted(),
			"db", ep.DB,
		),
		done: make(chan struct{}),
	}, nil
}

// Key returns the cache key of the listener.
func (l *Listener) Key() string {
	return l.key
}

// Channels returns the normalized channel names.
func (l *Listener) Channels() []string {
	return append([]string(nil), l.channels...)
}

// State returns the current lifecycle state.
func (l *Listener) State() State {
	return State(l.state.Load())
}

// Done is closed once the loop has exited.
func (l *Listener) Done() <-chan struct{} {
	return l.done
}

// AddHandler appends fn to the handler list and returns its id.
// The handler receives messages from the next dispatch on.
func (l *Listener) AddHandler(fn Handler) (uint64, error) {
	if fn == nil {
		return 0, ErrNilHandler
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextID++
	l.handlers = append(l.handlers, handlerEntry{id: l.nextID, fn: fn})
	return l.nextID, nil
}

// RemoveHandler removes the handler with the given id. It reports whether
// the handler was registered.
func (l *Listener) RemoveHandler(id uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, h := range l.handlers {
		if h.id == id {
			l.handlers = append(l.handlers[:i:i], l.handlers[i+1:]...)
			return true
		}
	}
	return false
}

// HandlerCount returns the number of registered handlers.
func (l *Listener) HandlerCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.handlers)
}

// Stats returns a snapshot of the listener.
func (l *Listener) Stats() ListenerStats {
	return ListenerStats{
		Key:        l.key,
		Channels:   l.Channels(),
		Endpoint:   l.endpoint.Redacted(),
		DB:         l.endpoint.DB,
		State:      l.State().String(),
		Handlers:   l.HandlerCount(),
		Delivered:  l.delivered.Load(),
		Malformed:  l.malformed.Load(),
		Faults:     l.faults.Load(),
		Reconnects: l.reconnects.Load(),
	}
}

// Start launches the loop in its own goroutine. It is a no-op if the
// listener was already started or stopped.
func (l *Listener) Start(ctx context.Context) {
	l.runMu.Lock()
	defer l.runMu.Unlock()

	if l.started || l.stopped {
		return
	}
	l.started = true

	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	go l.run(runCtx)
}

// Stop requests the loop to exit and waits until it has, or until ctx ends.
// Stop is safe to call more than once.
func (l *Listener) Stop(ctx context.Context) error {
	l.signalStop()

	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// signalStop cancels the loop and closes the dedicated client to unblock a
// pending pop. It does not wait, so it is safe to call from a handler.
func (l *Listener) signalStop() {
	l.runMu.Lock()
	if l.stopped {
		l.runMu.Unlock()
		return
	}
	l.stopped = true
	started := l.started
	cancel := l.cancel
	l.runMu.Unlock()

	if !started {
		l.state.Store(int32(StateStopped))
		close(l.done)
		return
	}

	cancel()

	l.clientMu.Lock()
	client := l.client
	l.client = nil
	l.clientMu.Unlock()

	if client != nil {
		_ = client.Close()
	}
}

func (l *Listener) run(ctx context.Context) {
	defer close(l.done)

	metrics.ActiveListeners.Inc()
	defer metrics.ActiveListeners.Dec()

	l.logger.Info("listener started")
	l.state.Store(int32(StateConnecting))

	for {
		client, ok := l.connect(ctx)
		if !ok {
			break
		}

		err := l.listen(ctx, client)
		l.release(client)

		if ctx.Err() != nil {
			break
		}

		l.state.Store(int32(StateReconnecting))
		l.logger.Warn("listener connection lost",
			"error", err,
			"backoff", l.cfg.ReconnectBackoff,
		)
		if !l.sleep(ctx) {
			break
		}
		l.reconnects.Add(1)
		metrics.ListenerReconnectsTotal.Inc()
	}

	l.state.Store(int32(StateStopped))
	l.logger.Info("listener stopped")
}

// connect dials until it succeeds or ctx ends, waiting ReconnectBackoff
// between attempts.
func (l *Listener) connect(ctx context.Context) (*redis.Client, bool) {
	for {
		client, err := l.dialer.Dial(ctx, l.endpoint)
		if err == nil {
			l.clientMu.Lock()
			if ctx.Err() != nil {
				l.clientMu.Unlock()
				_ = client.Close()
				return nil, false
			}
			l.client = client
			l.clientMu.Unlock()
			return client, true
		}

		if errors.Is(err, ErrInvalidEndpoint) || errors.Is(err, ErrClosed) {
			l.logger.Error("listener cannot connect", "error", err)
			return nil, false
		}

		l.logger.Warn("listener connect failed, retrying",
			"error", err,
			"backoff", l.cfg.ReconnectBackoff,
		)
		if !l.sleep(ctx) {
			return nil, false
		}
		l.reconnects.Add(1)
		metrics.ListenerReconnectsTotal.Inc()
	}
}

func (l *Listener) release(client *redis.Client) {
	l.clientMu.Lock()
	if l.client == client {
		l.client = nil
	}
	l.clientMu.Unlock()
	_ = client.Close()
}

// sleep waits one backoff interval. It returns false if ctx ended first.
func (l *Listener) sleep(ctx context.Context) bool {
	timer := time.NewTimer(l.cfg.ReconnectBackoff)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// listen pops from all channels until the connection fails or ctx ends.
func (l *Listener) listen(ctx context.Context, client *redis.Client) error {
	l.state.Store(int32(StateListening))
	l.logger.Info("listener connected")

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		result, err := client.BLPop(ctx, l.cfg.PollTimeout, l.channels...).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return err
		}
		if len(result) != 2 {
			continue
		}

		l.dispatch(ctx, result[0], result[1])
	}
}

// dispatch decodes one element and runs every handler in registration order.
func (l *Listener) dispatch(ctx context.Context, channel, raw string) {
	start := time.Now()

	data, err := DecodeEnvelope([]byte(raw))
	if err != nil {
		l.malformed.Add(1)
		metrics.MessagesMalformedTotal.WithLabelValues(channel).Inc()
		l.logger.Warn("malformed message", "channel", channel, "error", err)
		data = MalformedPayload
	}

	msg := &Message{
		Channel:    channel,
		Data:       data,
		ReceivedAt: start,
	}

	// Snapshot so handlers may subscribe or unsubscribe during dispatch.
	l.mu.RLock()
	handlers := append([]handlerEntry(nil), l.handlers...)
	l.mu.RUnlock()

	for i, h := range handlers {
		if fault := invoke(ctx, i, h.fn, msg); fault != nil {
			l.faults.Add(1)
			metrics.HandlerFaultsTotal.WithLabelValues(channel).Inc()
			l.logger.Error("handler fault", "channel", channel, "error", fault)
		}
	}

	l.delivered.Add(1)
	metrics.MessagesDeliveredTotal.WithLabelValues(channel).Inc()
	metrics.DispatchLatency.Observe(time.Since(start).Seconds())
}

func invoke(ctx context.Context, index int, fn Handler, msg *Message) (fault *HandlerFault) {
	defer func() {
		if r := recover(); r != nil {
			fault = &HandlerFault{Channel: msg.Channel, Index: index, Panic: r}
		}
	}()

	if err := fn(ctx, msg); err != nil {
		return &HandlerFault{Channel: msg.Channel, Index: index, Err: err}
	}
	return nil
}
