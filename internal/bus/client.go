// Package bus implements the titan broker client: connection management,
// stream bootstrap, publish/subscribe, durable push consumers, request/reply,
// KV access and dead-letter publication over NATS JetStream.
//
// The client is a process-wide singleton (Get / Reset); components that want
// injection accept the narrow interfaces they consume and take the singleton
// only as a default.
package bus

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"titanfabric/internal/envelope"
	"titanfabric/internal/logging"
)

// Transport errors. These are retryable by the caller; the fabric never
// retries commands on the caller's behalf.
var (
	ErrNotConnected = errors.New("bus: not connected")
	ErrClosed       = errors.New("bus: client closed")
	ErrReplyTimeout = errors.New("bus: request timed out")
)

// DefaultRequestTimeout applies when a request carries no explicit timeout.
const DefaultRequestTimeout = 5 * time.Second

// EventKind tags observer events emitted on broker-side transitions.
type EventKind string

const (
	EventError  EventKind = "error"
	EventClosed EventKind = "closed"
)

// Event is delivered to observer channels on disconnection and async errors.
type Event struct {
	Kind EventKind
	Err  error
}

// Options configures a client. Zero values fall back to the environment.
type Options struct {
	URL      string
	User     string
	Password string
	Token    string

	// Name identifies this process on the broker connection and in DLI
	// records.
	Name string

	// SigningSecret enables envelope signing when non-empty.
	SigningSecret []byte
	SigningKeyID  string

	// WaitFirstConnect makes Connect return the error of a failed first
	// connection attempt; when unset, Connect returns immediately and the
	// first connection is retried in the background.
	WaitFirstConnect bool

	// SkipTopology disables stream bootstrap on connect. Tests use it.
	SkipTopology bool
}

// Environment variables consumed when options are zero.
const (
	EnvURL        = "TITAN_NATS_URL"
	EnvUser       = "TITAN_NATS_USER"
	EnvPassword   = "TITAN_NATS_PASSWORD"
	EnvToken      = "TITAN_NATS_TOKEN"
	EnvSignSecret = "TITAN_SIGNING_SECRET"
	EnvSignKeyID  = "TITAN_SIGNING_KEY_ID"
	EnvTag        = "TITAN_ENV"
)

// FromEnv fills unset option fields from the environment.
func (o Options) FromEnv() Options {
	if o.URL == "" {
		o.URL = os.Getenv(EnvURL)
	}
	if o.URL == "" {
		o.URL = nats.DefaultURL
	}
	if o.User == "" {
		o.User = os.Getenv(EnvUser)
	}
	if o.Password == "" {
		o.Password = os.Getenv(EnvPassword)
	}
	if o.Token == "" {
		o.Token = os.Getenv(EnvToken)
	}
	if len(o.SigningSecret) == 0 {
		if s := os.Getenv(EnvSignSecret); s != "" {
			o.SigningSecret = []byte(s)
		}
	}
	if o.SigningKeyID == "" {
		o.SigningKeyID = os.Getenv(EnvSignKeyID)
	}
	if o.SigningKeyID == "" && len(o.SigningSecret) > 0 {
		o.SigningKeyID = "k1"
	}
	if o.Name == "" {
		o.Name = "titan-fabric"
	}
	return o
}

// Client is the broker client. All methods are safe for concurrent use.
type Client struct {
	mu     sync.RWMutex
	opts   Options
	nc     *nats.Conn
	js     nats.JetStreamContext
	signer *envelope.Signer
	kv     map[string]nats.KeyValue
	subs   []*Subscription
	closed bool

	obsMu     sync.RWMutex
	observers []chan Event
}

var (
	instanceMu sync.Mutex
	instance   *Client
)

// Get returns the process-wide client, constructing it lazily from the
// environment.
func Get() *Client {
	instanceMu.Lock()
	defer instanceMu.Unlock()
	if instance == nil {
		instance = New(Options{}.FromEnv())
	}
	return instance
}

// Reset discards the process-wide client. Tests call this between cases; any
// open connection is closed first.
func Reset() {
	instanceMu.Lock()
	defer instanceMu.Unlock()
	if instance != nil {
		_ = instance.Close()
		instance = nil
	}
}

// New constructs an unconnected client.
func New(opts Options) *Client {
	c := &Client{
		opts: opts,
		kv:   make(map[string]nats.KeyValue),
	}
	if len(opts.SigningSecret) > 0 {
		c.signer = envelope.NewSigner(opts.SigningSecret, opts.SigningKeyID, 60*time.Second)
	}
	return c
}

// Signer exposes the envelope signer, nil when signing is not configured.
func (c *Client) Signer() *envelope.Signer {
	return c.signer
}

// Connect establishes the broker session with unbounded reconnect attempts
// and bootstraps the stream topology.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.nc != nil && c.nc.IsConnected() {
		return nil
	}

	natsOpts := []nats.Option{
		nats.Name(c.opts.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logging.BusWarn("disconnected: %v", err)
				c.emit(Event{Kind: EventError, Err: err})
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logging.Bus("reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			logging.Bus("connection closed")
			c.emit(Event{Kind: EventClosed})
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			logging.BusError("async error: %v", err)
			c.emit(Event{Kind: EventError, Err: err})
		}),
	}
	if !c.opts.WaitFirstConnect {
		natsOpts = append(natsOpts, nats.RetryOnFailedConnect(true))
	}
	if c.opts.Token != "" {
		natsOpts = append(natsOpts, nats.Token(c.opts.Token))
	} else if c.opts.User != "" {
		natsOpts = append(natsOpts, nats.UserInfo(c.opts.User, c.opts.Password))
	}

	nc, err := nats.Connect(c.opts.URL, natsOpts...)
	if err != nil {
		return fmt.Errorf("bus: connect %s: %w", c.opts.URL, err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return fmt.Errorf("bus: jetstream context: %w", err)
	}

	c.nc = nc
	c.js = js
	logging.Bus("connected to %s as %s", nc.ConnectedUrl(), c.opts.Name)

	if !c.opts.SkipTopology {
		c.ensureTopology(ctx)
	}
	return nil
}

// IsConnected reports whether a live session exists.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.nc != nil && c.nc.IsConnected()
}

// ConnectionState describes the session for diagnostics.
func (c *Client) ConnectionState() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	switch {
	case c.closed:
		return "closed"
	case c.nc == nil:
		return "disconnected"
	case c.nc.IsConnected():
		return "connected"
	case c.nc.IsReconnecting():
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// Notify registers an observer channel for error/closed events. Emission
// never blocks; a full channel drops the event.
func (c *Client) Notify(ch chan Event) {
	c.obsMu.Lock()
	defer c.obsMu.Unlock()
	c.observers = append(c.observers, ch)
}

func (c *Client) emit(ev Event) {
	c.obsMu.RLock()
	defer c.obsMu.RUnlock()
	for _, ch := range c.observers {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close drains in-flight publishes and subscriptions, then closes the
// connection. A second close is a no-op. The lock is released before
// waiting on consumer goroutines so in-flight handlers that call back into
// the client fail fast instead of deadlocking.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	subs := c.subs
	nc := c.nc
	c.subs = nil
	c.nc = nil
	c.js = nil
	c.kv = make(map[string]nats.KeyValue)
	c.mu.Unlock()

	for _, s := range subs {
		s.stop()
	}
	if nc != nil {
		if err := nc.Drain(); err != nil {
			nc.Close()
		}
	}
	return nil
}

// conn returns the live connection and JetStream context or ErrNotConnected.
func (c *Client) conn() (*nats.Conn, nats.JetStreamContext, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, nil, ErrClosed
	}
	if c.nc == nil || !c.nc.IsConnected() {
		return nil, nil, ErrNotConnected
	}
	return c.nc, c.js, nil
}
