// Package signal implements the three-phase PREPARE/CONFIRM/ABORT client
// that brackets remote order placement: PREPARE caches and validates
// locally, CONFIRM transforms and dispatches idempotently, ABORT discards.
//
// Per signal_id the state machine is
//
//	         SendPrepare (valid)
//	  ∅ ───────────────────────▶ PENDING
//	  │                             ├── SendConfirm ──▶ PUBLISHED → ∅
//	  │                             ├── SendAbort   ──▶ ABORTED  → ∅
//	  │                             └── timeout     ──▶ EXPIRED  → ∅
//
// The pending map is the serialization point; phase results are structured
// responses and never Go errors across the phase boundary.
package signal

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"titanfabric/internal/envelope"
	"titanfabric/internal/logging"
	"titanfabric/internal/subjects"
	"titanfabric/internal/types"
)

// Reason strings surfaced in phase responses. Invalid-input and not-found
// are non-retryable; publish and connection failures may be retried after
// reconnect.
const (
	ReasonInvalidSignal = "Invalid signal data"
	ReasonNotFound      = "Signal not found or expired"
	ReasonInvalidIntent = "Invalid intent payload"
)

// Variant selects the dispatch path of a client.
type Variant string

const (
	// SignalVariant publishes intents onto the submit subject consumed by
	// the decision component, which later emits a command.
	SignalVariant Variant = "signal"

	// ExecutionVariant transforms intents into venue-routed commands
	// directly.
	ExecutionVariant Variant = "execution"
)

// Bus is the slice of the broker client the signal client consumes. The
// process-wide bus satisfies it; tests inject fakes.
type Bus interface {
	Connect(ctx context.Context) error
	IsConnected() bool
	ConnectionState() string
	Publish(ctx context.Context, subject string, payload interface{}) error
	PublishEnvelope(ctx context.Context, subject, producer, msgType string, version int, payload interface{}, opts ...envelope.Option) (*envelope.Envelope, error)
}

// Options configures a client.
type Options struct {
	Variant  Variant
	Producer string // envelope producer tag, default titan-brain
	Source   string // source tag stamped into transformed intents

	// Routing defaults applied when the caller does not specify them.
	Venue   string // default auto
	Account string // default main

	// PendingTTL bounds how long a prepared signal waits for its terminal
	// phase before it is eligible for garbage collection.
	PendingTTL time.Duration

	// ReturnFillEstimate controls the confirm response shape: on, the
	// entry-zone midpoint is returned as fill_price; off, only the
	// correlation id is returned and callers await the fill event.
	ReturnFillEstimate bool
}

func (o Options) withDefaults() Options {
	if o.Variant == "" {
		o.Variant = ExecutionVariant
	}
	if o.Producer == "" {
		o.Producer = "titan-brain"
	}
	if o.Source == "" {
		o.Source = "titan-brain"
	}
	if o.Venue == "" {
		o.Venue = "auto"
	}
	if o.Account == "" {
		o.Account = "main"
	}
	if o.PendingTTL <= 0 {
		o.PendingTTL = 5 * time.Minute
	}
	return o
}

// Metrics counts client activity, mirrored by Status.
type Metrics struct {
	Prepared  int64
	Confirmed int64
	Aborted   int64
	Expired   int64
	Rejected  int64 // invalid input or schema
	DlqRouted int64
	LastError string
}

// pendingEntry is a prepared signal awaiting its terminal phase.
type pendingEntry struct {
	signal     types.IntentSignal
	preparedAt time.Time
}

// Client is one signal client instance. The pending map is local to the
// instance and never shared across clients.
type Client struct {
	mu      sync.Mutex
	opts    Options
	bus     Bus
	pending map[string]*pendingEntry
	metrics Metrics

	gcStop chan struct{}
	gcDone chan struct{}
}

// New builds a client over the given bus.
func New(b Bus, opts Options) *Client {
	return &Client{
		opts:    opts.withDefaults(),
		bus:     b,
		pending: make(map[string]*pendingEntry),
	}
}

// Connect establishes the underlying broker session and starts the expiry
// sweeper.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.bus.Connect(ctx); err != nil {
		return err
	}
	c.startGC()
	return nil
}

// Disconnect stops the sweeper. The shared bus connection is left to its
// owner.
func (c *Client) Disconnect() {
	c.stopGC()
}

// IsConnected reports the underlying session state.
func (c *Client) IsConnected() bool {
	return c.bus.IsConnected()
}

// ConnectionState describes the underlying session for diagnostics.
func (c *Client) ConnectionState() string {
	return c.bus.ConnectionState()
}

// GetMetrics returns a snapshot of the client counters.
func (c *Client) GetMetrics() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metrics
}

// Status summarizes the client for operator surfaces.
func (c *Client) Status() map[string]interface{} {
	c.mu.Lock()
	pending := len(c.pending)
	m := c.metrics
	c.mu.Unlock()
	return map[string]interface{}{
		"variant":   string(c.opts.Variant),
		"connected": c.bus.IsConnected(),
		"state":     c.bus.ConnectionState(),
		"pending":   pending,
		"prepared":  m.Prepared,
		"confirmed": m.Confirmed,
		"aborted":   m.Aborted,
		"expired":   m.Expired,
	}
}

// SendPrepare validates minimal fields and caches the signal as PENDING.
// The phase is purely local: no broker I/O happens except a best-effort
// auto-connect when the client was not yet connected, whose failure is
// logged and does not fail the call.
func (c *Client) SendPrepare(ctx context.Context, sig types.IntentSignal) types.PrepareResult {
	if sig.SignalID == "" || sig.Symbol == "" {
		c.mu.Lock()
		c.metrics.Rejected++
		c.metrics.LastError = ReasonInvalidSignal
		c.mu.Unlock()
		return types.PrepareResult{Prepared: false, Reason: ReasonInvalidSignal}
	}

	if !c.bus.IsConnected() {
		if err := c.bus.Connect(ctx); err != nil {
			logging.SignalWarn("auto-connect failed during prepare of %s: %v", sig.SignalID, err)
		}
	}

	c.mu.Lock()
	c.sweepLocked(time.Now())
	c.pending[sig.SignalID] = &pendingEntry{signal: sig, preparedAt: time.Now()}
	c.metrics.Prepared++
	c.mu.Unlock()

	logging.SignalDebug("prepared %s (%s %s)", sig.SignalID, sig.Direction, sig.Symbol)
	return types.PrepareResult{Prepared: true, SignalID: sig.SignalID}
}

// SendConfirm transforms, validates and dispatches a prepared signal. The
// pending entry is consumed on every terminal outcome, which makes a
// repeated confirm after success a not-found no-op.
func (c *Client) SendConfirm(ctx context.Context, signalID string) types.ConfirmResult {
	// Claim the entry under the lock so concurrent confirms of one signal
	// cannot both dispatch.
	c.mu.Lock()
	c.sweepLocked(time.Now())
	entry, ok := c.pending[signalID]
	if ok {
		delete(c.pending, signalID)
	}
	c.mu.Unlock()
	if !ok {
		return types.ConfirmResult{Executed: false, Reason: ReasonNotFound}
	}

	// The producer's own source tag wins; the per-client tag is only the
	// fallback for signals that arrived unattributed.
	source := entry.signal.Source
	if source == "" {
		source = c.opts.Source
	}
	intent := Transform(entry.signal, source)

	if err := ValidateIntent(intent); err != nil {
		c.routeInvalid(ctx, intent, err)
		c.mu.Lock()
		c.metrics.Rejected++
		c.metrics.LastError = err.Error()
		c.mu.Unlock()
		return types.ConfirmResult{Executed: false, Reason: ReasonInvalidIntent}
	}

	if err := c.dispatch(ctx, entry.signal, intent); err != nil {
		// Transport failures leave the signal confirmable after reconnect.
		c.mu.Lock()
		if _, reprepared := c.pending[signalID]; !reprepared {
			c.pending[signalID] = entry
		}
		c.metrics.LastError = err.Error()
		c.mu.Unlock()
		logging.SignalError("confirm publish failed for %s: %v", signalID, err)
		return types.ConfirmResult{Executed: false, Reason: err.Error()}
	}

	c.mu.Lock()
	c.metrics.Confirmed++
	c.mu.Unlock()

	res := types.ConfirmResult{Executed: true, CorrelationID: signalID}
	if c.opts.ReturnFillEstimate {
		price := FillEstimate(intent.EntryZone)
		res.FillPrice = &price
	}
	logging.Signal("confirmed %s -> %s %s", signalID, intent.Type, intent.Symbol)
	return res
}

// SendAbort unconditionally discards any pending entry for the signal.
func (c *Client) SendAbort(_ context.Context, signalID string) types.AbortResult {
	removed := c.drop(signalID)
	c.mu.Lock()
	if removed {
		c.metrics.Aborted++
	}
	c.mu.Unlock()
	logging.SignalDebug("aborted %s (pending=%v)", signalID, removed)
	return types.AbortResult{Aborted: true, SignalID: signalID}
}

// dispatch publishes per the client variant.
func (c *Client) dispatch(ctx context.Context, sig types.IntentSignal, intent types.ExecutionIntent) error {
	switch c.opts.Variant {
	case SignalVariant:
		// Decision side consumes the untransformed signal; dual publish to
		// the legacy submit spelling during the migration window.
		if _, err := c.bus.PublishEnvelope(ctx, subjects.EvtBrainSignalV1, c.opts.Producer,
			"intent_signal", 1, sig,
			envelope.WithCorrelation(sig.SignalID)); err != nil {
			return err
		}
		if err := c.bus.Publish(ctx, subjects.LegacySignalSubmit, sig); err != nil {
			logging.SignalWarn("legacy submit publish failed for %s: %v", sig.SignalID, err)
		}
		return nil
	default:
		subject := subjects.CmdExecutionPlace(c.opts.Venue, c.opts.Account, intent.Symbol)
		_, err := c.bus.PublishEnvelope(ctx, subject, c.opts.Producer,
			"execution_intent", 1, intent,
			envelope.WithCorrelation(sig.SignalID),
			envelope.WithIdempotencyKey(sig.SignalID+":"+uuid.NewString()))
		return err
	}
}

// routeInvalid publishes the rejected payload to the primary and legacy DLQ
// subjects with the validation error and an ingress timestamp.
func (c *Client) routeInvalid(ctx context.Context, intent types.ExecutionIntent, cause error) {
	item := types.DeadLetterItem{
		OriginalSubject: subjects.CmdExecutionPlaceV1,
		OriginalPayload: intent,
		ErrorMessage:    cause.Error(),
		Service:         c.opts.Producer,
		Timestamp:       time.Now().UnixNano(),
		Metadata: map[string]string{
			"reason":     cause.Error(),
			"ingress_ts": time.Now().UTC().Format(time.RFC3339Nano),
		},
	}
	if err := c.bus.Publish(ctx, subjects.DlqExecutionCore, item); err != nil {
		logging.SignalError("dlq publish failed for %s: %v", intent.SignalID, err)
	}
	if err := c.bus.Publish(ctx, subjects.LegacyExecutionDlq, item); err != nil {
		logging.SignalWarn("legacy dlq publish failed for %s: %v", intent.SignalID, err)
	}
	c.mu.Lock()
	c.metrics.DlqRouted++
	c.mu.Unlock()
}

// drop removes a pending entry and reports whether one existed.
func (c *Client) drop(signalID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[signalID]
	delete(c.pending, signalID)
	return ok
}

// sweepLocked expires pending entries past the TTL. Callers hold c.mu.
func (c *Client) sweepLocked(now time.Time) {
	for id, entry := range c.pending {
		if now.Sub(entry.preparedAt) > c.opts.PendingTTL {
			delete(c.pending, id)
			c.metrics.Expired++
			logging.SignalWarn("signal %s expired after %s without a terminal phase", id, c.opts.PendingTTL)
		}
	}
}

func (c *Client) startGC() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gcStop != nil {
		return
	}
	c.gcStop = make(chan struct{})
	c.gcDone = make(chan struct{})
	go c.gcLoop(c.gcStop, c.gcDone)
}

func (c *Client) stopGC() {
	c.mu.Lock()
	stop, done := c.gcStop, c.gcDone
	c.gcStop, c.gcDone = nil, nil
	c.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (c *Client) gcLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			c.sweepLocked(time.Now())
			c.mu.Unlock()
		}
	}
}
