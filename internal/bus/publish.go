package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"titanfabric/internal/envelope"
	"titanfabric/internal/logging"
	"titanfabric/internal/subjects"
	"titanfabric/internal/topology"
)

// encodePayload renders a payload for the wire: byte slices pass through,
// strings are taken as UTF-8, everything else is JSON.
func encodePayload(payload interface{}) ([]byte, error) {
	switch v := payload.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	case json.RawMessage:
		return v, nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("bus: encode payload: %w", err)
		}
		return data, nil
	}
}

// Publish sends a payload to the subject. Subjects retained by a declared
// stream go through JetStream (persistent, acked); everything else is
// best-effort core NATS. Fails fast with ErrNotConnected when no session
// exists.
func (c *Client) Publish(ctx context.Context, subject string, payload interface{}) error {
	return c.publishMsg(ctx, subject, payload, nil)
}

// publishMsg is the shared publish path; header may be nil.
func (c *Client) publishMsg(ctx context.Context, subject string, payload interface{}, header nats.Header) error {
	nc, js, err := c.conn()
	if err != nil {
		publishErrors.Inc()
		return err
	}
	data, err := encodePayload(payload)
	if err != nil {
		publishErrors.Inc()
		return err
	}

	msg := &nats.Msg{Subject: subject, Data: data, Header: header}
	class := "other"
	if cls, ok := subjects.ClassOf(subject); ok {
		class = string(cls)
	}

	if _, ok := topology.StreamFor(subject); ok {
		if _, err := js.PublishMsg(msg, nats.Context(ctx)); err != nil {
			publishErrors.Inc()
			return fmt.Errorf("bus: jetstream publish %s: %w", subject, err)
		}
		publishesTotal.WithLabelValues(class, "jetstream").Inc()
		return nil
	}

	if err := nc.PublishMsg(msg); err != nil {
		publishErrors.Inc()
		return fmt.Errorf("bus: publish %s: %w", subject, err)
	}
	publishesTotal.WithLabelValues(class, "core").Inc()
	return nil
}

// PublishEnvelope wraps payload in a signed envelope and publishes it.
// Command subjects require an idempotency key; it doubles as the broker-side
// deduplication id within the stream's duplicate window.
func (c *Client) PublishEnvelope(ctx context.Context, subject, producer, msgType string, version int, payload interface{}, opts ...envelope.Option) (*envelope.Envelope, error) {
	env, err := envelope.New(producer, msgType, version, payload, opts...)
	if err != nil {
		return nil, err
	}

	if cls, ok := subjects.ClassOf(subject); ok && cls == subjects.ClassCmd {
		if env.IdempotencyKey == "" {
			return nil, envelope.ErrMissingIdempotencyKey
		}
	}

	if c.signer != nil {
		if err := c.signer.Sign(env); err != nil {
			return nil, err
		}
	}

	data, err := env.Encode()
	if err != nil {
		return nil, err
	}

	var header nats.Header
	if env.IdempotencyKey != "" {
		header = nats.Header{}
		header.Set(nats.MsgIdHdr, env.IdempotencyKey)
	}

	if err := c.publishMsg(ctx, subject, data, header); err != nil {
		return nil, err
	}
	return env, nil
}

// Request publishes to a request subject and waits for the decoded reply.
// timeout <= 0 falls back to DefaultRequestTimeout.
func (c *Client) Request(ctx context.Context, subject string, payload interface{}, timeout time.Duration) ([]byte, error) {
	nc, _, err := c.conn()
	if err != nil {
		return nil, err
	}
	data, err := encodePayload(payload)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	msg, err := nc.RequestWithContext(reqCtx, subject, data)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, nats.ErrTimeout) {
			requestTimeouts.Inc()
			logging.BusWarn("request %s timed out after %s", subject, timeout)
			return nil, fmt.Errorf("%w: %s", ErrReplyTimeout, subject)
		}
		return nil, fmt.Errorf("bus: request %s: %w", subject, err)
	}
	return msg.Data, nil
}
