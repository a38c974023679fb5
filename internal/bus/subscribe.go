package bus

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"

	"titanfabric/internal/logging"
	"titanfabric/internal/topology"
)

// Message is a decoded delivery. Data is the JSON value when the payload
// parses, the raw string otherwise; Raw always carries the original bytes.
type Message struct {
	Subject string
	Data    interface{}
	Raw     []byte
}

// Handler processes one delivery. For durable subscriptions a nil return
// acks the message and an error naks it, letting the broker redeliver per
// the durable's policy.
type Handler func(msg Message) error

// Subscription owns the consumer goroutine for one subject. Messages are
// processed strictly in delivery order; cross-subscription concurrency is
// free. The errgroup supervises the goroutine so stop can await its drain.
type Subscription struct {
	sub  *nats.Subscription
	ch   chan *nats.Msg
	grp  errgroup.Group
	once sync.Once
	err  error
}

// Unsubscribe removes broker interest and stops the consumer goroutine.
func (s *Subscription) Unsubscribe() error {
	s.stop()
	return s.err
}

// stop removes interest first so the broker stops feeding the channel, then
// closes it and waits for the consumer goroutine to drain and exit.
func (s *Subscription) stop() {
	s.once.Do(func() {
		s.err = s.sub.Unsubscribe()
		close(s.ch)
	})
	_ = s.grp.Wait()
}

// decodeMessage parses JSON best-effort with a string fallback.
func decodeMessage(m *nats.Msg) Message {
	msg := Message{Subject: m.Subject, Raw: m.Data}
	var v interface{}
	if err := json.Unmarshal(m.Data, &v); err == nil {
		msg.Data = v
	} else {
		msg.Data = string(m.Data)
	}
	return msg
}

// Subscribe creates an ephemeral subscription. The handler runs on a
// dedicated goroutine, one message at a time; handler errors and panics are
// logged and never tear down the subscription.
func (c *Client) Subscribe(subject string, handler Handler) (*Subscription, error) {
	nc, _, err := c.conn()
	if err != nil {
		return nil, err
	}

	ch := make(chan *nats.Msg, 64)
	sub, err := nc.ChanSubscribe(subject, ch)
	if err != nil {
		return nil, fmt.Errorf("bus: subscribe %s: %w", subject, err)
	}

	s := &Subscription{sub: sub, ch: ch}
	s.start(func(m *nats.Msg) {
		msg := decodeMessage(m)
		if err := safeHandle(handler, msg); err != nil {
			logging.BusWarn("handler error on %s: %v", subject, err)
		}
	})

	c.track(s)
	return s, nil
}

// SubscribeDurable creates (or attaches to) a durable push consumer with
// explicit acknowledgment. Each delivery is acked on handler success and
// naked on handler failure.
func (c *Client) SubscribeDurable(subject, durable string, handler Handler, opts ...nats.SubOpt) (*Subscription, error) {
	_, js, err := c.conn()
	if err != nil {
		return nil, err
	}

	ch := make(chan *nats.Msg, 64)
	var subOpts []nats.SubOpt
	if decl, declared := topology.ConsumerByName(durable); declared {
		// Pre-declared durables are bound so the subscription attaches to
		// the reconciled consumer instead of negotiating a new one.
		subOpts = []nats.SubOpt{nats.Bind(decl.Stream, durable), nats.ManualAck()}
	} else {
		subOpts = []nats.SubOpt{nats.Durable(durable), nats.ManualAck(), nats.AckExplicit()}
	}
	subOpts = append(subOpts, opts...)

	sub, err := js.ChanSubscribe(subject, ch, subOpts...)
	if err != nil {
		return nil, fmt.Errorf("bus: durable subscribe %s (%s): %w", subject, durable, err)
	}

	s := &Subscription{sub: sub, ch: ch}
	s.start(func(m *nats.Msg) {
		msg := decodeMessage(m)
		if err := safeHandle(handler, msg); err != nil {
			logging.BusWarn("durable %s handler error on %s: %v", durable, m.Subject, err)
			callbackNaks.Inc()
			if nakErr := m.Nak(); nakErr != nil {
				logging.BusError("nak failed on %s: %v", m.Subject, nakErr)
			}
			return
		}
		if ackErr := m.Ack(); ackErr != nil {
			logging.BusError("ack failed on %s: %v", m.Subject, ackErr)
		}
	})

	c.track(s)
	return s, nil
}

// RequestHandler answers one request; the returned value is encoded and sent
// as the reply.
type RequestHandler func(req Message) (interface{}, error)

// ServeRequests answers request/reply traffic on a subject. Handler errors
// drop the request so the requester times out and retries; panics are
// contained like every other callback.
func (c *Client) ServeRequests(subject string, handler RequestHandler) (*Subscription, error) {
	nc, _, err := c.conn()
	if err != nil {
		return nil, err
	}

	ch := make(chan *nats.Msg, 64)
	sub, err := nc.ChanSubscribe(subject, ch)
	if err != nil {
		return nil, fmt.Errorf("bus: serve %s: %w", subject, err)
	}

	s := &Subscription{sub: sub, ch: ch}
	s.start(func(m *nats.Msg) {
		reply, err := safeServe(handler, decodeMessage(m))
		if err != nil {
			logging.BusWarn("request handler error on %s: %v", subject, err)
			return
		}
		data, err := encodePayload(reply)
		if err != nil {
			logging.BusError("reply encode failed on %s: %v", subject, err)
			return
		}
		if err := m.Respond(data); err != nil {
			logging.BusWarn("respond failed on %s: %v", subject, err)
		}
	})

	c.track(s)
	return s, nil
}

func safeServe(handler RequestHandler, msg Message) (reply interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("request handler panic: %v", r)
		}
	}()
	return handler(msg)
}

// start launches the supervised consumer goroutine, which drains the
// subscription channel until it closes.
func (s *Subscription) start(process func(*nats.Msg)) {
	s.grp.Go(func() error {
		for m := range s.ch {
			process(m)
		}
		return nil
	})
}

// safeHandle isolates handler panics so one bad message cannot kill the
// consumer goroutine.
func safeHandle(handler Handler, msg Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(msg)
}

func (c *Client) track(s *Subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs = append(c.subs, s)
}
