package bus

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"titanfabric/internal/envelope"
	"titanfabric/internal/subjects"
	"titanfabric/internal/topology"
)

// integrationClient connects to a live broker or skips the test. These
// cases exercise the real JetStream semantics (redelivery, dedup, KV) and
// run only when TITAN_NATS_URL points at a test server.
func integrationClient(t *testing.T) *Client {
	t.Helper()
	url := os.Getenv(EnvURL)
	if url == "" {
		t.Skip("integration: set TITAN_NATS_URL to run against a live broker")
	}
	c := New(Options{URL: url, Name: "integration-test", WaitFirstConnect: true})
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestIntegrationPublishSubscribe(t *testing.T) {
	c := integrationClient(t)

	received := make(chan Message, 1)
	sub, err := c.Subscribe(subjects.SysHeartbeatV1, func(msg Message) error {
		select {
		case received <- msg:
		default:
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	if err := c.Publish(context.Background(), subjects.SysHeartbeatV1, map[string]string{"from": "test"}); err != nil {
		t.Fatal(err)
	}

	select {
	case msg := <-received:
		obj, ok := msg.Data.(map[string]interface{})
		if !ok || obj["from"] != "test" {
			t.Errorf("received = %#v", msg.Data)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("heartbeat not delivered")
	}
}

// TestIntegrationDurableRedelivery drives the EXECUTION_CORE contract: a
// failing callback naks, the broker redelivers on the declared backoff
// schedule, and attempts stop at max_deliver.
func TestIntegrationDurableRedelivery(t *testing.T) {
	if testing.Short() {
		t.Skip("redelivery walk takes ~1 minute")
	}
	c := integrationClient(t)

	var mu sync.Mutex
	var attempts []time.Time

	sub, err := c.SubscribeDurable(subjects.CmdExecutionAll, topology.ConsumerExecutionCore, func(msg Message) error {
		mu.Lock()
		attempts = append(attempts, time.Now())
		mu.Unlock()
		return errors.New("simulated handler failure")
	})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	subject := subjects.CmdExecutionPlace("bybit", "main", "ETH/USDT")
	if _, err := c.PublishEnvelope(context.Background(), subject, "titan-brain", "execution_intent", 1,
		map[string]string{"signal_id": "redelivery-test"},
		envelope.WithIdempotencyKey("redelivery-test")); err != nil {
		t.Fatal(err)
	}

	// 1s + 5s + 15s + 30s of backoff plus slack.
	deadline := time.After(75 * time.Second)
	for {
		mu.Lock()
		n := len(attempts)
		mu.Unlock()
		if n >= 5 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("only %d delivery attempts before deadline", n)
		case <-time.After(time.Second):
		}
	}

	time.Sleep(5 * time.Second)
	mu.Lock()
	defer mu.Unlock()
	if len(attempts) != 5 {
		t.Errorf("attempts = %d, want exactly max_deliver=5", len(attempts))
	}
	for i, wantGap := range topology.ExecutionCoreBackoff {
		if i+1 >= len(attempts) {
			break
		}
		gap := attempts[i+1].Sub(attempts[i])
		if gap < wantGap-time.Second || gap > wantGap+10*time.Second {
			t.Errorf("gap %d = %v, want ~%v", i, gap, wantGap)
		}
	}
}

func TestIntegrationRequestReplyTimeout(t *testing.T) {
	c := integrationClient(t)

	_, err := c.Request(context.Background(), "titan.req.nobody.home.v1", map[string]string{}, 500*time.Millisecond)
	if !errors.Is(err, ErrReplyTimeout) {
		t.Errorf("want ErrReplyTimeout, got %v", err)
	}
}

func TestIntegrationKvRoundTrip(t *testing.T) {
	c := integrationClient(t)

	if _, err := c.KvPut(topology.BucketVenueState, "bybit", map[string]string{"status": "up"}); err != nil {
		t.Fatal(err)
	}
	var out map[string]string
	if _, err := c.KvGet(topology.BucketVenueState, "bybit", &out); err != nil {
		t.Fatal(err)
	}
	if out["status"] != "up" {
		t.Errorf("kv round trip = %#v", out)
	}

	keys, err := c.KvKeys(topology.BucketVenueState)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, k := range keys {
		if k == "bybit" {
			found = true
		}
	}
	if !found {
		t.Errorf("keys = %v", keys)
	}

	if err := c.KvDelete(topology.BucketVenueState, "bybit"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.KvGet(topology.BucketVenueState, "bybit", nil); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("want ErrKeyNotFound, got %v", err)
	}
}
