package envelope

import (
	"testing"
	"time"
)

func TestNewStampsIdentity(t *testing.T) {
	before := time.Now().UnixNano()
	env, err := New("titan-brain", "execution_intent", 1,
		map[string]string{"signal_id": "s-1"},
		WithCorrelation("s-1"),
		WithIdempotencyKey("s-1:once"))
	if err != nil {
		t.Fatal(err)
	}
	after := time.Now().UnixNano()

	if env.ID == "" {
		t.Error("id not set")
	}
	if env.TS < before || env.TS > after {
		t.Errorf("ts %d outside creation window [%d, %d]", env.TS, before, after)
	}
	if env.CorrelationID != "s-1" || env.IdempotencyKey != "s-1:once" {
		t.Errorf("options not applied: %+v", env)
	}
	if env.Sig != "" || env.Nonce != "" || env.KeyID != "" {
		t.Error("unsigned envelope must not carry sig/nonce/key_id")
	}
}

// TestReplyCausation verifies the causation law: a reply's causation_id is
// the cause's id and correlation is carried end-to-end.
func TestReplyCausation(t *testing.T) {
	cause, err := New("titan-brain", "execution_intent", 1,
		map[string]string{"signal_id": "s-1"},
		WithCorrelation("s-1"))
	if err != nil {
		t.Fatal(err)
	}
	reply, err := Reply(cause, "titan-execution", "order_placed", 1,
		map[string]string{"order_id": "o-1"})
	if err != nil {
		t.Fatal(err)
	}

	if reply.CausationID != cause.ID {
		t.Errorf("causation_id = %q, want cause id %q", reply.CausationID, cause.ID)
	}
	if reply.CorrelationID != "s-1" {
		t.Errorf("correlation_id = %q, want s-1", reply.CorrelationID)
	}
	if reply.ID == cause.ID {
		t.Error("reply must carry its own id")
	}
}

func TestEncodeDecodePayload(t *testing.T) {
	type body struct {
		SignalID string `json:"signal_id"`
	}
	env, err := New("titan-brain", "x", 2, body{SignalID: "s-9"})
	if err != nil {
		t.Fatal(err)
	}

	wire, err := env.Encode()
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := Decode(wire)
	if err != nil {
		t.Fatal(err)
	}
	if decoded.ID != env.ID || decoded.Version != 2 || decoded.Producer != "titan-brain" {
		t.Errorf("round trip lost fields: %+v", decoded)
	}

	var out body
	if err := decoded.Payload(&out); err != nil {
		t.Fatal(err)
	}
	if out.SignalID != "s-9" {
		t.Errorf("payload = %+v", out)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := Decode([]byte("not json")); err == nil {
		t.Error("expected decode error")
	}
}
