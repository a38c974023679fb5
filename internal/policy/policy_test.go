package policy

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"titanfabric/internal/subjects"
	"titanfabric/internal/types"
)

// fakeRequester scripts the replies of the execution side.
type fakeRequester struct {
	mu      sync.Mutex
	replies []reply
	calls   int
	subject string
	body    []byte
}

type reply struct {
	data []byte
	err  error
}

func (f *fakeRequester) Request(_ context.Context, subject string, payload interface{}, _ time.Duration) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subject = subject
	f.body, _ = json.Marshal(payload)
	if f.calls >= len(f.replies) {
		return nil, errors.New("no scripted reply")
	}
	r := f.replies[f.calls]
	f.calls++
	return r.data, r.err
}

func hashReply(t *testing.T, hash string) []byte {
	t.Helper()
	data, err := json.Marshal(types.PolicyHashReply{PolicyHash: hash, Timestamp: time.Now().UnixMilli()})
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestVerifyMatch(t *testing.T) {
	fr := &fakeRequester{replies: []reply{{data: hashReply(t, "A")}}}
	v := NewVerifier(fr)

	res := v.VerifyExecutionPolicyHash(context.Background(), "A")
	if !res.Success {
		t.Fatalf("verify = %+v", res)
	}
	if res.LocalHash != "A" || res.RemoteHash != "A" {
		t.Errorf("hashes = %q/%q", res.LocalHash, res.RemoteHash)
	}
	if fr.subject != subjects.ReqExecPolicyHashV1 {
		t.Errorf("request subject = %q", fr.subject)
	}
	if !strings.Contains(string(fr.body), `"request_type":"policy_hash"`) {
		t.Errorf("request body = %s", fr.body)
	}
}

// TestVerifyMismatch checks the exact operator-facing mismatch message.
func TestVerifyMismatch(t *testing.T) {
	fr := &fakeRequester{replies: []reply{{data: hashReply(t, "B")}}}
	v := NewVerifier(fr)

	res := v.VerifyExecutionPolicyHash(context.Background(), "A")
	if res.Success {
		t.Fatal("mismatch must not succeed")
	}
	if res.LocalHash != "A" || res.RemoteHash != "B" {
		t.Errorf("hashes = %q/%q", res.LocalHash, res.RemoteHash)
	}
	want := "Policy hash mismatch: Brain has A, Execution has B"
	if res.Error != want {
		t.Errorf("error = %q, want %q", res.Error, want)
	}
}

// TestVerifyRetriesInvalidReply verifies a reply without policy_hash is
// treated like a transport failure and retried.
func TestVerifyRetriesInvalidReply(t *testing.T) {
	fr := &fakeRequester{replies: []reply{
		{data: []byte(`{"timestamp":1}`)}, // missing policy_hash
		{data: hashReply(t, "A")},
	}}
	v := NewVerifier(fr)

	res := v.VerifyExecutionPolicyHash(context.Background(), "A")
	if !res.Success {
		t.Fatalf("verify = %+v", res)
	}
	if fr.calls != 2 {
		t.Errorf("calls = %d, want 2", fr.calls)
	}
}

func TestVerifyRetriesTransportError(t *testing.T) {
	fr := &fakeRequester{replies: []reply{
		{err: errors.New("timeout")},
		{data: hashReply(t, "A")},
	}}
	v := NewVerifier(fr)

	if res := v.VerifyExecutionPolicyHash(context.Background(), "A"); !res.Success {
		t.Errorf("verify after one transport failure = %+v", res)
	}
}

// TestVerifyExhaustsAttempts verifies exactly three attempts before the
// handshake is reported unreachable.
func TestVerifyExhaustsAttempts(t *testing.T) {
	fr := &fakeRequester{replies: []reply{
		{err: errors.New("down")},
		{err: errors.New("down")},
		{err: errors.New("down")},
		{data: hashReply(t, "A")}, // must never be reached
	}}
	v := NewVerifier(fr)

	res := v.VerifyExecutionPolicyHash(context.Background(), "A")
	if res.Success {
		t.Fatal("exhausted handshake must fail")
	}
	if fr.calls != 3 {
		t.Errorf("calls = %d, want 3", fr.calls)
	}
	if !strings.Contains(res.Error, "unreachable") {
		t.Errorf("error = %q", res.Error)
	}
}

func TestVerifyContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fr := &fakeRequester{replies: []reply{{err: errors.New("down")}}}
	res := NewVerifier(fr).VerifyExecutionPolicyHash(ctx, "A")
	if res.Success {
		t.Error("cancelled handshake must fail")
	}
}
