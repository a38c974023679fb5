// Package policy implements the policy-hash handshake between the decision
// and execution components. Before trading is armed, the decision side
// requests the execution side's current policy hash and compares it to its
// own; any divergence keeps the system disarmed. This catches the "healthy
// but rejects everything" failure mode after a partial rollout.
package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"titanfabric/internal/logging"
	"titanfabric/internal/subjects"
	"titanfabric/internal/types"
)

// Handshake defaults.
const (
	DefaultTimeout        = 5 * time.Second
	DefaultAttempts       = 3
	DefaultInitialBackoff = 500 * time.Millisecond
)

// Requester is the slice of the broker client the verifier consumes.
type Requester interface {
	Request(ctx context.Context, subject string, payload interface{}, timeout time.Duration) ([]byte, error)
}

// VerifyResult is the structured outcome of a handshake. Success=false is a
// hard gate: the operator-facing layer must keep trading disarmed.
type VerifyResult struct {
	Success    bool   `json:"success"`
	LocalHash  string `json:"localHash,omitempty"`
	RemoteHash string `json:"remoteHash,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Verifier runs the decision-side half of the handshake.
type Verifier struct {
	bus            Requester
	timeout        time.Duration
	attempts       uint64
	initialBackoff time.Duration
}

// NewVerifier builds a verifier with the protocol defaults.
func NewVerifier(b Requester) *Verifier {
	return &Verifier{
		bus:            b,
		timeout:        DefaultTimeout,
		attempts:       DefaultAttempts,
		initialBackoff: DefaultInitialBackoff,
	}
}

// VerifyExecutionPolicyHash fetches the execution side's hash with bounded
// retries (500 ms doubling backoff) and compares it to localHash. A reply
// without a policy_hash field is invalid and retried like a transport
// failure.
func (v *Verifier) VerifyExecutionPolicyHash(ctx context.Context, localHash string) VerifyResult {
	var reply types.PolicyHashReply

	operation := func() error {
		data, err := v.bus.Request(ctx, subjects.ReqExecPolicyHashV1,
			types.PolicyHashRequest{RequestType: "policy_hash"}, v.timeout)
		if err != nil {
			logging.PolicyWarn("policy hash request failed: %v", err)
			return err
		}
		var r types.PolicyHashReply
		if err := json.Unmarshal(data, &r); err != nil {
			return fmt.Errorf("policy: malformed reply: %w", err)
		}
		if r.PolicyHash == "" {
			return fmt.Errorf("policy: reply missing policy_hash")
		}
		reply = r
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = v.initialBackoff
	bo.Multiplier = 2
	bo.RandomizationFactor = 0

	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(bo, v.attempts-1), ctx))
	if err != nil {
		return VerifyResult{
			Success:   false,
			LocalHash: localHash,
			Error:     fmt.Sprintf("Execution policy hash unreachable: %v", err),
		}
	}

	if reply.PolicyHash != localHash {
		logging.PolicyError("policy hash mismatch: brain=%s execution=%s", localHash, reply.PolicyHash)
		return VerifyResult{
			Success:    false,
			LocalHash:  localHash,
			RemoteHash: reply.PolicyHash,
			Error:      fmt.Sprintf("Policy hash mismatch: Brain has %s, Execution has %s", localHash, reply.PolicyHash),
		}
	}

	logging.Policy("policy hash verified: %s", localHash)
	return VerifyResult{Success: true, LocalHash: localHash, RemoteHash: reply.PolicyHash}
}
