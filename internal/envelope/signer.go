package envelope

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// Signing errors. Verification failures are schema errors: the message is
// DLQ-routed, never retried.
var (
	ErrBadSignature = errors.New("envelope: signature mismatch")
	ErrNoSignature  = errors.New("envelope: envelope is unsigned")
	ErrUnknownKey   = errors.New("envelope: unknown key_id")
	ErrNonceReplay  = errors.New("envelope: nonce already observed")
)

// Signer computes and verifies envelope signatures. The canonical string is
//
//	ts "." nonce "." J(payload)
//
// with J the deterministic canonicalization from this package; the signature
// is HMAC-SHA-256 over that string.
type Signer struct {
	keyID string
	keys  map[string][]byte // key_id -> secret, covering rotation slots
	guard *nonceGuard
}

// NewSigner builds a signer for the active key. Additional rotation slots can
// be registered with AddKey so verification keeps working across rotation.
func NewSigner(secret []byte, keyID string, window time.Duration) *Signer {
	return &Signer{
		keyID: keyID,
		keys:  map[string][]byte{keyID: secret},
		guard: newNonceGuard(window),
	}
}

// AddKey registers a previous rotation slot for verification.
func (s *Signer) AddKey(keyID string, secret []byte) {
	s.keys[keyID] = secret
}

// Sign stamps a fresh nonce and signature onto the envelope.
func (s *Signer) Sign(e *Envelope) error {
	nonce, err := newNonce()
	if err != nil {
		return err
	}
	sig, err := s.compute(s.keys[s.keyID], e.TS, nonce, e.Data)
	if err != nil {
		return err
	}
	e.Nonce = nonce
	e.Sig = sig
	e.KeyID = s.keyID
	return nil
}

// Verify recomputes the signature from the already-deserialized payload and
// compares in constant time, then rejects nonces already observed within the
// duplicate window for the envelope's correlation id.
func (s *Signer) Verify(e *Envelope) error {
	if e.Sig == "" || e.Nonce == "" {
		return ErrNoSignature
	}
	secret, ok := s.keys[e.KeyID]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownKey, e.KeyID)
	}
	want, err := s.compute(secret, e.TS, e.Nonce, e.Data)
	if err != nil {
		return err
	}
	if !hmac.Equal([]byte(want), []byte(e.Sig)) {
		return ErrBadSignature
	}
	if s.guard.seen(e.CorrelationID, e.Nonce) {
		return ErrNonceReplay
	}
	return nil
}

func (s *Signer) compute(secret []byte, ts int64, nonce string, payload []byte) (string, error) {
	canon, err := CanonicalizeRaw(payload)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte("."))
	mac.Write([]byte(nonce))
	mac.Write([]byte("."))
	mac.Write(canon)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// nonceGuard tracks nonces per correlation id inside the broker's duplicate
// window. Entries past the window are pruned lazily on access.
type nonceGuard struct {
	mu     sync.Mutex
	window time.Duration
	seenAt map[string]map[string]time.Time // correlation -> nonce -> first seen
}

func newNonceGuard(window time.Duration) *nonceGuard {
	if window <= 0 {
		window = time.Minute
	}
	return &nonceGuard{
		window: window,
		seenAt: make(map[string]map[string]time.Time),
	}
}

// seen records the nonce and reports whether it was already present within
// the window.
func (g *nonceGuard) seen(correlation, nonce string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	nonces, ok := g.seenAt[correlation]
	if !ok {
		nonces = make(map[string]time.Time)
		g.seenAt[correlation] = nonces
	}

	for n, at := range nonces {
		if now.Sub(at) > g.window {
			delete(nonces, n)
		}
	}

	if at, dup := nonces[nonce]; dup && now.Sub(at) <= g.window {
		return true
	}
	nonces[nonce] = now
	return false
}
