// Package envelope implements the canonical message envelope of the titan
// fabric: identity and trace metadata, deterministic JSON canonicalization,
// HMAC-SHA-256 signing and nonce-based replay protection.
package envelope

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Envelope wraps any payload on the wire. Sig, Nonce and KeyID are present
// iff signing is active.
type Envelope struct {
	ID             string          `json:"id"`
	Type           string          `json:"type"`
	Version        int             `json:"version"`
	Producer       string          `json:"producer"`
	TS             int64           `json:"ts"` // producer timestamp, nanoseconds
	CorrelationID  string          `json:"correlation_id,omitempty"`
	CausationID    string          `json:"causation_id,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	Sig            string          `json:"sig,omitempty"`
	Nonce          string          `json:"nonce,omitempty"`
	KeyID          string          `json:"key_id,omitempty"`
	Data           json.RawMessage `json:"data"`
}

// ErrMissingIdempotencyKey is returned when a command envelope lacks the
// required deduplication key.
var ErrMissingIdempotencyKey = errors.New("envelope: command requires idempotency_key")

// Option mutates an envelope under construction.
type Option func(*Envelope)

// WithCorrelation sets the correlation id shared by all messages of one
// logical interaction.
func WithCorrelation(id string) Option {
	return func(e *Envelope) { e.CorrelationID = id }
}

// WithCausation records the id of the message that caused this one.
func WithCausation(id string) Option {
	return func(e *Envelope) { e.CausationID = id }
}

// WithIdempotencyKey sets the deduplication key. Required for commands.
func WithIdempotencyKey(key string) Option {
	return func(e *Envelope) { e.IdempotencyKey = key }
}

// New builds an envelope around payload, stamping the producer timestamp at
// creation.
func New(producer, msgType string, version int, payload interface{}, opts ...Option) (*Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("envelope: encode payload: %w", err)
	}
	e := &Envelope{
		ID:       uuid.NewString(),
		Type:     msgType,
		Version:  version,
		Producer: producer,
		TS:       time.Now().UnixNano(),
		Data:     data,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Reply builds an envelope caused by another: correlation is carried over,
// causation is the cause's id.
func Reply(cause *Envelope, producer, msgType string, version int, payload interface{}, opts ...Option) (*Envelope, error) {
	e, err := New(producer, msgType, version, payload, opts...)
	if err != nil {
		return nil, err
	}
	e.CorrelationID = cause.CorrelationID
	e.CausationID = cause.ID
	return e, nil
}

// Payload decodes the envelope data into out.
func (e *Envelope) Payload(out interface{}) error {
	return json.Unmarshal(e.Data, out)
}

// Encode serializes the envelope for the wire.
func (e *Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Decode parses a wire envelope.
func Decode(data []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("envelope: decode: %w", err)
	}
	return &e, nil
}

// newNonce returns a fresh 128-bit nonce as lowercase hex.
func newNonce() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("envelope: nonce: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}
