// Package types holds the wire payloads shared across the titan fabric:
// intent signals, execution intents, dead-letter items and the policy
// handshake bodies. Every payload here is a closed-set schema; open-ended
// metadata rides in string maps.
package types

import (
	"time"
)

// Direction is the side of an intent signal as emitted by producers.
type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
)

// IntentType is the execution-schema classification of an intent.
type IntentType string

const (
	IntentBuySetup  IntentType = "BUY_SETUP"
	IntentSellSetup IntentType = "SELL_SETUP"
)

// IntentSchemaVersion tags the execution intent schema carried on the wire.
const IntentSchemaVersion = "1.0.0"

// EntryZone is the producer's acceptable entry price band.
type EntryZone struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// IntentSignal is the pre-transform trade proposal emitted by scavengers,
// hunters and the brain. It is held in the PENDING cache between PREPARE
// and CONFIRM/ABORT.
type IntentSignal struct {
	SignalID    string    `json:"signal_id"`
	Symbol      string    `json:"symbol"`
	Direction   Direction `json:"direction"`
	EntryZone   EntryZone `json:"entry_zone"`
	StopLoss    float64   `json:"stop_loss"`
	TakeProfits []float64 `json:"take_profits"`
	Confidence  float64   `json:"confidence"`
	Leverage    float64   `json:"leverage"`
	Source      string    `json:"source,omitempty"`

	// Optional source timestamps, epoch milliseconds. Zero means unset.
	TSignal   int64 `json:"t_signal,omitempty"`
	TExchange int64 `json:"t_exchange,omitempty"`
}

// ExecutionIntent is the post-transform payload consumed by the execution
// core. Field names and shapes are frozen; breaking changes bump
// SchemaVersion and the subject version together.
type ExecutionIntent struct {
	SchemaVersion string     `json:"schema_version" validate:"required"`
	SignalID      string     `json:"signal_id" validate:"required"`
	Source        string     `json:"source" validate:"required"`
	Symbol        string     `json:"symbol" validate:"required"`
	Direction     int        `json:"direction" validate:"required,oneof=1 -1"`
	Type          IntentType `json:"type" validate:"required,oneof=BUY_SETUP SELL_SETUP"`

	// EntryZone is the ordered [min, max] pair.
	EntryZone   [2]float64 `json:"entry_zone"`
	StopLoss    float64    `json:"stop_loss" validate:"required,gt=0"`
	TakeProfits []float64  `json:"take_profits" validate:"required,min=1,dive,gt=0"`

	// Size is often zero; execution may size from risk.
	Size float64 `json:"size"`

	Status     string `json:"status" validate:"required,eq=PENDING"`
	ReceivedAt string `json:"received_at" validate:"required"`

	// TSignal is epoch milliseconds; TExchange is optional.
	TSignal   int64 `json:"t_signal" validate:"required,gt=0"`
	TExchange int64 `json:"t_exchange,omitempty"`

	Metadata map[string]string `json:"metadata"`
}

// DeadLetterItem is the DLQ record published when terminal processing of a
// message fails. OriginalPayload is carried opaque so the item replays
// byte-identically.
type DeadLetterItem struct {
	OriginalSubject string            `json:"original_subject"`
	OriginalPayload interface{}       `json:"original_payload"`
	ErrorMessage    string            `json:"error_message"`
	ErrorStack      string            `json:"error_stack,omitempty"`
	Service         string            `json:"service"`
	Timestamp       int64             `json:"timestamp"` // nanoseconds
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// PolicyHashRequest is the body sent on the policy handshake request subject.
type PolicyHashRequest struct {
	RequestType string `json:"request_type"`
}

// PolicyHashReply is the execution side's answer.
type PolicyHashReply struct {
	PolicyHash    string `json:"policy_hash"`
	PolicyVersion string `json:"policy_version,omitempty"`
	Timestamp     int64  `json:"timestamp"`
}

// PrepareResult is the structured response of the PREPARE phase.
type PrepareResult struct {
	Prepared bool   `json:"prepared"`
	SignalID string `json:"signal_id,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// ConfirmResult is the structured response of the CONFIRM phase. FillPrice
// is an optimistic entry-zone midpoint estimate, present only when the
// client is configured to return it; it is not a venue acknowledgment.
type ConfirmResult struct {
	Executed      bool     `json:"executed"`
	CorrelationID string   `json:"correlation_id,omitempty"`
	FillPrice     *float64 `json:"fill_price,omitempty"`
	Reason        string   `json:"reason,omitempty"`
}

// AbortResult is the structured response of the ABORT phase.
type AbortResult struct {
	Aborted  bool   `json:"aborted"`
	SignalID string `json:"signal_id,omitempty"`
}

// NowMillis returns the current time as epoch milliseconds.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

// NowISO returns the current time formatted as ISO-8601 with millisecond
// precision in UTC.
func NowISO() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
}
