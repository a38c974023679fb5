// Package topology declares, as data, the complete stream, durable-consumer
// and KV-bucket layout of the titan fabric. The broker client walks these
// declarations at connect time and makes the broker match them.
package topology

import (
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"titanfabric/internal/subjects"
)

// Stream names.
const (
	StreamCmd    = "TITAN_CMD"
	StreamEvt    = "TITAN_EVT"
	StreamData   = "TITAN_DATA"
	StreamSignal = "TITAN_SIGNAL"
	StreamDlq    = "TITAN_DLQ"
)

// Durable consumer names.
const (
	ConsumerExecutionCore  = "EXECUTION_CORE"
	ConsumerVenueStatus    = "VENUE_STATUS"
	ConsumerTradeAnalytics = "TRADE_ANALYTICS"
	ConsumerDlqMonitor     = "DLQ_MONITOR"
)

// KV bucket names.
const (
	BucketVenueState = "titan_venue_state"
	BucketPolicy     = "titan_policy"
)

// DefaultKvHistory is the revision depth applied to buckets opened lazily
// without an explicit declaration.
const DefaultKvHistory = 5

const gib = 1024 * 1024 * 1024

// Streams returns the canonical stream set. A stream's subject filter covers
// every subject producers publish to it.
func Streams() []nats.StreamConfig {
	return []nats.StreamConfig{
		{
			Name:       StreamCmd,
			Subjects:   []string{subjects.CmdAll},
			Storage:    nats.FileStorage,
			Retention:  nats.WorkQueuePolicy,
			MaxAge:     7 * 24 * time.Hour,
			Discard:    nats.DiscardOld,
			Replicas:   1,
			Duplicates: 60 * time.Second,
		},
		{
			Name:      StreamEvt,
			Subjects:  []string{subjects.EvtAll},
			Storage:   nats.FileStorage,
			Retention: nats.LimitsPolicy,
			MaxAge:    30 * 24 * time.Hour,
			MaxBytes:  10 * gib,
			Discard:   nats.DiscardOld,
			Replicas:  1,
		},
		{
			Name:      StreamData,
			Subjects:  []string{subjects.DataAll},
			Storage:   nats.MemoryStorage,
			Retention: nats.LimitsPolicy,
			MaxAge:    15 * time.Minute,
			Discard:   nats.DiscardOld,
			Replicas:  1,
		},
		{
			// Legacy, decommissioning with the signal class.
			Name:      StreamSignal,
			Subjects:  []string{subjects.SignalAll},
			Storage:   nats.FileStorage,
			Retention: nats.LimitsPolicy,
			MaxAge:    24 * time.Hour,
			MaxBytes:  5 * gib,
			Discard:   nats.DiscardOld,
			Replicas:  1,
		},
		{
			Name:      StreamDlq,
			Subjects:  []string{subjects.DlqAll},
			Storage:   nats.FileStorage,
			Retention: nats.LimitsPolicy,
			MaxAge:    30 * 24 * time.Hour,
			MaxBytes:  1 * gib,
			Discard:   nats.DiscardOld,
			Replicas:  1,
		},
	}
}

// ConsumerDecl binds a durable consumer declaration to its stream.
type ConsumerDecl struct {
	Stream string
	Config nats.ConsumerConfig
}

// DeliverSubject returns the push delivery subject for a durable. The
// _TITAN prefix keeps deliveries out of every retained stream filter.
func DeliverSubject(durable string) string {
	return "_TITAN.push." + durable
}

// ConsumerByName resolves a declared durable, if any.
func ConsumerByName(durable string) (ConsumerDecl, bool) {
	for _, decl := range Consumers() {
		if decl.Config.Durable == durable {
			return decl, true
		}
	}
	return ConsumerDecl{}, false
}

// ExecutionCoreBackoff is the explicit redelivery schedule of the execution
// core durable.
var ExecutionCoreBackoff = []time.Duration{
	1 * time.Second,
	5 * time.Second,
	15 * time.Second,
	30 * time.Second,
}

// Consumers returns the canonical durable consumer set.
func Consumers() []ConsumerDecl {
	return []ConsumerDecl{
		{
			Stream: StreamCmd,
			Config: nats.ConsumerConfig{
				Durable:        ConsumerExecutionCore,
				DeliverSubject: DeliverSubject(ConsumerExecutionCore),
				FilterSubject:  subjects.CmdExecutionAll,
				AckPolicy:      nats.AckExplicitPolicy,
				DeliverPolicy:  nats.DeliverAllPolicy,
				MaxDeliver:     5,
				AckWait:        30 * time.Second,
				BackOff:        ExecutionCoreBackoff,
			},
		},
		{
			Stream: StreamEvt,
			Config: nats.ConsumerConfig{
				Durable:        ConsumerVenueStatus,
				DeliverSubject: DeliverSubject(ConsumerVenueStatus),
				FilterSubject:  subjects.EvtVenueStatusV1,
				AckPolicy:      nats.AckExplicitPolicy,
				DeliverPolicy:  nats.DeliverNewPolicy,
				MaxDeliver:     3,
				AckWait:        15 * time.Second,
			},
		},
		{
			Stream: StreamData,
			Config: nats.ConsumerConfig{
				Durable:        ConsumerTradeAnalytics,
				DeliverSubject: DeliverSubject(ConsumerTradeAnalytics),
				FilterSubject:  subjects.DataTradeAnalyticsV1,
				AckPolicy:      nats.AckExplicitPolicy,
				DeliverPolicy:  nats.DeliverNewPolicy,
				MaxDeliver:     3,
				AckWait:        15 * time.Second,
			},
		},
		{
			Stream: StreamDlq,
			Config: nats.ConsumerConfig{
				Durable:        ConsumerDlqMonitor,
				DeliverSubject: DeliverSubject(ConsumerDlqMonitor),
				FilterSubject:  subjects.DlqAll,
				AckPolicy:      nats.AckExplicitPolicy,
				DeliverPolicy:  nats.DeliverAllPolicy,
				MaxDeliver:     5,
				AckWait:        30 * time.Second,
			},
		},
	}
}

// Buckets returns the canonical KV bucket set.
func Buckets() []nats.KeyValueConfig {
	return []nats.KeyValueConfig{
		{
			Bucket:  BucketVenueState,
			History: DefaultKvHistory,
			TTL:     0,
			Storage: nats.FileStorage,
		},
		{
			Bucket:  BucketPolicy,
			History: DefaultKvHistory,
			TTL:     0,
			Storage: nats.FileStorage,
		},
	}
}

// StreamPrefixes maps each stream to the subject prefix it retains.
// Publishers use this to decide between JetStream and core publication.
func StreamPrefixes() map[string]string {
	return map[string]string{
		StreamCmd:    subjects.CmdPrefix + ".",
		StreamEvt:    subjects.EvtPrefix + ".",
		StreamData:   subjects.DataPrefix + ".",
		StreamSignal: subjects.SignalPrefix + ".",
		StreamDlq:    subjects.DlqPrefix + ".",
	}
}

// StreamFor resolves the stream retaining a subject, if any.
func StreamFor(subject string) (string, bool) {
	for name, prefix := range StreamPrefixes() {
		if strings.HasPrefix(subject, prefix) {
			return name, true
		}
	}
	return "", false
}
