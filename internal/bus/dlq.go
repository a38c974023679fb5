package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"runtime/debug"
	"time"

	"titanfabric/internal/logging"
	"titanfabric/internal/subjects"
	"titanfabric/internal/topology"
	"titanfabric/internal/types"
)

// PublishDLQ records a terminal processing failure: the original payload and
// error are wrapped in a dead-letter item and published under titan.dlq.
// If the DLQ publish itself fails, the item is written to standard error as
// a final failsafe so the record is never lost silently.
func (c *Client) PublishDLQ(ctx context.Context, originalSubject string, originalPayload interface{}, cause error, metadata map[string]string) error {
	item := types.DeadLetterItem{
		OriginalSubject: originalSubject,
		OriginalPayload: originalPayload,
		ErrorMessage:    cause.Error(),
		ErrorStack:      string(debug.Stack()),
		Service:         c.opts.Name,
		Timestamp:       time.Now().UnixNano(),
		Metadata:        metadata,
	}

	target := subjects.Dlq(originalSubject)
	if err := c.Publish(ctx, target, item); err != nil {
		c.dlqFailsafe(item, err)
		return fmt.Errorf("bus: dlq publish %s: %w", target, err)
	}

	dlqPublishes.Inc()
	logging.Dlq("routed %s -> %s: %v", originalSubject, target, cause)
	return nil
}

// dlqFailsafe writes the item to stderr when the broker is unreachable.
func (c *Client) dlqFailsafe(item types.DeadLetterItem, cause error) {
	data, err := json.Marshal(item)
	if err != nil {
		fmt.Fprintf(os.Stderr, "DLQ FAILSAFE (unencodable item, subject=%s): %v\n", item.OriginalSubject, cause)
		return
	}
	fmt.Fprintf(os.Stderr, "DLQ FAILSAFE (%v): %s\n", cause, data)
}

// StartDLQMonitor attaches the DLQ_MONITOR durable to titan.dlq.> and logs
// every dead letter for operator alerting. The returned subscription stops
// the monitor.
func (c *Client) StartDLQMonitor() (*Subscription, error) {
	return c.SubscribeDurable(subjects.DlqAll, topology.ConsumerDlqMonitor, func(msg Message) error {
		var item types.DeadLetterItem
		if err := json.Unmarshal(msg.Raw, &item); err != nil {
			logging.DlqWarn("unparseable dead letter on %s", msg.Subject)
			return nil
		}
		logging.DlqError("dead letter on %s from %s: %s", msg.Subject, item.Service, item.ErrorMessage)
		return nil
	})
}
