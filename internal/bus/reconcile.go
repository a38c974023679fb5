package bus

import (
	"context"
	"errors"

	"github.com/nats-io/nats.go"

	"titanfabric/internal/logging"
	"titanfabric/internal/topology"
)

// ensureTopology walks the declared streams, consumers and buckets and makes
// the broker match them: absent objects are created, existing streams and
// consumers are updated to the declared attributes, and existing buckets are
// left as they are.
// Failures are logged and counted, never fatal: the operator reconciles
// manually and start-up continues.
func (c *Client) ensureTopology(ctx context.Context) {
	js := c.js

	for _, sc := range topology.Streams() {
		sc := sc
		if _, err := js.AddStream(&sc, nats.Context(ctx)); err != nil {
			if errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
				if _, upErr := js.UpdateStream(&sc, nats.Context(ctx)); upErr != nil {
					topologyReconcileErrors.Inc()
					logging.TopologyError("stream %s exists with different attributes and update failed: %v", sc.Name, upErr)
				} else {
					logging.Topology("stream %s updated", sc.Name)
				}
				continue
			}
			topologyReconcileErrors.Inc()
			logging.TopologyError("stream %s create failed: %v", sc.Name, err)
			continue
		}
		logging.Topology("stream %s ensured", sc.Name)
	}

	for _, decl := range topology.Consumers() {
		cfg := decl.Config
		info, err := js.ConsumerInfo(decl.Stream, cfg.Durable, nats.Context(ctx))
		if err == nil && info != nil {
			if _, upErr := js.UpdateConsumer(decl.Stream, &cfg, nats.Context(ctx)); upErr != nil {
				topologyReconcileErrors.Inc()
				logging.TopologyError("consumer %s on %s exists with different attributes and update failed: %v", cfg.Durable, decl.Stream, upErr)
			} else {
				logging.Topology("consumer %s on %s updated", cfg.Durable, decl.Stream)
			}
			continue
		}
		if _, err := js.AddConsumer(decl.Stream, &cfg, nats.Context(ctx)); err != nil {
			topologyReconcileErrors.Inc()
			logging.TopologyError("consumer %s on %s: %v", cfg.Durable, decl.Stream, err)
			continue
		}
		logging.Topology("consumer %s on %s ensured", cfg.Durable, decl.Stream)
	}

	for _, kvc := range topology.Buckets() {
		kvc := kvc
		if _, err := js.KeyValue(kvc.Bucket); err == nil {
			continue
		}
		if _, err := js.CreateKeyValue(&kvc); err != nil {
			topologyReconcileErrors.Inc()
			logging.TopologyError("bucket %s: %v", kvc.Bucket, err)
			continue
		}
		logging.Topology("bucket %s ensured", kvc.Bucket)
	}
}
