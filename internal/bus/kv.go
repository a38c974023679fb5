package bus

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"

	"titanfabric/internal/topology"
)

// ErrKeyNotFound is returned by KvGet for absent keys.
var ErrKeyNotFound = errors.New("bus: key not found")

// Kv lazily opens a bucket and caches the handle. The cache is write-through
// and never evicts; a bucket handle is opened at most once per client.
func (c *Client) Kv(bucket string) (nats.KeyValue, error) {
	c.mu.RLock()
	if kv, ok := c.kv[bucket]; ok {
		c.mu.RUnlock()
		return kv, nil
	}
	c.mu.RUnlock()

	_, js, err := c.conn()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if kv, ok := c.kv[bucket]; ok {
		return kv, nil
	}

	kv, err := js.KeyValue(bucket)
	if errors.Is(err, nats.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{
			Bucket:  bucket,
			History: topology.DefaultKvHistory,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("bus: open bucket %s: %w", bucket, err)
	}
	c.kv[bucket] = kv
	return kv, nil
}

// KvPut stores a JSON-encoded value and returns the new revision.
func (c *Client) KvPut(bucket, key string, value interface{}) (uint64, error) {
	kv, err := c.Kv(bucket)
	if err != nil {
		return 0, err
	}
	data, err := encodePayload(value)
	if err != nil {
		return 0, err
	}
	rev, err := kv.Put(key, data)
	if err != nil {
		return 0, fmt.Errorf("bus: kv put %s/%s: %w", bucket, key, err)
	}
	return rev, nil
}

// KvGet loads a key and decodes it into out when out is non-nil.
func (c *Client) KvGet(bucket, key string, out interface{}) ([]byte, error) {
	kv, err := c.Kv(bucket)
	if err != nil {
		return nil, err
	}
	entry, err := kv.Get(key)
	if errors.Is(err, nats.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s/%s", ErrKeyNotFound, bucket, key)
	}
	if err != nil {
		return nil, fmt.Errorf("bus: kv get %s/%s: %w", bucket, key, err)
	}
	if out != nil {
		if err := json.Unmarshal(entry.Value(), out); err != nil {
			return entry.Value(), fmt.Errorf("bus: kv decode %s/%s: %w", bucket, key, err)
		}
	}
	return entry.Value(), nil
}

// KvKeys lists the keys of a bucket. An empty bucket yields an empty slice.
func (c *Client) KvKeys(bucket string) ([]string, error) {
	kv, err := c.Kv(bucket)
	if err != nil {
		return nil, err
	}
	keys, err := kv.Keys()
	if errors.Is(err, nats.ErrNoKeysFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("bus: kv keys %s: %w", bucket, err)
	}
	return keys, nil
}

// KvDelete removes a key.
func (c *Client) KvDelete(bucket, key string) error {
	kv, err := c.Kv(bucket)
	if err != nil {
		return err
	}
	if err := kv.Delete(key); err != nil {
		return fmt.Errorf("bus: kv delete %s/%s: %w", bucket, key, err)
	}
	return nil
}

// KvWatch watches keys (empty pattern watches the whole bucket) and returns
// the update channel plus a stop function.
func (c *Client) KvWatch(bucket, pattern string) (<-chan nats.KeyValueEntry, func(), error) {
	kv, err := c.Kv(bucket)
	if err != nil {
		return nil, nil, err
	}
	var watcher nats.KeyWatcher
	if pattern == "" {
		watcher, err = kv.WatchAll()
	} else {
		watcher, err = kv.Watch(pattern)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("bus: kv watch %s/%s: %w", bucket, pattern, err)
	}
	return watcher.Updates(), func() { _ = watcher.Stop() }, nil
}
