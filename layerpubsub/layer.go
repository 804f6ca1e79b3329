// Package layerpubsub implements the non-durable, sharded pub/sub channel
// layer: Send publishes on a Redis/Valkey channel, Receive subscribes a
// local bounded queue lazily on first call, and group fan-out rides a
// reserved "__group__:<name>" channel published to every shard. Messages
// sent while nobody is subscribed are lost; there is no history and no
// durability, unlike layerqueue.
package layerpubsub

import (
	"context"
	"sync/atomic"

	"github.com/xshapira/fast-channels/config"
	"github.com/xshapira/fast-channels/hashing"
	"github.com/xshapira/fast-channels/layer"
	"github.com/xshapira/fast-channels/logging"
	"github.com/xshapira/fast-channels/metrics"
)

const defaultPrefix = "specific"

// Layer is the non-durable, sharded pub/sub channel layer.
type Layer struct {
	cfg    *config.PubSubConfig
	codec  layer.Codec
	log    *logging.HandlerLogger
	metric *metrics.Set

	shards []*shardLayer

	rrCounter uint64
	closed    int32
}

// New builds a Layer from cfg, one shardLayer per configured host. codec
// encodes and decodes message payloads; log and metric may be nil.
func New(cfg *config.PubSubConfig, codec layer.Codec, log *logging.HandlerLogger, metric *metrics.Set) (*Layer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	shards := make([]*shardLayer, 0, len(cfg.Hosts))
	for i, ep := range cfg.Hosts {
		shards = append(shards, newShardLayer(i, ep, cfg, codec, log, metric))
	}

	return &Layer{
		cfg:    cfg,
		codec:  codec,
		log:    log,
		metric: metric,
		shards: shards,
	}, nil
}

func (l *Layer) isClosed() bool {
	return atomic.LoadInt32(&l.closed) == 1
}

func (l *Layer) shardFor(channel string) *shardLayer {
	return l.shards[hashing.Shard(channel, len(l.shards))]
}

func (l *Layer) observeBackendError(op string) {
	if l.metric != nil {
		l.metric.BackendErrors.WithLabelValues("pubsub", op).Inc()
	}
}

// Send implements layer.Layer. A channel with a local subscriber (this
// process already called Receive on it) is delivered to directly, without a
// network round trip; otherwise the message is published for whichever
// process is subscribed to pick up.
func (l *Layer) Send(ctx context.Context, channel string, m layer.Message) error {
	if l.isClosed() {
		return layer.ErrLayerClosed
	}
	if err := layer.ValidateName(channel); err != nil {
		return err
	}
	if err := layer.ValidateMessage(m); err != nil {
		return err
	}

	s := l.shardFor(channel)
	if q, ok := s.hasLocalChannel(channel); ok {
		q.push(m)
		return nil
	}

	payload, err := l.codec.Encode(map[string]interface{}(m))
	if err != nil {
		return err
	}
	if err := s.publish(s.wireChannel(channel), payload); err != nil {
		l.observeBackendError("send")
		return layer.ErrBackendUnavailable
	}
	return nil
}

// Receive implements layer.Layer. The first call for a channel subscribes
// the owning shard to it; every call blocks on that shard's local bounded
// queue, which drops the oldest entry on overflow rather than stalling a
// slow consumer.
func (l *Layer) Receive(ctx context.Context, channel string) (layer.Message, error) {
	if l.isClosed() {
		return nil, layer.ErrLayerClosed
	}
	if err := layer.ValidateName(channel); err != nil {
		return nil, err
	}

	s := l.shardFor(channel)
	q := s.ensureReceiveSubscribed(channel)
	return q.pop(ctx)
}

// GroupAdd implements layer.Layer. Group membership is local to this
// process: there is no shared membership set in Redis for pub/sub, only the
// reserved broadcast channel every member-holding process subscribes to.
func (l *Layer) GroupAdd(ctx context.Context, group, channel string) error {
	if l.isClosed() {
		return layer.ErrLayerClosed
	}
	if err := layer.ValidateName(group); err != nil {
		return err
	}
	if err := layer.ValidateName(channel); err != nil {
		return err
	}

	s := l.shardFor(channel)
	s.groupAdd(group, channel)
	return nil
}

// GroupDiscard implements layer.Layer.
func (l *Layer) GroupDiscard(ctx context.Context, group, channel string) error {
	if l.isClosed() {
		return layer.ErrLayerClosed
	}

	s := l.shardFor(channel)
	s.groupDiscard(group, channel)
	return nil
}

// GroupSend implements layer.Layer. The reserved "__group__:<group>"
// channel is published on every shard, since a member's shardLayer may be
// any of them; each shard's dispatch loop fans the decoded message out to
// its own locally tracked members of group.
func (l *Layer) GroupSend(ctx context.Context, group string, m layer.Message) error {
	if l.isClosed() {
		return layer.ErrLayerClosed
	}
	if err := layer.ValidateMessage(m); err != nil {
		return err
	}

	payload, err := l.codec.Encode(map[string]interface{}(m))
	if err != nil {
		return err
	}

	var firstErr error
	for _, s := range l.shards {
		if err := s.publish(s.wireGroupChannel(group), payload); err != nil {
			l.observeBackendError("group_send")
			if firstErr == nil {
				firstErr = err
			}
			l.logEntry(logging.DEBUG, "group_send: publish failed on shard", map[string]interface{}{
				"group": group, "shard": s.idx, "err": err.Error(),
			})
		}
	}
	if firstErr != nil {
		return layer.ErrBackendUnavailable
	}
	return nil
}

func (l *Layer) logEntry(level logging.Level, msg string, fields map[string]interface{}) {
	if l.log == nil {
		return
	}
	l.log.Log(logging.NewEntry(level, msg, fields))
}

// NewChannel implements layer.Layer. Picks a shard round-robin, then
// generates a suffix that hashes back to that same shard, matching
// layerqueue's scheme so ephemeral names route identically regardless of
// which backend is configured.
func (l *Layer) NewChannel(ctx context.Context, prefix string) (string, error) {
	if l.isClosed() {
		return "", layer.ErrLayerClosed
	}
	if prefix == "" {
		prefix = defaultPrefix
	}

	idx := int(atomic.AddUint64(&l.rrCounter, 1)-1) % len(l.shards)
	suffix, err := hashing.SuffixForShard(idx, len(l.shards))
	if err != nil {
		return "", err
	}
	return prefix + ".inmemory" + hashing.EphemeralSeparator + suffix, nil
}

// Close stops every shard's subscriber loop, closes its pool, and unblocks
// any goroutine parked in Receive.
func (l *Layer) Close() error {
	if !atomic.CompareAndSwapInt32(&l.closed, 0, 1) {
		return nil
	}
	var firstErr error
	for _, s := range l.shards {
		if err := s.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

var _ layer.Layer = (*Layer)(nil)
