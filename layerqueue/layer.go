// Package layerqueue implements the durable, sharded channel layer: channels
// are lists on a Redis/Valkey-compatible store, group membership is a sorted
// set, and group_send fans out via a server-side script per shard.
package layerqueue

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xshapira/fast-channels/config"
	"github.com/xshapira/fast-channels/hashing"
	"github.com/xshapira/fast-channels/layer"
	"github.com/xshapira/fast-channels/logging"
	"github.com/xshapira/fast-channels/metrics"
)

const defaultPrefix = "specific"

const messageIDSize = 12

// Layer is the durable, sharded channel layer.
type Layer struct {
	cfg    *config.QueueConfig
	codec  layer.Codec
	log    *logging.HandlerLogger
	metric *metrics.Set

	shards []*shard

	rrCounter uint64
	closed    int32
}

// New builds a Layer from cfg, one shard per configured host. codec encodes
// and decodes message payloads; log and metric may be nil.
func New(cfg *config.QueueConfig, codec layer.Codec, log *logging.HandlerLogger, metric *metrics.Set) (*Layer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	shards := make([]*shard, 0, len(cfg.Hosts))
	for _, ep := range cfg.Hosts {
		shards = append(shards, newShard(ep, cfg))
	}

	return &Layer{
		cfg:    cfg,
		codec:  codec,
		log:    log,
		metric: metric,
		shards: shards,
	}, nil
}

func (l *Layer) logEntry(level logging.Level, msg string, fields map[string]interface{}) {
	if l.log == nil {
		return
	}
	l.log.Log(logging.NewEntry(level, msg, fields))
}

func (l *Layer) isClosed() bool {
	return atomic.LoadInt32(&l.closed) == 1
}

func (l *Layer) shardFor(channel string) *shard {
	return l.shards[hashing.Shard(channel, len(l.shards))]
}

func (l *Layer) observeBackendError(op string) {
	if l.metric != nil {
		l.metric.BackendErrors.WithLabelValues("queue", op).Inc()
	}
}

// encodeMessage prepends a random message-id to the codec-encoded payload.
// The id is only ever used to size-check the stored payload; it carries no
// meaning of its own.
func (l *Layer) encodeMessage(m layer.Message) ([]byte, error) {
	id, err := hashing.RandomBytes(messageIDSize)
	if err != nil {
		return nil, err
	}
	body, err := l.codec.Encode(map[string]interface{}(m))
	if err != nil {
		return nil, err
	}
	return append(id, body...), nil
}

// decodeMessage strips the message-id prefix and decodes the remainder.
func (l *Layer) decodeMessage(payload []byte) (layer.Message, error) {
	if len(payload) < messageIDSize {
		return nil, layer.ErrInvalidMessage
	}
	var m map[string]interface{}
	if err := l.codec.Decode(payload[messageIDSize:], &m); err != nil {
		return nil, err
	}
	return layer.Message(m), nil
}

// Send implements layer.Layer.
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

	payload, err := l.encodeMessage(m)
	if err != nil {
		return err
	}

	s := l.shardFor(channel)
	ok, err := s.send(channel, payload, l.cfg.Capacity, l.cfg.Expiry)
	if err != nil {
		l.observeBackendError("send")
		return layer.ErrBackendUnavailable
	}
	if !ok {
		if l.metric != nil {
			l.metric.ChannelFull.WithLabelValues("queue").Inc()
		}
		return layer.ErrChannelFull
	}
	return nil
}

// Receive implements layer.Layer. BLPOP has no native cancellation, so the
// call loops with a bounded per-attempt timeout and checks ctx between
// attempts, keeping the overall call cancellable.
func (l *Layer) Receive(ctx context.Context, channel string) (layer.Message, error) {
	if l.isClosed() {
		return nil, layer.ErrLayerClosed
	}
	if err := layer.ValidateName(channel); err != nil {
		return nil, err
	}

	s := l.shardFor(channel)
	const pollTimeout = 2 * time.Second

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		payload, err := s.blpop(channel, pollTimeout)
		if err != nil {
			l.observeBackendError("receive")
			return nil, layer.ErrBackendUnavailable
		}
		if payload == nil {
			continue
		}
		return l.decodeMessage(payload)
	}
}

// GroupAdd implements layer.Layer.
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

	s := l.shardFor(group)
	if err := s.groupAdd(group, channel, l.cfg.GroupExpiry); err != nil {
		l.observeBackendError("group_add")
		return layer.ErrBackendUnavailable
	}
	return nil
}

// GroupDiscard implements layer.Layer.
func (l *Layer) GroupDiscard(ctx context.Context, group, channel string) error {
	if l.isClosed() {
		return layer.ErrLayerClosed
	}

	s := l.shardFor(group)
	if err := s.groupDiscard(group, channel); err != nil {
		l.observeBackendError("group_discard")
		return layer.ErrBackendUnavailable
	}
	return nil
}

// GroupSend implements layer.Layer. The group's membership set lives on one
// shard (hashed from the group name); its members may each live on any
// shard. Members are partitioned by their own shard and one script
// invocation per affected shard runs in parallel via errgroup, with results
// aggregated afterward.
func (l *Layer) GroupSend(ctx context.Context, group string, m layer.Message) error {
	if l.isClosed() {
		return layer.ErrLayerClosed
	}
	if err := layer.ValidateMessage(m); err != nil {
		return err
	}

	home := l.shardFor(group)
	members, err := home.liveMembers(group, l.cfg.GroupExpiry)
	if err != nil {
		l.observeBackendError("group_send")
		return layer.ErrBackendUnavailable
	}
	if len(members) == 0 {
		return nil
	}

	payload, err := l.encodeMessage(m)
	if err != nil {
		return err
	}

	byShard := make(map[int][]string)
	for _, member := range members {
		idx := hashing.Shard(member, len(l.shards))
		byShard[idx] = append(byShard[idx], member)
	}

	g, _ := errgroup.WithContext(ctx)
	for idx, memberList := range byShard {
		idx, memberList := idx, memberList
		g.Go(func() error {
			s := l.shards[idx]
			successes, failures, err := s.groupPush(memberList, payload, l.cfg.Capacity, l.cfg.Expiry)
			if err != nil {
				return err
			}
			if failures > 0 {
				if l.metric != nil {
					l.metric.ChannelFull.WithLabelValues("queue").Add(float64(failures))
				}
				l.logEntry(logging.DEBUG, "group_send: members skipped at capacity", map[string]interface{}{
					"group":     group,
					"shard":     idx,
					"successes": successes,
					"failures":  failures,
				})
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		l.observeBackendError("group_send")
		return layer.ErrBackendUnavailable
	}
	return nil
}

// NewChannel implements layer.Layer. Picks a shard round-robin, then
// generates a suffix that hashes back to that same shard.
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

// Close releases every shard's connection pool.
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
