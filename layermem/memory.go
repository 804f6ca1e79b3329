// Package layermem implements layer.Layer entirely within one process:
// bounded FIFO queues per channel and expiry-tracked group membership, all
// guarded by cooperative per-structure locks. It has no network dependency
// and no durability: everything is lost on process exit.
package layermem

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/xshapira/fast-channels/hashing"
	"github.com/xshapira/fast-channels/layer"
	"github.com/xshapira/fast-channels/logging"
)

const defaultPrefix = "specific"

// Config configures a Layer.
type Config struct {
	// Capacity is the maximum unreceived messages per channel.
	Capacity int
	// Expiry is how long an unreceived message may sit in a channel before
	// it becomes eligible for lazy eviction on the next read.
	Expiry time.Duration
	// GroupExpiry is how long a channel stays a group member without being
	// refreshed by GroupAdd.
	GroupExpiry time.Duration
}

func (c Config) withDefaults() Config {
	if c.Capacity <= 0 {
		c.Capacity = 100
	}
	if c.Expiry <= 0 {
		c.Expiry = 60 * time.Second
	}
	if c.GroupExpiry <= 0 {
		c.GroupExpiry = 86400 * time.Second
	}
	return c
}

// entry is one queued message with its absolute expiry time.
type entry struct {
	expiresAt time.Time
	msg       layer.Message
}

// chanState is the FIFO deque and waiter set for one channel.
type chanState struct {
	mu      sync.Mutex
	queue   *list.List // of entry
	waiters []chan struct{}
}

func newChanState() *chanState {
	return &chanState{queue: list.New()}
}

// wake notifies one waiter, if any, that the queue state changed.
func (c *chanState) wake() {
	if len(c.waiters) == 0 {
		return
	}
	w := c.waiters[0]
	c.waiters = c.waiters[1:]
	close(w)
}

// Layer is the in-process channel layer.
type Layer struct {
	cfg Config
	log *logging.HandlerLogger

	mu       sync.Mutex // guards channels map and groups map
	channels map[string]*chanState
	groups   map[string]map[string]time.Time // group -> channel -> added-at

	closed bool
}

// New creates a ready-to-use in-memory Layer. log may be nil.
func New(cfg Config, log *logging.HandlerLogger) *Layer {
	return &Layer{
		cfg:      cfg.withDefaults(),
		log:      log,
		channels: make(map[string]*chanState),
		groups:   make(map[string]map[string]time.Time),
	}
}

func (l *Layer) logEntry(level logging.Level, msg string, fields map[string]interface{}) {
	if l.log == nil {
		return
	}
	l.log.Log(logging.NewEntry(level, msg, fields))
}

func (l *Layer) getOrCreateChannel(name string) *chanState {
	l.mu.Lock()
	defer l.mu.Unlock()
	cs, ok := l.channels[name]
	if !ok {
		cs = newChanState()
		l.channels[name] = cs
	}
	return cs
}

func (l *Layer) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
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
	return l.enqueue(channel, m)
}

func (l *Layer) enqueue(channel string, m layer.Message) error {
	cs := l.getOrCreateChannel(channel)
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.queue.Len() >= l.cfg.Capacity {
		return layer.ErrChannelFull
	}
	cs.queue.PushBack(entry{expiresAt: time.Now().Add(l.cfg.Expiry), msg: m})
	cs.wake()
	return nil
}

// requeueFront pushes m back onto the head of channel's queue. Used to
// restore FIFO order when a Receive is cancelled after it already dequeued
// a message, so the next receiver still sees it first.
func (l *Layer) requeueFront(channel string, m layer.Message, expiresAt time.Time) {
	cs := l.getOrCreateChannel(channel)
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.queue.PushFront(entry{expiresAt: expiresAt, msg: m})
	cs.wake()
}

// Receive implements layer.Layer.
func (l *Layer) Receive(ctx context.Context, channel string) (layer.Message, error) {
	if l.isClosed() {
		return nil, layer.ErrLayerClosed
	}
	if err := layer.ValidateName(channel); err != nil {
		return nil, err
	}

	cs := l.getOrCreateChannel(channel)
	for {
		if l.isClosed() {
			return nil, layer.ErrLayerClosed
		}
		cs.mu.Lock()
		dropExpired(cs)
		if cs.queue.Len() > 0 {
			front := cs.queue.Remove(cs.queue.Front()).(entry)
			cs.mu.Unlock()

			select {
			case <-ctx.Done():
				// Dequeued but the caller is no longer listening: requeue
				// at head to preserve FIFO for the next receiver.
				l.requeueFront(channel, front.msg, front.expiresAt)
				return nil, ctx.Err()
			default:
			}
			return front.msg, nil
		}

		wait := make(chan struct{})
		cs.waiters = append(cs.waiters, wait)
		cs.mu.Unlock()

		select {
		case <-wait:
			continue
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// dropExpired removes leading entries whose expiry has elapsed. Caller must
// hold cs.mu.
func dropExpired(cs *chanState) {
	now := time.Now()
	for cs.queue.Len() > 0 {
		front := cs.queue.Front().Value.(entry)
		if now.Before(front.expiresAt) {
			return
		}
		cs.queue.Remove(cs.queue.Front())
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

	l.mu.Lock()
	defer l.mu.Unlock()
	members, ok := l.groups[group]
	if !ok {
		members = make(map[string]time.Time)
		l.groups[group] = members
	}
	members[channel] = time.Now()
	return nil
}

// GroupDiscard implements layer.Layer.
func (l *Layer) GroupDiscard(ctx context.Context, group, channel string) error {
	if l.isClosed() {
		return layer.ErrLayerClosed
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	members, ok := l.groups[group]
	if !ok {
		return nil
	}
	delete(members, channel)
	if len(members) == 0 {
		delete(l.groups, group)
	}
	return nil
}

// GroupSend implements layer.Layer. Best-effort: a full member channel is
// logged and skipped, never reported to the caller.
func (l *Layer) GroupSend(ctx context.Context, group string, m layer.Message) error {
	if l.isClosed() {
		return layer.ErrLayerClosed
	}
	if err := layer.ValidateMessage(m); err != nil {
		return err
	}

	l.mu.Lock()
	members := l.groups[group]
	snapshot := make(map[string]time.Time, len(members))
	for ch, addedAt := range members {
		snapshot[ch] = addedAt
	}
	l.mu.Unlock()

	now := time.Now()
	for channel, addedAt := range snapshot {
		if now.Sub(addedAt) >= l.cfg.GroupExpiry {
			continue
		}
		if err := l.enqueue(channel, m); err != nil {
			l.logEntry(logging.DEBUG, "group_send: member channel full, message dropped", map[string]interface{}{
				"group":   group,
				"channel": channel,
			})
		}
	}
	return nil
}

// NewChannel implements layer.Layer.
func (l *Layer) NewChannel(ctx context.Context, prefix string) (string, error) {
	if l.isClosed() {
		return "", layer.ErrLayerClosed
	}
	if prefix == "" {
		prefix = defaultPrefix
	}
	token, err := hashing.RandomToken(12)
	if err != nil {
		return "", err
	}
	return prefix + "." + token, nil
}

// Close implements layer.Layer. There is no background goroutine or
// connection to release; Close only flips the closed flag so subsequent
// operations return ErrLayerClosed and wakes any blocked Receive callers.
func (l *Layer) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	channels := make([]*chanState, 0, len(l.channels))
	for _, cs := range l.channels {
		channels = append(channels, cs)
	}
	l.mu.Unlock()

	for _, cs := range channels {
		cs.mu.Lock()
		for _, w := range cs.waiters {
			close(w)
		}
		cs.waiters = nil
		cs.mu.Unlock()
	}
	return nil
}

var _ layer.Layer = (*Layer)(nil)
