package layerpubsub

import (
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/FZambia/sentinel"
	"github.com/gomodule/redigo/redis"

	"github.com/xshapira/fast-channels/config"
	"github.com/xshapira/fast-channels/layer"
	"github.com/xshapira/fast-channels/logging"
	"github.com/xshapira/fast-channels/metrics"
)

// groupChannelPrefix names the reserved pub/sub channel a shardLayer
// subscribes to the first time any local channel joins a group.
const groupChannelPrefix = "__group__:"

const (
	backoffBase = 100 * time.Millisecond
	backoffCap  = 10 * time.Second
)

// subRequest is an internal request to subscribe or unsubscribe one wire
// channel name, handed off to the writer goroutine and acknowledged via
// done.
type subRequest struct {
	wireName  string
	subscribe bool
	done      chan error
}

// shardLayer owns one backend host: a publisher pool, a long-lived
// subscriber connection, and the local channel/group bookkeeping that
// connection's incoming messages fan out to.
type shardLayer struct {
	idx    int
	ep     config.ShardEndpoint
	cfg    *config.PubSubConfig
	codec  layer.Codec
	pool   *redis.Pool
	sntnl  *sentinel.Sentinel
	log    *logging.HandlerLogger
	metric *metrics.Set

	mu            sync.Mutex
	localChannels map[string]*localQueue
	localGroups   map[string]map[string]struct{} // group -> set of local channel names
	refcount      map[string]int                 // wire name -> subscription reasons
	recvSub       map[string]bool                 // channel -> "someone called Receive" already counted
	groupSub      map[string]bool                 // group -> reserved channel already counted

	subCh  chan subRequest
	stopCh chan struct{}
	wg     sync.WaitGroup
}

func newShardLayer(idx int, ep config.ShardEndpoint, cfg *config.PubSubConfig, codec layer.Codec, log *logging.HandlerLogger, metric *metrics.Set) *shardLayer {
	pool, sntnl := newPool(ep, cfg.ConnectTimeout, cfg.ReadTimeout, cfg.WriteTimeout)
	s := &shardLayer{
		idx:           idx,
		ep:            ep,
		cfg:           cfg,
		codec:         codec,
		pool:          pool,
		sntnl:         sntnl,
		log:           log,
		metric:        metric,
		localChannels: make(map[string]*localQueue),
		localGroups:   make(map[string]map[string]struct{}),
		refcount:      make(map[string]int),
		recvSub:       make(map[string]bool),
		groupSub:      make(map[string]bool),
		subCh:         make(chan subRequest, 256),
		stopCh:        make(chan struct{}),
	}
	if sntnl != nil {
		go discoverLoop(sntnl, s.stopCh)
	}
	s.wg.Add(1)
	go s.run()
	return s
}

func (s *shardLayer) wireChannel(name string) string {
	return s.cfg.Prefix + ":" + name
}

func (s *shardLayer) wireGroupChannel(group string) string {
	return s.cfg.Prefix + ":" + groupChannelPrefix + group
}

func (s *shardLayer) logEntry(level logging.Level, msg string, fields map[string]interface{}) {
	if s.log == nil {
		return
	}
	s.log.Log(logging.NewEntry(level, msg, fields))
}

// run owns the subscriber connection for the lifetime of the shard,
// reconnecting with exponential backoff and jitter on failure, and
// resubscribing the full known set in one batch on every reconnect.
func (s *shardLayer) run() {
	defer s.wg.Done()

	backoff := backoffBase
	for attempt := 0; ; attempt++ {
		select {
		case <-s.stopCh:
			return
		default:
		}

		if err := s.runOnce(); err != nil {
			if s.metric != nil {
				s.metric.Reconnects.WithLabelValues(strconv.Itoa(s.idx)).Inc()
			}
			s.logEntry(logging.ERROR, "pubsub shard connection lost", map[string]interface{}{
				"shard": s.idx, "err": err.Error(),
			})
			if s.cfg.OnDisconnect != nil {
				s.cfg.OnDisconnect(s.idx, err)
			}
		}

		select {
		case <-s.stopCh:
			return
		default:
		}

		sleep := backoff + time.Duration(rand.Int63n(int64(backoff)/2+1))
		select {
		case <-time.After(sleep):
		case <-s.stopCh:
			return
		}
		backoff *= 2
		if backoff > backoffCap {
			backoff = backoffCap
		}
	}
}

// runOnce owns one subscriber connection until it errors or stopCh closes.
func (s *shardLayer) runOnce() error {
	conn := s.pool.Get()
	if err := conn.Err(); err != nil {
		conn.Close()
		return err
	}
	psc := redis.PubSubConn{Conn: conn}
	defer psc.Close()

	if err := s.resubscribeAll(&psc); err != nil {
		return err
	}

	writerDone := make(chan struct{})
	go s.writer(&psc, writerDone)
	defer func() {
		close(writerDone)
	}()

	if s.cfg.OnReconnect != nil {
		s.cfg.OnReconnect(s.idx)
	}

	for {
		switch v := psc.Receive().(type) {
		case redis.Message:
			s.dispatch(v.Channel, v.Data)
		case redis.Subscription:
			// No action needed; subscribe/unsubscribe acks are tracked by
			// the writer goroutine via subRequest.done.
		case error:
			return v
		}

		select {
		case <-s.stopCh:
			return nil
		default:
		}
	}
}

// writer is the only goroutine that calls Subscribe/Unsubscribe on the
// shared PubSubConn: redigo requires all writes to a connection come from
// one goroutine, so the owning goroutine stays blocked in psc.Receive()
// while this one issues commands.
func (s *shardLayer) writer(psc *redis.PubSubConn, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case req := <-s.subCh:
			var err error
			if req.subscribe {
				err = psc.Subscribe(req.wireName)
			} else {
				err = psc.Unsubscribe(req.wireName)
			}
			if req.done != nil {
				req.done <- err
			}
		}
	}
}

// resubscribeAll re-issues Subscribe for every currently tracked wire name,
// in one batch, as required after a reconnect.
func (s *shardLayer) resubscribeAll(psc *redis.PubSubConn) error {
	s.mu.Lock()
	names := make([]interface{}, 0, len(s.refcount))
	for name := range s.refcount {
		names = append(names, name)
	}
	s.mu.Unlock()

	if len(names) == 0 {
		return nil
	}
	return psc.Subscribe(names...)
}

// dispatch routes one incoming pub/sub message to the local channel queue
// it targets, or fans it out to a group's local members if it arrived on a
// reserved group channel.
func (s *shardLayer) dispatch(wireChannel string, data []byte) {
	if len(data) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var m map[string]interface{}
	if err := s.codec.Decode(data, &m); err != nil {
		s.logEntry(logging.DEBUG, "pubsub: dropped undecodable message", map[string]interface{}{
			"channel": wireChannel, "err": err.Error(),
		})
		return
	}
	msg := layer.Message(m)

	prefix := s.cfg.Prefix + ":" + groupChannelPrefix
	if strings.HasPrefix(wireChannel, prefix) {
		group := strings.TrimPrefix(wireChannel, prefix)
		for member := range s.localGroups[group] {
			if q, ok := s.localChannels[member]; ok {
				q.push(msg)
			}
		}
		return
	}

	channel := strings.TrimPrefix(wireChannel, s.cfg.Prefix+":")
	if q, ok := s.localChannels[channel]; ok {
		q.push(msg)
	}
}

func (s *shardLayer) incrRefLocked(wireName string) {
	s.refcount[wireName]++
	if s.refcount[wireName] == 1 {
		done := make(chan error, 1)
		s.subCh <- subRequest{wireName: wireName, subscribe: true, done: done}
		go func() { <-done }()
	}
}

func (s *shardLayer) decrRefLocked(wireName string) {
	s.refcount[wireName]--
	if s.refcount[wireName] <= 0 {
		delete(s.refcount, wireName)
		done := make(chan error, 1)
		s.subCh <- subRequest{wireName: wireName, subscribe: false, done: done}
		go func() { <-done }()
	}
}

// ensureReceiveSubscribed guarantees a local queue exists for channel and
// that the shard is subscribed to it, the first time Receive is ever called
// for that channel; subsequent calls are free.
func (s *shardLayer) ensureReceiveSubscribed(channel string) *localQueue {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.localChannels[channel]
	if !ok {
		q = newLocalQueue(s.cfg.Capacity, func() {
			if s.metric != nil {
				s.metric.Overflow.WithLabelValues(channel).Inc()
			}
		})
		s.localChannels[channel] = q
	}
	if !s.recvSub[channel] {
		s.recvSub[channel] = true
		s.incrRefLocked(s.wireChannel(channel))
	}
	return q
}

// hasLocalChannel reports whether channel already has a local queue (the
// fast local-delivery path for Send).
func (s *shardLayer) hasLocalChannel(channel string) (*localQueue, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.localChannels[channel]
	return q, ok
}

// groupAdd records channel as a local member of group and, the first time
// this shard sees any member of group, subscribes its reserved
// "__group__:<group>" channel so group_send fan-out (published to that
// channel on every shard) reaches this process. Group membership itself is
// consumer-instance-local: there is no cross-process membership set to
// maintain, so no separate subscription to the member's own channel is
// needed here.
func (s *shardLayer) groupAdd(group, channel string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	members, ok := s.localGroups[group]
	if !ok {
		members = make(map[string]struct{})
		s.localGroups[group] = members
	}
	members[channel] = struct{}{}

	if !s.groupSub[group] {
		s.groupSub[group] = true
		s.incrRefLocked(s.wireGroupChannel(group))
	}
}

func (s *shardLayer) groupDiscard(group, channel string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	members, ok := s.localGroups[group]
	if !ok {
		return
	}
	if _, present := members[channel]; !present {
		return
	}
	delete(members, channel)

	if len(members) == 0 {
		delete(s.localGroups, group)
		if s.groupSub[group] {
			delete(s.groupSub, group)
			s.decrRefLocked(s.wireGroupChannel(group))
		}
	}
}

func (s *shardLayer) publish(wireName string, payload []byte) error {
	conn := s.pool.Get()
	defer conn.Close()
	_, err := conn.Do("PUBLISH", wireName, payload)
	return err
}

func (s *shardLayer) close() error {
	close(s.stopCh)
	s.wg.Wait()

	s.mu.Lock()
	queues := make([]*localQueue, 0, len(s.localChannels))
	for _, q := range s.localChannels {
		queues = append(queues, q)
	}
	s.mu.Unlock()
	for _, q := range queues {
		q.close()
	}
	return s.pool.Close()
}
