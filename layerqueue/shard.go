package layerqueue

import (
	"fmt"
	"time"

	"github.com/FZambia/sentinel"
	"github.com/gomodule/redigo/redis"

	"github.com/xshapira/fast-channels/config"
)

// Scripts registered per shard: each does one round trip, atomic
// check-then-mutate.
var (
	// sendSource pushes a message if the channel list is below capacity.
	// KEYS[1] - channel list key
	// ARGV[1] - capacity
	// ARGV[2] - payload (message-id-prefixed, codec-encoded)
	// ARGV[3] - expiry seconds
	// returns 1 on success, 0 if the channel was full.
	sendSource = `
local len = redis.call("LLEN", KEYS[1])
if len >= tonumber(ARGV[1]) then
  return 0
end
redis.call("RPUSH", KEYS[1], ARGV[2])
redis.call("EXPIRE", KEYS[1], ARGV[3])
return 1
`

	// groupPushSource fans a single payload out to every channel key passed
	// in KEYS, skipping (not aborting on) any that are already at capacity.
	// KEYS[1..n] - destination channel list keys, already filtered by the
	//              caller to members whose shard is this shard
	// ARGV[1] - capacity
	// ARGV[2] - payload
	// ARGV[3] - expiry seconds
	// returns {successes, failures}
	groupPushSource = `
local successes = 0
local failures = 0
for i = 1, #KEYS do
  local len = redis.call("LLEN", KEYS[i])
  if len >= tonumber(ARGV[1]) then
    failures = failures + 1
  else
    redis.call("RPUSH", KEYS[i], ARGV[2])
    redis.call("EXPIRE", KEYS[i], ARGV[3])
    successes = successes + 1
  end
end
return {successes, failures}
`
)

// shard owns one Redis/Valkey connection pool and the scripts registered
// against it.
type shard struct {
	pool       *redis.Pool
	sntnl      *sentinel.Sentinel
	stop       chan struct{}
	prefix     string
	sendScript *redis.Script
}

func newShard(ep config.ShardEndpoint, cfg *config.QueueConfig) *shard {
	pool, sntnl := newPool(ep, cfg.ConnectTimeout, cfg.ReadTimeout, cfg.WriteTimeout)
	s := &shard{
		pool:       pool,
		sntnl:      sntnl,
		stop:       make(chan struct{}),
		prefix:     cfg.Prefix,
		sendScript: redis.NewScript(1, sendSource),
	}
	if sntnl != nil {
		go discoverLoop(sntnl, s.stop)
	}
	return s
}

func (s *shard) close() error {
	close(s.stop)
	return s.pool.Close()
}

func (s *shard) channelKey(name string) string {
	return s.prefix + ":ch:" + name
}

func (s *shard) groupKey(name string) string {
	return s.prefix + ":grp:" + name
}

// send runs the atomic check-capacity-then-push script. Returns false if the
// channel was at capacity.
func (s *shard) send(channel string, payload []byte, capacity int, expiry time.Duration) (bool, error) {
	conn := s.pool.Get()
	defer conn.Close()

	ok, err := redis.Int(s.sendScript.Do(conn, s.channelKey(channel), capacity, payload, int(expiry.Seconds())))
	if err != nil {
		return false, fmt.Errorf("layerqueue: send script: %w", err)
	}
	return ok == 1, nil
}

// blpop blocks for up to timeout for a message on channel, returning
// (nil, nil) on timeout. The timeout is truncated to whole seconds, and
// anything below one second is raised to one second.
func (s *shard) blpop(channel string, timeout time.Duration) ([]byte, error) {
	conn := s.pool.Get()
	defer conn.Close()

	seconds := int(timeout.Seconds())
	if seconds < 1 {
		seconds = 1
	}
	reply, err := redis.ByteSlices(conn.Do("BLPOP", s.channelKey(channel), seconds))
	if err == redis.ErrNil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("layerqueue: blpop: %w", err)
	}
	if len(reply) < 2 {
		return nil, nil
	}
	return reply[1], nil
}

// groupAdd records channel as a live member of group.
func (s *shard) groupAdd(group, channel string, groupExpiry time.Duration) error {
	conn := s.pool.Get()
	defer conn.Close()

	now := time.Now().Unix()
	key := s.groupKey(group)
	if _, err := conn.Do("ZADD", key, now, channel); err != nil {
		return fmt.Errorf("layerqueue: group_add zadd: %w", err)
	}
	if _, err := conn.Do("EXPIRE", key, int(groupExpiry.Seconds())); err != nil {
		return fmt.Errorf("layerqueue: group_add expire: %w", err)
	}
	return nil
}

// groupDiscard removes channel from group.
func (s *shard) groupDiscard(group, channel string) error {
	conn := s.pool.Get()
	defer conn.Close()

	if _, err := conn.Do("ZREM", s.groupKey(group), channel); err != nil {
		return fmt.Errorf("layerqueue: group_discard zrem: %w", err)
	}
	return nil
}

// liveMembers returns the channels in group whose added-at score is newer
// than now-groupExpiry.
func (s *shard) liveMembers(group string, groupExpiry time.Duration) ([]string, error) {
	conn := s.pool.Get()
	defer conn.Close()

	min := time.Now().Add(-groupExpiry).Unix()
	members, err := redis.Strings(conn.Do("ZRANGEBYSCORE", s.groupKey(group), min, "+inf"))
	if err != nil {
		return nil, fmt.Errorf("layerqueue: group_send zrangebyscore: %w", err)
	}
	return members, nil
}

// groupPush runs the atomic per-shard fan-out script against the channels in
// members (already filtered to this shard by the caller). Returns
// (successes, failures).
//
// The script takes a variable number of KEYS (one per member), which
// redis.Script cannot express since its key count is fixed at construction;
// EVAL is issued directly instead, with numkeys computed per call.
func (s *shard) groupPush(members []string, payload []byte, capacity int, expiry time.Duration) (int, int, error) {
	if len(members) == 0 {
		return 0, 0, nil
	}

	conn := s.pool.Get()
	defer conn.Close()

	args := make([]interface{}, 0, len(members)+4)
	args = append(args, groupPushSource, len(members))
	for _, m := range members {
		args = append(args, s.channelKey(m))
	}
	args = append(args, capacity, payload, int(expiry.Seconds()))

	reply, err := redis.Values(conn.Do("EVAL", args...))
	if err != nil {
		return 0, 0, fmt.Errorf("layerqueue: group_send script: %w", err)
	}
	var successes, failures int
	if _, err := redis.Scan(reply, &successes, &failures); err != nil {
		return 0, 0, fmt.Errorf("layerqueue: group_send scan reply: %w", err)
	}
	return successes, failures, nil
}
