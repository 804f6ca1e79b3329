// Package config holds environment-driven configuration for every layer
// backend, following the parse-then-validate shape used throughout the
// corpus (see adred-codev-ws_poc/ws/config.go).
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// MemoryConfig configures layermem.Layer.
type MemoryConfig struct {
	// Capacity is the maximum unreceived messages per channel.
	Capacity int `env:"FASTCHANNELS_MEMORY_CAPACITY" envDefault:"100"`
	// Expiry is how long an unreceived message may sit in a channel before
	// it becomes eligible for lazy eviction.
	Expiry time.Duration `env:"FASTCHANNELS_MEMORY_EXPIRY" envDefault:"60s"`
	// GroupExpiry is how long a group membership survives without being
	// refreshed by GroupAdd.
	GroupExpiry time.Duration `env:"FASTCHANNELS_MEMORY_GROUP_EXPIRY" envDefault:"86400s"`
}

// Validate checks MemoryConfig for internal consistency.
func (c *MemoryConfig) Validate() error {
	if c.Capacity < 1 {
		return fmt.Errorf("config: memory capacity must be > 0, got %d", c.Capacity)
	}
	if c.Expiry <= 0 {
		return fmt.Errorf("config: memory expiry must be > 0, got %s", c.Expiry)
	}
	if c.GroupExpiry <= 0 {
		return fmt.Errorf("config: memory group_expiry must be > 0, got %s", c.GroupExpiry)
	}
	return nil
}

// ShardEndpoint identifies one backend host, either directly or via
// Sentinel discovery of a named primary.
type ShardEndpoint struct {
	// Host/Port dial a Redis/Valkey instance directly.
	Host string
	Port string
	// SentinelAddrs/MasterName, if set, discover the primary via Sentinel
	// instead of dialing Host/Port directly.
	SentinelAddrs []string
	MasterName    string
	Password      string
	DB            int
	PoolSize      int
}

// useSentinel reports whether e should be reached via Sentinel discovery.
func (e ShardEndpoint) useSentinel() bool {
	return e.MasterName != "" && len(e.SentinelAddrs) > 0
}

// Validate checks a single endpoint for internal consistency.
func (e ShardEndpoint) Validate() error {
	if e.useSentinel() {
		return nil
	}
	if e.Host == "" || e.Port == "" {
		return fmt.Errorf("config: endpoint needs Host+Port or SentinelAddrs+MasterName")
	}
	return nil
}

// QueueConfig configures layerqueue.Layer.
type QueueConfig struct {
	Hosts []ShardEndpoint

	// Prefix namespaces every key this layer touches on the store.
	Prefix string `env:"FASTCHANNELS_QUEUE_PREFIX" envDefault:"fastchannels"`
	// Capacity is the maximum unreceived messages per channel list.
	Capacity int `env:"FASTCHANNELS_QUEUE_CAPACITY" envDefault:"100"`
	// Expiry is the TTL applied to a channel's list after each push.
	Expiry time.Duration `env:"FASTCHANNELS_QUEUE_EXPIRY" envDefault:"60s"`
	// GroupExpiry is the TTL applied to a group's sorted set, and the
	// membership staleness window used by GroupSend.
	GroupExpiry time.Duration `env:"FASTCHANNELS_QUEUE_GROUP_EXPIRY" envDefault:"86400s"`
	// ConnectTimeout/ReadTimeout/WriteTimeout bound the pool's dial and
	// per-command deadlines.
	ConnectTimeout time.Duration `env:"FASTCHANNELS_QUEUE_CONNECT_TIMEOUT" envDefault:"1s"`
	ReadTimeout    time.Duration `env:"FASTCHANNELS_QUEUE_READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout   time.Duration `env:"FASTCHANNELS_QUEUE_WRITE_TIMEOUT" envDefault:"5s"`
}

// Validate checks QueueConfig for internal consistency.
func (c *QueueConfig) Validate() error {
	if len(c.Hosts) == 0 {
		return fmt.Errorf("config: queue layer needs at least one host")
	}
	for i, h := range c.Hosts {
		if err := h.Validate(); err != nil {
			return fmt.Errorf("config: queue host %d: %w", i, err)
		}
	}
	if c.Capacity < 1 {
		return fmt.Errorf("config: queue capacity must be > 0, got %d", c.Capacity)
	}
	if c.Expiry <= 0 {
		return fmt.Errorf("config: queue expiry must be > 0, got %s", c.Expiry)
	}
	if c.GroupExpiry <= 0 {
		return fmt.Errorf("config: queue group_expiry must be > 0, got %s", c.GroupExpiry)
	}
	return nil
}

// PubSubConfig configures layerpubsub.Layer.
type PubSubConfig struct {
	Hosts []ShardEndpoint

	Prefix         string        `env:"FASTCHANNELS_PUBSUB_PREFIX" envDefault:"fastchannels"`
	Capacity       int           `env:"FASTCHANNELS_PUBSUB_CAPACITY" envDefault:"100"`
	ConnectTimeout time.Duration `env:"FASTCHANNELS_PUBSUB_CONNECT_TIMEOUT" envDefault:"1s"`
	ReadTimeout    time.Duration `env:"FASTCHANNELS_PUBSUB_READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout   time.Duration `env:"FASTCHANNELS_PUBSUB_WRITE_TIMEOUT" envDefault:"5s"`

	// OnDisconnect, if set, is called every time a shard's subscriber
	// connection is lost. OnReconnect, if set, is called after that shard's
	// subscriptions have been fully re-established. Neither has an env
	// representation; set them on the struct after Load.
	OnDisconnect func(shard int, err error) `env:"-"`
	OnReconnect  func(shard int)             `env:"-"`
}

// Validate checks PubSubConfig for internal consistency.
func (c *PubSubConfig) Validate() error {
	if len(c.Hosts) == 0 {
		return fmt.Errorf("config: pubsub layer needs at least one host")
	}
	for i, h := range c.Hosts {
		if err := h.Validate(); err != nil {
			return fmt.Errorf("config: pubsub host %d: %w", i, err)
		}
	}
	if c.Capacity < 1 {
		return fmt.Errorf("config: pubsub capacity must be > 0, got %d", c.Capacity)
	}
	return nil
}

// LoadMemoryConfig parses a MemoryConfig from the environment and validates
// it.
func LoadMemoryConfig() (*MemoryConfig, error) {
	c := &MemoryConfig{}
	if err := env.Parse(c); err != nil {
		return nil, fmt.Errorf("config: parse memory config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadQueueConfig parses the scalar fields of a QueueConfig (prefix,
// capacity, expiries, timeouts) from the environment and validates the
// result. Hosts has no meaningful env representation (it is a list of
// dial/sentinel endpoints), so the caller supplies it as hosts.
func LoadQueueConfig(hosts []ShardEndpoint) (*QueueConfig, error) {
	c := &QueueConfig{Hosts: hosts}
	if err := env.Parse(c); err != nil {
		return nil, fmt.Errorf("config: parse queue config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadPubSubConfig parses the scalar fields of a PubSubConfig from the
// environment. See LoadQueueConfig for why Hosts is supplied by the caller.
func LoadPubSubConfig(hosts []ShardEndpoint) (*PubSubConfig, error) {
	c := &PubSubConfig{Hosts: hosts}
	if err := env.Parse(c); err != nil {
		return nil, fmt.Errorf("config: parse pubsub config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}
