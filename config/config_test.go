package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMemoryConfigDefaults(t *testing.T) {
	c, err := LoadMemoryConfig()
	require.NoError(t, err)
	assert.Equal(t, 100, c.Capacity)
}

func TestMemoryConfigValidateRejectsZeroCapacity(t *testing.T) {
	c := &MemoryConfig{Capacity: 0, Expiry: 1, GroupExpiry: 1}
	assert.Error(t, c.Validate())
}

func TestQueueConfigRequiresHosts(t *testing.T) {
	c := &QueueConfig{Capacity: 10, Expiry: 1, GroupExpiry: 1}
	assert.Error(t, c.Validate())
}

func TestQueueConfigValidatesHosts(t *testing.T) {
	c, err := LoadQueueConfig([]ShardEndpoint{{Host: "localhost", Port: "6379"}})
	require.NoError(t, err)
	assert.NoError(t, c.Validate())
}

func TestShardEndpointRequiresHostOrSentinel(t *testing.T) {
	assert.Error(t, ShardEndpoint{}.Validate())
	assert.NoError(t, ShardEndpoint{Host: "h", Port: "6379"}.Validate())
	assert.NoError(t, ShardEndpoint{SentinelAddrs: []string{"s:26379"}, MasterName: "mymaster"}.Validate())
}
