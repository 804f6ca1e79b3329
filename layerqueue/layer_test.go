package layerqueue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xshapira/fast-channels/codec/msgpackcodec"
	"github.com/xshapira/fast-channels/config"
	"github.com/xshapira/fast-channels/hashing"
	"github.com/xshapira/fast-channels/layer"
)

func testConfig(hostCount int) *config.QueueConfig {
	hosts := make([]config.ShardEndpoint, hostCount)
	for i := range hosts {
		hosts[i] = config.ShardEndpoint{Host: "localhost", Port: "6379", DB: i}
	}
	return &config.QueueConfig{
		Hosts:          hosts,
		Prefix:         "fctest",
		Capacity:       10,
		Expiry:         time.Minute,
		GroupExpiry:    time.Hour,
		ConnectTimeout: time.Second,
		ReadTimeout:    time.Second,
		WriteTimeout:   time.Second,
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	_, err := New(&config.QueueConfig{}, msgpackcodec.New(), nil, nil)
	assert.Error(t, err)
}

func TestShardForIsDeterministic(t *testing.T) {
	l, err := New(testConfig(4), msgpackcodec.New(), nil, nil)
	require.NoError(t, err)
	defer l.Close()

	s1 := l.shardFor("room.1")
	s2 := l.shardFor("room.1")
	assert.Same(t, s1, s2)
}

func TestShardForMatchesHashingShard(t *testing.T) {
	l, err := New(testConfig(5), msgpackcodec.New(), nil, nil)
	require.NoError(t, err)
	defer l.Close()

	for _, name := range []string{"room.1", "specific.abcdef!shardkeyhex01", "room.2"} {
		got := l.shards[hashing.Shard(name, 5)]
		assert.Same(t, got, l.shardFor(name))
	}
}

func TestEncodeDecodeMessageRoundTrip(t *testing.T) {
	l, err := New(testConfig(1), msgpackcodec.New(), nil, nil)
	require.NoError(t, err)
	defer l.Close()

	m := layer.Message{"type": "chat.message", "text": "hello"}
	payload, err := l.encodeMessage(m)
	require.NoError(t, err)
	assert.Len(t, payload[:messageIDSize], messageIDSize)

	got, err := l.decodeMessage(payload)
	require.NoError(t, err)
	assert.Equal(t, "chat.message", got.Type())
	assert.Equal(t, "hello", got["text"])
}

func TestDecodeMessageRejectsShortPayload(t *testing.T) {
	l, err := New(testConfig(1), msgpackcodec.New(), nil, nil)
	require.NoError(t, err)
	defer l.Close()

	_, err = l.decodeMessage([]byte{1, 2, 3})
	assert.ErrorIs(t, err, layer.ErrInvalidMessage)
}

func TestSendValidatesBeforeTouchingBackend(t *testing.T) {
	l, err := New(testConfig(1), msgpackcodec.New(), nil, nil)
	require.NoError(t, err)
	defer l.Close()

	err = l.Send(context.Background(), "bad channel name with spaces!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!", layer.Message{"type": "chat.a"})
	assert.ErrorIs(t, err, layer.ErrInvalidChannelName)
}

func TestNewChannelSuffixHashesToPickedShard(t *testing.T) {
	l, err := New(testConfig(3), msgpackcodec.New(), nil, nil)
	require.NoError(t, err)
	defer l.Close()

	for i := 0; i < 6; i++ {
		name, err := l.NewChannel(context.Background(), "specific")
		require.NoError(t, err)

		_, ok := hashing.Suffix(name)
		require.True(t, ok)
		assert.Equal(t, i%3, hashing.Shard(name, 3))
	}
}

func TestOperationsRejectedAfterClose(t *testing.T) {
	l, err := New(testConfig(1), msgpackcodec.New(), nil, nil)
	require.NoError(t, err)
	require.NoError(t, l.Close())

	assert.ErrorIs(t, l.Send(context.Background(), "room.1", layer.Message{"type": "chat.a"}), layer.ErrLayerClosed)
	_, err = l.Receive(context.Background(), "room.1")
	assert.ErrorIs(t, err, layer.ErrLayerClosed)
	assert.ErrorIs(t, l.GroupAdd(context.Background(), "g", "room.1"), layer.ErrLayerClosed)
	assert.ErrorIs(t, l.GroupDiscard(context.Background(), "g", "room.1"), layer.ErrLayerClosed)
	assert.ErrorIs(t, l.GroupSend(context.Background(), "g", layer.Message{"type": "chat.a"}), layer.ErrLayerClosed)
	_, err = l.NewChannel(context.Background(), "")
	assert.ErrorIs(t, err, layer.ErrLayerClosed)
}

func TestCloseIsIdempotent(t *testing.T) {
	l, err := New(testConfig(2), msgpackcodec.New(), nil, nil)
	require.NoError(t, err)
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())
}
