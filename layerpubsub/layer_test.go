package layerpubsub

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

func testConfig(hostCount int) *config.PubSubConfig {
	hosts := make([]config.ShardEndpoint, hostCount)
	for i := range hosts {
		hosts[i] = config.ShardEndpoint{Host: "localhost", Port: "6379", DB: i}
	}
	return &config.PubSubConfig{
		Hosts:          hosts,
		Prefix:         "fctest",
		Capacity:       10,
		ConnectTimeout: time.Second,
		ReadTimeout:    time.Second,
		WriteTimeout:   time.Second,
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	_, err := New(&config.PubSubConfig{}, msgpackcodec.New(), nil, nil)
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

// TestSendDeliversToLocalReceiver exercises the fast local-delivery path:
// once Receive has been called for a channel on this process, Send must
// not need a live backend to reach it.
func TestSendDeliversToLocalReceiver(t *testing.T) {
	l, err := New(testConfig(1), msgpackcodec.New(), nil, nil)
	require.NoError(t, err)
	defer l.Close()

	s := l.shardFor("room.1")
	s.ensureReceiveSubscribed("room.1")

	require.NoError(t, l.Send(context.Background(), "room.1", layer.Message{"type": "chat.a", "text": "hi"}))

	q, ok := s.hasLocalChannel("room.1")
	require.True(t, ok)
	m, err := q.pop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "hi", m["text"])
}

func TestSendValidatesBeforeTouchingBackend(t *testing.T) {
	l, err := New(testConfig(1), msgpackcodec.New(), nil, nil)
	require.NoError(t, err)
	defer l.Close()

	err = l.Send(context.Background(), "bad channel name with spaces!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!", layer.Message{"type": "chat.a"})
	assert.ErrorIs(t, err, layer.ErrInvalidChannelName)
}

func TestGroupAddTracksLocalMembership(t *testing.T) {
	l, err := New(testConfig(2), msgpackcodec.New(), nil, nil)
	require.NoError(t, err)
	defer l.Close()

	require.NoError(t, l.GroupAdd(context.Background(), "room-1", "specific.aaa!x"))
	s := l.shardFor("specific.aaa!x")
	_, subscribed := s.localGroups["room-1"]["specific.aaa!x"]
	assert.True(t, subscribed)

	require.NoError(t, l.GroupDiscard(context.Background(), "room-1", "specific.aaa!x"))
	_, stillThere := s.localGroups["room-1"]
	assert.False(t, stillThere)
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

func TestCloseUnblocksPendingReceive(t *testing.T) {
	l, err := New(testConfig(1), msgpackcodec.New(), nil, nil)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := l.Receive(context.Background(), "room.1")
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, l.Close())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, layer.ErrLayerClosed)
	case <-time.After(time.Second):
		t.Fatal("receive did not unblock after close")
	}
}
