package msgpackcodec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xshapira/fast-channels/layer"
)

func TestRoundTrip(t *testing.T) {
	c := New()
	cases := []layer.Message{
		{"type": "chat.message", "text": "hi", "n": 42},
		{"type": "chat.message", "nested": map[string]interface{}{"a": []interface{}{int8(1), int8(2), int8(3)}}},
		{"type": "chat.ping"},
	}
	for _, m := range cases {
		data, err := c.Encode(m)
		require.NoError(t, err)

		var got layer.Message
		require.NoError(t, c.Decode(data, &got))
		assert.Equal(t, m.Type(), got.Type())
	}
}

func TestDecodeIntoConcreteType(t *testing.T) {
	c := New()
	type payload struct {
		Type string `msgpack:"type"`
		N    int    `msgpack:"n"`
	}
	data, err := c.Encode(payload{Type: "chat.message", N: 7})
	require.NoError(t, err)

	var got payload
	require.NoError(t, c.Decode(data, &got))
	assert.Equal(t, "chat.message", got.Type)
	assert.Equal(t, 7, got.N)
}
