// Package layer defines the channel-layer contract shared by every backend:
// in-memory, durable queue and pub/sub. Consumers of a Layer never see which
// backend they are talking to.
package layer

import "context"

// Message is a string-keyed mapping dispatched on a channel. The "type" key
// is mandatory and is validated against TypePattern before Send/GroupSend
// accept it.
type Message map[string]interface{}

// Type returns the message's "type" field, or "" if missing or not a string.
func (m Message) Type() string {
	t, _ := m["type"].(string)
	return t
}

// Layer is the capability every backend implements. All operations are
// suspension points (they may block on I/O or on a local queue) and must be
// safe for concurrent use from multiple goroutines.
type Layer interface {
	// Send enqueues message m on channel. Fails with ErrChannelFull,
	// ErrInvalidChannelName, ErrInvalidMessage, ErrLayerClosed or
	// ErrBackendUnavailable.
	Send(ctx context.Context, channel string, m Message) error

	// Receive blocks until a message is available on channel, ctx is
	// cancelled, or the layer is closed.
	Receive(ctx context.Context, channel string) (Message, error)

	// GroupAdd adds channel to group, refreshing its membership if already
	// present.
	GroupAdd(ctx context.Context, group, channel string) error

	// GroupDiscard removes channel from group. A no-op if not a member.
	GroupDiscard(ctx context.Context, group, channel string) error

	// GroupSend delivers m to every live member of group on a best-effort
	// basis: per-member failures are swallowed, never returned.
	GroupSend(ctx context.Context, group string, m Message) error

	// NewChannel returns a fresh ephemeral channel name, prefixed with
	// prefix (default "specific" if empty).
	NewChannel(ctx context.Context, prefix string) (string, error)

	// Close releases all resources held by the layer. Subsequent calls to
	// any other method return ErrLayerClosed.
	Close() error
}

// Codec turns messages into bytes and back. The zero value of any
// implementation must be safe for concurrent use.
type Codec interface {
	Encode(v interface{}) ([]byte, error)
	Decode(data []byte, v interface{}) error
}
