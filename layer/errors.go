package layer

import "errors"

// Sentinel errors returned by Layer implementations. Match with errors.Is.
var (
	// ErrChannelFull is returned by Send when the channel's bounded queue
	// is already at capacity. The caller may retry or give up.
	ErrChannelFull = errors.New("fast-channels: channel full")

	// ErrInvalidChannelName is returned when a channel or group name fails
	// NamePattern. Never retry.
	ErrInvalidChannelName = errors.New("fast-channels: invalid channel name")

	// ErrInvalidMessage is returned when a message's "type" field is
	// missing or fails TypePattern. Never retry.
	ErrInvalidMessage = errors.New("fast-channels: invalid message")

	// ErrLayerClosed is returned by any operation issued after Close.
	// Terminal.
	ErrLayerClosed = errors.New("fast-channels: layer closed")

	// ErrBackendUnavailable is returned by Send/Receive/GroupAdd/
	// GroupDiscard/GroupSend when a backend round trip failed (network or
	// store failure). The layer never retries internally.
	ErrBackendUnavailable = errors.New("fast-channels: backend unavailable")
)
