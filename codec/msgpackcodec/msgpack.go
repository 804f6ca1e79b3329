// Package msgpackcodec is the default layer.Codec: a schemaless binary
// codec tolerating primitives, lists, maps and byte strings, backed by
// vmihailenco/msgpack/v5.
package msgpackcodec

import "github.com/vmihailenco/msgpack/v5"

// Codec implements layer.Codec with MessagePack. The zero value is ready
// to use.
type Codec struct{}

// New returns a ready-to-use Codec.
func New() Codec { return Codec{} }

// Encode marshals v to MessagePack bytes.
func (Codec) Encode(v interface{}) ([]byte, error) {
	return msgpack.Marshal(v)
}

// Decode unmarshals MessagePack bytes into v. v must be a pointer.
func (Codec) Decode(data []byte, v interface{}) error {
	return msgpack.Unmarshal(data, v)
}
