// Package hashing implements the deterministic channel→shard mapping shared
// by the durable-queue and pub/sub backends, plus parsing of the ephemeral
// channel-name suffix that pins a name to a shard.
package hashing

import (
	"crypto/sha256"
	"math/big"
	"strings"
)

// EphemeralSeparator is the sentinel byte that splits an ephemeral channel
// name from its shard-routing suffix: "<prefix>.<random>!<suffix>".
const EphemeralSeparator = "!"

// Suffix returns the shard-routing suffix of an ephemeral channel name and
// true, or "", false if name carries no "!" suffix.
func Suffix(name string) (string, bool) {
	i := strings.IndexByte(name, '!')
	if i < 0 {
		return "", false
	}
	return name[i+1:], true
}

// Shard returns the shard index in [0, n) for routing channel. If name
// contains a "!<suffix>", the suffix alone determines the shard so any
// sender, anywhere, computes the same answer without a lookup. Otherwise
// the whole name is hashed. Panics if n <= 0.
func Shard(name string, n int) int {
	if n <= 0 {
		panic("hashing: n must be positive")
	}
	if n == 1 {
		return 0
	}
	key := name
	if suffix, ok := Suffix(name); ok {
		key = suffix
	}
	return Index(key, n)
}

// Index hashes key to a value in [0, n). The hash is the big-endian
// unsigned integer formed from the first 12 bytes of a SHA-256 digest of
// key, taken mod n. It is deterministic across processes and Go releases:
// it is part of the wire contract for cross-process channel routing, so it
// must never change.
func Index(key string, n int) int {
	if n <= 0 {
		panic("hashing: n must be positive")
	}
	if n == 1 {
		return 0
	}
	sum := sha256.Sum256([]byte(key))
	i := new(big.Int).SetBytes(sum[:12])
	return int(i.Mod(i, big.NewInt(int64(n))).Int64())
}
