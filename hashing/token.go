package hashing

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// RandomToken returns n random bytes hex-encoded, suitable for ephemeral
// channel names and queue message ids.
func RandomToken(n int) (string, error) {
	buf, err := RandomBytes(n)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// RandomBytes returns n raw random bytes, suitable for the queue backend's
// wire message-id prefix.
func RandomBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("hashing: random bytes: %w", err)
	}
	return buf, nil
}

// maxSuffixAttemptsPerShard bounds the expected-O(n) rejection loop in
// SuffixForShard to 10x the shard count before giving up.
const maxSuffixAttemptsPerShard = 10

// SuffixForShard generates a random 12-byte hex suffix whose Index(suffix,
// shardCount) equals shard. Used by QueueLayer.NewChannel and
// PubSubLayer.NewChannel so the caller can pin an ephemeral name to a
// specific shard (typically its own). Expected number of attempts with a
// uniform hash equals shardCount; attempts are capped at
// maxSuffixAttemptsPerShard*shardCount before giving up.
func SuffixForShard(shard, shardCount int) (string, error) {
	if shardCount <= 1 {
		return RandomToken(12)
	}
	maxAttempts := maxSuffixAttemptsPerShard * shardCount
	for i := 0; i < maxAttempts; i++ {
		suffix, err := RandomToken(12)
		if err != nil {
			return "", err
		}
		if Index(suffix, shardCount) == shard {
			return suffix, nil
		}
	}
	return "", fmt.Errorf("hashing: could not generate suffix for shard %d of %d after %d attempts", shard, shardCount, maxAttempts)
}
