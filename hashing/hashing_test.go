package hashing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShardDeterministicAcrossCalls(t *testing.T) {
	name := "chat.room!abcd1234ef00"
	n := 5
	want := Shard(name, n)
	for i := 0; i < 100; i++ {
		assert.Equal(t, want, Shard(name, n))
	}
}

func TestShardUsesSuffixWhenPresent(t *testing.T) {
	suffix := "deadbeefcafe"
	name1 := "specific.aaaaaaaaaaaa!" + suffix
	name2 := "specific.bbbbbbbbbbbb!" + suffix
	assert.Equal(t, Shard(name1, 7), Shard(name2, 7))
}

func TestShardSingleShardAlwaysZero(t *testing.T) {
	assert.Equal(t, 0, Shard("anything!suffix", 1))
	assert.Equal(t, 0, Shard("anything", 1))
}

func TestSuffixParsing(t *testing.T) {
	suffix, ok := Suffix("eph.rand!shardkey")
	require.True(t, ok)
	assert.Equal(t, "shardkey", suffix)

	_, ok = Suffix("named-channel")
	assert.False(t, ok)
}

func TestSuffixForShardRoutesCorrectly(t *testing.T) {
	const shardCount = 4
	for shard := 0; shard < shardCount; shard++ {
		suffix, err := SuffixForShard(shard, shardCount)
		require.NoError(t, err)
		assert.Equal(t, shard, Index(suffix, shardCount))
	}
}

func TestRandomTokenUnique(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		tok, err := RandomToken(12)
		require.NoError(t, err)
		_, dup := seen[tok]
		assert.False(t, dup)
		seen[tok] = struct{}{}
	}
}
