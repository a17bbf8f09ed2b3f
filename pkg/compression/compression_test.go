package compression

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprintClassifiesText(t *testing.T) {
	fp := Fingerprint([]byte(strings.Repeat("the quick brown fox jumps over ", 20)))
	assert.Equal(t, ContentText, fp.Type)
	assert.Greater(t, fp.TextRatio, 0.95)
	assert.LessOrEqual(t, fp.TextRatio, 1.0)
}

func TestFingerprintClassifiesBinary(t *testing.T) {
	data := make([]byte, 256)
	for i := range data {
		data[i] = byte(i)
	}
	fp := Fingerprint(data)
	assert.Equal(t, ContentBinary, fp.Type)
}

func TestFingerprintHighRepetition(t *testing.T) {
	fp := Fingerprint(bytes.Repeat([]byte("abcdefgh"), 50))
	assert.Greater(t, fp.RepetitionRate, 0.9)
}

func TestSelectAlgorithmPriorityOrder(t *testing.T) {
	c := NewCompressor(nil)

	text := Fingerprint([]byte(strings.Repeat("hello world ", 30)))
	assert.Equal(t, AlgoBrotli, c.SelectAlgorithm(text))

	repeated := Fingerprint(bytes.Repeat([]byte{0xAB, 0xCD, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06}, 40))
	assert.Equal(t, AlgoLZ4, c.SelectAlgorithm(repeated))

	fallback := Fingerprint([]byte{0x00, 0x01, 0x02, 0x03})
	assert.Equal(t, AlgoGzip, c.SelectAlgorithm(fallback))
}

// TestCompressDecompressRoundTrip is the universal property from spec §8:
// decompress(compress(x)) == x for every algorithm path.
func TestCompressDecompressRoundTrip(t *testing.T) {
	cache := NewDedupCache(nil, 0)
	c := NewCompressor(cache)

	payloads := [][]byte{
		[]byte(strings.Repeat("structured memory content for agent coordination ", 15)),
		bytes.Repeat([]byte("ZZZZZZZZ"), 60),
		{0x00, 0xFF, 0x10, 0x20, 0x30, 0x40, 0x50, 0x60, 0x70},
		[]byte("short"),
	}

	for _, p := range payloads {
		blob, err := c.Compress(p)
		require.NoError(t, err)
		out, err := c.Decompress(blob)
		require.NoError(t, err)
		assert.Equal(t, p, out)
	}
}

func TestCompressDedupOnSecondIdenticalBlob(t *testing.T) {
	cache := NewDedupCache(nil, 0)
	c := NewCompressor(cache)
	data := []byte(strings.Repeat("duplicate payload content ", 10))

	first, err := c.Compress(data)
	require.NoError(t, err)
	assert.False(t, first.Dedup)

	second, err := c.Compress(data)
	require.NoError(t, err)
	assert.True(t, second.Dedup)

	out, err := c.Decompress(second)
	require.NoError(t, err)
	assert.Equal(t, data, out)
}

func TestDecompressRejectsCorruptBlob(t *testing.T) {
	c := NewCompressor(NewDedupCache(nil, 0))
	blob, err := c.Compress([]byte("integrity check payload"))
	require.NoError(t, err)

	blob.Data[0] ^= 0xFF // flip the first byte's bits to corrupt without changing length

	_, err = c.Decompress(blob)
	require.Error(t, err)
}

func TestDecompressUnknownAlgorithm(t *testing.T) {
	c := NewCompressor(nil)
	blob := &Blob{Algorithm: "quantum", Data: []byte("x")}
	blob.Checksum = checksum(blob.Data)
	_, err := c.Decompress(blob)
	require.Error(t, err)
}

func TestDedupCacheStoreLookupEvict(t *testing.T) {
	cache := NewDedupCache(nil, 0)
	cache.Store("h1", []byte("payload"))

	data, ok := cache.Lookup("h1")
	require.True(t, ok)
	assert.Equal(t, []byte("payload"), data)

	cache.Evict("h1")
	_, ok = cache.Lookup("h1")
	assert.False(t, ok)
}
