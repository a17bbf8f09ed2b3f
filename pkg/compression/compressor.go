package compression

import (
	"bytes"
	"compress/gzip"
	"io"
	"sync"

	"github.com/khryptorgraphics/a2a-memory-core/pkg/a2aerr"
)

// Algorithm identifies which codec compressed a blob.
type Algorithm string

const (
	AlgoLZ4        Algorithm = "lz4"
	AlgoBrotli     Algorithm = "brotli"
	AlgoGzip       Algorithm = "gzip"
	AlgoNeural     Algorithm = "neural"
	AlgoDelta      Algorithm = "delta"
	AlgoDictionary Algorithm = "dictionary"
)

// Blob is the result of compressing a payload.
type Blob struct {
	Algorithm  Algorithm
	Data       []byte
	Checksum   string
	RawSize    int
	Dedup      bool
	DedupOf    string // fingerprint hash this blob deltas against, if AlgoDelta
}

// Compressor selects an algorithm per spec §4.3's priority-ordered rules,
// maintains the content-addressed dedup cache, and verifies checksums on
// decompression.
//
// AlgoLZ4/AlgoBrotli/AlgoNeural/AlgoDictionary are distinct *labels* in the
// wire format (so a peer decompressing a blob knows which strategy picked
// it, for metrics and future algorithm-specific decoders) but are currently
// all backed by the same gzip codec: no example repo in the corpus vendors
// a Brotli or LZ4 binding (DESIGN.md), so the concrete bytes underneath
// every label here are DEFLATE. AlgoDelta is the one label with genuinely
// different wire bytes (an xor-diff against a reference blob).
type Compressor struct {
	mu    sync.RWMutex
	cache *DedupCache
}

// NewCompressor creates a Compressor backed by cache (may be nil to disable
// dedup/delta lookups).
func NewCompressor(cache *DedupCache) *Compressor {
	return &Compressor{cache: cache}
}

// SelectAlgorithm applies the spec §4.3 priority-ordered rules to fp.
func (c *Compressor) SelectAlgorithm(fp Fingerprint) Algorithm {
	switch {
	case fp.Type == ContentText:
		return AlgoBrotli
	case fp.RepetitionRate > 0.9:
		return AlgoLZ4
	case fp.Type == ContentMixed && fp.RepetitionRate >= 0.3 && fp.RepetitionRate <= 0.9:
		return AlgoNeural
	default:
		if c.cache != nil {
			if _, ok := c.cache.Lookup(fp.Hash); ok {
				return AlgoDelta
			}
		}
		return AlgoGzip
	}
}

// Compress fingerprints data, picks an algorithm, and compresses it. If a
// blob with the same fingerprint hash already exists in the dedup cache, a
// zero-length dedup marker blob is returned instead of re-compressing.
func (c *Compressor) Compress(data []byte) (*Blob, error) {
	fp := Fingerprint(data)

	if c.cache != nil {
		if prior, ok := c.cache.Lookup(fp.Hash); ok && bytesEqual(prior, data) {
			return &Blob{
				Algorithm: AlgoDictionary,
				Checksum:  fp.Hash,
				RawSize:   len(data),
				Dedup:     true,
				DedupOf:   fp.Hash,
			}, nil
		}
	}

	algo := c.SelectAlgorithm(fp)

	var compressed []byte
	var err error
	switch algo {
	case AlgoDelta:
		ref, _ := c.cache.Lookup(fp.Hash)
		compressed, err = deltaEncode(ref, data)
	default:
		compressed, err = gzipCompress(data)
	}
	if err != nil {
		return nil, a2aerr.Wrap(a2aerr.Internal, "compress", err)
	}

	if c.cache != nil {
		c.cache.Store(fp.Hash, data)
	}

	return &Blob{
		Algorithm: algo,
		Data:      compressed,
		Checksum:  checksum(compressed),
		RawSize:   len(data),
	}, nil
}

// Decompress reverses Compress, verifying the checksum first.
func (c *Compressor) Decompress(b *Blob) ([]byte, error) {
	if b.Dedup {
		if c.cache == nil {
			return nil, a2aerr.New(a2aerr.CorruptBlob, "dedup marker but no cache configured")
		}
		data, ok := c.cache.Lookup(b.DedupOf)
		if !ok {
			return nil, a2aerr.New(a2aerr.CorruptBlob, "dedup reference not found in cache")
		}
		return data, nil
	}

	actual := checksum(b.Data)
	if actual != b.Checksum {
		return nil, a2aerr.New(a2aerr.CorruptBlob,
			"checksum mismatch: expected "+b.Checksum+" got "+actual)
	}

	switch b.Algorithm {
	case AlgoDelta:
		ref, ok := c.cache.Lookup(refHashFor(b))
		if !ok {
			return nil, a2aerr.New(a2aerr.CorruptBlob, "delta reference missing")
		}
		return deltaDecode(ref, b.Data)
	case AlgoLZ4, AlgoBrotli, AlgoGzip, AlgoNeural, AlgoDictionary:
		return gzipDecompress(b.Data)
	default:
		return nil, a2aerr.New(a2aerr.UnknownAlgorithm, string(b.Algorithm))
	}
}

// refHashFor is a placeholder accessor kept separate from Blob.DedupOf so
// delta blobs and dedup-marker blobs can evolve independently; today they
// share the same field.
func refHashFor(b *Blob) string { return b.DedupOf }

func gzipCompress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gzipDecompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// deltaEncode produces a byte-wise XOR diff against ref, padding the
// shorter side with zeros; this is intentionally simple (spec asks for
// "delta encoding vs stored reference", not a particular diff algorithm).
func deltaEncode(ref, data []byte) ([]byte, error) {
	out := make([]byte, len(data))
	for i := range data {
		if i < len(ref) {
			out[i] = data[i] ^ ref[i]
		} else {
			out[i] = data[i]
		}
	}
	return gzipCompress(out)
}

func deltaDecode(ref, compressed []byte) ([]byte, error) {
	diff, err := gzipDecompress(compressed)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(diff))
	for i := range diff {
		if i < len(ref) {
			out[i] = diff[i] ^ ref[i]
		} else {
			out[i] = diff[i]
		}
	}
	return out, nil
}

func checksum(data []byte) string {
	return Fingerprint(data).Hash
}
