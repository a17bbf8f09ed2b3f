// Package compression implements the memory compressor (spec §4.3, C3):
// fingerprint-driven algorithm selection, content-addressed deduplication,
// and delta encoding against a previously seen blob of the same
// fingerprint.
//
// Grounded on pkg/models/bandwidth_manager.go's allocation-tracking shape
// (injected logger, mutex-guarded maps, a background sweep) and
// pkg/models/optimization_strategies.go's "measure the payload, then pick a
// strategy" dispatch idiom.
package compression

import (
	"bytes"
	"math"
	"unicode/utf8"

	"golang.org/x/crypto/blake2b"
)

// ContentType classifies the shape of a blob for algorithm selection.
type ContentType string

const (
	ContentText    ContentType = "text"
	ContentBinary  ContentType = "binary"
	ContentMixed   ContentType = "mixed"
	ContentNumeric ContentType = "numeric"
)

// Fingerprint summarizes a blob's measurable properties (spec §4.3).
type Fingerprint struct {
	Hash           string
	Size           int
	Type           ContentType
	Entropy        float64
	RepetitionRate float64
	TextRatio      float64
	BinaryRatio    float64
}

// Fingerprint computes the fingerprint of data.
func Fingerprint(data []byte) Fingerprint {
	hash := blake2bHash(data)
	textRatio := textRatio(data)
	binaryRatio := 1 - textRatio
	entropy := shannonEntropy(data)
	repetition := repetitionRate(data)

	var kind ContentType
	switch {
	case textRatio > 0.95:
		kind = ContentText
	case binaryRatio > 0.95:
		kind = ContentBinary
	case isMostlyNumeric(data):
		kind = ContentNumeric
	default:
		kind = ContentMixed
	}

	return Fingerprint{
		Hash:           hash,
		Size:           len(data),
		Type:           kind,
		Entropy:        entropy,
		RepetitionRate: repetition,
		TextRatio:      textRatio,
		BinaryRatio:    binaryRatio,
	}
}

func blake2bHash(data []byte) string {
	sum := blake2b.Sum256(data)
	const hex = "0123456789abcdef"
	out := make([]byte, len(sum)*2)
	for i, b := range sum {
		out[i*2] = hex[b>>4]
		out[i*2+1] = hex[b&0x0f]
	}
	return string(out)
}

func textRatio(data []byte) float64 {
	if len(data) == 0 {
		return 1
	}
	total := utf8.RuneCount(data)
	if total == 0 {
		total = 1
	}
	printable := 0
	for rest := data; len(rest) > 0; {
		r, size := utf8.DecodeRune(rest)
		if r == utf8.RuneError && size == 1 {
			rest = rest[1:]
			continue
		}
		if r == '\n' || r == '\t' || r == '\r' || (r >= 0x20 && r < 0x7f) || r > 0x7f {
			printable++
		}
		rest = rest[size:]
	}
	return float64(printable) / float64(total)
}

func isMostlyNumeric(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	digits := 0
	for _, b := range data {
		if b >= '0' && b <= '9' || b == '.' || b == '-' || b == ',' || b == ' ' || b == '\n' {
			digits++
		}
	}
	return float64(digits)/float64(len(data)) > 0.8
}

func shannonEntropy(data []byte) float64 {
	if len(data) == 0 {
		return 0
	}
	var counts [256]int
	for _, b := range data {
		counts[b]++
	}
	var entropy float64
	n := float64(len(data))
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / n
		entropy -= p * math.Log2(p)
	}
	return entropy
}

// repetitionRate estimates redundancy via a cheap sliding-window repeat
// count rather than a full compression-ratio probe (keeps fingerprinting
// itself O(n) and allocation-free beyond the window map).
func repetitionRate(data []byte) float64 {
	const window = 8
	if len(data) < window*2 {
		return 0
	}
	seen := make(map[string]int)
	total := 0
	repeats := 0
	for i := 0; i+window <= len(data); i += window {
		chunk := string(data[i : i+window])
		seen[chunk]++
		total++
		if seen[chunk] > 1 {
			repeats++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(repeats) / float64(total)
}

// bytesEqual is used by the dedup cache to double check a hash match before
// trusting it (defends against an (unlikely) hash collision silently
// corrupting data).
func bytesEqual(a, b []byte) bool { return bytes.Equal(a, b) }
