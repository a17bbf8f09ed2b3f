package transport

import (
	"encoding/binary"
	"io"

	"github.com/khryptorgraphics/a2a-memory-core/pkg/a2aerr"
)

// frameMagic identifies this transport's wire framing (spec §6 "Frame
// format: magic(4B)|version(1B)|flags(1B)|len(4B)|payload").
var frameMagic = [4]byte{'A', '2', 'A', 'M'}

const frameVersion = 1

// Flag bits carried in the frame header.
const (
	FlagNone       byte = 0
	FlagCompressed byte = 1 << 0
)

const maxFrameLen = 32 << 20 // 32 MiB, generous upper bound against malformed/hostile length fields

// writeFrame writes one length-prefixed frame to w.
func writeFrame(w io.Writer, flags byte, payload []byte) error {
	header := make([]byte, 10)
	copy(header[0:4], frameMagic[:])
	header[4] = frameVersion
	header[5] = flags
	binary.BigEndian.PutUint32(header[6:10], uint32(len(payload)))

	if _, err := w.Write(header); err != nil {
		return a2aerr.Wrap(a2aerr.TransportError, "write frame header", err)
	}
	if _, err := w.Write(payload); err != nil {
		return a2aerr.Wrap(a2aerr.TransportError, "write frame payload", err)
	}
	return nil
}

// readFrame reads one length-prefixed frame from r.
func readFrame(r io.Reader) (flags byte, payload []byte, err error) {
	header := make([]byte, 10)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, nil, a2aerr.Wrap(a2aerr.TransportError, "read frame header", err)
	}
	if header[0] != frameMagic[0] || header[1] != frameMagic[1] || header[2] != frameMagic[2] || header[3] != frameMagic[3] {
		return 0, nil, a2aerr.New(a2aerr.TransportError, "bad frame magic")
	}
	if header[4] != frameVersion {
		return 0, nil, a2aerr.New(a2aerr.TransportError, "unsupported frame version")
	}
	flags = header[5]
	n := binary.BigEndian.Uint32(header[6:10])
	if n > maxFrameLen {
		return 0, nil, a2aerr.New(a2aerr.TransportError, "frame exceeds maximum size")
	}
	payload = make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, a2aerr.Wrap(a2aerr.TransportError, "read frame payload", err)
	}
	return flags, payload, nil
}
