package vclock

import (
	"encoding/binary"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/khryptorgraphics/a2a-memory-core/pkg/a2aerr"
)

func unixNano(n uint64) time.Time {
	return time.Unix(0, int64(n))
}

// EncodeText renders c in the compact text form "id1:c1;id2:c2", with
// entries sorted by agent id for deterministic output.
func (c *Clock) EncodeText() string {
	snap := c.Snapshot()
	ids := make([]string, 0, len(snap))
	for id := range snap {
		ids = append(ids, string(id))
	}
	sort.Strings(ids)

	var b strings.Builder
	for i, id := range ids {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteString(id)
		b.WriteByte(':')
		b.WriteString(strconv.FormatUint(snap[AgentID(id)], 10))
	}
	return b.String()
}

// DecodeText parses the compact text form into a new Clock owned by owner.
func DecodeText(owner AgentID, s string) (*Clock, error) {
	c := New(owner)
	if s == "" {
		return c, nil
	}
	for _, part := range strings.Split(s, ";") {
		if part == "" {
			continue
		}
		idx := strings.LastIndexByte(part, ':')
		if idx < 0 {
			return nil, a2aerr.New(a2aerr.MalformedClock, "missing ':' in entry %q")
		}
		id := part[:idx]
		counterStr := part[idx+1:]
		v, err := strconv.ParseUint(counterStr, 10, 64)
		if err != nil {
			return nil, a2aerr.Wrap(a2aerr.MalformedClock, "invalid counter in entry", err)
		}
		c.Update(AgentID(id), v)
	}
	return c, nil
}

// EncodeBinary renders c in a self-describing length-prefixed binary form:
//
//	magic(2B "VC") | version(1B=1) | ownerLen(2B) | owner | clockVersion(8B) | entryCount(4B)
//	then, per entry: idLen(2B) | id | counter(8B) | lastSeenUnixNano(8B)
//
// clockVersion is Clock.version itself, distinct from the 1-byte wire
// format version preceding it; it must round-trip independently of any
// per-entry counter since it advances on every Increment/Update/Merge
// regardless of which entry changed.
func (c *Clock) EncodeBinary() []byte {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := make([]string, 0, len(c.entries))
	for id := range c.entries {
		ids = append(ids, string(id))
	}
	sort.Strings(ids)

	size := 2 + 1 + 2 + len(c.owner) + 8 + 4
	for _, id := range ids {
		size += 2 + len(id) + 8 + 8
	}
	buf := make([]byte, size)
	off := 0

	buf[off], buf[off+1] = 'V', 'C'
	off += 2
	buf[off] = 1
	off++
	binary.BigEndian.PutUint16(buf[off:], uint16(len(c.owner)))
	off += 2
	off += copy(buf[off:], c.owner)
	binary.BigEndian.PutUint64(buf[off:], c.version)
	off += 8
	binary.BigEndian.PutUint32(buf[off:], uint32(len(ids)))
	off += 4

	for _, id := range ids {
		e := c.entries[AgentID(id)]
		binary.BigEndian.PutUint16(buf[off:], uint16(len(id)))
		off += 2
		off += copy(buf[off:], id)
		binary.BigEndian.PutUint64(buf[off:], e.counter)
		off += 8
		binary.BigEndian.PutUint64(buf[off:], uint64(e.lastSeen.UnixNano()))
		off += 8
	}
	return buf
}

// DecodeBinary parses the binary form produced by EncodeBinary. Partial or
// malformed input is rejected atomically (no Clock is returned on error).
func DecodeBinary(data []byte) (*Clock, error) {
	const headerLen = 2 + 1 + 2
	if len(data) < headerLen {
		return nil, a2aerr.New(a2aerr.MalformedClock, "truncated header")
	}
	if data[0] != 'V' || data[1] != 'C' {
		return nil, a2aerr.New(a2aerr.MalformedClock, "bad magic")
	}
	if data[2] != 1 {
		return nil, a2aerr.New(a2aerr.MalformedClock, "unsupported version")
	}
	off := 3
	ownerLen := int(binary.BigEndian.Uint16(data[off:]))
	off += 2
	if len(data) < off+ownerLen+8+4 {
		return nil, a2aerr.New(a2aerr.MalformedClock, "truncated owner")
	}
	owner := AgentID(data[off : off+ownerLen])
	off += ownerLen
	clockVersion := binary.BigEndian.Uint64(data[off:])
	off += 8
	count := int(binary.BigEndian.Uint32(data[off:]))
	off += 4

	c := &Clock{owner: owner, entries: make(map[AgentID]*entry, count), version: clockVersion}
	for i := 0; i < count; i++ {
		if len(data) < off+2 {
			return nil, a2aerr.New(a2aerr.MalformedClock, "truncated entry id length")
		}
		idLen := int(binary.BigEndian.Uint16(data[off:]))
		off += 2
		if len(data) < off+idLen+16 {
			return nil, a2aerr.New(a2aerr.MalformedClock, "truncated entry body")
		}
		id := AgentID(data[off : off+idLen])
		off += idLen
		counter := binary.BigEndian.Uint64(data[off:])
		off += 8
		nanos := binary.BigEndian.Uint64(data[off:])
		off += 8
		c.entries[id] = &entry{counter: counter, lastSeen: unixNano(nanos)}
	}
	if _, ok := c.entries[owner]; !ok {
		c.entries[owner] = &entry{}
	}
	return c, nil
}
