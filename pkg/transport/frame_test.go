package transport

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("hello gossip")
	require.NoError(t, writeFrame(&buf, FlagCompressed, payload))

	flags, got, err := readFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, FlagCompressed, flags)
	assert.Equal(t, payload, got)
}

func TestReadFrameRejectsBadMagic(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{'X', 'X', 'X', 'X', frameVersion, 0, 0, 0, 0, 0})
	_, _, err := readFrame(&buf)
	assert.Error(t, err)
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	header := make([]byte, 10)
	copy(header[0:4], frameMagic[:])
	header[4] = frameVersion
	header[6] = 0xFF // absurd length, well past maxFrameLen
	buf.Write(header)
	_, _, err := readFrame(&buf)
	assert.Error(t, err)
}
