package demux

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func box(typ string, payload []byte) []byte {
	b := make([]byte, 8, 8+len(payload))
	binary.BigEndian.PutUint32(b, uint32(8+len(payload)))
	copy(b[4:], typ)
	return append(b, payload...)
}

func largeBox(typ string, payload []byte) []byte {
	b := make([]byte, 16, 16+len(payload))
	binary.BigEndian.PutUint32(b, 1)
	copy(b[4:], typ)
	binary.BigEndian.PutUint64(b[8:], uint64(16+len(payload)))
	return append(b, payload...)
}

func collect(t *testing.T, parse parseFunc, r io.Reader) []Chunk {
	t.Helper()
	var chunks []Chunk
	require.NoError(t, parse(r, func(c Chunk) { chunks = append(chunks, c) }))
	return chunks
}

// oneByteReader returns data a byte at a time to exercise reassembly.
type oneByteReader struct{ r io.Reader }

func (o oneByteReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	return o.r.Read(p[:1])
}

func TestParseMP4(t *testing.T) {
	var stream bytes.Buffer
	stream.Write(box("ftyp", []byte("isom")))
	stream.Write(box("moov", []byte("movie")))
	stream.Write(box("moof", []byte("frag1")))
	stream.Write(largeBox("mdat", []byte("data1")))
	stream.Write(box("moof", []byte("frag2")))
	stream.Write(box("mdat", []byte("data2")))

	chunks := collect(t, parseMP4, oneByteReader{bytes.NewReader(stream.Bytes())})
	require.Len(t, chunks, 5)

	assert.Equal(t, ChunkInit, chunks[0].Type)
	assert.Equal(t, append(box("ftyp", []byte("isom")), box("moov", []byte("movie"))...), bytes.Join(chunks[0].Data, nil))

	assert.Equal(t, ChunkMoof, chunks[1].Type)
	assert.Equal(t, ChunkMdat, chunks[2].Type)
	assert.Equal(t, largeBox("mdat", []byte("data1")), bytes.Join(chunks[2].Data, nil))
	assert.Equal(t, 16+5, chunks[2].Len())
	assert.Equal(t, ChunkMoof, chunks[3].Type)
	assert.Equal(t, ChunkMdat, chunks[4].Type)
}

func TestParseMP4_Errors(t *testing.T) {
	t.Run("invalid size", func(t *testing.T) {
		b := box("moof", nil)
		binary.BigEndian.PutUint32(b, 4)
		err := parseMP4(bytes.NewReader(b), func(Chunk) {})
		assert.Error(t, err)
	})

	t.Run("too large", func(t *testing.T) {
		b := box("mdat", nil)
		binary.BigEndian.PutUint32(b, maxBoxSize+1)
		err := parseMP4(bytes.NewReader(b), func(Chunk) {})
		assert.ErrorIs(t, err, ErrBoxTooLarge)
	})

	t.Run("truncated is clean eof", func(t *testing.T) {
		b := box("moof", []byte("abcdef"))
		chunks := collect(t, parseMP4, bytes.NewReader(b[:10]))
		assert.Empty(t, chunks)
	})
}

func tsPacket(pid byte) []byte {
	p := make([]byte, tsPacketSize)
	p[0] = tsSyncByte
	p[2] = pid
	return p
}

func TestParseMPEGTS(t *testing.T) {
	var stream bytes.Buffer
	for i := 0; i < 5; i++ {
		stream.Write(tsPacket(byte(i)))
	}

	chunks := collect(t, parseMPEGTS, oneByteReader{bytes.NewReader(stream.Bytes())})
	var joined []byte
	for _, c := range chunks {
		assert.Equal(t, ChunkTS, c.Type)
		assert.Zero(t, c.Len()%tsPacketSize)
		joined = append(joined, bytes.Join(c.Data, nil)...)
	}
	assert.Equal(t, stream.Bytes(), joined)
}

func TestSplitTSPackets_Resync(t *testing.T) {
	var buf []byte
	buf = append(buf, 0x00, 0x12, 0x47, 0x99) // garbage, including a false sync byte
	buf = append(buf, tsPacket(1)...)
	buf = append(buf, tsPacket(2)...)
	buf = append(buf, tsPacket(3)[:100]...)

	packets, rest := splitTSPackets(buf)
	require.Len(t, packets, 2*tsPacketSize)
	assert.Equal(t, byte(1), packets[2])
	assert.Equal(t, byte(2), packets[tsPacketSize+2])
	assert.Len(t, rest, 100)
	assert.Equal(t, byte(tsSyncByte), rest[0])
}

func TestParsePCM_SampleAligned(t *testing.T) {
	data := []byte{1, 2, 3, 4, 5, 6, 7}
	chunks := collect(t, parsePCM, oneByteReader{bytes.NewReader(data)})

	var joined []byte
	for _, c := range chunks {
		assert.Equal(t, ChunkPCM, c.Type)
		assert.Zero(t, c.Len()%2)
		joined = append(joined, c.Data[0]...)
	}
	assert.Equal(t, data[:6], joined)
}

func TestParserFor(t *testing.T) {
	var stream bytes.Buffer
	stream.Write(box("moof", nil))
	chunks := collect(t, parserFor(ContainerMP4), &stream)
	require.Len(t, chunks, 1)
	assert.Equal(t, ChunkMoof, chunks[0].Type)
}
