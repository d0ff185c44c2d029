package gingersnap

import (
	"encoding/hex"
	"hash/crc32"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

// streamIDHex is the full stream identifier frame, header included.
const streamIDHex = "ff060000734e61507059"

// chunkSource is a ChunkReader yielding a fixed sequence of buffers.  When
// the sequence is exhausted it returns err if set, io.EOF otherwise.
type chunkSource struct {
	chunks [][]byte
	err    error
}

func (s *chunkSource) ReadChunk() ([]byte, error) {
	if len(s.chunks) == 0 {
		if s.err != nil {
			return nil, s.err
		}
		return nil, io.EOF
	}
	p := s.chunks[0]
	s.chunks = s.chunks[1:]
	return p, nil
}

func unhex(t testing.TB, s string) []byte {
	t.Helper()
	p, err := hex.DecodeString(s)
	require.NoError(t, err)
	return p
}

// splitBytes splits p into chunks of at most n bytes.
func splitBytes(p []byte, n int) [][]byte {
	var chunks [][]byte
	for len(p) > n {
		chunks = append(chunks, p[:n])
		p = p[n:]
	}
	return append(chunks, p)
}

// collect drains src, returning every chunk and requiring a clean io.EOF.
func collect(t testing.TB, src ChunkReader) [][]byte {
	t.Helper()
	var chunks [][]byte
	for {
		p, err := src.ReadChunk()
		if err == io.EOF {
			return chunks
		}
		require.NoError(t, err)
		chunks = append(chunks, append([]byte(nil), p...))
	}
}

// concat flattens chunks into one slice.
func concat(chunks [][]byte) []byte {
	var out []byte
	for _, p := range chunks {
		out = append(out, p...)
	}
	return out
}

func TestMaskChecksum(t *testing.T) {
	// expected values taken from the framing format's example streams.
	for _, tt := range []struct {
		data   string
		masked uint32
	}{
		{"hello", 0x191c1fbb},
		{"999999999999999999999999", 0x63257759},
		{string(make([]byte, 32)), 0x0fd7fffa},
	} {
		c := maskChecksum(crc32.Checksum([]byte(tt.data), crcTable))
		require.Equal(t, tt.masked, c, "masked crc of %q", tt.data)
	}
}

func TestDecodeLength(t *testing.T) {
	require.Equal(t, uint32(6), decodeLength([]byte{0x06, 0x00, 0x00}))
	require.Equal(t, uint32(0x123456), decodeLength([]byte{0x56, 0x34, 0x12}))
	require.Equal(t, uint32(1<<24-1), decodeLength([]byte{0xff, 0xff, 0xff}))
}

func TestPutHeader(t *testing.T) {
	hdr := make([]byte, 8)
	putHeader(hdr, blockUncompressed, 9, 0x191c1fbb)
	require.Equal(t, unhex(t, "01090000bb1f1c19"), hdr)
}

func TestStreamID(t *testing.T) {
	require.Equal(t, unhex(t, streamIDHex), streamID)
	require.Equal(t, []byte("sNaPpY"), streamID[4:])
}

func TestChunksAdapter(t *testing.T) {
	src := Chunks(iotest(t))
	var out []byte
	for {
		p, err := src.ReadChunk()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		out = append(out, p...)
	}
	require.Equal(t, []byte("abcdef"), out)

	// the error is sticky once returned.
	_, err := src.ReadChunk()
	require.Equal(t, io.EOF, err)
}

// iotest returns a reader producing "abcdef" across several short reads.
func iotest(t *testing.T) io.Reader {
	t.Helper()
	return io.MultiReader(
		bytesReader("ab"),
		bytesReader(""),
		bytesReader("cdef"),
	)
}

func bytesReader(s string) io.Reader {
	return &oneByteReader{p: []byte(s)}
}

// oneByteReader yields its content a single byte per Read.
type oneByteReader struct {
	p []byte
}

func (r *oneByteReader) Read(b []byte) (int, error) {
	if len(r.p) == 0 {
		return 0, io.EOF
	}
	if len(b) == 0 {
		return 0, nil
	}
	b[0] = r.p[0]
	r.p = r.p[1:]
	return 1, nil
}
