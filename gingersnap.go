// Package gingersnap implements reading and writing of snappy framed
// streams.  The framing format wraps raw snappy blocks in self-delimited
// frames carrying a masked CRC-32C of the decoded content, which makes the
// format safe to use over pipes, sockets, and files where block boundaries
// are not otherwise preserved.
//
// Two styles of API are provided.  Compressor and Decompressor operate on
// chunk streams (ChunkReader), yielding one frame or one decoded payload
// per pull, and preserve their state across arbitrary upstream chunk
// boundaries.  Reader and Writer wrap them in the conventional io.Reader
// and io.WriteCloser surfaces for use with io.Copy.
package gingersnap

import (
	"hash/crc32"
	"io"

	"github.com/golang/snappy"
)

// MediaType is the MIME media type for snappy framed content, suitable for
// HTTP Content-Type headers.
const MediaType = "application/x-snappy-framed"

// MaxBlockSize is the maximum number of decoded bytes a single frame may
// contain.  Longer inputs are split across multiple frames.
const MaxBlockSize = 65536

// maxEncodedBlockSize is the worst case size of a snappy encoded block of
// MaxBlockSize decoded bytes.
var maxEncodedBlockSize = snappy.MaxEncodedLen(MaxBlockSize)

// Frame types defined by the framing format.  Types 0x02 through 0x7f are
// reserved and unskippable; 0x80 through 0xfd are reserved and skippable.
const (
	blockCompressed       = 0x00
	blockUncompressed     = 0x01
	blockPadding          = 0xfe
	blockStreamIdentifier = 0xff
)

// streamID is the stream identifier frame, including its header.  It must
// precede all data frames.
var streamID = []byte{0xff, 0x06, 0x00, 0x00, 0x73, 0x4e, 0x61, 0x50, 0x70, 0x59}

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// maskChecksum masks a CRC-32C so that the stored value is decoupled from
// other uses of the raw checksum (rotate right 15, add constant).
func maskChecksum(c uint32) uint32 {
	return ((c >> 15) | (c << 17)) + 0xa282ead8
}

// decodeLength decodes a 24-bit (3-byte) little-endian length from b.
func decodeLength(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16
}

// putHeader writes an 8 byte frame header into hdr: the frame type, the
// 3 byte little-endian body length (which includes the 4 byte checksum),
// and the 4 byte little-endian masked checksum.  putHeader panics if
// len(hdr) is less than 8.
func putHeader(hdr []byte, btype byte, length int, checksum uint32) {
	hdr[0] = btype

	hdr[1] = byte(length)
	hdr[2] = byte(length >> 8)
	hdr[3] = byte(length >> 16)

	hdr[4] = byte(checksum)
	hdr[5] = byte(checksum >> 8)
	hdr[6] = byte(checksum >> 16)
	hdr[7] = byte(checksum >> 24)
}

// A ChunkReader yields the successive byte buffers of a stream.  ReadChunk
// returns the next buffer, which may be empty; consumers must tolerate
// empty chunks.  ReadChunk returns io.EOF after the final buffer has been
// yielded.  Any other error terminates the stream.
//
// The returned slice is only valid until the next call to ReadChunk on the
// same receiver.
type ChunkReader interface {
	ReadChunk() ([]byte, error)
}

// Chunks adapts an io.Reader into a ChunkReader.  Each ReadChunk performs
// at most one Read on r, so chunk boundaries are exactly those the reader
// produces.
func Chunks(r io.Reader) ChunkReader {
	return &ioChunks{r: r, buf: make([]byte, 32768)}
}

type ioChunks struct {
	r   io.Reader
	buf []byte
	err error
}

func (c *ioChunks) ReadChunk() ([]byte, error) {
	if c.err != nil {
		return nil, c.err
	}
	n, err := c.r.Read(c.buf)
	if n > 0 {
		// deliver the bytes now, hold any error for the next call.
		c.err = err
		return c.buf[:n], nil
	}
	if err != nil {
		c.err = err
		return nil, err
	}
	return nil, nil
}
