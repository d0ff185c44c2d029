package gingersnap

import (
	"bytes"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/golang/snappy"
)

// errMissingStreamID is returned when the source stream does not begin
// with a stream identifier frame.  Its occurrence signifies that the
// source byte stream is not snappy framed.
var errMissingStreamID = fmt.Errorf("missing stream identifier")

// Decompressor is a ChunkReader yielding the decoded payloads of a snappy
// framed stream read from an upstream ChunkReader.  Upstream chunk
// boundaries are arbitrary: the Decompressor buffers partial frames
// internally and yields exactly one decoded payload per completed data
// frame, in frame order.
type Decompressor struct {
	src ChunkReader

	// frame state machine: collecting a 4 byte header, or a body of
	// frameLen bytes for a frame of type frameType.
	inBody    bool
	frameType byte
	frameLen  int

	// buffered upstream bytes not yet consumed by the state machine.
	// queued is the total length of all buffers in queue.
	queue  [][]byte
	queued int

	seenStreamID bool
	dst          []byte
	err          error
}

// NewDecompressor returns a Decompressor reading a snappy framed stream
// from src.
func NewDecompressor(src ChunkReader) *Decompressor {
	return &Decompressor{
		src: src,
		dst: make([]byte, 4096),
	}
}

// Reset discards internal state and sets the upstream source to src.
// After Reset returns the Decompressor is equivalent to one returned by
// NewDecompressor.
func (d *Decompressor) Reset(src ChunkReader) {
	d.src = src
	d.inBody = false
	d.queue = nil
	d.queued = 0
	d.seenStreamID = false
	d.err = nil
}

// ReadChunk yields the next decoded payload of the stream.  It returns
// io.EOF when the upstream ends cleanly at a frame boundary with no bytes
// buffered.  An upstream end anywhere else is reported as
// io.ErrUnexpectedEOF.  Errors are sticky: after any error ReadChunk
// returns the same error forever.
//
// The returned slice is only valid until the next call to ReadChunk.
func (d *Decompressor) ReadChunk() ([]byte, error) {
	if d.err != nil {
		return nil, d.err
	}
	p, err := d.next()
	if err != nil {
		d.err = err
		return nil, err
	}
	return p, nil
}

func (d *Decompressor) next() ([]byte, error) {
	for {
		if !d.inBody {
			if d.queued < 4 {
				err := d.fill()
				if err == io.EOF && d.queued > 0 {
					err = io.ErrUnexpectedEOF
				}
				if err != nil {
					return nil, err
				}
				continue
			}
			hdr := d.drain(4)
			d.frameType = hdr[0]
			d.frameLen = int(decodeLength(hdr[1:]))
			d.inBody = true
			continue
		}

		if d.queued < d.frameLen {
			err := d.fill()
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			if err != nil {
				return nil, err
			}
			continue
		}

		body := d.drain(d.frameLen)
		d.inBody = false
		p, err := d.processFrame(d.frameType, body)
		if err != nil {
			return nil, err
		}
		if p != nil {
			return p, nil
		}
		// the frame produced no output (stream identifier, padding, or a
		// skippable type); continue with the next frame.
	}
}

// fill pulls one chunk from upstream into the buffer queue.  Upstream
// chunks are only valid until the next pull, so the bytes are copied.
// Empty chunks are dropped.
func (d *Decompressor) fill() error {
	p, err := d.src.ReadChunk()
	if err != nil {
		return err
	}
	if len(p) == 0 {
		return nil
	}
	d.queue = append(d.queue, append([]byte(nil), p...))
	d.queued += len(p)
	return nil
}

// drain removes exactly n bytes from the front of the buffer queue and
// returns them as one contiguous slice.  Only the buffer straddling the
// boundary is split; if the drained region spans multiple buffers they are
// copied into a fresh slice, since the snappy decoder and the checksum
// require contiguous input.  drain panics if fewer than n bytes are
// queued.
func (d *Decompressor) drain(n int) []byte {
	if n == 0 {
		return nil
	}

	d.queued -= n

	front := d.queue[0]
	if len(front) >= n {
		if len(front) == n {
			d.queue = d.queue[1:]
		} else {
			d.queue[0] = front[n:]
		}
		return front[:n]
	}

	out := make([]byte, n)
	filled := 0
	for filled < n {
		b := d.queue[0]
		if len(b) <= n-filled {
			copy(out[filled:], b)
			filled += len(b)
			d.queue = d.queue[1:]
		} else {
			m := copy(out[filled:], b)
			filled += m
			d.queue[0] = b[m:]
		}
	}
	return out
}

// processFrame handles one complete frame, returning the decoded payload
// for data frames and nil for frames that produce no output.
func (d *Decompressor) processFrame(btype byte, body []byte) ([]byte, error) {
	if !d.seenStreamID && btype != blockStreamIdentifier {
		return nil, errMissingStreamID
	}

	switch {
	case btype == blockStreamIdentifier:
		// a stream identifier may appear anywhere and contains no
		// information beyond marking the stream as snappy framed.
		if !bytes.Equal(body, streamID[4:]) {
			return nil, fmt.Errorf("invalid stream identifier block")
		}
		d.seenStreamID = true
		return nil, nil
	case btype == blockCompressed || btype == blockUncompressed:
		return d.decodeBlock(btype, body)
	case 0x02 <= btype && btype <= 0x7f:
		return nil, fmt.Errorf("unrecognized unskippable frame type %d", btype)
	default:
		// padding and reserved skippable frames (4.4, 4.6); the body has
		// already been drained, so there is nothing to do.
		return nil, nil
	}
}

// decodeBlock decodes the body of a compressed or uncompressed data frame
// and verifies its checksum.
func (d *Decompressor) decodeBlock(btype byte, body []byte) ([]byte, error) {
	if len(body) < 4 {
		return nil, fmt.Errorf("short frame body %d < 4", len(body))
	}
	if len(body) > maxEncodedBlockSize+4 {
		return nil, fmt.Errorf("encoded block data too large %d > %d", len(body), maxEncodedBlockSize+4)
	}

	crc32le, blockdata := body[:4], body[4:]

	// determine the decoded size and bound it before any decoding work,
	// for compressed and uncompressed frames alike.
	declen := len(blockdata)
	if btype == blockCompressed {
		var err error
		declen, err = snappy.DecodedLen(blockdata)
		if err != nil {
			return nil, err
		}
	}
	if declen > MaxBlockSize {
		return nil, fmt.Errorf("decoded block data too large %d > %d", declen, MaxBlockSize)
	}

	if btype == blockCompressed {
		var err error
		d.dst, err = snappy.Decode(d.dst, blockdata)
		if err != nil {
			return nil, err
		}
		blockdata = d.dst
	}

	stored := uint32(crc32le[0]) | uint32(crc32le[1])<<8 | uint32(crc32le[2])<<16 | uint32(crc32le[3])<<24
	checksum := maskChecksum(crc32.Checksum(blockdata, crcTable))
	if checksum != stored {
		return nil, fmt.Errorf("checksum mismatch: expected %08x, got %08x", stored, checksum)
	}
	return blockdata, nil
}

// Reader is an io.Reader that reads data decompressed from a snappy
// framed stream read from an underlying io.Reader.
type Reader struct {
	d   *Decompressor
	buf bytes.Buffer
	err error
}

// NewReader returns a new Reader.  Reads from the Reader retrieve data
// decompressed from a snappy framed stream read from r.
func NewReader(r io.Reader) *Reader {
	return &Reader{d: NewDecompressor(Chunks(r))}
}

// Reset discards internal state and sets the underlying reader to r.
// After Reset returns the Reader is equivalent to one returned by
// NewReader.  Reusing readers with Reset can significantly reduce
// allocation overhead in applications making heavy use of snappy framed
// streams.
func (r *Reader) Reset(rnew io.Reader) {
	r.err = nil
	r.buf.Reset()
	r.d.Reset(Chunks(rnew))
}

// Read fills b with decoded data.  Decoded frames are buffered internally
// and Read pulls further frames from the underlying reader only when the
// buffer cannot satisfy len(b).
func (r *Reader) Read(b []byte) (int, error) {
	if r.err != nil {
		return 0, r.err
	}

	if r.buf.Len() < len(b) {
		// top the buffer up with one data-bearing frame.  zero length
		// payloads are possible (an empty uncompressed frame) and must not
		// be mistaken for end of stream.
		for {
			p, err := r.d.ReadChunk()
			if err == io.EOF {
				break
			}
			if err != nil {
				r.err = err
				return 0, err
			}
			r.buf.Write(p)
			if len(p) > 0 {
				break
			}
		}
	}

	n, err := r.buf.Read(b)
	r.err = err
	return n, err
}

// WriteTo implements the io.WriterTo interface used by io.Copy.  It writes
// decoded data from the underlying reader to w.  WriteTo returns the
// number of bytes written along with any error encountered.
func (r *Reader) WriteTo(w io.Writer) (int64, error) {
	if r.err != nil {
		return 0, r.err
	}

	n, err := r.buf.WriteTo(w)
	if err != nil {
		return n, err
	}

	for {
		p, err := r.d.ReadChunk()
		if err == io.EOF {
			return n, nil
		}
		if err != nil {
			return n, err
		}

		m, err := w.Write(p)
		n += int64(m)
		if err != nil {
			return n, err
		}
	}
}
