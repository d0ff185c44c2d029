package gingersnap

import (
	"bufio"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/golang/snappy"
)

var errClosed = fmt.Errorf("closed")

// frameEncoder encodes single blocks of decoded data as framed snappy
// frames.  The snappy scratch buffer is sized once for the worst case
// encoding of a MaxBlockSize block and reused for every frame.
type frameEncoder struct {
	scratch []byte
}

func newFrameEncoder() frameEncoder {
	return frameEncoder{scratch: make([]byte, maxEncodedBlockSize)}
}

// encode returns p framed as a single compressed or uncompressed frame.
// The frame is freshly allocated and does not alias p or the scratch
// buffer.  encode panics if len(p) exceeds MaxBlockSize.
func (e *frameEncoder) encode(p []byte) []byte {
	if len(p) > MaxBlockSize {
		panic(fmt.Sprintf("block too large %d > %d", len(p), MaxBlockSize))
	}

	checksum := maskChecksum(crc32.Checksum(p, crcTable))
	enc := snappy.Encode(e.scratch, p)

	// store the block uncompressed unless encoding saved more than an
	// eighth of the original size.
	btype := byte(blockCompressed)
	body := enc
	if len(enc) >= len(p)-len(p)/8 {
		btype = blockUncompressed
		body = p
	}

	frame := make([]byte, 8+len(body))
	putHeader(frame, btype, len(body)+4, checksum)
	copy(frame[8:], body)
	return frame
}

// Compressor is a ChunkReader yielding a snappy framed stream encoded from
// the decoded bytes of an upstream ChunkReader.  The first chunk yielded
// is always the 10 byte stream identifier frame; every chunk after that is
// exactly one data frame.  Upstream chunks larger than MaxBlockSize are
// split across frames, with the remainder carried over to later pulls.
type Compressor struct {
	src ChunkReader
	enc frameEncoder

	// remainder of an upstream chunk that exceeded MaxBlockSize.
	carryover []byte

	sentStreamID bool
	err          error
}

// NewCompressor returns a Compressor reading decoded bytes from src.
func NewCompressor(src ChunkReader) *Compressor {
	return &Compressor{src: src, enc: newFrameEncoder()}
}

// ReadChunk yields the next frame of the encoded stream.  It returns
// io.EOF once the upstream is exhausted at a block boundary.  Errors are
// sticky: after any error ReadChunk returns the same error forever.
func (c *Compressor) ReadChunk() ([]byte, error) {
	if c.err != nil {
		return nil, c.err
	}

	if !c.sentStreamID {
		c.sentStreamID = true
		id := make([]byte, len(streamID))
		copy(id, streamID)
		return id, nil
	}

	plain := c.carryover
	c.carryover = nil
	for len(plain) == 0 {
		p, err := c.src.ReadChunk()
		if err != nil {
			c.err = err
			return nil, err
		}
		// empty chunks carry no data; pull again.
		plain = p
	}

	if len(plain) > MaxBlockSize {
		// the upstream buffer is not ours to keep across calls, so the
		// remainder must be copied out.
		c.carryover = append([]byte(nil), plain[MaxBlockSize:]...)
		plain = plain[:MaxBlockSize]
	}

	return c.enc.encode(plain), nil
}

// Writer is an io.WriteCloser.  Data written to a Writer is encoded as a
// snappy framed stream and flushed to an underlying io.Writer.
type Writer struct {
	err error
	w   *writer
	bw  *bufio.Writer
}

// NewWriter returns a new Writer.  Data written to the returned Writer is
// encoded and written to w.
//
// The caller is responsible for calling Flush or Close after all writes
// have completed to guarantee all data has been encoded and written to w.
func NewWriter(w io.Writer) *Writer {
	sz := newWriter(w)
	return &Writer{
		w:  sz,
		bw: bufio.NewWriterSize(sz, MaxBlockSize),
	}
}

// Reset discards internal state, including buffered but unflushed data,
// and sets the underlying writer to w.  After Reset returns the Writer is
// equivalent to one returned by NewWriter.  Reusing writers with Reset can
// significantly reduce allocation overhead.
func (w *Writer) Reset(wnew io.Writer) {
	w.err = nil
	if w.w == nil {
		w.w = newWriter(wnew)
		w.bw = bufio.NewWriterSize(w.w, MaxBlockSize)
		return
	}
	w.w.reset(wnew)
	w.bw.Reset(w.w)
}

// ReadFrom implements the io.ReaderFrom interface used by io.Copy.  It
// encodes data read from r as a snappy framed stream and writes the result
// to the underlying io.Writer.  ReadFrom returns the number of bytes read,
// along with any error encountered (other than io.EOF).
func (w *Writer) ReadFrom(r io.Reader) (int64, error) {
	if w.err != nil {
		return 0, w.err
	}

	var n int64
	n, w.err = w.bw.ReadFrom(r)
	return n, w.err
}

// Write encodes the bytes of p and writes a sequence of frames to the
// underlying io.Writer.  Because decoded data is buffered internally
// before encoding, calls to Write may not always result in data being
// written to the underlying io.Writer.
//
// Write returns len(p) and a nil error on success, and 0 with the error on
// failure.
func (w *Writer) Write(p []byte) (int, error) {
	if w.err != nil {
		return 0, w.err
	}

	_, w.err = w.bw.Write(p)
	if w.err != nil {
		return 0, w.err
	}

	return len(p), nil
}

// Flush encodes any decoded source data buffered internally in the Writer
// and writes frames containing the result to the underlying io.Writer.
func (w *Writer) Flush() error {
	if w.err == nil {
		w.err = w.bw.Flush()
	}

	return w.err
}

// Close flushes the Writer and tears down internal data structures.  Close
// does not close the underlying io.Writer.
func (w *Writer) Close() error {
	if w.err != nil {
		return w.err
	}

	w.err = w.bw.Flush()
	w.w = nil
	w.bw = nil

	if w.err != nil {
		return w.err
	}

	w.err = errClosed
	return nil
}

// writer is the unbuffered encoder behind Writer.  A stream identifier
// frame is written preceding the first data frame.  The writer will never
// emit a frame containing more than MaxBlockSize bytes of decoded data;
// longer slices passed to Write are split into multiple frames before the
// call returns.
type writer struct {
	writer io.Writer
	enc    frameEncoder
	err    error

	sentStreamID bool
}

func newWriter(w io.Writer) *writer {
	return &writer{
		writer: w,
		enc:    newFrameEncoder(),
	}
}

func (w *writer) reset(wnew io.Writer) {
	w.writer = wnew
	w.err = nil
	w.sentStreamID = false
}

func (w *writer) Write(p []byte) (int, error) {
	if w.err != nil {
		return 0, w.err
	}

	total := 0
	sz := MaxBlockSize
	var n int
	for i := 0; i < len(p); i += n {
		if i+sz > len(p) {
			sz = len(p) - i
		}

		n, w.err = w.write(p[i : i+sz])
		if w.err != nil {
			return 0, w.err
		}
		total += n
	}
	return total, nil
}

// write encodes p as a single frame and writes it to the underlying
// writer.  len(p) must not exceed MaxBlockSize.
func (w *writer) write(p []byte) (int, error) {
	if !w.sentStreamID {
		_, err := w.writer.Write(streamID)
		if err != nil {
			return 0, err
		}
		w.sentStreamID = true
	}

	_, err := w.writer.Write(w.enc.encode(p))
	if err != nil {
		return 0, err
	}

	return len(p), nil
}
