package bcgn

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/seekerror/logw"
)

// DefaultReadBufferSize is the default size of each of the reader's two buffers, not
// counting the reserved leftover prefix.
const DefaultReadBufferSize = 1 << 20

type readResult struct {
	n   int
	err error
}

// Reader is a lazy forward iterator over the games of a BCGN file. Each Next advances
// exactly one game; the returned game borrows from the reader's current buffer.
//
// The reader maintains two buffers of bufferSize bytes each, with a MaxGameLen-byte
// reserved prefix: up to MaxGameLen-1 leftover bytes of a record spanning a chunk
// boundary are copied in front of newly read data, so records are always contiguous.
// Reads are issued into the back buffer asynchronously while the front is consumed.
type Reader struct {
	in     io.Reader
	header Header

	bufs    [2][]byte
	front   int
	cur     []byte // unconsumed window into the front buffer
	pending chan readResult
	eof     bool

	game  *Game
	count int64
	err   error
}

// ReaderOption is a reader creation option.
type ReaderOption func(*readerOptions)

type readerOptions struct {
	bufferSize int
}

// WithBufferSize sets the read buffer size. The minimum is 128 KiB.
func WithBufferSize(size int) ReaderOption {
	return func(o *readerOptions) {
		o.bufferSize = size
	}
}

// NewReader creates a reader and validates the file header.
func NewReader(ctx context.Context, in io.Reader, opts ...ReaderOption) (*Reader, error) {
	opt := readerOptions{bufferSize: DefaultReadBufferSize}
	for _, fn := range opts {
		fn(&opt)
	}
	if opt.bufferSize < MinBufferSize {
		opt.bufferSize = MinBufferSize
	}

	var hdr [FileHeaderSize]byte
	if _, err := io.ReadFull(in, hdr[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHeader, err)
	}
	header, err := DecodeHeader(hdr[:])
	if err != nil {
		return nil, err
	}

	r := &Reader{
		in:     in,
		header: header,
	}
	for i := range r.bufs {
		r.bufs[i] = make([]byte, MaxGameLen+opt.bufferSize)
	}

	// Prime the pipeline: the first read lands in buffer 0, which becomes the front
	// on the first refill.
	r.front = 1
	r.cur = r.bufs[1][MaxGameLen:MaxGameLen]
	r.issueRead()

	logw.Debugf(ctx, "BCGN reader initialized: %+v, buffer=%v", header, opt.bufferSize)
	return r, nil
}

// Header returns the file header.
func (r *Reader) Header() Header {
	return r.header
}

// issueRead starts an asynchronous read into the back buffer, past the reserved prefix.
func (r *Reader) issueRead() {
	back := r.bufs[1-r.front]
	r.pending = make(chan readResult, 1)

	go func(dst []byte, done chan<- readResult) {
		n, err := io.ReadFull(r.in, dst)
		done <- readResult{n: n, err: err}
	}(back[MaxGameLen:], r.pending)
}

// refill swaps buffers, prefixing the leftover bytes of the front to the data read into
// the back. Returns false at clean EOF or on error.
func (r *Reader) refill() bool {
	if r.eof {
		if len(r.cur) > 0 {
			r.err = fmt.Errorf("%w: %v leftover bytes at EOF", ErrTruncated, len(r.cur))
		}
		return false
	}

	res := <-r.pending
	r.pending = nil

	if res.err != nil && !errors.Is(res.err, io.EOF) && !errors.Is(res.err, io.ErrUnexpectedEOF) {
		r.err = fmt.Errorf("read: %w", res.err)
		return false
	}
	if res.err != nil {
		r.eof = true
	}

	leftover := r.cur
	if len(leftover) >= MaxGameLen {
		r.err = fmt.Errorf("%w: record spans more than %v bytes", ErrTruncated, MaxGameLen)
		return false
	}

	back := r.bufs[1-r.front]
	start := MaxGameLen - len(leftover)
	copy(back[start:MaxGameLen], leftover)

	r.front = 1 - r.front
	r.cur = back[start : MaxGameLen+res.n]

	if !r.eof {
		r.issueRead()
	}
	return res.n > 0 || len(r.cur) > 0
}

// Next advances to the next game. Returns false at EOF or on error; see Err.
func (r *Reader) Next() bool {
	if r.err != nil {
		return false
	}
	r.game = nil

	for {
		if len(r.cur) >= 2 {
			total := int(binary.BigEndian.Uint16(r.cur))
			if total >= MaxGameLen {
				r.err = fmt.Errorf("%w: record of %v bytes", ErrGameTooLong, total)
				return false
			}
			if total <= len(r.cur) {
				game, n, err := decodeGame(r.cur, r.header.Compression)
				if err != nil {
					r.err = err
					return false
				}
				r.cur = r.cur[n:]
				r.game = game
				r.count++
				return true
			}
		}

		if !r.refill() {
			if r.err == nil && len(r.cur) > 0 {
				r.err = fmt.Errorf("%w: %v leftover bytes at EOF", ErrTruncated, len(r.cur))
			}
			return false
		}
	}
}

// Game returns the current game. Valid until the next call to Next.
func (r *Reader) Game() *Game {
	return r.game
}

// Count returns the number of games returned so far.
func (r *Reader) Count() int64 {
	return r.count
}

// Err returns the first error encountered, if any. io.EOF is not an error.
func (r *Reader) Err() error {
	return r.err
}

// Close waits for any outstanding read. It does not close the underlying reader.
func (r *Reader) Close() error {
	if r.pending != nil {
		<-r.pending
		r.pending = nil
	}
	return nil
}
