// Package lineend adapts a byte stream crossing an LF/CRLF boundary,
// tracking how many input bytes a downstream Sink has actually accepted
// even though what it accepted is a transformed (CR-inserted or
// CR-dropped) rendering of that input.
package lineend

import "io"

// Sink is the downstream collector a Writer forwards its transformed
// bytes to. SendV mirrors writev(2): it may accept fewer bytes than the
// sum of iov, in which case n is the prefix actually accepted and err is
// nil (the caller is expected to retry with the remainder later).
type Sink interface {
	SendV(iov [][]byte) (n int, err error)
	Close() error
	SetMaxBufferSize(size int)
	Cork(set bool)
	Flush() error
	UsedSize() int
	Seek(offset int64) error
}

// iovBufCount is the segment count at which a Writer forces an
// intermediate flush to the Sink, mirroring ostream-crlf.c's
// IOVBUF_COUNT. The count is checked after each whole input slice, so a
// single flush can carry more than iovBufCount segments.
const iovBufCount = 64

// segment is one entry of the vector actually handed to the Sink: data is
// the bytes to send, diff is how many more (positive) or fewer (negative)
// input bytes that send corresponds to than len(data) alone would
// suggest — a synthesized CR contributes diff -1 (output byte with no
// input counterpart); on the LF side a CR dropped from a CRLF pair inside
// one slice contributes diff +1 to the segment before it, while a CR held
// back at the end of a slice gets diff 0 and is credited separately (see
// lf.go).
type segment struct {
	data []byte
	diff int8
}

func segSize(segs []segment) int {
	n := 0
	for _, s := range segs {
		n += len(s.data)
	}
	return n
}

func toSink(segs []segment) ([][]byte, []int8) {
	iov := make([][]byte, len(segs))
	diffs := make([]int8, len(segs))
	for i, s := range segs {
		iov[i] = s.data
		diffs[i] = s.diff
	}
	return iov, diffs
}

// account translates n, a count of bytes the downstream accepted as
// measured in its own (post-transform) byte stream, back into the number
// of input bytes that already-accepted prefix corresponds to, given the
// per-slice diff annotations recorded when iov was built.
//
// This is deliberately a pure function of (iov, diffs, n) so the
// iovec-walking arithmetic can be unit-tested without a live Sink.
func account(iov [][]byte, diffs []int8, n int) int {
	if n <= 0 {
		return n
	}

	total := 0
	remaining := n
	for i, slice := range iov {
		switch {
		case remaining > len(slice):
			total += len(slice) + int(diffs[i])
			remaining -= len(slice)
		case remaining == len(slice):
			return total + len(slice) + int(diffs[i])
		default:
			return total + remaining
		}
	}

	return total
}

// lastAcceptedByte returns the byte at offset n-1 in the concatenation of
// iov's slices (ignoring diffs — this is about what was actually written
// downstream, not input accounting), used to learn whether a send ended
// mid-CRLF.
func lastAcceptedByte(iov [][]byte, n int) (b byte, ok bool) {
	if n <= 0 {
		return 0, false
	}

	remaining := n
	for _, slice := range iov {
		if remaining <= len(slice) {
			return slice[remaining-1], true
		}
		remaining -= len(slice)
	}

	return 0, false
}

var crBytes = []byte{'\r'}

// base holds the state and passthrough methods shared by CrlfWriter and
// LfWriter: everything except the sendv transform itself.
type base struct {
	sink   Sink
	closed bool
}

// Close closes the Sink on the first call only; later calls return nil.
func (b *base) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	return b.sink.Close()
}

func (b *base) SetMaxBufferSize(size int)  { b.sink.SetMaxBufferSize(size) }
func (b *base) Cork(set bool)              { b.sink.Cork(set) }
func (b *base) Flush() error               { return b.sink.Flush() }
func (b *base) UsedSize() int              { return b.sink.UsedSize() }
func (b *base) Seek(offset int64) error    { return b.sink.Seek(offset) }

// sendIStream drains r through sendv, in fixed-size chunks, until EOF or
// a short write. It returns the total input bytes consumed, mirroring
// o_stream_send_istream's contract in the original.
func sendIStream(r io.Reader, sendv func([][]byte) (int, error)) (int64, error) {
	buf := make([]byte, 32*1024)
	var total int64

	for {
		n, rerr := r.Read(buf)
		if n > 0 {
			consumed, werr := sendv([][]byte{buf[:n]})
			total += int64(consumed)
			if werr != nil {
				return total, werr
			}
			if consumed != n {
				return total, nil
			}
		}
		if rerr == io.EOF {
			return total, nil
		}
		if rerr != nil {
			return total, rerr
		}
	}
}
