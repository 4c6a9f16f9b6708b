package lineend

import "io"

// LfWriter drops the CR of every CRLF pair, forwarding the result to
// sink in batches. A batch is flushed once at least iovBufCount segments
// have accumulated after an input slice; all segments of one input slice
// go out in the same batch, so a batch can hold more than iovBufCount.
// A trailing CR at the
// end of a send cannot be classified until the next send's first byte is
// known, so it is held back (lastCr) rather than written or dropped
// immediately.
type LfWriter struct {
	base
	lastCr    bool
	crCounted bool // whether the held-back CR's input byte was already returned to a caller
}

// NewLfWriter wraps sink with CRLF-to-LF rewriting.
func NewLfWriter(sink Sink) *LfWriter {
	return &LfWriter{base: base{sink: sink}}
}

// SendV feeds iov through the CR-drop transform and forwards the result
// to the underlying Sink, returning how many of iov's input bytes were
// consumed. A send that resolves to nothing at all to write (a lone bare
// CR with nothing pending before it) still reports one byte consumed,
// rather than reporting zero progress forever.
func (w *LfWriter) SendV(iov [][]byte) (int, error) {
	var segs []segment
	total := 0

	if w.lastCr {
		b, ok := firstByte(iov)
		switch {
		case !ok:
			return 0, nil
		case b == '\n':
			if !w.crCounted {
				total++
			}
			w.lastCr = false
			w.crCounted = false
		default:
			diff := int8(0)
			if w.crCounted {
				diff = -1
			}
			segs = append(segs, segment{data: crBytes, diff: diff})
			w.lastCr = false
			w.crCounted = false
		}
	}

	flush := func() (full bool, err error) {
		if len(segs) == 0 {
			return true, nil
		}

		data, diffs := toSink(segs)
		fullSize := segSize(segs)
		segs = segs[:0]

		n, sendErr := w.sink.SendV(data)
		total += account(data, diffs, n)

		if sendErr != nil {
			return false, sendErr
		}
		return n == fullSize, nil
	}

	for _, data := range iov {
		if len(data) == 0 {
			continue
		}
		// A CR held back at the end of an earlier slice of this same
		// call is resolved by this slice's first byte.
		if w.lastCr {
			if data[0] == '\n' {
				total++
			} else {
				segs = append(segs, segment{data: crBytes, diff: 0})
			}
			w.lastCr = false
		}
		segs, w.lastCr = buildLF(segs, data, w.lastCr)
		if len(segs) >= iovBufCount {
			if full, err := flush(); !full {
				return total, err
			}
		}
	}

	if segSize(segs) == 0 {
		if w.lastCr && !w.crCounted {
			total++
			w.crCounted = true
		}
		return total, nil
	}

	if _, err := flush(); err != nil {
		return total, err
	}

	return total, nil
}

// SendIStream drains r, rewriting its bytes the same way SendV would,
// until r is exhausted or the Sink short-writes.
func (w *LfWriter) SendIStream(r io.Reader) (int64, error) {
	return sendIStream(r, func(iov [][]byte) (int, error) {
		n, err := w.SendV(iov)
		// A chunk ending in a held-back CR returns one byte short even
		// when the Sink took everything else; credit the CR here so that
		// is not taken for a short write.
		if err == nil && w.lastCr && !w.crCounted && n == len(iov[0])-1 {
			w.crCounted = true
			n++
		}
		return n, err
	})
}

// firstByte returns the first byte across iov's slices, skipping any
// empty ones, and whether one was found at all.
func firstByte(iov [][]byte) (byte, bool) {
	for _, data := range iov {
		if len(data) > 0 {
			return data[0], true
		}
	}
	return 0, false
}

// buildLF scans data for CRLF pairs, dropping each CR and appending the
// rest verbatim to segs. A CR found at the very end of data cannot yet be
// classified as "part of a pair" or "bare", so it is held back: the
// segment up to (not including) it is appended with diff 0 and lastCr is
// returned true, deferring that byte's fate — and its input-byte credit
// — to the call that resolves it.
func buildLF(segs []segment, data []byte, lastCr bool) ([]segment, bool) {
	start := 0

	for i := 0; ; i++ {
		if i != len(data) {
			if data[i] != '\n' || i == 0 || data[i-1] != '\r' {
				continue
			}
		}

		next := i
		var diff int8
		switch {
		case i != len(data):
			// found \r\n at i-1,i: drop the \r, keep the \n.
			i--
			lastCr = false
			diff = 1
		case i != start && data[i-1] == '\r':
			// data ends in a bare CR: hold it back.
			i--
			lastCr = true
			diff = 0
		default:
			lastCr = false
			diff = 0
		}

		segs = append(segs, segment{data: data[start:i], diff: diff})
		start, i = next, next

		if i == len(data) {
			break
		}
	}

	return segs, lastCr
}
