package lineend

import "io"

// CrlfWriter rewrites a byte stream so that every bare LF not already
// preceded by a CR gets one inserted, forwarding the result to sink in
// batches. A batch is flushed once at least iovBufCount-1 segments have
// accumulated after an input slice; all segments of one input slice go
// out in the same batch, so a batch can hold more than iovBufCount.
type CrlfWriter struct {
	base
	lastCr bool
}

// NewCrlfWriter wraps sink with CRLF rewriting.
func NewCrlfWriter(sink Sink) *CrlfWriter {
	return &CrlfWriter{base: base{sink: sink}}
}

// SendV feeds iov through the CR-insertion transform and forwards the
// result to the underlying Sink, returning how many of iov's input bytes
// were consumed.
func (w *CrlfWriter) SendV(iov [][]byte) (int, error) {
	localLastCr := w.lastCr
	var segs []segment
	total := 0

	flush := func() (full bool, err error) {
		if len(segs) == 0 {
			return true, nil
		}

		data, diffs := toSink(segs)
		fullSize := segSize(segs)
		segs = segs[:0]

		n, sendErr := w.sink.SendV(data)
		if b, ok := lastAcceptedByte(data, n); ok {
			w.lastCr = b == '\r'
		}
		total += account(data, diffs, n)

		if sendErr != nil {
			return false, sendErr
		}
		return n == fullSize, nil
	}

	for _, data := range iov {
		segs, localLastCr = buildCRLF(segs, data, localLastCr)
		if len(segs) >= iovBufCount-1 {
			if full, err := flush(); !full {
				return total, err
			}
		}
	}

	if _, err := flush(); err != nil {
		return total, err
	}

	return total, nil
}

// SendIStream drains r, rewriting its bytes the same way SendV would,
// until r is exhausted or the Sink short-writes.
func (w *CrlfWriter) SendIStream(r io.Reader) (int64, error) {
	return sendIStream(r, w.SendV)
}

// buildCRLF scans data for bare LFs, appending verbatim runs and
// synthesized CR segments (diff -1) to segs. lastCr carries the
// boundary state — whether the byte just before data (in a previous call
// or slice) was a CR — across the scan, and is returned updated to
// reflect data's own last byte.
func buildCRLF(segs []segment, data []byte, lastCr bool) ([]segment, bool) {
	start := 0

	for i := 0; i <= len(data); i++ {
		if i != len(data) {
			if data[i] != '\n' {
				continue
			}
			if i > 0 {
				if data[i-1] == '\r' {
					continue
				}
			} else if lastCr {
				continue
			}
		}

		if i != start {
			segs = append(segs, segment{data: data[start:i], diff: 0})
		}
		start = i

		if i != len(data) {
			segs = append(segs, segment{data: crBytes, diff: -1})
		}
	}

	if len(data) != 0 {
		lastCr = data[len(data)-1] == '\r'
	}

	return segs, lastCr
}
