package lineend

import (
	"bytes"
	"testing"

	"github.com/fho/dsyncd/internal/testutils/assert"
)

// fakeSink collects whatever bytes it's given, accepting everything
// offered unless maxAccept caps how many bytes a single SendV call may
// take (simulating a downstream short write).
type fakeSink struct {
	buf       bytes.Buffer
	maxAccept int // 0 means unlimited
}

func (s *fakeSink) SendV(iov [][]byte) (int, error) {
	total := 0
	for _, b := range iov {
		total += len(b)
	}

	n := total
	if s.maxAccept > 0 && n > s.maxAccept {
		n = s.maxAccept
	}

	remaining := n
	for _, b := range iov {
		if remaining <= 0 {
			break
		}
		take := len(b)
		if take > remaining {
			take = remaining
		}
		s.buf.Write(b[:take])
		remaining -= take
	}

	return n, nil
}

func (s *fakeSink) Close() error              { return nil }
func (s *fakeSink) SetMaxBufferSize(int)      {}
func (s *fakeSink) Cork(bool)                 {}
func (s *fakeSink) Flush() error              { return nil }
func (s *fakeSink) UsedSize() int             { return s.buf.Len() }
func (s *fakeSink) Seek(int64) error          { return nil }

func TestCrlfWriter_InsertsMissingCR(t *testing.T) {
	sink := &fakeSink{}
	w := NewCrlfWriter(sink)

	n, err := w.SendV([][]byte{[]byte("a\n")})
	assert.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = w.SendV([][]byte{[]byte("b")})
	assert.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Equal(t, "a\r\nb", sink.buf.String())
}

func TestCrlfWriter_DoesNotDuplicateAcrossBoundary(t *testing.T) {
	sink := &fakeSink{}
	w := NewCrlfWriter(sink)

	_, err := w.SendV([][]byte{[]byte("a\r")})
	assert.NoError(t, err)

	_, err = w.SendV([][]byte{[]byte("\nb")})
	assert.NoError(t, err)

	assert.Equal(t, "a\r\nb", sink.buf.String())
}

func TestCrlfWriter_LeavesExistingCRLFAlone(t *testing.T) {
	sink := &fakeSink{}
	w := NewCrlfWriter(sink)

	n, err := w.SendV([][]byte{[]byte("a\r\nb")})
	assert.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, "a\r\nb", sink.buf.String())
}

func TestLfWriter_DropsCRBeforeLF(t *testing.T) {
	sink := &fakeSink{}
	w := NewLfWriter(sink)

	n, err := w.SendV([][]byte{[]byte("a\r\nb\r\nc")})
	assert.NoError(t, err)
	assert.Equal(t, 7, n)
	assert.Equal(t, "a\nb\nc", sink.buf.String())
}

func TestLfWriter_HoldsTrailingCRUntilConfirmed(t *testing.T) {
	sink := &fakeSink{}
	w := NewLfWriter(sink)

	n, err := w.SendV([][]byte{[]byte("a\r")})
	assert.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "a", sink.buf.String())

	n, err = w.SendV([][]byte{[]byte("\n")})
	assert.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "a\n", sink.buf.String())
}

func TestLfWriter_ReemitsBareTrailingCR(t *testing.T) {
	sink := &fakeSink{}
	w := NewLfWriter(sink)

	n, err := w.SendV([][]byte{[]byte("a\r")})
	assert.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = w.SendV([][]byte{[]byte("b")})
	assert.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "a\rb", sink.buf.String())
}

func TestLfWriter_LoneCRConsumesOneByteWithNoWrite(t *testing.T) {
	sink := &fakeSink{}
	w := NewLfWriter(sink)

	n, err := w.SendV([][]byte{[]byte("\r")})
	assert.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 0, sink.buf.Len())
}

func TestLfWriter_SumOfReturnsMatchesTotalInputOnceDrained(t *testing.T) {
	cases := [][]string{
		{"a\r", "\n"},
		{"a\r", "b"},
		{"\r", "\n"},
		{"\r", "x"},
	}

	for _, parts := range cases {
		sink := &fakeSink{}
		w := NewLfWriter(sink)

		total := 0
		inputLen := 0
		for _, part := range parts {
			n, err := w.SendV([][]byte{[]byte(part)})
			assert.NoError(t, err)
			total += n
			inputLen += len(part)
		}

		assert.Equal(t, inputLen, total)
	}
}

func TestAccount_FullAcceptAcrossSlices(t *testing.T) {
	iov := [][]byte{[]byte("ab"), []byte("\r"), []byte("cd")}
	diffs := []int8{0, -1, 0}

	got := account(iov, diffs, 5)
	assert.Equal(t, (2+0)+(1-1)+(2+0), got)
}

func TestAccount_PartialWithinSlice(t *testing.T) {
	iov := [][]byte{[]byte("abcd")}
	diffs := []int8{1}

	got := account(iov, diffs, 2)
	assert.Equal(t, 2, got)
}

func TestAccount_ZeroAccepted(t *testing.T) {
	iov := [][]byte{[]byte("abcd")}
	diffs := []int8{1}

	got := account(iov, diffs, 0)
	assert.Equal(t, 0, got)
}
