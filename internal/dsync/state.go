package dsync

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/fho/dsyncd/internal/mailboxtree"
)

// ErrCorruptState is returned by ParseMailboxStates when the blob does
// not match the "<guid-hex> <cursor>" line format. A Master receiving
// this from a saved-state blob downgrades to SyncFull rather than
// failing the run.
var ErrCorruptState = errors.New("dsync: malformed mailbox state blob")

// WriteMailboxStates serializes states, one line per entry as
// "<guid-hex> <cursor>", in ascending GUID order, terminated by a blank
// line.
func WriteMailboxStates(w io.Writer, states map[mailboxtree.GUID]MailboxState) error {
	guids := make([]mailboxtree.GUID, 0, len(states))
	for g := range states {
		guids = append(guids, g)
	}
	slices.SortFunc(guids, func(a, b mailboxtree.GUID) int {
		return bytes.Compare(a[:], b[:])
	})

	bw := bufio.NewWriter(w)
	for _, g := range guids {
		s := states[g]
		if _, err := fmt.Fprintf(bw, "%s %s\n", g.String(), s.Cursor); err != nil {
			return err
		}
	}
	if _, err := bw.WriteString("\n"); err != nil {
		return err
	}

	return bw.Flush()
}

// ParseMailboxStates parses the format WriteMailboxStates produces. Any
// line that isn't "<guid-hex> <cursor>" (or the terminating blank line)
// is treated as corruption and returns ErrCorruptState - the caller
// decides what recovery (if any) that implies.
func ParseMailboxStates(r io.Reader) (map[mailboxtree.GUID]MailboxState, error) {
	out := make(map[mailboxtree.GUID]MailboxState)

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			return out, nil
		}

		guidHex, cursor, ok := splitStateLine(line)
		if !ok {
			return nil, ErrCorruptState
		}

		guid, err := mailboxtree.ParseGUID(guidHex)
		if err != nil {
			return nil, ErrCorruptState
		}

		out[guid] = MailboxState{GUID: guid, Cursor: cursor}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	return out, nil
}

func splitStateLine(line string) (guidHex, cursor string, ok bool) {
	i := strings.IndexByte(line, ' ')
	if i < 0 {
		return "", "", false
	}
	return line[:i], line[i+1:], true
}
