package dsync_test

import (
	"bytes"
	"testing"

	"github.com/fho/dsyncd/internal/dsync"
	"github.com/fho/dsyncd/internal/mailboxtree"
	"github.com/fho/dsyncd/internal/testutils/assert"
)

func TestMailboxStates_RoundTrip(t *testing.T) {
	g1 := mailboxtree.NewGUID()
	g2 := mailboxtree.NewGUID()

	states := map[mailboxtree.GUID]dsync.MailboxState{
		g1: {GUID: g1, Cursor: "abc123"},
		g2: {GUID: g2, Cursor: ""},
	}

	var buf bytes.Buffer
	assert.NoError(t, dsync.WriteMailboxStates(&buf, states))

	got, err := dsync.ParseMailboxStates(&buf)
	assert.NoError(t, err)
	assert.Equal(t, 2, len(got))
	assert.Equal(t, "abc123", got[g1].Cursor)
	assert.Equal(t, "", got[g2].Cursor)
}

func TestMailboxStates_EmptyTable(t *testing.T) {
	var buf bytes.Buffer
	assert.NoError(t, dsync.WriteMailboxStates(&buf, nil))

	got, err := dsync.ParseMailboxStates(&buf)
	assert.NoError(t, err)
	assert.Equal(t, 0, len(got))
}

func TestMailboxStates_CorruptLineReturnsErrCorruptState(t *testing.T) {
	_, err := dsync.ParseMailboxStates(bytes.NewReader([]byte("not-a-valid-line-at-all\n")))
	assert.Error(t, err)
}

func TestMailboxStates_InvalidGUIDReturnsErrCorruptState(t *testing.T) {
	_, err := dsync.ParseMailboxStates(bytes.NewReader([]byte("not-a-guid cursor\n")))
	assert.Error(t, err)
}
