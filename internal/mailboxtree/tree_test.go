package mailboxtree

import (
	"testing"

	"github.com/fho/dsyncd/internal/testutils/assert"
)

func TestTree_AddHasDelete(t *testing.T) {
	tr := NewTree()
	guid := NewGUID()

	assert.Equal(t, false, tr.Has(guid))

	tr.Add(Mailbox{GUID: guid, Name: "INBOX"})
	assert.Equal(t, true, tr.Has(guid))

	mboxes := tr.Mailboxes()
	assert.Equal(t, 1, len(mboxes))
	assert.Equal(t, "INBOX", mboxes[0].Name)

	tr.Delete(guid)
	assert.Equal(t, false, tr.Has(guid))

	deletes := tr.Deletes()
	assert.Equal(t, 1, len(deletes))
	assert.Equal(t, guid, deletes[0])
}

func TestGUID_RoundTripsThroughString(t *testing.T) {
	guid := NewGUID()

	parsed, err := ParseGUID(guid.String())
	assert.NoError(t, err)
	assert.Equal(t, guid, parsed)
}
