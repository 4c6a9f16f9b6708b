// Package mailboxtree is the external collaborator that owns the
// per-user mailbox hierarchy: naming, GUIDs, and tombstones for deleted
// mailboxes. The brain treats it as an opaque, already-synced view; the
// replication protocol itself (handshake, mailbox-state streaming,
// per-mail sync) is not a mailboxtree concern.
package mailboxtree

import (
	"bytes"
	"slices"

	"github.com/google/uuid"
)

// GUID is a 16-byte mailbox identifier, stable across a mailbox's
// lifetime.
type GUID [16]byte

// NewGUID returns a fresh, random GUID.
func NewGUID() GUID {
	return GUID(uuid.New())
}

// ParseGUID parses the hex form produced by GUID.String.
func ParseGUID(s string) (GUID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return GUID{}, err
	}
	return GUID(u), nil
}

func (g GUID) String() string {
	return uuid.UUID(g).String()
}

// Mailbox is one node of the tree.
type Mailbox struct {
	GUID        GUID
	Name        string
	UIDValidity uint32
}

// Tree is a brain-local, in-memory view of a user's mailboxes, keyed by
// GUID. It stands in for the full mailbox-tree synchronization logic
// (dsync_brain_mailbox_trees_init and friends), which spec.md §1 places
// out of scope.
type Tree struct {
	namespacePrefix string
	syncBox         string
	allNamespaces   bool

	mailboxes map[GUID]*Mailbox
	deleted   map[GUID]struct{}
}

// NewTree returns an empty tree.
func NewTree() *Tree {
	return &Tree{
		mailboxes: make(map[GUID]*Mailbox),
		deleted:   make(map[GUID]struct{}),
	}
}

// Init scopes the tree to a namespace/mailbox selection. It is the Go
// stand-in for dsync_brain_mailbox_trees_init.
func (t *Tree) Init(namespacePrefix, syncBox string, allNamespaces bool) {
	t.namespacePrefix = namespacePrefix
	t.syncBox = syncBox
	t.allNamespaces = allNamespaces
}

// Add inserts or replaces a mailbox node.
func (t *Tree) Add(mbox Mailbox) {
	t.mailboxes[mbox.GUID] = &mbox
	delete(t.deleted, mbox.GUID)
}

// Delete tombstones guid: it is removed from the live set and recorded
// for the next SendMailboxTreeDeletes round.
func (t *Tree) Delete(guid GUID) {
	delete(t.mailboxes, guid)
	t.deleted[guid] = struct{}{}
}

// Has reports whether guid names a mailbox currently present in the
// tree — the predicate Brain.GetState's garbage collection uses.
func (t *Tree) Has(guid GUID) bool {
	_, ok := t.mailboxes[guid]
	return ok
}

// Mailboxes returns the live mailboxes, in ascending GUID order so two
// peers negotiating over the same tree content agree on an order.
func (t *Tree) Mailboxes() []Mailbox {
	out := make([]Mailbox, 0, len(t.mailboxes))
	for _, m := range t.mailboxes {
		out = append(out, *m)
	}
	slices.SortFunc(out, func(a, b Mailbox) int {
		return bytes.Compare(a.GUID[:], b.GUID[:])
	})
	return out
}

// Deletes returns the tombstoned GUIDs recorded since the tree was last
// constructed, in ascending order.
func (t *Tree) Deletes() []GUID {
	out := make([]GUID, 0, len(t.deleted))
	for g := range t.deleted {
		out = append(out, g)
	}
	slices.SortFunc(out, func(a, b GUID) int {
		return bytes.Compare(a[:], b[:])
	})
	return out
}
