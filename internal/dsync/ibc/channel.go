// Package ibc defines the bidirectional message channel a replication
// brain drives: handshake exchange, mailbox-state streaming, mailbox-tree
// and tombstone exchange, per-mailbox negotiation, and the mail-stream
// teardown the brain calls on close. It names the wire-visible types and
// holds the TCP/gob transport the daemon uses (tcp.go); the in-memory
// pipe used in tests lives in internal/dsync/testutils/dsyncpeer.
package ibc

import "github.com/fho/dsyncd/internal/mailboxtree"

// SyncType selects what a run replicates.
type SyncType int

const (
	// SyncUnknown is only legal transiently on a freshly constructed
	// slave, before it has received a handshake.
	SyncUnknown SyncType = iota
	// SyncFull resyncs every mailbox from scratch.
	SyncFull
	// SyncChanged resyncs only mailboxes with unsynced changes.
	SyncChanged
	// SyncState resumes from a previously exported mailbox-states blob.
	SyncState
)

func (t SyncType) String() string {
	switch t {
	case SyncUnknown:
		return "unknown"
	case SyncFull:
		return "full"
	case SyncChanged:
		return "changed"
	case SyncState:
		return "state"
	default:
		return "invalid"
	}
}

// BrainFlags is a bitset of session-wide options negotiated at handshake
// time.
type BrainFlags uint8

const (
	FlagSendGuidRequests BrainFlags = 1 << iota
	FlagMailsHaveGuids
	FlagBackupSend
	FlagBackupRecv
	FlagDebug
	FlagSyncAllNamespaces
)

// Has reports whether all bits of want are set in f.
func (f BrainFlags) Has(want BrainFlags) bool {
	return f&want == want
}

// Inverted returns f with BackupSend and BackupRecv swapped, the
// transform a master applies before putting its flags on the wire so the
// slave adopts the complementary backup role.
func (f BrainFlags) Inverted() BrainFlags {
	out := f &^ (FlagBackupSend | FlagBackupRecv)
	if f.Has(FlagBackupSend) {
		out |= FlagBackupRecv
	}
	if f.Has(FlagBackupRecv) {
		out |= FlagBackupSend
	}
	return out
}

// HandshakeSettings is the wire-visible payload a master sends and a
// slave receives exactly once, at session start.
type HandshakeSettings struct {
	NamespacePrefix string // empty means "no namespace restriction"
	SyncBox         string
	SyncType        SyncType
	BrainFlags      BrainFlags
}

// SendResult is the outcome of a send-side channel operation.
type SendResult int

const (
	// SendOK means the message was fully accepted.
	SendOK SendResult = iota
	// SendFull means the channel's outgoing buffer is full; the caller
	// must retry the same message later, after the channel wakes it.
	SendFull
)

// RecvResult is the outcome of a receive-side channel operation that may
// legitimately find nothing, or the end of a streamed sequence.
type RecvResult int

const (
	// RecvOK means a value was received.
	RecvOK RecvResult = iota
	// RecvFinished means an end-of-list marker was received: the
	// current streamed sequence is complete.
	RecvFinished
	// RecvEmpty means no message is available yet; the caller should
	// park until the channel's I/O callback fires again.
	RecvEmpty
)

// Channel is the capability set a Brain drives. All operations are
// non-blocking: a send that cannot make progress returns SendFull rather
// than blocking, and a receive that has nothing yet returns RecvEmpty.
//
// Mailbox-tree messages carry only the GUID/Mailbox vocabulary
// mailboxtree already exports, so this package depends on no mailbox
// internals beyond it. There are no per-mail message operations; the
// mail-stream side appears only as CloseMailStreams.
type Channel interface {
	// SendHandshake queues settings; only a master ever calls this.
	SendHandshake(settings HandshakeSettings) (SendResult, error)
	// RecvHandshake returns the peer's handshake once received.
	RecvHandshake() (*HandshakeSettings, RecvResult, error)

	// SendMailboxState queues one MailboxState row.
	SendMailboxState(s MailboxState) (SendResult, error)
	// RecvMailboxState returns the next MailboxState row, or
	// RecvFinished once the sender's end-of-list marker arrives.
	RecvMailboxState() (MailboxState, RecvResult, error)
	// SendEndOfList terminates the current streamed sequence.
	SendEndOfList() (SendResult, error)

	// SendMailboxTree and RecvMailboxTree exchange the live mailbox set.
	// The mailbox-tree synchronization logic itself is an external
	// collaborator (spec.md §1); the brain only sequences around these
	// calls.
	SendMailboxTree(mboxes []mailboxtree.Mailbox) (SendResult, error)
	RecvMailboxTree() ([]mailboxtree.Mailbox, RecvResult, error)

	// SendMailboxTreeDeletes and RecvMailboxTreeDeletes exchange
	// tombstoned mailbox GUIDs.
	SendMailboxTreeDeletes(guids []mailboxtree.GUID) (SendResult, error)
	RecvMailboxTreeDeletes() ([]mailboxtree.GUID, RecvResult, error)

	// SendNextMailbox proposes the next mailbox to sync, or nil once
	// this side has none left to propose.
	SendNextMailbox(mbox *mailboxtree.Mailbox) (SendResult, error)
	// RecvNextMailbox receives the peer's proposal. A nil Mailbox with
	// RecvFinished means the peer is done negotiating mailboxes.
	RecvNextMailbox() (*mailboxtree.Mailbox, RecvResult, error)

	// HasFailed reports whether the channel has hit a fatal, sticky
	// transport error.
	HasFailed() bool
	// HasPendingData reports whether the channel already has buffered
	// input the brain can act on without waiting for its I/O callback.
	HasPendingData() bool
	// CloseMailStreams releases the mail-stream side of the channel;
	// the brain calls this during teardown regardless of how the run
	// ended.
	CloseMailStreams() error

	// SetIOCallback registers fn to be invoked whenever the channel
	// makes I/O progress possible. Passing nil deregisters it.
	SetIOCallback(fn func())
}

// MailboxState is the wire-visible per-mailbox resync cursor, keyed by a
// 16-byte GUID. Cursor is an opaque blob the mailbox tree or per-mail sync
// layer interprets; the brain only stores, exchanges, and serializes it.
type MailboxState struct {
	GUID   mailboxtree.GUID
	Cursor string
}
