package dsync

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"slices"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/fho/dsyncd/internal/dsync/ibc"
	"github.com/fho/dsyncd/internal/logx"
	"github.com/fho/dsyncd/internal/mailboxtree"
)

// ErrSyncTypeUnknown is returned by NewMaster when sync_type is
// SyncUnknown - that value is only legal on a freshly constructed slave
// before it has received a handshake.
var ErrSyncTypeUnknown = errors.New("dsync: sync type must not be Unknown for a master")

// ErrSavedStateRequired is returned by NewMaster when sync_type is
// SyncState but savedState is empty.
var ErrSavedStateRequired = errors.New("dsync: saved state required for state sync")

// Brain drives one peer's side of a replication session. It is not safe
// for concurrent use: RunIO is meant to be invoked serially, e.g. from
// the Channel's own I/O callback.
type Brain struct {
	logger *slog.Logger
	role   Role

	channel ibc.Channel
	tree    *mailboxtree.Tree

	syncType SyncType
	flags    BrainFlags
	state    State

	namespacePrefix string
	syncBox         string

	mailboxStates       map[mailboxtree.GUID]MailboxState
	remoteMailboxStates []MailboxState

	sendStatesCursor *sendStatesCursor
	mailboxCursor    *mailboxCursor
	currentMailbox   *mailboxtree.Mailbox

	failed bool
	done   bool

	closeOnce sync.Once
	closeErr  error
}

// sendStatesCursor is the resumable traversal MasterSendLastCommon
// drives: the remaining MailboxState rows still to be sent, and whether
// the end-of-list marker itself still needs to go out.
type sendStatesCursor struct {
	remaining []MailboxState
	sentEOL   bool
}

// mailboxCursor is the resumable traversal MasterSendMailbox drives over
// the local tree's mailboxes, one negotiation per entry.
type mailboxCursor struct {
	mboxes []mailboxtree.Mailbox
	idx    int
}

// NewMaster constructs a Brain in the master role. If syncType is
// SyncState, savedState is parsed into the brain's mailbox-states table;
// a parse failure downgrades syncType to SyncFull (logged, not fatal)
// rather than failing construction, matching a corrupted local
// saved-state blob being treated as "start fresh".
func NewMaster(
	logger *slog.Logger,
	channel ibc.Channel,
	namespacePrefix, syncBox string,
	syncType SyncType,
	flags BrainFlags,
	savedState []byte,
) (*Brain, error) {
	logger = logx.SloggerWithGroup(logger, "dsync")

	if syncType == SyncUnknown {
		return nil, ErrSyncTypeUnknown
	}
	if syncType == SyncState && len(savedState) == 0 {
		return nil, ErrSavedStateRequired
	}

	b := &Brain{
		logger:          logger,
		role:            RoleMaster,
		channel:         channel,
		tree:            mailboxtree.NewTree(),
		syncType:        syncType,
		flags:           flags,
		namespacePrefix: namespacePrefix,
		syncBox:         syncBox,
		mailboxStates:   make(map[mailboxtree.GUID]MailboxState),
		state:           StateSendMailboxTree,
	}

	if syncType == SyncState {
		states, err := ParseMailboxStates(bytes.NewReader(savedState))
		if err != nil {
			b.logger.Warn("saved state is corrupted, downgrading to full sync", "error", err)
			b.syncType = SyncFull
		} else {
			b.mailboxStates = states
			b.state = StateMasterSendLastCommon
		}
	}

	b.tree.Init(namespacePrefix, syncBox, flags.Has(FlagSyncAllNamespaces))

	res, err := b.channel.SendHandshake(ibc.HandshakeSettings{
		NamespacePrefix: namespacePrefix,
		SyncBox:         syncBox,
		SyncType:        b.syncType,
		BrainFlags:      flags.Inverted(),
	})
	if err != nil {
		return nil, eris.Wrap(err, "sending handshake failed")
	}
	if res == ibc.SendFull {
		return nil, eris.New("handshake did not fit the channel's outgoing buffer on the first send")
	}

	return b, nil
}

// NewSlave constructs a Brain in the slave role. It sends nothing until a
// handshake arrives.
func NewSlave(logger *slog.Logger, channel ibc.Channel) *Brain {
	return &Brain{
		logger:        logx.SloggerWithGroup(logger, "dsync"),
		role:          RoleSlave,
		channel:       channel,
		tree:          mailboxtree.NewTree(),
		mailboxStates: make(map[mailboxtree.GUID]MailboxState),
		state:         StateSlaveRecvHandshake,
	}
}

// Failed reports whether the session has hit a sticky, fatal error.
func (b *Brain) Failed() bool { return b.failed }

// Done reports whether the state machine has reached StateDone.
func (b *Brain) Done() bool { return b.done }

// State returns the brain's current state, mainly for logging/tests.
func (b *Brain) State() State { return b.state }

// Tree returns the brain's local mailbox tree. Populating it (Add,
// Delete) is the mailbox-tree collaborator's job (spec.md §1); the brain
// only reads it once traversal states are reached.
func (b *Brain) Tree() *mailboxtree.Tree { return b.tree }

// SyncType returns the sync type actually in effect - which may differ
// from what a master was constructed with, if a SyncState request's
// saved state turned out to be corrupted.
func (b *Brain) SyncType() SyncType { return b.syncType }

// Flags returns the brain flags in effect for this side: for a slave,
// this is what it observed in the master's handshake (already inverted
// for backup direction).
func (b *Brain) Flags() BrainFlags { return b.flags }

// RunIO drives the step loop until no further progress is possible
// without new I/O. It is meant to be registered (directly or wrapped) as
// the Channel's I/O callback.
func (b *Brain) RunIO() {
	if b.channel.HasFailed() {
		b.failed = true
		return
	}

	for {
		changed, cont, err := b.step()
		if err != nil {
			b.failed = true
			b.logger.Error("channel failure, aborting session", "error", err)
			return
		}

		if !cont {
			return
		}
		if changed {
			continue
		}
		if b.channel.HasPendingData() {
			continue
		}
		return
	}
}

// step executes one unit of progress and reports whether the state
// machine advanced (changed) and whether the run should continue at all
// (cont - false only once Done is reached).
func (b *Brain) step() (changed, cont bool, err error) {
	in := b.state

	if b.flags.Has(FlagDebug) {
		b.logger.Debug("step starting", "state", in.String())
	}

	changed, cont, err = b.runState()

	if b.flags.Has(FlagDebug) {
		b.logger.Debug("step finished",
			"in_state", in.String(), "out_state", b.state.String(),
			"changed", changed, "continue", cont)
	}

	if b.state == StateDone {
		b.done = true
	}

	return changed, cont, err
}

func (b *Brain) runState() (changed, cont bool, err error) {
	switch b.state {
	case StateSlaveRecvHandshake:
		return b.stepSlaveRecvHandshake()
	case StateMasterSendLastCommon:
		return b.stepMasterSendLastCommon()
	case StateSlaveRecvLastCommon:
		return b.stepSlaveRecvLastCommon()
	case StateSendMailboxTree:
		return b.stepSendMailboxTree()
	case StateRecvMailboxTree:
		return b.stepRecvMailboxTree()
	case StateSendMailboxTreeDeletes:
		return b.stepSendMailboxTreeDeletes()
	case StateRecvMailboxTreeDeletes:
		return b.stepRecvMailboxTreeDeletes()
	case StateMasterSendMailbox:
		return b.stepMasterSendMailbox()
	case StateSlaveRecvMailbox:
		return b.stepSlaveRecvMailbox()
	case StateSyncMails:
		return b.stepSyncMails()
	case StateDone:
		return false, false, nil
	default:
		return false, false, eris.Errorf("dsync: unreachable state %d", b.state)
	}
}

func (b *Brain) stepSlaveRecvHandshake() (changed, cont bool, err error) {
	settings, res, err := b.channel.RecvHandshake()
	if err != nil {
		return false, false, err
	}
	if res != ibc.RecvOK {
		return false, true, nil
	}

	b.namespacePrefix = settings.NamespacePrefix
	b.syncBox = settings.SyncBox
	b.syncType = settings.SyncType
	b.flags = settings.BrainFlags

	b.tree.Init(b.namespacePrefix, b.syncBox, b.flags.Has(FlagSyncAllNamespaces))

	if b.syncType == SyncState {
		b.state = StateSlaveRecvLastCommon
	} else {
		b.state = StateSendMailboxTree
	}

	return true, true, nil
}

func (b *Brain) stepMasterSendLastCommon() (changed, cont bool, err error) {
	if b.sendStatesCursor == nil {
		states := make([]MailboxState, 0, len(b.mailboxStates))
		for _, s := range b.mailboxStates {
			states = append(states, s)
		}
		slices.SortFunc(states, func(a, b MailboxState) int {
			return bytes.Compare(a.GUID[:], b.GUID[:])
		})
		b.sendStatesCursor = &sendStatesCursor{remaining: states}
	}

	c := b.sendStatesCursor

	for len(c.remaining) > 0 {
		res, err := b.channel.SendMailboxState(c.remaining[0])
		if err != nil {
			return false, false, err
		}
		if res == ibc.SendFull {
			return changed, true, nil
		}
		c.remaining = c.remaining[1:]
		changed = true
	}

	if !c.sentEOL {
		res, err := b.channel.SendEndOfList()
		if err != nil {
			return false, false, err
		}
		if res == ibc.SendFull {
			return changed, true, nil
		}
		c.sentEOL = true
		changed = true
	}

	b.sendStatesCursor = nil
	b.state = StateSendMailboxTree

	return true, true, nil
}

func (b *Brain) stepSlaveRecvLastCommon() (changed, cont bool, err error) {
	s, res, err := b.channel.RecvMailboxState()
	if err != nil {
		return false, false, err
	}

	switch res {
	case ibc.RecvEmpty:
		return false, true, nil
	case ibc.RecvFinished:
		b.state = StateSendMailboxTree
		return true, true, nil
	default:
		b.mailboxStates[s.GUID] = s
		b.remoteMailboxStates = append(b.remoteMailboxStates, s)
		return true, true, nil
	}
}

func (b *Brain) stepSendMailboxTree() (changed, cont bool, err error) {
	res, err := b.channel.SendMailboxTree(b.tree.Mailboxes())
	if err != nil {
		return false, false, err
	}
	if res == ibc.SendFull {
		return false, true, nil
	}

	b.state = StateRecvMailboxTree
	return true, true, nil
}

func (b *Brain) stepRecvMailboxTree() (changed, cont bool, err error) {
	_, res, err := b.channel.RecvMailboxTree()
	if err != nil {
		return false, false, err
	}
	if res != ibc.RecvOK {
		return false, true, nil
	}

	b.state = StateSendMailboxTreeDeletes
	return true, true, nil
}

func (b *Brain) stepSendMailboxTreeDeletes() (changed, cont bool, err error) {
	res, err := b.channel.SendMailboxTreeDeletes(b.tree.Deletes())
	if err != nil {
		return false, false, err
	}
	if res == ibc.SendFull {
		return false, true, nil
	}

	b.state = StateRecvMailboxTreeDeletes
	return true, true, nil
}

func (b *Brain) stepRecvMailboxTreeDeletes() (changed, cont bool, err error) {
	_, res, err := b.channel.RecvMailboxTreeDeletes()
	if err != nil {
		return false, false, err
	}
	if res != ibc.RecvOK {
		return false, true, nil
	}

	if b.role == RoleMaster {
		b.state = StateMasterSendMailbox
	} else {
		b.state = StateSlaveRecvMailbox
	}

	return true, true, nil
}

func (b *Brain) stepMasterSendMailbox() (changed, cont bool, err error) {
	if b.mailboxCursor == nil {
		b.mailboxCursor = &mailboxCursor{mboxes: b.tree.Mailboxes()}
	}
	c := b.mailboxCursor

	if c.idx >= len(c.mboxes) {
		res, err := b.channel.SendNextMailbox(nil)
		if err != nil {
			return false, false, err
		}
		if res == ibc.SendFull {
			return false, true, nil
		}

		b.mailboxCursor = nil
		b.state = StateDone
		return true, true, nil
	}

	mbox := c.mboxes[c.idx]
	res, err := b.channel.SendNextMailbox(&mbox)
	if err != nil {
		return false, false, err
	}
	if res == ibc.SendFull {
		return false, true, nil
	}

	c.idx++
	b.currentMailbox = &mbox
	b.state = StateSyncMails
	return true, true, nil
}

func (b *Brain) stepSlaveRecvMailbox() (changed, cont bool, err error) {
	mbox, res, err := b.channel.RecvNextMailbox()
	if err != nil {
		return false, false, err
	}

	switch res {
	case ibc.RecvEmpty:
		return false, true, nil
	case ibc.RecvFinished:
		b.state = StateDone
		return true, true, nil
	default:
		b.currentMailbox = mbox
		b.state = StateSyncMails
		return true, true, nil
	}
}

// stepSyncMails performs the per-message synchronization for the
// mailbox most recently negotiated. Its internals (matching message
// GUIDs/flags between the two sides) are an external collaborator's
// concern (spec.md §1); here it records the mailbox as synced in the
// local mailbox-states table and loops back to negotiate the next one.
func (b *Brain) stepSyncMails() (changed, cont bool, err error) {
	if b.currentMailbox != nil {
		b.mailboxStates[b.currentMailbox.GUID] = MailboxState{
			GUID:   b.currentMailbox.GUID,
			Cursor: "synced",
		}
		b.currentMailbox = nil
	}

	if b.role == RoleMaster {
		b.state = StateMasterSendMailbox
	} else {
		b.state = StateSlaveRecvMailbox
	}
	return true, true, nil
}

// PutMailboxState inserts or overwrites a MailboxState row directly, for
// seeding a resumed session's table outside of the wire exchange (e.g.
// when a caller reloads a previously exported blob independently of
// NewMaster's SyncState path).
func (b *Brain) PutMailboxState(guid mailboxtree.GUID, cursor string) {
	b.mailboxStates[guid] = MailboxState{GUID: guid, Cursor: cursor}
}

// GetState upserts every remote MailboxState seen during the run into
// the local table, drops entries for mailboxes no longer present in the
// tree, and serializes the remainder to w.
func (b *Brain) GetState(w io.Writer) error {
	for _, s := range b.remoteMailboxStates {
		b.mailboxStates[s.GUID] = s
	}

	for guid := range b.mailboxStates {
		if !b.tree.Has(guid) {
			delete(b.mailboxStates, guid)
		}
	}

	return WriteMailboxStates(w, b.mailboxStates)
}

// Close tears the brain down. It is idempotent: only the first call
// performs work and its result is cached for subsequent calls. It
// returns an error if the channel failed or the run never reached Done.
func (b *Brain) Close() error {
	b.closeOnce.Do(func() {
		if !b.done {
			b.failed = true
		}

		err := b.channel.CloseMailStreams()

		if b.failed {
			err = errors.Join(err, eris.New("dsync: session ended without reaching Done"))
		}

		b.closeErr = err
	})

	return b.closeErr
}
