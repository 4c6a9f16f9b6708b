// Package dsync implements the replication brain: the finite state
// machine that drives one peer (master or slave) of a mailbox
// replication session across an ibc.Channel.
package dsync

import "github.com/fho/dsyncd/internal/dsync/ibc"

// SyncType, BrainFlags and MailboxState are wire-visible (they travel
// inside a HandshakeSettings/MailboxState message), so their canonical
// definition lives in ibc, which the Channel interface already depends
// on. Aliasing them here lets callers of this package spell
// dsync.SyncFull, dsync.FlagBackupSend, etc. without importing ibc
// themselves.
type (
	SyncType     = ibc.SyncType
	BrainFlags   = ibc.BrainFlags
	MailboxState = ibc.MailboxState
)

const (
	SyncUnknown = ibc.SyncUnknown
	SyncFull    = ibc.SyncFull
	SyncChanged = ibc.SyncChanged
	SyncState   = ibc.SyncState
)

const (
	FlagSendGuidRequests  = ibc.FlagSendGuidRequests
	FlagMailsHaveGuids    = ibc.FlagMailsHaveGuids
	FlagBackupSend        = ibc.FlagBackupSend
	FlagBackupRecv        = ibc.FlagBackupRecv
	FlagDebug             = ibc.FlagDebug
	FlagSyncAllNamespaces = ibc.FlagSyncAllNamespaces
)

// Role is which side of the session a Brain plays.
type Role int

const (
	RoleMaster Role = iota
	RoleSlave
)

func (r Role) String() string {
	if r == RoleMaster {
		return "master"
	}
	return "slave"
}

// State is a step in the replication state machine.
type State int

const (
	StateSlaveRecvHandshake State = iota
	StateMasterSendLastCommon
	StateSlaveRecvLastCommon
	StateSendMailboxTree
	StateRecvMailboxTree
	StateSendMailboxTreeDeletes
	StateRecvMailboxTreeDeletes
	StateMasterSendMailbox
	StateSlaveRecvMailbox
	StateSyncMails
	StateDone
)

func (s State) String() string {
	switch s {
	case StateSlaveRecvHandshake:
		return "slave_recv_handshake"
	case StateMasterSendLastCommon:
		return "master_send_last_common"
	case StateSlaveRecvLastCommon:
		return "slave_recv_last_common"
	case StateSendMailboxTree:
		return "send_mailbox_tree"
	case StateRecvMailboxTree:
		return "recv_mailbox_tree"
	case StateSendMailboxTreeDeletes:
		return "send_mailbox_tree_deletes"
	case StateRecvMailboxTreeDeletes:
		return "recv_mailbox_tree_deletes"
	case StateMasterSendMailbox:
		return "master_send_mailbox"
	case StateSlaveRecvMailbox:
		return "slave_recv_mailbox"
	case StateSyncMails:
		return "sync_mails"
	case StateDone:
		return "done"
	default:
		return "invalid"
	}
}
