package dsync_test

import (
	"bytes"
	"testing"

	"github.com/fho/dsyncd/internal/dsync"
	"github.com/fho/dsyncd/internal/dsync/testutils/dsyncpeer"
	"github.com/fho/dsyncd/internal/logx"
	"github.com/fho/dsyncd/internal/mailboxtree"
	"github.com/fho/dsyncd/internal/testutils/assert"
)

// pumpUntilDone alternately drives master and slave's RunIO until both
// report Done, or fails the test after too many rounds (a real stall
// indicates a protocol bug, not a timing fluke: the in-memory channel
// pair never blocks).
func pumpUntilDone(t *testing.T, master, slave *dsync.Brain) {
	t.Helper()

	for range 200 {
		master.RunIO()
		slave.RunIO()
		if master.Done() && slave.Done() {
			return
		}
		if master.Failed() || slave.Failed() {
			t.Fatalf("brain failed before reaching Done: master.Failed=%v slave.Failed=%v",
				master.Failed(), slave.Failed())
		}
	}

	t.Fatalf("brains did not reach Done: master.State=%s slave.State=%s",
		master.State(), slave.State())
}

func TestBrain_EmptyStateRunCompletes(t *testing.T) {
	logger := logx.SlogTestLogger(t)
	a, b := dsyncpeer.NewPipe(0)

	slave := dsync.NewSlave(logger, b)

	master, err := dsync.NewMaster(logger, a, "", "INBOX", dsync.SyncFull, 0, nil)
	assert.NoError(t, err)

	pumpUntilDone(t, master, slave)

	assert.NoError(t, master.Close())
	assert.NoError(t, slave.Close())
	assert.Equal(t, false, master.Failed())
	assert.Equal(t, false, slave.Failed())
}

func TestBrain_CorruptedSavedStateDowngradesToFull(t *testing.T) {
	logger := logx.SlogTestLogger(t)
	a, b := dsyncpeer.NewPipe(0)

	slave := dsync.NewSlave(logger, b)

	master, err := dsync.NewMaster(
		logger, a, "", "INBOX", dsync.SyncState, 0, []byte("this is not a valid state blob"),
	)
	assert.NoError(t, err)
	assert.Equal(t, dsync.SyncFull, master.SyncType())

	pumpUntilDone(t, master, slave)

	assert.NoError(t, master.Close())
	assert.NoError(t, slave.Close())
	assert.Equal(t, dsync.SyncFull, slave.SyncType())
}

func TestBrain_BackupSendInvertsToBackupRecvOnSlave(t *testing.T) {
	logger := logx.SlogTestLogger(t)
	a, b := dsyncpeer.NewPipe(0)

	slave := dsync.NewSlave(logger, b)

	master, err := dsync.NewMaster(logger, a, "", "INBOX", dsync.SyncFull, dsync.FlagBackupSend, nil)
	assert.NoError(t, err)

	pumpUntilDone(t, master, slave)

	assert.Equal(t, true, slave.Flags().Has(dsync.FlagBackupRecv))
	assert.Equal(t, false, slave.Flags().Has(dsync.FlagBackupSend))
}

func TestBrain_ExportedStateContainsOnlyExistingMailboxGUIDs(t *testing.T) {
	logger := logx.SlogTestLogger(t)
	a, b := dsyncpeer.NewPipe(0)

	slave := dsync.NewSlave(logger, b)

	master, err := dsync.NewMaster(logger, a, "", "INBOX", dsync.SyncFull, 0, nil)
	assert.NoError(t, err)

	kept := mailboxtree.NewGUID()
	gone := mailboxtree.NewGUID()
	master.Tree().Add(mailboxtree.Mailbox{GUID: kept, Name: "INBOX"})

	pumpUntilDone(t, master, slave)

	var buf bytes.Buffer
	master.PutMailboxState(gone, "stale-cursor")
	assert.NoError(t, master.GetState(&buf))

	states, err := dsync.ParseMailboxStates(&buf)
	assert.NoError(t, err)

	_, hasKept := states[kept]
	_, hasGone := states[gone]
	assert.Equal(t, true, hasKept)
	assert.Equal(t, false, hasGone)
	assert.Equal(t, 1, len(states))
}

func TestBrain_CloseBeforeDoneMarksFailed(t *testing.T) {
	logger := logx.SlogTestLogger(t)
	_, b := dsyncpeer.NewPipe(0)

	slave := dsync.NewSlave(logger, b)

	assert.Equal(t, false, slave.Failed())
	err := slave.Close()
	assert.Error(t, err)
	assert.Equal(t, true, slave.Failed())
}

func TestBrain_ChannelFailurePropagatesToFailed(t *testing.T) {
	logger := logx.SlogTestLogger(t)
	a, b := dsyncpeer.NewPipe(0)

	slave := dsync.NewSlave(logger, b)
	master, err := dsync.NewMaster(logger, a, "", "INBOX", dsync.SyncFull, 0, nil)
	assert.NoError(t, err)

	a.Fail()

	master.RunIO()
	slave.RunIO()

	assert.Equal(t, true, master.Failed())
	assert.Equal(t, true, slave.Failed())
}
