// Package dsyncpeer is an in-process, in-memory implementation of
// ibc.Channel: two endpoints linked by a pair of buffered Go channels,
// used to run two Brain instances against each other in tests without a
// real transport.
package dsyncpeer

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/fho/dsyncd/internal/dsync/ibc"
	"github.com/fho/dsyncd/internal/mailboxtree"
)

// ErrChannelFailed is returned by every operation once the endpoint (or
// its peer) has been marked as failed.
var ErrChannelFailed = errors.New("dsyncpeer: channel has failed")

// defaultBufSize bounds how many frames an endpoint will buffer before
// SendX starts reporting ibc.SendFull, giving tests a way to exercise the
// brain's resumable-cursor paths.
const defaultBufSize = 4

type frameKind int

const (
	frameHandshake frameKind = iota
	frameMailboxState
	frameEndOfList
	frameMailboxTree
	frameMailboxTreeDeletes
	frameNegotiateMailbox
	frameSyncMailbox
)

type frame struct {
	kind frameKind

	handshake    ibc.HandshakeSettings
	mailboxState ibc.MailboxState
	mailboxes    []mailboxtree.Mailbox
	guids        []mailboxtree.GUID
	mailbox      *mailboxtree.Mailbox
}

// Endpoint is one side of an in-memory channel pair. It implements
// ibc.Channel.
type Endpoint struct {
	out  chan frame
	in   chan frame
	peer *Endpoint

	failed atomic.Bool

	cbMu sync.Mutex
	cb   func()
}

// NewPipe returns two Endpoints, each other's peer, linked by buffered
// channels of bufSize frames each. A bufSize of 0 uses defaultBufSize.
func NewPipe(bufSize int) (a, b *Endpoint) {
	if bufSize <= 0 {
		bufSize = defaultBufSize
	}

	c1 := make(chan frame, bufSize)
	c2 := make(chan frame, bufSize)

	a = &Endpoint{out: c1, in: c2}
	b = &Endpoint{out: c2, in: c1}
	a.peer = b
	b.peer = a

	return a, b
}

// Fail marks e (and, since a transport failure is symmetric, its peer) as
// failed: every subsequent operation on either side returns
// ErrChannelFailed.
func (e *Endpoint) Fail() {
	e.failed.Store(true)
	e.peer.failed.Store(true)
}

func (e *Endpoint) send(f frame) (ibc.SendResult, error) {
	if e.failed.Load() {
		return 0, ErrChannelFailed
	}

	select {
	case e.out <- f:
		e.notifyPeer()
		return ibc.SendOK, nil
	default:
		return ibc.SendFull, nil
	}
}

func (e *Endpoint) recv() (frame, ibc.RecvResult, error) {
	if e.failed.Load() {
		return frame{}, 0, ErrChannelFailed
	}

	select {
	case f := <-e.in:
		return f, ibc.RecvOK, nil
	default:
		return frame{}, ibc.RecvEmpty, nil
	}
}

func (e *Endpoint) notifyPeer() {
	e.peer.cbMu.Lock()
	cb := e.peer.cb
	e.peer.cbMu.Unlock()

	if cb != nil {
		cb()
	}
}

func (e *Endpoint) SendHandshake(settings ibc.HandshakeSettings) (ibc.SendResult, error) {
	return e.send(frame{kind: frameHandshake, handshake: settings})
}

func (e *Endpoint) RecvHandshake() (*ibc.HandshakeSettings, ibc.RecvResult, error) {
	f, res, err := e.recv()
	if err != nil || res != ibc.RecvOK {
		return nil, res, err
	}
	return &f.handshake, ibc.RecvOK, nil
}

func (e *Endpoint) SendMailboxState(s ibc.MailboxState) (ibc.SendResult, error) {
	return e.send(frame{kind: frameMailboxState, mailboxState: s})
}

func (e *Endpoint) RecvMailboxState() (ibc.MailboxState, ibc.RecvResult, error) {
	f, res, err := e.recv()
	if err != nil || res != ibc.RecvOK {
		return ibc.MailboxState{}, res, err
	}
	if f.kind == frameEndOfList {
		return ibc.MailboxState{}, ibc.RecvFinished, nil
	}
	return f.mailboxState, ibc.RecvOK, nil
}

func (e *Endpoint) SendEndOfList() (ibc.SendResult, error) {
	return e.send(frame{kind: frameEndOfList})
}

func (e *Endpoint) SendMailboxTree(mboxes []mailboxtree.Mailbox) (ibc.SendResult, error) {
	return e.send(frame{kind: frameMailboxTree, mailboxes: mboxes})
}

func (e *Endpoint) RecvMailboxTree() ([]mailboxtree.Mailbox, ibc.RecvResult, error) {
	f, res, err := e.recv()
	if err != nil || res != ibc.RecvOK {
		return nil, res, err
	}
	return f.mailboxes, ibc.RecvOK, nil
}

func (e *Endpoint) SendMailboxTreeDeletes(guids []mailboxtree.GUID) (ibc.SendResult, error) {
	return e.send(frame{kind: frameMailboxTreeDeletes, guids: guids})
}

func (e *Endpoint) RecvMailboxTreeDeletes() ([]mailboxtree.GUID, ibc.RecvResult, error) {
	f, res, err := e.recv()
	if err != nil || res != ibc.RecvOK {
		return nil, res, err
	}
	return f.guids, ibc.RecvOK, nil
}

func (e *Endpoint) SendNextMailbox(mbox *mailboxtree.Mailbox) (ibc.SendResult, error) {
	return e.send(frame{kind: frameNegotiateMailbox, mailbox: mbox})
}

func (e *Endpoint) RecvNextMailbox() (*mailboxtree.Mailbox, ibc.RecvResult, error) {
	f, res, err := e.recv()
	if err != nil || res != ibc.RecvOK {
		return nil, res, err
	}
	if f.mailbox == nil {
		return nil, ibc.RecvFinished, nil
	}
	return f.mailbox, ibc.RecvOK, nil
}

func (e *Endpoint) HasFailed() bool {
	return e.failed.Load()
}

func (e *Endpoint) HasPendingData() bool {
	return len(e.in) > 0
}

func (e *Endpoint) CloseMailStreams() error {
	return nil
}

func (e *Endpoint) SetIOCallback(fn func()) {
	e.cbMu.Lock()
	e.cb = fn
	e.cbMu.Unlock()
}

var _ ibc.Channel = (*Endpoint)(nil)
