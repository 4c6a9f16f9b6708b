package ibc

import (
	"bufio"
	"encoding/gob"
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/fho/dsyncd/internal/logx"
	"github.com/fho/dsyncd/internal/mailboxtree"
)

// frameKind tags which field of frame is populated, the way dsyncpeer's
// in-memory frame does; gob needs a concrete field per variant since it
// has no sum-type support.
type frameKind int

const (
	frameHandshake frameKind = iota
	frameMailboxState
	frameEndOfList
	frameMailboxTree
	frameMailboxTreeDeletes
	frameNextMailbox
)

type frame struct {
	Kind frameKind

	Handshake    HandshakeSettings
	MailboxState MailboxState
	Mailboxes    []mailboxtree.Mailbox
	GUIDs        []mailboxtree.GUID
	Mailbox      *mailboxtree.Mailbox
}

// outBufSize bounds how many frames a TCPChannel will queue locally
// before SendX reports SendFull - the same backpressure signal
// dsyncpeer gives the brain, here backed by a real socket instead of a
// Go channel on both ends.
const outBufSize = 64

// TCPChannel is a Channel implementation framed with encoding/gob over a
// single long-lived net.Conn: a writer goroutine drains an outgoing
// frame queue onto the wire, a reader goroutine decodes frames off it
// into an incoming queue, so SendX/RecvX themselves never block on the
// network.
type TCPChannel struct {
	conn   net.Conn
	logger *slog.Logger

	out chan frame
	in  chan frame

	failed atomic.Bool

	cbMu sync.Mutex
	cb   func()

	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewTCPChannel wraps conn. It starts the reader/writer goroutines
// immediately; Close stops them and closes conn.
func NewTCPChannel(conn net.Conn, logger *slog.Logger) *TCPChannel {
	c := &TCPChannel{
		conn:   conn,
		logger: logx.SloggerWithGroup(logger, "dsync.ibc.tcp"),
		out:    make(chan frame, outBufSize),
		in:     make(chan frame, outBufSize),
	}

	c.wg.Add(2)
	go c.writeLoop()
	go c.readLoop()

	return c
}

func (c *TCPChannel) writeLoop() {
	defer c.wg.Done()

	bw := bufio.NewWriter(c.conn)
	enc := gob.NewEncoder(bw)

	for f := range c.out {
		if err := enc.Encode(&f); err != nil {
			c.logger.Error("encoding frame failed", "error", err)
			c.markFailed()
			return
		}
		if err := bw.Flush(); err != nil {
			c.logger.Error("flushing frame failed", "error", err)
			c.markFailed()
			return
		}
	}
}

func (c *TCPChannel) readLoop() {
	defer c.wg.Done()
	defer close(c.in)

	dec := gob.NewDecoder(bufio.NewReader(c.conn))

	for {
		var f frame
		if err := dec.Decode(&f); err != nil {
			if !errors.Is(err, net.ErrClosed) {
				c.logger.Error("decoding frame failed", "error", err)
			}
			c.markFailed()
			return
		}

		c.in <- f
		c.notifyIOCallback()
	}
}

func (c *TCPChannel) markFailed() {
	c.failed.Store(true)
	c.notifyIOCallback()
}

func (c *TCPChannel) notifyIOCallback() {
	c.cbMu.Lock()
	cb := c.cb
	c.cbMu.Unlock()
	if cb != nil {
		cb()
	}
}

func (c *TCPChannel) send(f frame) (SendResult, error) {
	if c.failed.Load() {
		return 0, errTCPChannelFailed
	}

	select {
	case c.out <- f:
		return SendOK, nil
	default:
		return SendFull, nil
	}
}

func (c *TCPChannel) recv() (frame, RecvResult, error) {
	if c.failed.Load() {
		return frame{}, 0, errTCPChannelFailed
	}

	select {
	case f, ok := <-c.in:
		if !ok {
			return frame{}, 0, errTCPChannelFailed
		}
		return f, RecvOK, nil
	default:
		return frame{}, RecvEmpty, nil
	}
}

var errTCPChannelFailed = errors.New("ibc: tcp channel has failed")

func (c *TCPChannel) SendHandshake(settings HandshakeSettings) (SendResult, error) {
	return c.send(frame{Kind: frameHandshake, Handshake: settings})
}

func (c *TCPChannel) RecvHandshake() (*HandshakeSettings, RecvResult, error) {
	f, res, err := c.recv()
	if err != nil || res != RecvOK {
		return nil, res, err
	}
	return &f.Handshake, RecvOK, nil
}

func (c *TCPChannel) SendMailboxState(s MailboxState) (SendResult, error) {
	return c.send(frame{Kind: frameMailboxState, MailboxState: s})
}

func (c *TCPChannel) RecvMailboxState() (MailboxState, RecvResult, error) {
	f, res, err := c.recv()
	if err != nil || res != RecvOK {
		return MailboxState{}, res, err
	}
	if f.Kind == frameEndOfList {
		return MailboxState{}, RecvFinished, nil
	}
	return f.MailboxState, RecvOK, nil
}

func (c *TCPChannel) SendEndOfList() (SendResult, error) {
	return c.send(frame{Kind: frameEndOfList})
}

func (c *TCPChannel) SendMailboxTree(mboxes []mailboxtree.Mailbox) (SendResult, error) {
	return c.send(frame{Kind: frameMailboxTree, Mailboxes: mboxes})
}

func (c *TCPChannel) RecvMailboxTree() ([]mailboxtree.Mailbox, RecvResult, error) {
	f, res, err := c.recv()
	if err != nil || res != RecvOK {
		return nil, res, err
	}
	return f.Mailboxes, RecvOK, nil
}

func (c *TCPChannel) SendMailboxTreeDeletes(guids []mailboxtree.GUID) (SendResult, error) {
	return c.send(frame{Kind: frameMailboxTreeDeletes, GUIDs: guids})
}

func (c *TCPChannel) RecvMailboxTreeDeletes() ([]mailboxtree.GUID, RecvResult, error) {
	f, res, err := c.recv()
	if err != nil || res != RecvOK {
		return nil, res, err
	}
	return f.GUIDs, RecvOK, nil
}

func (c *TCPChannel) SendNextMailbox(mbox *mailboxtree.Mailbox) (SendResult, error) {
	return c.send(frame{Kind: frameNextMailbox, Mailbox: mbox})
}

func (c *TCPChannel) RecvNextMailbox() (*mailboxtree.Mailbox, RecvResult, error) {
	f, res, err := c.recv()
	if err != nil || res != RecvOK {
		return nil, res, err
	}
	if f.Mailbox == nil {
		return nil, RecvFinished, nil
	}
	return f.Mailbox, RecvOK, nil
}

func (c *TCPChannel) HasFailed() bool { return c.failed.Load() }

func (c *TCPChannel) HasPendingData() bool { return len(c.in) > 0 }

func (c *TCPChannel) CloseMailStreams() error { return nil }

func (c *TCPChannel) SetIOCallback(fn func()) {
	c.cbMu.Lock()
	c.cb = fn
	c.cbMu.Unlock()
}

// Close stops the reader/writer goroutines and closes the underlying
// connection. Idempotent. Marks the channel failed first, so a SendX
// racing with Close sees errTCPChannelFailed instead of sending on the
// about-to-be-closed out channel.
func (c *TCPChannel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.failed.Store(true)
		close(c.out)
		err = c.conn.Close()
		c.wg.Wait()
	})
	return err
}

var _ Channel = (*TCPChannel)(nil)
