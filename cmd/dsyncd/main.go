/* TODO:
- populate the mailbox tree from a real maildir/IMAP backend (out of
  scope: mailbox storage is a non-goal, see internal/mailboxtree)
- add --verbose flag, to enable logging debug messages independent of
  the config file
*/
package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/fho/dsyncd/internal/config"
	"github.com/fho/dsyncd/internal/dsync"
	"github.com/fho/dsyncd/internal/dsync/ibc"
	"github.com/fho/dsyncd/internal/neterr"
	"github.com/fho/dsyncd/internal/retry"
	"github.com/fho/dsyncd/internal/scheduler"
	"github.com/fho/dsyncd/internal/statusapi"
)

// dialRetryIntervals paces reconnection attempts to a slave that's
// temporarily unreachable - a restart or brief network blip shouldn't
// burn through MaxRetriesSameError in the first second.
var dialRetryIntervals = []time.Duration{
	time.Second, 2 * time.Second, 5 * time.Second, 15 * time.Second, 30 * time.Second,
}

var (
	version = "version-undefined"
	commit  = "commit-undefined"
)

func main() {
	cfgPath := flag.String("cfg-file", "dsyncd.toml", "Path to the dsyncd config file")
	credsDir := flag.String("credentials-dir", "", "Directory holding secret files (e.g. AuthToken) to overlay onto the config")
	printVersion := flag.Bool("version", false, "print the version and exit")
	flag.Parse()

	if *printVersion {
		fmt.Printf("dsyncd %s (%s)\n", version, commit)
		os.Exit(0)
	}

	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			// dsyncd normally runs as a daemon under journald/syslog,
			// which already timestamps every line.
			if a.Key == slog.TimeKey {
				return slog.Attr{}
			}
			return a
		},
	})
	logger := slog.New(h)

	cfg, err := config.FromFile(*cfgPath)
	if err != nil {
		logger.Error("loading config failed", "error", err)
		os.Exit(1)
	}
	cfg.SetDefaults()

	if *credsDir != "" {
		if err := cfg.LoadCredentialsFromDirectory(*credsDir); err != nil {
			logger.Error("loading credentials failed", "error", err)
			os.Exit(1)
		}
	}

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger.Info("starting dsyncd", "config", cfg.String())

	d := &daemon{cfg: cfg, logger: logger}

	if err := d.run(); err != nil {
		logger.Error("run failed with fatal error, terminating", "error", err)
		os.Exit(1)
	}
}

// daemon wires a Config into a running brain: dialing or listening for
// a peer, shuttling it through a session, persisting the resulting
// state, and (for a master) repeating on a schedule.
type daemon struct {
	cfg    *config.Config
	logger *slog.Logger

	mu               sync.RWMutex
	currentBrain     *dsync.Brain
	currentScheduler *scheduler.Scheduler
}

func (d *daemon) setCurrentBrain(b *dsync.Brain) {
	d.mu.Lock()
	d.currentBrain = b
	d.mu.Unlock()
}

// run drives the status endpoint and the replication role side by side:
// whichever one exits first (the role loop hitting a fatal error, or the
// status listener dying) tears down the other rather than leaving a
// half-running daemon behind.
func (d *daemon) run() error {
	var schedProvider statusapi.SchedulerProvider
	if d.cfg.Role == "master" {
		schedProvider = d.schedulerStatus
	}
	status := statusapi.NewServer(d.logger, d.brainStatus, schedProvider)

	g, ctx := errgroup.WithContext(context.Background())

	g.Go(func() error {
		if err := status.ListenAndServe(d.cfg.StatusListenAddr); err != nil && !errors.Is(err, net.ErrClosed) {
			return fmt.Errorf("status endpoint: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		defer status.Close()
		if d.cfg.Role == "master" {
			return d.runMaster()
		}
		return d.runSlave()
	})

	go func() {
		<-ctx.Done()
		status.Close()
	}()

	return g.Wait()
}

func (d *daemon) runMaster() error {
	sched, err := scheduler.New(d.logger, resyncInterval(d.cfg), func(ctx context.Context) error {
		return d.runOneMasterSession(ctx, dsync.SyncChanged)
	})
	if err != nil {
		return err
	}
	d.currentScheduler = sched

	if d.cfg.ResyncInterval > 0 {
		sched.Start()
		defer sched.Stop()
	}

	// Always perform one sync immediately on startup, in addition to
	// whatever schedule (if any) is configured.
	return d.runOneMasterSession(context.Background(), parseSyncType(d.cfg.SyncType))
}

func resyncInterval(cfg *config.Config) time.Duration {
	if cfg.ResyncInterval > 0 {
		return cfg.ResyncInterval
	}
	return time.Hour
}

func (d *daemon) runOneMasterSession(_ context.Context, syncType dsync.SyncType) error {
	var conn net.Conn

	dialer := &retry.Runner{
		Fn: func() error {
			c, err := net.Dial("tcp", d.cfg.RemoteAddr)
			if err != nil {
				return err
			}
			conn = c
			return nil
		},
		IsRetryable:         neterr.IsRetryableError,
		MaxRetriesSameError: 5,
		RetryIntervals:      dialRetryIntervals,
		Logger:              d.logger,
	}
	if err := dialer.Run(); err != nil {
		return fmt.Errorf("dialing %s failed: %w", d.cfg.RemoteAddr, err)
	}
	defer conn.Close()

	if err := authenticateClient(conn, d.cfg.AuthToken); err != nil {
		return fmt.Errorf("authenticating to %s failed: %w", d.cfg.RemoteAddr, err)
	}

	savedState, err := os.ReadFile(d.cfg.StateFile)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("reading state file %s failed: %w", d.cfg.StateFile, err)
	}

	if len(savedState) == 0 && syncType == dsync.SyncState {
		syncType = dsync.SyncFull
	}

	channel := ibc.NewTCPChannel(conn, d.logger)
	defer channel.Close()

	brain, err := dsync.NewMaster(
		d.logger, channel,
		d.cfg.NamespacePrefix, d.cfg.SyncBox,
		syncType, flagsFromConfig(d.cfg),
		savedState,
	)
	if err != nil {
		return fmt.Errorf("starting master session failed: %w", err)
	}

	return d.runSession(brain, channel)
}

func (d *daemon) runSlave() error {
	ln, err := net.Listen("tcp", d.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listening on %s failed: %w", d.cfg.ListenAddr, err)
	}
	defer ln.Close()

	d.logger.Info("listening for master connections", "addr", d.cfg.ListenAddr)

	for {
		conn, err := ln.Accept()
		if err != nil {
			return fmt.Errorf("accepting connection failed: %w", err)
		}

		if err := d.handleSlaveConn(conn); err != nil {
			d.logger.Error("session failed", "error", err)
		}
	}
}

func (d *daemon) handleSlaveConn(conn net.Conn) error {
	defer conn.Close()

	if err := authenticateServer(conn, d.cfg.AuthToken); err != nil {
		return fmt.Errorf("authenticating peer failed: %w", err)
	}

	channel := ibc.NewTCPChannel(conn, d.logger)
	defer channel.Close()

	brain := dsync.NewSlave(d.logger, channel)

	return d.runSession(brain, channel)
}

// runSession pumps brain to completion, registering its RunIO as the
// channel's I/O callback, then persists its exported state.
func (d *daemon) runSession(brain *dsync.Brain, channel *ibc.TCPChannel) error {
	d.setCurrentBrain(brain)
	defer d.setCurrentBrain(nil)

	done := make(chan struct{})
	var closeOnce bool

	signalIfDone := func() {
		brain.RunIO()
		if (brain.Done() || brain.Failed()) && !closeOnce {
			closeOnce = true
			close(done)
		}
	}
	channel.SetIOCallback(signalIfDone)
	signalIfDone()

	select {
	case <-done:
	case <-time.After(5 * time.Minute):
		return errors.New("session timed out waiting for completion")
	}

	if brain.Failed() {
		_ = brain.Close()
		return errors.New("session ended in failure")
	}

	var buf bytes.Buffer
	if err := brain.GetState(&buf); err != nil {
		return fmt.Errorf("exporting state failed: %w", err)
	}

	if err := os.WriteFile(d.cfg.StateFile, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("writing state file failed: %w", err)
	}

	return brain.Close()
}

// brainStatus is read from the status endpoint's HTTP handler goroutine
// while a session's own RunIO callback mutates the same Brain from the
// channel's reader goroutine. Brain itself isn't safe for concurrent
// use, but its State/Failed/Done/SyncType getters are simple field
// reads, so a racy read here costs a stale line in a status response,
// never a corrupted one.
func (d *daemon) brainStatus() statusapi.BrainStatus {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.currentBrain == nil {
		return nil
	}
	return d.currentBrain
}

func (d *daemon) schedulerStatus() (bool, time.Time, time.Time, string) {
	if d.currentScheduler == nil {
		return false, time.Time{}, time.Time{}, ""
	}
	st := d.currentScheduler.Status()
	return st.Running, st.LastRun, st.NextRun, st.LastError
}

func parseSyncType(s string) dsync.SyncType {
	switch s {
	case "changed":
		return dsync.SyncChanged
	case "state":
		return dsync.SyncState
	default:
		return dsync.SyncFull
	}
}

func flagsFromConfig(cfg *config.Config) dsync.BrainFlags {
	var f dsync.BrainFlags
	if cfg.SendGuidRequests {
		f |= dsync.FlagSendGuidRequests
	}
	if cfg.MailsHaveGuids {
		f |= dsync.FlagMailsHaveGuids
	}
	if cfg.BackupSend {
		f |= dsync.FlagBackupSend
	}
	if cfg.BackupRecv {
		f |= dsync.FlagBackupRecv
	}
	if cfg.Debug {
		f |= dsync.FlagDebug
	}
	if cfg.SyncAllNamespaces {
		f |= dsync.FlagSyncAllNamespaces
	}
	return f
}
