package sshclient

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"golang.org/x/crypto/ssh"
)

// ShellChannel owns the interactive pty session opened by
// Session.InvokeShell, per spec.md §4.6: it allocates a pty, feeds
// everything the remote writes into a TerminalScreen, and exposes Send/
// Resize/Scroll operations plus an optional on-receive callback.
type ShellChannel struct {
	ShutdownHelper

	sshSession *ssh.Session
	stdin      io.WriteCloser
	stdout     io.Reader

	screen *TerminalScreen

	onRecvMu sync.Mutex
	onRecv   func([]byte)

	sentBytes int64
	recvBytes int64

	active   bool
	activeMu sync.RWMutex
}

// newShellChannel allocates a pty on sshClient per cfg's term/cols/rows and
// starts the remote shell, then begins the background receive worker that
// merges stdout into screen. Grounded on the thyth-nosshtradamus sshproxy
// pty-plus-shell pattern referenced in DESIGN.md (the teacher has no shell
// component to ground this on).
func newShellChannel(logger Logger, sshClient *ssh.Client, cfg *ClientConfig, screen *TerminalScreen) (*ShellChannel, error) {
	sess, err := sshClient.NewSession()
	if err != nil {
		return nil, newChannelError(logger.Errorf("opening shell session: %s", err).Error())
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := sess.RequestPty(cfg.Term, cfg.Rows, cfg.Cols, modes); err != nil {
		sess.Close()
		return nil, newChannelError(logger.Errorf("requesting pty: %s", err).Error())
	}

	for k, v := range cfg.Env {
		// Best-effort: most sshd configs reject arbitrary SetEnv requests
		// outside an AcceptEnv allowlist; a rejection here is not fatal.
		sess.Setenv(k, v)
	}

	stdin, err := sess.StdinPipe()
	if err != nil {
		sess.Close()
		return nil, newChannelError(logger.Errorf("opening shell stdin: %s", err).Error())
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		sess.Close()
		return nil, newChannelError(logger.Errorf("opening shell stdout: %s", err).Error())
	}
	sess.Stderr = &stderrToScreen{screen: screen}

	if err := sess.Shell(); err != nil {
		sess.Close()
		return nil, newChannelError(logger.Errorf("starting shell: %s", err).Error())
	}

	sc := &ShellChannel{
		sshSession: sess,
		stdin:      stdin,
		stdout:     stdout,
		screen:     screen,
		active:     true,
	}
	sc.InitShutdownHelper(logger.Fork("shell"), sc)
	sc.Activate()

	go sc.receiveLoop()
	go sc.waitExit()

	return sc, nil
}

type stderrToScreen struct{ screen *TerminalScreen }

func (w *stderrToScreen) Write(p []byte) (int, error) {
	w.screen.Feed(p)
	return len(p), nil
}

// receiveLoop feeds bytes from the remote into the TerminalScreen and any
// registered on-receive callback, per spec.md §4.6's feed-on-arrival
// contract.
func (c *ShellChannel) receiveLoop() {
	buf := make([]byte, 32*1024)
	for {
		n, err := c.stdout.Read(buf)
		if n > 0 {
			data := append([]byte(nil), buf[:n]...)
			c.screen.Feed(data)
			atomic.AddInt64(&c.recvBytes, int64(n))
			c.onRecvMu.Lock()
			cb := c.onRecv
			c.onRecvMu.Unlock()
			if cb != nil {
				cb(data)
			}
		}
		if err != nil {
			c.setActive(false)
			c.StartShutdown(ShellEnded)
			return
		}
	}
}

func (c *ShellChannel) waitExit() {
	c.sshSession.Wait()
	c.setActive(false)
	c.StartShutdown(ShellEnded)
}

func (c *ShellChannel) setActive(v bool) {
	c.activeMu.Lock()
	c.active = v
	c.activeMu.Unlock()
}

// Active reports whether the remote shell is still believed to be running,
// per spec.md §4.5's shell_active.
func (c *ShellChannel) Active() bool {
	c.activeMu.RLock()
	defer c.activeMu.RUnlock()
	return c.active
}

// Send writes bytes to the remote pty's stdin, per spec.md §4.6's send(data).
func (c *ShellChannel) Send(data []byte) error {
	if !c.Active() {
		return newNoShellError("shell is no longer active")
	}
	n, err := c.stdin.Write(data)
	if err != nil {
		c.setActive(false)
		return newNetworkError("writing to shell", err)
	}
	atomic.AddInt64(&c.sentBytes, int64(n))
	return nil
}

// Resize changes both the remote pty's window size and the local
// TerminalScreen's dimensions in lockstep, per spec.md §4.6's
// resize_terminal(cols, rows), then fires on_recv(nil) so the embedder knows
// to redraw even though no new bytes arrived, per spec.md §6's "none" signal.
func (c *ShellChannel) Resize(cols, rows int) error {
	if err := c.sshSession.WindowChange(rows, cols); err != nil {
		return newChannelError(fmt.Sprintf("window-change request: %s", err))
	}
	c.screen.Resize(cols, rows)
	c.fireRepaint()
	return nil
}

// ScrollUp/ScrollDown move the TerminalScreen's scrollback viewport, per
// spec.md §4.6's scroll_up/scroll_down (these never touch the remote), then
// fire on_recv(nil) to prompt a redraw of the new viewport.
func (c *ShellChannel) ScrollUp(lines int) {
	c.screen.ScrollUp(lines)
	c.fireRepaint()
}

func (c *ShellChannel) ScrollDown(lines int) {
	c.screen.ScrollDown(lines)
	c.fireRepaint()
}

// fireRepaint invokes the registered on-receive callback with a nil payload,
// the spec.md §6 "none" signal meaning "redraw, nothing new was received".
func (c *ShellChannel) fireRepaint() {
	c.onRecvMu.Lock()
	cb := c.onRecv
	c.onRecvMu.Unlock()
	if cb != nil {
		cb(nil)
	}
}

// OnReceive registers (or clears, with nil) a callback invoked with each
// chunk of raw bytes received from the shell, per spec.md §4.6.
func (c *ShellChannel) OnReceive(cb func([]byte)) {
	c.onRecvMu.Lock()
	c.onRecv = cb
	c.onRecvMu.Unlock()
}

// Screen exposes the backing TerminalScreen for direct display/changes/
// cursor queries.
func (c *ShellChannel) Screen() *TerminalScreen { return c.screen }

func (c *ShellChannel) HandleOnceShutdown(completionErr error) error {
	c.setActive(false)
	c.sshSession.Close()
	return completionErr
}
