package sshclient

import (
	"crypto/rand"
	"fmt"
	"net"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"golang.org/x/crypto/ssh"
)

// x11ForwardPayload matches the wire layout golang.org/x/crypto/ssh expects
// for an "x11-req" channel request, per RFC 4254 §6.3.1.
type x11ForwardPayload struct {
	SingleConnection bool
	AuthProtocol     string
	AuthCookie       string
	ScreenNumber     uint32
}

// x11OpenPayload is the payload carried by the server's "x11" channel open
// request, identifying the X client that connected to its display.
type x11OpenPayload struct {
	OriginatorAddress string
	OriginatorPort    uint32
}

// X11Forwarder requests remote X11 forwarding on a ShellChannel's session
// and relays each resulting "x11" channel to a local X display, per spec.md
// §4.9. Agent forwarding and any form of forwarding besides X11 is a
// spec.md Non-goal. Grounded on spec.md §6's x11/x11_screen/
// x11_auth_protocol/x11_try_start_server fields; the teacher has no X11
// component, so the remote-channel-accept loop is adapted from the same
// shape PortForwarder uses for direct-tcpip, and the "start a local X
// server if none is listening" behavior is new code guided by
// thyth-nosshtradamus's sshproxy process-spawn conventions.
type X11Forwarder struct {
	ShutdownHelper

	logger Logger
	cfg    *ClientConfig

	mu            sync.Mutex
	spawnedServer *exec.Cmd
}

var (
	spawnedX11Registry   = map[string]*exec.Cmd{}
	spawnedX11RegistryMu sync.Mutex
)

func newX11Forwarder(logger Logger, client *ssh.Client, cfg *ClientConfig, shell *ShellChannel) (*X11Forwarder, error) {
	x := &X11Forwarder{
		logger: logger.Fork("x11"),
		cfg:    cfg,
	}
	x.InitShutdownHelper(x.logger, x)
	if err := x.Activate(); err != nil {
		return nil, err
	}

	cookie, err := randomHexCookie(16)
	if err != nil {
		return nil, newX11ConnectionError(x.logger.Errorf("generating x11 auth cookie: %s", err).Error())
	}

	payload := ssh.Marshal(x11ForwardPayload{
		SingleConnection: false,
		AuthProtocol:     cfg.X11AuthProto,
		AuthCookie:       cookie,
		ScreenNumber:     uint32(cfg.X11Screen),
	})

	sess := shell.sshSession
	ok, err := sess.SendRequest("x11-req", true, payload)
	if err != nil || !ok {
		return nil, newX11ConnectionError(x.logger.Errorf("x11-req rejected by server: %v", err).Error())
	}

	chans := client.HandleChannelOpen("x11")
	go x.acceptLoop(chans)

	return x, nil
}

func (x *X11Forwarder) acceptLoop(chans <-chan ssh.NewChannel) {
	for newCh := range chans {
		go x.handleChannel(newCh)
	}
}

func (x *X11Forwarder) handleChannel(newCh ssh.NewChannel) {
	ch, requests, err := newCh.Accept()
	if err != nil {
		x.logger.WLogf("accepting x11 channel: %s", err)
		return
	}
	go ssh.DiscardRequests(requests)

	localConn, err := x.dialLocalDisplay()
	if err != nil {
		x.logger.WLogf("no local X display reachable: %s", err)
		ch.Close()
		return
	}

	remote := newSSHChanConn("x11-channel", ch)
	local := newSocketConnFromReadWriteCloser(localConn.RemoteAddr().String(), localConn)
	spliceChannels(remote, local)
}

// dialLocalDisplay connects to the local X display named by $DISPLAY,
// starting one with X11TryStartServer if configured and none is listening.
// POSIX systems prefer the abstract/unix socket under /tmp/.X11-unix;
// Windows has no such socket and always dials TCP, per spec.md §4.9.
func (x *X11Forwarder) dialLocalDisplay() (net.Conn, error) {
	display := os.Getenv("DISPLAY")
	if display == "" {
		display = ":0"
	}
	screenNum, err := parseDisplayNumber(display)
	if err != nil {
		return nil, newX11ConnectionError(fmt.Sprintf("cannot parse DISPLAY=%q: %s", display, err))
	}

	conn, err := x.dialDisplayOnce(screenNum)
	if err == nil {
		return conn, nil
	}

	if !x.cfg.X11TryStartServer {
		return nil, err
	}

	if spawnErr := x.trySpawnServer(screenNum); spawnErr != nil {
		return nil, newX11ConnectionError(fmt.Sprintf("no display listening and could not start one: %s / %s", err, spawnErr))
	}

	b := &backoff.Backoff{Min: 100 * time.Millisecond, Max: 1 * time.Second, Factor: 2}
	conn, retryErr := x.dialDisplayOnce(screenNum)
	if retryErr != nil {
		time.Sleep(b.Duration())
		conn, retryErr = x.dialDisplayOnce(screenNum)
	}
	if retryErr != nil {
		return nil, newX11ConnectionError(fmt.Sprintf("started a local X server but still cannot connect: %s", retryErr))
	}
	return conn, nil
}

func (x *X11Forwarder) dialDisplayOnce(screenNum int) (net.Conn, error) {
	if runtime.GOOS != "windows" {
		sockPath := fmt.Sprintf("/tmp/.X11-unix/X%d", screenNum)
		if conn, err := net.Dial("unix", sockPath); err == nil {
			return conn, nil
		}
	}
	tcpAddr := net.JoinHostPort("127.0.0.1", strconv.Itoa(6000+screenNum))
	return net.Dial("tcp", tcpAddr)
}

// trySpawnServer attempts to start a local X server binary (Xvfb on
// headless POSIX hosts being the common case) and registers it process-wide
// so a second Session in the same process does not spawn a duplicate.
func (x *X11Forwarder) trySpawnServer(screenNum int) error {
	key := fmt.Sprintf(":%d", screenNum)

	spawnedX11RegistryMu.Lock()
	if existing, ok := spawnedX11Registry[key]; ok && existing.Process != nil {
		spawnedX11RegistryMu.Unlock()
		return nil
	}
	spawnedX11RegistryMu.Unlock()

	if runtime.GOOS == "windows" {
		return newX11ConnectionError("starting a local X server is not supported on windows")
	}

	candidates := []string{"Xvfb", "Xephyr"}
	var binPath string
	for _, name := range candidates {
		if p, err := exec.LookPath(name); err == nil {
			binPath = p
			break
		}
	}
	if binPath == "" {
		return newX11ConnectionError("no local X server binary (Xvfb/Xephyr) found in PATH")
	}

	cmd := exec.Command(binPath, key)
	if err := cmd.Start(); err != nil {
		return newX11ConnectionError(fmt.Sprintf("starting %s: %s", binPath, err))
	}

	spawnedX11RegistryMu.Lock()
	spawnedX11Registry[key] = cmd
	spawnedX11RegistryMu.Unlock()

	x.mu.Lock()
	x.spawnedServer = cmd
	x.mu.Unlock()

	return nil
}

// TerminateSpawnedX11Server kills and deregisters the locally spawned X server
// for the given DISPLAY screen number (":0", ":1", ...), if one was started
// by trySpawnServer. It is a no-op if nothing was ever spawned for that
// screen. Exported per spec.md §4.8: "spawned X servers can be terminated by
// the embedder (used by tests)" — this is the process-wide counterpart to
// X11Forwarder's own shutdown, which does not kill a server other sessions
// in the same process may still be using.
func TerminateSpawnedX11Server(screenNum int) error {
	key := fmt.Sprintf(":%d", screenNum)

	spawnedX11RegistryMu.Lock()
	cmd, ok := spawnedX11Registry[key]
	if ok {
		delete(spawnedX11Registry, key)
	}
	spawnedX11RegistryMu.Unlock()

	if !ok || cmd.Process == nil {
		return nil
	}
	if err := cmd.Process.Kill(); err != nil {
		return newX11ConnectionError(fmt.Sprintf("terminating spawned X server %s: %s", key, err))
	}
	cmd.Wait()
	return nil
}

func parseDisplayNumber(display string) (int, error) {
	s := display
	if idx := strings.Index(s, ":"); idx >= 0 {
		s = s[idx+1:]
	}
	if idx := strings.Index(s, "."); idx >= 0 {
		s = s[:idx]
	}
	return strconv.Atoi(s)
}

func randomHexCookie(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	const hexDigits = "0123456789abcdef"
	out := make([]byte, n*2)
	for i, b := range buf {
		out[i*2] = hexDigits[b>>4]
		out[i*2+1] = hexDigits[b&0xf]
	}
	return string(out), nil
}

func (x *X11Forwarder) HandleOnceShutdown(completionErr error) error {
	return completionErr
}
