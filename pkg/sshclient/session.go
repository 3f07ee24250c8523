package sshclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// sessionState is the Session lifecycle state machine from spec.md §4.4:
// idle -> connecting -> authenticated -> shelled -> closing -> closed. A
// session can go straight from authenticated to closing without ever
// shelling if the caller only wants exec/sftp/forwarding.
type sessionState int32

const (
	stateIdle sessionState = iota
	stateConnecting
	stateAuthenticated
	stateShelled
	stateClosing
	stateClosed
)

// Session owns a single SSH transport (direct, proxied, proxy-command, or
// jump-chained) and everything layered on top of it: an optional interactive
// shell, exec invocations, SFTP, and the tunnels (PortForwarder, SocksProxy,
// X11Forwarder) that dial back through it. Grounded on the teacher's
// pkg/wstnet "Remote" type (one SSH-transport-owning object others attach
// children to), generalized from "WS tunnel endpoint" to "full SSH session".
type Session struct {
	ShutdownHelper

	cfg    *ClientConfig
	logger Logger

	mu         sync.Mutex
	state      sessionState
	sshClient  *ssh.Client
	jumpChain  *jumpChain
	isProxyCmd bool

	shell *ShellChannel

	forwarders   []*PortForwarder
	socksProxies []*SocksProxy
	x11          *X11Forwarder
}

// NewSession constructs an unconnected Session. Connect must be called
// before any other operation.
func NewSession(cfg *ClientConfig) *Session {
	s := &Session{
		cfg:    cfg,
		logger: cfg.logger().Fork("session"),
		state:  stateIdle,
	}
	s.InitShutdownHelper(s.logger, s)
	return s
}

func (s *Session) State() sessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connect performs the full TransportBuilder -> Authenticator sequence of
// spec.md §4.2/§4.3 and transitions idle -> connecting -> authenticated.
// host-key/auth failures surface as BadHostKeyError/AuthenticationError;
// anything else as NetworkError.
func (s *Session) Connect(ctx context.Context, opts ConnectOptions) error {
	s.mu.Lock()
	if s.state != stateIdle {
		s.mu.Unlock()
		return newConfigurationError("session already connected or connecting")
	}
	s.state = stateConnecting
	s.mu.Unlock()

	if err := s.Activate(); err != nil {
		return err
	}

	builder := newTransportBuilder(s.cfg)
	conn, chain, err := builder.dial(ctx, opts)
	if err != nil {
		s.failConnect()
		return err
	}

	// dialViaJumpChain already performed the handshake for every
	// intermediate hop; what it hands back is the raw net.Conn dialed from
	// the last hop to the real target, which still needs its own handshake
	// below, same as a direct or proxy-command connection would.
	client, aerr := s.handshakeOverConn(conn, opts)
	if aerr != nil {
		if chain != nil {
			chain.closeAll()
		}
		s.failConnect()
		return aerr
	}

	s.mu.Lock()
	s.sshClient = client
	s.jumpChain = chain
	s.isProxyCmd = s.cfg.ProxyCommand != ""
	s.state = stateAuthenticated
	s.mu.Unlock()
	return nil
}

func (s *Session) failConnect() {
	s.mu.Lock()
	s.state = stateIdle
	s.mu.Unlock()
}

func (s *Session) handshakeOverConn(conn net.Conn, opts ConnectOptions) (*ssh.Client, error) {
	authMethods, err := buildAuthMethods(s.cfg, opts)
	if err != nil {
		conn.Close()
		return nil, err
	}
	hostKeyCb, err := buildHostKeyCallback(s.logger, s.cfg.HostKeyPolicy, s.cfg.HostKeysFile)
	if err != nil {
		conn.Close()
		return nil, err
	}

	clientConfig := &ssh.ClientConfig{
		User:            s.cfg.User,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCb,
		Timeout:         s.cfg.Timeouts.Auth,
	}
	if len(s.cfg.AlgorithmDisableList) > 0 {
		clientConfig.Config = buildDisabledAlgorithmsConfig(s.cfg.AlgorithmDisableList)
	}

	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprintf("%d", s.cfg.Port))
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, clientConfig)
	if err != nil {
		conn.Close()
		var hostKeyErr *BadHostKeyError
		if errors.As(err, &hostKeyErr) {
			return nil, hostKeyErr
		}
		if isAuthFailure(err) {
			return nil, newAuthenticationError(s.logger.Errorf("authentication failed: %s", err).Error())
		}
		if bhk, ok := err.(*ssh.BannerError); ok {
			s.logger.WLogf("server banner: %s", bhk.Error())
		}
		return nil, newNetworkError(fmt.Sprintf("ssh handshake with %s: %s", addr, err), err)
	}
	return ssh.NewClient(sshConn, chans, reqs), nil
}

func buildDisabledAlgorithmsConfig(disabled []string) ssh.Config {
	cfg := ssh.Config{}
	disabledSet := make(map[string]bool, len(disabled))
	for _, d := range disabled {
		disabledSet[d] = true
	}
	// ssh.Config's default algorithm lists are populated lazily by the
	// library on first use; filtering them requires explicitly setting at
	// least one list. Ciphers is the most commonly restricted axis.
	defaults := ssh.Config{}
	defaults.SetDefaults()
	for _, c := range defaults.Ciphers {
		if !disabledSet[c] {
			cfg.Ciphers = append(cfg.Ciphers, c)
		}
	}
	for _, m := range defaults.MACs {
		if !disabledSet[m] {
			cfg.MACs = append(cfg.MACs, m)
		}
	}
	for _, k := range defaults.KeyExchanges {
		if !disabledSet[k] {
			cfg.KeyExchanges = append(cfg.KeyExchanges, k)
		}
	}
	return cfg
}

// requireAuthenticated returns the live ssh.Client, or NotConnectedError.
func (s *Session) requireAuthenticated() (*ssh.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != stateAuthenticated && s.state != stateShelled {
		return nil, newNotConnectedError("session is not connected")
	}
	return s.sshClient, nil
}

func (s *Session) requireNotProxyCommand(op string) error {
	s.mu.Lock()
	isProxyCmd := s.isProxyCmd
	s.mu.Unlock()
	if isProxyCmd {
		return newUnsupportedInMode(fmt.Sprintf("%s is not supported on a proxy_command session", op))
	}
	return nil
}

// InvokeShell opens the interactive pty/shell described by cfg and
// transitions authenticated -> shelled, per spec.md §4.4/§4.6.
func (s *Session) InvokeShell() (*ShellChannel, error) {
	client, err := s.requireAuthenticated()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	if s.shell != nil {
		s.mu.Unlock()
		return nil, newConfigurationError("shell already invoked for this session")
	}
	s.mu.Unlock()

	screen := NewTerminalScreen(s.cfg.Cols, s.cfg.Rows, s.cfg.History)
	shell, err := newShellChannel(s.logger, client, s.cfg, screen)
	if err != nil {
		return nil, err
	}

	if s.cfg.X11 {
		x11, x11err := newX11Forwarder(s.logger, client, s.cfg, shell)
		if x11err != nil {
			s.logger.WLogf("x11 forwarding unavailable: %s", x11err)
		} else {
			s.mu.Lock()
			s.x11 = x11
			s.mu.Unlock()
			s.AddShutdownChild(x11)
		}
	}

	s.mu.Lock()
	s.shell = shell
	s.state = stateShelled
	s.mu.Unlock()
	s.AddShutdownChild(shell)
	return shell, nil
}

// Shell returns the previously invoked ShellChannel, or nil.
func (s *Session) Shell() *ShellChannel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shell
}

// CommandResult is the outcome of ExecCommand, per spec.md §4.4.
type CommandResult struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// ExecCommand runs a single non-interactive command over a fresh SSH
// session channel and collects its result, per spec.md §4.4's
// exec_command/command_result. Not available on a proxy_command session, a
// deliberate mirror of spec.md's "transport-only" restriction.
func (s *Session) ExecCommand(ctx context.Context, command string) (*CommandResult, error) {
	if err := s.requireNotProxyCommand("exec_command"); err != nil {
		return nil, err
	}
	client, err := s.requireAuthenticated()
	if err != nil {
		return nil, err
	}

	sess, err := client.NewSession()
	if err != nil {
		return nil, newChannelError(s.logger.Errorf("opening exec session: %s", err).Error())
	}
	defer sess.Close()

	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- sess.Run(command) }()

	select {
	case <-ctx.Done():
		sess.Signal(ssh.SIGKILL)
		return nil, newNetworkError("exec_command cancelled", ctx.Err())
	case runErr := <-done:
		exitCode := 0
		if runErr != nil {
			if exitErr, ok := runErr.(*ssh.ExitError); ok {
				exitCode = exitErr.ExitStatus()
			} else {
				return nil, newChannelError(s.logger.Errorf("exec_command %q: %s", command, runErr).Error())
			}
		}
		return &CommandResult{Stdout: stdout.Bytes(), Stderr: stderr.Bytes(), ExitCode: exitCode}, nil
	}
}

// CommandResultItem is one element of the lazy sequence CommandResult
// yields: the combined stdout+stderr text of a single repetition, or the
// error that ended the sequence early.
type CommandResultItem struct {
	Output string
	Err    error
}

// CommandResult runs command up to repeat times, waiting delay between runs
// and bounding each run with timeout, yielding one CommandResultItem per
// repetition over the returned channel, which is closed when the sequence
// ends — either after repeat successful runs or the first run that errors.
// Per spec.md §4.4's command_result(cmd, repeat, delay, timeout) and §9's
// "callbacks vs generators" note that the repeat/delay sequence is
// contractual: this is a lazy, pull-based generator (the next run is not
// even started until the previous item is received), not a pre-computed
// slice. Not available on a proxy_command session.
func (s *Session) CommandResult(ctx context.Context, command string, repeat int, delay, timeout time.Duration) <-chan CommandResultItem {
	out := make(chan CommandResultItem)

	go func() {
		defer close(out)

		if err := s.requireNotProxyCommand("command_result"); err != nil {
			select {
			case out <- CommandResultItem{Err: err}:
			case <-ctx.Done():
			}
			return
		}

		for i := 0; i < repeat; i++ {
			runCtx := ctx
			var cancel context.CancelFunc
			if timeout > 0 {
				runCtx, cancel = context.WithTimeout(ctx, timeout)
			}
			output, err := s.runCombinedOutput(runCtx, command)
			if cancel != nil {
				cancel()
			}

			select {
			case out <- CommandResultItem{Output: output, Err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}

			if i+1 < repeat && delay > 0 {
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out
}

// runCombinedOutput runs one command over a fresh SSH session channel and
// returns its stdout and stderr merged into a single string, the payload
// shape CommandResult's generator yields per run. A non-zero exit status is
// not itself treated as an error here — only transport/channel failures are;
// the combined text still reflects whatever the remote command printed.
func (s *Session) runCombinedOutput(ctx context.Context, command string) (string, error) {
	client, err := s.requireAuthenticated()
	if err != nil {
		return "", err
	}

	sess, err := client.NewSession()
	if err != nil {
		return "", newChannelError(s.logger.Errorf("opening exec session: %s", err).Error())
	}
	defer sess.Close()

	var combined bytes.Buffer
	sess.Stdout = &combined
	sess.Stderr = &combined

	done := make(chan error, 1)
	go func() { done <- sess.Run(command) }()

	select {
	case <-ctx.Done():
		sess.Signal(ssh.SIGKILL)
		return "", newNetworkError("command_result run cancelled", ctx.Err())
	case runErr := <-done:
		if runErr != nil {
			if _, ok := runErr.(*ssh.ExitError); !ok {
				return "", newChannelError(s.logger.Errorf("command_result %q: %s", command, runErr).Error())
			}
		}
		return combined.String(), nil
	}
}

// OpenSFTP returns an *sftp.Client bound to this session's transport, per
// spec.md §4.4's open_sftp. Not available on a proxy_command session.
func (s *Session) OpenSFTP() (*sftp.Client, error) {
	if err := s.requireNotProxyCommand("open_sftp"); err != nil {
		return nil, err
	}
	client, err := s.requireAuthenticated()
	if err != nil {
		return nil, err
	}
	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		return nil, newChannelError(s.logger.Errorf("opening sftp subsystem: %s", err).Error())
	}
	return sftpClient, nil
}

// ParallelSFTP returns a second, independently authenticated *sftp.Client
// over a brand-new transport, for callers that want to run large transfers
// concurrently with an interactive session without contending on a single
// SSH connection's flow-control window. Go's ssh.Client has no socket-
// duplication primitive equivalent to Paramiko's transport reuse, so this
// repeats the full Connect sequence instead (see DESIGN.md's Open Question
// resolution).
func (s *Session) ParallelSFTP(ctx context.Context, opts ConnectOptions) (*sftp.Client, *Session, error) {
	if err := s.requireNotProxyCommand("parallel_sftp"); err != nil {
		return nil, nil, err
	}
	second := NewSession(s.cfg)
	if err := second.Connect(ctx, opts); err != nil {
		return nil, nil, err
	}
	sftpClient, err := second.OpenSFTP()
	if err != nil {
		second.Close()
		return nil, nil, err
	}
	return sftpClient, second, nil
}

// AddForward starts a new local TCP -> direct-tcpip PortForwarder bound to
// this session's transport, per spec.md §4.7.
func (s *Session) AddForward(bindAddr string, bindPort int, dstHost string, dstPort int) (*PortForwarder, error) {
	client, err := s.requireAuthenticated()
	if err != nil {
		return nil, err
	}
	fwd, err := newPortForwarder(s.logger, client, bindAddr, bindPort, dstHost, dstPort)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.forwarders = append(s.forwarders, fwd)
	s.mu.Unlock()
	s.AddShutdownChild(fwd)
	return fwd, nil
}

// OpenSocksListener starts a new local SOCKS5 listener bound to this
// session's transport, per spec.md §4.8.
func (s *Session) OpenSocksListener(bindAddr string, bindPort int) (*SocksProxy, error) {
	client, err := s.requireAuthenticated()
	if err != nil {
		return nil, err
	}
	proxySrv, err := newSocksProxy(s.logger, client, bindAddr, bindPort)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.socksProxies = append(s.socksProxies, proxySrv)
	s.mu.Unlock()
	s.AddShutdownChild(proxySrv)
	return proxySrv, nil
}

// FullName identifies this session for logs, matching the "<host> (<user>)"
// / "<name> (<user>)" format spec.md §4.9 defines for full_name().
func (s *Session) FullName() string {
	name := s.cfg.DisplayName
	if name == "" {
		name = s.cfg.Host
	}
	return fmt.Sprintf("%s (%s)", name, s.cfg.User)
}

// HandleOnceShutdown tears down the SSH client and any jump chain, per
// spec.md §4.4's closing -> closed transition.
func (s *Session) HandleOnceShutdown(completionErr error) error {
	s.mu.Lock()
	s.state = stateClosing
	client := s.sshClient
	chain := s.jumpChain
	s.mu.Unlock()

	if client != nil {
		client.Close()
	}
	if chain != nil {
		chain.closeAll()
	}

	s.mu.Lock()
	s.state = stateClosed
	s.mu.Unlock()
	return completionErr
}
