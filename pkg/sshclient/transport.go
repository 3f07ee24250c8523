package sshclient

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"
)

// stdioConn adapts a proxy-command child process's stdin/stdout pipes into a
// net.Conn, per spec.md §4.2's "direct streams through an arbitrary
// subprocess" mode. Reads come from the child's stdout and writes go to its
// stdin; there is no independent write half-close, and the deadline methods
// are no-ops. No ecosystem library in the pack wraps a child process's pipes
// as a net.Conn (see DESIGN.md).
type stdioConn struct {
	stdin  io.WriteCloser
	stdout io.ReadCloser
	cmd    *exec.Cmd
}

func (c *stdioConn) Read(p []byte) (int, error)  { return c.stdout.Read(p) }
func (c *stdioConn) Write(p []byte) (int, error) { return c.stdin.Write(p) }
func (c *stdioConn) Close() error {
	c.stdin.Close()
	c.stdout.Close()
	if c.cmd.Process != nil {
		c.cmd.Process.Kill()
	}
	return c.cmd.Wait()
}
func (c *stdioConn) LocalAddr() net.Addr               { return stdioAddr{} }
func (c *stdioConn) RemoteAddr() net.Addr               { return stdioAddr{} }
func (c *stdioConn) SetDeadline(t time.Time) error      { return nil }
func (c *stdioConn) SetReadDeadline(t time.Time) error  { return nil }
func (c *stdioConn) SetWriteDeadline(t time.Time) error { return nil }

type stdioAddr struct{}

func (stdioAddr) Network() string { return "stdio" }
func (stdioAddr) String() string  { return "proxy-command" }

// transportBuilder resolves the route a ClientConfig describes — direct TCP,
// through an external proxy, through a proxy-command subprocess, or through
// a chain of SSH jump hosts — into a single net.Conn ready for the SSH
// handshake. Grounded on the teacher's wstunnel dialer chain
// (pkg/wstnet/dialer.go), generalized from "dial one of N backend addresses"
// to "dial through zero or more hops before the final target".
type transportBuilder struct {
	cfg    *ClientConfig
	logger Logger
}

func newTransportBuilder(cfg *ClientConfig) *transportBuilder {
	return &transportBuilder{cfg: cfg, logger: cfg.logger()}
}

// jumpChain holds the ssh.Client handles opened for each hop of a
// ProxyJump chain, closed in reverse order when the Session/Client that
// owns them shuts down.
type jumpChain struct {
	clients []*ssh.Client
}

func (j *jumpChain) closeAll() {
	for i := len(j.clients) - 1; i >= 0; i-- {
		j.clients[i].Close()
	}
}

// dial produces the net.Conn the Authenticator will run the SSH handshake
// over, plus the jumpChain of intermediate ssh.Client connections (if any)
// that must be kept alive and torn down alongside it.
func (b *transportBuilder) dial(ctx context.Context, opts ConnectOptions) (net.Conn, *jumpChain, error) {
	if b.cfg.ProxyCommand != "" {
		if len(b.cfg.JumpHosts) > 0 || b.cfg.Proxy != nil {
			return nil, nil, newConfigurationError("proxy_command is mutually exclusive with jump_hosts and proxy")
		}
		conn, err := b.dialProxyCommand()
		return conn, nil, err
	}

	if len(b.cfg.JumpHosts) > 0 {
		return b.dialViaJumpChain(ctx, opts)
	}

	conn, err := b.dialDirect(ctx, b.cfg.Host, b.cfg.Port)
	return conn, nil, err
}

// dialDirect opens a plain or proxied TCP connection to (host, port),
// honoring b.cfg.Proxy and b.cfg.Timeouts.Connect.
func (b *transportBuilder) dialDirect(ctx context.Context, host string, port int) (net.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeouts.Connect)
	defer cancel()

	if b.cfg.Proxy != nil {
		conn, err := dialThroughProxy(ctx, b.cfg.Proxy, host, port)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}

	var d net.Dialer
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, newNetworkError(fmt.Sprintf("dialing %s: %s", addr, err), err)
	}
	return conn, nil
}

// dialProxyCommand runs cfg.ProxyCommand (after placeholder substitution)
// through the shell, per spec.md §6, and speaks SSH over its stdio.
func (b *transportBuilder) dialProxyCommand() (net.Conn, error) {
	values := DefaultPlaceholderValues()
	values.RemoteHost = b.cfg.Host
	values.RemotePort = b.cfg.Port
	values.RemoteUser = b.cfg.User

	command := SubstitutePlaceholders(b.cfg.ProxyCommand, values)

	shell := os.Getenv("SHELL")
	if shell == "" {
		shell = "/bin/sh"
	}
	cmd := exec.Command(shell, "-c", command)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, newConfigurationError(fmt.Sprintf("proxy_command stdin pipe: %s", err))
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, newConfigurationError(fmt.Sprintf("proxy_command stdout pipe: %s", err))
	}
	if err := cmd.Start(); err != nil {
		return nil, newConfigurationError(fmt.Sprintf("starting proxy_command %q: %s", command, err))
	}
	b.logger.DLogf("proxy_command started: %s", command)
	return &stdioConn{stdin: stdin, stdout: stdout, cmd: cmd}, nil
}

// dialViaJumpChain opens each hop's SSH connection in turn, using the
// previous hop's channel-dialed net.Conn ("direct-tcpip" to the next hop) as
// the transport for the next ssh.Client, and finally dials the real target
// through the last hop. Grounded on leighmcculloch-silo's bastion-hop
// dialing pattern, generalized from a single bastion to an arbitrary chain.
func (b *transportBuilder) dialViaJumpChain(ctx context.Context, opts ConnectOptions) (net.Conn, *jumpChain, error) {
	chain := &jumpChain{}

	var currentConn net.Conn
	var err error

	for i, hop := range b.cfg.JumpHosts {
		var hopConn net.Conn
		if currentConn == nil {
			hopConn, err = b.dialDirect(ctx, hop.Host, hop.Port)
			if err != nil {
				chain.closeAll()
				return nil, nil, err
			}
		} else {
			hopConn = currentConn
		}

		hopCfg := &ClientConfig{
			Host:          hop.Host,
			Port:          hop.Port,
			User:          hop.User,
			KeyFile:       hop.Key,
			AllowAgent:    b.cfg.AllowAgent,
			LookForKeys:   b.cfg.LookForKeys,
			HostKeyPolicy: b.cfg.HostKeyPolicy,
			HostKeysFile:  b.cfg.HostKeysFile,
			Timeouts:      b.cfg.Timeouts,
			Logger:        b.logger,
		}

		hopOpts := ConnectOptions{
			Password:           opts.JumpPasswords[net.JoinHostPort(hop.Host, strconv.Itoa(hop.Port))],
			InteractiveHandler: opts.InteractiveHandler,
			AskPassword:        opts.AskPassword,
		}

		authMethods, aerr := buildAuthMethods(hopCfg, hopOpts)
		if aerr != nil {
			chain.closeAll()
			return nil, nil, aerr
		}
		hostKeyCb, herr := buildHostKeyCallback(b.logger, hopCfg.HostKeyPolicy, hopCfg.HostKeysFile)
		if herr != nil {
			chain.closeAll()
			return nil, nil, herr
		}

		clientConfig := &ssh.ClientConfig{
			User:            hop.User,
			Auth:            authMethods,
			HostKeyCallback: hostKeyCb,
			Timeout:         b.cfg.Timeouts.Connect,
		}

		addr := net.JoinHostPort(hop.Host, strconv.Itoa(hop.Port))
		sshConn, chans, reqs, cerr := ssh.NewClientConn(hopConn, addr, clientConfig)
		if cerr != nil {
			hopConn.Close()
			chain.closeAll()
			return nil, nil, newNetworkError(fmt.Sprintf("connecting to jump host %s: %s", addr, cerr), cerr)
		}
		client := ssh.NewClient(sshConn, chans, reqs)
		chain.clients = append(chain.clients, client)

		// Determine the address to dial from this hop: the next jump host,
		// or the final target if this was the last hop.
		var dialHost string
		var dialPort int
		if i+1 < len(b.cfg.JumpHosts) {
			dialHost = b.cfg.JumpHosts[i+1].Host
			dialPort = b.cfg.JumpHosts[i+1].Port
		} else {
			dialHost = b.cfg.Host
			dialPort = b.cfg.Port
		}

		nextConn, derr := client.Dial("tcp", net.JoinHostPort(dialHost, strconv.Itoa(dialPort)))
		if derr != nil {
			chain.closeAll()
			return nil, nil, newChannelError(fmt.Sprintf("dialing %s through jump host %s: %s", dialHost, hop.Host, derr))
		}
		currentConn = nextConn
	}

	return currentConn, chain, nil
}
