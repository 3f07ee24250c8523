package sshclient

import (
	"context"
	"fmt"
	"time"

	"github.com/jpillora/backoff"
)

// Client is the Orchestrator of spec.md §4.9: it owns a ClientConfig, wires
// together a Session and the configured forwarders/SOCKS listeners at
// Connect time, and owns the ordered shutdown of everything beneath it.
// Grounded on the teacher's top-level Client in client.go, generalized from
// "own a websocket + N proxy targets" to "own an SSH session + N tunnels",
// keeping the same ShutdownHelper-driven ordered-teardown shape.
type Client struct {
	ShutdownHelper

	cfg     *ClientConfig
	logger  Logger
	session *Session

	keepaliveStop chan struct{}
}

// NewClient constructs an unconnected Client from cfg. Call Connect before
// any other operation.
func NewClient(cfg *ClientConfig) *Client {
	c := &Client{
		cfg:    cfg,
		logger: cfg.logger().Fork("client"),
	}
	c.InitShutdownHelper(c.logger, c)
	return c
}

// Connect builds the transport (§4.2), runs the authenticator (§4.3),
// installs the keepalive worker if configured, and sets up any forwards and
// SOCKS listeners named in cfg, per spec.md §4.9's connect(). It does not
// invoke a shell; call Session().InvokeShell() for that.
func (c *Client) Connect(ctx context.Context, opts ConnectOptions) error {
	if err := c.Activate(); err != nil {
		return err
	}

	session := NewSession(c.cfg)
	if err := session.Connect(ctx, opts); err != nil {
		return err
	}
	c.session = session
	c.AddShutdownChild(session)

	if c.cfg.Timeouts.KeepAlive > 0 {
		c.startKeepalive()
	}

	for _, fwd := range c.cfg.LocalForwards {
		if _, err := session.AddForward(fwd.BindAddr, fwd.BindPort, fwd.DstHost, fwd.DstPort); err != nil {
			c.logger.WLogf("configured local forward %s:%d->%s:%d failed: %s",
				fwd.BindAddr, fwd.BindPort, fwd.DstHost, fwd.DstPort, err)
		}
	}
	for _, sc := range c.cfg.LocalSocksListeners {
		if _, err := session.OpenSocksListener(sc.BindAddr, sc.BindPort); err != nil {
			c.logger.WLogf("configured socks listener %s:%d failed: %s", sc.BindAddr, sc.BindPort, err)
		}
	}

	return nil
}

// startKeepalive sends periodic "keepalive@openssh.com" global requests so
// idle connections through NAT/firewalls are not reaped. The interval is
// jittered with jpillora/backoff so many Clients in one process don't all
// probe in lockstep — the only other place besides X11Forwarder's retry
// this module reaches for a backoff primitive (see DESIGN.md's "no reconnect
// loop" note: this is jitter, not retry).
func (c *Client) startKeepalive() {
	c.keepaliveStop = make(chan struct{})
	b := &backoff.Backoff{
		Min:    c.cfg.Timeouts.KeepAlive,
		Max:    c.cfg.Timeouts.KeepAlive + c.cfg.Timeouts.KeepAlive/4,
		Factor: 1,
		Jitter: true,
	}
	go func() {
		for {
			select {
			case <-c.keepaliveStop:
				return
			case <-c.ShutdownStartedChan():
				return
			default:
			}
			client, err := c.session.requireAuthenticated()
			if err != nil {
				return
			}
			if _, _, err := client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
				c.logger.DLogf("keepalive failed, session likely dead: %s", err)
				c.session.StartShutdown(newNetworkError("keepalive failed", err))
				return
			}
			select {
			case <-c.keepaliveStop:
				return
			case <-c.ShutdownStartedChan():
				return
			case <-time.After(b.Duration()):
			}
		}
	}()
}

// Session returns the underlying Session, once Connect has succeeded.
func (c *Client) Session() *Session { return c.session }

// Duplicate creates a sibling Client that re-authenticates over a brand new
// transport to the same host, for use-cases like parallel SFTP transfers
// that want to avoid contending with an interactive session on one
// connection's flow-control window, per spec.md §4.9's duplicate(). Requires
// Connect to have already succeeded.
func (c *Client) Duplicate(ctx context.Context, opts ConnectOptions) (*Client, error) {
	if c.session == nil || c.session.State() == stateIdle {
		return nil, newNotConnectedError("cannot duplicate an unconnected client")
	}
	sib := NewClient(c.cfg)
	if err := sib.Connect(ctx, opts); err != nil {
		return nil, err
	}
	return sib, nil
}

// FullName returns "<host> (<user>)", or "<name> (<user>)" when DisplayName
// is set, per spec.md §4.9's full_name().
func (c *Client) FullName() string {
	name := c.cfg.DisplayName
	if name == "" {
		name = c.cfg.Host
	}
	return fmt.Sprintf("%s (%s)", name, c.cfg.User)
}

// HandleOnceShutdown clears shell_active via the Session's own shutdown
// (driven by AddShutdownChild) and stops the keepalive worker; the Session
// and all its forwarders/SOCKS listeners/X11 forwarder are joined by
// ShutdownHelper's child-wait mechanism before WaitShutdown returns, per
// spec.md §4.9's close()+wait_closed() contract.
func (c *Client) HandleOnceShutdown(completionErr error) error {
	if c.keepaliveStop != nil {
		close(c.keepaliveStop)
	}
	if c.session != nil {
		c.session.StartShutdown(completionErr)
	}
	return completionErr
}
