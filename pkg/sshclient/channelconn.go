package sshclient

import (
	"io"
	"sync"
	"sync/atomic"

	"golang.org/x/crypto/ssh"
)

// WriteHalfCloser is implemented by connections that can shut down their
// write side independently of the read side (net.TCPConn.CloseWrite and
// ssh.Channel.CloseWrite both qualify).
type WriteHalfCloser interface {
	CloseWrite() error
}

// ChannelConn is a bidirectional byte stream with independent half-close,
// used to represent both local sockets (PortForwarder/SocksProxy accepted
// connections) and remote SSH channels (direct-tcpip, x11) so that a single
// splice implementation bridges either combination. Grounded on the
// teacher's share/channel_conn.go ChannelConn interface.
type ChannelConn interface {
	io.ReadWriteCloser
	WriteHalfCloser
	String() string
}

var nextConnID int32

func allocConnID() int32 { return atomic.AddInt32(&nextConnID, 1) }

// socketConn wraps a net.Conn (or any io.ReadWriteCloser) as a ChannelConn;
// CloseWrite is a no-op when the wrapped value has no CloseWrite method.
type socketConn struct {
	name string
	conn interface {
		io.ReadWriteCloser
	}
	whc WriteHalfCloser
}

func newSocketConnFromReadWriteCloser(name string, conn io.ReadWriteCloser) *socketConn {
	whc, _ := conn.(WriteHalfCloser)
	return &socketConn{name: name, conn: conn, whc: whc}
}

func (c *socketConn) Read(p []byte) (int, error)  { return c.conn.Read(p) }
func (c *socketConn) Write(p []byte) (int, error) { return c.conn.Write(p) }
func (c *socketConn) Close() error                { return c.conn.Close() }
func (c *socketConn) String() string              { return c.name }

func (c *socketConn) CloseWrite() error {
	if c.whc != nil {
		return c.whc.CloseWrite()
	}
	return nil
}

// sshChanConn wraps an ssh.Channel (an SSH direct-tcpip or x11 channel) as a
// ChannelConn.
type sshChanConn struct {
	name string
	ch   ssh.Channel
}

func newSSHChanConn(name string, ch ssh.Channel) *sshChanConn {
	return &sshChanConn{name: name, ch: ch}
}

func (c *sshChanConn) Read(p []byte) (int, error)  { return c.ch.Read(p) }
func (c *sshChanConn) Write(p []byte) (int, error) { return c.ch.Write(p) }
func (c *sshChanConn) Close() error                { return c.ch.Close() }
func (c *sshChanConn) CloseWrite() error           { return c.ch.CloseWrite() }
func (c *sshChanConn) String() string              { return c.name }

// spliceChannels connects two ChannelConns bidirectionally, copying until
// both directions reach EOF, then closes both. Grounded on the teacher's
// share/channel.go BasicBridgeChannels. Returns bytes moved in each
// direction and the first error encountered, if any.
func spliceChannels(a, b ChannelConn) (aToB int64, bToA int64, err error) {
	var wg sync.WaitGroup
	var errA, errB error
	wg.Add(2)
	go func() {
		defer wg.Done()
		aToB, errA = io.Copy(b, a)
		b.CloseWrite()
	}()
	go func() {
		defer wg.Done()
		bToA, errB = io.Copy(a, b)
		a.CloseWrite()
	}()
	wg.Wait()
	a.Close()
	b.Close()
	err = errA
	if err == nil {
		err = errB
	}
	return aToB, bToA, err
}
