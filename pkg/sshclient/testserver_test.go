package sshclient

import (
	"crypto/ed25519"
	"crypto/rand"
	"io"
	"net"
	"strconv"
	"testing"

	"golang.org/x/crypto/ssh"
)

// testSSHServer is a minimal in-process SSH server used to exercise Session/
// ShellChannel/exec without a real sshd, grounded on
// thyth-nosshtradamus/internal/sshproxy.RunProxy's ssh.ServerConfig +
// ssh.NewServerConn pattern (that proxy dials onward to a real target; this
// fixture instead answers requests itself, since tests only need a
// well-behaved peer, not a relay).
type testSSHServer struct {
	listener net.Listener
	addr     string
	user     string
	password string
}

func startTestSSHServer(t *testing.T, user, password string) *testSSHServer {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generating host key: %s", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("wrapping host key: %s", err)
	}

	config := &ssh.ServerConfig{
		PasswordCallback: func(conn ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if conn.User() == user && string(pass) == password {
				return nil, nil
			}
			return nil, newAuthenticationError("invalid credentials")
		},
	}
	config.AddHostKey(signer)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listening: %s", err)
	}

	srv := &testSSHServer{listener: listener, addr: listener.Addr().String(), user: user, password: password}
	go srv.serve(t, config)
	return srv
}

func (s *testSSHServer) serve(t *testing.T, config *ssh.ServerConfig) {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.handleConn(t, conn, config)
	}
}

func (s *testSSHServer) handleConn(t *testing.T, conn net.Conn, config *ssh.ServerConfig) {
	sc, chans, reqs, err := ssh.NewServerConn(conn, config)
	if err != nil {
		return
	}
	defer sc.Close()
	go ssh.DiscardRequests(reqs)

	for newCh := range chans {
		switch newCh.ChannelType() {
		case "session":
			ch, requests, err := newCh.Accept()
			if err != nil {
				continue
			}
			go s.handleSession(ch, requests)
		case "direct-tcpip":
			go s.handleDirectTCPIP(newCh)
		default:
			newCh.Reject(ssh.UnknownChannelType, "unsupported channel type")
		}
	}
}

// directTCPIPPayload mirrors the wire layout of a "direct-tcpip" channel
// open request, per RFC 4254 §7.2.
type directTCPIPPayload struct {
	DstHost string
	DstPort uint32
	SrcHost string
	SrcPort uint32
}

// handleDirectTCPIP dials the requested destination for real and splices it
// with the accepted channel, so PortForwarder/SocksProxy tests exercise an
// actual TCP round trip end to end.
func (s *testSSHServer) handleDirectTCPIP(newCh ssh.NewChannel) {
	var req directTCPIPPayload
	if err := ssh.Unmarshal(newCh.ExtraData(), &req); err != nil {
		newCh.Reject(ssh.ConnectionFailed, "malformed direct-tcpip request")
		return
	}

	dst := net.JoinHostPort(req.DstHost, strconv.Itoa(int(req.DstPort)))
	conn, err := net.Dial("tcp", dst)
	if err != nil {
		newCh.Reject(ssh.ConnectionFailed, err.Error())
		return
	}

	ch, requests, err := newCh.Accept()
	if err != nil {
		conn.Close()
		return
	}
	go ssh.DiscardRequests(requests)

	go func() {
		io.Copy(conn, ch)
		conn.Close()
	}()
	io.Copy(ch, conn)
	ch.Close()
}


// handleSession answers "exec" requests by echoing the command back on
// stdout and exiting 0, and "shell"/"pty-req" requests by echoing stdin back
// on stdout until the channel closes — enough behavior for ExecCommand and
// InvokeShell/Send/Active round-trip tests.
func (s *testSSHServer) handleSession(ch ssh.Channel, requests <-chan *ssh.Request) {
	defer ch.Close()
	for req := range requests {
		switch req.Type {
		case "pty-req":
			req.Reply(true, nil)
		case "shell":
			req.Reply(true, nil)
			go func() {
				io.Copy(ch, ch)
				sendExitStatus(ch, 0)
			}()
		case "exec":
			req.Reply(true, nil)
			command := parseExecCommand(req.Payload)
			ch.Write([]byte(command))
			sendExitStatus(ch, 0)
			ch.Close()
		default:
			req.Reply(false, nil)
		}
	}
}

func parseExecCommand(payload []byte) string {
	var cmd struct{ Command string }
	if err := ssh.Unmarshal(payload, &cmd); err != nil {
		return ""
	}
	return cmd.Command
}

func sendExitStatus(ch ssh.Channel, code uint32) {
	var status struct{ Status uint32 }
	status.Status = code
	ch.SendRequest("exit-status", false, ssh.Marshal(&status))
}

func (s *testSSHServer) Close() { s.listener.Close() }
