package sshclient

import (
	"context"
	"io"
	"net"
	"testing"
	"time"
)

// startEchoServer runs a trivial TCP echo server for forward/socks tests to
// dial through the SSH tunnel.
func startEchoServer(t *testing.T) net.Listener {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("starting echo server: %s", err)
	}
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go func() {
				io.Copy(conn, conn)
				conn.Close()
			}()
		}
	}()
	return listener
}

func connectedTestSession(t *testing.T) (*Session, func()) {
	t.Helper()
	srv := startTestSSHServer(t, "testuser", "s3cret")
	cfg := testClientConfig(t, srv.addr)
	session := NewSession(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := session.Connect(ctx, ConnectOptions{Password: "s3cret"}); err != nil {
		srv.Close()
		t.Fatalf("Connect failed: %s", err)
	}

	return session, func() {
		session.Close()
		srv.Close()
	}
}

func TestPortForwarderRoundTrip(t *testing.T) {
	session, cleanup := connectedTestSession(t)
	defer cleanup()

	echoListener := startEchoServer(t)
	defer echoListener.Close()
	echoHost, echoPort, err := net.SplitHostPort(echoListener.Addr().String())
	if err != nil {
		t.Fatalf("splitting echo addr: %s", err)
	}
	echoPortNum := mustAtoi(t, echoPort)

	fwd, err := session.AddForward("127.0.0.1", 0, echoHost, echoPortNum)
	if err != nil {
		t.Fatalf("AddForward failed: %s", err)
	}
	defer fwd.Close()

	conn, err := net.Dial("tcp", fwd.Addr().String())
	if err != nil {
		t.Fatalf("dialing forwarded port: %s", err)
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(3 * time.Second))
	if _, err := conn.Write([]byte("hello tunnel")); err != nil {
		t.Fatalf("writing to forwarded connection: %s", err)
	}
	buf := make([]byte, len("hello tunnel"))
	if _, err := io.ReadFull(conn, buf); err != nil {
		t.Fatalf("reading echoed bytes: %s", err)
	}
	if string(buf) != "hello tunnel" {
		t.Errorf("got %q, want %q", buf, "hello tunnel")
	}
}

func mustAtoi(t *testing.T, s string) int {
	t.Helper()
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			t.Fatalf("not a number: %q", s)
		}
		n = n*10 + int(r-'0')
	}
	return n
}
