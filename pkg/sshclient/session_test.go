package sshclient

import (
	"context"
	"net"
	"path/filepath"
	"strconv"
	"testing"
	"time"
)

func testClientConfig(t *testing.T, addr string) *ClientConfig {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("splitting test server addr %q: %s", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parsing test server port %q: %s", portStr, err)
	}

	cfg := NewClientConfig(host, "testuser")
	cfg.Port = port
	cfg.X11 = false
	cfg.HostKeyPolicy = HostKeyWarn
	cfg.HostKeysFile = filepath.Join(t.TempDir(), "known_hosts")
	cfg.Timeouts.Connect = 5 * time.Second
	cfg.Timeouts.Auth = 5 * time.Second
	return cfg
}

func TestSessionConnectAndExecCommand(t *testing.T) {
	srv := startTestSSHServer(t, "testuser", "s3cret")
	defer srv.Close()

	cfg := testClientConfig(t, srv.addr)
	session := NewSession(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := session.Connect(ctx, ConnectOptions{Password: "s3cret"}); err != nil {
		t.Fatalf("Connect failed: %s", err)
	}
	defer session.Close()

	if session.State() != stateAuthenticated {
		t.Fatalf("expected state authenticated, got %v", session.State())
	}

	result, err := session.ExecCommand(ctx, "echo hello")
	if err != nil {
		t.Fatalf("ExecCommand failed: %s", err)
	}
	if string(result.Stdout) != "echo hello" {
		t.Errorf("Stdout = %q, want %q (the fixture echoes the command verbatim)", result.Stdout, "echo hello")
	}
	if result.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", result.ExitCode)
	}
}

func TestSessionConnectWrongPasswordFails(t *testing.T) {
	srv := startTestSSHServer(t, "testuser", "s3cret")
	defer srv.Close()

	cfg := testClientConfig(t, srv.addr)
	session := NewSession(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := session.Connect(ctx, ConnectOptions{Password: "wrong"})
	if err == nil {
		t.Fatalf("expected Connect to fail with the wrong password")
	}
	if _, ok := err.(*AuthenticationError); !ok {
		t.Errorf("got error of type %T, want *AuthenticationError", err)
	}
}

func TestSessionInvokeShellSendAndReceive(t *testing.T) {
	srv := startTestSSHServer(t, "testuser", "s3cret")
	defer srv.Close()

	cfg := testClientConfig(t, srv.addr)
	session := NewSession(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := session.Connect(ctx, ConnectOptions{Password: "s3cret"}); err != nil {
		t.Fatalf("Connect failed: %s", err)
	}
	defer session.Close()

	shell, err := session.InvokeShell()
	if err != nil {
		t.Fatalf("InvokeShell failed: %s", err)
	}

	received := make(chan []byte, 1)
	shell.OnReceive(func(data []byte) {
		received <- data
	})

	if err := shell.Send([]byte("ping")); err != nil {
		t.Fatalf("Send failed: %s", err)
	}

	select {
	case data := <-received:
		if string(data) != "ping" {
			t.Errorf("received %q, want echoed %q", data, "ping")
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for the echoed shell output")
	}

	if !shell.Active() {
		t.Errorf("shell should still be active")
	}
}

func TestSessionCommandResultYieldsRepeatedRuns(t *testing.T) {
	srv := startTestSSHServer(t, "testuser", "s3cret")
	defer srv.Close()

	cfg := testClientConfig(t, srv.addr)
	session := NewSession(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := session.Connect(ctx, ConnectOptions{Password: "s3cret"}); err != nil {
		t.Fatalf("Connect failed: %s", err)
	}
	defer session.Close()

	items := session.CommandResult(ctx, "echo repeat", 3, 10*time.Millisecond, 2*time.Second)

	count := 0
	for item := range items {
		count++
		if item.Err != nil {
			t.Fatalf("unexpected error on repetition %d: %s", count, item.Err)
		}
		if item.Output != "echo repeat" {
			t.Errorf("repetition %d: got %q, want %q (the fixture echoes the command verbatim)", count, item.Output, "echo repeat")
		}
	}
	if count != 3 {
		t.Errorf("got %d repetitions, want 3", count)
	}
}

func TestSessionCommandResultUnsupportedOnProxyCommand(t *testing.T) {
	cfg := NewClientConfig("example.invalid", "testuser")
	cfg.ProxyCommand = "true"
	session := NewSession(cfg)
	session.isProxyCmd = true // simulate a session that connected via proxy_command

	items := session.CommandResult(context.Background(), "echo hi", 1, 0, 0)
	item, ok := <-items
	if !ok {
		t.Fatalf("expected one item carrying the UnsupportedInMode error")
	}
	if _, ok := item.Err.(*UnsupportedInMode); !ok {
		t.Errorf("got error of type %T, want *UnsupportedInMode", item.Err)
	}
	if _, more := <-items; more {
		t.Errorf("expected the channel to be closed after the error item")
	}
}
