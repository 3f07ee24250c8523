package sshclient

import (
	"io"
	"testing"
	"time"

	"golang.org/x/net/proxy"
)

func TestSocksProxyRoundTrip(t *testing.T) {
	session, cleanup := connectedTestSession(t)
	defer cleanup()

	echoListener := startEchoServer(t)
	defer echoListener.Close()

	socksProxy, err := session.OpenSocksListener("127.0.0.1", 0)
	if err != nil {
		t.Fatalf("OpenSocksListener failed: %s", err)
	}
	defer socksProxy.Close()

	dialer, err := proxy.SOCKS5("tcp", socksProxy.Addr().String(), nil, proxy.Direct)
	if err != nil {
		t.Fatalf("building socks5 client dialer: %s", err)
	}

	conn, err := dialer.Dial("tcp", echoListener.Addr().String())
	if err != nil {
		t.Fatalf("dialing through socks proxy: %s", err)
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(3 * time.Second))
	if _, err := conn.Write([]byte("hi via socks")); err != nil {
		t.Fatalf("writing through socks proxy: %s", err)
	}
	buf := make([]byte, len("hi via socks"))
	if _, err := io.ReadFull(conn, buf); err != nil {
		t.Fatalf("reading echoed bytes: %s", err)
	}
	if string(buf) != "hi via socks" {
		t.Errorf("got %q, want %q", buf, "hi via socks")
	}
}
