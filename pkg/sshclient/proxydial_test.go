package sshclient

import (
	"bufio"
	"context"
	"io"
	"net"
	"testing"
	"time"
)

func TestDialHTTPConnect(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listening: %s", err)
	}
	defer listener.Close()

	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		reader := bufio.NewReader(conn)
		if _, err := reader.ReadString('\n'); err != nil {
			return
		}
		for {
			line, err := reader.ReadString('\n')
			if err != nil || line == "\r\n" {
				break
			}
		}
		conn.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n"))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	conn, err := dialHTTPConnect(ctx, listener.Addr().String(), "example.com:443", "", "")
	if err != nil {
		t.Fatalf("dialHTTPConnect failed: %s", err)
	}
	conn.Close()
}

func TestDialSOCKS4(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listening: %s", err)
	}
	defer listener.Close()

	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		req := make([]byte, 9) // minimal SOCKS4 request with an empty userid
		if _, err := io.ReadFull(conn, req); err != nil {
			return
		}
		// if the request used SOCKS4a (invalid IP + hostname suffix) drain the hostname too
		if req[4] == 0 && req[5] == 0 && req[6] == 0 && req[7] == 1 {
			buf := make([]byte, 1)
			for {
				if _, err := conn.Read(buf); err != nil || buf[0] == 0 {
					break
				}
			}
		}
		conn.Write([]byte{0, 0x5a, 0, 0, 0, 0, 0, 0})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	conn, err := dialSOCKS4(ctx, listener.Addr().String(), "example.com", 80)
	if err != nil {
		t.Fatalf("dialSOCKS4 failed: %s", err)
	}
	conn.Close()
}
