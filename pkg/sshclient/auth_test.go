package sshclient

import "testing"

func TestBuildAuthMethodsRequiresSomeCredential(t *testing.T) {
	cfg := NewClientConfig("example.com", "alice")
	_, err := buildAuthMethods(cfg, ConnectOptions{})
	if err == nil {
		t.Fatalf("expected an AuthenticationError when no auth material is configured")
	}
	if _, ok := err.(*AuthenticationError); !ok {
		t.Errorf("got error of type %T, want *AuthenticationError", err)
	}
}

func TestBuildAuthMethodsWithPassword(t *testing.T) {
	cfg := NewClientConfig("example.com", "alice")
	methods, err := buildAuthMethods(cfg, ConnectOptions{Password: "hunter2"})
	if err != nil {
		t.Fatalf("buildAuthMethods returned error: %s", err)
	}
	if len(methods) != 1 {
		t.Fatalf("expected exactly one auth method (password), got %d", len(methods))
	}
}

func TestIsAuthFailureDistinguishesFromTransportError(t *testing.T) {
	authErr := newAuthenticationErrorForTest("ssh: handshake failed: unable to authenticate, attempted methods [none password]")
	if !isAuthFailure(authErr) {
		t.Errorf("expected an 'unable to authenticate' message to be classified as an auth failure")
	}

	transportErr := newAuthenticationErrorForTest("dial tcp 10.0.0.1:22: connect: connection refused")
	if isAuthFailure(transportErr) {
		t.Errorf("a dead-transport error should not be classified as an auth failure")
	}
}

// newAuthenticationErrorForTest wraps a raw message the same way
// ssh.NewClientConn's returned errors look, without depending on a live
// network handshake.
func newAuthenticationErrorForTest(msg string) error {
	return &NetworkError{msg: msg}
}
