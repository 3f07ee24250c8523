package sshclient

import "time"

// HostKeyPolicy controls how an unknown host key is handled at connect
// time, per spec.md §4.3.
type HostKeyPolicy string

const (
	HostKeyReject  HostKeyPolicy = "reject"
	HostKeyAutoAdd HostKeyPolicy = "auto-add"
	HostKeyWarn    HostKeyPolicy = "warn"
)

// ProxyType enumerates the three proxy transports a ClientConfig can route
// through. Renamed from the source's "proxy_version" per spec.md §9 (the
// field is called ProxyType at this boundary; HTTP is not SOCKS).
type ProxyType string

const (
	ProxyTypeSOCKS4 ProxyType = "socks4"
	ProxyTypeSOCKS5 ProxyType = "socks5"
	ProxyTypeHTTP   ProxyType = "http"
)

// ProxyConfig describes an external SOCKS/HTTP proxy to route the initial
// TCP connection through.
type ProxyConfig struct {
	Type      ProxyType
	Host      string
	Port      int
	Username  string
	Password  string
	RemoteDNS bool // resolve the target host at the proxy rather than locally
}

// JumpHostConfig describes one hop in a jump-host (ProxyJump) chain.
type JumpHostConfig struct {
	Host string
	Port int
	User string
	Key  string // path to a private key file for this hop, optional
}

// LocalForwardConfig describes one local->remote TCP forward to establish
// automatically at connect time, in addition to any added later via
// Session.AddForward.
type LocalForwardConfig struct {
	BindAddr string
	BindPort int
	DstHost  string
	DstPort  int
}

// LocalSocksConfig describes one local SOCKS5 listener to start
// automatically at connect time.
type LocalSocksConfig struct {
	BindAddr string
	BindPort int
}

// Timeouts groups the explicit time bounds spec.md §5 requires every
// blocking operation to accept.
type Timeouts struct {
	Connect   time.Duration
	Banner    time.Duration
	Auth      time.Duration
	KeepAlive time.Duration
}

// ClientConfig is the single, immutable-once-connect-starts configuration
// record for a Client, per spec.md §3. Defaults are documented per-field and
// applied by NewClientConfig; the zero value is not a valid config to pass
// directly to NewClient.
type ClientConfig struct {
	Host string
	Port int // default 22
	User string

	// Authentication material.
	KeyFile     string
	Passphrase  string // supplied at connect-time normally; may be pre-set here for non-interactive use
	AllowAgent  bool
	LookForKeys bool

	Timeouts Timeouts

	// AlgorithmDisableList excludes cipher/mac/kex algorithm names from the
	// underlying ssh.Config. Host-key algorithm names are not filtered.
	AlgorithmDisableList []string

	Env map[string]string

	Term    string // default "linux"
	Cols    int    // default 80
	Rows    int    // default 24
	History int    // default 100

	HostKeyPolicy HostKeyPolicy // default "auto-add"
	HostKeysFile  string        // default ~/.ssh/known_hosts

	X11               bool   // default true
	X11Screen         int    // default 0
	X11AuthProto      string // default "MIT-MAGIC-COOKIE-1"
	X11TryStartServer bool

	JumpHosts    []JumpHostConfig
	ProxyCommand string
	Proxy        *ProxyConfig // nil means no proxy

	LocalSocksListeners []LocalSocksConfig
	LocalForwards       []LocalForwardConfig

	// DisplayName overrides the host in full_name() when set.
	DisplayName string

	Logger Logger
}

// NewClientConfig returns a ClientConfig with the spec.md §6 defaults
// applied: port=22, term="linux", x11=true, screen=0,
// auth-protocol="MIT-MAGIC-COOKIE-1", known-hosts policy="auto-add",
// history=100, pty 80x24.
func NewClientConfig(host, user string) *ClientConfig {
	return &ClientConfig{
		Host:          host,
		Port:          22,
		User:          user,
		Term:          "linux",
		Cols:          80,
		Rows:          24,
		History:       100,
		HostKeyPolicy: HostKeyAutoAdd,
		X11:           true,
		X11Screen:     0,
		X11AuthProto:  "MIT-MAGIC-COOKIE-1",
		Timeouts: Timeouts{
			Connect: 30 * time.Second,
			Banner:  10 * time.Second,
			Auth:    30 * time.Second,
		},
	}
}

func (c *ClientConfig) logger() Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return newDiscardLogger()
}
