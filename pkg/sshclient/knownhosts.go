package sshclient

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// buildHostKeyCallback implements the HostKeyPolicy split spec.md §4.3
// requires, grounded on leighmcculloch-silo/backend/ssh/conn.go's
// knownHostsCallback but extended with auto-add/warn (silo only implements
// reject-on-mismatch).
func buildHostKeyCallback(logger Logger, policy HostKeyPolicy, hostKeysFile string) (ssh.HostKeyCallback, error) {
	path := hostKeysFile
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, newConfigurationError(logger.Errorf("cannot determine home directory for known_hosts: %s", err).Error())
		}
		path = filepath.Join(home, ".ssh", "known_hosts")
	}

	// knownhosts.New fails on a missing file, so create an empty one first;
	// an empty store reports every key as unknown, which is exactly what we
	// want for a fresh auto-add store.
	if _, err := os.Stat(path); err != nil {
		if f, cerr := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0600); cerr == nil {
			f.Close()
		}
	}

	baseCallback, err := knownhosts.New(path)
	if err != nil {
		return nil, newConfigurationError(logger.Errorf("parsing known_hosts %s: %s", path, err).Error())
	}

	var mu sync.Mutex

	switch policy {
	case HostKeyReject:
		return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
			if err := baseCallback(hostname, remote, key); err != nil {
				return newBadHostKeyError(logger.Errorf("host key rejected for %s: %s", hostname, err).Error())
			}
			return nil
		}, nil
	case HostKeyWarn:
		return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
			if err := baseCallback(hostname, remote, key); err != nil {
				logger.WLogf("unknown host key for %s accepted under warn policy: %s", hostname, err)
			}
			return nil
		}, nil
	case HostKeyAutoAdd:
		return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
			err := baseCallback(hostname, remote, key)
			if err == nil {
				return nil
			}
			var keyErr *knownhosts.KeyError
			if ok := asKeyError(err, &keyErr); ok && len(keyErr.Want) > 0 {
				// key changed for a known host: refuse, same as reject
				return newBadHostKeyError(logger.Errorf("host key for %s changed: %s", hostname, err).Error())
			}
			mu.Lock()
			defer mu.Unlock()
			f, ferr := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
			if ferr != nil {
				return newConfigurationError(logger.Errorf("cannot open known_hosts %s for append: %s", path, ferr).Error())
			}
			defer f.Close()
			line := knownhosts.Line([]string{knownhosts.Normalize(hostname)}, key)
			if _, werr := fmt.Fprintln(f, line); werr != nil {
				return newConfigurationError(logger.Errorf("cannot append to known_hosts %s: %s", path, werr).Error())
			}
			logger.ILogf("added new host key for %s to %s", hostname, path)
			return nil
		}, nil
	default:
		return nil, newConfigurationError(logger.Errorf("unknown host key policy %q", policy).Error())
	}
}

func asKeyError(err error, target **knownhosts.KeyError) bool {
	ke, ok := err.(*knownhosts.KeyError)
	if ok {
		*target = ke
	}
	return ok
}
