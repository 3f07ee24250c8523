package sshclient

import (
	"net"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

// InteractiveLoginHandler answers a keyboard-interactive challenge from the
// server. Grounded on spec.md §6's interactive_login_handler.
type InteractiveLoginHandler func(title, instructions string, prompts []string, echoes []bool) ([]string, error)

// AskPasswordFunc supplies a password for a user when the server demands one
// that was not already configured. Grounded on spec.md §6's ask_password.
type AskPasswordFunc func(user string) (string, error)

// ConnectOptions groups the connect-time material spec.md §4.9's connect()
// accepts beyond the static ClientConfig: passwords are deliberately kept
// out of ClientConfig so they are never accidentally logged or persisted
// with it. An empty Passphrase falls back to ClientConfig.Passphrase.
type ConnectOptions struct {
	Password           string
	Passphrase         string
	JumpPasswords      map[string]string // keyed by "host:port"
	InteractiveHandler InteractiveLoginHandler
	AskPassword        AskPasswordFunc
}

// buildAuthMethods assembles the ordered auth method list per spec.md §4.3:
// key file or agent (if enabled) or discovered keys (if look_for_keys), else
// password, with keyboard-interactive appended last when the connect-time
// interactive handler or password callback was supplied.
func buildAuthMethods(cfg *ClientConfig, opts ConnectOptions) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	if cfg.KeyFile != "" {
		passphrase := opts.Passphrase
		if passphrase == "" {
			passphrase = cfg.Passphrase
		}
		signer, err := loadPrivateKey(cfg.KeyFile, passphrase)
		if err != nil {
			return nil, newAuthenticationError(cfg.logger().Errorf("loading key file %s: %s", cfg.KeyFile, err).Error())
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}

	if cfg.AllowAgent {
		if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
			if conn, err := net.Dial("unix", sock); err == nil {
				client := agent.NewClient(conn)
				methods = append(methods, ssh.PublicKeysCallback(client.Signers))
			}
		}
	}

	if cfg.LookForKeys {
		if signers, err := discoverKeys(); err == nil && len(signers) > 0 {
			methods = append(methods, ssh.PublicKeys(signers...))
		}
	}

	if opts.Password != "" {
		methods = append(methods, ssh.Password(opts.Password))
	}

	if opts.InteractiveHandler != nil || opts.AskPassword != nil {
		methods = append(methods, ssh.KeyboardInteractiveChallenge(
			wrapInteractive(cfg, opts)))
	}

	if len(methods) == 0 {
		return nil, newAuthenticationError(cfg.logger().Errorf("no authentication method configured").Error())
	}

	return methods, nil
}

// wrapInteractive adapts the caller's InteractiveLoginHandler/AskPassword
// into the shape golang.org/x/crypto/ssh expects, per spec.md §4.3: "if the
// server demands a password that was not supplied it asks a caller-provided
// password callback", otherwise delegates to the interactive handler.
func wrapInteractive(cfg *ClientConfig, opts ConnectOptions) ssh.KeyboardInteractiveChallenge {
	return func(name, instruction string, questions []string, echos []bool) ([]string, error) {
		if len(questions) == 1 && !echos[0] && opts.AskPassword != nil &&
			strings.Contains(strings.ToLower(questions[0]), "password") {
			pw, err := opts.AskPassword(cfg.User)
			if err != nil {
				return nil, err
			}
			return []string{pw}, nil
		}
		if opts.InteractiveHandler != nil {
			return opts.InteractiveHandler(name, instruction, questions, echos)
		}
		answers := make([]string, len(questions))
		return answers, nil
	}
}

func loadPrivateKey(path, passphrase string) (ssh.Signer, error) {
	key, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if passphrase != "" {
		return ssh.ParsePrivateKeyWithPassphrase(key, []byte(passphrase))
	}
	return ssh.ParsePrivateKey(key)
}

// discoverKeys looks for the conventional identity files under ~/.ssh, per
// spec.md §4.3's look_for_keys.
func discoverKeys() ([]ssh.Signer, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	candidates := []string{"id_rsa", "id_ed25519", "id_ecdsa", "id_dsa"}
	var signers []ssh.Signer
	for _, name := range candidates {
		path := filepath.Join(home, ".ssh", name)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		signer, err := ssh.ParsePrivateKey(data)
		if err != nil {
			continue
		}
		signers = append(signers, signer)
	}
	return signers, nil
}

// isAuthFailure distinguishes "auth failed, transport still alive" from
// "transport died", per spec.md §4.3: ssh.Dial/ssh.NewClientConn surface an
// auth failure as *ssh.PermanentCredentialsError-class message containing
// "unable to authenticate"; anything else (EOF, connection reset, timeout)
// is treated as a dead transport and re-raised unmodified by the caller.
func isAuthFailure(err error) bool {
	return err != nil && strings.Contains(err.Error(), "unable to authenticate")
}
