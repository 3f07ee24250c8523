// Command sshconsole is a demo CLI wiring together the sshclient library:
// an interactive shell subcommand, a one-shot exec subcommand, and
// subcommands to stand up a local port forward or SOCKS5 proxy through an
// SSH connection.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sammck-go/sshconsole/pkg/sshclient"
)

var help = `
  sshconsole wires up the sshclient library: interactive shells, one-shot
  exec, local port forwarding, and a local SOCKS5 proxy, all tunneled over a
  single SSH connection.

  Version: ` + sshclient.BuildVersion + `
`

func sigIntHandler(ctx context.Context, cancel context.CancelFunc) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sig:
		case <-ctx.Done():
		}
		signal.Stop(sig)
		cancel()
	}()
}

type commonFlags struct {
	host          string
	port          int
	user          string
	keyFile       string
	password      string
	hostKeyPolicy string
	verbose       bool
}

func (f *commonFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.host, "host", "", "remote host")
	cmd.Flags().IntVar(&f.port, "port", 22, "remote port")
	cmd.Flags().StringVar(&f.user, "user", os.Getenv("USER"), "remote user")
	cmd.Flags().StringVar(&f.keyFile, "key", "", "private key file")
	cmd.Flags().StringVar(&f.password, "password", "", "password (insecure; prefer an agent or key)")
	cmd.Flags().StringVar(&f.hostKeyPolicy, "host-key-policy", "auto-add", "reject|auto-add|warn")
	cmd.Flags().BoolVarP(&f.verbose, "verbose", "v", false, "enable debug logging")
}

func (f *commonFlags) buildConfig() (*sshclient.ClientConfig, error) {
	if f.host == "" {
		return nil, fmt.Errorf("--host is required")
	}
	cfg := sshclient.NewClientConfig(f.host, f.user)
	cfg.Port = f.port
	cfg.KeyFile = f.keyFile
	cfg.AllowAgent = true
	cfg.LookForKeys = true

	switch sshclient.HostKeyPolicy(f.hostKeyPolicy) {
	case sshclient.HostKeyReject, sshclient.HostKeyAutoAdd, sshclient.HostKeyWarn:
		cfg.HostKeyPolicy = sshclient.HostKeyPolicy(f.hostKeyPolicy)
	default:
		return nil, fmt.Errorf("invalid --host-key-policy %q", f.hostKeyPolicy)
	}

	level := sshclient.LogLevelInfo
	if f.verbose {
		level = sshclient.LogLevelDebug
	}
	cfg.Logger = sshclient.NewLogger("sshconsole", level)

	return cfg, nil
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigIntHandler(ctx, cancel)

	root := &cobra.Command{
		Use:          "sshconsole",
		Short:        "Interactive SSH client, port forwarder, and SOCKS5 proxy",
		Long:         help,
		SilenceUsage: true,
		Version:      sshclient.BuildVersion,
	}

	root.AddCommand(newShellCmd(ctx), newExecCmd(ctx), newForwardCmd(ctx), newSocksCmd(ctx))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newShellCmd(ctx context.Context) *cobra.Command {
	var f commonFlags
	cmd := &cobra.Command{
		Use:   "shell",
		Short: "Open an interactive shell",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := f.buildConfig()
			if err != nil {
				return err
			}
			client := sshclient.NewClient(cfg)
			if err := client.Connect(ctx, sshclient.ConnectOptions{Password: f.password}); err != nil {
				return err
			}
			defer client.Close()

			shell, err := client.Session().InvokeShell()
			if err != nil {
				return err
			}

			shell.OnReceive(func(data []byte) {
				os.Stdout.Write(data)
			})

			go io.Copy(stdinWriter{shell}, os.Stdin)

			<-shell.ShutdownDoneChan()
			return nil
		},
	}
	f.register(cmd)
	return cmd
}

type stdinWriter struct{ shell *sshclient.ShellChannel }

func (w stdinWriter) Write(p []byte) (int, error) {
	if err := w.shell.Send(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func newExecCmd(ctx context.Context) *cobra.Command {
	var f commonFlags
	cmd := &cobra.Command{
		Use:   "exec -- <command>",
		Short: "Run a single command and print its output",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := f.buildConfig()
			if err != nil {
				return err
			}
			client := sshclient.NewClient(cfg)
			if err := client.Connect(ctx, sshclient.ConnectOptions{Password: f.password}); err != nil {
				return err
			}
			defer client.Close()

			result, err := client.Session().ExecCommand(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}
			os.Stdout.Write(result.Stdout)
			os.Stderr.Write(result.Stderr)
			if result.ExitCode != 0 {
				os.Exit(result.ExitCode)
			}
			return nil
		},
	}
	f.register(cmd)
	return cmd
}

func newForwardCmd(ctx context.Context) *cobra.Command {
	var f commonFlags
	var bind string
	var dst string
	cmd := &cobra.Command{
		Use:   "forward --bind <host:port> --dst <host:port>",
		Short: "Forward a local TCP port through the SSH connection",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := f.buildConfig()
			if err != nil {
				return err
			}
			bindHost, bindPort, err := splitHostPort(bind)
			if err != nil {
				return err
			}
			dstHost, dstPort, err := splitHostPort(dst)
			if err != nil {
				return err
			}

			client := sshclient.NewClient(cfg)
			if err := client.Connect(ctx, sshclient.ConnectOptions{Password: f.password}); err != nil {
				return err
			}
			defer client.Close()

			fwd, err := client.Session().AddForward(bindHost, bindPort, dstHost, dstPort)
			if err != nil {
				return err
			}
			fmt.Printf("forwarding %s -> %s\n", fwd.Addr(), dst)

			<-ctx.Done()
			return nil
		},
	}
	f.register(cmd)
	cmd.Flags().StringVar(&bind, "bind", "127.0.0.1:0", "local bind address:port")
	cmd.Flags().StringVar(&dst, "dst", "", "remote destination host:port")
	return cmd
}

func newSocksCmd(ctx context.Context) *cobra.Command {
	var f commonFlags
	var bind string
	cmd := &cobra.Command{
		Use:   "socks --bind <host:port>",
		Short: "Run a local SOCKS5 proxy through the SSH connection",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := f.buildConfig()
			if err != nil {
				return err
			}
			bindHost, bindPort, err := splitHostPort(bind)
			if err != nil {
				return err
			}

			client := sshclient.NewClient(cfg)
			if err := client.Connect(ctx, sshclient.ConnectOptions{Password: f.password}); err != nil {
				return err
			}
			defer client.Close()

			proxy, err := client.Session().OpenSocksListener(bindHost, bindPort)
			if err != nil {
				return err
			}
			fmt.Printf("socks5 proxy listening on %s\n", proxy.Addr())

			<-ctx.Done()
			return nil
		},
	}
	f.register(cmd)
	cmd.Flags().StringVar(&bind, "bind", "127.0.0.1:1080", "local bind address:port")
	return cmd
}

func splitHostPort(s string) (string, int, error) {
	idx := strings.LastIndex(s, ":")
	if idx < 0 {
		return "", 0, fmt.Errorf("expected host:port, got %q", s)
	}
	port, err := strconv.Atoi(s[idx+1:])
	if err != nil {
		return "", 0, fmt.Errorf("invalid port in %q: %s", s, err)
	}
	return s[:idx], port, nil
}
