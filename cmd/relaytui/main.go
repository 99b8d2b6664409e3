package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/matheus3301/relay/internal/api"
	"github.com/matheus3301/relay/internal/config"
	"github.com/matheus3301/relay/internal/instance"
	"github.com/matheus3301/relay/internal/tui"
	"github.com/matheus3301/relay/internal/tui/client"
)

func main() {
	instanceFlag := flag.String("instance", "", "instance name (overrides config default)")
	gatewayFlag := flag.String("gateway", "", "gateway base URL (default derived from [server] listen)")
	emailFlag := flag.String("email", "", "user to sign in as; a token is issued by the daemon")
	tokenFlag := flag.String("token", "", "access token (instead of --email)")
	flag.Parse()

	name := instance.Resolve(*instanceFlag)
	if err := instance.ValidateName(name); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if *emailFlag == "" && *tokenFlag == "" {
		fmt.Fprintln(os.Stderr, "usage: relaytui [--instance <name>] (--email <email> | --token <jwt>) [--gateway <url>]")
		os.Exit(1)
	}

	socketPath := instance.SocketPath(name)

	// Probe daemon health; auto-start if needed.
	if !probeDaemon(socketPath) {
		fmt.Fprintf(os.Stderr, "daemon not running for instance %q, starting...\n", name)
		if err := startDaemon(name); err != nil {
			fmt.Fprintf(os.Stderr, "failed to start daemon: %v\n", err)
			os.Exit(1)
		}
		if !waitForDaemon(socketPath, 10*time.Second) {
			fmt.Fprintf(os.Stderr, "daemon did not become ready\n")
			os.Exit(1)
		}
	}

	c, err := client.New(socketPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect to daemon: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	token := *tokenFlag
	if token == "" {
		resp, err := c.Control.IssueToken(ctx, &api.IssueTokenRequest{Email: *emailFlag})
		if err != nil {
			fmt.Fprintf(os.Stderr, "sign in as %s: %v\n", *emailFlag, err)
			os.Exit(1)
		}
		token = resp.Token
	}

	gateway := *gatewayFlag
	if gateway == "" {
		gateway = gatewayURL(ctx, c)
	}

	chat, err := client.DialChat(ctx, gateway, token)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect to gateway: %v\n", err)
		os.Exit(1)
	}

	app := tui.NewApp(c, chat, name)
	if err := app.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// gatewayURL asks the daemon where it listens, falling back to the config file.
func gatewayURL(ctx context.Context, c *client.Client) string {
	listen := config.Default().Server.Listen
	if resp, err := c.Control.GetStatus(ctx, &api.GetStatusRequest{}); err == nil && resp.Listen != "" {
		listen = resp.Listen
	} else if cfg, err := config.LoadOrDefault(instance.ConfigPath()); err == nil {
		listen = cfg.Server.Listen
	}

	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return "http://" + listen
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

// probeDaemon runs a gRPC health check for the control service.
func probeDaemon(socketPath string) bool {
	c, err := client.New(socketPath)
	if err != nil {
		return false
	}
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := healthpb.NewHealthClient(c.Conn()).Check(ctx, &healthpb.HealthCheckRequest{Service: api.ServiceName})
	return err == nil && resp.GetStatus() == healthpb.HealthCheckResponse_SERVING
}

func startDaemon(name string) error {
	executable, err := os.Executable()
	if err != nil {
		return err
	}
	relayd := filepath.Join(filepath.Dir(executable), "relayd")

	if _, err := os.Stat(relayd); err != nil {
		relayd = "relayd"
	}

	cmd := exec.Command(relayd, "--instance", name)
	// Inherit stderr so daemon startup errors are visible.
	cmd.Stderr = os.Stderr
	return cmd.Start()
}

func waitForDaemon(socketPath string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if probeDaemon(socketPath) {
			return true
		}
		time.Sleep(300 * time.Millisecond)
	}
	return false
}
