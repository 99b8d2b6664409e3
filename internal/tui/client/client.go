package client

import (
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/matheus3301/relay/internal/api"
)

// Client wraps the gRPC connection to the daemon's control socket.
type Client struct {
	conn    *grpc.ClientConn
	Control *api.ControlClient
}

// New dials the daemon's Unix domain socket and returns the control client.
func New(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}

	return &Client{
		conn:    conn,
		Control: api.NewControlClient(conn),
	}, nil
}

// Conn exposes the underlying connection, e.g. for health checks.
func (c *Client) Conn() *grpc.ClientConn { return c.conn }

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
