package rpc

import (
	"fmt"
	"net"
	"net/rpc"
	"time"
)

// Client talks to a running attack process's control plane over a Unix
// domain socket.
type Client struct {
	rpcClient *rpc.Client
}

// Dial connects to sockPath (DefaultSocketPath if empty) with a short
// timeout, for CLI commands that must fail fast when no process is
// listening.
func Dial(sockPath string) (*Client, error) {
	if sockPath == "" {
		sockPath = DefaultSocketPath
	}
	conn, err := net.DialTimeout("unix", sockPath, 3*time.Second)
	if err != nil {
		return nil, fmt.Errorf("rpc: dial %s: %w", sockPath, err)
	}
	return &Client{rpcClient: rpc.NewClient(conn)}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.rpcClient.Close()
}

// Status fetches the controller's lifecycle state and metrics snapshot.
func (c *Client) Status() (*StatusReply, error) {
	var reply StatusReply
	if err := c.rpcClient.Call("Service.Status", &StatusArgs{}, &reply); err != nil {
		return nil, fmt.Errorf("rpc: status: %w", err)
	}
	return &reply, nil
}

// Abort requests the running attack stop early.
func (c *Client) Abort() error {
	var reply AbortReply
	if err := c.rpcClient.Call("Service.Abort", &AbortArgs{}, &reply); err != nil {
		return fmt.Errorf("rpc: abort: %w", err)
	}
	return nil
}

// Reload is a no-op round trip; see Service.Reload.
func (c *Client) Reload() error {
	var reply ReloadReply
	if err := c.rpcClient.Call("Service.Reload", &ReloadArgs{}, &reply); err != nil {
		return fmt.Errorf("rpc: reload: %w", err)
	}
	return nil
}
