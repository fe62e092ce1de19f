package rpc

import (
	"context"
	"fmt"
	"net"
	"net/rpc"
	"os"
)

// DefaultSocketPath is where Serve listens and Dial connects by default.
const DefaultSocketPath = "/tmp/stampede.sock"

// Serve registers svc and accepts control-plane connections on a Unix
// socket at sockPath until ctx is cancelled. Any stale socket file left
// behind by a previous, uncleanly-terminated run is removed first.
func Serve(ctx context.Context, sockPath string, svc *Service) error {
	if sockPath == "" {
		sockPath = DefaultSocketPath
	}
	_ = os.Remove(sockPath)

	ln, err := net.Listen("unix", sockPath)
	if err != nil {
		return fmt.Errorf("rpc: listen: %w", err)
	}
	defer os.Remove(sockPath)

	server := rpc.NewServer()
	if err := server.Register(svc); err != nil {
		ln.Close()
		return fmt.Errorf("rpc: register: %w", err)
	}

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("rpc: accept: %w", err)
		}
		go server.ServeConn(conn)
	}
}
