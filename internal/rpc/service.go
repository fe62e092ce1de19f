// Package rpc implements the local control plane: a net/rpc service over a
// Unix domain socket exposing Status/Abort/Reload against a running Attack
// Controller, for the `stampede status|stop|reload` commands.
package rpc

import (
	"stampede.dev/stampede/internal/attack"
	"stampede.dev/stampede/internal/metrics"
)

// StatusArgs carries no fields; Status takes no parameters.
type StatusArgs struct{}

// StatusReply reports the controller's current lifecycle state and a
// metrics snapshot.
type StatusReply struct {
	State    string
	Snapshot metrics.Snapshot
}

// AbortArgs carries no fields; Abort takes no parameters.
type AbortArgs struct{}

// AbortReply carries no fields.
type AbortReply struct{}

// ReloadArgs carries no fields; Reload takes no parameters.
type ReloadArgs struct{}

// ReloadReply carries no fields.
type ReloadReply struct{}

// Service is the net/rpc receiver registered against the running attack
// process. Its methods satisfy the net/rpc calling convention: exported,
// two args (request, reply pointer), single error return.
type Service struct {
	ctrl  *attack.Controller
	abort func()
}

// NewService builds a Service bound to ctrl. abort is called by Abort to
// cancel the run's context; it may be nil if the caller has no way to
// cancel (e.g. a read-only status probe).
func NewService(ctrl *attack.Controller, abort func()) *Service {
	return &Service{ctrl: ctrl, abort: abort}
}

// Status reports the controller's lifecycle state and current metrics.
func (s *Service) Status(args *StatusArgs, reply *StatusReply) error {
	reply.State = s.ctrl.State().String()
	reply.Snapshot = s.ctrl.Snapshot()
	return nil
}

// Abort cancels the running attack, triggering its Stopping transition.
func (s *Service) Abort(args *AbortArgs, reply *AbortReply) error {
	if s.abort != nil {
		s.abort()
	}
	return nil
}

// Reload is a no-op: task sets are compiled in, not scripted at runtime,
// so there is nothing in a running attack's configuration to hot-reload.
// The RPC exists to keep the control-plane surface uniform with Status and
// Abort.
func (s *Service) Reload(args *ReloadArgs, reply *ReloadReply) error {
	return nil
}
