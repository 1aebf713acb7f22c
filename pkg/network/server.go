package network

import (
	"context"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chatnet/chatapp/pkg/protocol"
	"github.com/chatnet/chatapp/pkg/transport"
)

// ServerConfig holds server construction parameters.
type ServerConfig struct {
	Port int

	// AckWait is the cadence of the per-broadcast background wait
	// task. Defaults to the protocol retry cadence.
	AckWait RetryPolicy
}

// DefaultServerConfig returns the production configuration for port.
func DefaultServerConfig(port int) ServerConfig {
	return ServerConfig{Port: port, AckWait: DefaultRetryPolicy()}
}

// Stats are the server's monotonic counters, exposed on the status API.
type Stats struct {
	Datagrams  uint64 `json:"datagrams"`
	Broadcasts uint64 `json:"state_broadcasts"`
	Fanouts    uint64 `json:"group_fanouts"`
	Evictions  uint64 `json:"evictions"`
}

// Server owns the presence table, the group registry and the per-group
// ack trackers, and serves the UDP dispatch loop over them. All
// cross-client state lives here; clients only ever see snapshots.
type Server struct {
	cfg      ServerConfig
	conn     *transport.Conn
	presence *PresenceTable
	groups   *GroupRegistry

	wg        sync.WaitGroup
	ctx       context.Context
	serveErr  chan error
	startTime time.Time

	datagrams  atomic.Uint64
	broadcasts atomic.Uint64
	fanouts    atomic.Uint64
	evictions  atomic.Uint64
}

// NewServer creates a server; the socket is bound by Run.
func NewServer(cfg ServerConfig) *Server {
	if cfg.AckWait.Attempts == 0 {
		cfg.AckWait = DefaultRetryPolicy()
	}
	return &Server{
		cfg:      cfg,
		presence: NewPresenceTable(),
		groups:   NewGroupRegistry(),
	}
}

// Start binds the UDP socket and launches the dispatch loop in the
// background. The loop runs until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	conn, err := transport.Listen("0.0.0.0", s.cfg.Port)
	if err != nil {
		return err
	}
	s.conn = conn
	s.ctx = ctx
	s.startTime = time.Now()
	s.serveErr = make(chan error, 1)

	log.Printf("✓ Server listening on %s", conn.LocalAddr())
	go func() {
		s.serveErr <- conn.Serve(ctx, s.handle)
	}()
	return nil
}

// Wait blocks until the dispatch loop exits, then joins the in-flight
// broadcast wait tasks and releases the socket.
func (s *Server) Wait() error {
	err := <-s.serveErr
	s.wg.Wait()
	s.conn.Close()
	log.Println("Server stopped")
	return err
}

// Run is Start plus Wait: serve until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	return s.Wait()
}

// LocalAddr returns the bound address once Run has started.
func (s *Server) LocalAddr() *net.UDPAddr {
	return s.conn.LocalAddr()
}

// PresenceSnapshot exposes a copy of the presence table.
func (s *Server) PresenceSnapshot() map[string]protocol.PresenceRecord {
	return s.presence.Snapshot()
}

// GroupSnapshot exposes a copy of every group's member list.
func (s *Server) GroupSnapshot() map[string][]string {
	return s.groups.Snapshot()
}

// Stats returns the current counter values.
func (s *Server) Stats() Stats {
	return Stats{
		Datagrams:  s.datagrams.Load(),
		Broadcasts: s.broadcasts.Load(),
		Fanouts:    s.fanouts.Load(),
		Evictions:  s.evictions.Load(),
	}
}

// Uptime reports how long the server has been running.
func (s *Server) Uptime() time.Duration {
	if s.startTime.IsZero() {
		return 0
	}
	return time.Since(s.startTime)
}

// handle dispatches one inbound envelope by type. It runs on the
// receive-loop goroutine; nothing here may block on acks.
func (s *Server) handle(env *protocol.Envelope, from *net.UDPAddr) {
	s.datagrams.Add(1)

	switch env.Type {
	case protocol.TypeRegistration:
		s.handleRegistration(env, from)
	case protocol.TypeDeregistration:
		s.handleDeregistration(env, from)
	case protocol.TypeClientOffline:
		s.handleClientOffline(env, from)
	case protocol.TypeCreateGroup:
		s.handleCreateGroup(env, from)
	case protocol.TypeJoinGroup:
		s.handleJoinGroup(env, from)
	case protocol.TypeLeaveGroup:
		s.handleLeaveGroup(env, from)
	case protocol.TypeListGroups:
		s.handleListGroups(env, from)
	case protocol.TypeListMembers:
		s.handleListMembers(env, from)
	case protocol.TypeGroupMessage:
		s.handleGroupMessage(env, from)
	case protocol.TypeGroupMessageAck:
		s.handleGroupMessageAck(env)
	default:
		log.Printf("Unknown message type %q from %s, dropping", env.Type, from)
	}
}

// metadata builds the server's identity metadata for outbound envelopes.
func (s *Server) metadata() protocol.Metadata {
	return protocol.Metadata{
		Name:       protocol.ServerName,
		ServerPort: s.cfg.Port,
	}
}

// reply sends one envelope back to the source address of a request.
func (s *Server) reply(msgType string, payload any, to *net.UDPAddr) {
	env, err := protocol.NewEnvelope(msgType, payload, s.metadata())
	if err != nil {
		log.Printf("⚠️  Building %s reply: %v", msgType, err)
		return
	}
	if err := s.conn.Send(env, to); err != nil {
		log.Printf("⚠️  Sending %s to %s: %v", msgType, to, err)
	}
}

// recordAddr is the address a registered client listens on.
func recordAddr(rec protocol.PresenceRecord) *net.UDPAddr {
	return &net.UDPAddr{IP: net.ParseIP(rec.ClientIP), Port: rec.ClientPort}
}
