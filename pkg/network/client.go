package network

import (
	"bufio"
	"context"
	"io"
	"log"
	"net"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/chatnet/chatapp/pkg/protocol"
	"github.com/chatnet/chatapp/pkg/transport"
)

// seenCacheSize bounds the duplicate-suppression cache of recently
// received message ids.
const seenCacheSize = 512

// ClientConfig holds the parsed client-mode options.
type ClientConfig struct {
	Name       string
	ServerIP   string
	ServerPort int
	ClientPort int

	// Retry is the reliable-send cadence. Defaults to the protocol
	// cadence of 6 attempts at 500ms.
	Retry RetryPolicy
}

// InboxEntry is one direct message buffered while the client is busy
// in a group.
type InboxEntry struct {
	Sender string
	Text   string
}

// Client is the client-side protocol engine: registration state,
// presence-table cache, mode-gated command dispatch and the inbound
// envelope dispatcher. The listener goroutine and the command loop
// share the session state under one mutex.
type Client struct {
	cfg        ClientConfig
	conn       *transport.Conn
	serverAddr *net.UDPAddr
	clientIP   string

	mu          sync.Mutex
	registered  bool
	activeGroup string
	connections map[string]protocol.PresenceRecord
	inbox       []InboxEntry

	ack  AckFlag
	seen *lru.Cache[string, struct{}]

	stop context.CancelFunc

	// display receives every user-visible line. Defaults to
	// log.Printf; tests substitute a capture.
	display func(format string, args ...any)
}

// NewClient creates a client; the socket is bound by Run.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Retry.Attempts == 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	seen, _ := lru.New[string, struct{}](seenCacheSize)
	return &Client{
		cfg:         cfg,
		connections: make(map[string]protocol.PresenceRecord),
		seen:        seen,
		display:     log.Printf,
	}
}

// SetDisplay redirects user-visible output.
func (c *Client) SetDisplay(display func(format string, args ...any)) {
	c.display = display
}

// Run binds the client socket, starts the listener, sends the one-shot
// registration and then serves the command loop over input until ctx
// is cancelled, input drains, or the session terminates.
func (c *Client) Run(ctx context.Context, input io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.stop = cancel

	conn, err := transport.Listen("0.0.0.0", c.cfg.ClientPort)
	if err != nil {
		return err
	}
	defer conn.Close()
	c.conn = conn
	if c.cfg.ClientPort == 0 {
		c.cfg.ClientPort = conn.LocalAddr().Port
	}

	c.serverAddr, err = transport.Resolve(c.cfg.ServerIP, c.cfg.ServerPort)
	if err != nil {
		return err
	}
	c.clientIP = transport.LocalIP(c.serverAddr)

	serveErr := make(chan error, 1)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		serveErr <- conn.Serve(ctx, c.handle)
	}()

	// Registration is sent exactly once, outside the retry engine.
	// The server is assumed reachable at startup; a lost datagram
	// leaves the session unregistered.
	if err := c.sendToServer(protocol.TypeRegistration, nil); err != nil {
		cancel()
		wg.Wait()
		return err
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(input)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			log.Println("Client shut down")
			return nil
		case err := <-serveErr:
			cancel()
			return err
		case line, ok := <-lines:
			if !ok {
				cancel()
				wg.Wait()
				return nil
			}
			if err := c.Execute(line); err != nil {
				c.display("%v", err)
			}
		}
	}
}

// terminate ends the session; the listener observes the cancellation
// within one poll interval.
func (c *Client) terminate() {
	if c.stop != nil {
		c.stop()
	}
}

// metadata builds this client's identity metadata for outbound
// envelopes. NewEnvelope stamps the message id.
func (c *Client) metadata() protocol.Metadata {
	return protocol.Metadata{
		Name:       c.cfg.Name,
		ServerIP:   c.cfg.ServerIP,
		ServerPort: c.cfg.ServerPort,
		ClientIP:   c.clientIP,
		ClientPort: c.cfg.ClientPort,
	}
}

// sendToServer fires one envelope at the server with no retry.
func (c *Client) sendToServer(msgType string, payload any) error {
	env, err := protocol.NewEnvelope(msgType, payload, c.metadata())
	if err != nil {
		return err
	}
	return c.conn.Send(env, c.serverAddr)
}

// request sends a server-directed envelope through the retry engine.
// The envelope is built once so every retransmission carries the same
// message id. Exhaustion means the server is gone: the session ends.
func (c *Client) request(msgType string, payload any) error {
	env, err := protocol.NewEnvelope(msgType, payload, c.metadata())
	if err != nil {
		return err
	}
	return c.cfg.Retry.Run(
		func() error { return c.conn.Send(env, c.serverAddr) },
		&c.ack,
		func() {
			c.display("Server not responding, exiting.")
			c.terminate()
		},
	)
}

func (c *Client) inGroup() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeGroup != ""
}

func (c *Client) group() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeGroup
}

func (c *Client) lookup(name string) (protocol.PresenceRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.connections[name]
	return rec, ok
}

// Registered reports whether the server confirmed the registration.
func (c *Client) Registered() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registered
}

// Connections returns a copy of the local presence snapshot.
func (c *Client) Connections() map[string]protocol.PresenceRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := make(map[string]protocol.PresenceRecord, len(c.connections))
	for name, rec := range c.connections {
		snap[name] = rec
	}
	return snap
}

// duplicate records the message id and reports whether it was already
// seen. Blank ids are never treated as duplicates.
func (c *Client) duplicate(messageID string) bool {
	if messageID == "" {
		return false
	}
	seen, _ := c.seen.ContainsOrAdd(messageID, struct{}{})
	return seen
}

// handle dispatches one inbound envelope. It runs on the listener
// goroutine; only the pending-ack flag and session state are touched,
// never the retry engine.
func (c *Client) handle(env *protocol.Envelope, from *net.UDPAddr) {
	switch env.Type {
	case protocol.TypeRegistrationConfirmation:
		c.mu.Lock()
		c.registered = true
		c.mu.Unlock()
		c.display("Welcome, You are registered.")

	case protocol.TypeRegistrationError:
		var reason protocol.ErrorPayload
		_ = env.DecodePayload(&reason)
		c.display("Registration rejected: %s", reason.Reason)
		c.terminate()

	case protocol.TypeStateChange:
		c.handleStateChange(env)

	case protocol.TypeDeregistrationConfirm:
		c.mu.Lock()
		c.registered = false
		c.mu.Unlock()
		c.ack.Set()
		c.display("You are Offline. Bye.")
		c.terminate()

	case protocol.TypeCreateGroupAck:
		var group protocol.GroupPayload
		_ = env.DecodePayload(&group)
		c.ack.Set()
		c.display("Group %s created.", group.Group)

	case protocol.TypeCreateGroupError:
		var reason protocol.ErrorPayload
		_ = env.DecodePayload(&reason)
		c.ack.Set()
		c.display("Create group failed: %s", reason.Reason)

	case protocol.TypeJoinGroupAck:
		var group protocol.GroupPayload
		_ = env.DecodePayload(&group)
		c.mu.Lock()
		c.activeGroup = group.Group
		c.mu.Unlock()
		c.ack.Set()
		c.display("You are in group %s.", group.Group)

	case protocol.TypeJoinGroupError:
		var reason protocol.ErrorPayload
		_ = env.DecodePayload(&reason)
		c.ack.Set()
		c.display("Join group failed: %s", reason.Reason)

	case protocol.TypeListGroupsAck:
		var list protocol.GroupListPayload
		_ = env.DecodePayload(&list)
		c.ack.Set()
		c.display("Available groups: %v", list.Groups)

	case protocol.TypeMembersList:
		var list protocol.MemberListPayload
		_ = env.DecodePayload(&list)
		c.ack.Set()
		c.display("Members of %s: %v", list.Group, list.Members)

	case protocol.TypeLeaveGroupAck:
		c.handleLeaveGroupAck()

	case protocol.TypeMessageAck:
		c.ack.Set()
		c.display("Message received by %s.", env.Metadata.Name)

	case protocol.TypeClientOfflineAck:
		c.ack.Set()

	case protocol.TypeGroupMessageAck:
		c.ack.Set()
		c.display("Message received by Server.")

	case protocol.TypeMessage:
		c.handleDirectMessage(env, from)

	case protocol.TypeGroupMessage:
		c.handleGroupMessage(env)

	default:
		log.Printf("Unknown message type %q from %s, ignoring", env.Type, from)
	}
}

// handleStateChange replaces the local presence snapshot wholesale.
// Processing an identical duplicate leaves visible state unchanged.
func (c *Client) handleStateChange(env *protocol.Envelope) {
	var state protocol.StateChangePayload
	if err := env.DecodePayload(&state); err != nil {
		log.Printf("⚠️  %v", err)
		return
	}
	if state.Clients == nil {
		state.Clients = make(map[string]protocol.PresenceRecord)
	}
	c.mu.Lock()
	c.connections = state.Clients
	names := make([]string, 0, len(c.connections))
	for name := range c.connections {
		names = append(names, name)
	}
	c.mu.Unlock()
	c.display("Client table updated: %d online.", len(names))
}

// handleDirectMessage always acks back to the sender, even for a
// duplicate delivery, so the peer's retry loop settles. Display
// happens once per message id: immediately in direct mode, buffered
// into the inbox while in a group.
func (c *Client) handleDirectMessage(env *protocol.Envelope, from *net.UDPAddr) {
	var msg protocol.TextPayload
	if err := env.DecodePayload(&msg); err != nil {
		log.Printf("⚠️  %v", err)
		return
	}
	sender := env.Metadata.Name

	ackEnv, err := protocol.NewEnvelope(protocol.TypeMessageAck, nil, c.metadata())
	if err == nil {
		if err := c.conn.Send(ackEnv, from); err != nil {
			log.Printf("⚠️  message_ack to %q: %v", sender, err)
		}
	}

	if c.duplicate(env.Metadata.MessageID) {
		return
	}

	c.mu.Lock()
	busy := c.activeGroup != ""
	if busy {
		c.inbox = append(c.inbox, InboxEntry{Sender: sender, Text: msg.Text})
	}
	c.mu.Unlock()
	if !busy {
		c.display("%s: %s", sender, msg.Text)
	}
}

// handleGroupMessage displays the fan-out copy and acks the server,
// the fan-out authority, not the original sender.
func (c *Client) handleGroupMessage(env *protocol.Envelope) {
	var msg protocol.GroupMessagePayload
	if err := env.DecodePayload(&msg); err != nil {
		log.Printf("⚠️  %v", err)
		return
	}

	ack := protocol.GroupAckPayload{Group: msg.Group, BroadcastID: msg.BroadcastID}
	if err := c.sendToServer(protocol.TypeGroupMessageAck, ack); err != nil {
		log.Printf("⚠️  group_message_ack: %v", err)
	}

	if c.duplicate(env.Metadata.MessageID) {
		return
	}
	c.display("Group %s> %s: %s", msg.Group, msg.Sender, msg.Text)
}

// handleLeaveGroupAck exits group mode and flushes the buffered inbox
// to the display in arrival order.
func (c *Client) handleLeaveGroupAck() {
	c.mu.Lock()
	group := c.activeGroup
	c.activeGroup = ""
	flushed := c.inbox
	c.inbox = nil
	c.mu.Unlock()

	c.ack.Set()
	c.display("You left group %s.", group)
	for _, entry := range flushed {
		c.display("%s: %s", entry.Sender, entry.Text)
	}
}

// reportOffline reliably tells the server that peer never acked a
// direct message, so the server can evict it from the presence table.
func (c *Client) reportOffline(peer string) {
	if err := c.request(protocol.TypeClientOffline, protocol.OfflinePayload{Name: peer}); err != nil {
		c.display("Failed to report %s offline: %v", peer, err)
		return
	}
}
