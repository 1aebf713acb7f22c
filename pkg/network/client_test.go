package network

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatnet/chatapp/pkg/protocol"
	"github.com/chatnet/chatapp/pkg/transport"
)

// displayCapture collects every user-visible line the client prints.
type displayCapture struct {
	mu    sync.Mutex
	lines []string
}

func (d *displayCapture) printf(format string, args ...any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lines = append(d.lines, fmt.Sprintf(format, args...))
}

func (d *displayCapture) all() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.lines...)
}

func (d *displayCapture) contains(substr string) bool {
	for _, line := range d.all() {
		if strings.Contains(line, substr) {
			return true
		}
	}
	return false
}

// newTestClient wires a client to a bound loopback socket without
// running its command loop, so handlers can be driven directly.
func newTestClient(t *testing.T, serverAddr *net.UDPAddr) (*Client, *displayCapture) {
	t.Helper()
	c := NewClient(ClientConfig{
		Name:       "alice",
		ServerIP:   "127.0.0.1",
		ServerPort: serverAddr.Port,
		Retry:      RetryPolicy{Attempts: 2, Interval: 10 * time.Millisecond},
	})
	conn, err := transport.Listen("127.0.0.1", 0)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	c.conn = conn
	c.serverAddr = serverAddr
	c.clientIP = "127.0.0.1"
	c.cfg.ClientPort = conn.LocalAddr().Port

	d := &displayCapture{}
	c.SetDisplay(d.printf)
	return c, d
}

// newSink is a capture-only UDP endpoint.
func newSink(t *testing.T) *testPeer {
	t.Helper()
	return newTestPeer(t, "sink", nil)
}

func contextWithCleanup(t *testing.T) (context.Context, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx, cancel
}

func TestSendToUnknownRecipientProducesNoTraffic(t *testing.T) {
	sink := newSink(t)
	c, _ := newTestClient(t, sink.conn.LocalAddr())

	err := c.Execute("send ghost hello there")
	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Contains(t, err.Error(), "non-existent recipient")

	// Nothing reached the network.
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, sink.received(protocol.TypeMessage))
	assert.Empty(t, sink.received(protocol.TypeClientOffline))
}

func TestCommandModeGating(t *testing.T) {
	sink := newSink(t)
	c, _ := newTestClient(t, sink.conn.LocalAddr())

	tests := []struct {
		name    string
		inGroup bool
		line    string
	}{
		{name: "send_group in direct mode", line: "send_group hi"},
		{name: "list_members in direct mode", line: "list_members"},
		{name: "leave_group in direct mode", line: "leave_group"},
		{name: "create_group in group mode", inGroup: true, line: "create_group golf"},
		{name: "list_groups in group mode", inGroup: true, line: "list_groups"},
		{name: "join_group in group mode", inGroup: true, line: "join_group golf"},
		{name: "unknown verb", line: "teleport home"},
		{name: "missing send args", line: "send bob"},
		{name: "extra create_group args", line: "create_group golf extra"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c.mu.Lock()
			if tt.inGroup {
				c.activeGroup = "golf"
			} else {
				c.activeGroup = ""
			}
			c.mu.Unlock()

			err := c.Execute(tt.line)
			var cmdErr *CommandError
			assert.ErrorAs(t, err, &cmdErr, "line %q must be rejected locally", tt.line)
		})
	}

	// Rejections never touch the wire.
	time.Sleep(50 * time.Millisecond)
	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Empty(t, sink.got)
}

func TestBlankLineIgnored(t *testing.T) {
	sink := newSink(t)
	c, _ := newTestClient(t, sink.conn.LocalAddr())
	assert.NoError(t, c.Execute("   "))
}

func TestDuplicateStateChangeIdempotent(t *testing.T) {
	sink := newSink(t)
	c, _ := newTestClient(t, sink.conn.LocalAddr())

	payload := protocol.StateChangePayload{Clients: map[string]protocol.PresenceRecord{
		"bob": {Name: "bob", ClientIP: "127.0.0.1", ClientPort: 7001},
	}}
	env, err := protocol.NewEnvelope(protocol.TypeStateChange, payload, protocol.Metadata{Name: protocol.ServerName})
	require.NoError(t, err)

	c.handle(env, sink.conn.LocalAddr())
	first := c.Connections()

	c.handle(env, sink.conn.LocalAddr())
	second := c.Connections()

	assert.Equal(t, first, second, "duplicate state_change must not change visible state")
	assert.Contains(t, second, "bob")
}

func TestDirectMessageAckedAndDisplayed(t *testing.T) {
	sink := newSink(t)
	c, d := newTestClient(t, sink.conn.LocalAddr())

	peer := newSink(t)
	env, err := protocol.NewEnvelope(protocol.TypeMessage, protocol.TextPayload{Text: "hello"}, protocol.Metadata{
		Name:       "bob",
		ClientIP:   "127.0.0.1",
		ClientPort: peer.conn.LocalAddr().Port,
	})
	require.NoError(t, err)

	c.handle(env, peer.conn.LocalAddr())

	assert.True(t, d.contains("bob: hello"), "direct-mode message displayed immediately, got %v", d.all())
	peer.waitFor(protocol.TypeMessageAck, 1)
}

func TestDirectMessageDuplicateAckedNotRedisplayed(t *testing.T) {
	sink := newSink(t)
	c, d := newTestClient(t, sink.conn.LocalAddr())

	peer := newSink(t)
	env, err := protocol.NewEnvelope(protocol.TypeMessage, protocol.TextPayload{Text: "hello"}, protocol.Metadata{
		Name:       "bob",
		ClientIP:   "127.0.0.1",
		ClientPort: peer.conn.LocalAddr().Port,
	})
	require.NoError(t, err)

	// Same envelope delivered twice, as a lost-ack retransmission would.
	c.handle(env, peer.conn.LocalAddr())
	c.handle(env, peer.conn.LocalAddr())

	peer.waitFor(protocol.TypeMessageAck, 2)

	count := 0
	for _, line := range d.all() {
		if strings.Contains(line, "bob: hello") {
			count++
		}
	}
	assert.Equal(t, 1, count, "duplicate delivery must display once")
}

func TestInboxBuffersWhileInGroupAndFlushesOnLeave(t *testing.T) {
	sink := newSink(t)
	c, d := newTestClient(t, sink.conn.LocalAddr())

	c.mu.Lock()
	c.activeGroup = "golf"
	c.mu.Unlock()

	peer := newSink(t)
	for i, text := range []string{"first", "second", "third"} {
		env, err := protocol.NewEnvelope(protocol.TypeMessage, protocol.TextPayload{Text: text}, protocol.Metadata{
			Name:       "bob",
			ClientIP:   "127.0.0.1",
			ClientPort: peer.conn.LocalAddr().Port,
			MessageID:  fmt.Sprintf("dm-%d", i),
		})
		require.NoError(t, err)
		c.handle(env, peer.conn.LocalAddr())
	}

	// Buffered, not displayed, but still acked.
	assert.False(t, d.contains("bob: first"))
	peer.waitFor(protocol.TypeMessageAck, 3)

	leaveAck, err := protocol.NewEnvelope(protocol.TypeLeaveGroupAck, protocol.GroupPayload{Group: "golf"}, protocol.Metadata{Name: protocol.ServerName})
	require.NoError(t, err)
	c.handle(leaveAck, sink.conn.LocalAddr())

	assert.False(t, c.inGroup())

	// FIFO flush order.
	var flushed []string
	for _, line := range d.all() {
		if strings.HasPrefix(line, "bob: ") {
			flushed = append(flushed, line)
		}
	}
	assert.Equal(t, []string{"bob: first", "bob: second", "bob: third"}, flushed)
}

func TestGroupMessageAcksTheServer(t *testing.T) {
	fakeServer := newSink(t)
	c, d := newTestClient(t, fakeServer.conn.LocalAddr())

	peerSender := newSink(t)
	env, err := protocol.NewEnvelope(protocol.TypeGroupMessage, protocol.GroupMessagePayload{
		Group:       "golf",
		Sender:      "bob",
		Text:        "fore",
		BroadcastID: "b-7",
	}, protocol.Metadata{Name: protocol.ServerName})
	require.NoError(t, err)

	c.handle(env, fakeServer.conn.LocalAddr())

	assert.True(t, d.contains("bob: fore"), "group message displayed, got %v", d.all())

	// The ack goes to the server, never the original sender.
	acks := fakeServer.waitFor(protocol.TypeGroupMessageAck, 1)
	var ack protocol.GroupAckPayload
	require.NoError(t, acks[0].DecodePayload(&ack))
	assert.Equal(t, "golf", ack.Group)
	assert.Equal(t, "b-7", ack.BroadcastID)
	assert.Empty(t, peerSender.received(protocol.TypeGroupMessageAck))
}

func TestJoinAckEntersGroupMode(t *testing.T) {
	sink := newSink(t)
	c, d := newTestClient(t, sink.conn.LocalAddr())

	join, err := protocol.NewEnvelope(protocol.TypeJoinGroupAck, protocol.GroupPayload{Group: "golf"}, protocol.Metadata{Name: protocol.ServerName})
	require.NoError(t, err)
	c.handle(join, sink.conn.LocalAddr())

	assert.True(t, c.inGroup())
	assert.Equal(t, "golf", c.group())
	assert.True(t, d.contains("You are in group golf"))
	assert.True(t, c.ack.Acked(), "join ack flips the pending flag")
}

func TestDMRetryExhaustionReportsOffline(t *testing.T) {
	fakeServer := newSink(t)
	c, d := newTestClient(t, fakeServer.conn.LocalAddr())

	// bob is in the local snapshot but his socket is black-holed: a
	// bound socket nobody reads acks from.
	dead, err := transport.Listen("127.0.0.1", 0)
	require.NoError(t, err)
	t.Cleanup(func() { dead.Close() })

	c.mu.Lock()
	c.connections["bob"] = protocol.PresenceRecord{
		Name:       "bob",
		ClientIP:   "127.0.0.1",
		ClientPort: dead.LocalAddr().Port,
	}
	c.mu.Unlock()

	// The offline report is itself reliable; satisfy it so the client
	// does not conclude the server is gone too.
	go func() {
		deadline := time.Now().Add(testWait)
		for time.Now().Before(deadline) {
			offline := fakeServer.received(protocol.TypeClientOffline)
			if len(offline) == 0 {
				time.Sleep(5 * time.Millisecond)
				continue
			}
			var report protocol.OfflinePayload
			if offline[0].DecodePayload(&report) == nil && report.Name == "bob" {
				ack, err := protocol.NewEnvelope(protocol.TypeClientOfflineAck, nil, protocol.Metadata{Name: protocol.ServerName})
				if err == nil {
					_ = fakeServer.conn.Send(ack, &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: c.cfg.ClientPort})
				}
			}
			return
		}
	}()

	// The client's own listener must be running to consume the ack.
	listenerCtx, cancelListener := contextWithCleanup(t)
	go func() { _ = c.conn.Serve(listenerCtx, c.handle) }()
	defer cancelListener()

	require.NoError(t, c.Execute("send bob are you there"))

	require.Eventually(t, func() bool {
		return len(fakeServer.received(protocol.TypeClientOffline)) >= 1
	}, testWait, 10*time.Millisecond)
	assert.True(t, d.contains("No ack from bob"))
}
