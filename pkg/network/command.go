package network

import (
	"fmt"
	"strings"

	"github.com/chatnet/chatapp/pkg/protocol"
	"github.com/chatnet/chatapp/pkg/transport"
)

// CommandError is a locally rejected user command: bad verb, wrong
// arity, or a verb not allowed in the current mode. No network traffic
// is produced for a rejected command.
type CommandError struct {
	msg string
}

func (e *CommandError) Error() string { return e.msg }

func rejectf(format string, args ...any) *CommandError {
	return &CommandError{msg: fmt.Sprintf(format, args...)}
}

// command is one row of the command grammar: required arity, the modes
// the verb is allowed in, and its handler.
type command struct {
	minArgs  int
	variadic bool
	direct   bool
	group    bool
	run      func(c *Client, args []string) error
}

var commands = map[string]command{
	"create_group": {minArgs: 1, direct: true, run: (*Client).cmdCreateGroup},
	"list_groups":  {minArgs: 0, direct: true, run: (*Client).cmdListGroups},
	"join_group":   {minArgs: 1, direct: true, run: (*Client).cmdJoinGroup},
	"send_group":   {minArgs: 1, variadic: true, group: true, run: (*Client).cmdSendGroup},
	"list_members": {minArgs: 0, group: true, run: (*Client).cmdListMembers},
	"leave_group":  {minArgs: 0, group: true, run: (*Client).cmdLeaveGroup},
	"send":         {minArgs: 2, variadic: true, direct: true, group: true, run: (*Client).cmdSend},
	"dereg":        {minArgs: 0, direct: true, group: true, run: (*Client).cmdDereg},
}

// Execute parses one input line, validates it against the grammar and
// the current mode, and dispatches the handler. Rejections come back
// as *CommandError with nothing sent on the wire.
func (c *Client) Execute(line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	verb, args := fields[0], fields[1:]

	cmd, known := commands[verb]
	if !known {
		return rejectf("unknown command %q", verb)
	}
	if c.inGroup() {
		if !cmd.group {
			return rejectf("%q is not available while in a group; leave_group first", verb)
		}
	} else if !cmd.direct {
		return rejectf("%q is only available in group mode; join_group first", verb)
	}
	if len(args) < cmd.minArgs || (!cmd.variadic && len(args) > cmd.minArgs) {
		return rejectf("wrong arguments for %q", verb)
	}
	return cmd.run(c, args)
}

func (c *Client) cmdCreateGroup(args []string) error {
	return c.request(protocol.TypeCreateGroup, protocol.GroupPayload{Group: args[0]})
}

func (c *Client) cmdListGroups(args []string) error {
	return c.request(protocol.TypeListGroups, nil)
}

func (c *Client) cmdJoinGroup(args []string) error {
	return c.request(protocol.TypeJoinGroup, protocol.GroupPayload{Group: args[0]})
}

func (c *Client) cmdListMembers(args []string) error {
	return c.request(protocol.TypeListMembers, protocol.GroupPayload{Group: c.group()})
}

func (c *Client) cmdLeaveGroup(args []string) error {
	return c.request(protocol.TypeLeaveGroup, protocol.GroupPayload{Group: c.group()})
}

func (c *Client) cmdSendGroup(args []string) error {
	payload := protocol.GroupMessagePayload{
		Group:  c.group(),
		Sender: c.cfg.Name,
		Text:   strings.Join(args, " "),
	}
	return c.request(protocol.TypeGroupMessage, payload)
}

func (c *Client) cmdDereg(args []string) error {
	return c.request(protocol.TypeDeregistration, nil)
}

// cmdSend delivers a direct message straight to the peer's listening
// address from the local presence snapshot. An unknown recipient fails
// locally with zero packets sent. The envelope is built once so every
// retry carries the same message id; exhaustion reports the peer
// offline to the server, itself reliably.
func (c *Client) cmdSend(args []string) error {
	peer := args[0]
	text := strings.Join(args[1:], " ")

	rec, known := c.lookup(peer)
	if !known {
		return rejectf("unable to send to non-existent recipient %q", peer)
	}
	addr, err := transport.Resolve(rec.ClientIP, rec.ClientPort)
	if err != nil {
		return err
	}
	env, err := protocol.NewEnvelope(protocol.TypeMessage, protocol.TextPayload{Text: text}, c.metadata())
	if err != nil {
		return err
	}
	return c.cfg.Retry.Run(
		func() error { return c.conn.Send(env, addr) },
		&c.ack,
		func() {
			c.display("No ack from %s, reporting to server.", peer)
			c.reportOffline(peer)
		},
	)
}
