// Package protocol implements the ChatApp wire protocol.
//
// The protocol package defines the envelope exchanged over UDP between
// clients and the server, the message-type catalogue, and the payload
// structures carried by each message type.
//
// # Envelope Format
//
// Every datagram carries exactly one JSON-encoded envelope:
//
//	{
//	  "type":     "<message type>",
//	  "payload":  <any JSON value or null>,
//	  "metadata": {
//	    "name":        "<sender name>",
//	    "server_ip":   "<server IPv4>",
//	    "server_port": <port>,
//	    "client_ip":   "<client IPv4>",
//	    "client_port": <port>,
//	    "message_id":  "<uuid>"
//	  }
//	}
//
// Metadata always carries the sender's identity so the recipient can
// address a reply without out-of-band state. The message id is unique
// per envelope construction; retransmissions of the same logical
// message reuse it so receivers can suppress duplicate deliveries.
//
// # Message Types
//
// Session management:
//   - registration / registration_confirmation / registration_error
//   - deregistration / deregistration_confirmation
//   - state_change: full presence-table snapshot, broadcast by the server
//   - client_offline / client_offline_ack: peer eviction report
//
// Group management:
//   - create_group / create_group_ack / create_group_error
//   - join_group / join_group_ack / join_group_error
//   - leave_group / leave_group_ack
//   - list_groups / list_groups_ack
//   - list_members / members_list
//
// Messaging:
//   - message / message_ack: direct client-to-client chat
//   - group_message / group_message_ack: server-mediated group chat
//
// Delivery is at-least-once: any request that expects a reply is resent
// on a fixed interval until the matching ack arrives or the retry
// budget is exhausted. The envelope layer itself makes no delivery or
// ordering guarantees.
package protocol
