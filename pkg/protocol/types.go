package protocol

// Message types
const (
	// Session management
	TypeRegistration             = "registration"
	TypeRegistrationConfirmation = "registration_confirmation"
	TypeRegistrationError        = "registration_error"
	TypeDeregistration           = "deregistration"
	TypeDeregistrationConfirm    = "deregistration_confirmation"
	TypeStateChange              = "state_change"
	TypeClientOffline            = "client_offline"
	TypeClientOfflineAck         = "client_offline_ack"

	// Group management
	TypeCreateGroup      = "create_group"
	TypeCreateGroupAck   = "create_group_ack"
	TypeCreateGroupError = "create_group_error"
	TypeJoinGroup        = "join_group"
	TypeJoinGroupAck     = "join_group_ack"
	TypeJoinGroupError   = "join_group_error"
	TypeLeaveGroup       = "leave_group"
	TypeLeaveGroupAck    = "leave_group_ack"
	TypeListGroups       = "list_groups"
	TypeListGroupsAck    = "list_groups_ack"
	TypeListMembers      = "list_members"
	TypeMembersList      = "members_list"

	// Messaging
	TypeMessage         = "message"
	TypeMessageAck      = "message_ack"
	TypeGroupMessage    = "group_message"
	TypeGroupMessageAck = "group_message_ack"
)

// ServerName is the metadata name used on envelopes originated by the server.
const ServerName = "server"

// PresenceRecord is one registered client as held in the server's
// presence table and broadcast to every client in a state_change.
// ClientIP/ClientPort are the peer's listening address for direct
// messages; SenderIP is the source address the registration datagram
// arrived from.
type PresenceRecord struct {
	Name       string `json:"name"`
	ClientIP   string `json:"client_ip"`
	ClientPort int    `json:"client_port"`
	SenderIP   string `json:"sender_ip"`
}
