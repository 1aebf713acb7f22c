package protocol

// TextPayload carries the body of a direct message.
type TextPayload struct {
	Text string `json:"text"`
}

// ErrorPayload carries the reason attached to *_error replies.
type ErrorPayload struct {
	Reason string `json:"reason"`
}

// StateChangePayload is the full presence-table snapshot broadcast to
// every registered client after each table mutation.
type StateChangePayload struct {
	Clients map[string]PresenceRecord `json:"clients"`
}

// GroupPayload names the group a group-management request targets.
// Acks echo the same payload back.
type GroupPayload struct {
	Group string `json:"group"`
}

// GroupListPayload is the list_groups_ack payload.
type GroupListPayload struct {
	Groups []string `json:"groups"`
}

// MemberListPayload is the members_list payload.
type MemberListPayload struct {
	Group   string   `json:"group"`
	Members []string `json:"members"`
}

// GroupMessagePayload is carried both by the client's group_message
// request and by the server's fan-out copy to each member. BroadcastID
// identifies one fan-out round so late or replayed group_message_ack
// envelopes cannot satisfy a newer round's tracker.
type GroupMessagePayload struct {
	Group       string `json:"group"`
	Sender      string `json:"sender"`
	Text        string `json:"text"`
	BroadcastID string `json:"broadcast_id,omitempty"`
}

// GroupAckPayload is the member-to-server group_message_ack payload.
type GroupAckPayload struct {
	Group       string `json:"group"`
	BroadcastID string `json:"broadcast_id,omitempty"`
}

// OfflinePayload names the unresponsive peer a client reports after
// exhausting its direct-message retry budget.
type OfflinePayload struct {
	Name string `json:"name"`
}
