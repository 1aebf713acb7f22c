package network

import (
	"log"
	"net"
	"time"

	"github.com/chatnet/chatapp/pkg/protocol"
)

func (s *Server) handleRegistration(env *protocol.Envelope, from *net.UDPAddr) {
	md := env.Metadata
	rec := protocol.PresenceRecord{
		Name:       md.Name,
		ClientIP:   md.ClientIP,
		ClientPort: md.ClientPort,
		SenderIP:   from.IP.String(),
	}
	if err := s.presence.Add(rec); err != nil {
		log.Printf("Registration rejected for %q: %v", md.Name, err)
		s.reply(protocol.TypeRegistrationError, protocol.ErrorPayload{Reason: "name already registered"}, from)
		return
	}
	log.Printf("✓ Registered %q at %s:%d", md.Name, md.ClientIP, md.ClientPort)
	s.reply(protocol.TypeRegistrationConfirmation, nil, from)
	s.broadcastState()
}

func (s *Server) handleDeregistration(env *protocol.Envelope, from *net.UDPAddr) {
	name := env.Metadata.Name
	s.reply(protocol.TypeDeregistrationConfirm, nil, from)
	if s.presence.Remove(name) {
		log.Printf("Deregistered %q", name)
		s.broadcastState()
	}
}

// handleClientOffline is a forced deregistration of the peer the
// reporter names, not of the reporter itself.
func (s *Server) handleClientOffline(env *protocol.Envelope, from *net.UDPAddr) {
	var offline protocol.OfflinePayload
	if err := env.DecodePayload(&offline); err != nil {
		log.Printf("⚠️  %v", err)
		return
	}
	if s.presence.Remove(offline.Name) {
		log.Printf("Evicted unresponsive client %q (reported by %q)", offline.Name, env.Metadata.Name)
		s.broadcastState()
	}
	s.reply(protocol.TypeClientOfflineAck, nil, from)
}

func (s *Server) handleCreateGroup(env *protocol.Envelope, from *net.UDPAddr) {
	var req protocol.GroupPayload
	if err := env.DecodePayload(&req); err != nil {
		log.Printf("⚠️  %v", err)
		return
	}
	if err := s.groups.Create(req.Group); err != nil {
		s.reply(protocol.TypeCreateGroupError, protocol.ErrorPayload{Reason: "group already exists"}, from)
		return
	}
	log.Printf("Group %q created by %q", req.Group, env.Metadata.Name)
	s.reply(protocol.TypeCreateGroupAck, req, from)
}

func (s *Server) handleJoinGroup(env *protocol.Envelope, from *net.UDPAddr) {
	var req protocol.GroupPayload
	if err := env.DecodePayload(&req); err != nil {
		log.Printf("⚠️  %v", err)
		return
	}
	if err := s.groups.Join(req.Group, env.Metadata.Name); err != nil {
		s.reply(protocol.TypeJoinGroupError, protocol.ErrorPayload{Reason: "group does not exist"}, from)
		return
	}
	log.Printf("%q joined group %q", env.Metadata.Name, req.Group)
	s.reply(protocol.TypeJoinGroupAck, req, from)
}

func (s *Server) handleLeaveGroup(env *protocol.Envelope, from *net.UDPAddr) {
	var req protocol.GroupPayload
	if err := env.DecodePayload(&req); err != nil {
		log.Printf("⚠️  %v", err)
		return
	}
	s.groups.Leave(req.Group, env.Metadata.Name)
	log.Printf("%q left group %q", env.Metadata.Name, req.Group)
	s.reply(protocol.TypeLeaveGroupAck, req, from)
}

func (s *Server) handleListGroups(env *protocol.Envelope, from *net.UDPAddr) {
	s.reply(protocol.TypeListGroupsAck, protocol.GroupListPayload{Groups: s.groups.Groups()}, from)
}

func (s *Server) handleListMembers(env *protocol.Envelope, from *net.UDPAddr) {
	var req protocol.GroupPayload
	if err := env.DecodePayload(&req); err != nil {
		log.Printf("⚠️  %v", err)
		return
	}
	members, _ := s.groups.Members(req.Group)
	s.reply(protocol.TypeMembersList, protocol.MemberListPayload{Group: req.Group, Members: members}, from)
}

// handleGroupMessage acks the sender, resets the group's ack tracker,
// fans the message out to every member except the sender, and spawns a
// background wait task. The dispatch loop itself never blocks on acks.
func (s *Server) handleGroupMessage(env *protocol.Envelope, from *net.UDPAddr) {
	var msg protocol.GroupMessagePayload
	if err := env.DecodePayload(&msg); err != nil {
		log.Printf("⚠️  %v", err)
		return
	}
	sender := env.Metadata.Name
	members, exists := s.groups.Members(msg.Group)
	if !exists {
		log.Printf("Group message for unknown group %q from %q, dropping", msg.Group, sender)
		return
	}

	s.reply(protocol.TypeGroupMessageAck, protocol.GroupAckPayload{Group: msg.Group}, from)

	broadcastID := s.groups.BeginBroadcast(msg.Group)
	fanout := protocol.GroupMessagePayload{
		Group:       msg.Group,
		Sender:      sender,
		Text:        msg.Text,
		BroadcastID: broadcastID,
	}

	expected := make([]string, 0, len(members))
	seen := make(map[string]bool, len(members))
	for _, member := range members {
		if member == sender || seen[member] {
			continue
		}
		seen[member] = true
		expected = append(expected, member)

		rec, ok := s.presence.Lookup(member)
		if !ok {
			// Not in the presence table anymore; the wait task
			// will evict it from the group.
			log.Printf("Group %q member %q has no presence record, skipping send", msg.Group, member)
			continue
		}
		env, err := protocol.NewEnvelope(protocol.TypeGroupMessage, fanout, s.metadata())
		if err != nil {
			log.Printf("⚠️  Building group fan-out: %v", err)
			continue
		}
		if err := s.conn.Send(env, recordAddr(rec)); err != nil {
			log.Printf("⚠️  Fan-out to %q: %v", member, err)
		}
	}
	s.fanouts.Add(1)
	log.Printf("📤 Group %q message from %q fanned out to %d members", msg.Group, sender, len(expected))

	if len(expected) == 0 {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.awaitGroupAcks(msg.Group, broadcastID, expected)
	}()
}

// handleGroupMessageAck records a member's ack into the group tracker;
// the background wait task consumes the accumulated set.
func (s *Server) handleGroupMessageAck(env *protocol.Envelope) {
	var ack protocol.GroupAckPayload
	if err := env.DecodePayload(&ack); err != nil {
		log.Printf("⚠️  %v", err)
		return
	}
	s.groups.RecordAck(ack.Group, env.Metadata.Name, ack.BroadcastID)
}

// awaitGroupAcks polls the ack tracker at the AckWait cadence. Members
// still missing when the budget runs out are evicted from the group's
// member list — group membership's only liveness mechanism. The global
// presence table is never touched here.
func (s *Server) awaitGroupAcks(group, broadcastID string, expected []string) {
	for i := 0; i < s.cfg.AckWait.Attempts; i++ {
		time.Sleep(s.cfg.AckWait.Interval)
		if len(s.groups.MissingAcks(group, broadcastID, expected)) == 0 {
			return
		}
		if s.ctx != nil && s.ctx.Err() != nil {
			return
		}
	}
	missing := s.groups.MissingAcks(group, broadcastID, expected)
	if len(missing) == 0 {
		return
	}
	s.groups.Evict(group, missing)
	s.evictions.Add(uint64(len(missing)))
	log.Printf("⚠️  Evicted %v from group %q: no ack after %d polls", missing, group, s.cfg.AckWait.Attempts)
}

// broadcastState sends the full presence snapshot to every currently
// registered client. Every table mutation is paired with this call.
func (s *Server) broadcastState() {
	snap := s.presence.Snapshot()
	payload := protocol.StateChangePayload{Clients: snap}
	for name, rec := range snap {
		env, err := protocol.NewEnvelope(protocol.TypeStateChange, payload, s.metadata())
		if err != nil {
			log.Printf("⚠️  Building state_change: %v", err)
			return
		}
		if err := s.conn.Send(env, recordAddr(rec)); err != nil {
			log.Printf("⚠️  state_change to %q: %v", name, err)
		}
	}
	s.broadcasts.Add(1)
}
