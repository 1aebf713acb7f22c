package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Metadata identifies the sender of an envelope and carries the
// addressing fields the recipient needs to reply.
type Metadata struct {
	Name       string `json:"name"`
	ServerIP   string `json:"server_ip"`
	ServerPort int    `json:"server_port"`
	ClientIP   string `json:"client_ip"`
	ClientPort int    `json:"client_port"`
	MessageID  string `json:"message_id"`
}

// Envelope is the unit exchanged over UDP: a message type, an optional
// structured payload and the sender metadata. An envelope is immutable
// once sent; retransmissions send the identical bytes.
type Envelope struct {
	Type     string          `json:"type"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Metadata Metadata        `json:"metadata"`
}

// DecodeError reports a datagram that could not be decoded into a
// well-formed envelope. The datagram must be dropped and the receive
// loop must keep running.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode envelope: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("decode envelope: %s", e.Reason)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// NewEnvelope builds an envelope of the given type with the payload
// marshaled in place and a fresh message id stamped into the metadata.
// A nil payload produces a null payload on the wire.
func NewEnvelope(msgType string, payload any, meta Metadata) (*Envelope, error) {
	env := &Envelope{Type: msgType, Metadata: meta}
	if env.Metadata.MessageID == "" {
		env.Metadata.MessageID = uuid.NewString()
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", msgType, err)
		}
		env.Payload = raw
	}
	return env, nil
}

// Encode serializes the envelope to its wire form.
func (e *Envelope) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode %s envelope: %w", e.Type, err)
	}
	return data, nil
}

// Decode parses a datagram into an envelope. It returns a *DecodeError
// for malformed or truncated data.
func Decode(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &DecodeError{Reason: "malformed JSON", Err: err}
	}
	if env.Type == "" {
		return nil, &DecodeError{Reason: "missing type"}
	}
	return &env, nil
}

// DecodePayload unmarshals the envelope payload into v. It returns a
// *DecodeError when the payload is absent or does not match.
func (e *Envelope) DecodePayload(v any) error {
	if len(e.Payload) == 0 {
		return &DecodeError{Reason: fmt.Sprintf("%s envelope has no payload", e.Type)}
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return &DecodeError{Reason: fmt.Sprintf("bad %s payload", e.Type), Err: err}
	}
	return nil
}
