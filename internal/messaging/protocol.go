// internal/messaging/protocol.go

package messaging

import (
	"encoding/json"
	"fmt"
)

// MessageType is the message_type tag of a wire frame.
type MessageType string

const (
	TypePing        MessageType = "ping"
	TypePong        MessageType = "pong"
	TypeMessage     MessageType = "message"
	TypeNewMessage  MessageType = "new_message"
	TypeMessageSent MessageType = "message_sent"
)

// ProtocolMessage is a decoded frame. Which payload field is set depends on Type:
// Request for "message", Message for "new_message" and "message_sent",
// nothing for "ping" and "pong".
type ProtocolMessage struct {
	Type    MessageType
	Message *Message
	Request *SendMessageRequest
}

// IsChatEvent reports whether the frame carries a server-confirmed Message.
func (p ProtocolMessage) IsChatEvent() bool {
	return (p.Type == TypeNewMessage || p.Type == TypeMessageSent) && p.Message != nil
}

// PingMessage is the outbound keepalive.
func PingMessage() ProtocolMessage {
	return ProtocolMessage{Type: TypePing}
}

// ChatMessage builds an outbound send.
func ChatMessage(receiverID, content string) ProtocolMessage {
	return ProtocolMessage{
		Type:    TypeMessage,
		Request: &SendMessageRequest{ReceiverID: receiverID, Content: content},
	}
}

// wireFrame is the JSON envelope: { "message_type": string, "data"?: object }.
type wireFrame struct {
	MessageType string          `json:"message_type"`
	Data        json.RawMessage `json:"data,omitempty"`
}

// DecodeError is returned for frames that are not valid JSON envelopes or
// whose data does not match the tag.
type DecodeError struct {
	Raw []byte
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode frame: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// UnknownFrameError is returned for well-formed frames with an unrecognised tag.
type UnknownFrameError struct {
	Type string
}

func (e *UnknownFrameError) Error() string {
	return fmt.Sprintf("unknown message_type %q", e.Type)
}

// DecodeFrame parses one text frame.
func DecodeFrame(data []byte) (ProtocolMessage, error) {
	var f wireFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return ProtocolMessage{}, &DecodeError{Raw: data, Err: err}
	}

	msg := ProtocolMessage{Type: MessageType(f.MessageType)}
	switch msg.Type {
	case TypePing, TypePong:
		return msg, nil

	case TypeMessage:
		var req SendMessageRequest
		if err := unmarshalData(f.Data, &req); err != nil {
			return ProtocolMessage{}, &DecodeError{Raw: data, Err: err}
		}
		msg.Request = &req
		return msg, nil

	case TypeNewMessage, TypeMessageSent:
		var m Message
		if err := unmarshalData(f.Data, &m); err != nil {
			return ProtocolMessage{}, &DecodeError{Raw: data, Err: err}
		}
		msg.Message = &m
		return msg, nil

	default:
		return ProtocolMessage{}, &UnknownFrameError{Type: f.MessageType}
	}
}

func unmarshalData(data json.RawMessage, v interface{}) error {
	if len(data) == 0 || string(data) == "null" {
		return fmt.Errorf("missing data")
	}
	return json.Unmarshal(data, v)
}

// EncodeFrame serialises msg into a wire frame.
func EncodeFrame(msg ProtocolMessage) ([]byte, error) {
	f := wireFrame{MessageType: string(msg.Type)}

	var payload interface{}
	switch msg.Type {
	case TypePing, TypePong:
	case TypeMessage:
		if msg.Request == nil {
			return nil, fmt.Errorf("encode %s: missing request", msg.Type)
		}
		payload = msg.Request
	case TypeNewMessage, TypeMessageSent:
		if msg.Message == nil {
			return nil, fmt.Errorf("encode %s: missing message", msg.Type)
		}
		payload = msg.Message
	default:
		return nil, &UnknownFrameError{Type: string(msg.Type)}
	}

	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", msg.Type, err)
		}
		f.Data = data
	}
	return json.Marshal(f)
}
