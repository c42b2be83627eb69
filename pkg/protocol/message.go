// Package protocol defines the rosbridge v2 JSON envelope and the ROS message
// shapes navtest exchanges with the navigation stack.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Op identifies a rosbridge operation.
type Op string

const (
	OpAdvertise   Op = "advertise"
	OpUnadvertise Op = "unadvertise"
	OpPublish     Op = "publish"
	OpSubscribe   Op = "subscribe"
	OpUnsubscribe Op = "unsubscribe"
	OpStatus      Op = "status" // Server-side error/warning report
)

// Message is the rosbridge envelope. Only the fields relevant to the op are
// set; the rest are omitted on the wire.
type Message struct {
	Op          Op              `json:"op"`
	ID          string          `json:"id,omitempty"`
	Topic       string          `json:"topic,omitempty"`
	Type        string          `json:"type,omitempty"`
	Msg         json.RawMessage `json:"msg,omitempty"`
	QueueLength int             `json:"queue_length,omitempty"`
	ThrottleMs  int             `json:"throttle_rate,omitempty"`

	// Level is set on status ops; their msg is a plain string.
	Level string `json:"level,omitempty"`
}

// NewPublish creates a publish op carrying msg on topic.
func NewPublish(topic string, msg interface{}) (*Message, error) {
	raw, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", topic, err)
	}
	return &Message{Op: OpPublish, Topic: topic, Msg: raw}, nil
}

// NewAdvertise creates an advertise op for topic with the given ROS type.
func NewAdvertise(topic, rosType string) *Message {
	return &Message{Op: OpAdvertise, Topic: topic, Type: rosType}
}

// NewSubscribe creates a subscribe op. queueLength 0 leaves the server
// default in place.
func NewSubscribe(topic, rosType string, queueLength int) *Message {
	return &Message{Op: OpSubscribe, Topic: topic, Type: rosType, QueueLength: queueLength}
}

// NewUnsubscribe creates an unsubscribe op for topic.
func NewUnsubscribe(topic string) *Message {
	return &Message{Op: OpUnsubscribe, Topic: topic}
}

// NewStatus creates a status op, as the bridge sends to report errors.
func NewStatus(level, text string) *Message {
	raw, _ := json.Marshal(text)
	return &Message{Op: OpStatus, Level: level, Msg: raw}
}

// ParseData unmarshals the message payload into v
func (m *Message) ParseData(v interface{}) error {
	if m.Msg == nil {
		return fmt.Errorf("%s on %s has no payload", m.Op, m.Topic)
	}
	return json.Unmarshal(m.Msg, v)
}

// StatusText returns the text of a status op, or "" for other ops.
func (m *Message) StatusText() string {
	if m.Op != OpStatus || m.Msg == nil {
		return ""
	}
	var text string
	if err := json.Unmarshal(m.Msg, &text); err != nil {
		return string(m.Msg)
	}
	return text
}

// Bytes returns the JSON-encoded message
func (m *Message) Bytes() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMessage parses a JSON message from bytes
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	if msg.Op == "" {
		return nil, fmt.Errorf("failed to parse message: missing op")
	}
	return &msg, nil
}
