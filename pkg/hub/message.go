// Package hub provides a thread-safe websocket broadcast hub
// using the idiomatic Go channel-based fan-out pattern.
package hub

import "encoding/json"

// Message is one JSON payload to be broadcast to clients.
type Message struct {
	Data []byte
}

// NewJSONMessage wraps already-encoded JSON.
func NewJSONMessage(data []byte) Message {
	return Message{Data: data}
}

// EncodeJSON encodes v as a Message.
func EncodeJSON(v interface{}) (Message, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Message{}, err
	}
	return NewJSONMessage(data), nil
}
