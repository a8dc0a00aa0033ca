package bridge

import (
	"encoding/json"
	"fmt"
)

// Role tells what kind of surface a peer is
type Role string

const (
	// RolePage is a content script relaying requests of a web page
	RolePage Role = "page"

	// RoleUI is a popup surface answering confirmations
	RoleUI Role = "ui"
)

// Frame is the message exchanged with peers. Replies reuse the id of the
// frame they answer.
type Frame struct {
	Event   string          `json:"event"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func encodeFrame(event, id string, payload any) ([]byte, error) {
	f := Frame{Event: event, ID: id}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s payload: %w", event, err)
		}
		f.Payload = raw
	}
	return json.Marshal(&f)
}
