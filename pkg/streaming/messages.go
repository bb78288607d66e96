// Package streaming defines the JSON envelopes exchanged with a remote relay server.
package streaming

import (
	"encoding/json"
	"fmt"

	"github.com/potrero/rcsim/pkg/core"
)

// Message type constants matching the streaming protocol.
const (
	TypeHello        = "hello"
	TypeOdometry     = "odometry"
	TypeNotice       = "notice"
	TypeDriveCommand = "drive_command"
	TypeAck          = "ack"
)

// Envelope wraps all messages sent over the WebSocket.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// AckMessage is the acknowledgement response. Both sides send it.
type AckMessage struct {
	Type string `json:"type"` // always "ack"
	For  string `json:"for"`  // the message type being acknowledged
}

// HelloPayload announces the node to the server. It is replayed after a reconnect.
type HelloPayload struct {
	Node    string `json:"node"`
	Version string `json:"version"`
}

// OdometryPayload carries one simulator snapshot.
type OdometryPayload = core.Snapshot

// NoticePayload carries one simulator diagnostic.
type NoticePayload = core.Notice

// DriveCommandPayload carries one remote joystick deflection.
type DriveCommandPayload = core.DriveCommand

// Marshal builds a JSON-encoded Envelope from a message type and payload.
func Marshal(msgType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	data, err := json.Marshal(Envelope{Type: msgType, Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", msgType, err)
	}
	return data, nil
}

// Ack builds a JSON-encoded AckMessage for msgType.
func Ack(msgType string) []byte {
	data, _ := json.Marshal(AckMessage{Type: TypeAck, For: msgType})
	return data
}
