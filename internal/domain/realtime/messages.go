package realtime

import (
	"encoding/json"

	"fitcoach/internal/domain/notification"
)

const (
	MessageTypeConnected    = "connected"
	MessageTypeNotification = "notification"
	MessageTypePing         = "ping"
	MessageTypePong         = "pong"
)

// ClientMessage is what clients may send. Only pings are understood.
type ClientMessage struct {
	Type string `json:"type"`
}

// ServerMessage is the envelope of everything pushed to clients.
type ServerMessage struct {
	Type         string                     `json:"type"`
	ConnectionID string                     `json:"connection_id,omitempty"`
	Notification *notification.Notification `json:"notification,omitempty"`
}

func encodeNotification(n *notification.Notification) ([]byte, error) {
	return json.Marshal(ServerMessage{Type: MessageTypeNotification, Notification: n})
}

var pongMessage, _ = json.Marshal(ServerMessage{Type: MessageTypePong})

func connectedMessage(connID string) []byte {
	b, _ := json.Marshal(ServerMessage{Type: MessageTypeConnected, ConnectionID: connID})
	return b
}
