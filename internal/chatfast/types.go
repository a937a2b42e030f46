package chatfast

import (
	"context"
	"errors"
)

// ErrNotConnected reports a send or probe against a websocket that has no
// live connection.
var ErrNotConnected = errors.New("websocket not connected")

// Message is an inbound chat event pushed by the Iris bridge over WebSocket.
type Message struct {
	Room   string       `json:"room"`
	Msg    string       `json:"msg"`
	Sender *string      `json:"sender,omitempty"`
	JSON   *MessageJSON `json:"json,omitempty"`
}

// MessageJSON carries the decoded raw-event fields when the bridge provides them.
type MessageJSON struct {
	UserID    string `json:"user_id,omitempty"`
	ChatID    string `json:"chat_id,omitempty"`
	IsGroup   bool   `json:"is_group,omitempty"`
	LogID     string `json:"log_id,omitempty"`
	CreatedAt int64  `json:"created_at,omitempty"`
}

// BridgeConfig mirrors the bridge's /config payload.
type BridgeConfig struct {
	Port              int    `json:"port"`
	PollingSpeed      int    `json:"polling_speed"`
	MessageRate       int    `json:"message_rate"`
	WebserverEndpoint string `json:"webserver_endpoint"`
}

// ReplyRequest is the outbound frame for both HTTP /reply and WS egress.
type ReplyRequest struct {
	Type string `json:"type"`
	Room string `json:"room"`
	Data string `json:"data"`
}

// ImageReplyRequest carries a base64-encoded PNG payload.
type ImageReplyRequest struct {
	Type string `json:"type"`
	Room string `json:"room"`
	Data string `json:"data"`
}

type WebSocketState string

const (
	WSStateDisconnected WebSocketState = "disconnected"
	WSStateConnecting   WebSocketState = "connecting"
	WSStateConnected    WebSocketState = "connected"
	WSStateReconnecting WebSocketState = "reconnecting"
	WSStateFailed       WebSocketState = "failed"
)

type MessageCallback func(message *Message)

type StateCallback func(state WebSocketState)

type WSClient interface {
	Connect(ctx context.Context) error
	OnMessage(cb MessageCallback) int
	RemoveMessageCallback(id int)
	OnStateChange(cb StateCallback) int
	RemoveStateCallback(id int)
	Close(ctx context.Context) error
}
