package protocol

import "strings"

const (
	ActionTrack       = "track"
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
)

const (
	TypeMessage = "message"
	TypeSession = "session"
	TypeAck     = "ack"
	TypeError   = "error"
)

const (
	pricePrefix = "price/"
	errorPrefix = "errors/"
)

// PriceTopic carries numeric price updates for one symbol
func PriceTopic(symbol string) string { return pricePrefix + symbol }

// ErrorTopic carries user-visible errors for one session
func ErrorTopic(sessionID string) string { return errorPrefix + sessionID }

// IsErrorTopic reports whether topic is some session's error topic
func IsErrorTopic(topic string) bool { return strings.HasPrefix(topic, errorPrefix) }

type WSRequest struct {
	Action        string `json:"action"`
	CurrentSymbol string `json:"currentSymbol,omitempty"`
	NewSymbol     string `json:"newSymbol,omitempty"`
	Topic         string `json:"topic,omitempty"`
	ID            string `json:"id,omitempty"`
}

type WSResponse struct {
	Type    string      `json:"type"`              // "message", "session", "ack", "error"
	ID      string      `json:"id,omitempty"`      // Matches request ID
	Topic   string      `json:"topic,omitempty"`   // Set on "message" frames
	Status  string      `json:"status,omitempty"`  // "success", "error"
	Message string      `json:"message,omitempty"` // Human readable detail
	Data    interface{} `json:"data,omitempty"`
}
