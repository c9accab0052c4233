// Package events contains the event contract of the /ws/events stream.
package events

// MessageType defines the type of WebSocket message
type MessageType = string

const (
	// MessageTypeConnection is sent once, right after a subscriber connects.
	MessageTypeConnection MessageType = "connection"

	// Entitlement lifecycle messages
	MessageTypeTrialEnded       MessageType = "entitlement:trial_ended"
	MessageTypeLicenseEnded     MessageType = "entitlement:license_ended"
	MessageTypeLicenseActivated MessageType = "entitlement:license_activated"
)

// Message is a frame of the event stream. Timestamp is Unix milliseconds.
type Message struct {
	Type      MessageType            `json:"type"`
	Data      map[string]interface{} `json:"data"`
	Timestamp int64                  `json:"timestamp"`
}
