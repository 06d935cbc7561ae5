package server

import (
	"encoding/json"
	"time"

	"github.com/nedpals/nfcard/nfc"
	"github.com/nedpals/nfcard/nfc/capture"
)

// WebSocket message types.
const (
	// phone to server
	TypeRegisterDevice  = "registerDevice"
	TypeTagScanned      = "tagScanned"
	TypeDeviceHeartbeat = "deviceHeartbeat"

	// server to phone
	TypeRegisterDeviceResponse = "registerDeviceResponse"
	TypeTagScannedResponse     = "tagScannedResponse"

	// server to consumers
	TypeTagReport    = "tagReport"
	TypeDeviceStatus = "deviceStatus"

	TypeError = "error"
)

// Error codes carried in error messages.
const (
	ErrCodeParse              = "PARSE_ERROR"
	ErrCodeInvalidMessageType = "INVALID_MESSAGE_TYPE"
	ErrCodeInvalidPayload     = "INVALID_PAYLOAD"
	ErrCodeInvalidRequest     = "INVALID_REQUEST"
	ErrCodeInvalidDevice      = "INVALID_DEVICE"
	ErrCodeInvalidCapture     = "INVALID_CAPTURE"
	ErrCodeBusy               = "BUSY"
	ErrCodeUnknownType        = "UNKNOWN_TYPE"
	ErrCodeInternal           = "INTERNAL_ERROR"
)

// Request is an incoming WebSocket message. Payload is decoded once the type
// is known.
type Request struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Response answers a Request; ID echoes the request id.
type Response struct {
	ID      string `json:"id,omitempty"`
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Payload any    `json:"payload,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Message is a server initiated push to consumers.
type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RegisterDeviceRequest is the first message a phone sends.
type RegisterDeviceRequest struct {
	DeviceName string            `json:"deviceName"`
	Platform   string            `json:"platform"` // "android" or "ios"
	AppVersion string            `json:"appVersion"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

type RegisterDeviceResponse struct {
	DeviceID   string     `json:"deviceID"`
	ServerInfo ServerInfo `json:"serverInfo"`
}

// ServerInfo tells a phone which technologies the engine reads.
type ServerInfo struct {
	Version      string   `json:"version"`
	Technologies []string `json:"technologies"`
}

// TagScannedRequest carries one capture from a phone.
type TagScannedRequest struct {
	DeviceID string          `json:"deviceID,omitempty"`
	Capture  capture.Capture `json:"capture"`
}

type TagScannedResponse struct {
	EncounterID string         `json:"encounterID"`
	Report      *nfc.TagReport `json:"report"`
}

type DeviceHeartbeat struct {
	DeviceID  string    `json:"deviceID"`
	Timestamp time.Time `json:"timestamp"`
}

// DeviceStatus is pushed to consumers whenever a phone connects, leaves or
// expires.
type DeviceStatus struct {
	DeviceID   string `json:"deviceID"`
	DeviceName string `json:"deviceName"`
	Platform   string `json:"platform"`
	Connected  bool   `json:"connected"`
	Devices    int    `json:"devices"`
}

// HealthResponse is the body of GET /api/v1/health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Dev     bool   `json:"dev,omitempty"`
	Devices int    `json:"devices"`
}

func technologyNames() []string {
	techs := nfc.AllTechnologies()
	names := make([]string, len(techs))
	for i, t := range techs {
		names[i] = t.String()
	}
	return names
}
