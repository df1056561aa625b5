// Package protocol defines the WebSocket message types for head-unit
// communication. This package is shared between the iris head-unit firmware
// and go-iris (orchestrator).
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType identifies the type of WebSocket message
type MessageType string

const (
	// Head unit → Orchestrator messages
	TypeFrame MessageType = "frame" // Camera frame
	TypeMic   MessageType = "mic"   // Microphone audio
	TypeState MessageType = "state" // Head-unit state

	// Orchestrator → Head unit messages
	TypeSpeak  MessageType = "speak"  // Synthesized audio playback
	TypeConfig MessageType = "config" // Configuration update

	// Bidirectional
	TypePing MessageType = "ping" // Health check
	TypePong MessageType = "pong" // Health check response
)

// Message is the base wrapper for all WebSocket messages
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp int64           `json:"ts,omitempty"` // Unix milliseconds
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewMessage creates a new message with the current timestamp
func NewMessage(msgType MessageType, data interface{}) (*Message, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal message data: %w", err)
		}
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
		Data:      rawData,
	}, nil
}

// ParseData unmarshals the message data into the provided struct
func (m *Message) ParseData(v interface{}) error {
	if m.Data == nil {
		return nil
	}
	return json.Unmarshal(m.Data, v)
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
	return &msg, nil
}

// =============================================================================
// Head unit → Orchestrator Message Types
// =============================================================================

// FrameData contains a camera frame
type FrameData struct {
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	Format  string `json:"format"` // "jpeg", "h264"
	Data    string `json:"data"`   // base64 encoded
	FrameID uint64 `json:"frame_id,omitempty"`
}

// MicData contains microphone audio
type MicData struct {
	Format     string `json:"format"`      // "pcm16", "opus"
	SampleRate int    `json:"sample_rate"` // e.g., 16000
	Channels   int    `json:"channels"`    // 1 for mono
	Data       string `json:"data"`        // base64 encoded
}

// StateData contains head-unit status information
type StateData struct {
	Connected bool          `json:"connected"`
	Battery   *BatteryState `json:"battery,omitempty"`
	Sensors   *SensorState  `json:"sensors,omitempty"`
}

// BatteryState contains the power status
type BatteryState struct {
	Percent  int     `json:"percent"`  // 0-100
	Charging bool    `json:"charging"` // on external power
	Voltage  float64 `json:"voltage,omitempty"`
}

// SensorState contains per-sensor health flags
type SensorState struct {
	CameraOK  bool    `json:"camera_ok"`
	MicOK     bool    `json:"mic_ok"`
	SpeakerOK bool    `json:"speaker_ok"`
	TempC     float64 `json:"temp_c,omitempty"`
}

// =============================================================================
// Orchestrator → Head unit Message Types
// =============================================================================

// SpeakData contains synthesized audio to play
type SpeakData struct {
	Format     string `json:"format"`      // "pcm16", "opus"
	SampleRate int    `json:"sample_rate"` // e.g., 24000
	Channels   int    `json:"channels"`    // 1 for mono
	Data       string `json:"data"`        // base64 encoded
	Final      bool   `json:"final,omitempty"` // last chunk of an utterance
}

// ConfigUpdate contains configuration changes
type ConfigUpdate struct {
	Camera *CameraConfig `json:"camera,omitempty"`
	Audio  *AudioConfig  `json:"audio,omitempty"`
}

// CameraConfig contains camera settings
type CameraConfig struct {
	Width     int    `json:"width,omitempty"`
	Height    int    `json:"height,omitempty"`
	Framerate int    `json:"framerate,omitempty"`
	Quality   int    `json:"quality,omitempty"`
	Preset    string `json:"preset,omitempty"` // "720p", "1080p"
}

// AudioConfig contains audio settings
type AudioConfig struct {
	MicEnabled     bool `json:"mic_enabled,omitempty"`
	SpeakerEnabled bool `json:"speaker_enabled,omitempty"`
	Volume         int  `json:"volume,omitempty"` // 0-100
}

// =============================================================================
// Bidirectional Message Types
// =============================================================================

// PingData contains ping information
type PingData struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"ts"`
}

// PongData contains pong response
type PongData struct {
	ID        string `json:"id"`
	PingTS    int64  `json:"ping_ts"`
	PongTS    int64  `json:"pong_ts"`
	LatencyMs int64  `json:"latency_ms"`
}
