// Package websocket defines the wire protocol between a session server and
// its browser client.
package websocket

import (
	"encoding/json"
	"fmt"
)

// FrameType identifies the kind of frame on the session socket.
type FrameType string

const (
	// Server -> client frames.
	FrameTypeQuestion FrameType = "question"
	FrameTypeCancel   FrameType = "cancel"
	FrameTypeEnd      FrameType = "end"

	// Client -> server frames.
	FrameTypeConnected FrameType = "connected"
	FrameTypeResponse  FrameType = "response"
)

// Frame is the single message shape exchanged over a session WebSocket.
// Fields beyond Type are populated depending on the frame type.
type Frame struct {
	Type         FrameType              `json:"type"`
	ID           string                 `json:"id,omitempty"`
	QuestionType string                 `json:"questionType,omitempty"`
	Config       map[string]interface{} `json:"config,omitempty"`
	Answer       map[string]interface{} `json:"answer,omitempty"`
}

// NewQuestionFrame creates the frame that delivers a question to the browser.
func NewQuestionFrame(id, questionType string, config map[string]interface{}) *Frame {
	return &Frame{
		Type:         FrameTypeQuestion,
		ID:           id,
		QuestionType: questionType,
		Config:       config,
	}
}

// NewCancelFrame creates the frame that withdraws a question from the browser.
func NewCancelFrame(id string) *Frame {
	return &Frame{
		Type: FrameTypeCancel,
		ID:   id,
	}
}

// NewEndFrame creates the frame that tells the browser the session is over.
func NewEndFrame() *Frame {
	return &Frame{Type: FrameTypeEnd}
}

// NewConnectedFrame creates the greeting a client sends after dialing.
func NewConnectedFrame() *Frame {
	return &Frame{Type: FrameTypeConnected}
}

// NewResponseFrame creates the frame a client sends to answer a question.
func NewResponseFrame(id string, answer map[string]interface{}) *Frame {
	return &Frame{
		Type:   FrameTypeResponse,
		ID:     id,
		Answer: answer,
	}
}

// ParseFrame decodes a frame from raw socket bytes.
func ParseFrame(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse frame: %w", err)
	}
	if f.Type == "" {
		return nil, fmt.Errorf("frame has no type")
	}
	return &f, nil
}

// Encode serializes the frame for the socket.
func (f *Frame) Encode() ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	return data, nil
}
