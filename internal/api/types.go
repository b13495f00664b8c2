package api

import "github.com/soothe-app/soothe/internal/wire"

// Actions accepted by the live endpoint.
const (
	ActionCreateSession = "create_session"
	ActionSendInput     = "send_input"
	ActionGetMessages   = "get_messages"
	ActionCloseSession  = "close_session"
)

// LiveRequest is the envelope for every proxied live-session call.
type LiveRequest struct {
	Action    string         `json:"action" validate:"required"`
	SessionID string         `json:"session_id,omitempty"`
	Config    *SessionSetup  `json:"config,omitempty"`
	Input     *RealtimeInput `json:"input,omitempty"`
}

// SessionSetup configures a new upstream session.
type SessionSetup struct {
	Model                    string   `json:"model"`
	ResponseModalities       []string `json:"response_modalities,omitempty"`
	SystemInstruction        string   `json:"system_instruction,omitempty"`
	InputAudioTranscription  bool     `json:"input_audio_transcription,omitempty"`
	OutputAudioTranscription bool     `json:"output_audio_transcription,omitempty"`
}

// RealtimeInput carries exactly one outbound payload.
type RealtimeInput struct {
	Image *wire.InlineData `json:"image,omitempty"`
	Audio *wire.InlineData `json:"audio,omitempty"`
}

// LiveResponse is the envelope for every proxied live-session reply.
type LiveResponse struct {
	Success       bool           `json:"success"`
	SessionID     string         `json:"sessionId,omitempty"`
	Messages      []wire.Message `json:"messages,omitempty"`
	SessionClosed bool           `json:"sessionClosed,omitempty"`
	Error         string         `json:"error,omitempty"`
}

// ErrorResponse represents an error response on non-live endpoints.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
