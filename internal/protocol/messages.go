package protocol

import (
	"strings"
	"time"
)

// ContentRequest asks the text service for a completion.
type ContentRequest struct {
	SessionID   string  `json:"session_id"`
	Prompt      string  `json:"prompt"`
	System      string  `json:"system,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	TraceID     string  `json:"trace_id,omitempty"`
}

// ContentResponse is the reply to a ContentRequest. Error is set instead of
// Content when the backend failed.
type ContentResponse struct {
	SessionID        string    `json:"session_id"`
	Content          string    `json:"content"`
	Error            string    `json:"error,omitempty"`
	PromptTokens     int       `json:"prompt_tokens,omitempty"`
	CompletionTokens int       `json:"completion_tokens,omitempty"`
	LatencyMS        int64     `json:"latency_ms"`
	TraceID          string    `json:"trace_id,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}

// VoiceRequest asks the speech service to synthesize text.
type VoiceRequest struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
	Voice     string `json:"voice"`
	TraceID   string `json:"trace_id,omitempty"`
}

// VoiceResponse carries raw little-endian 16-bit PCM. NoAudio reports that the
// backend answered without any audio payload.
type VoiceResponse struct {
	SessionID  string    `json:"session_id"`
	PCM        []byte    `json:"pcm,omitempty"`
	SampleRate int       `json:"sample_rate"`
	Channels   int       `json:"channels"`
	NoAudio    bool      `json:"no_audio,omitempty"`
	Error      string    `json:"error,omitempty"`
	LatencyMS  int64     `json:"latency_ms"`
	TraceID    string    `json:"trace_id,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// StudioEvent is published whenever a studio session changes state.
type StudioEvent struct {
	SessionID string            `json:"session_id"`
	Type      string            `json:"type"`
	Detail    map[string]string `json:"detail,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

const (
	SubjectContentRequest = "studio.content.request"
	SubjectVoiceRequest   = "studio.voice.request"
	SubjectEventPrefix    = "studio.event"
	SubjectEventWildcard  = SubjectEventPrefix + ".>"

	SubjectNodeAnnounce          = "studio.node.announce"
	SubjectNodeHeartbeatPrefix   = "studio.node.heartbeat"
	SubjectNodeHeartbeatWildcard = SubjectNodeHeartbeatPrefix + ".*"
)

const (
	EventSessionCreated   = "session_created"
	EventSessionClosed    = "session_closed"
	EventContentRequested = "content_requested"
	EventContentCompleted = "content_completed"
	EventContentFallback  = "content_fallback"
	EventVoiceRequested   = "voice_requested"
	EventVoiceReady       = "voice_ready"
	EventVoiceFailed      = "voice_failed"
	EventPlaybackStarted  = "playback_started"
	EventPlaybackEnded    = "playback_ended"
	EventPlaybackStopped  = "playback_stopped"
	EventExported         = "exported"
)

// EventSubject returns the subject a session event is published on.
func EventSubject(sessionID, eventType string) string {
	return SubjectEventPrefix + "." + token(sessionID) + "." + token(eventType)
}

// NodeHeartbeatSubject returns the subject a node's heartbeats use.
func NodeHeartbeatSubject(nodeID string) string {
	return SubjectNodeHeartbeatPrefix + "." + token(nodeID)
}

// SessionEventsSubject matches every event of one session.
func SessionEventsSubject(sessionID string) string {
	return SubjectEventPrefix + "." + token(sessionID) + ".>"
}

// token keeps ids from introducing extra subject levels or wildcards.
func token(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, s)
}
