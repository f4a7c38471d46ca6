package eventify

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// AuditEvent is a single security-relevant occurrence: a sign-in attempt, a
// rotation, a detected replay. Events carry identifiers and outcomes, never
// credentials or codes.
type AuditEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType string            `json:"event_type"`
	UserID    string            `json:"user_id,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	IP        string            `json:"ip,omitempty"`
	Success   bool              `json:"success"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Event types emitted by the engine.
const (
	AuditSignUp            = "sign_up"
	AuditSignIn            = "sign_in"
	AuditSignInFailed      = "sign_in_failed"
	AuditLockout           = "lockout"
	AuditTwoFactorRequired = "two_factor_required"
	AuditChallengeSent     = "challenge_sent"
	AuditChallengeThrottle = "challenge_throttled"
	AuditRefresh           = "refresh"
	AuditRefreshReuse      = "refresh_reuse_detected"
	AuditElevation         = "elevation"
	AuditSignOut           = "sign_out"
	AuditSignOutAll        = "sign_out_all"
)

// AuditSink receives audit events from the dispatcher goroutine. Emit must
// not block indefinitely; slow sinks cause drops when DropIfFull is set.
type AuditSink interface {
	Emit(ctx context.Context, event AuditEvent)
}

// NoOpSink discards everything.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, AuditEvent) {}

// ChannelSink buffers events on a channel for the caller to drain.
type ChannelSink struct {
	events chan AuditEvent
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{events: make(chan AuditEvent, buffer)}
}

func (s *ChannelSink) Emit(ctx context.Context, event AuditEvent) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan AuditEvent {
	return s.events
}

// JSONWriterSink writes one JSON object per line to w.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{writer: w}
}

func (s *JSONWriterSink) Emit(ctx context.Context, event AuditEvent) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(data)
	_, _ = s.writer.Write([]byte("\n"))
}
