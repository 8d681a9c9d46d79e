package goElevate

import (
	"context"
	"io"

	"github.com/MrEthical07/goElevate/internal/audit"
)

// Audit event types emitted by the client.
const (
	auditLoginOutcome      = "login_outcome"
	auditTwoFactorVerified = "two_factor_verified"
	auditTwoFactorFailed   = "two_factor_failed"
	auditChallengeAbandon  = "two_factor_abandoned"
	auditElevated          = "session_elevated"
	auditSessionLost       = "session_invalidated"
	auditBiometric         = "biometric_prompt"
	auditBiometricPolicy   = "biometric_policy_changed"
	auditTwoFactorSetup    = "two_factor_setup"
)

// emitter stamps client audit events. The zero value discards.
type emitter struct {
	d *audit.Dispatcher
}

func (e emitter) emit(ctx context.Context, eventType string, success bool, userID string, reason error, metadata map[string]string) {
	if e.d == nil {
		return
	}
	ev := audit.Event{
		Origin:    "client",
		EventType: eventType,
		UserID:    userID,
		Success:   success,
		Metadata:  metadata,
	}
	if reason != nil {
		ev.Reason = reason.Error()
	}
	e.d.Emit(ctx, ev)
}

// Audit sink types shared with the backend.
type (
	AuditEvent          = audit.Event
	AuditSink           = audit.Sink
	NoOpAuditSink       = audit.NoOpSink
	ChannelAuditSink    = audit.ChannelSink
	JSONWriterAuditSink = audit.JSONWriterSink
)

func NewChannelAuditSink(buffer int) *ChannelAuditSink {
	return audit.NewChannelSink(buffer)
}

func NewJSONWriterAuditSink(w io.Writer) *JSONWriterAuditSink {
	return audit.NewJSONWriterSink(w)
}
