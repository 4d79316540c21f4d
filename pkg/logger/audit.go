package logger

import (
	"context"
	"log/slog"
	"time"
)

// AuditEvent represents a security-relevant 2FA event
type AuditEvent struct {
	EventType string // e.g. "totp_enabled", "method_change_approved", "login_challenge_denied"
	UserID    string
	Success   bool
	Reason    string
	Metadata  map[string]string
}

// AuditLogger writes structured security audit records alongside the
// regular application log
type AuditLogger struct {
	logger *slog.Logger
}

// NewAuditLogger creates a new audit logger
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return &AuditLogger{logger: logger}
}

// Log records a 2FA audit event. Failures log at warn level so they
// surface in alerting without a separate pipeline.
func (al *AuditLogger) Log(event AuditEvent) {
	attrs := []slog.Attr{
		slog.String("audit_type", "twofa"),
		slog.String("event_type", event.EventType),
		slog.Bool("success", event.Success),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}

	if event.UserID != "" {
		attrs = append(attrs, slog.String("user_id", event.UserID))
	}
	if event.Reason != "" {
		attrs = append(attrs, slog.String("reason", event.Reason))
	}
	for key, val := range event.Metadata {
		attrs = append(attrs, slog.String(key, val))
	}

	level := slog.LevelInfo
	if !event.Success {
		level = slog.LevelWarn
	}
	al.logger.LogAttrs(context.Background(), level, "audit", attrs...)
}
