package audit

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"campusbot.org/identity/internal/auth"
	"campusbot.org/identity/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext returns the request id set by WithRequestID.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes a structured audit line enriched with request and caller context.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	attrs := []any{"type", "audit", "event", event}
	if rid := RequestIDFromContext(ctx); rid != "" {
		attrs = append(attrs, "request_id", rid)
	}
	if p, ok := auth.PrincipalFromContext(ctx); ok && p.Account != nil {
		attrs = append(attrs, "actor_id", p.Account.ID)
	}
	copyFields := make(map[string]any, len(fields))
	for k, v := range fields {
		copyFields[k] = v
	}
	attrs = append(attrs, "fields", copyFields)
	obs.Logger().Info("audit", attrs...)
	return nil
}

// Recorder persists audit entries and mirrors each one to the log. A failed
// append is logged and otherwise ignored.
type Recorder struct {
	store auth.Store
}

var _ auth.Auditor = (*Recorder)(nil)

func NewRecorder(store auth.Store) *Recorder {
	return &Recorder{store: store}
}

func (r *Recorder) Record(ctx context.Context, entry *auth.AuditEntry) {
	fields := map[string]any{}
	if entry.AccountID != nil {
		fields["account_id"] = *entry.AccountID
	}
	if entry.ClientIP != "" {
		fields["client_ip"] = entry.ClientIP
	}
	if entry.Metadata != "" {
		fields["metadata"] = entry.Metadata
	}

	if err := r.store.Audit(ctx).Append(ctx, entry); err != nil {
		obs.Logger().LogAttrs(ctx, slog.LevelError, "audit_append_failed",
			slog.String("action", entry.Action),
			slog.String("request_id", RequestIDFromContext(ctx)),
			slog.String("error", err.Error()),
		)
		fields["persisted"] = false
	} else {
		fields["audit_id"] = entry.ID
	}
	_ = LogEvent(ctx, entry.Action, fields)
}
