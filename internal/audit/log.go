package audit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"verigate.io/internal/auth"
	"verigate.io/internal/obs"
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

// requestIDFromContext extracts the audit request id from context if present.
func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// sensitiveFieldKeys never reach the audit trail verbatim: verification
// payloads carry personal documents and credentials carry secrets.
var sensitiveFieldKeys = map[string]bool{
	"payload":  true,
	"password": true,
	"token":    true,
	"secret":   true,
	"api_key":  true,
}

// LogEvent writes an audit log entry enriched with request and principal context.
// Sensitive field values are replaced with "[redacted]".
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	entry := map[string]any{
		"ts":    time.Now().UTC().Format(time.RFC3339Nano),
		"type":  "audit",
		"event": event,
	}
	if rid := requestIDFromContext(ctx); rid != "" {
		entry["request_id"] = rid
	}
	if principal, ok := auth.PrincipalFromContext(ctx); ok {
		entry["principal_id"] = principal.ID
		entry["principal_kind"] = string(principal.Kind)
	}
	copyFields := make(map[string]any, len(fields))
	for k, v := range fields {
		if sensitiveFieldKeys[strings.ToLower(k)] {
			copyFields[k] = "[redacted]"
			continue
		}
		copyFields[k] = v
	}
	entry["fields"] = copyFields

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	obs.Logger().Println(string(data))
	return nil
}
