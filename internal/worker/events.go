package worker

import (
	"database/sql"
	"errors"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/PoiScript/sagiri/internal/db"
	"github.com/PoiScript/sagiri/internal/telegram"
)

// EventLog writes events to the events table. A nil *EventLog or one
// without a database drops every event.
type EventLog struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewEventLog creates an EventLog on database.
func NewEventLog(database *sql.DB, logger *zap.Logger) *EventLog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventLog{db: database, logger: logger}
}

// Log records an event and returns its id, or nil if it was not stored.
// Storage failures are logged and otherwise ignored.
func (e *EventLog) Log(parentID *int64, eventType string, payload map[string]any) *int64 {
	if e == nil || e.db == nil {
		return nil
	}
	id, err := db.LogEvent(e.db, parentID, eventType, payload)
	if err != nil {
		e.logger.Warn("failed to log event", zap.String("event_type", eventType), zap.Error(err))
		return nil
	}
	return &id
}

// Classify maps an error to the class used for circuit breaking and event
// payloads.
func Classify(err error) string {
	var (
		netErr   *telegram.NetworkError
		protoErr *telegram.ProtocolError
		apiErr   *telegram.APIError
	)
	switch {
	case err == nil:
		return "none"
	case errors.As(err, &netErr):
		return "network"
	case errors.As(err, &protoErr):
		return "protocol"
	case errors.As(err, &apiErr):
		return "api"
	default:
		return "unknown"
	}
}

var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bbot[0-9]+:[A-Za-z0-9_\-]+`),
	regexp.MustCompile(`(?i)\bBearer\s+[A-Za-z0-9._\-=/+]+`),
	regexp.MustCompile(`(?i)\b([A-Za-z0-9_]*(TOKEN|SECRET|PASSWORD|API_KEY))\b\s*[:=]\s*["']?([^\s"']+)`),
}

// redactSecrets masks bot tokens and credentials in text. Transport errors
// carry the request URL, which embeds the bot token.
func redactSecrets(text string) (string, bool) {
	out := text
	redacted := false
	for _, p := range secretPatterns {
		out = p.ReplaceAllStringFunc(out, func(m string) string {
			redacted = true
			switch {
			case strings.HasPrefix(m, "bot"):
				return "bot***REDACTED***"
			case strings.Contains(m, "="):
				return strings.SplitN(m, "=", 2)[0] + "=***REDACTED***"
			case strings.Contains(m, ":"):
				return strings.SplitN(m, ":", 2)[0] + ": ***REDACTED***"
			default:
				return "***REDACTED***"
			}
		})
	}
	return out, redacted
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	text, _ := redactSecrets(err.Error())
	return text
}
