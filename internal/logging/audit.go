package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// =============================================================================
// AUDIT EVENT TYPES
// =============================================================================

// AuditEventType names an audit record.
type AuditEventType string

const (
	AuditRunStart       AuditEventType = "run_start"
	AuditRunEnd         AuditEventType = "run_end"
	AuditSessionStart   AuditEventType = "session_start"
	AuditSessionFailed  AuditEventType = "session_failed"
	AuditAttempt        AuditEventType = "attempt"
	AuditQuotaIncrement AuditEventType = "quota_increment"
)

// AuditEvent is one line of the audit trail.
type AuditEvent struct {
	EventType  AuditEventType
	RunID      string
	Target     string // profile identifier
	Outcome    string
	Strategies []string
	DurationMs int64
	Error      string
	Fields     map[string]interface{}
}

// AuditLogger writes JSON lines describing what a run did to which profile.
type AuditLogger struct {
	runID string
	log   *zap.Logger
}

var (
	auditBase *zap.Logger
	auditMu   sync.RWMutex
)

// InitAudit opens the audit trail at path, appending JSON lines.
func InitAudit(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create audit directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}

	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "ts"
	enc.MessageKey = "event"
	enc.LevelKey = ""
	enc.CallerKey = ""
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(enc), zapcore.AddSync(f), zapcore.InfoLevel)

	auditMu.Lock()
	defer auditMu.Unlock()
	if auditBase != nil {
		_ = auditBase.Sync()
	}
	auditBase = zap.New(core)
	return nil
}

// AttachAudit installs an existing logger as the audit sink.
func AttachAudit(l *zap.Logger) {
	auditMu.Lock()
	defer auditMu.Unlock()
	auditBase = l
}

// CloseAudit flushes and detaches the audit trail.
func CloseAudit() {
	auditMu.Lock()
	defer auditMu.Unlock()
	if auditBase != nil {
		_ = auditBase.Sync()
		auditBase = nil
	}
}

// Audit returns an audit logger scoped to a run.
func Audit(runID string) *AuditLogger {
	auditMu.RLock()
	defer auditMu.RUnlock()
	return &AuditLogger{runID: runID, log: auditBase}
}

// Log writes a single event.
func (a *AuditLogger) Log(e AuditEvent) {
	if a.log == nil {
		return
	}
	if e.RunID == "" {
		e.RunID = a.runID
	}
	fields := []zap.Field{zap.String("run", e.RunID)}
	if e.Target != "" {
		fields = append(fields, zap.String("target", e.Target))
	}
	if e.Outcome != "" {
		fields = append(fields, zap.String("outcome", e.Outcome))
	}
	if len(e.Strategies) > 0 {
		fields = append(fields, zap.Strings("strategies", e.Strategies))
	}
	if e.DurationMs > 0 {
		fields = append(fields, zap.Int64("dur_ms", e.DurationMs))
	}
	if e.Error != "" {
		fields = append(fields, zap.String("error", e.Error))
	}
	for k, v := range e.Fields {
		fields = append(fields, zap.Any(k, v))
	}
	a.log.Info(string(e.EventType), fields...)
}

// RunStart records the start of a run.
func (a *AuditLogger) RunStart(queued, remaining int) {
	a.Log(AuditEvent{
		EventType: AuditRunStart,
		Fields:    map[string]interface{}{"queued": queued, "quota_remaining": remaining},
	})
}

// RunEnd records why and how a run ended.
func (a *AuditLogger) RunEnd(reason string, sent, skipped, failed int, elapsed time.Duration) {
	a.Log(AuditEvent{
		EventType:  AuditRunEnd,
		Outcome:    reason,
		DurationMs: elapsed.Milliseconds(),
		Fields:     map[string]interface{}{"sent": sent, "skipped": skipped, "failed": failed},
	})
}

// SessionStart records a validated session.
func (a *AuditLogger) SessionStart(sessionID string) {
	a.Log(AuditEvent{EventType: AuditSessionStart, Target: sessionID})
}

// SessionFailed records an authentication failure.
func (a *AuditLogger) SessionFailed(err error) {
	a.Log(AuditEvent{EventType: AuditSessionFailed, Error: errString(err)})
}

// Attempt records the processing of one profile.
func (a *AuditLogger) Attempt(identifier, outcome string, strategies []string, elapsed time.Duration, err error) {
	a.Log(AuditEvent{
		EventType:  AuditAttempt,
		Target:     identifier,
		Outcome:    outcome,
		Strategies: strategies,
		DurationMs: elapsed.Milliseconds(),
		Error:      errString(err),
	})
}

// QuotaIncrement records a consumed unit of an action's daily quota.
func (a *AuditLogger) QuotaIncrement(action, date string, sent, limit int) {
	a.Log(AuditEvent{
		EventType: AuditQuotaIncrement,
		Target:    action,
		Fields:    map[string]interface{}{"date": date, "sent": sent, "limit": limit},
	})
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
