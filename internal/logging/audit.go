package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// AuditEventType defines the type of audit event. Each type maps to one
// fact predicate so audit logs can be loaded back as a program.
type AuditEventType string

const (
	// Front end -> program_event/4
	AuditParse AuditEventType = "parse"
	AuditBuild AuditEventType = "build"

	// Engine -> engine_call/6
	AuditSolve   AuditEventType = "solve"
	AuditTimeout AuditEventType = "timeout"

	// Per-model work -> model_event/6
	AuditReconstruct AuditEventType = "reconstruct"
	AuditExplain     AuditEventType = "explain"

	// Archive -> store_event/4
	AuditArchive AuditEventType = "archive"
)

// AuditEvent is one structured audit line.
type AuditEvent struct {
	Timestamp  int64          `json:"ts"`
	EventType  AuditEventType `json:"event"`
	RunID      string         `json:"run,omitempty"`
	Target     string         `json:"target"`
	Success    bool           `json:"success"`
	Count      int            `json:"count"`
	DurationMs int64          `json:"dur_ms"`
	Error      string         `json:"error,omitempty"`
	Fact       string         `json:"fact"`
}

var (
	auditFile   *os.File
	auditMu     sync.Mutex
	auditLogger *AuditLogger
)

// AuditLogger writes audit events, optionally scoped to a run.
type AuditLogger struct {
	runID string
}

// InitAudit opens the audit log in the configured log directory. It is a
// no-op unless debug mode is on and a directory is set.
func InitAudit() error {
	configMu.RLock()
	s := settings
	configMu.RUnlock()
	if !s.DebugMode || s.Dir == "" {
		return nil
	}

	auditMu.Lock()
	defer auditMu.Unlock()

	if auditFile != nil {
		return nil // Already initialized
	}

	path := filepath.Join(s.Dir, fmt.Sprintf("%s_audit.log", time.Now().Format("2006-01-02")))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}
	auditFile = file
	return nil
}

// CloseAudit closes the audit log file
func CloseAudit() {
	auditMu.Lock()
	defer auditMu.Unlock()

	if auditFile != nil {
		auditFile.Close()
		auditFile = nil
	}
}

// Audit returns the global audit logger
func Audit() *AuditLogger {
	auditMu.Lock()
	defer auditMu.Unlock()
	if auditLogger == nil {
		auditLogger = &AuditLogger{}
	}
	return auditLogger
}

// AuditWithRun creates an audit logger scoped to a run
func AuditWithRun(runID string) *AuditLogger {
	return &AuditLogger{runID: runID}
}

// Log writes an audit event as a JSON line.
func (a *AuditLogger) Log(event AuditEvent) {
	auditMu.Lock()
	defer auditMu.Unlock()
	if auditFile == nil {
		return
	}

	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}
	if event.RunID == "" {
		event.RunID = a.runID
	}
	event.Fact = auditFact(event)

	data, err := json.Marshal(event)
	if err == nil {
		auditFile.Write(append(data, '\n'))
	}
}

// auditFact renders an event as a ground fact of the rule language.
func auditFact(e AuditEvent) string {
	switch e.EventType {
	case AuditParse, AuditBuild:
		return fmt.Sprintf("program_event(%d, %s, \"%s\", %s).",
			e.Timestamp, e.EventType, escapeString(e.Target), outcome(e.Success))
	case AuditSolve, AuditTimeout:
		return fmt.Sprintf("engine_call(%d, %s, \"%s\", %s, %d, %d).",
			e.Timestamp, e.EventType, escapeString(e.Target), outcome(e.Success), e.Count, e.DurationMs)
	case AuditReconstruct, AuditExplain:
		return fmt.Sprintf("model_event(%d, %s, \"%s\", \"%s\", %s, %d).",
			e.Timestamp, e.EventType, e.RunID, escapeString(e.Target), outcome(e.Success), e.Count)
	case AuditArchive:
		return fmt.Sprintf("store_event(%d, \"%s\", %s, %d).",
			e.Timestamp, e.RunID, outcome(e.Success), e.Count)
	default:
		return fmt.Sprintf("audit_event(%d, \"%s\", \"%s\", %s).",
			e.Timestamp, escapeString(string(e.EventType)), escapeString(e.Target), outcome(e.Success))
	}
}

func outcome(ok bool) string {
	if ok {
		return "ok"
	}
	return "failed"
}

func escapeString(s string) string {
	var b strings.Builder
	b.Grow(len(s) + len(s)/10)
	for _, c := range s {
		switch c {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			// dropped; the lexer has no \r escape
		case '\t':
			b.WriteString(`\t`)
		default:
			b.WriteRune(c)
		}
	}
	return b.String()
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// Parsed records a parse or build attempt of a source file.
func (a *AuditLogger) Parsed(event AuditEventType, source string, err error) {
	a.Log(AuditEvent{EventType: event, Target: source, Success: err == nil, Error: errText(err)})
}

// Solved records an engine invocation.
func (a *AuditLogger) Solved(engine string, models int, dur time.Duration, err error, timedOut bool) {
	event := AuditSolve
	if timedOut {
		event = AuditTimeout
	}
	a.Log(AuditEvent{
		EventType:  event,
		Target:     engine,
		Success:    err == nil,
		Count:      models,
		DurationMs: dur.Milliseconds(),
		Error:      errText(err),
	})
}

// ModelProcessed records reconstruction or explanation of one model.
func (a *AuditLogger) ModelProcessed(event AuditEventType, modelID string, steps int, err error) {
	a.Log(AuditEvent{EventType: event, Target: modelID, Success: err == nil, Count: steps, Error: errText(err)})
}

// Archived records a run written to the archive.
func (a *AuditLogger) Archived(models int, err error) {
	a.Log(AuditEvent{EventType: AuditArchive, Success: err == nil, Count: models, Error: errText(err)})
}
