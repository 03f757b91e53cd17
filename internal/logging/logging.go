// Package logging is a thin field-discipline wrapper around
// github.com/ethereum/go-ethereum/log (an slog-compatible structured
// logger, the same logger the teacher's core/txpool package logs
// through directly). It exists to make the fixed field set required by
// spec.md §6 ("trace_id, correlation_id, mint, program, stage") hard to
// forget, and to keep raw transaction bytes, key material, and full ZK
// proofs out of log lines.
package logging

import (
	"os"

	"github.com/ethereum/go-ethereum/log"
)

// Fields is the structured context attached to a log line. Zero-value
// fields are simply omitted.
type Fields struct {
	TraceID       uint64
	CorrelationID string
	Mint          string
	Program       string
	Stage         string
}

func (f Fields) keyvals() []interface{} {
	kv := make([]interface{}, 0, 10)
	if f.TraceID != 0 {
		kv = append(kv, "trace_id", f.TraceID)
	}
	if f.CorrelationID != "" {
		kv = append(kv, "correlation_id", f.CorrelationID)
	}
	if f.Mint != "" {
		kv = append(kv, "mint", f.Mint)
	}
	if f.Program != "" {
		kv = append(kv, "program", f.Program)
	}
	if f.Stage != "" {
		kv = append(kv, "stage", f.Stage)
	}
	return kv
}

// Logger wraps log.Logger with the fixed field discipline.
type Logger struct {
	inner log.Logger
}

// New returns a Logger. component becomes a permanent "component" field.
func New(component string) *Logger {
	return &Logger{inner: log.Root().With("component", component)}
}

func (l *Logger) With(f Fields) *Logger {
	return &Logger{inner: l.inner.With(f.keyvals()...)}
}

func (l *Logger) Debug(msg string, f Fields, kv ...interface{}) {
	if !debugEnabled() {
		return
	}
	l.inner.Debug(msg, append(f.keyvals(), kv...)...)
}

func (l *Logger) Info(msg string, f Fields, kv ...interface{}) {
	l.inner.Info(msg, append(f.keyvals(), kv...)...)
}

func (l *Logger) Warn(msg string, f Fields, kv ...interface{}) {
	l.inner.Warn(msg, append(f.keyvals(), kv...)...)
}

func (l *Logger) Error(msg string, f Fields, kv ...interface{}) {
	l.inner.Error(msg, append(f.keyvals(), kv...)...)
}

func debugEnabled() bool {
	return os.Getenv("SNIPER_LOG_DEBUG") != ""
}

// RedactProof truncates a ZK proof byte slice to a fixed 16-byte prefix
// for logging, per spec.md §6 ("proofs truncated to 16 bytes").
func RedactProof(proof []byte) []byte {
	if len(proof) <= 16 {
		return proof
	}
	out := make([]byte, 16)
	copy(out, proof[:16])
	return out
}

// ElideLong truncates any string longer than max, appending an ellipsis
// marker, matching "long fields elided" in spec.md §6.
func ElideLong(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "…(elided)"
}
