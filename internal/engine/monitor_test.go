package engine

import (
	"bytes"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newLogMonitor(level slog.Level) (LogMonitor, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: level}))
	return LogMonitor{Logger: logger}, &buf
}

func TestLogMonitor_FaultLevels(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		warns bool
	}{
		{"validation", validationError(CodeMissingCommand, "no command"), false},
		{"policy", policyError(CodeConnectRejected, "no"), false},
		{"dedup", newError(KindDedup, CodeDuplicateMarker, "seen"), false},
		{"abort", faultError(CodeAbort, "stop"), true},
		{"fatal", newError(KindFatal, CodeGoodwillExhausted, "spent"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, buf := newLogMonitor(slog.LevelWarn)

			m.Fault(testKey, "send", tt.err)

			if tt.warns {
				assert.Contains(t, buf.String(), "level=WARN")
				assert.Contains(t, buf.String(), "transaction reverted")
			} else {
				assert.Empty(t, buf.String())
			}
		})
	}
}

func TestLogMonitor_TransactionAndStepAtDebug(t *testing.T) {
	m, buf := newLogMonitor(slog.LevelDebug)

	m.Transaction(testKey, "connect", 3, 2, time.Millisecond)
	m.Step(testKey, "pair", true)

	out := buf.String()
	assert.Contains(t, out, "transaction committed")
	assert.Contains(t, out, "key=fixture/doc-1")
	assert.Contains(t, out, "seq=3")
	assert.Contains(t, out, "label=pair")
	assert.Contains(t, out, "blocked=true")
}

func TestLogMonitor_NilLoggerUsesDefault(t *testing.T) {
	assert.NotPanics(t, func() {
		LogMonitor{}.Step(testKey, "x", false)
	})
}
