package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/roach88/livedoc/internal/ir"
)

// DocumentMonitor observes transactions. Calls happen on the document's
// executor and must not block.
type DocumentMonitor interface {
	Transaction(key ir.Key, command string, seq int64, cost int64, elapsed time.Duration)
	Fault(key ir.Key, command string, err error)
	Step(key ir.Key, label string, blocked bool)
}

type nopMonitor struct{}

func (nopMonitor) Transaction(ir.Key, string, int64, int64, time.Duration) {}
func (nopMonitor) Fault(ir.Key, string, error)                             {}
func (nopMonitor) Step(ir.Key, string, bool)                               {}

// LogMonitor reports transactions through slog. A nil Logger uses the
// default logger.
type LogMonitor struct {
	Logger *slog.Logger
}

func (m LogMonitor) logger() *slog.Logger {
	if m.Logger == nil {
		return slog.Default()
	}
	return m.Logger
}

// Transaction implements DocumentMonitor.
func (m LogMonitor) Transaction(key ir.Key, command string, seq int64, cost int64, elapsed time.Duration) {
	m.logger().Debug("transaction committed",
		"key", key.String(),
		"command", command,
		"seq", seq,
		"cost", cost,
		"elapsed", elapsed,
	)
}

// Fault implements DocumentMonitor. Policy and validation refusals are
// routine and logged at debug; faults are warnings.
func (m LogMonitor) Fault(key ir.Key, command string, err error) {
	level := slog.LevelWarn
	if IsKind(err, KindValidation) || IsKind(err, KindPolicy) || IsDedup(err) {
		level = slog.LevelDebug
	}
	m.logger().Log(context.Background(), level, "transaction reverted",
		"key", key.String(),
		"command", command,
		"code", ErrorCode(err),
		"error", err,
	)
}

// Step implements DocumentMonitor.
func (m LogMonitor) Step(key ir.Key, label string, blocked bool) {
	m.logger().Debug("state step", "key", key.String(), "label", label, "blocked", blocked)
}
