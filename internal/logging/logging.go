// Package logging wraps the standard logger with the emoji-tagged
// high-signal-event style used throughout this codebase: cold paths
// (margin transitions, order placement, command responses) log with a
// status icon; hot paths (quote refresh, rule evaluation) stay quiet.
package logging

import (
	"log"
	"os"
)

var std = log.New(os.Stdout, "", log.LstdFlags)

// Info logs a routine status line, no icon.
func Info(format string, args ...interface{}) {
	std.Printf(format, args...)
}

// Good logs a successful high-signal event.
func Good(format string, args ...interface{}) {
	std.Printf("✅ "+format, args...)
}

// Warn logs a recoverable problem.
func Warn(format string, args ...interface{}) {
	std.Printf("⚠️ "+format, args...)
}

// Alert logs a policy block, margin transition, or emergency action.
func Alert(format string, args ...interface{}) {
	std.Printf("🔔 "+format, args...)
}

// Fire logs an order placement / execution event.
func Fire(format string, args ...interface{}) {
	std.Printf("🚀 "+format, args...)
}
