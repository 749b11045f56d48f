// Package gnsslog provides the package-level diagnostic logger shared by
// every daemon component. It defaults to log.Printf but may be redirected
// or muted, which tests use to capture resync/warn messages without
// polluting stdout.
package gnsslog

import "log"

// Logf is the package-level diagnostic logger. Tests or production code
// can redirect or mute it via SetLogger.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil installs a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Prog logs a PROG-level diagnostic: frame corruption, resync events, and
// other expected-but-noteworthy conditions that never propagate as errors.
func Prog(format string, v ...interface{}) {
	Logf("prog: "+format, v...)
}

// Warn logs a WARN-level diagnostic: recoverable failures such as a
// configuration-frame write that did not take effect.
func Warn(format string, v ...interface{}) {
	Logf("warn: "+format, v...)
}
