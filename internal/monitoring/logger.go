// Package monitoring carries the diagnostic chatter of the detection
// pipeline behind a swap-able logger, so batch runs stay verbose and tests
// stay quiet.
package monitoring

import "log"

// Logf is the package-level diagnostic logger, log.Printf by default.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger; nil mutes it.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}
