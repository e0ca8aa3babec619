package util

import (
	"runtime/debug"

	"github.com/sirupsen/logrus"
)

// PanicHandler provides centralized panic recovery and logging for the
// long-lived goroutines the server launches.
type PanicHandler struct {
	logger *logrus.Logger
}

// NewPanicHandler creates a new panic handler.
func NewPanicHandler(logger *logrus.Logger) *PanicHandler {
	return &PanicHandler{logger: logger}
}

// Recover recovers from a panic and logs it with its stack trace. Use
// as a deferred call at the top of a goroutine.
func (ph *PanicHandler) Recover(component string) {
	if r := recover(); r != nil {
		ph.logger.WithFields(logrus.Fields{
			"component":   component,
			"panic_value": r,
			"stack_trace": string(debug.Stack()),
		}).Error("Panic recovered")
	}
}

// WrapGoroutine wraps a function with panic recovery.
func (ph *PanicHandler) WrapGoroutine(component string, fn func()) func() {
	return func() {
		defer ph.Recover(component)
		fn()
	}
}

// SafeGo starts fn in a goroutine that logs instead of crashing the
// process when fn panics.
func (ph *PanicHandler) SafeGo(component string, fn func()) {
	go ph.WrapGoroutine(component, fn)()
}
