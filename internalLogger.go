package orientlog

import (
	"log"
	"os"
	"sync/atomic"
)

const internalLogPrefix = "[orientlog] "

var internalLogger atomic.Pointer[log.Logger]

func init() {
	SetInternalLogger(nil)
}

// InternalLogger returns the Logger that reports trouble inside the shipping
// stack itself: dropped events, failed deliveries and failed schema
// provisioning.
func InternalLogger() *log.Logger { return internalLogger.Load() }

// SetInternalLogger makes l the internal logger. A nil l restores the default,
// which writes to stderr. It is safe to call while Sinks are running.
func SetInternalLogger(l *log.Logger) {
	if l == nil {
		l = log.New(os.Stderr, internalLogPrefix, log.LstdFlags)
	}
	internalLogger.Store(l)
}

// internalf writes one line to the internal logger, tagged with the component
// that produced it.
func internalf(component, format string, args ...any) {
	InternalLogger().Printf(component+": "+format, args...)
}
