package orientlog

import (
	"log/slog"
)

// HandlerOptions are used to customize the slog.Handler.
//
// NB: The struct pointer options approach is used to be consistent with the
// approach used in the standard library for `HandlerOptions`.
type HandlerOptions struct {

	// Level reports the minimum record level that will be logged. The handler
	// discards records with lower levels. If Level is nil, the handler assumes
	// LevelInfo. The handler calls Level.Level for each record processed; to
	// adjust the minimum level dynamically, use a LevelVar.
	Level slog.Leveler

	// AddSource causes the handler to compute the source code position of the
	// log statement and add a SourceKey property to the event.
	AddSource bool

	// Sink customizes the Sink created by NewHandler. It is not used by
	// NewHandlerCustom.
	Sink *SinkOptions

	// Client customizes the Client created by NewHandler. It is not used by
	// NewHandlerCustom.
	Client *ClientOptions

	// Verbose controls whether debug logs are written to the internal logger.
	Verbose bool
}

// DefaultHandlerOptions returns *HandlerOptions with all default values.
func DefaultHandlerOptions() *HandlerOptions {
	return &HandlerOptions{
		Level: slog.LevelInfo,
	}
}

// resolve ensures that all options have valid values. Otherwise, nil Sink and
// Client options are left for their constructors to default.
func (o *HandlerOptions) resolve() {

	// set default log level if not provided
	if o.Level == nil {
		o.Level = slog.LevelInfo
	}

	// verbosity carries down to the delivery stack
	if o.Verbose {
		if o.Sink == nil {
			o.Sink = DefaultSinkOptions()
		}
		o.Sink.Verbose = true
		if o.Client == nil {
			o.Client = DefaultClientOptions()
		}
		o.Client.Verbose = true
	}
}
