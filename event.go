package orientlog

import (
	"log/slog"
	"strings"
	"time"
)

// Level is the ordered severity of a LogEvent.
type Level int

const (
	LevelVerbose Level = iota
	LevelDebug
	LevelInformation
	LevelWarning
	LevelError
	LevelFatal
)

var levelNames = [...]string{
	LevelVerbose:     "Verbose",
	LevelDebug:       "Debug",
	LevelInformation: "Information",
	LevelWarning:     "Warning",
	LevelError:       "Error",
	LevelFatal:       "Fatal",
}

func (l Level) String() string {
	if l < LevelVerbose || l > LevelFatal {
		return "Information"
	}
	return levelNames[l]
}

// LevelFromSlog maps a slog level onto the store's level names. Levels below
// slog.LevelDebug are Verbose and levels at or above slog.LevelError+4 are
// Fatal.
func LevelFromSlog(l slog.Level) Level {
	switch {
	case l < slog.LevelDebug:
		return LevelVerbose
	case l < slog.LevelInfo:
		return LevelDebug
	case l < slog.LevelWarn:
		return LevelInformation
	case l < slog.LevelError:
		return LevelWarning
	case l < slog.LevelError+4:
		return LevelError
	default:
		return LevelFatal
	}
}

// ParseLevel accepts the level names used by the store, by log/slog and their
// common three letter abbreviations, ignoring case.
func ParseLevel(s string) (Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "verbose", "trace", "vrb", "trc":
		return LevelVerbose, true
	case "debug", "dbg":
		return LevelDebug, true
	case "information", "info", "inf":
		return LevelInformation, true
	case "warning", "warn", "wrn":
		return LevelWarning, true
	case "error", "err", "erro":
		return LevelError, true
	case "fatal", "critical", "ftl", "crit":
		return LevelFatal, true
	}
	return LevelInformation, false
}

// Property is one named entry of an event's property bag.
type Property struct {
	Name  string
	Value Value
}

// LogEvent is one structured log record.
type LogEvent struct {
	Timestamp       time.Time
	Level           Level
	MessageTemplate string

	// RenderedMessage is optional; when empty it is computed from the
	// template and the properties at serialization time.
	RenderedMessage string

	// Exception is optional error text, such as an error message or a stack
	// trace.
	Exception string

	Properties []Property
}

// EncodeEvent appends ev as one JSON object. The className, when not empty,
// is written first as the store's record class discriminator ("@class"). The
// field order is fixed:
//
//	@class, Timestamp, Level, MessageTemplate, RenderedMessage,
//	Exception (if any), Properties (if any)
//
// On error nothing is appended, so the caller can drop the event and carry
// on with the rest of a batch.
func (e *Encoder) EncodeEvent(className string, ev *LogEvent) error {
	start := e.Len()
	if err := e.encodeEvent(className, ev); err != nil {
		e.Truncate(start)
		return err
	}
	return nil
}

func (e *Encoder) encodeEvent(className string, ev *LogEvent) error {
	e.WriteByte('{')
	if len(className) > 0 {
		e.WriteString(`"@class":`)
		e.writeString(className)
		e.WriteByte(',')
	}

	e.WriteString(`"Timestamp":`)
	e.encodeTime(ev.Timestamp)

	e.WriteString(`,"Level":`)
	e.writeString(ev.Level.String())

	e.WriteString(`,"MessageTemplate":`)
	e.writeString(ev.MessageTemplate)

	// rendered eagerly so the record is self-contained in the store
	msg := ev.RenderedMessage
	if len(msg) == 0 {
		var err error
		if msg, err = e.renderMessage(ev.MessageTemplate, ev.Properties); err != nil {
			return err
		}
	}
	e.WriteString(`,"RenderedMessage":`)
	e.writeString(msg)

	if len(ev.Exception) > 0 {
		e.WriteString(`,"Exception":`)
		e.writeString(ev.Exception)
	}

	if len(ev.Properties) > 0 {
		e.WriteString(`,"Properties":{`)
		for i, p := range ev.Properties {
			if i > 0 {
				e.WriteByte(',')
			}
			e.writeString(p.Name)
			e.WriteByte(':')
			if err := e.encodeValue(p.Value, false); err != nil {
				return withPath(withPath(err, p.Name), "Properties")
			}
		}
		e.WriteByte('}')
	}

	e.WriteByte('}')
	return nil
}
