package main

import (
	"strings"
	"time"

	"github.com/valyala/fastjson"

	"github.com/bitdabbler/orientlog"
)

// runIDProperty names the property that tags every event shipped by one run
// of the command.
const runIDProperty = "ShipperRunId"

var templateEscaper = strings.NewReplacer("{", "{{", "}", "}}")

// lineParser turns newline-delimited JSON log lines into LogEvents. Members
// with well-known names (CLEF, log/slog and common logger conventions) fill
// the event header; everything else becomes a property. A lineParser is not
// safe for concurrent use.
type lineParser struct {
	parser fastjson.Parser
	runID  string
	now    func() time.Time
}

func newLineParser(runID string) *lineParser {
	return &lineParser{runID: runID, now: time.Now}
}

// parse converts one line. Lines that are not JSON objects are shipped as
// Information events carrying the raw text.
func (p *lineParser) parse(line []byte) orientlog.LogEvent {
	ev := orientlog.LogEvent{Level: orientlog.LevelInformation}

	v, err := p.parser.ParseBytes(line)
	if err != nil || v.Type() != fastjson.TypeObject {
		ev.Timestamp = p.now()
		ev.MessageTemplate = templateEscaper.Replace(string(line))
		ev.Properties = []orientlog.Property{p.runIDProp()}
		return ev
	}

	var haveTime, haveLevel, haveTemplate, haveException bool
	v.GetObject().Visit(func(key []byte, v *fastjson.Value) {
		k := string(key)
		s, isString := stringOf(v)

		switch {
		case isString && !haveTime && (k == "@t" || k == "timestamp" || k == "time"):
			if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
				ev.Timestamp = t
				haveTime = true
				return
			}
		case isString && !haveLevel && (k == "@l" || k == "level"):
			if l, ok := orientlog.ParseLevel(s); ok {
				ev.Level = l
				haveLevel = true
				return
			}
		case isString && !haveTemplate && (k == "@mt" || k == "msg" || k == "message"):
			ev.MessageTemplate = s
			haveTemplate = true
			return
		case isString && k == "@m":
			ev.RenderedMessage = s
			return
		case isString && !haveException && (k == "@x" || k == "error" || k == "exception"):
			ev.Exception = s
			haveException = true
			return
		}

		ev.Properties = append(ev.Properties, orientlog.Property{Name: k, Value: jsonValue(v)})
	})

	if !haveTime {
		ev.Timestamp = p.now()
	}
	if !haveTemplate && len(ev.RenderedMessage) > 0 {
		ev.MessageTemplate = templateEscaper.Replace(ev.RenderedMessage)
	}
	ev.Properties = append(ev.Properties, p.runIDProp())

	return ev
}

func (p *lineParser) runIDProp() orientlog.Property {
	return orientlog.Property{Name: runIDProperty, Value: orientlog.StringValue(p.runID)}
}

func stringOf(v *fastjson.Value) (string, bool) {
	if v.Type() != fastjson.TypeString {
		return "", false
	}
	return string(v.GetStringBytes()), true
}

// jsonValue maps a parsed JSON value onto the Value model. Integral numbers
// that fit an int64 stay integers.
func jsonValue(v *fastjson.Value) orientlog.Value {
	switch v.Type() {
	case fastjson.TypeObject:
		var fields []orientlog.Field
		v.GetObject().Visit(func(key []byte, v *fastjson.Value) {
			fields = append(fields, orientlog.F(string(key), jsonValue(v)))
		})
		return orientlog.Struct("", fields...)
	case fastjson.TypeArray:
		elems := v.GetArray()
		seq := make(orientlog.Sequence, len(elems))
		for i, elem := range elems {
			seq[i] = jsonValue(elem)
		}
		return seq
	case fastjson.TypeString:
		return orientlog.StringValue(string(v.GetStringBytes()))
	case fastjson.TypeNumber:
		if i, err := v.Int64(); err == nil {
			return orientlog.Int64Value(i)
		}
		return orientlog.Float64Value(v.GetFloat64())
	case fastjson.TypeTrue:
		return orientlog.BoolValue(true)
	case fastjson.TypeFalse:
		return orientlog.BoolValue(false)
	default:
		return orientlog.Null{}
	}
}
