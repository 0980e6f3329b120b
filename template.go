package orientlog

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"
)

// Message templates name their holes after event properties:
//
//	"User {Name} logged in from {@Client} after {Elapsed,8:l}"
//
// A hole is `{` [@|$] name [,alignment] [:format] `}`. `@` asks for the
// structured rendering of the value, `$` for its quoted string form. Numeric
// names address positional properties ("0", "1", ...). `{{` and `}}` are
// literal braces, and anything that does not parse as a hole is kept as text.

type templateToken struct {
	hole    bool
	text    string // literal text, or the raw hole text for holes
	name    string
	capture byte
	align   int
	format  string
}

type messageTemplate struct {
	tokens []templateToken
	holes  int
}

const maxCachedTemplates = 1000

var (
	templateCache     sync.Map // string -> *messageTemplate
	templateCacheSize atomic.Int64
)

func parseTemplateCached(s string) *messageTemplate {
	if mt, ok := templateCache.Load(s); ok {
		return mt.(*messageTemplate)
	}
	mt := parseTemplate(s)
	if templateCacheSize.Load() < maxCachedTemplates {
		if _, loaded := templateCache.LoadOrStore(s, mt); !loaded {
			templateCacheSize.Add(1)
		}
	}
	return mt
}

func parseTemplate(s string) *messageTemplate {
	mt := &messageTemplate{}
	var text strings.Builder

	flushText := func() {
		if text.Len() > 0 {
			mt.tokens = append(mt.tokens, templateToken{text: text.String()})
			text.Reset()
		}
	}

	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == '{' && i+1 < len(s) && s[i+1] == '{':
			text.WriteByte('{')
			i += 2
		case c == '}' && i+1 < len(s) && s[i+1] == '}':
			text.WriteByte('}')
			i += 2
		case c == '{':
			end := strings.IndexAny(s[i+1:], "{}")
			if end < 0 || s[i+1+end] == '{' {
				// unterminated, or a new hole opens first: literal brace
				text.WriteByte(c)
				i++
				continue
			}
			raw := s[i : i+end+2]
			tok, ok := parseHole(raw)
			if !ok {
				text.WriteString(raw)
			} else {
				flushText()
				mt.tokens = append(mt.tokens, tok)
				mt.holes++
			}
			i += end + 2
		default:
			text.WriteByte(c)
			i++
		}
	}
	flushText()

	return mt
}

// parseHole parses raw, which includes the enclosing braces.
func parseHole(raw string) (templateToken, bool) {
	tok := templateToken{hole: true, text: raw}
	body := raw[1 : len(raw)-1]

	if len(body) > 0 && (body[0] == '@' || body[0] == '$') {
		tok.capture = body[0]
		body = body[1:]
	}

	if idx := strings.IndexByte(body, ':'); idx >= 0 {
		tok.format = body[idx+1:]
		body = body[:idx]
	}

	if idx := strings.IndexByte(body, ','); idx >= 0 {
		align, err := strconv.Atoi(body[idx+1:])
		if err != nil {
			return tok, false
		}
		tok.align = align
		body = body[:idx]
	}

	if len(body) == 0 {
		return tok, false
	}
	for i := 0; i < len(body); i++ {
		c := body[i]
		if !(c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z') {
			return tok, false
		}
	}
	tok.name = body

	return tok, true
}

// RenderMessage substitutes the holes of template with the display form of
// the matching properties, using the default encoder options.
func RenderMessage(template string, props []Property) (string, error) {
	enc := NewEncoder(nil)
	return enc.renderMessage(template, props)
}

func (e *Encoder) renderMessage(template string, props []Property) (string, error) {
	mt := parseTemplateCached(template)
	if mt.holes == 0 {
		// only escaped braces can make the text differ from the template
		if len(mt.tokens) == 1 {
			return mt.tokens[0].text, nil
		}
		if len(mt.tokens) == 0 {
			return "", nil
		}
	}

	var out []byte
	for _, tok := range mt.tokens {
		if !tok.hole {
			out = append(out, tok.text...)
			continue
		}

		v, ok := lookupProperty(props, tok.name)
		if !ok {
			out = append(out, tok.text...)
			continue
		}

		start := len(out)
		var err error
		out, err = e.appendDisplay(out, v, tok.format, tok.capture, true)
		if err != nil {
			return "", withPath(withPath(err, tok.name), "Properties")
		}
		out = pad(out, start, tok.align)
	}

	return string(out), nil
}

func lookupProperty(props []Property, name string) (Value, bool) {
	for i := range props {
		if props[i].Name == name {
			return props[i].Value, true
		}
	}
	return nil, false
}

// pad aligns out[start:] within a field of |align| runes: positive values
// right-align, negative values left-align.
func pad(out []byte, start, align int) []byte {
	width := align
	if width < 0 {
		width = -width
	}
	n := utf8.RuneCount(out[start:])
	if n >= width {
		return out
	}
	fill := bytes.Repeat([]byte{' '}, width-n)
	if align < 0 {
		return append(out, fill...)
	}
	value := append([]byte(nil), out[start:]...)
	out = append(out[:start], fill...)
	return append(out, value...)
}

// appendDisplay renders the human-readable form of v used in rendered
// messages. Strings are quoted unless the format is "l"; nested strings are
// always quoted.
func (e *Encoder) appendDisplay(dst []byte, v Value, format string, capture byte, top bool) ([]byte, error) {
	switch x := v.(type) {
	case nil, Null:
		return append(dst, "null"...), nil

	case Scalar:
		if capture == '$' {
			s, err := e.displayScalar(nil, x.V, format)
			if err != nil {
				return dst, err
			}
			return appendQuoted(dst, string(s)), nil
		}
		if s, ok := x.V.(string); ok {
			if top && format == "l" {
				return append(dst, s...), nil
			}
			return appendQuoted(dst, s), nil
		}
		return e.displayScalar(dst, x.V, format)

	case Sequence:
		dst = append(dst, '[')
		for i, elem := range x {
			if i > 0 {
				dst = append(dst, ", "...)
			}
			var err error
			if dst, err = e.appendDisplay(dst, elem, "", 0, false); err != nil {
				return dst, withPath(err, "["+strconv.Itoa(i)+"]")
			}
		}
		return append(dst, ']'), nil

	case Mapping:
		dst = append(dst, '[')
		for i, entry := range x {
			if i > 0 {
				dst = append(dst, ", "...)
			}
			dst = append(dst, '(')
			var err error
			if dst, err = e.appendDisplay(dst, entry.Key, "", 0, false); err != nil {
				return dst, withPath(err, keySegment(entry.Key))
			}
			dst = append(dst, ": "...)
			if dst, err = e.appendDisplay(dst, entry.Value, "", 0, false); err != nil {
				return dst, withPath(err, keySegment(entry.Key))
			}
			dst = append(dst, ')')
		}
		return append(dst, ']'), nil

	case Structure:
		if len(x.TypeTag) > 0 {
			dst = append(dst, x.TypeTag...)
			dst = append(dst, ' ')
		}
		dst = append(dst, '{')
		for i, f := range x.Fields {
			if i > 0 {
				dst = append(dst, ',')
			}
			dst = append(dst, ' ')
			dst = append(dst, f.Name...)
			dst = append(dst, ": "...)
			var err error
			if dst, err = e.appendDisplay(dst, f.Value, "", 0, false); err != nil {
				return dst, withPath(err, f.Name)
			}
		}
		return append(dst, " }"...), nil
	}

	return dst, &SerializationError{Type: fmt.Sprintf("%T", v)}
}

// displayScalar renders a non-string scalar with invariant formatting. A
// format applies only to time values, where it is a Go layout.
func (e *Encoder) displayScalar(dst []byte, v any, format string) ([]byte, error) {
	switch x := v.(type) {
	case nil:
		return append(dst, "null"...), nil
	case string:
		return append(dst, x...), nil
	case bool:
		return strconv.AppendBool(dst, x), nil
	case int:
		return strconv.AppendInt(dst, int64(x), 10), nil
	case int8:
		return strconv.AppendInt(dst, int64(x), 10), nil
	case int16:
		return strconv.AppendInt(dst, int64(x), 10), nil
	case int32:
		return strconv.AppendInt(dst, int64(x), 10), nil
	case int64:
		return strconv.AppendInt(dst, x, 10), nil
	case uint:
		return strconv.AppendUint(dst, uint64(x), 10), nil
	case uint8:
		return strconv.AppendUint(dst, uint64(x), 10), nil
	case uint16:
		return strconv.AppendUint(dst, uint64(x), 10), nil
	case uint32:
		return strconv.AppendUint(dst, uint64(x), 10), nil
	case uint64:
		return strconv.AppendUint(dst, x, 10), nil
	case uintptr:
		return strconv.AppendUint(dst, uint64(x), 10), nil
	case float32:
		return appendDisplayFloat(dst, float64(x), 32), nil
	case float64:
		return appendDisplayFloat(dst, x, 64), nil
	case time.Time:
		if len(format) > 0 {
			return x.AppendFormat(dst, format), nil
		}
		return appendTime(dst, x, e.opts.DateMode), nil
	case time.Duration:
		return append(dst, x.String()...), nil
	}

	var buf bytes.Buffer
	for _, lw := range e.opts.Literals {
		if lw(&buf, v, false) {
			return append(dst, buf.Bytes()...), nil
		}
	}
	return dst, &SerializationError{Type: fmt.Sprintf("%T", v)}
}

func appendDisplayFloat(dst []byte, f float64, bitSize int) []byte {
	switch {
	case math.IsNaN(f):
		return append(dst, "NaN"...)
	case math.IsInf(f, 1):
		return append(dst, "Infinity"...)
	case math.IsInf(f, -1):
		return append(dst, "-Infinity"...)
	}
	return appendFloat(dst, f, bitSize)
}

func appendQuoted(dst []byte, s string) []byte {
	dst = append(dst, '"')
	dst = append(dst, strings.ReplaceAll(s, `"`, `\"`)...)
	return append(dst, '"')
}
