package orientlog

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// EncodeValue appends the JSON rendering of v. When forceQuoted is true,
// scalars are rendered as JSON strings, which is required for mapping keys.
// On error nothing is appended.
func (e *Encoder) EncodeValue(v Value, forceQuoted bool) error {
	start := e.Len()
	if err := e.encodeValue(v, forceQuoted); err != nil {
		e.Truncate(start)
		return err
	}
	return nil
}

func (e *Encoder) encodeValue(v Value, quote bool) error {
	switch x := v.(type) {
	case nil, Null:
		e.encodeNull(quote)
		return nil
	case Scalar:
		return e.encodeScalar(x.V, quote)
	case Sequence:
		return e.encodeSequence(x)
	case Mapping:
		return e.encodeMapping(x)
	case Structure:
		return e.encodeStructure(x)
	default:
		return &SerializationError{Type: fmt.Sprintf("%T", v)}
	}
}

func (e *Encoder) encodeNull(quote bool) {
	if quote {
		e.WriteString(`"null"`)
		return
	}
	e.WriteString("null")
}

func (e *Encoder) encodeSequence(s Sequence) error {
	e.WriteByte('[')
	for i, elem := range s {
		if i > 0 {
			e.WriteByte(',')
		}
		if err := e.encodeValue(elem, false); err != nil {
			return withPath(err, "["+strconv.Itoa(i)+"]")
		}
	}
	e.WriteByte(']')
	return nil
}

func (e *Encoder) encodeMapping(m Mapping) error {
	e.WriteByte('{')
	for i, entry := range m {
		if i > 0 {
			e.WriteByte(',')
		}
		if err := e.encodeScalar(entry.Key.V, true); err != nil {
			return withPath(err, keySegment(entry.Key))
		}
		e.WriteByte(':')
		if err := e.encodeValue(entry.Value, false); err != nil {
			return withPath(err, keySegment(entry.Key))
		}
	}
	e.WriteByte('}')
	return nil
}

// keySegment names a mapping entry in a failure path.
func keySegment(k Scalar) string {
	return "[" + fmt.Sprint(k.V) + "]"
}

func (e *Encoder) encodeStructure(s Structure) error {
	e.WriteByte('{')
	delim := false
	if len(s.TypeTag) > 0 {
		e.writeString(e.opts.TypeTagKey)
		e.WriteByte(':')
		e.writeString(s.TypeTag)
		delim = true
	}
	for _, f := range s.Fields {
		if delim {
			e.WriteByte(',')
		}
		delim = true
		e.writeString(f.Name)
		e.WriteByte(':')
		if err := e.encodeValue(f.Value, false); err != nil {
			return withPath(err, f.Name)
		}
	}
	e.WriteByte('}')
	return nil
}

// encodeScalar dispatches on the closed set of built-in scalar kinds, then on
// the registered literal writers.
func (e *Encoder) encodeScalar(v any, quote bool) error {
	switch x := v.(type) {
	case nil:
		e.encodeNull(quote)
	case bool:
		e.quoteIf(quote)
		e.Write(strconv.AppendBool(e.AvailableBuffer(), x))
		e.quoteIf(quote)
	case string:
		e.writeString(x)
	case int:
		e.encodeInt(int64(x), quote)
	case int8:
		e.encodeInt(int64(x), quote)
	case int16:
		e.encodeInt(int64(x), quote)
	case int32:
		e.encodeInt(int64(x), quote)
	case int64:
		e.encodeInt(x, quote)
	case uint:
		e.encodeUint(uint64(x), quote)
	case uint8:
		e.encodeUint(uint64(x), quote)
	case uint16:
		e.encodeUint(uint64(x), quote)
	case uint32:
		e.encodeUint(uint64(x), quote)
	case uint64:
		e.encodeUint(x, quote)
	case uintptr:
		e.encodeUint(uint64(x), quote)
	case float32:
		e.encodeFloat(float64(x), 32, quote)
	case float64:
		e.encodeFloat(x, 64, quote)
	case time.Time:
		e.encodeTime(x)
	case time.Duration:
		e.writeString(x.String())
	default:
		for _, lw := range e.opts.Literals {
			if lw(e.Buffer, v, quote) {
				return nil
			}
		}
		return &SerializationError{Type: fmt.Sprintf("%T", v)}
	}
	return nil
}

func (e *Encoder) quoteIf(quote bool) {
	if quote {
		e.WriteByte('"')
	}
}

func (e *Encoder) encodeInt(i int64, quote bool) {
	e.quoteIf(quote)
	e.Write(strconv.AppendInt(e.AvailableBuffer(), i, 10))
	e.quoteIf(quote)
}

func (e *Encoder) encodeUint(u uint64, quote bool) {
	e.quoteIf(quote)
	e.Write(strconv.AppendUint(e.AvailableBuffer(), u, 10))
	e.quoteIf(quote)
}

// encodeFloat writes NaN and the infinities, which have no JSON number form,
// as strings.
func (e *Encoder) encodeFloat(f float64, bitSize int, quote bool) {
	switch {
	case math.IsNaN(f):
		e.WriteString(`"NaN"`)
	case math.IsInf(f, 1):
		e.WriteString(`"Infinity"`)
	case math.IsInf(f, -1):
		e.WriteString(`"-Infinity"`)
	default:
		e.quoteIf(quote)
		e.Write(appendFloat(e.AvailableBuffer(), f, bitSize))
		e.quoteIf(quote)
	}
}

// appendFloat writes the shortest representation that round-trips, in plain
// decimal notation unless the magnitude is tiny or huge, the way
// encoding/json does.
func appendFloat(dst []byte, f float64, bitSize int) []byte {
	abs := math.Abs(f)
	format := byte('f')
	if abs != 0 {
		if bitSize == 64 && (abs < 1e-6 || abs >= 1e21) ||
			bitSize == 32 && (float32(abs) < 1e-6 || float32(abs) >= 1e21) {
			format = 'e'
		}
	}
	dst = strconv.AppendFloat(dst, f, format, -1, bitSize)
	if format == 'e' {
		// clean up e-09 to e-9
		n := len(dst)
		if n >= 4 && dst[n-4] == 'e' && dst[n-3] == '-' && dst[n-2] == '0' {
			dst[n-2] = dst[n-1]
			dst = dst[:n-1]
		}
	}
	return dst
}

// encodeTime always quotes.
func (e *Encoder) encodeTime(t time.Time) {
	e.WriteByte('"')
	e.Write(appendTime(e.AvailableBuffer(), t, e.opts.DateMode))
	e.WriteByte('"')
}

func appendTime(dst []byte, t time.Time, mode DateMode) []byte {
	if mode == RoundTripDates {
		return t.AppendFormat(dst, roundTripDateLayout)
	}
	return t.UTC().AppendFormat(dst, storeDateLayout)
}

func (e *Encoder) writeString(s string) {
	e.Write(appendJSONString(e.AvailableBuffer(), s))
}

const hexDigits = "0123456789abcdef"

// appendJSONString appends s as a quoted JSON string. Invalid UTF-8 is
// replaced with U+FFFD; U+2028 and U+2029 are escaped so the output is also
// valid JavaScript.
func appendJSONString(dst []byte, s string) []byte {
	dst = append(dst, '"')
	start := 0
	for i := 0; i < len(s); {
		if b := s[i]; b < utf8.RuneSelf {
			if b >= 0x20 && b != '"' && b != '\\' {
				i++
				continue
			}
			dst = append(dst, s[start:i]...)
			switch b {
			case '\\', '"':
				dst = append(dst, '\\', b)
			case '\n':
				dst = append(dst, '\\', 'n')
			case '\r':
				dst = append(dst, '\\', 'r')
			case '\t':
				dst = append(dst, '\\', 't')
			case '\b':
				dst = append(dst, '\\', 'b')
			case '\f':
				dst = append(dst, '\\', 'f')
			default:
				dst = append(dst, '\\', 'u', '0', '0', hexDigits[b>>4], hexDigits[b&0xF])
			}
			i++
			start = i
			continue
		}
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			dst = append(dst, s[start:i]...)
			dst = append(dst, `\ufffd`...)
			i += size
			start = i
			continue
		}
		if r == '\u2028' || r == '\u2029' {
			dst = append(dst, s[start:i]...)
			dst = append(dst, '\\', 'u', '2', '0', '2', hexDigits[r&0xF])
			i += size
			start = i
			continue
		}
		i += size
	}
	dst = append(dst, s[start:]...)
	return append(dst, '"')
}

// withPath prefixes the location of a SerializationError with seg as the
// error unwinds out of nested values.
func withPath(err error, seg string) error {
	se, ok := err.(*SerializationError)
	if !ok {
		return err
	}
	switch {
	case se.Path == "":
		se.Path = seg
	case strings.HasPrefix(se.Path, "["):
		se.Path = seg + se.Path
	default:
		se.Path = seg + "." + se.Path
	}
	return se
}
