package orientlog

import (
	"errors"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Values and LogEvents also serialize to msgpack, for forwarders that do not
// speak JSON (e.g. Fluent). The msgpack form mirrors the JSON form, except
// that times use the msgpack timestamp extension and durations are encoded as
// nanosecond integers. msgpack encoding takes no EncoderOptions: structure
// type tags are always written under "@type", whatever TypeTagKey says.

// compile-time check for msgpack CustomEncoder conformance
var (
	_ msgpack.CustomEncoder = Null{}
	_ msgpack.CustomEncoder = Scalar{}
	_ msgpack.CustomEncoder = Sequence(nil)
	_ msgpack.CustomEncoder = Mapping(nil)
	_ msgpack.CustomEncoder = Structure{}
	_ msgpack.CustomEncoder = (*LogEvent)(nil)
)

func (Null) EncodeMsgpack(enc *msgpack.Encoder) error { return enc.EncodeNil() }

func (s Scalar) EncodeMsgpack(enc *msgpack.Encoder) error {
	return encodeMsgpackScalar(enc, s.V)
}

func (s Sequence) EncodeMsgpack(enc *msgpack.Encoder) error {
	if err := enc.EncodeArrayLen(len(s)); err != nil {
		return err
	}
	for _, elem := range s {
		if err := encodeMsgpackValue(enc, elem); err != nil {
			return err
		}
	}
	return nil
}

func (m Mapping) EncodeMsgpack(enc *msgpack.Encoder) error {
	if err := enc.EncodeMapLen(len(m)); err != nil {
		return err
	}
	for _, entry := range m {
		if err := encodeMsgpackScalar(enc, entry.Key.V); err != nil {
			return err
		}
		if err := encodeMsgpackValue(enc, entry.Value); err != nil {
			return err
		}
	}
	return nil
}

func (s Structure) EncodeMsgpack(enc *msgpack.Encoder) error {
	n := len(s.Fields)
	if len(s.TypeTag) > 0 {
		n++
	}
	if err := enc.EncodeMapLen(n); err != nil {
		return err
	}
	if len(s.TypeTag) > 0 {
		if err := enc.EncodeString(defaultTypeTagKey); err != nil {
			return err
		}
		if err := enc.EncodeString(s.TypeTag); err != nil {
			return err
		}
	}
	for _, f := range s.Fields {
		if err := enc.EncodeString(f.Name); err != nil {
			return err
		}
		if err := encodeMsgpackValue(enc, f.Value); err != nil {
			return err
		}
	}
	return nil
}

// EncodeMsgpack writes the event as a map with the same members as its JSON
// record, minus the class discriminator.
func (ev *LogEvent) EncodeMsgpack(enc *msgpack.Encoder) error {
	msg := ev.RenderedMessage
	if len(msg) == 0 {
		var err error
		if msg, err = RenderMessage(ev.MessageTemplate, ev.Properties); err != nil {
			return err
		}
	}

	n := 4
	if len(ev.Exception) > 0 {
		n++
	}
	if len(ev.Properties) > 0 {
		n++
	}

	errs := new(encErrs)
	errs.join("record length", enc.EncodeMapLen(n))
	errs.join("timestamp key", enc.EncodeString("Timestamp"))
	errs.join("timestamp", enc.EncodeTime(ev.Timestamp))
	errs.join("level key", enc.EncodeString("Level"))
	errs.join("level", enc.EncodeString(ev.Level.String()))
	errs.join("template key", enc.EncodeString("MessageTemplate"))
	errs.join("template", enc.EncodeString(ev.MessageTemplate))
	errs.join("message key", enc.EncodeString("RenderedMessage"))
	errs.join("message", enc.EncodeString(msg))
	if len(ev.Exception) > 0 {
		errs.join("exception key", enc.EncodeString("Exception"))
		errs.join("exception", enc.EncodeString(ev.Exception))
	}
	if errs.err != nil {
		return errs.err
	}

	if len(ev.Properties) > 0 {
		if err := enc.EncodeString("Properties"); err != nil {
			return err
		}
		if err := enc.EncodeMapLen(len(ev.Properties)); err != nil {
			return err
		}
		for _, p := range ev.Properties {
			if err := enc.EncodeString(p.Name); err != nil {
				return err
			}
			if err := encodeMsgpackValue(enc, p.Value); err != nil {
				return withPath(withPath(err, p.Name), "Properties")
			}
		}
	}

	return nil
}

func encodeMsgpackValue(enc *msgpack.Encoder, v Value) error {
	switch x := v.(type) {
	case nil:
		return enc.EncodeNil()
	case Null:
		return x.EncodeMsgpack(enc)
	case Scalar:
		return x.EncodeMsgpack(enc)
	case Sequence:
		return x.EncodeMsgpack(enc)
	case Mapping:
		return x.EncodeMsgpack(enc)
	case Structure:
		return x.EncodeMsgpack(enc)
	}
	return &SerializationError{Type: fmt.Sprintf("%T", v)}
}

func encodeMsgpackScalar(enc *msgpack.Encoder, v any) error {
	switch x := v.(type) {
	case nil:
		return enc.EncodeNil()
	case bool:
		return enc.EncodeBool(x)
	case string:
		return enc.EncodeString(x)
	case int:
		return enc.EncodeInt(int64(x))
	case int8:
		return enc.EncodeInt(int64(x))
	case int16:
		return enc.EncodeInt(int64(x))
	case int32:
		return enc.EncodeInt(int64(x))
	case int64:
		return enc.EncodeInt(x)
	case uint:
		return enc.EncodeUint(uint64(x))
	case uint8:
		return enc.EncodeUint(uint64(x))
	case uint16:
		return enc.EncodeUint(uint64(x))
	case uint32:
		return enc.EncodeUint(uint64(x))
	case uint64:
		return enc.EncodeUint(x)
	case uintptr:
		return enc.EncodeUint(uint64(x))
	case float32:
		return enc.EncodeFloat32(x)
	case float64:
		return enc.EncodeFloat64(x)
	case time.Time:
		return enc.EncodeTime(x)
	case time.Duration:
		return enc.EncodeDuration(x)
	}
	return &SerializationError{Type: fmt.Sprintf("%T", v)}
}

// encErrs collects serialization errors
type encErrs struct {
	err error
}

func (e *encErrs) join(target string, err error) (wasErr bool) {
	if err == nil {
		return false
	}
	e.err = errors.Join(e.err, fmt.Errorf("failed to encode %s: %w", target, err))
	return true
}
