package orientlog

import (
	"time"
)

// ValueKind identifies one of the closed set of Value variants.
type ValueKind int

const (
	KindNull ValueKind = iota
	KindScalar
	KindSequence
	KindMapping
	KindStructure
)

func (k ValueKind) String() string {
	switch k {
	case KindNull:
		return "Null"
	case KindScalar:
		return "Scalar"
	case KindSequence:
		return "Sequence"
	case KindMapping:
		return "Mapping"
	case KindStructure:
		return "Structure"
	}
	return "Unknown"
}

// Value is a structured log value. The set of implementations is closed:
// Null, Scalar, Sequence, Mapping and Structure. A nil Value is rendered as
// Null.
type Value interface {
	valueKind() ValueKind
}

// Kind reports the variant of v. Nil values, including nil pointers to a
// variant, report KindNull.
func Kind(v Value) ValueKind {
	switch x := v.(type) {
	case nil:
		return KindNull
	case *Null:
		return KindNull
	case *Scalar:
		if x == nil {
			return KindNull
		}
		return KindScalar
	case *Sequence:
		if x == nil {
			return KindNull
		}
		return KindSequence
	case *Mapping:
		if x == nil {
			return KindNull
		}
		return KindMapping
	case *Structure:
		if x == nil {
			return KindNull
		}
		return KindStructure
	}
	return v.valueKind()
}

// Null is the absent value.
type Null struct{}

func (Null) valueKind() ValueKind { return KindNull }

// Scalar wraps a primitive. The built-in kinds are bool, the signed and
// unsigned integer types, float32, float64, string, time.Time and
// time.Duration. Any other type must be covered by a LiteralWriter registered
// in the EncoderOptions, or rendering fails with a *SerializationError.
type Scalar struct {
	V any
}

func (Scalar) valueKind() ValueKind { return KindScalar }

// Sequence is an ordered, possibly heterogeneous list of values.
type Sequence []Value

func (Sequence) valueKind() ValueKind { return KindSequence }

// MapEntry is one key/value pair of a Mapping.
type MapEntry struct {
	Key   Scalar
	Value Value
}

// Mapping is an ordered list of key/value pairs. Keys are scalars, and
// duplicate keys are kept as given.
type Mapping []MapEntry

func (Mapping) valueKind() ValueKind { return KindMapping }

// Field is one named member of a Structure.
type Field struct {
	Name  string
	Value Value
}

// Structure is an object with an optional type tag and ordered fields.
type Structure struct {
	TypeTag string
	Fields  []Field
}

func (Structure) valueKind() ValueKind { return KindStructure }

// constructors

func StringValue(s string) Scalar          { return Scalar{V: s} }
func IntValue(i int) Scalar                { return Scalar{V: int64(i)} }
func Int64Value(i int64) Scalar            { return Scalar{V: i} }
func Uint64Value(u uint64) Scalar          { return Scalar{V: u} }
func Float64Value(f float64) Scalar        { return Scalar{V: f} }
func BoolValue(b bool) Scalar              { return Scalar{V: b} }
func TimeValue(t time.Time) Scalar         { return Scalar{V: t} }
func DurationValue(d time.Duration) Scalar { return Scalar{V: d} }

// AnyScalar wraps v without checking its type; unrecognized types fail at
// render time rather than here.
func AnyScalar(v any) Scalar { return Scalar{V: v} }

// Seq builds a Sequence.
func Seq(vs ...Value) Sequence { return Sequence(vs) }

// Entry builds a MapEntry.
func Entry(k Scalar, v Value) MapEntry { return MapEntry{Key: k, Value: v} }

// Map builds a Mapping.
func Map(entries ...MapEntry) Mapping { return Mapping(entries) }

// F builds a Field.
func F(name string, v Value) Field { return Field{Name: name, Value: v} }

// Struct builds a Structure with the given type tag, which may be empty.
func Struct(tag string, fields ...Field) Structure {
	return Structure{TypeTag: tag, Fields: fields}
}
