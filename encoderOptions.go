package orientlog

import "bytes"

// DateMode selects how time values are rendered.
type DateMode int

const (
	// StoreDates renders times as "yyyy-MM-ddTHH:mm:ss.fff", normalized to UTC
	// and without an offset suffix, which is the layout the store's date
	// parser accepts.
	StoreDates DateMode = iota

	// RoundTripDates renders times in RFC 3339 with 7 fractional digits and
	// the offset, for consumers other than the store.
	RoundTripDates
)

const (
	storeDateLayout     = "2006-01-02T15:04:05.000"
	roundTripDateLayout = "2006-01-02T15:04:05.0000000Z07:00"
)

// LiteralWriter renders a scalar whose type is not one of the built-in kinds.
// It reports whether it handled v; a writer that returns false must not have
// written anything to buf. When quote is true the output must be a JSON
// string, because the scalar is a mapping key.
type LiteralWriter func(buf *bytes.Buffer, v any, quote bool) bool

// EncoderOptions are used to customize the Encoders and the Encoder pool.
//
// NB: The struct pointer options approach is used to be consistent with the
// options used for the Handler, which uses the struct pointer approach to be
// consistent with the `HandlerOptions` used by log/slog.
type EncoderOptions struct {

	// DateMode controls the rendering of time values, including the event
	// timestamp. The default is StoreDates.
	DateMode DateMode

	// TypeTagKey is the member name used for the type tag of a Structure.
	// The default is "@type".
	TypeTagKey string

	// Literals are consulted, in order, for scalars of types the renderer does
	// not know. Anything none of them handles fails with a SerializationError.
	Literals []LiteralWriter

	// NewBufferCap sets the capacity, in bytes, for newly created Encoder
	// buffers. The minimum value is 64 bytes. The default is 1KiB (1<<10).
	NewBufferCap int

	// MaxBufferCap sets the maximum buffer capacity, in bytes, beyond which an
	// Encoder will not be returned to the shared Encoder pool, to prevent rare,
	// unusually large batch payloads from staying resident in memory. The
	// minimum value is the `NewBufferCap`. The default is 1MiB (1<<20).
	MaxBufferCap int
}

const (
	minBufferCap        = 64
	defaultNewBufferCap = 1 << 10
	defaultMaxBufferCap = 1 << 20
	defaultTypeTagKey   = "@type"
)

// DefaultEncoderOptions returns *EncoderOptions with all default values.
func DefaultEncoderOptions() *EncoderOptions {
	return &EncoderOptions{
		DateMode:     StoreDates,
		TypeTagKey:   defaultTypeTagKey,
		NewBufferCap: defaultNewBufferCap,
		MaxBufferCap: defaultMaxBufferCap,
	}
}

// resolve ensures that all options have valid values.
func (o *EncoderOptions) resolve() {
	if o.DateMode != StoreDates && o.DateMode != RoundTripDates {
		o.DateMode = StoreDates
	}
	if len(o.TypeTagKey) == 0 {
		o.TypeTagKey = defaultTypeTagKey
	}
	if o.NewBufferCap == 0 {
		o.NewBufferCap = defaultNewBufferCap
	}
	o.NewBufferCap = max(o.NewBufferCap, minBufferCap)
	if o.MaxBufferCap == 0 {
		o.MaxBufferCap = defaultMaxBufferCap
	}
	o.MaxBufferCap = max(o.NewBufferCap, o.MaxBufferCap)
}
