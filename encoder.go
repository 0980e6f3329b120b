package orientlog

import (
	"bytes"
	"sync"
)

// EncoderPool defines a shared *Encoder pool, used to minimize heap
// allocations when building batch payloads.
type EncoderPool struct {
	p sync.Pool
	*EncoderOptions
}

// NewEncoderPool creates a shared *Encoder pool. All Encoders from one pool
// share the same options.
func NewEncoderPool(opts *EncoderOptions) *EncoderPool {
	if opts == nil {
		opts = DefaultEncoderOptions()
	} else {
		opts.resolve()
	}

	ep := &EncoderPool{EncoderOptions: opts}
	ep.p = sync.Pool{
		New: func() any {
			enc := newEncoder(opts)
			enc.p = ep
			return enc
		},
	}

	return ep
}

// Get returns an empty Encoder.
func (p *EncoderPool) Get() *Encoder {
	return p.p.Get().(*Encoder)
}

// Put resets an Encoder and returns it to the shared pool.
func (p *EncoderPool) Put(e *Encoder) {

	// drop if the buffer got too large
	if e.Buffer.Cap() > p.MaxBufferCap {
		return
	}

	e.Buffer.Reset()
	p.p.Put(e)
}

// Encoder renders Values, log events and batch envelopes as JSON directly into
// its underlying bytes.Buffer, without building intermediate data structures.
type Encoder struct {
	*bytes.Buffer
	opts *EncoderOptions
	p    *EncoderPool
}

// NewEncoder returns a newly allocated Encoder that does not belong to a pool.
func NewEncoder(opts *EncoderOptions) *Encoder {
	if opts == nil {
		opts = DefaultEncoderOptions()
	} else {
		opts.resolve()
	}
	return newEncoder(opts)
}

func newEncoder(opts *EncoderOptions) *Encoder {
	return &Encoder{
		Buffer: bytes.NewBuffer(make([]byte, 0, opts.NewBufferCap)),
		opts:   opts,
	}
}

// Free returns the encoder to its pool after eagerly resetting it. For
// Encoders created with NewEncoder it only resets the buffer.
func (e *Encoder) Free() {
	if e.p == nil {
		e.Buffer.Reset()
		return
	}
	e.p.Put(e)
}

// DateMode returns the date rendering mode of the Encoder.
func (e *Encoder) DateMode() DateMode { return e.opts.DateMode }
