package orientlog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bitdabbler/backoff"
	"golang.org/x/time/rate"
)

// SinkState describes what the Sink is doing.
type SinkState int32

const (
	// Idle means the buffer is empty and no flush is running.
	Idle SinkState = iota

	// Accumulating means events are buffered, waiting for a flush.
	Accumulating

	// Flushing means the worker is delivering a drained buffer.
	Flushing
)

func (s SinkState) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Accumulating:
		return "Accumulating"
	case Flushing:
		return "Flushing"
	}
	return fmt.Sprintf("SinkState(%d)", int32(s))
}

// ErrSinkClosed is returned by Flush after the Sink has been closed.
var ErrSinkClosed = errors.New("orientlog: sink is closed")

const initialRequeueDelay = time.Millisecond * 250

// Sink buffers log events and delivers them in batches, from a single worker
// goroutine, whenever the buffer reaches the batch size limit or the flush
// period elapses.
//
//	c, err := orientlog.NewClient("http://localhost:2480", "logs", &orientlog.ClientOptions{
//		Username: "writer",
//		Password: pw,
//	})
//	if err != nil {
//		log.Fatalln(err)
//	}
//	s, err := orientlog.NewSink(c, nil)
//	if err != nil {
//		log.Fatalln(err)
//	}
//	defer s.Close(context.Background())
//
// Emit never blocks on I/O, and never reports delivery or serialization
// errors; those go to the internal logger.
type Sink struct {
	opts    *SinkOptions
	client  Deliverer
	pool    *EncoderPool
	metrics *sinkMetrics
	limiter *rate.Limiter

	mu         sync.Mutex
	buf        []LogEvent
	closed     bool
	overflowed bool

	flushing atomic.Bool

	flushCh   chan struct{}
	reqCh     chan chan struct{}
	closeCh   chan struct{}
	doneCh    chan struct{}
	closeOnce sync.Once

	// canceled when Close gives up waiting, to abort in-flight delivery
	ctx    context.Context
	cancel context.CancelFunc

	// owned by the worker goroutine
	requeued    []*requeuedBatch
	backoff     *backoff.Backoff
	provisioned bool
}

// requeuedBatch is a serialized batch kept for another delivery attempt.
type requeuedBatch struct {
	payload  []byte
	n        int
	attempts int
}

// NewSink creates a Sink that delivers through client, and starts its worker.
// The Sink must be closed to release the worker and deliver buffered events.
func NewSink(client Deliverer, opts *SinkOptions) (*Sink, error) {
	if client == nil {
		return nil, errors.New("valid client required")
	}

	if opts == nil {
		opts = DefaultSinkOptions()
	} else {
		opts.resolve()
	}

	m, err := newSinkMetrics(opts.MeterProvider, opts.ClassName)
	if err != nil {
		return nil, err
	}

	s := &Sink{
		opts:    opts,
		client:  client,
		pool:    NewEncoderPool(opts.Encoder),
		metrics: m,
		flushCh: make(chan struct{}, 1),
		reqCh:   make(chan chan struct{}),
		closeCh: make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	if opts.FlushRate > 0 {
		s.limiter = rate.NewLimiter(opts.FlushRate, 1)
	}

	s.debug("starting Sink with the resolved SinkOptions: %+v", s.opts)

	go s.run()

	return s, nil
}

// Emit buffers the event for delivery. It is safe for concurrent use.
func (s *Sink) Emit(ev LogEvent) {
	s.mu.Lock()

	if s.closed {
		s.mu.Unlock()
		s.metrics.drop(s.ctx, 1, dropClosed)
		s.reportError("dropping event emitted after Close: %q", ev.MessageTemplate)
		return
	}

	if s.opts.QueueLimit > 0 && len(s.buf) >= s.opts.QueueLimit {
		report := !s.overflowed
		s.overflowed = true
		s.mu.Unlock()
		s.metrics.drop(s.ctx, 1, dropQueueFull)
		if report {
			s.reportError("queue limit of %d events reached; dropping events until the next flush", s.opts.QueueLimit)
		}
		return
	}

	s.buf = append(s.buf, ev)
	full := len(s.buf) >= s.opts.BatchSizeLimit
	s.mu.Unlock()

	s.metrics.accepted.Add(s.ctx, 1, s.metrics.classAttr)

	if full {
		// coalesce with any pending trigger
		select {
		case s.flushCh <- struct{}{}:
		default:
		}
	}
}

// Flush asks the worker to deliver all buffered events now, and waits until
// that flush completes or ctx expires.
func (s *Sink) Flush(ctx context.Context) error {
	done := make(chan struct{})

	select {
	case s.reqCh <- done:
	case <-s.doneCh:
		return ErrSinkClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the flush timer, delivers the remaining events in one final
// flush, stops the worker, and releases idle connections. Close is idempotent.
// If ctx expires first, in-flight delivery is aborted and ctx.Err() is
// returned.
func (s *Sink) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		close(s.closeCh)
		s.debug("sink closed; delivering previously buffered events")
	})

	select {
	case <-s.doneCh:
		s.debug("sink successfully drained")
		return nil
	case <-ctx.Done():
		s.cancel()
		return ctx.Err()
	}
}

// State reports what the Sink is doing.
func (s *Sink) State() SinkState {
	if s.flushing.Load() {
		return Flushing
	}

	s.mu.Lock()
	n := len(s.buf)
	s.mu.Unlock()

	if n > 0 {
		return Accumulating
	}
	return Idle
}

func (s *Sink) run() {
	defer close(s.doneCh)
	defer s.cancel()

	ticker := time.NewTicker(s.opts.Period)

	for {
		select {
		case <-ticker.C:
			s.flush(false)
		case <-s.flushCh:
			s.flush(false)
		case done := <-s.reqCh:
			s.flush(false)
			close(done)
		case <-s.closeCh:
			ticker.Stop()
			s.flush(true)
			s.client.CloseIdleConnections()
			s.debug("returning from worker goroutine")
			return
		}
	}
}

// flush swaps out the whole buffer, then delivers requeued batches followed by
// the drained events, in chunks of at most BatchSizeLimit events.
func (s *Sink) flush(final bool) {
	s.mu.Lock()
	events := s.buf
	s.buf = nil
	s.overflowed = false
	if len(events) > 0 || len(s.requeued) > 0 {
		s.flushing.Store(true)
	}
	s.mu.Unlock()

	if !s.flushing.Load() {
		return
	}
	defer s.flushing.Store(false)

	ctx := s.ctx

	if !s.provisioned && !s.opts.SkipProvision {
		s.provisioned = true
		created, err := s.client.EnsureClass(ctx, s.opts.ClassName)
		if err != nil {
			s.reportError("failed to provision class %s: %v", s.opts.ClassName, err)
		} else if created {
			s.debug("provisioned class %s", s.opts.ClassName)
		}
	}

	s.retryRequeued(ctx, final)

	for len(events) > 0 {
		n := min(len(events), s.opts.BatchSizeLimit)
		s.deliverChunk(ctx, events[:n])
		events = events[n:]
	}
}

func (s *Sink) deliverChunk(ctx context.Context, events []LogEvent) {
	enc := s.pool.Get()
	defer enc.Free()

	dropped := enc.EncodeBatch(s.opts.ClassName, events)
	for _, err := range dropped {
		s.reportError("dropping event that failed to serialize: %v", err)
	}
	if len(dropped) > 0 {
		s.metrics.drop(ctx, len(dropped), dropSerialization)
	}

	n := len(events) - len(dropped)
	if n == 0 {
		return
	}

	err := s.send(ctx, enc.Bytes(), n)
	if err == nil {
		return
	}

	if s.opts.MaxRequeues > 0 {
		s.requeue(ctx, &requeuedBatch{payload: bytes.Clone(enc.Bytes()), n: n})
		return
	}

	s.reportError("dropping batch of %d events: %v", n, err)
	s.metrics.drop(ctx, n, dropDelivery)
}

// retryRequeued attempts each requeued batch once, oldest first. Batches that
// exhaust MaxRequeues are dropped. Unless final, it first waits out the
// backoff delay.
func (s *Sink) retryRequeued(ctx context.Context, final bool) {
	if len(s.requeued) == 0 {
		return
	}

	if !final && !s.waitBackoff(ctx) {
		return
	}

	pending := s.requeued
	s.requeued = nil

	for _, b := range pending {
		b.attempts++
		err := s.send(ctx, b.payload, b.n)
		if err == nil {
			continue
		}

		if b.attempts >= s.opts.MaxRequeues {
			s.reportError("dropping batch of %d events after %d requeues: %v", b.n, b.attempts, err)
			s.metrics.drop(ctx, b.n, dropDelivery)
			continue
		}
		s.requeue(ctx, b)
	}

	if len(s.requeued) == 0 {
		s.backoff = nil
	}
}

// requeue keeps b for a later flush. When QueueLimit is set, the oldest
// requeued batches are dropped to keep the requeued event count within it.
func (s *Sink) requeue(ctx context.Context, b *requeuedBatch) {
	s.debug("requeueing batch of %d events (attempt %d of %d)", b.n, b.attempts, s.opts.MaxRequeues)
	s.requeued = append(s.requeued, b)

	if s.opts.QueueLimit <= 0 {
		return
	}

	total := 0
	for _, r := range s.requeued {
		total += r.n
	}
	for total > s.opts.QueueLimit && len(s.requeued) > 1 {
		oldest := s.requeued[0]
		s.requeued = s.requeued[1:]
		total -= oldest.n
		s.reportError("requeue limit reached; dropping oldest batch of %d events", oldest.n)
		s.metrics.drop(ctx, oldest.n, dropDelivery)
	}
}

// waitBackoff sleeps for the next backoff delay, returning false if ctx ends
// first.
func (s *Sink) waitBackoff(ctx context.Context) bool {
	if s.backoff == nil {
		b, err := backoff.New(
			backoff.WithInitialDelay(min(initialRequeueDelay, s.opts.RequeueBackoffLimit)),
			backoff.WithExponentialLimit(s.opts.RequeueBackoffLimit),
		)
		if err != nil {
			s.reportError("failed to create requeue backoff: %v", err)
			return true
		}
		s.backoff = b
	}

	b := s.backoff
	slept := make(chan struct{})
	go func() {
		b.Sleep()
		close(slept)
	}()

	select {
	case <-slept:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Sink) send(ctx context.Context, payload []byte, n int) error {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	start := time.Now()
	err := s.client.Send(ctx, payload)
	s.metrics.duration.Record(ctx, since(start), s.metrics.classAttr)

	if err != nil {
		s.metrics.failed.Add(ctx, 1, s.metrics.classAttr)
		return err
	}

	s.metrics.delivered.Add(ctx, 1, s.metrics.classAttr)
	s.debug("delivered batch of %d events", n)
	return nil
}

// internal logging helpers:
func (s *Sink) debug(format string, args ...any) {
	if !s.opts.Verbose {
		return
	}
	internalf("sink", format, args...)
}

func (s *Sink) reportError(format string, args ...any) {
	internalf("sink", format, args...)
}
