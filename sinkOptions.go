package orientlog

import (
	"time"

	"go.opentelemetry.io/otel/metric"
	"golang.org/x/time/rate"
)

// SinkOptions are used to customize the batching Sink.
//
// # Invalid options are coerced
type SinkOptions struct {

	// BatchSizeLimit is both the buffered event count that triggers an early
	// flush, and the maximum number of events in one delivered batch. The
	// default is 1000.
	BatchSizeLimit int

	// Period is the interval of the timer that flushes buffered events. The
	// default is 2 seconds.
	Period time.Duration

	// QueueLimit caps the number of buffered events; further events are
	// dropped until the next flush. If QueueLimit < 0, the buffer is
	// unbounded. The default is 100000.
	QueueLimit int

	// ClassName is the record class written into each record. The default is
	// "LogEvent".
	ClassName string

	// MaxRequeues is the number of times a batch that failed delivery is kept
	// and retried on later flushes, ahead of newer events. The default is 0,
	// which means a failed batch is dropped.
	MaxRequeues int

	// RequeueBackoffLimit caps the exponential wait between attempts to
	// deliver a requeued batch. The default is 30 seconds.
	RequeueBackoffLimit time.Duration

	// FlushRate limits deliveries per second. The default, 0, is unlimited.
	FlushRate rate.Limit

	// SkipProvision disables creating the record class, if it does not exist,
	// before the first delivery.
	SkipProvision bool

	// Encoder customizes event serialization. The default is
	// DefaultEncoderOptions().
	Encoder *EncoderOptions

	// MeterProvider is used to create the Sink's instruments. The default is
	// the global provider.
	MeterProvider metric.MeterProvider

	// Verbose controls whether debug logs are written to the internal logger.
	Verbose bool
}

const (
	defaultBatchSizeLimit      = 1000
	defaultPeriod              = time.Second * 2
	defaultQueueLimit          = 100000
	defaultClassName           = "LogEvent"
	defaultRequeueBackoffLimit = time.Second * 30
)

// DefaultSinkOptions returns *SinkOptions with all default values.
func DefaultSinkOptions() *SinkOptions {
	return &SinkOptions{
		BatchSizeLimit:      defaultBatchSizeLimit,
		Period:              defaultPeriod,
		QueueLimit:          defaultQueueLimit,
		ClassName:           defaultClassName,
		RequeueBackoffLimit: defaultRequeueBackoffLimit,
		Encoder:             DefaultEncoderOptions(),
	}
}

// resolve ensures that all options have valid values.
func (o *SinkOptions) resolve() {

	if o.BatchSizeLimit < 1 {
		o.BatchSizeLimit = defaultBatchSizeLimit
	}

	if o.Period <= 0 {
		o.Period = defaultPeriod
	}

	// can be negative (unbounded) or positive, but not 0
	if o.QueueLimit == 0 {
		o.QueueLimit = defaultQueueLimit
	}

	// the buffer must be able to reach the size trigger
	if o.QueueLimit > 0 && o.QueueLimit < o.BatchSizeLimit {
		o.QueueLimit = o.BatchSizeLimit
	}

	if len(o.ClassName) == 0 {
		o.ClassName = defaultClassName
	}

	if o.MaxRequeues < 0 {
		o.MaxRequeues = 0
	}

	if o.RequeueBackoffLimit <= 0 {
		o.RequeueBackoffLimit = defaultRequeueBackoffLimit
	}

	if o.FlushRate < 0 {
		o.FlushRate = 0
	}

	if o.Encoder == nil {
		o.Encoder = DefaultEncoderOptions()
	} else {
		o.Encoder.resolve()
	}
}
