package orientlog

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"slices"
	"time"
)

type ccKey struct{}

// ContextKey is used to extract a log value from context.Context. The value
// must be be `slog.Attr`.
//
//		Example:
//	 	ctx := context.WithValue(ctx, orientlog.ContextKey,
//	 		slog.Group("req",
//	 			slog.String("method", r.Method),
//	 			slog.String("url", r.URL.String()),
//	 		)
//	 	)
//
// These attrs are added to the top scope of the event's Properties.
var ContextKey *ccKey = &ccKey{}

// scope holds the attrs added with WithAttrs to one group. WithGroup() is used
// to create new, nested scopes.
type scope struct {
	key   string
	props []Property
}

// Emitter is the part of the Sink used by the Handler.
type Emitter interface {
	Emit(LogEvent)
	Close(context.Context) error
}

// Handler is an adapter that turns Go structured logs into LogEvents and
// hands them to a batching Sink.
//
//	// Example of basic usage
//	h, err := orientlog.NewHandler("http://localhost:2480", "logs", nil)
//	if err != nil {
//	   log.Fatalln(err)
//	}
//
//	logger := slog.New(h)
//	slog.SetDefault(logger)
//
//	slog.Info("unrecognized user", "user_id", user_id)
//
// Attrs become event Properties, and groups become nested structures. The
// first top level attr holding an error becomes the event's Exception.
type Handler struct {
	*HandlerOptions
	sink   Emitter
	scopes []scope

	// from the first error attr added to the top scope with WithAttrs
	exception string
}

// NewHandler creates a Client and a Sink from the options, and a Handler that
// emits into that Sink.
//
// For complete control over how events are delivered, use the
// `NewHandlerCustom` constructor.
func NewHandler(serverURL, database string, opts *HandlerOptions) (*Handler, error) {
	if opts == nil {
		opts = DefaultHandlerOptions()
	} else {
		opts.resolve()
	}

	c, err := NewClient(serverURL, database, opts.Client)
	if err != nil {
		return nil, fmt.Errorf("failed to create orientlog.NewClient: %w", err)
	}

	s, err := NewSink(c, opts.Sink)
	if err != nil {
		return nil, fmt.Errorf("failed to create orientlog.NewSink: %w", err)
	}

	return NewHandlerCustom(s, opts), nil
}

// NewHandlerCustom creates a Handler that emits into any Emitter.
func NewHandlerCustom(sink Emitter, opts *HandlerOptions) *Handler {
	if opts == nil {
		opts = DefaultHandlerOptions()
	} else {
		opts.resolve()
	}

	return &Handler{
		HandlerOptions: opts,
		sink:           sink,
		scopes:         make([]scope, 1), // 1 for the root scope
	}
}

// Shutdown closes the Sink, which delivers the events it still buffers. You
// MUST NOT call any other logger methods after calling Shutdown. This method
// will block until the Sink is drained or ctx expires.
func (h *Handler) Shutdown(ctx context.Context) error {
	h.debug("shutting down the logging stack")
	return h.sink.Close(ctx)
}

// deepCopy creates a copy of the Handler that can be independently modified
// moving forward without impacting the parent handler it derives from.
func (h *Handler) deepCopy() *Handler {
	h2 := *h

	h2.scopes = make([]scope, len(h.scopes))
	for i, s := range h.scopes {
		h2.scopes[i] = scope{key: s.key, props: slices.Clip(s.props)}
	}

	return &h2
}

func (h *Handler) debug(format string, args ...any) {
	if !h.Verbose {
		return
	}
	internalf("handler", format, args...)
}

// Enabled reports whether the handler handles records at the given level. The
// handler ignores records whose level is lower.
func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.Level.Level()
}

// Handle converts the Record into a LogEvent and emits it. It never returns an
// error; values that cannot be serialized surface when the batch is built.
//
// Handle follows the rules for slog.Handler implementations:
//   - If r.Time is the zero time, time.Now() is used instead.
//   - If r.PC is zero, no source is added.
//   - Attr's values are resolved.
//   - If an Attr's key and value are both the zero value, ignore the Attr.
//   - If a group's key is empty, inline the group's Attrs.
//   - If a group has no Attrs (even if it has a non-empty key),
//     ignore it.
func (h *Handler) Handle(ctx context.Context, r slog.Record) error {

	// rule: ignore record time if zero
	t := r.Time
	if t.IsZero() {
		t = time.Now()
	}

	ev := LogEvent{
		Timestamp:       t,
		Level:           LevelFromSlog(r.Level),
		MessageTemplate: r.Message,
		Exception:       h.exception,
	}

	top := len(h.scopes) == 1

	// slog record attrs belong to the last scope
	last := slices.Clone(h.scopes[len(h.scopes)-1].props)
	r.Attrs(func(attr slog.Attr) bool {
		if top && len(ev.Exception) == 0 {
			if err, ok := errorAttr(attr); ok {
				ev.Exception = err.Error()
				return true
			}
		}
		last = appendAttr(last, attr)
		return true
	})

	// rule: remove empty groups; fold the rest into their parents
	for i := len(h.scopes) - 1; i > 0; i-- {
		parent := slices.Clone(h.scopes[i-1].props)
		if len(last) > 0 {
			parent = append(parent, Property{
				Name:  h.scopes[i].key,
				Value: Structure{Fields: fields(last)},
			})
		}
		last = parent
	}

	var root []Property

	// rule: ignore source if no program counter, else add to top scope
	if h.AddSource && r.PC != 0 {
		fs := runtime.CallersFrames([]uintptr{r.PC})
		f, _ := fs.Next()
		root = append(root, Property{Name: slog.SourceKey, Value: StringValue(fmt.Sprintf("%s:%d", f.File, f.Line))})
	}

	// slog.Attrs passed in via the ctx also go to the top scope
	if ctxAttr, ok := ctx.Value(ContextKey).(slog.Attr); ok {
		root = appendAttr(root, ctxAttr)
	}

	ev.Properties = append(root, last...)

	h.sink.Emit(ev)

	return nil
}

// errorAttr reports whether attr holds an error value.
func errorAttr(attr slog.Attr) (error, bool) {
	if len(attr.Key) == 0 {
		return nil, false
	}
	v := attr.Value.Resolve()
	if v.Kind() != slog.KindAny {
		return nil, false
	}
	err, ok := v.Any().(error)
	return err, ok && err != nil
}

// appendAttr converts attr and appends it to props, applying the rules for
// empty attrs and groups.
func appendAttr(props []Property, attr slog.Attr) []Property {

	// rule: must first resolve, and then ignore if empty
	attr.Value = attr.Value.Resolve()
	if attr.Equal(slog.Attr{}) {
		return props
	}

	k, v := attr.Key, attr.Value

	if v.Kind() != slog.KindGroup {
		if len(k) == 0 {
			// rule: ignore non-group attrs with empty keys
			return props
		}
		return append(props, Property{Name: k, Value: slogValue(v)})
	}

	gAttrs := v.Group()

	// rule: inline attrs if key is empty
	if len(k) == 0 {
		for _, a := range gAttrs {
			props = appendAttr(props, a)
		}
		return props
	}

	var members []Property
	for _, a := range gAttrs {
		members = appendAttr(members, a)
	}

	// rule: ignore empty groups, including those emptied by skipped attrs
	if len(members) == 0 {
		return props
	}

	return append(props, Property{Name: k, Value: Structure{Fields: fields(members)}})
}

func fields(props []Property) []Field {
	fs := make([]Field, len(props))
	for i, p := range props {
		fs[i] = Field(p)
	}
	return fs
}

// slogValue converts a resolved, non-group slog.Value.
func slogValue(v slog.Value) Value {
	switch vk := v.Kind(); vk {
	case slog.KindBool:
		return BoolValue(v.Bool())
	case slog.KindDuration:
		return DurationValue(v.Duration())
	case slog.KindFloat64:
		return Float64Value(v.Float64())
	case slog.KindInt64:
		return Int64Value(v.Int64())
	case slog.KindString:
		return StringValue(v.String())
	case slog.KindTime:
		return TimeValue(v.Time())
	case slog.KindUint64:
		return Uint64Value(v.Uint64())
	case slog.KindGroup:
		var members []Property
		for _, a := range v.Group() {
			members = appendAttr(members, a)
		}
		return Structure{Fields: fields(members)}
	default:
		return anyValue(v.Any())
	}
}

// anyValue converts the payload of a slog.KindAny value. Values of types it
// does not know are kept as they are, and fail serialization later.
func anyValue(x any) Value {
	switch x := x.(type) {
	case nil:
		return Null{}
	case Value:
		return x
	case error:
		return StringValue(x.Error())
	case time.Time:
		return TimeValue(x)
	case time.Duration:
		return DurationValue(x)
	case []any:
		seq := make(Sequence, len(x))
		for i, elem := range x {
			seq[i] = anyValue(elem)
		}
		return seq
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		m := make(Mapping, len(keys))
		for i, k := range keys {
			m[i] = Entry(StringValue(k), anyValue(x[k]))
		}
		return m
	case fmt.Stringer:
		return StringValue(x.String())
	}

	v := slog.AnyValue(x).Resolve()
	if v.Kind() == slog.KindAny {
		return AnyScalar(v.Any())
	}
	return slogValue(v)
}

// WithAttrs returns a new Handler whose attributes consist of both the
// receiver's attributes and the arguments. The Handler owns the slice: it may
// retain, modify or discard it.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {

	// rule: skip if no attrs
	if len(attrs) == 0 {
		return h
	}

	// make independent copy
	h2 := h.deepCopy()

	// update the current scope *in the new logger*
	idx := len(h2.scopes) - 1
	props := h2.scopes[idx].props
	added := 0

	for _, attr := range attrs {
		if idx == 0 && len(h2.exception) == 0 {
			if err, ok := errorAttr(attr); ok {
				h2.exception = err.Error()
				added++
				continue
			}
		}
		n := len(props)
		props = appendAttr(props, attr)
		added += len(props) - n
	}

	// if none added, don't create a new handler
	if added == 0 {
		return h
	}

	h2.scopes[idx].props = props

	return h2
}

// WithGroup returns a new Handler with the given group appended to the
// receiver's existing groups, nesting the attrs that follow inside a structure
// property.
//
// The new scope ends at the end of the log event. That is,
//
//	logger.WithGroup("s").LogAttrs(level, msg, slog.Int("a", 1), slog.Int("b", 2))
//
//	behaves like
//
//	logger.LogAttrs(level, msg, slog.Group("s", slog.Int("a", 1), slog.Int("b", 2)))
//
// If the name is empty, WithGroup returns the receiver, which results in the
// nested attributes being inlined into the parent scope.
func (h *Handler) WithGroup(name string) slog.Handler {

	// rule: ignore if name is empty (true for any attr)
	if len(name) == 0 {
		return h
	}

	// make an independent copy of the logger
	h2 := h.deepCopy()

	// add the new scope
	h2.scopes = append(h2.scopes, scope{key: name})

	return h2
}
