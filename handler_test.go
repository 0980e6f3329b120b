package orientlog

import (
	"context"
	"errors"
	"log/slog"
	"reflect"
	"strings"
	"testing"
	"time"
)

type secret string

func (secret) LogValue() slog.Value { return slog.StringValue("***") }

func TestHandler_Event(t *testing.T) {
	e := &testEmitter{}
	l := slog.New(NewHandlerCustom(e, nil))

	before := time.Now()
	l.Warn("user {Name} signed in", "Name", "ann", "attempts", 3, "ok", true)

	ev := e.last(t)
	if ev.Level != LevelWarning {
		t.Errorf("expected Warning, got %s", ev.Level)
	}
	if ev.MessageTemplate != "user {Name} signed in" {
		t.Errorf("unexpected template: %s", ev.MessageTemplate)
	}
	if ev.Timestamp.Before(before) {
		t.Errorf("expected the record time, got %s", ev.Timestamp)
	}
	want := []Property{
		{"Name", StringValue("ann")},
		{"attempts", Int64Value(3)},
		{"ok", BoolValue(true)},
	}
	if !reflect.DeepEqual(ev.Properties, want) {
		t.Fatalf("\nexpected: %+v\nreceived: %+v", want, ev.Properties)
	}
}

func TestHandler_ZeroTimeUsesNow(t *testing.T) {
	e := &testEmitter{}
	h := NewHandlerCustom(e, nil)

	if err := h.Handle(context.Background(), slog.NewRecord(time.Time{}, slog.LevelInfo, "m", 0)); err != nil {
		t.Fatal(err)
	}
	if ts := e.last(t).Timestamp; ts.IsZero() || time.Since(ts) > time.Minute {
		t.Fatalf("expected the current time, got %s", ts)
	}
}

func TestHandler_Scopes(t *testing.T) {
	tests := []struct {
		name   string
		log    func(l *slog.Logger)
		expect []Property
	}{
		{
			"attrs and groups nest",
			func(l *slog.Logger) {
				l.With("a", 1).WithGroup("g").With("b", 2).Info("m", "c", 3)
			},
			[]Property{
				{"a", Int64Value(1)},
				{"g", Struct("", F("b", Int64Value(2)), F("c", Int64Value(3)))},
			},
		},
		{
			"nested groups",
			func(l *slog.Logger) {
				l.WithGroup("outer").WithGroup("inner").Info("m", "x", 1)
			},
			[]Property{
				{"outer", Struct("", F("inner", Struct("", F("x", Int64Value(1)))))},
			},
		},
		{
			"empty groups are dropped",
			func(l *slog.Logger) {
				l.With("a", 1).WithGroup("g").WithGroup("h").Info("m")
			},
			[]Property{{"a", Int64Value(1)}},
		},
		{
			"empty group attr is dropped",
			func(l *slog.Logger) {
				l.Info("m", slog.Group("g"), slog.Group("h", slog.Attr{}), "a", 1)
			},
			[]Property{{"a", Int64Value(1)}},
		},
		{
			"empty key group is inlined",
			func(l *slog.Logger) {
				l.Info("m", slog.Group("", slog.Int("x", 1), slog.Int("y", 2)))
			},
			[]Property{{"x", Int64Value(1)}, {"y", Int64Value(2)}},
		},
		{
			"empty attrs and keys are ignored",
			func(l *slog.Logger) {
				l.Info("m", slog.Attr{}, slog.Int("", 4), "a", 1)
			},
			[]Property{{"a", Int64Value(1)}},
		},
		{
			"empty group name is ignored",
			func(l *slog.Logger) {
				l.WithGroup("").Info("m", "a", 1)
			},
			[]Property{{"a", Int64Value(1)}},
		},
		{
			"static group",
			func(l *slog.Logger) {
				l.Info("m", slog.Group("req", slog.String("method", "GET"), slog.Int("status", 200)))
			},
			[]Property{{"req", Struct("", F("method", StringValue("GET")), F("status", Int64Value(200)))}},
		},
		{
			"siblings do not share attrs",
			func(l *slog.Logger) {
				base := l.With("a", 1)
				base.With("b", 2).Info("ignored")
				base.With("c", 3).Info("m")
			},
			[]Property{{"a", Int64Value(1)}, {"c", Int64Value(3)}},
		},
	}
	for i := 0; i < len(tests); i++ {
		tt := tests[i]
		t.Run(tt.name, func(t *testing.T) {
			e := &testEmitter{}
			tt.log(slog.New(NewHandlerCustom(e, nil)))
			got := e.last(t).Properties
			if !reflect.DeepEqual(got, tt.expect) {
				t.Fatalf("failed: %s\nexpected: %+v\nreceived: %+v", tt.name, tt.expect, got)
			}
		})
	}
}

func TestHandler_Kinds(t *testing.T) {
	at := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	odd := struct{ X int }{1}

	e := &testEmitter{}
	l := slog.New(NewHandlerCustom(e, nil))
	l.Info("m",
		slog.Float64("f", 1.5),
		slog.Uint64("u", 7),
		slog.Time("t", at),
		slog.Duration("d", time.Second),
		slog.Any("list", []any{1, "a", nil}),
		slog.Any("dict", map[string]any{"b": 2, "a": true}),
		slog.Any("month", time.March),
		slog.Any("value", Struct("T", F("x", IntValue(1)))),
		slog.Any("secret", secret("pw")),
		slog.Any("odd", odd),
		slog.Any("times", []any{at, time.Second}),
		slog.Any("timed", map[string]any{"at": at, "took": 2 * time.Second}),
	)

	want := []Property{
		{"f", Float64Value(1.5)},
		{"u", Uint64Value(7)},
		{"t", TimeValue(at)},
		{"d", DurationValue(time.Second)},
		{"list", Seq(Int64Value(1), StringValue("a"), Null{})},
		{"dict", Map(Entry(StringValue("a"), BoolValue(true)), Entry(StringValue("b"), Int64Value(2)))},
		{"month", StringValue("March")},
		{"value", Struct("T", F("x", IntValue(1)))},
		{"secret", StringValue("***")},
		{"odd", AnyScalar(odd)},
		{"times", Seq(TimeValue(at), DurationValue(time.Second))},
		{"timed", Map(Entry(StringValue("at"), TimeValue(at)), Entry(StringValue("took"), DurationValue(2*time.Second)))},
	}
	if got := e.last(t).Properties; !reflect.DeepEqual(got, want) {
		t.Fatalf("\nexpected: %+v\nreceived: %+v", want, got)
	}

	// values of unknown kinds surface when the event is serialized
	ev := e.last(t)
	var se *SerializationError
	if err := NewEncoder(nil).EncodeEvent(testClass, &ev); !errors.As(err, &se) || se.Path != "Properties.odd" {
		t.Fatalf("expected a SerializationError at Properties.odd, got: %v", err)
	}
}

func TestHandler_NestedTimesUseStoreDates(t *testing.T) {
	at := time.Date(2024, 3, 5, 13, 45, 0, 123000000, time.UTC)

	e := &testEmitter{}
	slog.New(NewHandlerCustom(e, nil)).Info("m",
		"top", at,
		"list", []any{at},
		"map", map[string]any{"at": at},
	)

	ev := e.last(t)
	enc := NewEncoder(nil)
	if err := enc.EncodeEvent(testClass, &ev); err != nil {
		t.Fatal(err)
	}
	expect := `"Properties":{"top":"2024-03-05T13:45:00.123","list":["2024-03-05T13:45:00.123"],"map":{"at":"2024-03-05T13:45:00.123"}}`
	if !strings.Contains(enc.String(), expect) {
		t.Fatalf("\nexpected: %s\nin:       %s", expect, enc.String())
	}
}

func TestHandler_Exception(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name      string
		log       func(l *slog.Logger)
		exception string
		expect    []Property
	}{
		{
			"first error attr",
			func(l *slog.Logger) {
				l.Error("failed", "err", boom, "other", errors.New("second"))
			},
			"boom",
			[]Property{{"other", StringValue("second")}},
		},
		{
			"error from WithAttrs",
			func(l *slog.Logger) {
				l.With("err", boom).Error("failed", "a", 1)
			},
			"boom",
			[]Property{{"a", Int64Value(1)}},
		},
		{
			"error in a group stays a property",
			func(l *slog.Logger) {
				l.WithGroup("g").Error("failed", "err", boom)
			},
			"",
			[]Property{{"g", Struct("", F("err", StringValue("boom")))}},
		},
		{
			"no error",
			func(l *slog.Logger) {
				l.Error("failed", "a", 1)
			},
			"",
			[]Property{{"a", Int64Value(1)}},
		},
	}
	for i := 0; i < len(tests); i++ {
		tt := tests[i]
		t.Run(tt.name, func(t *testing.T) {
			e := &testEmitter{}
			tt.log(slog.New(NewHandlerCustom(e, nil)))
			ev := e.last(t)
			if ev.Exception != tt.exception {
				t.Errorf("failed: %s, expected exception %q, got %q", tt.name, tt.exception, ev.Exception)
			}
			if !reflect.DeepEqual(ev.Properties, tt.expect) {
				t.Errorf("failed: %s\nexpected: %+v\nreceived: %+v", tt.name, tt.expect, ev.Properties)
			}
		})
	}
}

func TestSlogger_HandlesContextValues(t *testing.T) {
	e := &testEmitter{}
	l := slog.New(NewHandlerCustom(e, nil)).With("a", 1).WithGroup("g")

	ctx := context.WithValue(context.Background(), ContextKey,
		slog.Group("req", slog.String("method", "GET")),
	)
	l.InfoContext(ctx, "m", "b", 2)

	want := []Property{
		{"req", Struct("", F("method", StringValue("GET")))},
		{"a", Int64Value(1)},
		{"g", Struct("", F("b", Int64Value(2)))},
	}
	if got := e.last(t).Properties; !reflect.DeepEqual(got, want) {
		t.Fatalf("\nexpected: %+v\nreceived: %+v", want, got)
	}
}

func TestHandler_Shutdown(t *testing.T) {
	e := &testEmitter{}
	h := NewHandlerCustom(e, nil)
	if err := h.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !e.closed {
		t.Fatal("expected Shutdown to close the emitter")
	}
}

func TestNewHandler_DeliversToStore(t *testing.T) {
	ts := newTestStore(t)

	h, err := NewHandler(ts.URL, testDatabase, &HandlerOptions{
		Client: &ClientOptions{Username: testUser, Password: testPassword},
		Sink:   &SinkOptions{Period: time.Hour},
	})
	if err != nil {
		t.Fatalf("failed to create handler: %v", err)
	}
	l := slog.New(h)

	l.Info("hello {Name}", "Name", "ann")
	l.Debug("not enabled")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.Shutdown(ctx); err != nil {
		t.Fatalf("failed to shut down: %v", err)
	}

	env := decodeEnvelope(t, ts.nextBatch(t, time.Second))
	if len(env.Operations) != 1 {
		t.Fatalf("expected 1 record, got %d", len(env.Operations))
	}
	rec := env.Operations[0].Record
	if rec["@class"] != defaultClassName || rec["RenderedMessage"] != `hello "ann"` || rec["Level"] != "Information" {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestNewHandler_Validation(t *testing.T) {
	if _, err := NewHandler("", testDatabase, nil); err == nil {
		t.Fatal("expected an error for an empty server URL")
	}
}
