package orientlog

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"net/netip"
	"testing"
	"time"
)

func TestEncoder_EncodeValue(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 30, 45, 123456789, time.UTC)

	tests := []struct {
		name   string
		value  Value
		quoted bool
		expect string
	}{
		{"nil", nil, false, `null`},
		{"null", Null{}, false, `null`},
		{"null forced", Null{}, true, `"null"`},
		{"nil scalar", AnyScalar(nil), false, `null`},
		{"string", StringValue("hello"), false, `"hello"`},
		{"string escapes", StringValue("a\"b\\c\nd\te\x01"), false, `"a\"b\\c\nd\te\u0001"`},
		{"invalid utf-8", StringValue("a\xffb"), false, `"a\ufffdb"`},
		{"line separators", StringValue("a\u2028b\u2029c"), false, `"a\u2028b\u2029c"`},
		{"non-ascii kept", StringValue("héllo 世界"), false, `"héllo 世界"`},
		{"bool", BoolValue(true), false, `true`},
		{"bool forced", BoolValue(false), true, `"false"`},
		{"int", IntValue(-42), false, `-42`},
		{"int forced", IntValue(42), true, `"42"`},
		{"int8", AnyScalar(int8(-8)), false, `-8`},
		{"uint16", AnyScalar(uint16(16)), false, `16`},
		{"uint64 max", Uint64Value(math.MaxUint64), false, `18446744073709551615`},
		{"int64 min", Int64Value(math.MinInt64), false, `-9223372036854775808`},
		{"float", Float64Value(1.5), false, `1.5`},
		{"float forced", Float64Value(0.25), true, `"0.25"`},
		{"float large", Float64Value(1234567.5), false, `1234567.5`},
		{"float huge", Float64Value(1e21), false, `1e+21`},
		{"float tiny", Float64Value(1e-9), false, `1e-9`},
		{"float32", AnyScalar(float32(0.1)), false, `0.1`},
		{"float whole", Float64Value(3), false, `3`},
		{"NaN", Float64Value(math.NaN()), false, `"NaN"`},
		{"+Inf", Float64Value(math.Inf(1)), false, `"Infinity"`},
		{"-Inf", Float64Value(math.Inf(-1)), false, `"-Infinity"`},
		{"NaN forced", Float64Value(math.NaN()), true, `"NaN"`},
		{"time", TimeValue(at), false, `"2024-03-01T12:30:45.123"`},
		{"time normalized to UTC", TimeValue(at.In(time.FixedZone("CEST", 2*60*60))), false, `"2024-03-01T12:30:45.123"`},
		{"duration", DurationValue(1500 * time.Millisecond), false, `"1.5s"`},
		{"empty sequence", Seq(), false, `[]`},
		{"sequence", Seq(IntValue(1), StringValue("a"), Null{}), false, `[1,"a",null]`},
		{"nested sequence", Seq(Seq(IntValue(1)), Seq()), false, `[[1],[]]`},
		{"empty mapping", Map(), false, `{}`},
		{"mapping", Map(Entry(StringValue("a"), IntValue(1)), Entry(StringValue("b"), Seq(BoolValue(true)))), false, `{"a":1,"b":[true]}`},
		{"mapping int key", Map(Entry(IntValue(1), StringValue("one"))), false, `{"1":"one"}`},
		{"mapping bool key", Map(Entry(BoolValue(true), IntValue(1))), false, `{"true":1}`},
		{"mapping null key", Map(Entry(AnyScalar(nil), IntValue(1))), false, `{"null":1}`},
		{"mapping float key", Map(Entry(Float64Value(2.5), IntValue(1))), false, `{"2.5":1}`},
		{"structure", Struct("", F("Name", StringValue("ann")), F("Age", IntValue(30))), false, `{"Name":"ann","Age":30}`},
		{"structure tagged", Struct("User", F("Name", StringValue("ann"))), false, `{"@type":"User","Name":"ann"}`},
		{"structure tag only", Struct("Empty"), false, `{"@type":"Empty"}`},
		{"structure empty", Struct(""), false, `{}`},
		{"structure nested", Struct("", F("Tags", Seq(StringValue("x"))), F("Inner", Struct("T", F("A", Null{})))), false, `{"Tags":["x"],"Inner":{"@type":"T","A":null}}`},
	}
	for i := 0; i < len(tests); i++ {
		tt := tests[i]
		t.Run(tt.name, func(t *testing.T) {
			enc := NewEncoder(nil)
			if err := enc.EncodeValue(tt.value, tt.quoted); err != nil {
				t.Fatalf("failed: %s: unexpected error: %v", tt.name, err)
			}
			if got := enc.String(); got != tt.expect {
				t.Errorf("failed: %s, expected: %s, got: %s", tt.name, tt.expect, got)
			}
		})
	}
}

func TestEncoder_RoundTripDates(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 30, 45, 123456789, time.FixedZone("", 2*60*60))

	enc := NewEncoder(&EncoderOptions{DateMode: RoundTripDates})
	if err := enc.EncodeValue(TimeValue(at), false); err != nil {
		t.Fatal(err)
	}
	expect := `"2024-03-01T12:30:45.1234567+02:00"`
	if enc.String() != expect {
		t.Fatalf("expected: %s, got: %s", expect, enc.String())
	}

	enc = NewEncoder(&EncoderOptions{DateMode: RoundTripDates})
	if err := enc.EncodeValue(TimeValue(at.UTC()), false); err != nil {
		t.Fatal(err)
	}
	expect = `"2024-03-01T10:30:45.1234567Z"`
	if enc.String() != expect {
		t.Fatalf("expected: %s, got: %s", expect, enc.String())
	}
}

func TestEncoder_TypeTagKey(t *testing.T) {
	enc := NewEncoder(&EncoderOptions{TypeTagKey: "$type"})
	if err := enc.EncodeValue(Struct("User", F("Id", IntValue(7))), false); err != nil {
		t.Fatal(err)
	}
	expect := `{"$type":"User","Id":7}`
	if enc.String() != expect {
		t.Fatalf("expected: %s, got: %s", expect, enc.String())
	}
}

func TestEncoder_UnknownKindFails(t *testing.T) {
	tests := []struct {
		name     string
		value    Value
		typeName string
		path     string
	}{
		{"unknown variant", unknownKind{}, "orientlog.unknownKind", ""},
		{"unknown scalar", AnyScalar(complex(1, 2)), "complex128", ""},
		{"in sequence", Seq(IntValue(1), AnyScalar(struct{}{})), "struct {}", "[1]"},
		{"in mapping", Map(Entry(StringValue("k"), unknownKind{})), "orientlog.unknownKind", "[k]"},
		{"unknown mapping key", Map(Entry(AnyScalar([]int{1}), IntValue(1))), "[]int", "[[1]]"},
		{"in structure", Struct("", F("Tags", Seq(StringValue("a"), StringValue("b"), AnyScalar(complex64(1))))), "complex64", "Tags[2]"},
		{"deeply nested", Seq(Null{}, Struct("", F("tags", Seq(Null{}, Null{}, unknownKind{})))), "orientlog.unknownKind", "[1].tags[2]"},
	}
	for i := 0; i < len(tests); i++ {
		tt := tests[i]
		t.Run(tt.name, func(t *testing.T) {
			enc := NewEncoder(nil)
			enc.WriteString("prefix")

			err := enc.EncodeValue(tt.value, false)
			var se *SerializationError
			if !errors.As(err, &se) {
				t.Fatalf("failed: %s, expected a *SerializationError, got: %v", tt.name, err)
			}
			if se.Type != tt.typeName {
				t.Errorf("failed: %s, expected type: %s, got: %s", tt.name, tt.typeName, se.Type)
			}
			if se.Path != tt.path {
				t.Errorf("failed: %s, expected path: %q, got: %q", tt.name, tt.path, se.Path)
			}

			// nothing partial is left behind
			if enc.String() != "prefix" {
				t.Errorf("failed: %s, expected the buffer to be restored, got: %s", tt.name, enc.String())
			}
		})
	}
}

func TestEncoder_Literals(t *testing.T) {
	addrLiteral := func(buf *bytes.Buffer, v any, quote bool) bool {
		a, ok := v.(netip.Addr)
		if !ok {
			return false
		}
		fmt.Fprintf(buf, "%q", a.String())
		return true
	}

	enc := NewEncoder(&EncoderOptions{Literals: []LiteralWriter{addrLiteral}})
	v := Map(Entry(AnyScalar(netip.MustParseAddr("10.0.0.1")), Seq(AnyScalar(netip.MustParseAddr("::1")))))
	if err := enc.EncodeValue(v, false); err != nil {
		t.Fatal(err)
	}
	expect := `{"10.0.0.1":["::1"]}`
	if enc.String() != expect {
		t.Fatalf("expected: %s, got: %s", expect, enc.String())
	}

	// still fails for everything the writers decline
	enc.Reset()
	var se *SerializationError
	if err := enc.EncodeValue(AnyScalar(complex(0, 1)), false); !errors.As(err, &se) {
		t.Fatalf("expected a *SerializationError, got: %v", err)
	}
}

func TestEncoder_ForceQuotedOnlyAffectsScalars(t *testing.T) {
	enc := NewEncoder(nil)
	if err := enc.EncodeValue(Seq(IntValue(1)), true); err != nil {
		t.Fatal(err)
	}
	if enc.String() != `[1]` {
		t.Fatalf("expected elements of a sequence to stay unquoted, got: %s", enc.String())
	}
}

func TestEncoder_MappingDoesNotAllocate(t *testing.T) {
	var v Value = Map(
		Entry(StringValue("a"), IntValue(1)),
		Entry(IntValue(2), StringValue("b")),
		Entry(BoolValue(true), Null{}),
	)
	enc := NewEncoder(nil)
	enc.Grow(1024)

	allocs := testing.AllocsPerRun(100, func() {
		enc.Reset()
		if err := enc.EncodeValue(v, false); err != nil {
			t.Fatal(err)
		}
	})
	if allocs != 0 {
		t.Fatalf("expected no allocations per mapping, got: %v", allocs)
	}
}
