package orientlog

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

const (
	testDatabase = "logs"
	testClass    = "LogEvent"
	testUser     = "writer"
	testPassword = "s3cret"
)

// testRequest is one request received by the testStore.
type testRequest struct {
	Method  string
	Path    string
	Session string
	Auth    string
	Header  http.Header
	Body    []byte
}

// testStore is an in-process stand-in for the database's REST API. It records
// every request, answers batch writes with the next queued status (200 when
// the queue is empty), and can issue and demand session tokens.
type testStore struct {
	*httptest.Server

	mu       sync.Mutex
	requests []testRequest
	statuses []int
	classes  map[string]bool

	// issued in the OSESSIONID header of successful batch writes
	issueSession string

	// sessions rejected with 401
	revoked map[string]bool

	batchCh chan []byte
}

func newTestStore(t *testing.T) *testStore {
	ts := &testStore{
		classes: make(map[string]bool),
		revoked: make(map[string]bool),
		batchCh: make(chan []byte, 1024),
	}
	ts.Server = httptest.NewServer(http.HandlerFunc(ts.serve))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *testStore) serve(w http.ResponseWriter, r *http.Request) {
	var body []byte
	if r.Body != nil {
		var rd io.Reader = r.Body
		if r.Header.Get("Content-Encoding") == "gzip" {
			zr, err := gzip.NewReader(r.Body)
			if err != nil {
				http.Error(w, "bad gzip body", http.StatusBadRequest)
				return
			}
			rd = zr
		}
		body, _ = io.ReadAll(rd)
	}

	req := testRequest{
		Method:  r.Method,
		Path:    r.URL.EscapedPath(),
		Session: r.Header.Get(sessionHeader),
		Auth:    r.Header.Get(authorizationHeader),
		Header:  r.Header.Clone(),
		Body:    body,
	}

	ts.mu.Lock()
	ts.requests = append(ts.requests, req)
	ts.mu.Unlock()

	parts := strings.Split(strings.TrimPrefix(req.Path, "/"), "/")
	switch {
	case len(parts) == 2 && parts[0] == bulkWritePath && r.Method == http.MethodPost:
		ts.serveBatch(w, req)
	case len(parts) == 3 && parts[0] == classPath:
		ts.serveClass(w, r.Method, parts[2])
	case len(parts) == 3 && parts[0] == propertyPath && r.Method == http.MethodPost:
		w.WriteHeader(http.StatusOK)
	default:
		http.NotFound(w, r)
	}
}

func (ts *testStore) serveBatch(w http.ResponseWriter, req testRequest) {
	ts.mu.Lock()
	revoked := req.Session != "" && ts.revoked[req.Session]
	status := http.StatusOK
	if !revoked && len(ts.statuses) > 0 {
		status = ts.statuses[0]
		ts.statuses = ts.statuses[1:]
	}
	session := ts.issueSession
	ts.mu.Unlock()

	if revoked {
		http.Error(w, "session expired", http.StatusUnauthorized)
		return
	}
	if status >= 300 {
		http.Error(w, "store unavailable", status)
		return
	}

	if session != "" {
		w.Header().Set(sessionHeader, session)
	}
	w.WriteHeader(status)
	ts.batchCh <- req.Body
}

func (ts *testStore) serveClass(w http.ResponseWriter, method, class string) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	switch method {
	case http.MethodGet:
		if !ts.classes[class] {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	case http.MethodPost:
		ts.classes[class] = true
		w.WriteHeader(http.StatusCreated)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// respondWith queues statuses for the next batch writes.
func (ts *testStore) respondWith(statuses ...int) {
	ts.mu.Lock()
	ts.statuses = append(ts.statuses, statuses...)
	ts.mu.Unlock()
}

func (ts *testStore) setSession(token string) {
	ts.mu.Lock()
	ts.issueSession = token
	ts.mu.Unlock()
}

func (ts *testStore) revoke(token string) {
	ts.mu.Lock()
	ts.revoked[token] = true
	ts.mu.Unlock()
}

func (ts *testStore) received() []testRequest {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return append([]testRequest(nil), ts.requests...)
}

// nextBatch waits for the next successfully written batch body.
func (ts *testStore) nextBatch(t *testing.T, timeout time.Duration) []byte {
	t.Helper()
	select {
	case b := <-ts.batchCh:
		return b
	case <-time.After(timeout):
		t.Fatalf("no batch received within %s", timeout)
		return nil
	}
}

// testEnvelope mirrors the bulk-write envelope, for decoding payloads.
type testEnvelope struct {
	Transaction bool `json:"transaction"`
	Operations  []struct {
		Type   string         `json:"type"`
		Record map[string]any `json:"record"`
	} `json:"operations"`
}

func decodeEnvelope(t *testing.T, payload []byte) testEnvelope {
	t.Helper()
	var env testEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		t.Fatalf("payload is not valid JSON: %v\n%s", err, payload)
	}
	return env
}

// messages returns the MessageTemplate of each record in the payload.
func messages(t *testing.T, payload []byte) []string {
	t.Helper()
	env := decodeEnvelope(t, payload)
	out := make([]string, len(env.Operations))
	for i, op := range env.Operations {
		out[i], _ = op.Record["MessageTemplate"].(string)
	}
	return out
}

// testEmitter is an Emitter that records the events it receives.
type testEmitter struct {
	mu     sync.Mutex
	events []LogEvent
	closed bool
}

func (e *testEmitter) Emit(ev LogEvent) {
	e.mu.Lock()
	e.events = append(e.events, ev)
	e.mu.Unlock()
}

func (e *testEmitter) Close(context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	return nil
}

func (e *testEmitter) last(t *testing.T) LogEvent {
	t.Helper()
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.events) == 0 {
		t.Fatal("no events emitted")
	}
	return e.events[len(e.events)-1]
}

// captureInternalLogs redirects the internal logger for the duration of the
// test.
func captureInternalLogs(t *testing.T) *syncBuffer {
	buf := &syncBuffer{}
	prev := InternalLogger()
	SetInternalLogger(log.New(buf, "", 0))
	t.Cleanup(func() { SetInternalLogger(prev) })
	return buf
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// testEvent returns an event with a fixed timestamp and the given properties.
func testEvent(template string, props ...Property) LogEvent {
	return LogEvent{
		Timestamp:       time.Date(2024, 3, 1, 12, 30, 45, 123456789, time.UTC),
		Level:           LevelInformation,
		MessageTemplate: template,
		Properties:      props,
	}
}

// unknownKind is a Value variant the renderer does not recognize.
type unknownKind struct{}

func (unknownKind) valueKind() ValueKind { return ValueKind(99) }
