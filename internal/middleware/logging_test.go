package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"intelligent-router/internal/common/logging"
)

type recordedEntry struct {
	level  string
	msg    string
	fields []logging.Field
}

// MockLogger records entries written through it
type MockLogger struct {
	mu      sync.Mutex
	entries []recordedEntry
}

func (m *MockLogger) record(level, msg string, fields []logging.Field) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, recordedEntry{level: level, msg: msg, fields: fields})
}

func (m *MockLogger) Debug(msg string, fields ...logging.Field) { m.record("debug", msg, fields) }
func (m *MockLogger) Info(msg string, fields ...logging.Field)  { m.record("info", msg, fields) }
func (m *MockLogger) Warn(msg string, fields ...logging.Field)  { m.record("warn", msg, fields) }
func (m *MockLogger) Error(msg string, err error, fields ...logging.Field) {
	m.record("error", msg, fields)
}
func (m *MockLogger) WithFields(fields ...logging.Field) logging.Logger { return m }
func (m *MockLogger) WithContext(ctx context.Context) logging.Logger    { return m }

func (m *MockLogger) Entries() []recordedEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]recordedEntry(nil), m.entries...)
}

func field(entry recordedEntry, key string) interface{} {
	for _, f := range entry.fields {
		if f.Key == key {
			return f.Value
		}
	}
	return nil
}

func TestRequestID(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = r.Context().Value(logging.RequestIDKey).(string)
	}))

	t.Run("propagates header", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/decide", nil)
		req.Header.Set(RequestIDHeader, "req-7")
		rr := httptest.NewRecorder()

		handler.ServeHTTP(rr, req)

		assert.Equal(t, "req-7", seen)
		assert.Equal(t, "req-7", rr.Header().Get(RequestIDHeader))
	})

	t.Run("generates missing id", func(t *testing.T) {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest("GET", "/decide", nil))

		assert.NotEmpty(t, seen)
		assert.Equal(t, seen, rr.Header().Get(RequestIDHeader))
	})
}

func TestLogging(t *testing.T) {
	tests := []struct {
		status int
		level  string
	}{
		{http.StatusOK, "debug"},
		{http.StatusBadRequest, "warn"},
		{http.StatusServiceUnavailable, "error"},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			logger := &MockLogger{}
			handler := Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))

			handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("POST", "/decide?dry=1", nil))

			entries := logger.Entries()
			require.Len(t, entries, 1)
			assert.Equal(t, tt.level, entries[0].level)
			assert.Equal(t, tt.status, field(entries[0], "status"))
			assert.Equal(t, "/decide", field(entries[0], "path"))
			assert.Equal(t, "dry=1", field(entries[0], "query"))
		})
	}
}
