package testserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// New returns a MockServer
func New(t *testing.T, name string) *MockServer {
	t.Helper()
	mux := http.NewServeMux()
	return &MockServer{
		t:    t,
		name: name,
		mux:  mux,
	}
}

// MockServer is a simple http testing server
type MockServer struct {
	t            *testing.T
	mux          *http.ServeMux
	name         string
	server       *httptest.Server
	requestsLock sync.Mutex
	Requests     string
	FullRequests []*http.Request
	// Wrap, when set, decorates every handler before it runs.
	Wrap func(http.Handler) http.Handler
}

// Endpoint returns the URL to the server
func (m *MockServer) Endpoint() string {
	if m == nil || m.server == nil {
		// The consumer of this method expects something valid, but
		// won't use it if m is nil.
		return "https://ironic.test/v1/"
	}
	response := m.server.URL + "/v1/"
	m.t.Logf("%s: endpoint: %s", m.name, response)
	return response
}

func (m *MockServer) logRequest(r *http.Request, response string) {
	m.t.Logf("%s: %s %s -> %s", m.name, r.Method, r.URL, response)
	m.requestsLock.Lock()
	defer m.requestsLock.Unlock()
	m.Requests += r.Method + " " + r.RequestURI + ";"
	m.FullRequests = append(m.FullRequests, r)
}

// RequestCount returns how many requests matched method and path.
func (m *MockServer) RequestCount(method, path string) int {
	m.requestsLock.Lock()
	defer m.requestsLock.Unlock()
	count := 0
	for _, r := range m.FullRequests {
		if r.Method == method && r.URL.Path == path {
			count++
		}
	}
	return count
}

// Handler attaches a generic handler function to a request URL pattern
func (m *MockServer) Handler(pattern string, handlerFunc http.HandlerFunc) *MockServer {
	m.t.Logf("%s: adding handler for %s", m.name, pattern)
	m.mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		m.logRequest(r, "(custom)")
		handlerFunc(w, r)
	})
	return m
}

// Response attaches a handler function that returns the given payload
// from requests to the URL pattern
func (m *MockServer) Response(pattern string, payload string) *MockServer {
	m.t.Logf("%s: adding response handler for %s", m.name, pattern)
	m.mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		m.logRequest(r, payload)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, payload)
	})
	return m
}

// ErrorResponse attaches a handler function that returns the given
// error code from requests to the URL pattern
func (m *MockServer) ErrorResponse(pattern string, errorCode int) *MockServer {
	m.t.Logf("%s: adding error response handler for %s", m.name, pattern)
	m.mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		m.logRequest(r, fmt.Sprintf("%d", errorCode))
		writeError(w, errorCode, "An error")
	})
	return m
}

// Start runs the server
func (m *MockServer) Start() *MockServer {
	var handler http.Handler = m.mux
	if m.Wrap != nil {
		handler = m.Wrap(handler)
	}
	m.server = httptest.NewServer(handler)
	m.t.Cleanup(m.server.Close)
	return m
}

// Stop closes the server down
func (m *MockServer) Stop() {
	m.server.Close()
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}

// writeError answers the way Ironic does, with the fault nested as a JSON
// string under error_message.
func writeError(w http.ResponseWriter, code int, format string, args ...any) {
	fault, _ := json.Marshal(map[string]any{
		"faultstring": fmt.Sprintf(format, args...),
		"faultcode":   "Client",
		"debuginfo":   nil,
	})
	writeJSON(w, code, map[string]any{"error_message": string(fault)})
}
