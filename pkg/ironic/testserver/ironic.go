package testserver

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

const versionHeader = "X-OpenStack-Ironic-API-Version"

// IronicMock is an in-memory Ironic. It keeps nodes and the other
// resources in maps and moves nodes between provision states on request.
type IronicMock struct {
	*MockServer

	lock        sync.Mutex
	minVersion  int
	maxVersion  int
	served      string
	nodes       map[string]*fakeNode
	collections map[string]*collection
	conductors  []map[string]any
	drivers     []map[string]any

	transitional int
	conflicts    map[string]int
	failures     map[string]failure
}

type failure struct {
	state     string
	lastError string
}

// NewIronic builds an ironic mock server
func NewIronic(t *testing.T) *IronicMock {
	t.Helper()
	m := &IronicMock{
		MockServer:  New(t, "ironic"),
		minVersion:  1,
		maxVersion:  92,
		nodes:       map[string]*fakeNode{},
		collections: map[string]*collection{},
		conflicts:   map[string]int{},
		failures:    map[string]failure{},
	}
	m.Wrap = m.versionMiddleware
	m.routes()
	return m
}

// Start runs the server.
func (m *IronicMock) Start() *IronicMock {
	m.MockServer.Start()
	return m
}

// Versions sets the microversion range the server accepts.
func (m *IronicMock) Versions(minVersion, maxVersion int) *IronicMock {
	m.minVersion = minVersion
	m.maxVersion = maxVersion
	return m
}

// ServeVersion makes every response claim version v regardless of the
// request.
func (m *IronicMock) ServeVersion(v string) *IronicMock {
	m.served = v
	return m
}

// Transitional makes nodes and allocations report an in-progress state for
// n reads after each change before settling.
func (m *IronicMock) Transitional(n int) *IronicMock {
	m.transitional = n
	return m
}

// Conflict makes the next n writes to the node fail with 409.
func (m *IronicMock) Conflict(nodeID string, n int) *IronicMock {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.conflicts[nodeID] = n
	return m
}

// FailTarget makes provision requests with the given target end in the
// failed state with lastError.
func (m *IronicMock) FailTarget(target, state, lastError string) *IronicMock {
	m.failures[target] = failure{state: state, lastError: lastError}
	return m
}

// WithConductor registers a conductor.
func (m *IronicMock) WithConductor(hostname, group string) *IronicMock {
	m.conductors = append(m.conductors, map[string]any{
		"hostname":        hostname,
		"conductor_group": group,
		"alive":           true,
		"drivers":         []any{"fake-hardware"},
	})
	return m
}

// WithDrivers registers hardware types.
func (m *IronicMock) WithDrivers(names ...string) *IronicMock {
	for _, name := range names {
		m.drivers = append(m.drivers, map[string]any{
			"name":  name,
			"type":  "dynamic",
			"hosts": []any{"conductor-1"},
		})
	}
	return m
}

// Node seeds a node. Unset fields get the defaults of a new node.
func (m *IronicMock) Node(fields map[string]any) *IronicMock {
	m.lock.Lock()
	defer m.lock.Unlock()
	node := newFakeNode(fields)
	m.nodes[node.uuid()] = node
	return m
}

// GetNode returns a copy of the stored node.
func (m *IronicMock) GetNode(id string) map[string]any {
	m.lock.Lock()
	defer m.lock.Unlock()
	node := m.findNode(id)
	if node == nil {
		return nil
	}
	return copyMap(node.data)
}

// Count returns the number of stored resources of a kind ("nodes",
// "ports", "chassis", ...).
func (m *IronicMock) Count(kind string) int {
	m.lock.Lock()
	defer m.lock.Unlock()
	if kind == "nodes" {
		return len(m.nodes)
	}
	if c, ok := m.collections[kind]; ok {
		return len(c.items)
	}
	return 0
}

func (m *IronicMock) routes() {
	root := func(w http.ResponseWriter, r *http.Request) {
		m.logRequest(r, "root")
		writeJSON(w, http.StatusOK, map[string]any{
			"name":            "OpenStack Ironic API",
			"versions":        []any{m.versionDocument()},
			"default_version": m.versionDocument(),
		})
	}
	v1 := func(w http.ResponseWriter, r *http.Request) {
		m.logRequest(r, "v1")
		writeJSON(w, http.StatusOK, map[string]any{
			"id":      "v1",
			"version": m.versionDocument(),
		})
	}
	m.mux.HandleFunc("GET /{$}", root)
	m.mux.HandleFunc("GET /v1", v1)
	m.mux.HandleFunc("GET /v1/{$}", v1)

	m.nodeRoutes()
	m.resourceRoutes()
}

func (m *IronicMock) versionDocument() map[string]any {
	return map[string]any{
		"id":          "v1",
		"status":      "CURRENT",
		"min_version": fmt.Sprintf("1.%d", m.minVersion),
		"version":     fmt.Sprintf("1.%d", m.maxVersion),
	}
}

type versionKey struct{}

// versionMiddleware enforces the requested microversion and echoes the
// one served.
func (m *IronicMock) versionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		minor := m.minVersion
		switch requested := r.Header.Get(versionHeader); requested {
		case "":
		case "latest":
			minor = m.maxVersion
		default:
			major, rest, ok := strings.Cut(requested, ".")
			parsed, err := strconv.Atoi(rest)
			if !ok || major != "1" || err != nil {
				writeError(w, http.StatusBadRequest, "Invalid value for %s header: %s", versionHeader, requested)
				return
			}
			if parsed < m.minVersion || parsed > m.maxVersion {
				m.logRequest(r, "406")
				writeError(w, http.StatusNotAcceptable,
					"Version %s was requested but the minor version is not supported by this service. The supported version range is: [1.%d, 1.%d].",
					requested, m.minVersion, m.maxVersion)
				return
			}
			minor = parsed
		}

		served := fmt.Sprintf("1.%d", minor)
		if m.served != "" {
			served = m.served
		}
		w.Header().Set(versionHeader, served)
		w.Header().Set("X-OpenStack-Ironic-API-Minimum-Version", fmt.Sprintf("1.%d", m.minVersion))
		w.Header().Set("X-OpenStack-Ironic-API-Maximum-Version", fmt.Sprintf("1.%d", m.maxVersion))
		r.Header.Set("X-Served-Minor", strconv.Itoa(minor))
		next.ServeHTTP(w, r)
	})
}

// requireVersion answers 404 when the request was made below the version
// that introduced the endpoint, as Ironic does.
func requireVersion(w http.ResponseWriter, r *http.Request, minor int) bool {
	served, _ := strconv.Atoi(r.Header.Get("X-Served-Minor"))
	if served < minor {
		writeError(w, http.StatusNotFound, "The resource could not be found.")
		return false
	}
	return true
}

// takeConflict consumes one injected conflict for the node. Callers hold
// the lock.
func (m *IronicMock) takeConflict(w http.ResponseWriter, node *fakeNode) bool {
	for _, key := range []string{node.uuid(), node.name()} {
		if key == "" {
			continue
		}
		if n := m.conflicts[key]; n > 0 {
			m.conflicts[key] = n - 1
			writeError(w, http.StatusConflict, "Node %s is locked by host conductor-1, please retry after the current operation is completed.", node.uuid())
			return true
		}
	}
	return false
}

// findNode looks a node up by UUID or name. Callers hold the lock.
func (m *IronicMock) findNode(id string) *fakeNode {
	if node, ok := m.nodes[id]; ok {
		return node
	}
	for _, node := range m.nodes {
		if node.name() == id && id != "" {
			return node
		}
	}
	return nil
}

func (m *IronicMock) sortedNodes() []*fakeNode {
	nodes := make([]*fakeNode, 0, len(m.nodes))
	for _, n := range m.nodes {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].uuid() < nodes[j].uuid() })
	return nodes
}

func newUUID(fields map[string]any) string {
	if id, ok := fields["uuid"].(string); ok && id != "" {
		return id
	}
	return uuid.NewString()
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func copyMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		if nested, ok := v.(map[string]any); ok {
			v = copyMap(nested)
		}
		out[k] = v
	}
	return out
}

// filterFields keeps only the requested comma separated fields.
func filterFields(item map[string]any, fields string) map[string]any {
	if fields == "" {
		return item
	}
	out := map[string]any{}
	for _, f := range strings.Split(fields, ",") {
		if v, ok := item[f]; ok {
			out[f] = v
		}
	}
	return out
}
