package testserver

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func do(t *testing.T, method, url, version, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body)) // #nosec
	require.NoError(t, err)
	if version != "" {
		req.Header.Set(versionHeader, version)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var payload map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&payload)
	return resp, payload
}

func TestVersionNegotiation(t *testing.T) {
	testCases := []struct {
		Scenario string
		Version  string
		Code     int
		Served   string
	}{
		{Scenario: "no header", Code: http.StatusOK, Served: "1.31"},
		{Scenario: "latest", Version: "latest", Code: http.StatusOK, Served: "1.87"},
		{Scenario: "in range", Version: "1.50", Code: http.StatusOK, Served: "1.50"},
		{Scenario: "too new", Version: "1.88", Code: http.StatusNotAcceptable},
		{Scenario: "too old", Version: "1.30", Code: http.StatusNotAcceptable},
		{Scenario: "malformed", Version: "one", Code: http.StatusBadRequest},
	}

	ironic := NewIronic(t).Versions(31, 87).Start()
	for _, tc := range testCases {
		t.Run(tc.Scenario, func(t *testing.T) {
			resp, _ := do(t, http.MethodGet, ironic.Endpoint()+"nodes", tc.Version, "")
			assert.Equal(t, tc.Code, resp.StatusCode)
			if tc.Served != "" {
				assert.Equal(t, tc.Served, resp.Header.Get(versionHeader))
			}
		})
	}
}

func TestProvisionTransition(t *testing.T) {
	ironic := NewIronic(t).Transitional(1).
		Node(map[string]any{"uuid": "node-1", "provision_state": "manageable"}).
		Start()
	url := ironic.Endpoint() + "nodes/node-1"

	resp, _ := do(t, http.MethodPut, url+"/states/provision", "latest", `{"target": "provide"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	_, node := do(t, http.MethodGet, url, "latest", "")
	assert.Equal(t, "cleaning", node["provision_state"])
	assert.Equal(t, "available", node["target_provision_state"])

	_, node = do(t, http.MethodGet, url, "latest", "")
	assert.Equal(t, "available", node["provision_state"])
	assert.Nil(t, node["target_provision_state"])

	resp, _ = do(t, http.MethodPut, url+"/states/provision", "latest", `{"target": "rescue"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestInjectedConflicts(t *testing.T) {
	ironic := NewIronic(t).
		Node(map[string]any{"uuid": "node-1", "name": "one", "provision_state": "available"}).
		Conflict("one", 1).
		Start()
	url := ironic.Endpoint() + "nodes/node-1"

	resp, _ := do(t, http.MethodGet, url, "latest", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode, "reads are never locked")

	patch := `[{"op": "add", "path": "/description", "value": "x"}]`
	resp, payload := do(t, http.MethodPatch, url, "latest", patch)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, payload["error_message"], "is locked by host")

	resp, _ = do(t, http.MethodPatch, url, "latest", patch)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "x", ironic.GetNode("node-1")["description"])
	assert.Equal(t, 2, ironic.RequestCount(http.MethodPatch, "/v1/nodes/node-1"))
}

func TestFailTarget(t *testing.T) {
	ironic := NewIronic(t).
		Node(map[string]any{"uuid": "node-1", "provision_state": "manageable"}).
		FailTarget("provide", "clean failed", "disk wipe failed").
		Start()

	resp, _ := do(t, http.MethodPut, ironic.Endpoint()+"nodes/node-1/states/provision", "latest", `{"target": "provide"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	node := ironic.GetNode("node-1")
	assert.Equal(t, "clean failed", node["provision_state"])
	assert.Equal(t, "disk wipe failed", node["last_error"])
}

func TestUnknownNode(t *testing.T) {
	ironic := NewIronic(t).Start()

	resp, payload := do(t, http.MethodGet, ironic.Endpoint()+"nodes/missing", "", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, payload, "error_message")
	assert.Contains(t, ironic.Requests, "GET /v1/nodes/missing;")
}
