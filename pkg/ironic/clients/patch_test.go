package clients

import (
	"encoding/json"
	"testing"

	"github.com/go-logr/logr/funcr"
	"github.com/gophercloud/gophercloud/v2/openstack/baremetal/v1/nodes"
	"github.com/gophercloud/gophercloud/v2/openstack/baremetal/v1/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/util/sets"
)

var nodeAttributes = sets.New(
	"properties/cpu_arch",
	"properties/cpus",
	"driver",
	"instance_uuid",
	"extra",
	"maintenance",
)

func TestMakePatch(t *testing.T) {
	testCases := []struct {
		Scenario string
		Updates  map[string]any
		Expected []PatchOperation
	}{
		{
			Scenario: "empty",
			Updates:  map[string]any{},
			Expected: nil,
		},
		{
			Scenario: "top level replace",
			Updates:  map[string]any{"driver": "ipmi"},
			Expected: []PatchOperation{{Op: ReplaceOp, Path: "/driver", Value: "ipmi"}},
		},
		{
			Scenario: "nil removes",
			Updates:  map[string]any{"instance_uuid": nil},
			Expected: []PatchOperation{{Op: RemoveOp, Path: "/instance_uuid"}},
		},
		{
			Scenario: "false is replaced not removed",
			Updates:  map[string]any{"maintenance": false},
			Expected: []PatchOperation{{Op: ReplaceOp, Path: "/maintenance", Value: false}},
		},
		{
			Scenario: "nested paths",
			Updates: map[string]any{
				"properties": map[string]any{"cpus": 4, "cpu_arch": "aarch64"},
			},
			Expected: []PatchOperation{
				{Op: ReplaceOp, Path: "/properties/cpu_arch", Value: "aarch64"},
				{Op: ReplaceOp, Path: "/properties/cpus", Value: 4},
			},
		},
		{
			Scenario: "unknown paths dropped",
			Updates: map[string]any{
				"uuid":       "new",
				"properties": map[string]any{"memory_mb": 1024},
				"driver":     "redfish",
			},
			Expected: []PatchOperation{{Op: ReplaceOp, Path: "/driver", Value: "redfish"}},
		},
		{
			Scenario: "allowed map replaced whole",
			Updates:  map[string]any{"extra": map[string]any{"foo": "bar"}},
			Expected: []PatchOperation{{Op: ReplaceOp, Path: "/extra", Value: map[string]any{"foo": "bar"}}},
		},
		{
			Scenario: "sorted by path",
			Updates: map[string]any{
				"properties":    map[string]any{"cpus": nil},
				"instance_uuid": "abc",
				"driver":        "ipmi",
			},
			Expected: []PatchOperation{
				{Op: ReplaceOp, Path: "/driver", Value: "ipmi"},
				{Op: ReplaceOp, Path: "/instance_uuid", Value: "abc"},
				{Op: RemoveOp, Path: "/properties/cpus"},
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.Scenario, func(t *testing.T) {
			assert.Equal(t, tc.Expected, MakePatch(nodeAttributes, tc.Updates))
		})
	}
}

func TestMakePatchLeadingSlashInAllowList(t *testing.T) {
	patch := MakePatch(sets.New("/description"), map[string]any{"description": "d"})
	assert.Equal(t, []string{"/description"}, Paths(patch))
}

func TestPatchOperationJSON(t *testing.T) {
	body, err := json.Marshal([]PatchOperation{
		{Op: ReplaceOp, Path: "/maintenance", Value: false},
		Remove("instance_uuid"),
		Add("/extra/foo", "bar"),
	})
	require.NoError(t, err)
	assert.JSONEq(t, `[
		{"op": "replace", "path": "/maintenance", "value": false},
		{"op": "remove", "path": "/instance_uuid"},
		{"op": "add", "path": "/extra/foo", "value": "bar"}
	]`, string(body))
}

func TestPatchOperationAsNodeUpdate(t *testing.T) {
	var opts nodes.UpdateOpts
	for _, p := range MakePatch(nodeAttributes, map[string]any{"driver": "ipmi", "instance_uuid": nil}) {
		opts = append(opts, p)
	}
	require.Len(t, opts, 2)

	m, err := opts[1].ToNodeUpdateMap()
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"op": "remove", "path": "/instance_uuid"}, m)
}

func TestPatchOperationAsPortUpdate(t *testing.T) {
	var opts ports.UpdateOpts
	for _, p := range MakePatch(sets.New("address", "extra"), map[string]any{"address": "52:54:00:00:00:01", "extra": nil}) {
		opts = append(opts, p)
	}
	require.Len(t, opts, 2)

	assert.Equal(t, map[string]any{"op": "replace", "path": "/address", "value": "52:54:00:00:00:01"}, opts[0].ToPortUpdateMap())
	assert.Equal(t, map[string]any{"op": "remove", "path": "/extra"}, opts[1].ToPortUpdateMap())
}

func TestLogPatchRedactsPasswords(t *testing.T) {
	var lines []string
	log := funcr.New(func(_, args string) { lines = append(lines, args) }, funcr.Options{})

	LogPatch(log, []PatchOperation{
		{Op: ReplaceOp, Path: "/driver_info", Value: map[string]any{"redfish_password": "secret", "redfish_username": "admin"}},
		{Op: ReplaceOp, Path: "/driver_info/ipmi_password", Value: "secret"},
		{Op: RemoveOp, Path: "/instance_uuid"},
	})

	require.Len(t, lines, 3)
	for _, l := range lines {
		assert.NotContains(t, l, "secret")
	}
	assert.Contains(t, lines[0], "admin")
}
