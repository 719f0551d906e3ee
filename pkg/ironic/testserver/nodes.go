package testserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strings"
)

var nodeInterfaces = []string{"bios", "boot", "console", "deploy", "firmware", "inspect", "management", "network", "power", "raid", "rescue", "storage", "vendor"}

type fakeNode struct {
	data       map[string]any
	pending    int
	final      string
	bootDevice map[string]any
	vifs       []string
}

func newFakeNode(fields map[string]any) *fakeNode {
	data := map[string]any{
		"uuid":                   newUUID(fields),
		"name":                   nil,
		"driver":                 "fake-hardware",
		"provision_state":        "enroll",
		"target_provision_state": nil,
		"power_state":            nil,
		"target_power_state":     nil,
		"maintenance":            false,
		"maintenance_reason":     nil,
		"instance_uuid":          nil,
		"allocation_uuid":        nil,
		"resource_class":         nil,
		"chassis_uuid":           nil,
		"last_error":             nil,
		"protected":              false,
		"protected_reason":       nil,
		"description":            nil,
		"shard":                  nil,
		"owner":                  nil,
		"lessee":                 nil,
		"conductor_group":        "",
		"properties":             map[string]any{},
		"extra":                  map[string]any{},
		"instance_info":          map[string]any{},
		"driver_info":            map[string]any{},
		"driver_internal_info":   map[string]any{},
		"traits":                 []any{},
		"target_raid_config":     map[string]any{},
		"raid_config":            map[string]any{},
		"created_at":             now(),
		"updated_at":             nil,
	}
	for _, iface := range nodeInterfaces {
		data[iface+"_interface"] = "fake"
	}
	for k, v := range fields {
		data[k] = v
	}
	return &fakeNode{
		data:       data,
		bootDevice: map[string]any{"boot_device": nil, "persistent": nil},
	}
}

func (n *fakeNode) uuid() string {
	id, _ := n.data["uuid"].(string)
	return id
}

func (n *fakeNode) name() string {
	name, _ := n.data["name"].(string)
	return name
}

func (n *fakeNode) state() string {
	state, _ := n.data["provision_state"].(string)
	return state
}

// read returns the node as a client would see it on this read, moving a
// pending transition along.
func (n *fakeNode) read() map[string]any {
	if n.pending > 0 {
		n.pending--
	} else if n.final != "" {
		n.data["provision_state"] = n.final
		n.data["target_provision_state"] = nil
		n.final = ""
	}
	return copyMap(n.data)
}

func (n *fakeNode) transition(transient, final string, delay int) {
	if delay <= 0 {
		n.data["provision_state"] = final
		n.data["target_provision_state"] = nil
		return
	}
	n.data["provision_state"] = transient
	n.data["target_provision_state"] = final
	n.final = final
	n.pending = delay
}

var listFields = []string{"uuid", "name", "instance_uuid", "power_state", "provision_state", "maintenance"}

// Allowed source states, transient state and final state per target.
var provisionTransitions = map[string]struct {
	from      []string
	transient string
	final     string
}{
	"manage":   {from: []string{"enroll", "available", "inspect failed", "clean failed", "adopt failed"}, transient: "verifying", final: "manageable"},
	"provide":  {from: []string{"manageable", "clean failed"}, transient: "cleaning", final: "available"},
	"active":   {from: []string{"available", "deploy failed"}, transient: "deploying", final: "active"},
	"deploy":   {from: []string{"available", "deploy failed"}, transient: "deploying", final: "active"},
	"rebuild":  {from: []string{"active"}, transient: "deploying", final: "active"},
	"deleted":  {from: []string{"active", "deploy failed", "error", "rescue", "rescue failed", "unrescue failed"}, transient: "deleting", final: "available"},
	"undeploy": {from: []string{"active", "deploy failed", "error", "rescue", "rescue failed", "unrescue failed"}, transient: "deleting", final: "available"},
	"clean":    {from: []string{"manageable"}, transient: "cleaning", final: "manageable"},
	"inspect":  {from: []string{"manageable", "inspect failed"}, transient: "inspecting", final: "manageable"},
	"rescue":   {from: []string{"active", "rescue"}, transient: "rescuing", final: "rescue"},
	"unrescue": {from: []string{"rescue"}, transient: "unrescuing", final: "active"},
	"adopt":    {from: []string{"manageable", "adopt failed"}, transient: "adopting", final: "active"},
}

// States where a node can only be deleted in maintenance.
var protectedStates = []string{"active", "deploying", "wait call-back", "cleaning", "clean wait", "inspecting", "rescue", "rescuing", "deleting"}

func (m *IronicMock) nodeRoutes() {
	m.mux.HandleFunc("GET /v1/nodes", m.listNodes(false))
	m.mux.HandleFunc("GET /v1/nodes/detail", m.listNodes(true))
	m.mux.HandleFunc("POST /v1/nodes", m.createNode)
	m.mux.HandleFunc("GET /v1/nodes/{id}", m.withNode(m.showNode))
	m.mux.HandleFunc("PATCH /v1/nodes/{id}", m.withNode(m.patchNode))
	m.mux.HandleFunc("DELETE /v1/nodes/{id}", m.withNode(m.deleteNode))
	m.mux.HandleFunc("GET /v1/nodes/{id}/states", m.withNode(m.nodeStates))
	m.mux.HandleFunc("PUT /v1/nodes/{id}/states/provision", m.withNode(m.setProvisionState))
	m.mux.HandleFunc("PUT /v1/nodes/{id}/states/power", m.withNode(m.setPowerState))
	m.mux.HandleFunc("PUT /v1/nodes/{id}/states/raid", m.withNode(m.setRAIDConfig))
	m.mux.HandleFunc("GET /v1/nodes/{id}/validate", m.withNode(m.validateNode))
	m.mux.HandleFunc("GET /v1/nodes/{id}/management/boot_device", m.withNode(m.getBootDevice))
	m.mux.HandleFunc("PUT /v1/nodes/{id}/management/boot_device", m.withNode(m.setBootDevice))
	m.mux.HandleFunc("PUT /v1/nodes/{id}/maintenance", m.withNode(m.setMaintenance(true)))
	m.mux.HandleFunc("DELETE /v1/nodes/{id}/maintenance", m.withNode(m.setMaintenance(false)))
	m.mux.HandleFunc("GET /v1/nodes/{id}/traits", m.withNode(m.listTraits))
	m.mux.HandleFunc("PUT /v1/nodes/{id}/traits", m.withNode(m.setTraits))
	m.mux.HandleFunc("DELETE /v1/nodes/{id}/traits", m.withNode(m.removeTraits))
	m.mux.HandleFunc("PUT /v1/nodes/{id}/traits/{trait}", m.withNode(m.addTrait))
	m.mux.HandleFunc("DELETE /v1/nodes/{id}/traits/{trait}", m.withNode(m.removeTrait))
	m.mux.HandleFunc("GET /v1/nodes/{id}/vifs", m.withNode(m.listVIFs))
	m.mux.HandleFunc("POST /v1/nodes/{id}/vifs", m.withNode(m.attachVIF))
	m.mux.HandleFunc("DELETE /v1/nodes/{id}/vifs/{vif}", m.withNode(m.detachVIF))
	m.mux.HandleFunc("GET /v1/nodes/{id}/inventory", m.withNode(m.getInventory))
	m.mux.HandleFunc("GET /v1/nodes/{id}/allocation", m.withNode(m.getNodeAllocation))
	m.mux.HandleFunc("DELETE /v1/nodes/{id}/allocation", m.withNode(m.deleteNodeAllocation))
}

type nodeHandler func(w http.ResponseWriter, r *http.Request, node *fakeNode)

// withNode resolves {id}, takes the lock, and applies injected conflicts
// to writes.
func (m *IronicMock) withNode(handler nodeHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m.logRequest(r, "node")
		m.lock.Lock()
		defer m.lock.Unlock()

		node := m.findNode(r.PathValue("id"))
		if node == nil {
			writeError(w, http.StatusNotFound, "Node %s could not be found.", r.PathValue("id"))
			return
		}
		if r.Method != http.MethodGet && m.takeConflict(w, node) {
			return
		}
		handler(w, r, node)
	}
}

func (m *IronicMock) listNodes(detail bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m.logRequest(r, "nodes")
		m.lock.Lock()
		defer m.lock.Unlock()

		query := r.URL.Query()
		if query.Has("shard") && !requireVersion(w, r, 82) {
			return
		}
		result := []any{}
		for _, node := range m.sortedNodes() {
			if !nodeMatches(node.data, query) {
				continue
			}
			item := copyMap(node.data)
			switch {
			case query.Get("fields") != "":
				item = filterFields(item, query.Get("fields"))
			case !detail:
				item = filterFields(item, strings.Join(listFields, ","))
			}
			result = append(result, item)
		}
		writeJSON(w, http.StatusOK, map[string]any{"nodes": result})
	}
}

func nodeMatches(node map[string]any, query map[string][]string) bool {
	get := func(k string) (string, bool) {
		v, ok := query[k]
		if !ok || len(v) == 0 {
			return "", false
		}
		return v[0], true
	}
	for _, k := range []string{"provision_state", "resource_class", "shard", "driver", "instance_uuid", "conductor_group", "owner"} {
		if v, ok := get(k); ok && fmt.Sprint(node[k]) != v {
			return false
		}
	}
	if v, ok := get("associated"); ok {
		associated := node["instance_uuid"] != nil
		if associated != (strings.EqualFold(v, "true")) {
			return false
		}
	}
	if v, ok := get("maintenance"); ok {
		if node["maintenance"] != strings.EqualFold(v, "true") {
			return false
		}
	}
	return true
}

func (m *IronicMock) createNode(w http.ResponseWriter, r *http.Request) {
	m.logRequest(r, "create node")
	var fields map[string]any
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: %s", err)
		return
	}

	m.lock.Lock()
	defer m.lock.Unlock()

	driver, _ := fields["driver"].(string)
	if driver == "" {
		writeError(w, http.StatusBadRequest, "Mandatory field missing: driver")
		return
	}
	if len(m.drivers) > 0 && !slices.ContainsFunc(m.drivers, func(d map[string]any) bool { return d["name"] == driver }) {
		writeError(w, http.StatusBadRequest, "Could not find the following driver(s) or hardware type(s): %s.", driver)
		return
	}
	if name, _ := fields["name"].(string); name != "" && m.findNode(name) != nil {
		writeError(w, http.StatusConflict, "A node with name %s already exists.", name)
		return
	}
	if id, _ := fields["uuid"].(string); id != "" && m.nodes[id] != nil {
		writeError(w, http.StatusConflict, "A node with UUID %s already exists.", id)
		return
	}

	node := newFakeNode(fields)
	m.nodes[node.uuid()] = node
	writeJSON(w, http.StatusCreated, copyMap(node.data))
}

func (m *IronicMock) showNode(w http.ResponseWriter, r *http.Request, node *fakeNode) {
	data := node.read()
	writeJSON(w, http.StatusOK, filterFields(data, r.URL.Query().Get("fields")))
}

var readOnlyNodeFields = []string{"uuid", "provision_state", "target_provision_state", "power_state", "target_power_state", "created_at", "updated_at", "allocation_uuid", "traits"}

func (m *IronicMock) patchNode(w http.ResponseWriter, r *http.Request, node *fakeNode) {
	var ops []map[string]any
	if err := json.NewDecoder(r.Body).Decode(&ops); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid patch: %s", err)
		return
	}
	for _, op := range ops {
		path, _ := op["path"].(string)
		field := strings.SplitN(strings.TrimPrefix(path, "/"), "/", 2)[0]
		if slices.Contains(readOnlyNodeFields, field) {
			writeError(w, http.StatusBadRequest, "'/%s' is an internal attribute and can not be updated", field)
			return
		}
		if field == "instance_uuid" && op["op"] != "remove" {
			current := node.data["instance_uuid"]
			if current != nil && current != op["value"] {
				writeError(w, http.StatusConflict, "Node %s is associated with instance %s.", node.uuid(), current)
				return
			}
		}
	}

	updated := copyMap(node.data)
	if err := applyPatch(updated, ops); err != nil {
		writeError(w, http.StatusBadRequest, "%s", err)
		return
	}
	updated["updated_at"] = now()
	node.data = updated
	writeJSON(w, http.StatusOK, copyMap(node.data))
}

func (m *IronicMock) deleteNode(w http.ResponseWriter, _ *http.Request, node *fakeNode) {
	if node.data["instance_uuid"] != nil {
		writeError(w, http.StatusConflict, "Node %s is associated with instance %s.", node.uuid(), node.data["instance_uuid"])
		return
	}
	if slices.Contains(protectedStates, node.state()) && node.data["maintenance"] != true {
		writeError(w, http.StatusConflict, "Can not delete node %s while it is in provision state %q.", node.uuid(), node.state())
		return
	}
	delete(m.nodes, node.uuid())
	if ports, ok := m.collections["ports"]; ok {
		for id, port := range ports.items {
			if port["node_uuid"] == node.uuid() {
				delete(ports.items, id)
			}
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (m *IronicMock) nodeStates(w http.ResponseWriter, _ *http.Request, node *fakeNode) {
	data := node.read()
	writeJSON(w, http.StatusOK, filterFields(data,
		"provision_state,target_provision_state,power_state,target_power_state,last_error,console_enabled"))
}

func (m *IronicMock) setProvisionState(w http.ResponseWriter, r *http.Request, node *fakeNode) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: %s", err)
		return
	}
	target, _ := body["target"].(string)
	transition, ok := provisionTransitions[target]
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid target %q", target)
		return
	}
	// Settle any transition still in flight first.
	node.pending = 0
	node.read()
	if !slices.Contains(transition.from, node.state()) {
		writeError(w, http.StatusBadRequest,
			"The requested action %q can not be performed on node %q while it is in state %q.",
			target, node.uuid(), node.state())
		return
	}
	switch target {
	case "rescue":
		if body["rescue_password"] == nil {
			writeError(w, http.StatusBadRequest, "A rescue password is required when rescuing a node.")
			return
		}
	case "clean":
		if body["clean_steps"] == nil && body["runbook"] == nil {
			writeError(w, http.StatusBadRequest, "\"clean_steps\" or \"runbook\" is required when setting target provision state to clean")
			return
		}
	}

	if f, failed := m.failures[target]; failed {
		node.data["provision_state"] = f.state
		node.data["target_provision_state"] = nil
		node.data["last_error"] = f.lastError
		w.WriteHeader(http.StatusAccepted)
		return
	}

	node.data["last_error"] = nil
	if target == "clean" {
		applyRAIDSteps(node, body["clean_steps"])
	}
	node.transition(transition.transient, transition.final, m.transitional)
	switch target {
	case "active", "deploy":
		if body["configdrive"] != nil {
			node.data["instance_info"].(map[string]any)["configdrive"] = "******"
		}
		node.data["power_state"] = "power on"
	case "deleted", "undeploy":
		node.data["instance_info"] = map[string]any{}
		node.data["power_state"] = "power off"
	}
	w.WriteHeader(http.StatusAccepted)
}

func (m *IronicMock) setRAIDConfig(w http.ResponseWriter, r *http.Request, node *fakeNode) {
	if !requireVersion(w, r, 12) {
		return
	}
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: %s", err)
		return
	}
	node.data["target_raid_config"] = body
	w.WriteHeader(http.StatusNoContent)
}

// applyRAIDSteps mimics the raid clean steps on raid_config.
func applyRAIDSteps(node *fakeNode, steps any) {
	list, _ := steps.([]any)
	for _, item := range list {
		step, _ := item.(map[string]any)
		if step["interface"] != "raid" {
			continue
		}
		switch step["step"] {
		case "delete_configuration":
			node.data["raid_config"] = map[string]any{}
		case "create_configuration":
			node.data["raid_config"] = node.data["target_raid_config"]
		}
	}
}

func (m *IronicMock) setPowerState(w http.ResponseWriter, r *http.Request, node *fakeNode) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: %s", err)
		return
	}
	switch target, _ := body["target"].(string); target {
	case "power on", "rebooting", "soft rebooting":
		node.data["power_state"] = "power on"
	case "power off", "soft power off":
		node.data["power_state"] = "power off"
	default:
		writeError(w, http.StatusBadRequest, "Invalid power state target %q", target)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (m *IronicMock) validateNode(w http.ResponseWriter, _ *http.Request, _ *fakeNode) {
	result := map[string]any{}
	for _, iface := range nodeInterfaces {
		result[iface] = map[string]any{"result": true}
	}
	writeJSON(w, http.StatusOK, result)
}

func (m *IronicMock) getBootDevice(w http.ResponseWriter, _ *http.Request, node *fakeNode) {
	writeJSON(w, http.StatusOK, node.bootDevice)
}

func (m *IronicMock) setBootDevice(w http.ResponseWriter, r *http.Request, node *fakeNode) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: %s", err)
		return
	}
	persistent, _ := body["persistent"].(bool)
	node.bootDevice = map[string]any{"boot_device": body["boot_device"], "persistent": persistent}
	w.WriteHeader(http.StatusNoContent)
}

func (m *IronicMock) setMaintenance(on bool) nodeHandler {
	return func(w http.ResponseWriter, r *http.Request, node *fakeNode) {
		node.data["maintenance"] = on
		node.data["maintenance_reason"] = nil
		if on {
			var body map[string]any
			if json.NewDecoder(r.Body).Decode(&body) == nil {
				node.data["maintenance_reason"] = body["reason"]
			}
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

func (m *IronicMock) listTraits(w http.ResponseWriter, _ *http.Request, node *fakeNode) {
	writeJSON(w, http.StatusOK, map[string]any{"traits": node.data["traits"]})
}

func (m *IronicMock) setTraits(w http.ResponseWriter, r *http.Request, node *fakeNode) {
	var body struct {
		Traits []any `json:"traits"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: %s", err)
		return
	}
	if body.Traits == nil {
		body.Traits = []any{}
	}
	node.data["traits"] = body.Traits
	w.WriteHeader(http.StatusNoContent)
}

func (m *IronicMock) removeTraits(w http.ResponseWriter, _ *http.Request, node *fakeNode) {
	node.data["traits"] = []any{}
	w.WriteHeader(http.StatusNoContent)
}

func (m *IronicMock) addTrait(w http.ResponseWriter, r *http.Request, node *fakeNode) {
	traits, _ := node.data["traits"].([]any)
	trait := r.PathValue("trait")
	if !slices.Contains(traits, any(trait)) {
		node.data["traits"] = append(traits, trait)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (m *IronicMock) removeTrait(w http.ResponseWriter, r *http.Request, node *fakeNode) {
	traits, _ := node.data["traits"].([]any)
	trait := r.PathValue("trait")
	i := slices.Index(traits, any(trait))
	if i < 0 {
		writeError(w, http.StatusNotFound, "Node %s doesn't have a trait %s", node.uuid(), trait)
		return
	}
	node.data["traits"] = slices.Delete(slices.Clone(traits), i, i+1)
	w.WriteHeader(http.StatusNoContent)
}

func (m *IronicMock) listVIFs(w http.ResponseWriter, _ *http.Request, node *fakeNode) {
	vifs := []any{}
	for _, v := range node.vifs {
		vifs = append(vifs, map[string]any{"id": v})
	}
	writeJSON(w, http.StatusOK, map[string]any{"vifs": vifs})
}

func (m *IronicMock) attachVIF(w http.ResponseWriter, r *http.Request, node *fakeNode) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: %s", err)
		return
	}
	id, _ := body["id"].(string)
	if slices.Contains(node.vifs, id) {
		writeError(w, http.StatusConflict, "Unable to attach VIF %s, it is already attached", id)
		return
	}
	node.vifs = append(node.vifs, id)
	w.WriteHeader(http.StatusNoContent)
}

func (m *IronicMock) detachVIF(w http.ResponseWriter, r *http.Request, node *fakeNode) {
	i := slices.Index(node.vifs, r.PathValue("vif"))
	if i < 0 {
		writeError(w, http.StatusBadRequest, "Unable to detach VIF %s, it is not attached", r.PathValue("vif"))
		return
	}
	node.vifs = slices.Delete(node.vifs, i, i+1)
	w.WriteHeader(http.StatusNoContent)
}

func (m *IronicMock) getInventory(w http.ResponseWriter, r *http.Request, node *fakeNode) {
	if !requireVersion(w, r, 81) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"inventory": map[string]any{
			"cpu":    map[string]any{"count": node.data["properties"].(map[string]any)["cpus"]},
			"memory": map[string]any{"physical_mb": node.data["properties"].(map[string]any)["memory_mb"]},
		},
		"plugin_data": map[string]any{},
	})
}

func (m *IronicMock) getNodeAllocation(w http.ResponseWriter, r *http.Request, node *fakeNode) {
	if !requireVersion(w, r, 52) {
		return
	}
	allocation := m.collection("allocations").items[fmt.Sprint(node.data["allocation_uuid"])]
	if allocation == nil {
		writeError(w, http.StatusNotFound, "Node %s is not associated with any allocation.", node.uuid())
		return
	}
	writeJSON(w, http.StatusOK, allocation)
}

func (m *IronicMock) deleteNodeAllocation(w http.ResponseWriter, r *http.Request, node *fakeNode) {
	if !requireVersion(w, r, 52) {
		return
	}
	id := fmt.Sprint(node.data["allocation_uuid"])
	if m.collection("allocations").items[id] == nil {
		writeError(w, http.StatusNotFound, "Node %s is not associated with any allocation.", node.uuid())
		return
	}
	m.releaseAllocation(id)
	w.WriteHeader(http.StatusNoContent)
}
