package testserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"sort"
	"strings"
)

type collection struct {
	key     string
	items   map[string]map[string]any
	pending map[string]int
}

type resourceSpec struct {
	path     string
	key      string
	minor    int
	needNode bool
	unique   string
	required []string
	defaults map[string]any
}

var resourceSpecs = []resourceSpec{
	{path: "chassis", key: "chassis", minor: 1, defaults: map[string]any{"description": nil, "extra": map[string]any{}}},
	{path: "ports", key: "ports", minor: 1, needNode: true, unique: "address", required: []string{"address"},
		defaults: map[string]any{"extra": map[string]any{}, "portgroup_uuid": nil, "pxe_enabled": true, "local_link_connection": map[string]any{}, "physical_network": nil}},
	{path: "portgroups", key: "portgroups", minor: 23, needNode: true, unique: "address",
		defaults: map[string]any{"extra": map[string]any{}, "name": nil, "mode": "active-backup", "properties": map[string]any{}, "standalone_ports_supported": true}},
	{path: "volume/connectors", key: "connectors", minor: 32, needNode: true, unique: "connector_id", required: []string{"type", "connector_id"},
		defaults: map[string]any{"extra": map[string]any{}}},
	{path: "volume/targets", key: "targets", minor: 32, needNode: true, required: []string{"volume_type", "volume_id", "boot_index"},
		defaults: map[string]any{"extra": map[string]any{}, "properties": map[string]any{}}},
	{path: "deploy_templates", key: "deploy_templates", minor: 55, unique: "name", required: []string{"name", "steps"},
		defaults: map[string]any{"extra": map[string]any{}}},
	{path: "runbooks", key: "runbooks", minor: 92, unique: "name", required: []string{"name", "steps"},
		defaults: map[string]any{"extra": map[string]any{}, "public": false, "owner": nil}},
}

// collection returns the store for a kind, creating it. Callers hold the
// lock.
func (m *IronicMock) collection(key string) *collection {
	c, ok := m.collections[key]
	if !ok {
		c = &collection{key: key, items: map[string]map[string]any{}, pending: map[string]int{}}
		m.collections[key] = c
	}
	return c
}

func (m *IronicMock) resourceRoutes() {
	for _, spec := range resourceSpecs {
		base := "/v1/" + spec.path
		m.mux.HandleFunc("GET "+base, m.listResources(spec, false))
		m.mux.HandleFunc("GET "+base+"/detail", m.listResources(spec, true))
		m.mux.HandleFunc("POST "+base, m.createResource(spec))
		m.mux.HandleFunc("GET "+base+"/{id}", m.withResource(spec, m.showResource))
		m.mux.HandleFunc("PATCH "+base+"/{id}", m.withResource(spec, m.patchResource))
		m.mux.HandleFunc("DELETE "+base+"/{id}", m.withResource(spec, m.deleteResource))
	}

	allocations := resourceSpec{path: "allocations", key: "allocations", minor: 52, unique: "name"}
	m.mux.HandleFunc("GET /v1/allocations", m.listResources(allocations, true))
	m.mux.HandleFunc("POST /v1/allocations", m.createAllocation)
	m.mux.HandleFunc("GET /v1/allocations/{id}", m.withResource(allocations, m.showAllocation))
	m.mux.HandleFunc("PATCH /v1/allocations/{id}", m.withResource(allocations, m.patchResource))
	m.mux.HandleFunc("DELETE /v1/allocations/{id}", m.withResource(allocations, m.deleteAllocation))

	m.mux.HandleFunc("GET /v1/shards", m.listShards)
	m.mux.HandleFunc("GET /v1/conductors", m.listConductors)
	m.mux.HandleFunc("GET /v1/conductors/{hostname}", m.showConductor)
	m.mux.HandleFunc("GET /v1/drivers", m.listDrivers)
	m.mux.HandleFunc("GET /v1/drivers/{name}", m.showDriver)
}

// find looks up by UUID, then by name. Callers hold the lock.
func (c *collection) find(id string) map[string]any {
	if item, ok := c.items[id]; ok {
		return item
	}
	for _, item := range c.items {
		if name, _ := item["name"].(string); name != "" && name == id {
			return item
		}
	}
	return nil
}

func (c *collection) sorted() []map[string]any {
	items := make([]map[string]any, 0, len(c.items))
	for _, item := range c.items {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool {
		return fmt.Sprint(items[i]["uuid"]) < fmt.Sprint(items[j]["uuid"])
	})
	return items
}

func (m *IronicMock) listResources(spec resourceSpec, detail bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m.logRequest(r, spec.key)
		if !requireVersion(w, r, spec.minor) {
			return
		}
		m.lock.Lock()
		defer m.lock.Unlock()

		query := r.URL.Query()
		result := []any{}
		for _, item := range m.collection(spec.key).sorted() {
			if !m.resourceMatches(item, query) {
				continue
			}
			out := copyMap(item)
			if fields := query.Get("fields"); fields != "" {
				out = filterFields(out, fields)
			} else if !detail {
				out = filterFields(out, "uuid,name,address,description,node_uuid,state,type,connector_id,volume_id,steps")
			}
			result = append(result, out)
		}
		writeJSON(w, http.StatusOK, map[string]any{spec.key: result})
	}
}

func (m *IronicMock) resourceMatches(item map[string]any, query map[string][]string) bool {
	for k, values := range query {
		if len(values) == 0 {
			continue
		}
		v := values[0]
		switch k {
		case "node":
			node := m.findNode(v)
			if node == nil || item["node_uuid"] != node.uuid() {
				return false
			}
		case "address", "portgroup", "resource_class", "state", "owner":
			if fmt.Sprint(item[k]) != v && !(k == "portgroup" && fmt.Sprint(item["portgroup_uuid"]) == v) {
				return false
			}
		}
	}
	return true
}

func (m *IronicMock) createResource(spec resourceSpec) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m.logRequest(r, "create "+spec.key)
		if !requireVersion(w, r, spec.minor) {
			return
		}
		var fields map[string]any
		if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body: %s", err)
			return
		}

		m.lock.Lock()
		defer m.lock.Unlock()

		for _, req := range spec.required {
			if _, ok := fields[req]; !ok {
				writeError(w, http.StatusBadRequest, "Mandatory field missing: %s", req)
				return
			}
		}
		if spec.needNode {
			node := m.findNode(fmt.Sprint(fields["node_uuid"]))
			if node == nil {
				writeError(w, http.StatusBadRequest, "Node %v could not be found.", fields["node_uuid"])
				return
			}
			fields["node_uuid"] = node.uuid()
		}
		if spec.key == "deploy_templates" {
			if name, _ := fields["name"].(string); !strings.HasPrefix(name, "CUSTOM_") {
				writeError(w, http.StatusBadRequest, "Deploy template name must be a valid trait, got %s", name)
				return
			}
		}
		c := m.collection(spec.key)
		if spec.unique != "" && fields[spec.unique] != nil {
			for _, item := range c.items {
				if item[spec.unique] == fields[spec.unique] {
					writeError(w, http.StatusConflict, "A %s with %s %v already exists.", spec.key, spec.unique, fields[spec.unique])
					return
				}
			}
		}
		id := newUUID(fields)
		if c.items[id] != nil {
			writeError(w, http.StatusConflict, "A %s with UUID %s already exists.", spec.key, id)
			return
		}

		item := map[string]any{"uuid": id, "created_at": now(), "updated_at": nil}
		for k, v := range spec.defaults {
			item[k] = v
		}
		for k, v := range fields {
			item[k] = v
		}
		c.items[id] = item
		writeJSON(w, http.StatusCreated, copyMap(item))
	}
}

type resourceHandler func(w http.ResponseWriter, r *http.Request, c *collection, item map[string]any)

func (m *IronicMock) withResource(spec resourceSpec, handler resourceHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m.logRequest(r, spec.key)
		if !requireVersion(w, r, spec.minor) {
			return
		}
		m.lock.Lock()
		defer m.lock.Unlock()

		c := m.collection(spec.key)
		item := c.find(r.PathValue("id"))
		if item == nil {
			writeError(w, http.StatusNotFound, "%s %s could not be found.", spec.key, r.PathValue("id"))
			return
		}
		handler(w, r, c, item)
	}
}

func (m *IronicMock) showResource(w http.ResponseWriter, r *http.Request, _ *collection, item map[string]any) {
	writeJSON(w, http.StatusOK, filterFields(copyMap(item), r.URL.Query().Get("fields")))
}

func (m *IronicMock) patchResource(w http.ResponseWriter, r *http.Request, c *collection, item map[string]any) {
	var ops []map[string]any
	if err := json.NewDecoder(r.Body).Decode(&ops); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid patch: %s", err)
		return
	}
	updated := copyMap(item)
	if err := applyPatch(updated, ops); err != nil {
		writeError(w, http.StatusBadRequest, "%s", err)
		return
	}
	if updated["uuid"] != item["uuid"] {
		writeError(w, http.StatusBadRequest, "'/uuid' is an internal attribute and can not be updated")
		return
	}
	updated["updated_at"] = now()
	c.items[fmt.Sprint(item["uuid"])] = updated
	writeJSON(w, http.StatusOK, copyMap(updated))
}

func (m *IronicMock) deleteResource(w http.ResponseWriter, _ *http.Request, c *collection, item map[string]any) {
	id := fmt.Sprint(item["uuid"])
	if c.key == "chassis" {
		for _, node := range m.nodes {
			if node.data["chassis_uuid"] == id {
				writeError(w, http.StatusBadRequest, "Chassis %s contains nodes.", id)
				return
			}
		}
	}
	delete(c.items, id)
	w.WriteHeader(http.StatusNoContent)
}

func (m *IronicMock) createAllocation(w http.ResponseWriter, r *http.Request) {
	m.logRequest(r, "create allocation")
	if !requireVersion(w, r, 52) {
		return
	}
	var fields map[string]any
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: %s", err)
		return
	}

	m.lock.Lock()
	defer m.lock.Unlock()

	if fields["resource_class"] == nil && fields["node"] == nil {
		writeError(w, http.StatusBadRequest, "Mandatory field missing: resource_class")
		return
	}
	c := m.collection("allocations")
	if name, _ := fields["name"].(string); name != "" && c.find(name) != nil {
		writeError(w, http.StatusConflict, "An allocation with name %s already exists.", name)
		return
	}
	for _, candidate := range anyStrings(fields["candidate_nodes"]) {
		if m.findNode(candidate) == nil {
			writeError(w, http.StatusBadRequest, "Candidate node %s could not be found.", candidate)
			return
		}
	}

	id := newUUID(fields)
	allocation := map[string]any{
		"uuid":            id,
		"name":            fields["name"],
		"resource_class":  fields["resource_class"],
		"candidate_nodes": fields["candidate_nodes"],
		"traits":          fields["traits"],
		"extra":           fields["extra"],
		"owner":           fields["owner"],
		"state":           "allocating",
		"node_uuid":       nil,
		"last_error":      nil,
		"created_at":      now(),
		"updated_at":      nil,
	}
	if allocation["candidate_nodes"] == nil {
		allocation["candidate_nodes"] = []any{}
	}
	if allocation["traits"] == nil {
		allocation["traits"] = []any{}
	}
	if allocation["extra"] == nil {
		allocation["extra"] = map[string]any{}
	}
	c.items[id] = allocation
	c.pending[id] = m.transitional
	writeJSON(w, http.StatusCreated, copyMap(allocation))
}

func (m *IronicMock) showAllocation(w http.ResponseWriter, r *http.Request, c *collection, item map[string]any) {
	id := fmt.Sprint(item["uuid"])
	if item["state"] == "allocating" {
		if c.pending[id] > 0 {
			c.pending[id]--
		} else {
			m.processAllocation(item)
		}
	}
	writeJSON(w, http.StatusOK, filterFields(copyMap(item), r.URL.Query().Get("fields")))
}

// processAllocation picks the first matching node. Callers hold the lock.
func (m *IronicMock) processAllocation(allocation map[string]any) {
	candidates := anyStrings(allocation["candidate_nodes"])
	traits := anyStrings(allocation["traits"])
	for _, node := range m.sortedNodes() {
		if len(candidates) > 0 && !slices.Contains(candidates, node.uuid()) && !slices.Contains(candidates, node.name()) {
			continue
		}
		if node.state() != "available" || node.data["instance_uuid"] != nil ||
			node.data["allocation_uuid"] != nil || node.data["maintenance"] == true {
			continue
		}
		if node.data["resource_class"] != allocation["resource_class"] {
			continue
		}
		nodeTraits := anyStrings(node.data["traits"])
		if !containsAll(nodeTraits, traits) {
			continue
		}
		allocation["state"] = "active"
		allocation["node_uuid"] = node.uuid()
		node.data["allocation_uuid"] = allocation["uuid"]
		node.data["instance_uuid"] = allocation["uuid"]
		return
	}
	allocation["state"] = "error"
	allocation["last_error"] = fmt.Sprintf("Failed to process allocation %s: no available nodes match the resource class %v.",
		allocation["uuid"], allocation["resource_class"])
}

func (m *IronicMock) deleteAllocation(w http.ResponseWriter, _ *http.Request, _ *collection, item map[string]any) {
	m.releaseAllocation(fmt.Sprint(item["uuid"]))
	w.WriteHeader(http.StatusNoContent)
}

// releaseAllocation deletes an allocation and frees its node. Callers hold
// the lock.
func (m *IronicMock) releaseAllocation(id string) {
	c := m.collection("allocations")
	allocation := c.items[id]
	if allocation == nil {
		return
	}
	if node := m.findNode(fmt.Sprint(allocation["node_uuid"])); node != nil {
		node.data["allocation_uuid"] = nil
		if node.data["instance_uuid"] == id {
			node.data["instance_uuid"] = nil
		}
	}
	delete(c.items, id)
	delete(c.pending, id)
}

func (m *IronicMock) listShards(w http.ResponseWriter, r *http.Request) {
	m.logRequest(r, "shards")
	if !requireVersion(w, r, 82) {
		return
	}
	m.lock.Lock()
	defer m.lock.Unlock()

	counts := map[string]int{}
	for _, node := range m.nodes {
		if shard, ok := node.data["shard"].(string); ok && shard != "" {
			counts[shard]++
		}
	}
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)
	shards := []any{}
	for _, name := range names {
		shards = append(shards, map[string]any{"name": name, "count": counts[name]})
	}
	writeJSON(w, http.StatusOK, map[string]any{"shards": shards})
}

func (m *IronicMock) listConductors(w http.ResponseWriter, r *http.Request) {
	m.logRequest(r, "conductors")
	if !requireVersion(w, r, 49) {
		return
	}
	conductors := []any{}
	for _, c := range m.conductors {
		conductors = append(conductors, c)
	}
	writeJSON(w, http.StatusOK, map[string]any{"conductors": conductors})
}

func (m *IronicMock) showConductor(w http.ResponseWriter, r *http.Request) {
	m.logRequest(r, "conductor")
	if !requireVersion(w, r, 49) {
		return
	}
	for _, c := range m.conductors {
		if c["hostname"] == r.PathValue("hostname") {
			writeJSON(w, http.StatusOK, c)
			return
		}
	}
	writeError(w, http.StatusNotFound, "Conductor %s could not be found.", r.PathValue("hostname"))
}

func (m *IronicMock) listDrivers(w http.ResponseWriter, r *http.Request) {
	m.logRequest(r, "drivers")
	drivers := []any{}
	for _, d := range m.drivers {
		drivers = append(drivers, d)
	}
	writeJSON(w, http.StatusOK, map[string]any{"drivers": drivers})
}

func (m *IronicMock) showDriver(w http.ResponseWriter, r *http.Request) {
	m.logRequest(r, "driver")
	for _, d := range m.drivers {
		if d["name"] == r.PathValue("name") {
			writeJSON(w, http.StatusOK, d)
			return
		}
	}
	writeError(w, http.StatusNotFound, "Could not find the following driver(s) or hardware type(s): %s.", r.PathValue("name"))
}

// applyPatch applies JSON patch operations in place.
func applyPatch(doc map[string]any, ops []map[string]any) error {
	for _, op := range ops {
		path, _ := op["path"].(string)
		segments := strings.Split(strings.Trim(path, "/"), "/")
		if len(segments) == 0 || segments[0] == "" {
			return fmt.Errorf("invalid patch path %q", path)
		}
		parent := doc
		for _, s := range segments[:len(segments)-1] {
			next, ok := parent[s].(map[string]any)
			if !ok {
				if op["op"] == "remove" {
					return fmt.Errorf("can't remove non-existent object '%s'", s)
				}
				next = map[string]any{}
				parent[s] = next
			}
			parent = next
		}
		last := segments[len(segments)-1]

		switch op["op"] {
		case "add", "replace":
			value, ok := op["value"]
			if !ok {
				return fmt.Errorf("'value' is required for %s of %s", op["op"], path)
			}
			parent[last] = value
		case "remove":
			if _, ok := parent[last]; !ok {
				return fmt.Errorf("can't remove non-existent object '%s'", last)
			}
			if len(segments) == 1 {
				parent[last] = nil
			} else {
				delete(parent, last)
			}
		default:
			return fmt.Errorf("unsupported patch operation %v", op["op"])
		}
	}
	return nil
}

func anyStrings(v any) []string {
	list, _ := v.([]any)
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func containsAll(have, want []string) bool {
	for _, w := range want {
		if !slices.Contains(have, w) {
			return false
		}
	}
	return true
}
