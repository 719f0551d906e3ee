package baremetal

import (
	"context"
	"net/url"

	"github.com/gophercloud/gophercloud/v2/openstack/baremetal/v1/allocations"
	"github.com/gophercloud/gophercloud/v2/openstack/baremetal/v1/conductors"
	"github.com/gophercloud/gophercloud/v2/openstack/baremetal/v1/drivers"
	"github.com/gophercloud/gophercloud/v2/openstack/baremetal/v1/ports"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/metal3-io/ironic-conformance/pkg/ironic/clients"
)

var (
	// ChassisAttributes are the chassis fields UpdateChassis may change.
	ChassisAttributes = sets.New("description", "extra")
	// PortAttributes are the port fields UpdatePort may change.
	PortAttributes = sets.New("address", "extra", "node_uuid", "portgroup_uuid", "pxe_enabled",
		"physical_network", "local_link_connection", "is_smartnic", "name")
	// AllocationAttributes are the allocation fields UpdateAllocation may
	// change.
	AllocationAttributes = sets.New("name", "extra", "owner")
)

// CreateChassis creates a chassis.
func (c *Client) CreateChassis(ctx context.Context, description string, extra map[string]any) (map[string]any, error) {
	if description == "" {
		description = "test-chassis"
	}
	body := Body{"description": description}
	if extra != nil {
		body["extra"] = extra
	}
	return c.create(ctx, c.resourceURL("chassis"), body)
}

func (c *Client) ShowChassis(ctx context.Context, id string) (map[string]any, error) {
	return c.get(ctx, c.resourceURL("chassis", id))
}

func (c *Client) ListChassis(ctx context.Context, query url.Values) ([]map[string]any, error) {
	return c.list(ctx, "chassis", query, "chassis")
}

// UpdateChassis changes the allow-listed chassis fields.
func (c *Client) UpdateChassis(ctx context.Context, id string, updates map[string]any) (map[string]any, error) {
	return c.patch(ctx, c.resourceURL("chassis", id), clients.MakePatch(ChassisAttributes, updates))
}

func (c *Client) DeleteChassis(ctx context.Context, id string) error {
	return c.delete(ctx, c.resourceURL("chassis", id))
}

// PortCreateOpts describes a port. A nil Extra gets a placeholder value.
type PortCreateOpts struct {
	NodeUUID      string
	Address       string
	PortgroupUUID string
	Extra         map[string]any
	Fields        map[string]any
}

// CreatePort creates a port.
func (c *Client) CreatePort(ctx context.Context, opts PortCreateOpts) (map[string]any, error) {
	extra := opts.Extra
	if extra == nil {
		extra = map[string]any{"foo": "bar"}
	}
	body := Body{
		"node_uuid": opts.NodeUUID,
		"address":   opts.Address,
		"extra":     extra,
	}
	if opts.PortgroupUUID != "" {
		body["portgroup_uuid"] = opts.PortgroupUUID
	}
	for k, v := range opts.Fields {
		body[k] = v
	}
	return c.extract(ports.Create(ctx, c.serviceClient(), body).Result)
}

func (c *Client) ShowPort(ctx context.Context, id string) (map[string]any, error) {
	return c.extract(ports.Get(ctx, c.serviceClient(), id).Result)
}

// ListPorts lists ports, filtered by node, address or portgroup.
func (c *Client) ListPorts(ctx context.Context, query url.Values) ([]map[string]any, error) {
	return c.list(ctx, "ports", query, "ports")
}

// UpdatePort changes the allow-listed port fields.
func (c *Client) UpdatePort(ctx context.Context, id string, updates map[string]any) (map[string]any, error) {
	return c.PatchPort(ctx, id, clients.MakePatch(PortAttributes, updates))
}

// PatchPort sends a raw patch document.
func (c *Client) PatchPort(ctx context.Context, id string, patch []clients.PatchOperation) (map[string]any, error) {
	opts := ports.UpdateOpts{}
	for _, p := range patch {
		opts = append(opts, p)
	}
	return c.extract(ports.Update(ctx, c.serviceClient(), id, opts).Result)
}

func (c *Client) DeletePort(ctx context.Context, id string) error {
	r := ports.Delete(ctx, c.serviceClient(), id)
	if r.Err != nil {
		return r.Err
	}
	return c.checkVersion(r.Header)
}

// CreatePortgroup creates a portgroup on a node.
func (c *Client) CreatePortgroup(ctx context.Context, nodeUUID string, fields map[string]any) (map[string]any, error) {
	body := Body{"node_uuid": nodeUUID}
	for k, v := range fields {
		body[k] = v
	}
	return c.create(ctx, c.resourceURL("portgroups"), body)
}

func (c *Client) ShowPortgroup(ctx context.Context, id string) (map[string]any, error) {
	return c.get(ctx, c.resourceURL("portgroups", id))
}

func (c *Client) ListPortgroups(ctx context.Context, query url.Values) ([]map[string]any, error) {
	return c.list(ctx, "portgroups", query, "portgroups")
}

func (c *Client) PatchPortgroup(ctx context.Context, id string, patch []clients.PatchOperation) (map[string]any, error) {
	return c.patch(ctx, c.resourceURL("portgroups", id), patch)
}

func (c *Client) DeletePortgroup(ctx context.Context, id string) error {
	return c.delete(ctx, c.resourceURL("portgroups", id))
}

// CreateVolumeConnector creates a volume connector on a node.
func (c *Client) CreateVolumeConnector(ctx context.Context, nodeUUID, connectorType, connectorID string, extra map[string]any) (map[string]any, error) {
	body := Body{"node_uuid": nodeUUID, "type": connectorType, "connector_id": connectorID}
	if extra != nil {
		body["extra"] = extra
	}
	return c.create(ctx, c.resourceURL("volume", "connectors"), body)
}

func (c *Client) ShowVolumeConnector(ctx context.Context, id string) (map[string]any, error) {
	return c.get(ctx, c.resourceURL("volume", "connectors", id))
}

func (c *Client) ListVolumeConnectors(ctx context.Context, query url.Values) ([]map[string]any, error) {
	return c.list(ctx, "connectors", query, "volume", "connectors")
}

func (c *Client) PatchVolumeConnector(ctx context.Context, id string, patch []clients.PatchOperation) (map[string]any, error) {
	return c.patch(ctx, c.resourceURL("volume", "connectors", id), patch)
}

func (c *Client) DeleteVolumeConnector(ctx context.Context, id string) error {
	return c.delete(ctx, c.resourceURL("volume", "connectors", id))
}

// CreateVolumeTarget creates a volume target on a node.
func (c *Client) CreateVolumeTarget(ctx context.Context, nodeUUID, volumeType, volumeID string, bootIndex int, extra map[string]any) (map[string]any, error) {
	body := Body{"node_uuid": nodeUUID, "volume_type": volumeType, "volume_id": volumeID, "boot_index": bootIndex}
	if extra != nil {
		body["extra"] = extra
	}
	return c.create(ctx, c.resourceURL("volume", "targets"), body)
}

func (c *Client) ShowVolumeTarget(ctx context.Context, id string) (map[string]any, error) {
	return c.get(ctx, c.resourceURL("volume", "targets", id))
}

func (c *Client) ListVolumeTargets(ctx context.Context, query url.Values) ([]map[string]any, error) {
	return c.list(ctx, "targets", query, "volume", "targets")
}

func (c *Client) PatchVolumeTarget(ctx context.Context, id string, patch []clients.PatchOperation) (map[string]any, error) {
	return c.patch(ctx, c.resourceURL("volume", "targets", id), patch)
}

func (c *Client) DeleteVolumeTarget(ctx context.Context, id string) error {
	return c.delete(ctx, c.resourceURL("volume", "targets", id))
}

// CreateDeployTemplate creates a deploy template. The name must be a
// custom trait.
func (c *Client) CreateDeployTemplate(ctx context.Context, name string, steps []map[string]any, extra map[string]any) (map[string]any, error) {
	body := Body{"name": name, "steps": steps}
	if extra != nil {
		body["extra"] = extra
	}
	return c.create(ctx, c.resourceURL("deploy_templates"), body)
}

func (c *Client) ShowDeployTemplate(ctx context.Context, id string) (map[string]any, error) {
	return c.get(ctx, c.resourceURL("deploy_templates", id))
}

func (c *Client) ListDeployTemplates(ctx context.Context, query url.Values) ([]map[string]any, error) {
	return c.list(ctx, "deploy_templates", query, "deploy_templates")
}

func (c *Client) PatchDeployTemplate(ctx context.Context, id string, patch []clients.PatchOperation) (map[string]any, error) {
	return c.patch(ctx, c.resourceURL("deploy_templates", id), patch)
}

func (c *Client) DeleteDeployTemplate(ctx context.Context, id string) error {
	return c.delete(ctx, c.resourceURL("deploy_templates", id))
}

// CreateRunbook creates a runbook.
func (c *Client) CreateRunbook(ctx context.Context, name string, steps []map[string]any, fields map[string]any) (map[string]any, error) {
	body := Body{"name": name, "steps": steps}
	for k, v := range fields {
		body[k] = v
	}
	return c.create(ctx, c.resourceURL("runbooks"), body)
}

func (c *Client) ShowRunbook(ctx context.Context, id string) (map[string]any, error) {
	return c.get(ctx, c.resourceURL("runbooks", id))
}

func (c *Client) ListRunbooks(ctx context.Context, query url.Values) ([]map[string]any, error) {
	return c.list(ctx, "runbooks", query, "runbooks")
}

func (c *Client) PatchRunbook(ctx context.Context, id string, patch []clients.PatchOperation) (map[string]any, error) {
	return c.patch(ctx, c.resourceURL("runbooks", id), patch)
}

func (c *Client) DeleteRunbook(ctx context.Context, id string) error {
	return c.delete(ctx, c.resourceURL("runbooks", id))
}

// AllocationCreateOpts describes an allocation request.
type AllocationCreateOpts struct {
	UUID           string
	Name           string
	ResourceClass  string
	CandidateNodes []string
	Traits         []string
	Extra          map[string]any
	Owner          string
}

// CreateAllocation requests an allocation. The service processes it
// asynchronously; see waiters.WaitForAllocation.
func (c *Client) CreateAllocation(ctx context.Context, opts AllocationCreateOpts) (map[string]any, error) {
	body := Body{"resource_class": opts.ResourceClass}
	if opts.UUID != "" {
		body["uuid"] = opts.UUID
	}
	if opts.Name != "" {
		body["name"] = opts.Name
	}
	if opts.CandidateNodes != nil {
		body["candidate_nodes"] = opts.CandidateNodes
	}
	if opts.Traits != nil {
		body["traits"] = opts.Traits
	}
	if opts.Extra != nil {
		body["extra"] = opts.Extra
	}
	if opts.Owner != "" {
		body["owner"] = opts.Owner
	}
	allocation, err := c.extract(allocations.Create(ctx, c.serviceClient(), body).Result)
	if err != nil {
		return nil, err
	}
	c.log.Info("created allocation", "allocation", allocation["uuid"], "resourceClass", opts.ResourceClass)
	return allocation, nil
}

func (c *Client) ShowAllocation(ctx context.Context, id string) (map[string]any, error) {
	return c.extract(allocations.Get(ctx, c.serviceClient(), id).Result)
}

// AllocationFetcher returns a function that fetches the allocation, for
// waiters.
func (c *Client) AllocationFetcher(id string) func(context.Context) (map[string]any, error) {
	return func(ctx context.Context) (map[string]any, error) {
		return c.ShowAllocation(ctx, id)
	}
}

func (c *Client) ListAllocations(ctx context.Context, query url.Values) ([]map[string]any, error) {
	return c.list(ctx, "allocations", query, "allocations")
}

// UpdateAllocation changes the allow-listed allocation fields.
func (c *Client) UpdateAllocation(ctx context.Context, id string, updates map[string]any) (map[string]any, error) {
	return c.patch(ctx, c.resourceURL("allocations", id), clients.MakePatch(AllocationAttributes, updates))
}

func (c *Client) DeleteAllocation(ctx context.Context, id string) error {
	r := allocations.Delete(ctx, c.serviceClient(), id)
	if r.Err != nil {
		return r.Err
	}
	return c.checkVersion(r.Header)
}

// ShowNodeAllocation returns the allocation of a node.
func (c *Client) ShowNodeAllocation(ctx context.Context, nodeID string) (map[string]any, error) {
	return c.get(ctx, c.resourceURL("nodes", nodeID, "allocation"))
}

// DeleteNodeAllocation removes the allocation of a node.
func (c *Client) DeleteNodeAllocation(ctx context.Context, nodeID string) error {
	return c.delete(ctx, c.resourceURL("nodes", nodeID, "allocation"))
}

// ListShards lists node shards with their node counts.
func (c *Client) ListShards(ctx context.Context) ([]map[string]any, error) {
	return c.list(ctx, "shards", nil, "shards")
}

func (c *Client) ShowConductor(ctx context.Context, hostname string) (map[string]any, error) {
	return c.extract(conductors.Get(ctx, c.serviceClient(), hostname).Result)
}

func (c *Client) ListConductors(ctx context.Context) ([]map[string]any, error) {
	return c.list(ctx, "conductors", nil, "conductors")
}

func (c *Client) ShowDriver(ctx context.Context, name string) (map[string]any, error) {
	return c.extract(drivers.GetDriverDetails(ctx, c.serviceClient(), name).Result)
}

func (c *Client) ListDrivers(ctx context.Context) ([]map[string]any, error) {
	return c.list(ctx, "drivers", nil, "drivers")
}
