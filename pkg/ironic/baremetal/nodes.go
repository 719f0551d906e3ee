package baremetal

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gophercloud/gophercloud/v2/openstack/baremetal/v1/nodes"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/metal3-io/ironic-conformance/pkg/ironic/clients"
)

// SupportedInterfaces are the hardware interfaces a test may set on a node.
var SupportedInterfaces = []string{"bios", "deploy", "rescue", "boot", "raid", "management", "power", "inspect"}

// NodeAttributes are the node fields UpdateNode may change.
var NodeAttributes = func() sets.Set[string] {
	s := sets.New(
		"properties/cpu_arch",
		"properties/cpus",
		"properties/local_gb",
		"properties/memory_mb",
		"driver",
		"instance_uuid",
		"resource_class",
		"protected",
		"protected_reason",
		"maintenance",
		"description",
		"shard",
		"extra",
		"name",
		"owner",
		"lessee",
		"conductor_group",
	)
	for _, iface := range SupportedInterfaces {
		s.Insert(iface + "_interface")
	}
	return s
}()

// NodeCreateOpts describes a node to enroll. Zero values get the
// defaults of a small fake machine.
type NodeCreateOpts struct {
	UUID          string
	Name          string
	ChassisUUID   string
	Driver        string
	ResourceClass string
	CPUArch       string
	CPUs          int
	LocalGB       int
	MemoryMB      int
	Description   string
	Shard         string
	Owner         string
	// Interfaces maps an interface name such as "deploy" to its
	// implementation.
	Interfaces map[string]string
	DriverInfo map[string]any
	Extra      map[string]any
}

func (o NodeCreateOpts) body(defaultDriver string) Body {
	orDefault := func(v, d int) int {
		if v == 0 {
			return d
		}
		return v
	}
	cpuArch := o.CPUArch
	if cpuArch == "" {
		cpuArch = "x86_64"
	}
	driver := o.Driver
	if driver == "" {
		driver = defaultDriver
	}

	body := Body{
		"driver": driver,
		"properties": map[string]any{
			"cpu_arch":  cpuArch,
			"cpus":      orDefault(o.CPUs, 8),
			"local_gb":  orDefault(o.LocalGB, 1024),
			"memory_mb": orDefault(o.MemoryMB, 4096),
		},
	}
	optional := map[string]string{
		"uuid":           o.UUID,
		"name":           o.Name,
		"chassis_uuid":   o.ChassisUUID,
		"resource_class": o.ResourceClass,
		"description":    o.Description,
		"shard":          o.Shard,
		"owner":          o.Owner,
	}
	for k, v := range optional {
		if v != "" {
			body[k] = v
		}
	}
	for _, iface := range SupportedInterfaces {
		if impl, ok := o.Interfaces[iface]; ok {
			body[iface+"_interface"] = impl
		}
	}
	if o.DriverInfo != nil {
		body["driver_info"] = o.DriverInfo
	}
	if o.Extra != nil {
		body["extra"] = o.Extra
	}
	return body
}

// CreateNode enrolls a node.
func (c *Client) CreateNode(ctx context.Context, opts NodeCreateOpts) (map[string]any, error) {
	node, err := c.extract(nodes.Create(ctx, c.serviceClient(), opts.body(c.driver)).Result)
	if err != nil {
		return nil, err
	}
	c.log.Info("created node", "node", node["uuid"])
	return node, nil
}

// ShowNode fetches a node by UUID or name.
func (c *Client) ShowNode(ctx context.Context, id string) (map[string]any, error) {
	return c.extract(nodes.Get(ctx, c.serviceClient(), id).Result)
}

// NodeFetcher returns a function that fetches the node, for waiters.
func (c *Client) NodeFetcher(id string) func(context.Context) (map[string]any, error) {
	return func(ctx context.Context) (map[string]any, error) {
		return c.ShowNode(ctx, id)
	}
}

// ListNodesOpts filters a node listing.
type ListNodesOpts struct {
	ProvisionState string
	Associated     *bool
	Maintenance    *bool
	ResourceClass  string
	Shard          string
	Driver         string
	InstanceUUID   string
	Fields         []string
	Detail         bool
}

func (o ListNodesOpts) query() url.Values {
	q := url.Values{}
	set := func(k, v string) {
		if v != "" {
			q.Set(k, v)
		}
	}
	set("provision_state", o.ProvisionState)
	set("resource_class", o.ResourceClass)
	set("shard", o.Shard)
	set("driver", o.Driver)
	set("instance_uuid", o.InstanceUUID)
	set("fields", strings.Join(o.Fields, ","))
	if o.Associated != nil {
		q.Set("associated", strconv.FormatBool(*o.Associated))
	}
	if o.Maintenance != nil {
		q.Set("maintenance", strconv.FormatBool(*o.Maintenance))
	}
	return q
}

// ListNodes lists nodes matching opts.
func (c *Client) ListNodes(ctx context.Context, opts ListNodesOpts) ([]map[string]any, error) {
	parts := []string{"nodes"}
	if opts.Detail {
		parts = append(parts, "detail")
	}
	return c.list(ctx, "nodes", opts.query(), parts...)
}

// UpdateNode applies the allow-listed subset of updates to a node.
func (c *Client) UpdateNode(ctx context.Context, id string, updates map[string]any) (map[string]any, error) {
	return c.PatchNode(ctx, id, clients.MakePatch(NodeAttributes, updates))
}

// PatchNode sends a raw patch document.
func (c *Client) PatchNode(ctx context.Context, id string, patch []clients.PatchOperation) (map[string]any, error) {
	clients.LogPatch(c.log.WithValues("node", id), patch)
	opts := nodes.UpdateOpts{}
	for _, p := range patch {
		opts = append(opts, p)
	}
	return c.extract(nodes.Update(ctx, c.serviceClient(), id, opts).Result)
}

// DeleteNode deletes a node.
func (c *Client) DeleteNode(ctx context.Context, id string) error {
	r := nodes.Delete(ctx, c.serviceClient(), id)
	if r.Err != nil {
		return r.Err
	}
	return c.checkVersion(r.Header)
}

// ProvisionStateOpts are the optional fields of a provision state change.
type ProvisionStateOpts struct {
	ConfigDrive    any
	CleanSteps     []map[string]any
	DeploySteps    []map[string]any
	RescuePassword string
	Runbook        string
	DisableRamdisk *bool
}

// SetNodeProvisionState requests a provision state change.
func (c *Client) SetNodeProvisionState(ctx context.Context, id, target string, opts ProvisionStateOpts) error {
	body := Body{"target": target}
	if opts.ConfigDrive != nil {
		body["configdrive"] = opts.ConfigDrive
	}
	if opts.CleanSteps != nil {
		body["clean_steps"] = opts.CleanSteps
	}
	if opts.DeploySteps != nil {
		body["deploy_steps"] = opts.DeploySteps
	}
	if opts.RescuePassword != "" {
		body["rescue_password"] = opts.RescuePassword
	}
	if opts.Runbook != "" {
		body["runbook"] = opts.Runbook
	}
	if opts.DisableRamdisk != nil {
		body["disable_ramdisk"] = *opts.DisableRamdisk
	}
	c.log.Info("setting provision state", "node", id, "target", target)
	r := nodes.ChangeProvisionState(ctx, c.serviceClient(), id, body)
	if r.Err != nil {
		return r.Err
	}
	return c.checkVersion(r.Header)
}

// SetNodePowerState requests a power state change.
func (c *Client) SetNodePowerState(ctx context.Context, id string, target nodes.TargetPowerState) error {
	c.log.Info("setting power state", "node", id, "target", target)
	r := nodes.ChangePowerState(ctx, c.serviceClient(), id, nodes.PowerStateOpts{Target: target})
	if r.Err != nil {
		return r.Err
	}
	return c.checkVersion(r.Header)
}

// NodeStates returns the state summary of a node.
func (c *Client) NodeStates(ctx context.Context, id string) (map[string]any, error) {
	return c.get(ctx, c.resourceURL("nodes", id, "states"))
}

// ValidateNode runs the driver interface validation.
func (c *Client) ValidateNode(ctx context.Context, id string) (map[string]any, error) {
	return c.get(ctx, c.resourceURL("nodes", id, "validate"))
}

// SetNodeBootDevice sets the next boot device.
func (c *Client) SetNodeBootDevice(ctx context.Context, id, device string, persistent bool) error {
	return c.put(ctx, c.resourceURL("nodes", id, "management", "boot_device"),
		map[string]any{"boot_device": device, "persistent": persistent}, http.StatusNoContent)
}

// NodeBootDevice returns the current boot device.
func (c *Client) NodeBootDevice(ctx context.Context, id string) (map[string]any, error) {
	return c.get(ctx, c.resourceURL("nodes", id, "management", "boot_device"))
}

// SetNodeMaintenance puts a node into maintenance, or takes it out.
func (c *Client) SetNodeMaintenance(ctx context.Context, id string, on bool, reason string) error {
	u := c.resourceURL("nodes", id, "maintenance")
	if !on {
		return c.delete(ctx, u, http.StatusAccepted)
	}
	return c.put(ctx, u, map[string]any{"reason": reason}, http.StatusAccepted)
}

// NodeTraits lists the traits of a node.
func (c *Client) NodeTraits(ctx context.Context, id string) ([]string, error) {
	body, err := c.get(ctx, c.resourceURL("nodes", id, "traits"))
	if err != nil {
		return nil, err
	}
	raw, _ := body["traits"].([]any)
	traits := make([]string, 0, len(raw))
	for _, t := range raw {
		if s, ok := t.(string); ok {
			traits = append(traits, s)
		}
	}
	return traits, nil
}

// SetNodeTraits replaces the traits of a node.
func (c *Client) SetNodeTraits(ctx context.Context, id string, traits []string) error {
	if traits == nil {
		traits = []string{}
	}
	return c.put(ctx, c.resourceURL("nodes", id, "traits"), map[string]any{"traits": traits}, http.StatusNoContent)
}

// AddNodeTrait adds one trait.
func (c *Client) AddNodeTrait(ctx context.Context, id, trait string) error {
	return c.put(ctx, c.resourceURL("nodes", id, "traits", trait), nil, http.StatusNoContent)
}

// RemoveNodeTrait removes one trait.
func (c *Client) RemoveNodeTrait(ctx context.Context, id, trait string) error {
	return c.delete(ctx, c.resourceURL("nodes", id, "traits", trait))
}

// RemoveNodeTraits removes all traits.
func (c *Client) RemoveNodeTraits(ctx context.Context, id string) error {
	return c.delete(ctx, c.resourceURL("nodes", id, "traits"))
}

// NodeVIFs lists the VIFs attached to a node.
func (c *Client) NodeVIFs(ctx context.Context, id string) ([]map[string]any, error) {
	return c.list(ctx, "vifs", nil, "nodes", id, "vifs")
}

// AttachNodeVIF attaches a VIF to a node.
func (c *Client) AttachNodeVIF(ctx context.Context, id, vif string) error {
	return c.action(ctx, c.resourceURL("nodes", id, "vifs"), map[string]any{"id": vif}, http.StatusNoContent)
}

// DetachNodeVIF detaches a VIF.
func (c *Client) DetachNodeVIF(ctx context.Context, id, vif string) error {
	return c.delete(ctx, c.resourceURL("nodes", id, "vifs", vif))
}

// NodeInventory returns the hardware inventory gathered by inspection.
func (c *Client) NodeInventory(ctx context.Context, id string) (map[string]any, error) {
	return c.get(ctx, c.resourceURL("nodes", id, "inventory"))
}
