package baremetal

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-logr/logr"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
)

// ResourceType names a kind of resource the Tracker cleans up.
type ResourceType string

const (
	Port            ResourceType = "port"
	Portgroup       ResourceType = "portgroup"
	Node            ResourceType = "node"
	VolumeConnector ResourceType = "volume_connector"
	VolumeTarget    ResourceType = "volume_target"
	Chassis         ResourceType = "chassis"
	DeployTemplate  ResourceType = "deploy_template"
	Runbook         ResourceType = "runbook"
	Allocation      ResourceType = "allocation"
)

// CleanupOrder is the order resources are deleted in. Dependents go before
// the resources they point at.
var CleanupOrder = []ResourceType{Port, Portgroup, Node, VolumeConnector, VolumeTarget, Chassis, DeployTemplate, Runbook}

// Unprovisioner returns a deployed node to a deletable state.
type Unprovisioner func(ctx context.Context, nodeID string) error

// Tracker remembers what a test created so it can be torn down.
type Tracker struct {
	lock     sync.Mutex
	created  map[ResourceType][]string
	deployed []string
}

// NewTracker returns an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{created: map[ResourceType][]string{}}
}

// Add records a created resource.
func (t *Tracker) Add(kind ResourceType, id string) {
	t.lock.Lock()
	defer t.lock.Unlock()
	for _, existing := range t.created[kind] {
		if existing == id {
			return
		}
	}
	t.created[kind] = append(t.created[kind], id)
}

// AddResource records a created resource from its representation.
func (t *Tracker) AddResource(kind ResourceType, resource map[string]any) {
	if id, ok := resource["uuid"].(string); ok {
		t.Add(kind, id)
	}
}

// Deployed records a node that must be unprovisioned before deletion.
func (t *Tracker) Deployed(nodeID string) {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.deployed = append(t.deployed, nodeID)
}

// Created returns the recorded identifiers of a kind.
func (t *Tracker) Created(kind ResourceType) []string {
	t.lock.Lock()
	defer t.lock.Unlock()
	return append([]string(nil), t.created[kind]...)
}

// Cleanup unprovisions deployed nodes, deletes allocations, clears
// instance associations, and then deletes everything else in
// CleanupOrder. Resources that are already gone are skipped. Other
// failures are collected and returned together.
func (t *Tracker) Cleanup(ctx context.Context, c *Client, unprovision Unprovisioner, log logr.Logger) error {
	t.lock.Lock()
	defer t.lock.Unlock()

	var errs []error
	record := func(action, kind, id string, err error) {
		outcome, err := IgnoreErr(err, NotFound)
		if err == nil {
			if outcome.IsIgnored() {
				log.V(1).Info("already gone", "kind", kind, "id", id)
			}
			return
		}
		log.Info("cleanup failed", "action", action, "kind", kind, "id", id, "error", err.Error())
		errs = append(errs, fmt.Errorf("failed to %s %s %s: %w", action, kind, id, err))
	}

	if unprovision != nil {
		for _, id := range t.deployed {
			record("unprovision", string(Node), id, unprovision(ctx, id))
		}
	}

	for _, id := range t.created[Allocation] {
		record("delete", string(Allocation), id, c.DeleteAllocation(ctx, id))
	}

	for _, id := range t.created[Node] {
		// Errors here only log; a node that stays associated fails its
		// delete below.
		if _, err := c.UpdateNode(ctx, id, map[string]any{"instance_uuid": nil}); err != nil && !IsNotFound(err) {
			log.Info("cleanup could not disassociate node", "id", id, "error", err.Error())
		}
	}

	deleters := map[ResourceType]func(context.Context, string) error{
		Port:            c.DeletePort,
		Portgroup:       c.DeletePortgroup,
		Node:            c.DeleteNode,
		VolumeConnector: c.DeleteVolumeConnector,
		VolumeTarget:    c.DeleteVolumeTarget,
		Chassis:         c.DeleteChassis,
		DeployTemplate:  c.DeleteDeployTemplate,
		Runbook:         c.DeleteRunbook,
	}
	for _, kind := range CleanupOrder {
		for _, id := range t.created[kind] {
			record("delete", string(kind), id, deleters[kind](ctx, id))
		}
	}

	t.created = map[ResourceType][]string{}
	t.deployed = nil
	return utilerrors.NewAggregate(errs)
}
