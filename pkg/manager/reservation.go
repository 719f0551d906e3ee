package manager

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/google/uuid"
	"k8s.io/utils/ptr"

	"github.com/metal3-io/ironic-conformance/pkg/ironic/baremetal"
	"github.com/metal3-io/ironic-conformance/pkg/retry"
	"github.com/metal3-io/ironic-conformance/pkg/waiters"
)

var availableNodeFields = []string{"uuid", "driver", "instance_uuid", "provision_state", "name", "maintenance"}

// GetAvailableNodes lists the nodes a test may deploy: available, not in
// maintenance and not associated with an instance.
func (m *Manager) GetAvailableNodes(ctx context.Context) ([]map[string]any, error) {
	return m.client.ListNodes(ctx, baremetal.ListNodesOpts{
		ProvisionState: StateAvailable,
		Associated:     ptr.To(false),
		Maintenance:    ptr.To(false),
		Fields:         availableNodeFields,
	})
}

func (m *Manager) randomAvailableNode(ctx context.Context) (map[string]any, error) {
	candidates, err := m.GetAvailableNodes(ctx)
	if err != nil || len(candidates) == 0 {
		return nil, err
	}
	return candidates[rand.IntN(len(candidates))], nil
}

// ReserveNode claims a node by setting its instance_uuid to a new UUID.
// When nodeID is empty a random available node is picked, and a new one
// is picked after every conflict. Attempts stop after the association
// timeout.
func (m *Manager) ReserveNode(ctx context.Context, nodeID string) (map[string]any, error) {
	instanceUUID := uuid.NewString()
	log := m.log.WithValues("instance", instanceUUID)

	var reserved map[string]any
	candidate := nodeID
	ok, err := waiters.CallUntilTrue(ctx, m.timeouts.Association, m.reservationInterval, func(ctx context.Context) (bool, error) {
		if nodeID == "" {
			node, err := m.randomAvailableNode(ctx)
			if err != nil {
				return false, err
			}
			if node == nil {
				log.V(1).Info("no available node to reserve")
				return false, nil
			}
			candidate, _ = node["uuid"].(string)
		}
		node, err := m.client.UpdateNode(ctx, candidate, map[string]any{"instance_uuid": instanceUUID})
		if retry.IsConflict(err) {
			log.Info("node already claimed", "node", candidate)
			return false, nil
		}
		if err != nil {
			return false, err
		}
		reserved = node
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, waiters.TimeoutError{
			Resource: candidate,
			Timeout:  m.timeouts.Association,
			Message: fmt.Sprintf("Timed out waiting to associate instance %s with ironic node %q within the required time (%s).",
				instanceUUID, candidate, m.timeouts.Association),
		}
	}
	log.Info("reserved node", "node", reserved["uuid"])
	return reserved, nil
}

// UnreserveNode clears the instance_uuid of a node, retrying on conflicts
// until the association timeout.
func (m *Manager) UnreserveNode(ctx context.Context, nodeID string) error {
	var instance any
	ok, err := waiters.CallUntilTrue(ctx, m.timeouts.Association, m.reservationInterval, func(ctx context.Context) (bool, error) {
		node, err := m.client.ShowNode(ctx, nodeID)
		if err != nil {
			return false, err
		}
		instance = node["instance_uuid"]
		if instance == nil {
			return true, nil
		}
		_, err = m.client.UpdateNode(ctx, nodeID, map[string]any{"instance_uuid": nil})
		if retry.IsConflict(err) {
			return false, nil
		}
		return err == nil, err
	})
	if err != nil {
		return err
	}
	if !ok {
		return waiters.TimeoutError{
			Resource: nodeID,
			Timeout:  m.timeouts.Association,
			Message: fmt.Sprintf("Timed out waiting to disassociate instance %v from ironic node %s within the required time (%s).",
				instance, nodeID, m.timeouts.Association),
		}
	}
	m.log.Info("unreserved node", "node", nodeID)
	return nil
}
