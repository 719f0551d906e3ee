package manager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/gophercloud/gophercloud/v2/openstack/baremetal/v1/nodes"

	"github.com/metal3-io/ironic-conformance/pkg/ironic/baremetal"
	"github.com/metal3-io/ironic-conformance/pkg/retry"
	"github.com/metal3-io/ironic-conformance/pkg/waiters"
)

// Provision states the manager waits for.
const (
	StateEnroll     = "enroll"
	StateManageable = "manageable"
	StateAvailable  = "available"
	StateActive     = "active"
	StateRescue     = "rescue"
)

// Timeouts bounds the waits of each scenario step.
type Timeouts struct {
	Build         time.Duration
	BuildInterval time.Duration
	Manage        time.Duration
	Active        time.Duration
	Association   time.Duration
	Power         time.Duration
	Unprovision   time.Duration
	Rescue        time.Duration
	Unrescue      time.Duration
	Allocation    time.Duration
	Deploywait    time.Duration
	Inspect       time.Duration
}

// DefaultTimeouts returns the timeouts used when nothing is configured.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Build:         300 * time.Second,
		BuildInterval: time.Second,
		Manage:        60 * time.Second,
		Active:        300 * time.Second,
		Association:   30 * time.Second,
		Power:         60 * time.Second,
		Unprovision:   300 * time.Second,
		Rescue:        300 * time.Second,
		Unrescue:      300 * time.Second,
		Allocation:    15 * time.Second,
		Deploywait:    15 * time.Second,
		Inspect:       10 * time.Second,
	}
}

// Manager drives nodes through multi-step scenarios. Everything it
// creates or deploys is recorded in its Tracker.
type Manager struct {
	client              *baremetal.Client
	tracker             *baremetal.Tracker
	timeouts            Timeouts
	retrier             retry.Retrier
	reservationInterval time.Duration
	log                 logr.Logger
}

// Option customises a Manager.
type Option func(*Manager)

func WithTimeouts(t Timeouts) Option {
	return func(m *Manager) {
		m.timeouts = t
	}
}

func WithLogger(log logr.Logger) Option {
	return func(m *Manager) {
		m.log = log
	}
}

// WithRetrier replaces the conflict retrier used for state changes.
func WithRetrier(r retry.Retrier) Option {
	return func(m *Manager) {
		m.retrier = r
	}
}

// WithReservationInterval sets the pause between reservation attempts.
func WithReservationInterval(d time.Duration) Option {
	return func(m *Manager) {
		m.reservationInterval = d
	}
}

// New returns a Manager using client for all requests.
func New(client *baremetal.Client, tracker *baremetal.Tracker, opts ...Option) *Manager {
	m := &Manager{
		client:              client,
		tracker:             tracker,
		timeouts:            DefaultTimeouts(),
		retrier:             retry.Default(),
		reservationInterval: time.Second,
		log:                 logr.Discard(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.tracker == nil {
		m.tracker = baremetal.NewTracker()
	}
	m.retrier.Logger = m.log.WithName("retry")
	return m
}

// Client returns the resource client.
func (m *Manager) Client() *baremetal.Client {
	return m.client
}

// Tracker returns the record of created resources.
func (m *Manager) Tracker() *baremetal.Tracker {
	return m.tracker
}

// Timeouts returns the configured timeouts.
func (m *Manager) Timeouts() Timeouts {
	return m.timeouts
}

// Cleanup tears down everything recorded in the Tracker.
func (m *Manager) Cleanup(ctx context.Context) error {
	return m.tracker.Cleanup(ctx, m.client, m.UndeployNode, m.log.WithName("cleanup"))
}

func (m *Manager) waitOptions(timeout, interval time.Duration) waiters.Options {
	return waiters.Options{Logger: m.log.WithName("wait")}.WithTimeout(timeout).WithInterval(interval)
}

func (m *Manager) retrierFor(operation string) retry.Retrier {
	r := m.retrier
	r.Operation = operation
	return r
}

// SetNodeProvisionState requests the transition to target, retrying on
// conflicts, and when expected is not empty waits for provision_state to
// reach one of the expected values. The wait stops early when the node
// lands in a failure state.
func (m *Manager) SetNodeProvisionState(ctx context.Context, nodeID, target string, opts baremetal.ProvisionStateOpts, wait waiters.Options, expected ...any) error {
	_, err := retry.Do(ctx, m.retrierFor("provision_state"), func(ctx context.Context) (struct{}, error) {
		return struct{}{}, m.client.SetNodeProvisionState(ctx, nodeID, target, opts)
	})
	if err != nil {
		return fmt.Errorf("failed to set provision state of node %s to %s: %w", nodeID, target, err)
	}
	if len(expected) == 0 {
		return nil
	}
	if wait.Logger.GetSink() == nil {
		wait.Logger = m.log.WithName("wait")
	}
	return waiters.WaitForNodeStatus(ctx, m.client.NodeFetcher(nodeID), nodeID, wait, expected...)
}

// ProvideNode moves a node to available. An enrolled node is managed
// first.
func (m *Manager) ProvideNode(ctx context.Context, nodeID string) error {
	node, err := m.client.ShowNode(ctx, nodeID)
	if err != nil {
		return err
	}
	state, _ := node["provision_state"].(string)
	log := m.log.WithValues("node", nodeID)

	if state == StateEnroll {
		log.Info("managing node")
		if err := m.SetNodeProvisionState(ctx, nodeID, "manage", baremetal.ProvisionStateOpts{},
			m.waitOptions(m.timeouts.Manage, m.timeouts.BuildInterval), StateManageable); err != nil {
			return err
		}
		state = StateManageable
	}
	if state == StateManageable {
		log.Info("providing node")
		if err := m.SetNodeProvisionState(ctx, nodeID, "provide", baremetal.ProvisionStateOpts{},
			m.waitOptions(m.timeouts.Build, m.timeouts.BuildInterval), []any{StateAvailable, nil}); err != nil {
			return err
		}
		state = StateAvailable
	}
	if state != StateAvailable && state != "" {
		return fmt.Errorf("cannot reach state %q: node %s is in unexpected state %q", StateAvailable, nodeID, state)
	}
	return nil
}

// DeployNode provides the node and deploys it. The node is unprovisioned
// again on Cleanup.
func (m *Manager) DeployNode(ctx context.Context, nodeID string, opts baremetal.ProvisionStateOpts) error {
	if err := m.ProvideNode(ctx, nodeID); err != nil {
		return err
	}
	m.tracker.Deployed(nodeID)
	return m.SetNodeProvisionState(ctx, nodeID, "active", opts,
		m.waitOptions(m.timeouts.Active, m.timeouts.BuildInterval), StateActive)
}

// UndeployNode unprovisions a node unless it is already available, and
// waits for it to become available.
func (m *Manager) UndeployNode(ctx context.Context, nodeID string) error {
	node, err := m.client.ShowNode(ctx, nodeID)
	if err != nil {
		return err
	}
	if node["provision_state"] == StateAvailable {
		return nil
	}
	return m.SetNodeProvisionState(ctx, nodeID, "deleted", baremetal.ProvisionStateOpts{},
		m.waitOptions(m.timeouts.Unprovision, m.timeouts.BuildInterval), []any{nil, StateAvailable})
}

// TerminateNode detaches every VIF and unprovisions the node.
func (m *Manager) TerminateNode(ctx context.Context, nodeID string) error {
	if err := m.DetachAllVIFs(ctx, nodeID); err != nil {
		return err
	}
	return m.UndeployNode(ctx, nodeID)
}

// DetachAllVIFs detaches the VIFs of a node. VIFs that are already gone
// are skipped.
func (m *Manager) DetachAllVIFs(ctx context.Context, nodeID string) error {
	_, err := retry.Do(ctx, m.retrierFor("detach_vifs"), func(ctx context.Context) (struct{}, error) {
		vifs, err := m.client.NodeVIFs(ctx, nodeID)
		if err != nil {
			return struct{}{}, err
		}
		for _, vif := range vifs {
			id, _ := vif["id"].(string)
			if _, err := baremetal.IgnoreErr(m.client.DetachNodeVIF(ctx, nodeID, id), baremetal.BadRequest); err != nil {
				return struct{}{}, err
			}
		}
		return struct{}{}, nil
	})
	return err
}

// RescueNode boots the rescue ramdisk on an active node.
func (m *Manager) RescueNode(ctx context.Context, nodeID, password string) error {
	return m.SetNodeProvisionState(ctx, nodeID, "rescue", baremetal.ProvisionStateOpts{RescuePassword: password},
		m.waitOptions(m.timeouts.Rescue, m.timeouts.BuildInterval), StateRescue)
}

// UnrescueNode returns a rescued node to active.
func (m *Manager) UnrescueNode(ctx context.Context, nodeID string) error {
	return m.SetNodeProvisionState(ctx, nodeID, "unrescue", baremetal.ProvisionStateOpts{},
		m.waitOptions(m.timeouts.Unrescue, m.timeouts.BuildInterval), StateActive)
}

// heartbeatInterval spaces the polls of WaitForAgentHeartbeat.
const heartbeatInterval = 10 * time.Second

// WaitForAgentHeartbeat waits until the deploy agent on the node has
// heartbeated at least once.
func (m *Manager) WaitForAgentHeartbeat(ctx context.Context, nodeID string) error {
	opts := waiters.StatusOptions{Options: m.waitOptions(m.timeouts.Deploywait, heartbeatInterval)}
	return waiters.WaitNodeValueInField(ctx, m.client.NodeFetcher(nodeID), nodeID,
		"driver_internal_info", "agent_last_heartbeat", opts)
}

// InspectNode runs hardware inspection on a manageable node and waits for
// it to return to manageable.
func (m *Manager) InspectNode(ctx context.Context, nodeID string) error {
	return m.SetNodeProvisionState(ctx, nodeID, "inspect", baremetal.ProvisionStateOpts{},
		m.waitOptions(m.timeouts.Inspect, m.timeouts.BuildInterval), StateManageable)
}

// ErrNoCleaningSteps is returned by ManualCleaning without steps or a
// runbook.
var ErrNoCleaningSteps = errors.New("either clean steps or a runbook must be provided")

// ManualCleaning takes an available node to manageable, runs the given
// clean steps or runbook, and provides it again.
func (m *Manager) ManualCleaning(ctx context.Context, nodeID string, steps []map[string]any, runbook string) error {
	if steps == nil && runbook == "" {
		return ErrNoCleaningSteps
	}
	wait := m.waitOptions(m.timeouts.Unprovision, m.timeouts.BuildInterval)

	if err := m.SetNodeProvisionState(ctx, nodeID, "manage", baremetal.ProvisionStateOpts{}, wait, StateManageable); err != nil {
		return err
	}
	clean := baremetal.ProvisionStateOpts{CleanSteps: steps}
	if runbook != "" {
		clean = baremetal.ProvisionStateOpts{Runbook: runbook}
	}
	if err := m.SetNodeProvisionState(ctx, nodeID, "clean", clean, wait, StateManageable); err != nil {
		return err
	}
	return m.SetNodeProvisionState(ctx, nodeID, "provide", baremetal.ProvisionStateOpts{}, wait, []any{nil, StateAvailable})
}

// PowerOn powers a node on and waits for power_state to follow.
func (m *Manager) PowerOn(ctx context.Context, nodeID string) error {
	return m.setPower(ctx, nodeID, nodes.PowerOn)
}

// PowerOff powers a node off and waits for power_state to follow.
func (m *Manager) PowerOff(ctx context.Context, nodeID string) error {
	return m.setPower(ctx, nodeID, nodes.PowerOff)
}

func (m *Manager) setPower(ctx context.Context, nodeID string, target nodes.TargetPowerState) error {
	_, err := retry.Do(ctx, m.retrierFor("power_state"), func(ctx context.Context) (struct{}, error) {
		return struct{}{}, m.client.SetNodePowerState(ctx, nodeID, target)
	})
	if err != nil {
		return fmt.Errorf("failed to set power state of node %s to %s: %w", nodeID, target, err)
	}
	return waiters.WaitForStatus(ctx, m.client.NodeFetcher(nodeID), nodeID, "power_state",
		waiters.StatusOptions{Options: m.waitOptions(m.timeouts.Power, m.timeouts.BuildInterval)}, string(target))
}

// AllocateNode creates an allocation and waits for it to be processed.
// With expectError the allocation is expected to fail and its
// representation is returned instead of an error.
func (m *Manager) AllocateNode(ctx context.Context, opts baremetal.AllocationCreateOpts, expectError bool) (map[string]any, error) {
	allocation, err := m.client.CreateAllocation(ctx, opts)
	if err != nil {
		return nil, err
	}
	id, _ := allocation["uuid"].(string)
	m.tracker.Add(baremetal.Allocation, id)
	return waiters.WaitForAllocation(ctx, m.client.AllocationFetcher(id), id, expectError,
		m.waitOptions(m.timeouts.Allocation, m.timeouts.BuildInterval))
}

// BuildRAID sets the target RAID configuration of an available node and
// applies it through manual cleaning. Nodes using the no-raid interface
// are left alone.
func (m *Manager) BuildRAID(ctx context.Context, nodeID, raidInterface string, raid baremetal.RAIDConfig, eraseMetadata bool) error {
	steps, err := baremetal.RAIDCleanSteps(raidInterface, raid, eraseMetadata)
	if err != nil || steps == nil {
		return err
	}
	if err := m.client.SetNodeRAIDConfig(ctx, nodeID, raid); err != nil {
		return fmt.Errorf("failed to set RAID configuration of node %s: %w", nodeID, err)
	}
	return m.ManualCleaning(ctx, nodeID, steps, "")
}

// RemoveRAID clears the target RAID configuration and deletes the volumes.
func (m *Manager) RemoveRAID(ctx context.Context, nodeID, raidInterface string, eraseMetadata bool) error {
	return m.BuildRAID(ctx, nodeID, raidInterface, baremetal.RAIDConfig{}, eraseMetadata)
}
