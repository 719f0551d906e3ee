//go:build e2e
// +build e2e

package e2e

import (
	"context"
	"fmt"
	"slices"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/metal3-io/ironic-conformance/pkg/ironic/baremetal"
	"github.com/metal3-io/ironic-conformance/pkg/ironic/clients"
	"github.com/metal3-io/ironic-conformance/pkg/manager"
)

// newScenarioManager returns a manager whose resources are removed when
// the current test ends.
func newScenarioManager(specName string) *manager.Manager {
	m := manager.New(client, nil,
		manager.WithTimeouts(e2eConfig.Ironic.Timeouts()),
		manager.WithLogger(logger.WithName(specName)),
	)
	DeferCleanup(func(ctx context.Context) {
		if skipCleanup {
			return
		}
		Expect(m.Cleanup(ctx)).To(Succeed())
	})
	return m
}

// randomName returns a resource name unique to this run.
func randomName(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString()[:8])
}

// requireMicroversion skips the current test when the server cannot serve v.
func requireMicroversion(v string) *baremetal.Client {
	version := clients.MustParseMicroversion(v)
	if !features.Supports(version) {
		Skip(fmt.Sprintf("Ironic serves up to %s, %s is required", features.Max(), version))
	}
	return client.WithMicroversion(version)
}

// requireFakeDriver skips the current test when the fake-hardware driver is not configured.
func requireFakeDriver() {
	if e2eConfig.Ironic.Driver != "fake-hardware" {
		Skip("the lifecycle specs need the fake-hardware driver")
	}
}

// createNode enrolls a node that is deleted with the manager.
func createNode(m *manager.Manager, opts baremetal.NodeCreateOpts) map[string]any {
	node, err := m.Client().CreateNode(ctx, opts)
	Expect(err).NotTo(HaveOccurred())
	m.Tracker().AddResource(baremetal.Node, node)
	return node
}

func isUndesiredState(currentState string, undesiredStates []string) bool {
	return slices.Contains(undesiredStates, currentState)
}

type WaitForNodeInProvisionStateInput struct {
	Client          *baremetal.Client
	NodeID          string
	State           string
	UndesiredStates []string
}

// WaitForNodeInProvisionState polls the node with gomega, independently of
// the waiters package, so the two can be checked against each other.
func WaitForNodeInProvisionState(ctx context.Context, input WaitForNodeInProvisionStateInput, intervals ...interface{}) {
	Eventually(func(g Gomega) {
		node, err := input.Client.ShowNode(ctx, input.NodeID)
		g.Expect(err).NotTo(HaveOccurred())

		currentState, _ := node["provision_state"].(string)
		if isUndesiredState(currentState, input.UndesiredStates) {
			StopTrying(fmt.Sprintf("node is in an unexpected state: %s", currentState)).Now()
		}

		g.Expect(currentState).To(Equal(input.State))
	}, intervals...).Should(Succeed())
}

// randomMACSuffix returns the last three octets of a MAC address.
func randomMACSuffix() string {
	b := uuid.New()
	return fmt.Sprintf("%02x:%02x:%02x", b[0], b[1], b[2])
}
