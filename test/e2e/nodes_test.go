//go:build e2e
// +build e2e

package e2e

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/metal3-io/ironic-conformance/pkg/ironic/baremetal"
	"github.com/metal3-io/ironic-conformance/pkg/manager"
	"github.com/metal3-io/ironic-conformance/pkg/waiters"
)

var _ = Describe("nodes", Label("required", "nodes"), func() {
	var (
		specName = "nodes"
		m        *manager.Manager
	)

	BeforeEach(func() {
		m = newScenarioManager(specName)
	})

	It("should enroll a node with the default properties", func() {
		node := createNode(m, baremetal.NodeCreateOpts{Name: randomName(specName)})

		shown, err := m.Client().ShowNode(ctx, node["uuid"].(string))
		Expect(err).NotTo(HaveOccurred())
		Expect(shown["provision_state"]).To(Equal(manager.StateEnroll))
		Expect(shown["driver"]).To(Equal(e2eConfig.Ironic.Driver))
		Expect(shown["properties"]).To(HaveKeyWithValue("cpu_arch", "x86_64"))
	})

	It("should update only the allowed fields", func() {
		node := createNode(m, baremetal.NodeCreateOpts{Name: randomName(specName)})
		id := node["uuid"].(string)

		updated, err := m.Client().UpdateNode(ctx, id, map[string]any{
			"description": "updated",
			"uuid":        "ignored",
			"properties":  map[string]any{"cpus": 16, "unknown": true},
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(updated["uuid"]).To(Equal(id))
		Expect(updated["description"]).To(Equal("updated"))
		Expect(updated["properties"]).NotTo(HaveKey("unknown"))
	})

	It("should move a node through provide, deploy and undeploy", func() {
		requireFakeDriver()
		node := createNode(m, baremetal.NodeCreateOpts{Name: randomName(specName)})
		id := node["uuid"].(string)

		By("providing the node")
		Expect(m.ProvideNode(ctx, id)).To(Succeed())
		WaitForNodeInProvisionState(ctx, WaitForNodeInProvisionStateInput{
			Client: m.Client(),
			NodeID: id,
			State:  manager.StateAvailable,
		}, e2eConfig.GetIntervals(specName, "wait-available")...)

		By("deploying the node")
		Expect(m.DeployNode(ctx, id, baremetal.ProvisionStateOpts{})).To(Succeed())
		WaitForNodeInProvisionState(ctx, WaitForNodeInProvisionStateInput{
			Client:          m.Client(),
			NodeID:          id,
			State:           manager.StateActive,
			UndesiredStates: []string{"deploy failed", "error"},
		}, e2eConfig.GetIntervals(specName, "wait-active")...)

		By("undeploying the node")
		Expect(m.UndeployNode(ctx, id)).To(Succeed())
		Expect(waiters.WaitForNodeStatus(ctx, m.Client().NodeFetcher(id), id, waiters.Options{Logger: logger}, manager.StateAvailable)).To(Succeed())
	})

	It("should control the power state", func() {
		requireFakeDriver()
		node := createNode(m, baremetal.NodeCreateOpts{Name: randomName(specName)})
		id := node["uuid"].(string)

		Expect(m.PowerOn(ctx, id)).To(Succeed())
		Expect(m.PowerOff(ctx, id)).To(Succeed())
	})

	It("should reserve and release an available node", func() {
		requireFakeDriver()
		node := createNode(m, baremetal.NodeCreateOpts{Name: randomName(specName)})
		id := node["uuid"].(string)
		Expect(m.ProvideNode(ctx, id)).To(Succeed())

		reserved, err := m.ReserveNode(ctx, id)
		Expect(err).NotTo(HaveOccurred())
		instance := reserved["instance_uuid"].(string)
		Expect(waiters.WaitNodeInstanceAssociation(ctx, m.Client().NodeFetcher(id), instance, waiters.Options{Logger: logger})).To(Succeed())

		By("refusing a second association")
		_, err = m.Client().UpdateNode(ctx, id, map[string]any{"instance_uuid": randomName("other")})
		outcome, err := baremetal.IgnoreErr(err, baremetal.Conflict)
		Expect(err).NotTo(HaveOccurred())
		Expect(outcome.IsIgnored()).To(BeTrue())

		Expect(m.UnreserveNode(ctx, id)).To(Succeed())
		Expect(waiters.WaitForStatus(ctx, m.Client().NodeFetcher(id), id, "instance_uuid", waiters.StatusOptions{}, nil)).To(Succeed())
	})

	It("should manage traits", func() {
		node := createNode(m, baremetal.NodeCreateOpts{Name: randomName(specName)})
		id := node["uuid"].(string)

		Expect(m.Client().SetNodeTraits(ctx, id, []string{"CUSTOM_A", "CUSTOM_B"})).To(Succeed())
		Expect(m.Client().RemoveNodeTrait(ctx, id, "CUSTOM_A")).To(Succeed())
		traits, err := m.Client().NodeTraits(ctx, id)
		Expect(err).NotTo(HaveOccurred())
		Expect(traits).To(ConsistOf("CUSTOM_B"))
	})
})
