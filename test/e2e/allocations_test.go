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

var _ = Describe("allocations", Label("required", "allocations"), func() {
	var (
		specName      = "allocations"
		m             *manager.Manager
		resourceClass string
		nodeID        string
	)

	BeforeEach(func() {
		requireMicroversion("1.52")
		requireFakeDriver()
		m = newScenarioManager(specName)
		resourceClass = randomName("rc")
		node := createNode(m, baremetal.NodeCreateOpts{Name: randomName(specName), ResourceClass: resourceClass})
		nodeID = node["uuid"].(string)
		Expect(m.ProvideNode(ctx, nodeID)).To(Succeed())
	})

	It("should allocate a node of the requested resource class", func() {
		allocation, err := m.AllocateNode(ctx, baremetal.AllocationCreateOpts{ResourceClass: resourceClass}, false)
		Expect(err).NotTo(HaveOccurred())
		Expect(allocation["state"]).To(Equal("active"))
		Expect(allocation["node_uuid"]).To(Equal(nodeID))

		node, err := m.Client().ShowNode(ctx, nodeID)
		Expect(err).NotTo(HaveOccurred())
		Expect(node["allocation_uuid"]).To(Equal(allocation["uuid"]))
	})

	It("should report a failed allocation", func() {
		missing := randomName("missing")

		_, err := m.AllocateNode(ctx, baremetal.AllocationCreateOpts{ResourceClass: missing}, false)
		Expect(waiters.IsServiceError(err)).To(BeTrue(), "unexpected error %v", err)

		allocation, err := m.AllocateNode(ctx, baremetal.AllocationCreateOpts{ResourceClass: missing}, true)
		Expect(err).NotTo(HaveOccurred())
		Expect(allocation["state"]).To(Equal("error"))
		Expect(allocation["last_error"]).To(ContainSubstring("resource class"))
	})
})
