//go:build e2e
// +build e2e

package e2e

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/metal3-io/ironic-conformance/pkg/ironic/baremetal"
	"github.com/metal3-io/ironic-conformance/pkg/manager"
)

var _ = Describe("chassis and ports", Label("required", "resources"), func() {
	var (
		specName = "resources"
		m        *manager.Manager
	)

	BeforeEach(func() {
		m = newScenarioManager(specName)
	})

	It("should refuse to delete a chassis with nodes", func() {
		chassis, err := m.Client().CreateChassis(ctx, specName, nil)
		Expect(err).NotTo(HaveOccurred())
		m.Tracker().AddResource(baremetal.Chassis, chassis)
		createNode(m, baremetal.NodeCreateOpts{Name: randomName(specName), ChassisUUID: chassis["uuid"].(string)})

		kind, ok := baremetal.KindOf(m.Client().DeleteChassis(ctx, chassis["uuid"].(string)))
		Expect(ok).To(BeTrue())
		Expect(kind).To(Equal(baremetal.BadRequest))
	})

	It("should reject a duplicate port address", func() {
		node := createNode(m, baremetal.NodeCreateOpts{Name: randomName(specName)})
		address := "52:54:00:" + randomMACSuffix()

		port, err := m.Client().CreatePort(ctx, baremetal.PortCreateOpts{NodeUUID: node["uuid"].(string), Address: address})
		Expect(err).NotTo(HaveOccurred())
		m.Tracker().AddResource(baremetal.Port, port)

		duplicate, createErr := m.Client().CreatePort(ctx, baremetal.PortCreateOpts{NodeUUID: node["uuid"].(string), Address: address})
		_, err = baremetal.Ignore(duplicate, createErr, baremetal.NotFound)
		Expect(err).To(MatchError(createErr))

		outcome, err := baremetal.Ignore(duplicate, createErr, baremetal.Conflict)
		Expect(err).NotTo(HaveOccurred())
		Expect(outcome.Kind()).To(Equal(baremetal.Conflict))
	})
})
