//go:build e2e
// +build e2e

package e2e

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/metal3-io/ironic-conformance/pkg/ironic/baremetal"
	"github.com/metal3-io/ironic-conformance/pkg/ironic/clients"
)

var _ = Describe("microversions", Label("required", "microversions"), func() {
	It("should serve the configured range", func() {
		minVersion, maxVersion, err := e2eConfig.Ironic.MicroversionRange()
		Expect(err).NotTo(HaveOccurred())
		Expect(clients.RangesOverlap(features.Min(), features.Max(), minVersion, maxVersion)).To(BeTrue())
	})

	It("should only expose shards from 1.82", func() {
		shardClient := requireMicroversion("1.82")
		_, err := shardClient.ListShards(ctx)
		Expect(err).NotTo(HaveOccurred())

		_, err = client.WithMicroversion(clients.MustParseMicroversion("1.81")).ListShards(ctx)
		Expect(baremetal.IsNotFound(err)).To(BeTrue(), "unexpected error %v", err)
	})

	It("should reject a microversion above the maximum", func() {
		tooNew := clients.NewMicroversion(1, uint64(features.MaxVersion)+1) //nolint:gosec
		_, err := client.WithMicroversion(tooNew).ListDrivers(ctx)
		kind, ok := baremetal.KindOf(err)
		Expect(ok).To(BeTrue(), "unexpected error %v", err)
		Expect(kind).To(Equal(baremetal.NotAcceptable))
	})
})
