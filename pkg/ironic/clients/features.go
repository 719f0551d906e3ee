package clients

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
	"github.com/gophercloud/gophercloud/v2"
	"github.com/gophercloud/gophercloud/v2/openstack/utils"
)

// AvailableFeatures represents features that Ironic API provides.
// See https://docs.openstack.org/ironic/latest/contributor/webapi-version-history.html
type AvailableFeatures struct {
	MinVersion int
	MaxVersion int
}

func GetAvailableFeatures(ctx context.Context, client *gophercloud.ServiceClient) (features AvailableFeatures, err error) {
	mvs, err := utils.GetSupportedMicroversions(ctx, client)
	if err != nil {
		return
	}

	if mvs.MaxMajor != 1 {
		err = fmt.Errorf("ironic API 1.x is required, got %d.%d", mvs.MaxMajor, mvs.MaxMinor)
		return
	}

	features.MinVersion = mvs.MinMinor
	features.MaxVersion = mvs.MaxMinor
	return
}

func (af AvailableFeatures) Log(logger logr.Logger) {
	logger.Info("supported Ironic API features",
		"minVersion", af.Min().String(),
		"maxVersion", af.Max().String(),
		"inventory", af.HasInventory(),
		"shards", af.HasShards(),
		"runbooks", af.HasRunbooks())
}

func (af AvailableFeatures) Min() Microversion {
	return NewMicroversion(1, uint64(af.MinVersion)) //nolint:gosec
}

func (af AvailableFeatures) Max() Microversion {
	return NewMicroversion(1, uint64(af.MaxVersion)) //nolint:gosec
}

// Supports reports whether the server can serve version v.
func (af AvailableFeatures) Supports(v Microversion) bool {
	if v.IsZero() || v.IsLatest() {
		return true
	}
	return v.AtLeast(af.Min()) && !af.Max().LessThan(v)
}

func (af AvailableFeatures) HasInventory() bool {
	return af.MaxVersion >= 81
}

func (af AvailableFeatures) HasShards() bool {
	return af.MaxVersion >= 82
}

func (af AvailableFeatures) HasRunbooks() bool {
	return af.MaxVersion >= 92
}

// ChooseMicroversion caps the configured maximum at what the server
// offers.
func (af AvailableFeatures) ChooseMicroversion(configured Microversion) Microversion {
	if configured.IsZero() || configured.IsLatest() || af.Max().LessThan(configured) {
		return af.Max()
	}
	return configured
}
