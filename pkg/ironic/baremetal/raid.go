package baremetal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

const (
	NoRAIDInterface       string = "no-raid"
	SoftwareRAIDInterface string = "agent"
)

// LogicalDisk is one volume of a target RAID configuration.
type LogicalDisk struct {
	// SizeGB is a number of gigabytes or "MAX".
	SizeGB        any              `json:"size_gb"`
	RAIDLevel     string           `json:"raid_level"`
	Controller    string           `json:"controller,omitempty"`
	VolumeName    string           `json:"volume_name,omitempty"`
	IsRootVolume  *bool            `json:"is_root_volume,omitempty"`
	PhysicalDisks []map[string]any `json:"physical_disks,omitempty"`
}

// RAIDConfig is the target_raid_config of a node. An empty configuration
// removes the previous one.
type RAIDConfig struct {
	LogicalDisks []LogicalDisk `json:"logical_disks,omitempty"`
}

func (r RAIDConfig) hasSoftwareVolumes() bool {
	for _, disk := range r.LogicalDisks {
		if disk.Controller == "software" {
			return true
		}
	}
	return false
}

func (r RAIDConfig) hasHardwareVolumes() bool {
	for _, disk := range r.LogicalDisks {
		if disk.Controller != "software" {
			return true
		}
	}
	return false
}

// CheckRAIDConfig rejects configurations the RAID interface cannot apply.
func CheckRAIDConfig(raidInterface string, raid RAIDConfig) error {
	switch raidInterface {
	case NoRAIDInterface:
		if len(raid.LogicalDisks) != 0 {
			return fmt.Errorf("raid settings are defined, but the node's raid interface %s does not support RAID", raidInterface)
		}
	case SoftwareRAIDInterface:
		if raid.hasHardwareVolumes() {
			return fmt.Errorf("node's raid interface %s does not support hardware RAID", raidInterface)
		}
		if len(raid.LogicalDisks) != 0 && raid.LogicalDisks[0].RAIDLevel != "1" {
			return errors.New("the level in first volume of software raid must be RAID1")
		}
	default:
		if raid.hasSoftwareVolumes() {
			return fmt.Errorf("node's raid interface %s does not support software RAID", raidInterface)
		}
		names := map[string]int{}
		for index, disk := range raid.LogicalDisks {
			if disk.VolumeName == "" {
				continue
			}
			if i, exist := names[disk.VolumeName]; exist {
				return fmt.Errorf("the names(%s) of volume[%d] and volume[%d] are repeated", disk.VolumeName, index, i)
			}
			names[disk.VolumeName] = index
		}
	}
	return nil
}

// RAIDCleanSteps returns the manual cleaning steps that replace the
// current RAID configuration with target. Old volumes are always deleted
// first. With eraseMetadata, software RAID also wipes the old member
// metadata before building the new volumes.
func RAIDCleanSteps(raidInterface string, target RAIDConfig, eraseMetadata bool) ([]map[string]any, error) {
	if err := CheckRAIDConfig(raidInterface, target); err != nil {
		return nil, err
	}
	if raidInterface == NoRAIDInterface {
		return nil, nil
	}

	steps := []map[string]any{
		{"interface": "raid", "step": "delete_configuration"},
	}
	if raidInterface == SoftwareRAIDInterface && eraseMetadata {
		steps = append(steps, map[string]any{"interface": "deploy", "step": "erase_devices_metadata"})
	}
	if len(target.LogicalDisks) == 0 {
		return steps, nil
	}
	return append(steps, map[string]any{"interface": "raid", "step": "create_configuration"}), nil
}

// SetNodeRAIDConfig sets the target RAID configuration applied by the next
// create_configuration clean step. Requires microversion 1.12.
func (c *Client) SetNodeRAIDConfig(ctx context.Context, id string, raid RAIDConfig) error {
	c.log.Info("setting target RAID configuration", "node", id, "volumes", len(raid.LogicalDisks))
	return c.put(ctx, c.resourceURL("nodes", id, "states", "raid"), raid, http.StatusNoContent)
}
