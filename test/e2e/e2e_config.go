//go:build e2e
// +build e2e

package e2e

import (
	"fmt"
	"os"
	"strings"
	"time"

	. "github.com/onsi/gomega"
	"sigs.k8s.io/yaml"

	"github.com/metal3-io/ironic-conformance/pkg/config"
)

// Config defines the configuration of an e2e test environment.
type Config struct {
	// Ironic describes the deployment under test.
	Ironic config.Config `json:"ironic"`

	// Variables to be used in the tests.
	Variables map[string]string `json:"variables,omitempty"`

	// Intervals to be used for long operations during tests.
	Intervals map[string][]string `json:"intervals,omitempty"`
}

// LoadE2EConfig loads the configuration for the e2e test environment.
func LoadE2EConfig(configPath string) *Config {
	configData, err := os.ReadFile(configPath) //#nosec
	Expect(err).ToNot(HaveOccurred(), "Failed to read the e2e test config file")
	Expect(configData).ToNot(BeEmpty(), "The e2e test config file should not be empty")

	cfg := &Config{Ironic: *config.Default()}
	Expect(yaml.UnmarshalStrict(configData, cfg)).To(Succeed(), "Failed to parse the e2e test config file")
	Expect(cfg.Validate()).To(Succeed(), "The e2e test config file is not valid")

	return cfg
}

// Validate validates the configuration. More specifically:
// - The Ironic section should pass config.Config validation.
// - Intervals should be valid ginkgo intervals.
func (c *Config) Validate() error {
	if err := c.Ironic.Validate(); err != nil {
		return err
	}

	for k, intervals := range c.Intervals {
		switch len(intervals) {
		case 1, 2: //nolint: mnd
		default:
			return fmt.Errorf("invalid interval: Intervals[%s]=%q", k, intervals)
		}
		for _, i := range intervals {
			if _, err := time.ParseDuration(i); err != nil {
				return fmt.Errorf("invalid interval: Intervals[%s]=%q", k, intervals)
			}
		}
	}

	return nil
}

// GetIntervals returns the intervals to be applied to a Eventually operation.
// It searches for [spec]/[key] intervals first, and if it is not found, it searches
// for default/[key]. If also the default/[key] intervals are not found,
// ginkgo DefaultEventuallyTimeout and DefaultEventuallyPollingInterval are used.
func (c *Config) GetIntervals(spec, key string) []interface{} {
	intervals, ok := c.Intervals[fmt.Sprintf("%s/%s", spec, key)]
	if !ok {
		if intervals, ok = c.Intervals["default/"+key]; !ok {
			return nil
		}
	}
	intervalsInterfaces := make([]interface{}, len(intervals))
	for i := range intervals {
		intervalsInterfaces[i] = intervals[i]
	}
	return intervalsInterfaces
}

// GetVariable returns a variable from environment variables or from the
// e2e config file, or def when neither defines it.
func (c *Config) GetVariable(varName, def string) string {
	if value, ok := os.LookupEnv(varName); ok {
		return value
	}
	if value, ok := c.Variables[varName]; ok {
		return value
	}
	return def
}

// GetBoolVariable returns a variable from environment variables or from the e2e config file as boolean.
func (c *Config) GetBoolVariable(varName string) bool {
	value := c.GetVariable(varName, "")
	falseValues := []string{"", "false", "no"}
	for _, falseVal := range falseValues {
		if strings.EqualFold(value, falseVal) {
			return false
		}
	}
	return true
}
