package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metal3-io/ironic-conformance/pkg/ironic/clients"
	"github.com/metal3-io/ironic-conformance/pkg/waiters"
)

func TestDefault(t *testing.T) {
	c := Default()

	assert.Equal(t, "fake-hardware", c.Driver)
	assert.Equal(t, "noauth", c.AuthStrategy)
	assert.Equal(t, Seconds(15), c.DeploywaitTimeout)
	assert.Equal(t, Seconds(300), c.ActiveTimeout)
	assert.Equal(t, Seconds(30), c.AssociationTimeout)
	assert.Equal(t, Seconds(60), c.PowerTimeout)
	assert.Equal(t, Seconds(10), c.InspectTimeout)
	assert.Equal(t, Seconds(1), c.BuildInterval)
	assert.Equal(t, "latest", c.MaxMicroversion)
	assert.Empty(t, c.MinMicroversion)
	assert.Equal(t, []string{"ipmi"}, c.EnabledHardwareTypes)
	assert.Equal(t, []string{"iscsi", "direct"}, c.EnabledDeployInterfaces)
	require.NoError(t, c.Validate())
}

func TestParse(t *testing.T) {
	testCases := []struct {
		Scenario string
		Data     string
		Check    func(*testing.T, *Config)
		Error    string
	}{
		{
			Scenario: "overrides",
			Data:     "driver: ipmi\nactive_timeout: 600\nenabled_deploy_interfaces: [direct]\n",
			Check: func(t *testing.T, c *Config) {
				assert.Equal(t, "ipmi", c.Driver)
				assert.Equal(t, Seconds(600), c.ActiveTimeout)
				assert.Equal(t, []string{"direct"}, c.EnabledDeployInterfaces)
				assert.Equal(t, Seconds(30), c.AssociationTimeout)
			},
		},
		{
			Scenario: "explicit zero is kept",
			Data:     "build_timeout: 0\n",
			Check: func(t *testing.T, c *Config) {
				assert.Equal(t, Seconds(0), c.BuildTimeout)
			},
		},
		{
			Scenario: "null keeps the default",
			Data:     "build_timeout: null\n",
			Check: func(t *testing.T, c *Config) {
				assert.Equal(t, Seconds(300), c.BuildTimeout)
			},
		},
		{
			Scenario: "negative",
			Data:     "build_interval: -1\n",
			Error:    "non-negative",
		},
		{
			Scenario: "fractional",
			Data:     "build_interval: 1.5\n",
			Error:    "whole number",
		},
		{
			Scenario: "not a number",
			Data:     "power_timeout: soon\n",
			Error:    "must be a number",
		},
		{
			Scenario: "unknown field",
			Data:     "bogus: true\n",
			Error:    "bogus",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.Scenario, func(t *testing.T) {
			c := Default()
			err := Parse([]byte(tc.Data), c)
			if tc.Error != "" {
				require.Error(t, err)
				assert.True(t, waiters.IsConfigurationError(err))
				assert.Contains(t, err.Error(), tc.Error)
				return
			}
			require.NoError(t, err)
			tc.Check(t, c)
		})
	}
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		Scenario string
		Mutate   func(*Config)
		Error    string
	}{
		{Scenario: "defaults", Mutate: func(*Config) {}},
		{Scenario: "relative endpoint", Mutate: func(c *Config) { c.Endpoint = "ironic/v1" }, Error: "absolute URL"},
		{Scenario: "unknown auth", Mutate: func(c *Config) { c.AuthStrategy = "keystone" }, Error: "unknown auth_strategy"},
		{Scenario: "basic auth without password", Mutate: func(c *Config) {
			c.AuthStrategy = "http_basic"
			c.Username = "admin"
		}, Error: "needs a username and a password"},
		{Scenario: "basic auth", Mutate: func(c *Config) {
			c.AuthStrategy = "http_basic"
			c.Username = "admin"
			c.Password = "secret"
		}},
		{Scenario: "empty driver", Mutate: func(c *Config) { c.Driver = "" }, Error: "driver"},
		{Scenario: "bad microversion", Mutate: func(c *Config) { c.MinMicroversion = "one" }, Error: "min_microversion"},
		{Scenario: "inverted range", Mutate: func(c *Config) {
			c.MinMicroversion = "1.80"
			c.MaxMicroversion = "1.50"
		}, Error: "newer than"},
		{Scenario: "range", Mutate: func(c *Config) {
			c.MinMicroversion = "1.50"
			c.MaxMicroversion = "1.80"
		}},
	}

	for _, tc := range testCases {
		t.Run(tc.Scenario, func(t *testing.T) {
			c := Default()
			tc.Mutate(c)
			err := c.Validate()
			if tc.Error == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, waiters.IsConfigurationError(err))
			assert.Contains(t, err.Error(), tc.Error)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("endpoint: http://ironic.example.com:6385/v1/\nassociation_timeout: 5\n"), 0o600))
	t.Setenv("IRONIC_MICROVERSION", "1.81")
	t.Setenv("IRONIC_INSECURE", "true")

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://ironic.example.com:6385/v1/", c.Endpoint)
	assert.Equal(t, "1.81", c.MaxMicroversion)
	assert.True(t, c.TLS().InsecureSkipVerify)
	assert.Equal(t, 5*time.Second, c.Timeouts().Association)
}

func TestLoadEnvironmentOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("endpoint: http://file.example.com/v1/\n"), 0o600))
	t.Setenv("IRONIC_ENDPOINT", "http://env.example.com/v1/")
	t.Setenv("IRONIC_AUTH_STRATEGY", "http_basic")
	t.Setenv("IRONIC_HTTP_BASIC_USERNAME", "admin")
	t.Setenv("IRONIC_HTTP_BASIC_PASSWORD", "secret")

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://env.example.com/v1/", c.Endpoint)

	auth, err := c.Auth()
	require.NoError(t, err)
	assert.Equal(t, clients.AuthConfig{Type: clients.HTTPBasicAuth, Username: "admin", Password: "secret"}, auth)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestAuthFromAuthRoot(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "ironic"), 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(root, "ironic", "username"), []byte("file-user\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(root, "ironic", "password"), []byte("file-pass\n"), 0o600))

	c := Default()
	c.AuthStrategy = "http_basic"
	c.AuthRoot = root
	require.NoError(t, c.Validate())

	auth, err := c.Auth()
	require.NoError(t, err)
	assert.Equal(t, "file-user", auth.Username)
	assert.Equal(t, "file-pass", auth.Password)
}

func TestTimeouts(t *testing.T) {
	c := Default()
	c.BuildInterval = 2
	c.UnprovisionTimeout = 0

	timeouts := c.Timeouts()
	assert.Equal(t, 2*time.Second, timeouts.BuildInterval)
	assert.Equal(t, time.Duration(0), timeouts.Unprovision)
	assert.Equal(t, 300*time.Second, timeouts.Build)
	assert.Equal(t, 15*time.Second, timeouts.Deploywait)
	assert.Equal(t, 10*time.Second, timeouts.Inspect)
}

func TestInterfaceEnabled(t *testing.T) {
	c := Default()
	assert.True(t, c.InterfaceEnabled("deploy", "direct"))
	assert.False(t, c.InterfaceEnabled("rescue", "agent"))
	assert.False(t, c.InterfaceEnabled("unknown", "fake"))
	assert.True(t, c.HardwareTypeEnabled("ipmi"))
}
