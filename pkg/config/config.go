package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"slices"

	"github.com/creasty/defaults"
	"github.com/kelseyhightower/envconfig"
	"sigs.k8s.io/yaml"

	"github.com/metal3-io/ironic-conformance/pkg/ironic/clients"
	"github.com/metal3-io/ironic-conformance/pkg/manager"
	"github.com/metal3-io/ironic-conformance/pkg/waiters"
)

// Config describes the Ironic deployment under test and how long to wait
// for it.
type Config struct {
	Endpoint     string `json:"endpoint" default:"http://localhost:6385/v1/"`
	AuthStrategy string `json:"auth_strategy" default:"noauth"`
	Username     string `json:"username,omitempty"`
	Password     string `json:"password,omitempty"`
	// AuthRoot is a directory holding ironic/username and ironic/password.
	AuthRoot string `json:"auth_root,omitempty"`

	CACertFile     string `json:"cacert_file,omitempty"`
	ClientCertFile string `json:"client_cert_file,omitempty"`
	ClientKeyFile  string `json:"client_key_file,omitempty"`
	Insecure       bool   `json:"insecure,omitempty"`

	Driver string `json:"driver" default:"fake-hardware"`

	DeploywaitTimeout  Seconds `json:"deploywait_timeout" default:"15"`
	ActiveTimeout      Seconds `json:"active_timeout" default:"300"`
	AssociationTimeout Seconds `json:"association_timeout" default:"30"`
	PowerTimeout       Seconds `json:"power_timeout" default:"60"`
	UnprovisionTimeout Seconds `json:"unprovision_timeout" default:"300"`
	RescueTimeout      Seconds `json:"rescue_timeout" default:"300"`
	UnrescueTimeout    Seconds `json:"unrescue_timeout" default:"300"`
	InspectTimeout     Seconds `json:"inspect_timeout" default:"10"`
	BuildTimeout       Seconds `json:"build_timeout" default:"300"`
	BuildInterval      Seconds `json:"build_interval" default:"1"`

	MinMicroversion string `json:"min_microversion,omitempty"`
	MaxMicroversion string `json:"max_microversion" default:"latest"`

	EnabledDrivers              []string `json:"enabled_drivers" default:"[\"fake\",\"pxe_ipmitool\",\"agent_ipmitool\"]"`
	EnabledHardwareTypes        []string `json:"enabled_hardware_types" default:"[\"ipmi\"]"`
	EnabledBiosInterfaces       []string `json:"enabled_bios_interfaces" default:"[\"fake\"]"`
	EnabledDeployInterfaces     []string `json:"enabled_deploy_interfaces" default:"[\"iscsi\",\"direct\"]"`
	EnabledRescueInterfaces     []string `json:"enabled_rescue_interfaces" default:"[\"no-rescue\"]"`
	EnabledBootInterfaces       []string `json:"enabled_boot_interfaces" default:"[\"fake\",\"pxe\"]"`
	EnabledRaidInterfaces       []string `json:"enabled_raid_interfaces" default:"[\"no-raid\",\"agent\"]"`
	EnabledManagementInterfaces []string `json:"enabled_management_interfaces" default:"[\"fake\",\"ipmitool\",\"noop\"]"`
	EnabledPowerInterfaces      []string `json:"enabled_power_interfaces" default:"[\"fake\",\"ipmitool\"]"`
	DefaultRescueInterface      string   `json:"default_rescue_interface,omitempty"`

	AdjustedRootDiskSizeGB int    `json:"adjusted_root_disk_size_gb,omitempty"`
	PartitionImageRef      string `json:"partition_image_ref,omitempty"`
	WholeDiskImageRef      string `json:"whole_disk_image_ref,omitempty"`
}

// environment holds the settings that may be overridden from the
// environment. It is kept apart from Config because envconfig would
// otherwise apply the default tags too.
type environment struct {
	Endpoint     string `envconfig:"IRONIC_ENDPOINT"`
	AuthStrategy string `envconfig:"IRONIC_AUTH_STRATEGY"`
	Username     string `envconfig:"IRONIC_HTTP_BASIC_USERNAME"`
	Password     string `envconfig:"IRONIC_HTTP_BASIC_PASSWORD"`
	Microversion string `envconfig:"IRONIC_MICROVERSION"`
	Insecure     *bool  `envconfig:"IRONIC_INSECURE"`
	CACertFile   string `envconfig:"IRONIC_CACERT_FILE"`
}

// Default returns the configuration with every default applied.
func Default() *Config {
	c := &Config{}
	if err := defaults.Set(c); err != nil {
		panic(err)
	}
	return c
}

// Load reads the YAML file at path, when given, over the defaults, applies
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	c := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := Parse(data, c); err != nil {
			return nil, err
		}
	}
	if err := c.applyEnvironment(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Parse decodes YAML into c. Fields absent from data keep their values.
func Parse(data []byte, c *Config) error {
	if err := yaml.UnmarshalStrict(data, c); err != nil {
		var cfgErr waiters.ConfigurationError
		if errors.As(err, &cfgErr) {
			return cfgErr
		}
		return waiters.ConfigurationError{Message: err.Error()}
	}
	return nil
}

func (c *Config) applyEnvironment() error {
	var env environment
	if err := envconfig.Process("", &env); err != nil {
		return waiters.ConfigurationError{Message: err.Error()}
	}
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&c.Endpoint, env.Endpoint)
	set(&c.AuthStrategy, env.AuthStrategy)
	set(&c.Username, env.Username)
	set(&c.Password, env.Password)
	set(&c.MaxMicroversion, env.Microversion)
	set(&c.CACertFile, env.CACertFile)
	if env.Insecure != nil {
		c.Insecure = *env.Insecure
	}
	return nil
}

// Validate reports the first setting that cannot be used.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return waiters.ConfigurationError{Message: fmt.Sprintf(format, args...)}
	}

	if u, err := url.Parse(c.Endpoint); err != nil || u.Scheme == "" || u.Host == "" {
		return invalid("endpoint %q is not an absolute URL", c.Endpoint)
	}
	switch clients.AuthType(c.AuthStrategy) {
	case clients.NoAuth:
	case clients.HTTPBasicAuth:
		if c.AuthRoot == "" && (c.Username == "" || c.Password == "") {
			return invalid("auth_strategy %s needs a username and a password", c.AuthStrategy)
		}
	default:
		return invalid("unknown auth_strategy %q, set to %s or %s", c.AuthStrategy, clients.NoAuth, clients.HTTPBasicAuth)
	}
	if c.Driver == "" {
		return invalid("driver must not be empty")
	}
	minVersion, maxVersion, err := c.MicroversionRange()
	if err != nil {
		return err
	}
	if !minVersion.IsZero() && maxVersion.LessThan(minVersion) {
		return invalid("min_microversion %s is newer than max_microversion %s", minVersion, maxVersion)
	}
	return nil
}

// MicroversionRange returns the configured bounds. An unset minimum is the
// zero Microversion.
func (c *Config) MicroversionRange() (minVersion, maxVersion clients.Microversion, err error) {
	minVersion, err = clients.ParseMicroversion(c.MinMicroversion)
	if err != nil {
		return minVersion, maxVersion, waiters.ConfigurationError{Message: fmt.Sprintf("min_microversion: %s", err)}
	}
	maxVersion, err = clients.ParseMicroversion(c.MaxMicroversion)
	if err != nil {
		return minVersion, maxVersion, waiters.ConfigurationError{Message: fmt.Sprintf("max_microversion: %s", err)}
	}
	if maxVersion.IsZero() {
		maxVersion = clients.Latest
	}
	return minVersion, maxVersion, nil
}

// Auth returns the credentials for the client. Credentials under AuthRoot
// take precedence over the inline username and password.
func (c *Config) Auth() (clients.AuthConfig, error) {
	if clients.AuthType(c.AuthStrategy) == clients.HTTPBasicAuth && c.AuthRoot != "" {
		auth, err := clients.LoadAuth(c.AuthRoot)
		if err != nil {
			return auth, fmt.Errorf("failed to load credentials from %s: %w", c.AuthRoot, err)
		}
		if auth.Type == clients.HTTPBasicAuth {
			return auth, nil
		}
	}
	auth := clients.AuthConfig{
		Type:     clients.AuthType(c.AuthStrategy),
		Username: c.Username,
		Password: c.Password,
	}
	return auth, auth.Validate()
}

// TLS returns the transport settings for the client.
func (c *Config) TLS() clients.TLSConfig {
	return clients.TLSConfig{
		TrustedCAFile:         c.CACertFile,
		ClientCertificateFile: c.ClientCertFile,
		ClientPrivateKeyFile:  c.ClientKeyFile,
		InsecureSkipVerify:    c.Insecure,
	}
}

// Timeouts returns the waits used by the scenario manager.
func (c *Config) Timeouts() manager.Timeouts {
	t := manager.DefaultTimeouts()
	t.Build = c.BuildTimeout.Duration()
	t.BuildInterval = c.BuildInterval.Duration()
	t.Active = c.ActiveTimeout.Duration()
	t.Association = c.AssociationTimeout.Duration()
	t.Power = c.PowerTimeout.Duration()
	t.Unprovision = c.UnprovisionTimeout.Duration()
	t.Rescue = c.RescueTimeout.Duration()
	t.Unrescue = c.UnrescueTimeout.Duration()
	t.Deploywait = c.DeploywaitTimeout.Duration()
	t.Inspect = c.InspectTimeout.Duration()
	return t
}

// InterfaceEnabled reports whether impl is configured for the hardware
// interface iface (bios, deploy, rescue, boot, raid, management, power).
func (c *Config) InterfaceEnabled(iface, impl string) bool {
	var enabled []string
	switch iface {
	case "bios":
		enabled = c.EnabledBiosInterfaces
	case "deploy":
		enabled = c.EnabledDeployInterfaces
	case "rescue":
		enabled = c.EnabledRescueInterfaces
	case "boot":
		enabled = c.EnabledBootInterfaces
	case "raid":
		enabled = c.EnabledRaidInterfaces
	case "management":
		enabled = c.EnabledManagementInterfaces
	case "power":
		enabled = c.EnabledPowerInterfaces
	}
	return slices.Contains(enabled, impl)
}

// HardwareTypeEnabled reports whether the hardware type is configured.
func (c *Config) HardwareTypeEnabled(name string) bool {
	return slices.Contains(c.EnabledHardwareTypes, name)
}
