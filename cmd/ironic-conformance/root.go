package main

import (
	"fmt"
	"io"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"sigs.k8s.io/yaml"

	"github.com/metal3-io/ironic-conformance/pkg/config"
	"github.com/metal3-io/ironic-conformance/pkg/ironic/baremetal"
	"github.com/metal3-io/ironic-conformance/pkg/ironic/clients"
	"github.com/metal3-io/ironic-conformance/pkg/manager"
	"github.com/metal3-io/ironic-conformance/pkg/version"
)

// globalOptions holds the persistent flags shared by every subcommand.
type globalOptions struct {
	configPath   string
	endpoint     string
	microversion string
	dev          bool

	log logr.Logger
}

func newRootCommand() *cobra.Command {
	opts := &globalOptions{log: logr.Discard()}

	cmd := &cobra.Command{
		Use:   "ironic-conformance",
		Short: "Wait for, reserve and inspect Ironic bare metal resources",
		Long: `ironic-conformance exposes the helpers used by the Ironic integration
tests: waiting for node and allocation states, reserving available nodes
and reporting the microversions a deployment serves.`,
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			logger, err := newLogger(opts.dev)
			if err != nil {
				return err
			}
			opts.log = logger
			version.Log(opts.log.V(1))
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "path to the YAML configuration file")
	flags.StringVar(&opts.endpoint, "endpoint", "", "Ironic API endpoint, overrides the configuration")
	flags.StringVar(&opts.microversion, "microversion", "", "maximum API microversion to request, overrides the configuration")
	flags.BoolVar(&opts.dev, "dev", false, "enable dev logging")

	cmd.AddCommand(
		newWaitNodeStateCommand(opts),
		newWaitAllocationCommand(opts),
		newReserveNodeCommand(opts),
		newUnreserveNodeCommand(opts),
		newMicroversionsCommand(opts),
		newVersionCommand(),
	)
	return cmd
}

// newLogger builds the zap logger behind the logr interface.
func newLogger(dev bool) (logr.Logger, error) {
	zapConfig := zap.NewProductionConfig()
	if dev {
		zapConfig = zap.NewDevelopmentConfig()
	}
	zapLog, err := zapConfig.Build()
	if err != nil {
		return logr.Discard(), fmt.Errorf("failed to create logger: %w", err)
	}
	return zapr.NewLogger(zapLog), nil
}

func (o *globalOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.endpoint == "" && o.microversion == "" {
		return cfg, nil
	}
	if o.endpoint != "" {
		cfg.Endpoint = o.endpoint
	}
	if o.microversion != "" {
		cfg.MaxMicroversion = o.microversion
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (o *globalOptions) newClient(cfg *config.Config) (*baremetal.Client, error) {
	auth, err := cfg.Auth()
	if err != nil {
		return nil, err
	}
	service, err := clients.IronicClient(cfg.Endpoint, auth, cfg.TLS())
	if err != nil {
		return nil, fmt.Errorf("failed to create ironic client: %w", err)
	}
	_, maxVersion, err := cfg.MicroversionRange()
	if err != nil {
		return nil, err
	}
	return baremetal.New(service,
		baremetal.WithDefaultDriver(cfg.Driver),
		baremetal.WithRequestMicroversion(maxVersion),
		baremetal.WithLogger(o.log.WithName("baremetal")),
	), nil
}

func (o *globalOptions) newManager() (*manager.Manager, *config.Config, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	client, err := o.newClient(cfg)
	if err != nil {
		return nil, nil, err
	}
	m := manager.New(client, nil,
		manager.WithTimeouts(cfg.Timeouts()),
		manager.WithLogger(o.log.WithName("manager")),
	)
	return m, cfg, nil
}

func printYAML(out io.Writer, obj any) error {
	data, err := yaml.Marshal(obj)
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	_, err = out.Write(data)
	return err
}
