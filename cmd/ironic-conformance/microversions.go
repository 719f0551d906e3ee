package main

import (
	"github.com/spf13/cobra"
)

func newMicroversionsCommand(global *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "microversions",
		Short: "Report the API microversions served by Ironic",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, cfg, err := global.newManager()
			if err != nil {
				return err
			}
			features, err := m.Client().Versions(cmd.Context())
			if err != nil {
				return err
			}
			features.Log(global.log)
			_, maxVersion, err := cfg.MicroversionRange()
			if err != nil {
				return err
			}
			return printYAML(cmd.OutOrStdout(), map[string]any{
				"min":      features.Min().String(),
				"max":      features.Max().String(),
				"selected": features.ChooseMicroversion(maxVersion).String(),
				"features": map[string]bool{
					"inventory": features.HasInventory(),
					"shards":    features.HasShards(),
					"runbooks":  features.HasRunbooks(),
				},
			})
		},
	}
}
