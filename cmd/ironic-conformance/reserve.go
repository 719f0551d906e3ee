package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newReserveNodeCommand(global *globalOptions) *cobra.Command {
	var nodeID string
	cmd := &cobra.Command{
		Use:   "reserve-node",
		Short: "Associate an available node with a fresh instance UUID",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, _, err := global.newManager()
			if err != nil {
				return err
			}
			node, err := m.ReserveNode(cmd.Context(), nodeID)
			if err != nil {
				return err
			}
			return printYAML(cmd.OutOrStdout(), map[string]any{
				"node":          node["uuid"],
				"instance_uuid": node["instance_uuid"],
			})
		},
	}
	cmd.Flags().StringVar(&nodeID, "node", "", "node to reserve, any available node when empty")
	return cmd
}

func newUnreserveNodeCommand(global *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "unreserve-node <node>",
		Short: "Clear the instance UUID of a node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, _, err := global.newManager()
			if err != nil {
				return err
			}
			if err := m.UnreserveNode(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "node %s released\n", args[0])
			return nil
		},
	}
}
