package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"

	"github.com/metal3-io/ironic-conformance/pkg/waiters"
)

type waitNodeStateOptions struct {
	attr         string
	expect       []string
	timeout      int
	interval     int
	abortOnError bool
}

func newWaitNodeStateCommand(global *globalOptions) *cobra.Command {
	opts := &waitNodeStateOptions{}
	cmd := &cobra.Command{
		Use:   "wait-node-state <node>",
		Short: "Wait for a node attribute to reach one of the expected values",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, cfg, err := global.newManager()
			if err != nil {
				return err
			}
			wait := waiters.StatusOptions{
				Options: waiters.Options{Logger: global.log.WithName("waiters")}.
					WithTimeout(secondsFlag(cmd, "timeout", opts.timeout, cfg.BuildTimeout.Duration())).
					WithInterval(secondsFlag(cmd, "interval", opts.interval, cfg.BuildInterval.Duration())),
				AbortOnErrorState: opts.abortOnError,
			}
			nodeID := args[0]
			fetch := m.Client().NodeFetcher(nodeID)
			if err := waiters.WaitForStatus(cmd.Context(), fetch, nodeID, opts.attr, wait, expectedValues(opts.expect)...); err != nil {
				return err
			}
			node, err := fetch(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "node %s has %s=%v\n", nodeID, opts.attr, node[opts.attr])
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&opts.attr, "attr", "provision_state", "node attribute to watch")
	flags.StringSliceVar(&opts.expect, "expect", nil, "accepted values, \"null\" matches an unset attribute")
	flags.IntVar(&opts.timeout, "timeout", 0, "seconds to wait, defaults to build_timeout")
	flags.IntVar(&opts.interval, "interval", 0, "seconds between polls, defaults to build_interval")
	flags.BoolVar(&opts.abortOnError, "abort-on-error", false, "stop as soon as the node reaches a failure state")
	_ = cmd.MarkFlagRequired("expect")
	return cmd
}

func newWaitAllocationCommand(global *globalOptions) *cobra.Command {
	var (
		expectError bool
		timeout     int
		interval    int
	)
	cmd := &cobra.Command{
		Use:   "wait-allocation <allocation>",
		Short: "Wait for an allocation to leave the allocating state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, cfg, err := global.newManager()
			if err != nil {
				return err
			}
			wait := waiters.Options{Logger: global.log.WithName("waiters")}.
				WithTimeout(secondsFlag(cmd, "timeout", timeout, m.Timeouts().Allocation)).
				WithInterval(secondsFlag(cmd, "interval", interval, cfg.BuildInterval.Duration()))
			allocation, err := waiters.WaitForAllocation(cmd.Context(), m.Client().AllocationFetcher(args[0]), args[0], expectError, wait)
			if err != nil {
				return err
			}
			return printYAML(cmd.OutOrStdout(), allocation)
		},
	}
	flags := cmd.Flags()
	flags.BoolVar(&expectError, "expect-error", false, "treat the error state as a successful outcome")
	flags.IntVar(&timeout, "timeout", 0, "seconds to wait, defaults to 15")
	flags.IntVar(&interval, "interval", 0, "seconds between polls, defaults to build_interval")
	return cmd
}

// secondsFlag returns the flag value when it was given on the command line
// and fallback otherwise. Negative values are passed through for the
// waiters to reject.
func secondsFlag(cmd *cobra.Command, name string, value int, fallback time.Duration) time.Duration {
	if !cmd.Flags().Changed(name) {
		return fallback
	}
	return time.Duration(value) * time.Second
}

// expectedValues decodes each --expect value the way the API encodes it,
// so "true" and "8" match JSON booleans and numbers. Anything that does not
// decode to a scalar stays a string.
func expectedValues(raw []string) []any {
	expected := make([]any, 0, len(raw))
	for _, v := range raw {
		var decoded any
		if v == "" || yaml.Unmarshal([]byte(v), &decoded) != nil {
			expected = append(expected, v)
			continue
		}
		switch decoded.(type) {
		case nil, bool, float64, string:
			expected = append(expected, decoded)
		default:
			expected = append(expected, v)
		}
	}
	return expected
}
