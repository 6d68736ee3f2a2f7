package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/scharc/boxctl/internal/agentconf"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Merge or split agent configs by hand",
}

var configMergeCmd = &cobra.Command{
	Use:   "merge [agent...]",
	Short: "Write baseline plus project config to the runtime config",
	RunE: func(cmd *cobra.Command, args []string) error {
		return forEachPair(cmd, args, "merged", (*agentconf.Engine).Merge)
	},
}

var configSplitCmd = &cobra.Command{
	Use:   "split [agent...]",
	Short: "Write the runtime config's differences from baseline to the project config",
	RunE: func(cmd *cobra.Command, args []string) error {
		return forEachPair(cmd, args, "split", (*agentconf.Engine).Split)
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show <agent>",
	Short: "Print the merged config of an agent without writing it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pairs, err := agentconf.Pairs(syncLocations(), args[0])
		if err != nil {
			return err
		}
		data, err := newEngine().Render(pairs[0])
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

func init() {
	for _, c := range []*cobra.Command{configMergeCmd, configSplitCmd, configShowCmd} {
		addLocationFlags(c)
		configCmd.AddCommand(c)
	}
	rootCmd.AddCommand(configCmd)
}

func forEachPair(cmd *cobra.Command, names []string, verb string, op func(*agentconf.Engine, context.Context, *agentconf.Pair) error) error {
	pairs, err := agentconf.Pairs(syncLocations(), names...)
	if err != nil {
		return err
	}
	engine := newEngine()

	var failed int
	for _, p := range pairs {
		if err := op(engine, cmd.Context(), p); err != nil {
			logWarning("%s: %v", p.Agent.Name, err)
			failed++
			continue
		}
		logSuccess("%s: %s", p.Agent.Name, verb)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d agents failed", failed, len(pairs))
	}
	return nil
}
