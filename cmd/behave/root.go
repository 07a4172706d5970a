package main

import (
	"github.com/spf13/cobra"

	"github.com/zeusync/behave/internal/core/bt"
	"github.com/zeusync/behave/internal/core/bt/nodes"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "behave",
		Short:         "behave runs event-driven behavior trees",
		Long:          `behave loads behavior tree descriptions, binds them to actors and ticks them, routing events between actors and websocket clients.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().Bool("profile-nodes", true, "Register the profile-only example nodes")

	root.AddCommand(newRunCmd(), newValidateCmd(), newDescribeCmd(), newNodesCmd())
	return root
}

func registry(cmd *cobra.Command) (*bt.Registry, error) {
	profile, _ := cmd.Flags().GetBool("profile-nodes")
	return nodes.NewRegistry(nodes.WithProfileNodes(profile))
}

func buildFile(reg *bt.Registry, path string) (*bt.Tree, error) {
	desc, err := bt.LoadFile(path)
	if err != nil {
		return nil, err
	}
	return bt.Build(desc, reg)
}
