package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zeusync/behave/internal/core/bt"
)

func newDescribeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "describe FILE",
		Short: "Print a tree in canonical form",
		Long:  `Builds the description and writes it back as the runtime sees it: names, attributes and defaults filled in.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := registry(cmd)
			if err != nil {
				return err
			}
			tree, err := buildFile(reg, args[0])
			if err != nil {
				return err
			}
			format, _ := cmd.Flags().GetString("format")
			out := cmd.OutOrStdout()
			switch format {
			case "yaml":
				return tree.Describe().WriteYAML(out)
			case "json":
				return tree.Describe().WriteJSON(out)
			case "outline":
				return writeOutline(out, tree)
			default:
				return fmt.Errorf("unknown format %q, want yaml, json or outline", format)
			}
		},
	}
	cmd.Flags().StringP("format", "f", "yaml", "Output format: yaml, json or outline")
	return cmd
}

func writeOutline(w io.Writer, tree *bt.Tree) error {
	for id := bt.NodeID(0); int(id) < tree.Len(); id++ {
		depth := 0
		for p := tree.Parent(id); p != bt.NoNode; p = tree.Parent(p) {
			depth++
		}
		info := tree.Info(id)
		label := info.Type
		if info.Name != info.Type {
			label = info.Name + " (" + info.Type + ")"
		}
		if _, err := fmt.Fprintf(w, "%s%s [%s]\n", strings.Repeat("  ", depth), label, info.Kind); err != nil {
			return err
		}
	}
	return nil
}
