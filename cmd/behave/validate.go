package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate FILE...",
		Short: "Check tree descriptions",
		Long:  `Builds every description against the node registry and reports unknown types, bad attributes and structural errors.`,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := registry(cmd)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			var failed []error
			for _, path := range args {
				tree, err := buildFile(reg, path)
				if err != nil {
					fmt.Fprintf(out, "FAIL %s: %v\n", path, err)
					failed = append(failed, fmt.Errorf("%s: %w", path, err))
					continue
				}
				fmt.Fprintf(out, "ok   %s: %s\n", path, tree)
			}
			if len(failed) > 0 {
				return fmt.Errorf("%d of %d descriptions invalid: %w", len(failed), len(args), errors.Join(failed...))
			}
			return nil
		},
	}
}
