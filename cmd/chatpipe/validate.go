package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/smallnest/chatpipe/pipeline"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate FILE...",
		Short: "Check pipeline definitions without running them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			failed := 0
			for _, path := range args {
				g, err := pipeline.LoadFile(path)
				if err != nil {
					failed++
					fmt.Fprintf(out, "%s %s: %v\n", errorStyle.Render("✗"), path, err)
					continue
				}
				fmt.Fprintf(out, "%s %s %s\n", okStyle.Render("✓"), path,
					labelStyle.Render(fmt.Sprintf("(%s, %d nodes)", g.ID, len(g.Nodes()))))
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d pipelines invalid", failed, len(args))
			}
			return nil
		},
	}
}
