package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AreTaj/Migraine-Navigator/internal/sidecar"
)

func newResolveCmd(ctx *context) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Print the backend executable this build would spawn",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := ctx.loadConfig()
			if err != nil {
				return err
			}
			resolver := sidecar.NewResolver(doc.Sidecar)
			out := cmd.OutOrStdout()

			if all {
				candidates, err := resolver.Candidates()
				if err != nil {
					return err
				}
				for _, candidate := range candidates {
					fmt.Fprintln(out, candidate)
				}
				return nil
			}

			path, err := resolver.Resolve()
			if err != nil {
				return err
			}
			fmt.Fprintln(out, path)
			if !ctx.mode.Spawns() {
				fmt.Fprintf(cmd.ErrOrStderr(), "note: %s build, the shell does not spawn the backend\n", ctx.mode)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "List every candidate path in lookup order")
	return cmd
}
