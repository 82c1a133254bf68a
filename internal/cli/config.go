package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AreTaj/Migraine-Navigator/internal/config"
)

func newConfigCmd(ctx *context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Work with the shell configuration file",
	}
	cmd.AddCommand(newConfigLintCmd(ctx))
	cmd.AddCommand(newConfigPrintCmd(ctx))
	return cmd
}

func newConfigLintCmd(ctx *context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lint",
		Short: "Validate a configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ctx.configPath
			if path == "" {
				path = config.DefaultFile
			}

			if _, err := config.Load(path); err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), err)
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s: OK\n", path)
			return nil
		},
	}
	return cmd
}

func newConfigPrintCmd(ctx *context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "print",
		Short: "Print the effective configuration with defaults and overrides applied",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := ctx.loadConfig()
			if err != nil {
				return err
			}
			data, err := doc.Marshal()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	return cmd
}
