package cli

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/AreTaj/Migraine-Navigator/internal/config"
	"github.com/AreTaj/Migraine-Navigator/internal/shell"
	"github.com/AreTaj/Migraine-Navigator/internal/tui"
)

func newRunCmd(ctx *context) *cobra.Command {
	var (
		headless bool
		apiAddr  string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Open the window and supervise the bundled backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := ctx.loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("api") {
				doc.API.Enabled = true
				if apiAddr != "" {
					doc.API.Addr = apiAddr
				}
				if err := doc.Validate(); err != nil {
					return err
				}
			}

			level := ctx.level(doc)
			interactive := !headless && supportsInteractiveOutput(cmd)

			var (
				logger *slog.Logger
				window shell.Window
			)
			if interactive {
				fileLogger, closeLog, err := openShellLog(doc, level)
				if err != nil {
					return err
				}
				defer closeLog()
				logger = fileLogger
				window = tui.New(
					tui.WithMode(ctx.mode.String()),
					tui.WithSidecarName(doc.Sidecar.Name),
				)
			} else {
				logger = newLogger(cmd.ErrOrStderr(), level)
				window = tui.NewHeadless(logger)
			}

			logger.Info("starting shell",
				"mode", ctx.mode.String(),
				"sidecar", doc.Sidecar.Name,
				"api", doc.API.Enabled,
				"interactive", interactive)

			app := shell.New(shell.Options{
				Config: doc,
				Mode:   ctx.mode,
				Logger: logger,
			})
			return app.Run(cmd.Context(), window)
		},
	}

	cmd.Flags().BoolVar(&headless, "headless", false, "Run without the interactive window")
	cmd.Flags().StringVar(&apiAddr, "api", "", "Enable the control API, optionally on the given address")
	cmd.Flags().Lookup("api").NoOptDefVal = config.DefaultAPIAddr

	return cmd
}
