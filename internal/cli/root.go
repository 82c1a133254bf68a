package cli

import (
	stdcontext "context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AreTaj/Migraine-Navigator/internal/buildmode"
	"github.com/AreTaj/Migraine-Navigator/internal/config"
)

func NewRootCmd() *cobra.Command {
	root, _ := newRootCommand()
	return root
}

func newRootCommand() (*cobra.Command, *context) {
	ctx := &context{
		configPath: os.Getenv("NAVIGATOR_CONFIG"),
		mode:       buildmode.Current,
	}

	root := &cobra.Command{
		Use:   "navigator",
		Short: "Desktop shell for Migraine Navigator",
		Long: "Starts the Migraine Navigator window and, in release builds, the bundled\n" +
			"backend it talks to. The backend lives exactly as long as the shell.",
		Args: cobra.NoArgs,
	}

	root.PersistentFlags().StringVarP(&ctx.configPath, "config", "c", ctx.configPath, "Path to navigator.yaml (default ./navigator.yaml when present)")
	root.PersistentFlags().StringVar(&ctx.logLevel, "log-level", "", "Shell log level (debug, info, warn, error)")

	run := newRunCmd(ctx)
	root.Flags().AddFlagSet(run.Flags())
	root.RunE = run.RunE

	root.AddCommand(run)
	root.AddCommand(newStatusCmd(ctx))
	root.AddCommand(newResolveCmd(ctx))
	root.AddCommand(newConfigCmd(ctx))

	root.SilenceUsage = true
	root.SilenceErrors = true

	return root, ctx
}

// Execute runs the CLI entrypoint.
func Execute() {
	ctx, stop := signal.NotifyContext(stdcontext.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := NewRootCmd()
	root.SetContext(ctx)

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

// context carries flag values shared by subcommands.
type context struct {
	configPath string
	logLevel   string
	mode       buildmode.Mode
}

// loadConfig reads the manifest, overlays NAVIGATOR_* variables and the
// --log-level flag.
func (c *context) loadConfig() (*config.Shell, error) {
	explicit := c.configPath != ""
	doc, err := config.LoadOrDefault(c.configPath, explicit)
	if err != nil {
		return nil, err
	}
	if err := doc.ApplyEnv(); err != nil {
		return nil, err
	}
	if c.logLevel != "" {
		if _, err := config.ParseLevel(c.logLevel); err != nil {
			return nil, fmt.Errorf("--log-level: %w", err)
		}
		doc.Logging.Level = strings.ToLower(c.logLevel)
	}
	return doc, nil
}

func (c *context) level(doc *config.Shell) slog.Level {
	level, err := config.ParseLevel(doc.Logging.Level)
	if err != nil {
		return slog.LevelInfo
	}
	return level
}
