// Package cli implements the issuemind operator command line. Commands run
// against the configured database with the same services as the server.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"issuemind.app/triage/common/id"
	"issuemind.app/triage/common/logger"
	"issuemind.app/triage/core/config"
	"issuemind.app/triage/internal/bootstrap"
)

// Package-level shared dependencies, set up before each command runs.
var (
	ui *UI
	rt *bootstrap.Runtime

	noColor bool
	verbose bool

	// openRuntime is replaced in tests.
	openRuntime = func(ctx context.Context) (*bootstrap.Runtime, error) {
		cfg, err := config.Load(config.ServiceTypeCLI)
		if err != nil {
			return nil, err
		}
		if verbose {
			logger.SetupWriter(cfg, os.Stderr)
		} else {
			slog.SetDefault(slog.New(slog.DiscardHandler))
		}
		if err := id.Init(3); err != nil {
			return nil, fmt.Errorf("initializing id generator: %w", err)
		}
		return bootstrap.Open(ctx, cfg)
	}
)

var rootCmd = &cobra.Command{
	Use:   "issuemind",
	Short: "Operate the IssueMind triage service",
	Long: `issuemind manages mirrored repositories, their issues and the AI tasks
run against them. It talks to the same database as the server.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if noColor {
			color.NoColor = true
		}
		if ui == nil {
			ui = NewUI()
		}
		if rt != nil {
			return nil
		}
		var err error
		rt, err = openRuntime(cmd.Context())
		return err
	},
}

// Execute runs the command line and exits non-zero on failure.
func Execute() {
	defer closeRuntime()

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", red("Error:"), err)
		closeRuntime()
		os.Exit(1)
	}
}

func closeRuntime() {
	if rt != nil {
		rt.Close()
		rt = nil
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable coloured output")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Show service logs")
}

func parseID(arg, what string) (int64, error) {
	n, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s %q", what, arg)
	}
	return n, nil
}
