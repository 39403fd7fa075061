package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/jpfielding/j2kcore/pkg/logging"
	"github.com/spf13/cobra"
)

func NewRoot(ctx context.Context, gitsha string) *cobra.Command {
	var logFile io.Closer
	cmd := &cobra.Command{
		Use:   "j2kctl",
		Short: "a CLI to inspect JPEG 2000 code-block geometry and Tier-1 coding",
		Long:  "j2kctl builds the resolution/subband/precinct/code-block hierarchy of a tile and runs Tier-1 round trips over it",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logLevel, _ := cmd.Flags().GetString("log-level")
			logPath, _ := cmd.Flags().GetString("log-file")
			asJSON, _ := cmd.Flags().GetBool("json")

			// Parse log level
			var level slog.Level
			levelErr := level.UnmarshalText([]byte(strings.ToUpper(logLevel)))
			if levelErr != nil {
				level = slog.LevelInfo
			}
			var out io.Writer = os.Stderr
			if logPath != "" {
				f := logging.RotatingFile(logPath, 10, 3)
				out, logFile = f, f
			}
			slog.SetDefault(logging.Logger(out, asJSON, level))

			if levelErr != nil {
				slog.WarnContext(ctx, "Invalid log level, defaulting to INFO", "level", logLevel, "error", levelErr)
			}
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logFile != nil {
				logFile.Close()
			}
		},
		Run: func(cmd *cobra.Command, args []string) {
			printCommandTree(cmd, 0)
		},
	}
	cmd.AddCommand(
		NewVersionCmd(ctx, gitsha),
		NewGeometryCmd(ctx),
		NewRoundTripCmd(ctx),
		NewInspectCmd(ctx),
	)
	pf := cmd.PersistentFlags()
	pf.String("log-level", "INFO", "Log level (DEBUG, INFO, WARN, ERROR)")
	pf.String("log-file", "", "Write logs to this rotating file instead of stderr")
	pf.Bool("json", false, "Log as json")
	return cmd
}

func printCommandTree(cmd *cobra.Command, indent int) {
	fmt.Fprintln(cmd.OutOrStdout(), strings.Repeat("\t", indent), cmd.Use+":", cmd.Short)
	for _, subCmd := range cmd.Commands() {
		printCommandTree(subCmd, indent+1)
	}
}

func NewVersionCmd(ctx context.Context, gitsha string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "git sha for this build",
		Long:  "git sha for this build",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), gitsha)
		},
	}
	return cmd
}
