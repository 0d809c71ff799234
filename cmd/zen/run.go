package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/aretw0/zenforge/internal/cli"
	"github.com/aretw0/zenforge/pkg/domain"
	"github.com/spf13/cobra"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run <brief>",
	Short: "Run a pipeline against a brief",
	Long: `Runs the pipeline of the selected mode against the brief and writes the
artifact to the output directory. The brief is read from stdin when it is "-".
With --interactive the brief may be omitted; it is prompted for, and the
interpreter's clarifying questions are asked before the run starts.`,
	Args: cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		interactive, _ := flags.GetBool("interactive")
		var brief string
		if !interactive || len(args) > 0 {
			var err error
			if brief, err = readBrief(cmd, args); err != nil {
				return err
			}
		}
		opts := cli.RunOptions{Brief: brief, Interactive: interactive, Stdin: cmd.InOrStdin(), Stdout: cmd.OutOrStdout()}
		opts.Mode, _ = flags.GetString("mode")
		opts.OutputDir, _ = flags.GetString("output-dir")
		opts.SessionID, _ = flags.GetString("session-id")
		opts.Clarifications, _ = flags.GetStringToString("clarify")
		opts.SaveSession, _ = flags.GetBool("save-session")
		opts.DryRun, _ = flags.GetBool("dry-run")
		opts.SingleModel, _ = flags.GetString("single-model")
		opts.FastMode, _ = flags.GetBool("fast-mode")
		opts.NoRich, _ = flags.GetBool("no-rich")

		return withApp(cmd, func(app *cli.App) error {
			_, err := cli.Run(cmd.Context(), app, opts)
			return err
		})
	},
}

func readBrief(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 1 && args[0] == "-" {
		data, err := io.ReadAll(io.LimitReader(cmd.InOrStdin(), int64(domain.MaxBriefSize)+1))
		if err != nil {
			return "", fmt.Errorf("read brief: %w", err)
		}
		return string(data), nil
	}
	brief := strings.Join(args, " ")
	if strings.TrimSpace(brief) == "" {
		return "", &domain.ConfigurationError{Subject: "brief", Reason: domain.ErrEmptyBrief.Error()}
	}
	return brief, nil
}

func init() {
	rootCmd.AddCommand(runCmd)

	f := runCmd.Flags()
	f.StringP("mode", "m", "", "Pipeline mode: research, project or learn (default DEFAULT_MODE)")
	f.StringP("output-dir", "o", "", "Directory for the artifact (default DEFAULT_OUTPUT_DIR)")
	f.String("session-id", "", "Session ID (default a random UUID)")
	f.StringToString("clarify", nil, "Clarification answers as key=value pairs")
	f.Bool("save-session", false, "Checkpoint the run context after every step")
	f.Bool("dry-run", false, "Print the pipeline and its models without running it")
	f.String("single-model", "", "Run every step on this model")
	f.Bool("fast-mode", false, "Run every step on the configured single model")
	f.Bool("no-rich", false, "Plain output without colors or Markdown preview")
	f.BoolP("interactive", "i", false, "Prompt for the brief and clarifying questions, then confirm")

	rootCmd.Flags().AddFlagSet(f)
	// A bare `zen "brief"` behaves like `zen run "brief"`.
	rootCmd.Args = cobra.ArbitraryArgs
	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		if interactive, _ := cmd.Flags().GetBool("interactive"); len(args) == 0 && !interactive {
			return cmd.Help()
		}
		return runCmd.RunE(cmd, args)
	}
}
