package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/aretw0/zenforge/internal/cli"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "zen",
	Short: "Zen Forge turns a short brief into a structured document",
	Long: `Zen Forge runs a pipeline of local language model agents against a brief
and writes the resulting research report, project plan or learning path as Markdown.
Only one model is resident on the GPU at any time.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	sc := cli.NewSignalContext(context.Background())
	err := rootCmd.ExecuteContext(sc)
	sc.Cancel()
	if sc.Signal() != nil && !errors.Is(err, context.Canceled) {
		err = errors.Join(err, context.Canceled)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(cli.ExitCode(err))
}

func init() {
	rootCmd.PersistentFlags().String("config-dir", "", "Directory containing agents.yaml, hardware.yaml and prompt overrides")
	rootCmd.PersistentFlags().String("env-file", "", "Settings file (default .env)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "Only log errors")
}

// bootstrap builds the app from the persistent flags.
func bootstrap(cmd *cobra.Command) (*cli.App, error) {
	flags := cmd.Flags()
	configDir, _ := flags.GetString("config-dir")
	envFile, _ := flags.GetString("env-file")
	verbose, _ := flags.GetBool("verbose")
	quiet, _ := flags.GetBool("quiet")
	return cli.Bootstrap(cli.Globals{
		ConfigDir: configDir,
		EnvFile:   envFile,
		Verbose:   verbose,
		Quiet:     quiet,
		Stderr:    cmd.ErrOrStderr(),
	})
}

// withApp runs fn with a bootstrapped app and closes it afterwards.
func withApp(cmd *cobra.Command, fn func(app *cli.App) error) error {
	app, err := bootstrap(cmd)
	if err != nil {
		return err
	}
	defer app.Close()
	return fn(app)
}
