package main

import (
	"github.com/aretw0/zenforge/internal/cli"
	"github.com/aretw0/zenforge/pkg/adapters/ollama"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the agent registry against the hardware profile",
	RunE: func(cmd *cobra.Command, args []string) error {
		ping, _ := cmd.Flags().GetBool("ping")
		return withApp(cmd, func(app *cli.App) error {
			return cli.Validate(cmd.Context(), app, ping, cmd.OutOrStdout())
		})
	},
}

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the models installed on the inference endpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(app *cli.App) error {
			client := ollama.New(app.Settings.OllamaBaseURL, ollama.WithLogger(app.Logger))
			return cli.ListModels(cmd.Context(), client, cmd.OutOrStdout())
		})
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(modelsCmd)
	validateCmd.Flags().Bool("ping", false, "Also check that every configured model is installed")
}
