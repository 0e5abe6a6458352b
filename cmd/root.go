package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "specter",
	Short: "Personal desktop assistant",
	Long:  "Specter routes what you type or say to capability modules (weather, news, reminders, files, apps, system, music) and falls back to a conversational model.",
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
