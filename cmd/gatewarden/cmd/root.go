package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "gatewarden",
	Short: "Gatewarden is a policy-gated authentication service",
	Long: `An authentication gate: account-usage policy checks, custom
second-factor challenges, and short-lived credential caching for
downstream resources.`,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
