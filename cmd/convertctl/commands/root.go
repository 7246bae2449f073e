// Package commands は convertctl のサブコマンドを定義します。
package commands

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	serverURL string
	apiKey    string
)

var rootCmd = &cobra.Command{
	Use:   "convertctl",
	Short: "convert-forge client",
	Long: `convertctl submits conversion jobs to a convert-forge API server,
checks their status, downloads results, and previews PDF text layout locally.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", envOr("CONVERTCTL_SERVER", "http://localhost:8080"), "API server base URL")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", os.Getenv("CONVERTCTL_API_KEY"), "API key sent as X-API-Key")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
