package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	envPath    string
)

var rootCmd = &cobra.Command{
	Use:   "trustcircles",
	Short: "Trustcircles - encrypted data sharing between circles of trusted members.",
	Long: `Trustcircles stores data encrypted under circle keys that only the circle's
trustees can unwrap. Member private keys are sealed under their credentials and
the credential salts are escrowed under a master key.

Usage:
  trustcircles <command> [flags]

Available Commands:
  serve      Run the REST server
  config     Create or inspect the configuration file
`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "trustcircles.json", "path of the JSON configuration file")
	rootCmd.PersistentFlags().StringVar(&envPath, "env", ".env", "path of an optional .env file with TRUSTCIRCLES_* overrides")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
