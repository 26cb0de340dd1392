package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/HaugrNet/eds-sub006/server/core/config"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

const redacted = "********"

var configForce bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Create or inspect the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a configuration file with default values",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(configPath); err == nil && !configForce {
			return fmt.Errorf("%s already exists, use --force to overwrite it", configPath)
		}

		cfg := config.DefaultConfig()
		if err := cfg.SaveConfig(configPath); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), color.GreenString("✓")+" Wrote default configuration to "+color.YellowString(configPath)+"\n"+
			color.CyanString("→")+" Set "+color.YellowString("jwt_secret")+" to keep sessions valid across restarts")
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration with secrets redacted",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		shown := *cfg
		for _, secret := range []*string{&shown.DefaultMasterSecret, &shown.JWTSecret, &shown.SMTP.Password} {
			if *secret != "" {
				*secret = redacted
			}
		}

		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(shown)
	},
}

func init() {
	configInitCmd.Flags().BoolVarP(&configForce, "force", "f", false, "overwrite an existing configuration file")
	configCmd.AddCommand(configInitCmd, configShowCmd)
	rootCmd.AddCommand(configCmd)
}

// loadConfig applies the .env file, loads the JSON file and validates the result
func loadConfig() (*config.Config, error) {
	if err := config.LoadEnvFile(envPath); err != nil {
		return nil, err
	}
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
