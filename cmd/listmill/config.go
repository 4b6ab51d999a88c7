package main

import (
	"fmt"

	"github.com/listmill/listmill/internal/config"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration commands",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	RunE:  runConfigValidate,
}

func init() {
	configValidateCmd.Flags().StringVarP(&configFile, "config", "c", "/etc/listmill/listmill.yaml", "Path to configuration file")
	configCmd.AddCommand(configValidateCmd)
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	fmt.Println("Configuration is valid")
	fmt.Printf("  Listen address: %s\n", cfg.Server.ListenAddr)
	fmt.Printf("  Database path: %s\n", cfg.Database.Path)
	fmt.Printf("  Poll interval: %s\n", cfg.Scheduler.PollInterval)
	fmt.Printf("  Batch size: %d (delay %s)\n", cfg.Delivery.BatchSize, cfg.Delivery.BatchDelay)
	fmt.Printf("  Tracking base URL: %s\n", cfg.Tracking.BaseURL)
	if cfg.AMQP.URL != "" {
		fmt.Printf("  Signal bus: AMQP (%s / %s)\n", cfg.AMQP.Exchange, cfg.AMQP.Queue)
	} else {
		fmt.Println("  Signal bus: in-memory")
	}
	fmt.Printf("  DKIM signing: %v\n", cfg.DKIM.Enabled)

	return nil
}
