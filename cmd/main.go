package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"artvault/internal/logger"
	"artvault/internal/models"
)

var (
	configPath string
	cfg        *models.Config
	appLog     *logger.Logger
)

var rootCmd = &cobra.Command{
	Use:   "artvault",
	Short: "Artwork intake, mockup and listing workflow",
	Long: `artvault keeps artwork records on disk, one directory per artwork,
and moves them through the unanalysed, processed, finalised and locked
stages.

Run "artvault serve" to start the HTTP API.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := models.LoadConfig(configPath)
		if err != nil {
			return err
		}
		l, err := logger.New(c.LogMode)
		if err != nil {
			return fmt.Errorf("failed to init logger: %w", err)
		}
		cfg, appLog = c, l
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if appLog != nil {
			appLog.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the YAML config file")
	rootCmd.AddCommand(serveCmd, validateCmd, skuCmd, mockupsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
