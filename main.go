// Command ackg runs the website of the Kurdish cultural association of Geneva
// and its standalone image upload service.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"ackg/config"
	"ackg/i18n"

	"github.com/spf13/cobra"
)

var (
	// configFile is set by the --config flag.
	configFile string
	verbose    bool

	logger *slog.Logger
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "ackg",
	Short: "Website of the Kurdish cultural association of Geneva",
	Long: `ackg serves the bilingual public site (French and Kurdish), the admin
console used to publish activities, and the standalone image upload service.
Without a subcommand it starts the website.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		slog.SetDefault(logger)

		if err := config.LoadConfig(configFile); err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := i18n.Load(); err != nil {
			return fmt.Errorf("load translations: %w", err)
		}
		return nil
	},
	RunE: runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "config.json", "config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(uploadsCmd)
	rootCmd.AddCommand(passwdCmd)
	rootCmd.AddCommand(grantAdminCmd)
}
