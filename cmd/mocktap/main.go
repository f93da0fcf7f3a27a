package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/funnyzak/mocktap/internal/config"
	"github.com/funnyzak/mocktap/internal/logger"
	"github.com/funnyzak/mocktap/internal/printer"
	"github.com/funnyzak/mocktap/internal/server"
	"github.com/funnyzak/mocktap/internal/storage"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "mocktap",
	Short: "Mock HTTP endpoints with canned responses and access logs",
	Long: `MockTap serves user-defined mock endpoints. Each endpoint maps a path and
method to a canned status, headers, body and delay. Every hit is recorded
in an access log that can be queried through the admin API.
`,
	SilenceUsage: true,
	RunE:         runServer,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run:   showVersion,
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringP("log-level", "l", "", "Log level (trace, debug, info, warn, error, fatal, panic)")
	rootCmd.PersistentFlags().String("storage-driver", "", "Storage driver (sqlite, memory)")
	rootCmd.PersistentFlags().String("storage-path", "", "SQLite database path")

	rootCmd.Flags().IntP("port", "p", 0, "Listen port")
	rootCmd.Flags().String("host", "", "Listen host")
	rootCmd.Flags().String("mock-prefix", "", "URL prefix for mock traffic")
	rootCmd.Flags().String("admin-path", "", "URL prefix for the admin API")
	rootCmd.Flags().Int64("max-body-bytes", 0, "Maximum accepted request body size in bytes")
	rootCmd.Flags().Bool("log-file-enable", false, "Enable file logging")
	rootCmd.Flags().String("log-file-path", "", "Log file path")
	rootCmd.Flags().Bool("live", true, "Enable the websocket hit stream")
	rootCmd.Flags().String("output", "", "Hit output mode (console, json)")
	rootCmd.Flags().Bool("silence", false, "Do not print hits")
	rootCmd.Flags().Int("retention-days", 0, "Access log retention used by the sweeper")
	rootCmd.Flags().Duration("sweep-interval", 0, "Interval between access log sweeps (0 disables)")

	bindFlags(rootCmd)

	rootCmd.AddCommand(versionCmd, pruneCmd, exportCmd, importCmd)
}

func bindFlags(cmd *cobra.Command) {
	viper.BindPFlag("log.level", cmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("storage.driver", cmd.PersistentFlags().Lookup("storage-driver"))
	viper.BindPFlag("storage.path", cmd.PersistentFlags().Lookup("storage-path"))

	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))
	viper.BindPFlag("server.mock_prefix", cmd.Flags().Lookup("mock-prefix"))
	viper.BindPFlag("server.admin_path", cmd.Flags().Lookup("admin-path"))
	viper.BindPFlag("server.max_body_bytes", cmd.Flags().Lookup("max-body-bytes"))
	viper.BindPFlag("log.file_logging.enable", cmd.Flags().Lookup("log-file-enable"))
	viper.BindPFlag("log.file_logging.path", cmd.Flags().Lookup("log-file-path"))
	viper.BindPFlag("web.live_enable", cmd.Flags().Lookup("live"))
	viper.BindPFlag("output.mode", cmd.Flags().Lookup("output"))
	viper.BindPFlag("output.silence", cmd.Flags().Lookup("silence"))
	viper.BindPFlag("storage.retention_days", cmd.Flags().Lookup("retention-days"))
	viper.BindPFlag("storage.sweep_interval", cmd.Flags().Lookup("sweep-interval"))
}

// loadConfig reads and validates configuration for any subcommand.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.LoadConfig(configPath, viper.GetViper())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// openStore loads configuration, builds a logger writing to logOut and
// opens the store.
func openStore(cmd *cobra.Command, logOut io.Writer) (*config.Config, logger.Logger, storage.Store, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, nil, err
	}
	log := logger.NewLoggerTo(&cfg.Log, cfg.Output.Mode, logOut)

	store, err := storage.New(&cfg.Storage, log)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to open storage: %w", err)
	}
	return cfg, log, store, nil
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, log, store, err := openStore(cmd, os.Stdout)
	if err != nil {
		return err
	}
	defer store.Close()

	printStartupBanner(cfg, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p := printer.New(cfg.Output.Mode, cfg.Output.Silence, log)
	srv := server.New(cfg, log, store, p)
	return srv.Run(ctx)
}

func showVersion(cmd *cobra.Command, args []string) {
	fmt.Printf("MockTap version %s\n", version)
	fmt.Printf("Commit: %s\n", commit)
	fmt.Printf("Built: %s\n", buildDate)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
