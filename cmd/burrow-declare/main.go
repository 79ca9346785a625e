package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/glimte/burrow/config"
	"github.com/glimte/burrow/internal/rabbitmq"
	"github.com/spf13/cobra"
)

var (
	// Version information
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "burrow-declare",
		Short: "Declare burrow topology on a RabbitMQ broker",
		Long: `burrow-declare reads a burrow configuration file and declares its exchanges,
exchange bindings and producer queue bindings on a RabbitMQ broker.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildTime),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags
	var (
		configPath string
		rabbitURL  string
		verbose    bool
	)

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "burrow.yaml", "Configuration file")
	rootCmd.PersistentFlags().StringVarP(&rabbitURL, "url", "u", "", "RabbitMQ connection URL, overrides the configuration")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")

	loadConfig := func() (*config.Config, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		if rabbitURL != "" {
			cfg.URL = rabbitURL
		}
		return cfg, nil
	}

	newLogger := func() *slog.Logger {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	}

	// Plan command
	planCmd := &cobra.Command{
		Use:   "plan",
		Short: "Print the commands that apply would issue",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			steps, err := plan(cfg)
			if err != nil {
				return err
			}
			for _, step := range steps {
				fmt.Fprintln(cmd.OutOrStdout(), step)
			}
			return nil
		},
	}

	// Apply command
	applyCmd := &cobra.Command{
		Use:   "apply",
		Short: "Declare the configured topology",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger()

			conn := rabbitmq.NewConnectionManager(cfg.URL,
				rabbitmq.WithLogger(logger),
				rabbitmq.WithConnectTimeout(cfg.ConnectTimeout),
			)
			if err := conn.Connect(ctx); err != nil {
				return err
			}
			defer conn.Close()

			ch, err := conn.OpenChannel()
			if err != nil {
				return err
			}
			defer ch.Close()

			if err := apply(ctx, cfg, ch, logger); err != nil {
				return err
			}
			logger.Info("topology declared",
				"url", rabbitmq.SanitizeURL(cfg.URL),
				"exchanges", len(cfg.Exchanges),
			)
			return nil
		},
	}

	rootCmd.AddCommand(planCmd, applyCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
