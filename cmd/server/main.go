package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ksred/marketracker-api/internal/companies"
	"github.com/ksred/marketracker-api/internal/config"
	"github.com/ksred/marketracker-api/internal/database"
)

var version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "marketracker",
		Short: "Paper trading API server",
		Long: `marketracker serves the paper trading API: accounts, a virtual cash
ledger, market data views and a live price stream.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(companiesCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// configureLogging sets up zerolog. Outside production logs are pretty
// printed with timestamps.
func configureLogging(cfg *config.Config) {
	if !cfg.IsProduction() {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

// loadConfig reads the configuration and prepares logging
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		for _, f := range config.FieldErrors(err) {
			zlog.Error().Str("field", f.Field).Msg(f.Message)
		}
		return nil, err
	}
	configureLogging(cfg)
	return cfg, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Bring the database schema up to date",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			// NewDatabase migrates on open
			if _, err := database.NewDatabase(cfg); err != nil {
				return err
			}
			zlog.Info().Str("driver", cfg.DBDriver).Msg("database migrated")
			return nil
		},
	}
}

func companiesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "companies",
		Short: "Manage the company directory",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "import <glob>...",
		Short: "Import companies from CSV or YAML files",
		Long: `Import upserts companies by symbol. Each argument is a glob such as
data/**/*.csv; CSV files hold symbol,name rows and YAML files a list of
{symbol, name} entries.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := database.NewDatabase(cfg)
			if err != nil {
				return err
			}

			records, err := companies.LoadGlobs(args...)
			if err != nil {
				return err
			}
			n, err := companies.NewService(db).Import(cmd.Context(), records)
			if err != nil {
				return err
			}
			fmt.Printf("imported %d companies\n", n)
			return nil
		},
	})

	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("marketracker version %s\n", version)
		},
	}
}
