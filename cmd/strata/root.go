// Root of command-line argument parsing.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"strata/pkg/strata"

	_ "strata/pkg/backend/local"
	_ "strata/pkg/backend/memory"
	_ "strata/pkg/backend/minio"
	_ "strata/pkg/backend/s3"
)

var rootCmdConfig struct {
	configFile string
	provider   string
	set        string
	chunkSize  int64
	retries    int
	verbose    bool
}

// store is the storage handle shared by every subcommand. The root
// command opens it before a subcommand runs and closes it afterwards.
var store *strata.Store

var rootCmd = &cobra.Command{
	Use:   "strata",
	Short: "Object storage from the command line",
	Long: `strata talks to any configured storage provider through one uniform
command set. The provider and its connection settings come from flags,
environment variables, or a strata config file.`,
	SilenceUsage: true,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if store != nil {
			_ = store.Close()
		}
	},
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called once from main.
func Execute(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func openStore(ctx context.Context) error {
	// A .env in the working directory is a development convenience, not
	// a requirement.
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return fmt.Errorf("failed to load .env: %w", err)
		}
	}

	level := log.InfoLevel
	if rootCmdConfig.verbose {
		level = log.DebugLevel
	}
	handler := log.NewWithOptions(os.Stderr, log.Options{
		Level:           level,
		TimeFormat:      time.RFC3339,
		ReportTimestamp: true,
		TimeFunction:    log.NowUTC,
	})
	slog.SetDefault(slog.New(handler))

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	provider := rootCmdConfig.provider
	if provider == "" {
		provider = cfg.GetString("provider")
	}

	// Precedence, lowest to highest: config file, STRATA_SETTINGS, --set.
	settings := cfg.GetStringMapString("settings")
	if settings == nil {
		settings = map[string]string{}
	}
	for key, value := range parseKeyValue(os.Getenv("STRATA_SETTINGS")) {
		settings[key] = value
	}
	for key, value := range parseKeyValue(rootCmdConfig.set) {
		settings[key] = value
	}

	var opts []strata.ConfigOption
	if rootCmd.PersistentFlags().Changed("chunk-size") {
		opts = append(opts, strata.WithChunkSize(rootCmdConfig.chunkSize))
	}
	if rootCmd.PersistentFlags().Changed("retries") {
		opts = append(opts, strata.WithMaxRetries(rootCmdConfig.retries))
	}

	store, err = strata.Open(ctx, provider, settings, opts...)
	if err != nil {
		return fmt.Errorf("failed to open %q storage: %w", provider, err)
	}
	return nil
}

// loadConfig builds the CLI's private viper context so library users of
// viper are never affected.
func loadConfig() (*viper.Viper, error) {
	cfg := viper.New()

	cfg.SetDefault("provider", "local")
	cfg.SetDefault("settings", map[string]string{"dir": "./data"})
	cfg.BindEnv("provider", "STRATA_PROVIDER")

	if rootCmdConfig.configFile != "" {
		cfg.SetConfigFile(rootCmdConfig.configFile)
	} else {
		cfg.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			cfg.AddConfigPath(filepath.Join(home, ".config", "strata"))
		}
		cfg.SetConfigName("strata")
	}

	if err := cfg.ReadInConfig(); err != nil {
		// Only an explicitly requested config file is required to exist.
		var notFound viper.ConfigFileNotFoundError
		if rootCmdConfig.configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	return cfg, nil
}

// parseKeyValue parses "key1=value1,key2=value2" into a map. Values may
// contain "=".
func parseKeyValue(s string) map[string]string {
	if s == "" {
		return nil
	}

	result := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		key, value, found := strings.Cut(pair, "=")
		if found {
			result[key] = value
		}
	}

	return result
}

// splitTarget separates "container/path" into its two halves. The path
// half may be empty.
func splitTarget(target string) (string, string) {
	container, path, _ := strings.Cut(target, "/")
	return container, path
}

// splitObjectTarget is splitTarget for commands that address one object,
// where both halves are required.
func splitObjectTarget(target string) (string, string, error) {
	container, path := splitTarget(target)
	if container == "" || path == "" {
		return "", "", fmt.Errorf("%w: expected container/path, got %q", strata.ErrInvalidArgument, target)
	}
	return container, path, nil
}

func init() {
	// Assigned here rather than in the rootCmd literal: openStore reads
	// rootCmd's flags, and referencing it from the literal would form an
	// initialization cycle.
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return openStore(cmd.Context())
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&rootCmdConfig.configFile, "config", "", "config file (default is ./strata.yaml)")
	flags.StringVarP(&rootCmdConfig.provider, "provider", "p", "", "storage provider (local, memory, minio, s3)")
	flags.StringVar(&rootCmdConfig.set, "set", "", "provider settings: key1=value1,key2=value2")
	flags.Int64Var(&rootCmdConfig.chunkSize, "chunk-size", strata.DefaultChunkSize, "chunked upload part size in bytes")
	flags.IntVar(&rootCmdConfig.retries, "retries", strata.DefaultMaxRetries, "retries after a failed transient upload call")
	flags.BoolVarP(&rootCmdConfig.verbose, "verbose", "v", false, "enable debug logging")
}
