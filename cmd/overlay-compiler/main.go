package main

import (
	"os"

	"github.com/MarcoPoloResearchLab/overlay/internal/config"
	"github.com/MarcoPoloResearchLab/overlay/internal/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "overlay-compiler",
		Short: "Compile CREATE TABLE DDL into a Postgres local-first replication layer",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		SilenceUsage: true,
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newCompileCommand(), newApplyCommand(), newServeCommand(), newTailCommand())
	return rootCmd
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	flags := cmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Path to configuration file")
	flags.String("outbox-variant", defaults.GetString("compile.outbox_variant"), "Outbox shape (with_table_name, without_table_name)")
	flags.String("join-table-prefix", defaults.GetString("compile.join_table_prefix"), "Name prefix of implicit join tables keyed by all columns (empty disables)")
	flags.String("database-url", defaults.GetString("database.url"), "Postgres connection URL")
	flags.String("database-path", defaults.GetString("database.path"), "SQLite outbox path used when no database URL is set")
	flags.Duration("poll-interval", defaults.GetDuration("outbox.poll_interval"), "Outbox poll interval")
	flags.Int("batch-size", defaults.GetInt("outbox.batch_size"), "Outbox page size")
	flags.String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	flags.String("log-format", defaults.GetString("log.format"), "Log format (json, console)")

	bindFlag(flags, "compile.outbox_variant", "outbox-variant")
	bindFlag(flags, "compile.join_table_prefix", "join-table-prefix")
	bindFlag(flags, "database.url", "database-url")
	bindFlag(flags, "database.path", "database-path")
	bindFlag(flags, "outbox.poll_interval", "poll-interval")
	bindFlag(flags, "outbox.batch_size", "batch-size")
	bindFlag(flags, "log.level", "log-level")
	bindFlag(flags, "log.format", "log-format")
}

func bindFlag(flags *pflag.FlagSet, key, flag string) {
	if err := viper.BindPFlag(key, flags.Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile == "" {
		return nil
	}
	viper.SetConfigFile(cfgFile)
	return viper.ReadInConfig()
}

// bindCommandFlags binds a subcommand's local flags when it runs, so
// commands sharing a key do not overwrite each other's binding.
func bindCommandFlags(cmd *cobra.Command, keys map[string]string) error {
	for key, flag := range keys {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return err
		}
	}
	return nil
}

// loadRuntime resolves configuration and builds the logger shared by all commands.
func loadRuntime() (config.AppConfig, *zap.Logger, error) {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return config.AppConfig{}, nil, err
	}
	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFormat)
	if err != nil {
		return config.AppConfig{}, nil, err
	}
	return appConfig, logger, nil
}
