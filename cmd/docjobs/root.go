package main

import (
	"fmt"
	"strings"

	"github.com/jzelinskie/cobrautil/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/tupyy/docjobs/internal/config"
)

const envPrefix = "DOCJOBS"

func NewRootCommand() *cobra.Command {
	v := viper.New()

	root := &cobra.Command{
		Use:          "docjobs",
		Short:        "Run document jobs against a PDF file",
		SilenceUsage: true,
		PersistentPreRunE: cobrautil.CommandStack(
			cobrautil.SyncViperPreRunE(envPrefix),
			func(cmd *cobra.Command, _ []string) error {
				if err := v.BindPFlags(cmd.Flags()); err != nil {
					return err
				}
				return setupLogging(v.GetString("log-format"), v.GetString("log-level"))
			},
		),
		PersistentPostRun: func(*cobra.Command, []string) {
			_ = zap.L().Sync()
		},
	}

	registerFlags(root.PersistentFlags())

	root.AddCommand(
		newRenderCommand(v),
		newThumbnailsCommand(v),
		newOutlineCommand(v),
		newFontsCommand(v),
		newFindCommand(v),
		newSaveCommand(v),
		newPrintCommand(v),
		newHistoryCommand(v),
	)
	return root
}

func registerFlags(flags *pflag.FlagSet) {
	defaults := config.NewConfigurationWithOptionsAndDefaults()

	flags.Int("workers", defaults.Scheduler.Workers, "number of scheduler workers")
	flags.Int("fonts-batch-size", defaults.Scheduler.FontsBatchSize, "pages scanned per font batch")
	flags.String("temp-dir", defaults.Engine.TempDir, "directory for temporary files")
	flags.Float64("export-dpi", defaults.Engine.ExportDPI, "resolution of printed sheets")
	flags.Bool("history", defaults.History.Enabled, "record finished jobs")
	flags.String("history-path", defaults.History.Path, "path of the job history database")
	flags.String("log-format", defaults.LogFormat, "log format: console or json")
	flags.String("log-level", defaults.LogLevel, "log level")
	flags.String("password", "", "document password")
}

// configuration builds the configuration from flags and DOCJOBS_* variables.
func configuration(v *viper.Viper) *config.Configuration {
	return config.NewConfigurationWithOptionsAndDefaults(
		config.WithScheduler(config.Scheduler{
			Workers:        v.GetInt("workers"),
			FontsBatchSize: v.GetInt("fonts-batch-size"),
		}),
		config.WithEngine(config.Engine{
			TempDir:   v.GetString("temp-dir"),
			ExportDPI: v.GetFloat64("export-dpi"),
		}),
		config.WithHistory(config.History{
			Enabled: v.GetBool("history"),
			Path:    v.GetString("history-path"),
		}),
		config.WithLogFormat(v.GetString("log-format")),
		config.WithLogLevel(v.GetString("log-level")),
	)
}

func setupLogging(format, level string) error {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var cfg zap.Config
	switch strings.ToLower(format) {
	case "json":
		cfg = zap.NewProductionConfig()
	case "console":
		cfg = zap.NewDevelopmentConfig()
	default:
		return fmt.Errorf("invalid log format %q: must be 'console' or 'json'", format)
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stderr"}

	logger, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return nil
}
