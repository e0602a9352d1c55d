package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"intellichat/internal/config"
	"intellichat/internal/logger"
)

type globalFlags struct {
	configPath string
	logLevel   string
}

func newRootCommand() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:   "intellichat",
		Short: "Answer questions about attendance, summaries, analytics and research data",
		Long: `IntelliChat indexes a small corpus of attendance records, summaries, analytics
metrics and research papers, retrieves the records closest to a question and
composes an answer from them, using a remote chat model when configured.`,
		SilenceUsage: true,
	}
	// --log_level and --log-level are the same flag
	root.SetGlobalNormalizationFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "config file path (default ./config.yaml or ~/.config/intellichat/config.yaml)")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")

	root.AddCommand(
		newServeCommand(flags),
		newQueryCommand(flags),
		newIndexCommand(flags),
		newSeedCommand(flags),
		newChatCommand(flags),
	)
	return root
}

// setup loads .env and the config, then builds the root logger.
func setup(flags *globalFlags) (*config.AppConfig, *zap.Logger, error) {
	config.LoadEnv()

	var (
		cfg  *config.AppConfig
		path string
		err  error
	)
	if flags.configPath == "" {
		cfg, path, err = config.LoadDefault()
	} else {
		path = flags.configPath
		cfg, err = config.Load(path)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if flags.logLevel != "" {
		cfg.Log.Level = flags.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}
	root, err := logger.New(cfg.Log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	if path != "" {
		root.Sugar().Debugw("config loaded", "path", path)
	}
	return cfg, root, nil
}
