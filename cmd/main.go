// Package cmd implements the icu-build CLI
package cmd

import (
	"context"
	"os"

	"github.com/aidarkhanov/nanoid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ngld/icu-build/pkg"
	"github.com/ngld/icu-build/pkg/buildlog"
	"github.com/ngld/icu-build/pkg/config"
)

// state shared by all subcommands, populated by setup()
var (
	cfg    *config.Config
	runCtx context.Context
	runID  string
)

var rootCmd = &cobra.Command{
	Use:   "icu-build",
	Short: "Builds collation-only static ICU libraries",
	Long: `This command extracts the ICU4C sources, builds a host reference build and cross-compiles
a collation-only static ICU for every configured target. The resulting libraries are copied
into libs/<platform>/<arch>.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("root", "", "project root (default: searched upwards from the working directory)")
	flags.String("log-level", "", "log level (trace, debug, info, warn, error)")
	flags.Bool("log-json", false, "print JSON log lines instead of console messages")
}

func setup(cmd *cobra.Command, args []string) error {
	root, err := cmd.Flags().GetString("root")
	if err != nil {
		return err
	}

	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return err
		}

		root, err = pkg.GetProjectRoot(wd)
		if err != nil {
			return err
		}
	}

	cfg, err = config.Load(root)
	if err != nil {
		return err
	}

	if cmd.Flags().Changed("log-level") {
		cfg.Log.Level, _ = cmd.Flags().GetString("log-level")
	}
	if cmd.Flags().Changed("log-json") {
		cfg.Log.JSON, _ = cmd.Flags().GetBool("log-json")
	}

	err = cfg.Validate()
	if err != nil {
		return err
	}

	runID = nanoid.New()

	var logger zerolog.Logger
	if cfg.Log.JSON {
		logger = zerolog.New(os.Stderr).With().Timestamp().Str("run", runID).Logger()
	} else {
		logger = zerolog.New(NewConsoleWriter()).With().Str("run", runID).Logger()
	}
	logger = logger.Level(cfg.LogLevel())
	log.Logger = logger

	runCtx = buildlog.WithLogger(context.Background(), &logger)
	logger.Debug().Str("root", cfg.Root).Msg("Loaded configuration")
	return nil
}

func Execute() {
	cobra.CheckErr(rootCmd.Execute())
}
