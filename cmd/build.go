package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ngld/icu-build/pkg"
	"github.com/ngld/icu-build/pkg/builder"
	"github.com/ngld/icu-build/pkg/buildlog"
	"github.com/ngld/icu-build/pkg/sources"
	"github.com/ngld/icu-build/pkg/targets"
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Builds ICU for all targets",
	Long: `Extracts the sources, builds the host reference build and then every target in order.
The first failure aborts the run.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, err := cmd.Flags().GetBool("dry")
		if err != nil {
			return err
		}

		skipPrepare, err := cmd.Flags().GetBool("skip-prepare")
		if err != nil {
			return err
		}

		if cmd.Flags().Changed("targets") {
			cfg.Targets, _ = cmd.Flags().GetString("targets")
		}
		if cmd.Flags().Changed("jobs") {
			cfg.Jobs, _ = cmd.Flags().GetInt("jobs")
			if err = cfg.Validate(); err != nil {
				return err
			}
		}

		pkg.PrintTask("Resolving targets")
		resolver, err := loadResolver()
		if err != nil {
			return err
		}

		names := cfg.TargetList()
		if len(names) == 0 {
			names = resolver.Table().CrossNames()
		}

		// Resolve everything up front so a missing SDK fails the run before anything is executed.
		host, err := resolver.Resolve(targets.HostName)
		if err != nil {
			return err
		}

		list, err := resolver.ResolveAll(names)
		if err != nil {
			return err
		}
		pkg.PrintSubtask(strings.Join(names, ", "))

		if !skipPrepare && !dryRun {
			pkg.PrintTask("Preparing sources")
			err = prepareSources()
			if err != nil {
				return err
			}
		}

		b := &builder.Builder{
			Driver: &builder.Driver{
				Runner:    builder.NewShellRunner(os.Environ(), dryRun),
				SourceDir: cfg.ICUSource(),
				Jobs:      cfg.Jobs,
				DryRun:    dryRun,
			},
			Collector: &builder.Collector{OutputRoot: cfg.Path(cfg.OutputDir)},
			RunID:     runID,
		}

		start := time.Now()
		report, err := b.Run(runCtx, builder.Plan{Host: host, Targets: list})
		printReport(report)
		if err != nil {
			pkg.PrintError("Build failed")
			return err
		}

		if !dryRun {
			err = writeBuildInfo(report)
			if err != nil {
				return err
			}
		}

		pkg.PrintTask(fmt.Sprintf("Done after %s", time.Since(start).Round(time.Second)))
		return nil
	},
}

// writeBuildInfo records the run next to the collected libraries so that bundle can pick it up later.
func writeBuildInfo(report *builder.Report) error {
	libs := cfg.Path(cfg.OutputDir)
	built := make([]string, 0, len(report.Results))
	for _, result := range report.Results {
		rel, err := filepath.Rel(libs, result.OutputDir)
		if err != nil {
			return err
		}
		built = append(built, filepath.ToSlash(rel))
	}

	return sources.WriteBuildInfo(libs, sources.BuildInfo{
		RunID:   report.RunID,
		Created: time.Now().UTC(),
		Targets: built,
	})
}

func printReport(report *builder.Report) {
	if report == nil {
		return
	}

	logger := buildlog.Log(runCtx)
	if report.Host != nil {
		logger.Debug().Dur("duration", report.Host.Duration).Msg("Host build finished")
	}

	for _, result := range report.Results {
		pkg.PrintSubtask(fmt.Sprintf("%s: %s (%s)", result.Target, result.OutputDir, result.Duration.Round(time.Second)))
	}
}

func init() {
	rootCmd.AddCommand(buildCmd)

	flags := buildCmd.Flags()
	flags.StringP("targets", "t", "", "comma separated list of targets (default: all builtin targets)")
	flags.IntP("jobs", "j", builder.DefaultJobs, "parallel jobs passed to make")
	flags.BoolP("dry", "n", false, "dry run; only print the commands, don't execute anything")
	flags.Bool("skip-prepare", false, "reuse the already extracted source tree")
}
