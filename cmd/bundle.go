package cmd

import (
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/ngld/icu-build/pkg"
	"github.com/ngld/icu-build/pkg/buildlog"
	"github.com/ngld/icu-build/pkg/sources"
)

// builtTargets lists the output directories (<group>/<arch>) below root.
func builtTargets(root string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(root, "*", "*"))
	if err != nil {
		return nil, err
	}

	result := []string{}
	for _, match := range matches {
		info, err := os.Stat(match)
		if err != nil || !info.IsDir() {
			continue
		}

		rel, err := filepath.Rel(root, match)
		if err == nil {
			result = append(result, filepath.ToSlash(rel))
		}
	}

	sort.Strings(result)
	return result, nil
}

// bundleInfo returns the info stored by the last build. Without one, the bundle is attributed to the
// current run and lists every output directory found.
func bundleInfo(libs string) (*sources.BuildInfo, error) {
	_, err := os.Stat(filepath.Join(libs, sources.BuildInfoName))
	if err == nil {
		return sources.ReadBuildInfo(libs)
	}
	if !os.IsNotExist(err) {
		return nil, eris.Wrapf(err, "Failed to check %s", libs)
	}

	built, err := builtTargets(libs)
	if err != nil {
		return nil, err
	}

	buildlog.Log(runCtx).Warn().Msgf("%s has no %s, using the id of this run", libs, sources.BuildInfoName)
	return &sources.BuildInfo{
		RunID:   runID,
		Created: time.Now().UTC(),
		Targets: built,
	}, nil
}

var bundleCmd = &cobra.Command{
	Use:   "bundle <archive>",
	Short: "Packs the collected libraries",
	Long:  `Packs the output directory into a .tar, .tar.xz or .tar.br archive including a BUILDINFO.json file.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}

		libs := cfg.Path(cfg.OutputDir)
		info, err := bundleInfo(libs)
		if err != nil {
			return err
		}

		pkg.PrintTask("Packing " + libs)
		err = sources.Bundle(libs, out, *info)
		if err != nil {
			return err
		}

		pkg.PrintTask("Done")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(bundleCmd)
}
