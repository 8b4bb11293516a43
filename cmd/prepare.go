package cmd

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/ngld/icu-build/pkg"
	"github.com/ngld/icu-build/pkg/sources"
)

func prepareSources() error {
	archive := cfg.ArchivePath()
	info, err := os.Stat(archive)
	if err != nil {
		if eris.Is(err, os.ErrNotExist) {
			return eris.Wrapf(sources.ErrMissingInput, "%s does not exist (try the fetch command)", archive)
		}
		return eris.Wrapf(err, "Failed to check %s", archive)
	}

	var bar *progressbar.ProgressBar
	if os.Getenv("CI") == "true" {
		bar = progressbar.NewOptions64(info.Size(), progressbar.OptionSetVisibility(false))
	} else {
		bar = progressbar.DefaultBytes(info.Size(), "Extracting")
	}

	err = sources.Prepare(runCtx, sources.PrepareOptions{
		Archive:  archive,
		DataFile: cfg.DataFilePath(),
		Dest:     cfg.Path(cfg.SourceDir),
		Strip:    1,
		Progress: bar,
	})
	if err != nil {
		return err
	}

	return bar.Finish()
}

var prepareCmd = &cobra.Command{
	Use:   "prepare",
	Short: "Extracts a fresh ICU source tree",
	Long:  `Removes the old source tree, extracts the source archive and copies the data file into source/data/in.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		pkg.PrintTask("Preparing sources")
		err := prepareSources()
		if err != nil {
			return err
		}

		pkg.PrintTask("Done")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(prepareCmd)
}
