package cmd

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/ngld/icu-build/pkg"
	"github.com/ngld/icu-build/pkg/sources"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Downloads the source archive and the data file",
	Long: `Downloads the files listed in sources.yml and verifies their checksums. Files which were
already downloaded with the current checksum are skipped.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		update, err := cmd.Flags().GetBool("update")
		if err != nil {
			return err
		}

		pkg.PrintTask("Downloading sources")
		fetcher := sources.NewFetcher(cfg.Root)
		fetcher.Update = update

		fetched, err := fetcher.Fetch(runCtx, cfg.Path(cfg.Manifest))
		if err != nil {
			return err
		}

		if len(fetched) == 0 {
			pkg.PrintSubtask("Everything is up to date")
		} else {
			pkg.PrintSubtask("Fetched " + strings.Join(fetched, ", "))
		}

		pkg.PrintTask("Done")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(fetchCmd)
	fetchCmd.Flags().Bool("update", false, "record new checksums in sources.yml instead of failing on mismatches")
}
