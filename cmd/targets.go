package cmd

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ngld/icu-build/pkg/buildlog"
	"github.com/ngld/icu-build/pkg/targets"
)

// loadResolver builds the target table (builtin targets plus the overlay) and a resolver for the
// current process environment.
func loadResolver() (*targets.Resolver, error) {
	table := targets.DefaultTable()
	environ := os.Environ()

	added, err := targets.LoadOverlay(runCtx, cfg.Path(cfg.Overlay), table, environ)
	if err != nil {
		return nil, err
	}

	if len(added) > 0 {
		buildlog.Log(runCtx).Info().Strs("targets", added).Msgf("Loaded %d targets from %s", len(added), cfg.Overlay)
	}

	return targets.NewResolver(table, targets.EnvironmentFrom(environ, runtime.GOOS)), nil
}

var targetsCmd = &cobra.Command{
	Use:   "targets",
	Short: "Lists all known targets",
	Long:  `Lists the builtin targets and those added by the overlay together with their output directory.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		resolver, err := loadResolver()
		if err != nil {
			return err
		}

		names := resolver.Table().Names()
		maxNameLen := 0
		for _, name := range names {
			if len(name) > maxNameLen {
				maxNameLen = len(name)
			}
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "Available targets:")

		lineFmt := fmt.Sprintf(" * %%-%ds %%s\n", maxNameLen+3)
		for _, name := range names {
			var desc string

			t, err := resolver.Resolve(name)
			switch {
			case err != nil:
				desc = "unavailable: " + err.Error()
			case t.Host:
				desc = fmt.Sprintf("%s reference build", t.PlatformArg())
			default:
				parts := []string{t.PlatformArg(), "-> " + t.OutputPath}
				if t.HostTriple != "" {
					parts = append(parts, "("+t.HostTriple+")")
				}
				desc = strings.Join(parts, " ")
			}

			fmt.Fprintf(out, lineFmt, name+":", desc)
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(targetsCmd)
}
