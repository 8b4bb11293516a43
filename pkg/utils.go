package pkg

import (
	"io"
	"os"
	"path/filepath"

	"github.com/mitchellh/colorstring"
	"github.com/rotisserie/eris"
)

// RootMarkers are the files or folders which identify the project root.
var RootMarkers = []string{"icu-build.toml", "sources.yml", ".git"}

// Output receives the task banners. Tests replace it to keep their output clean.
var Output io.Writer = os.Stdout

// GetProjectRoot walks up from start until it finds a directory containing one of RootMarkers.
func GetProjectRoot(start string) (string, error) {
	mypath, err := filepath.Abs(start)
	if err != nil {
		return "", eris.Wrapf(err, "Failed to resolve %s", start)
	}

	for {
		for _, marker := range RootMarkers {
			_, err := os.Stat(filepath.Join(mypath, marker))
			if err == nil {
				return mypath, nil
			}

			if !eris.Is(err, os.ErrNotExist) {
				return "", eris.Wrap(err, "Error ocurred while searching for project root")
			}
		}

		nextPath := filepath.Dir(mypath)
		if mypath == nextPath {
			break
		}
		mypath = nextPath
	}

	return "", eris.Errorf("Project root not found (looked for %v above %s)", RootMarkers, start)
}

func PrintTask(msg string) {
	colorstring.Fprintf(Output, "[blue][bold]==>[default] %s\n", msg)
}

func PrintSubtask(msg string) {
	colorstring.Fprintf(Output, "[green][bold]  ->[reset] %s\n", msg)
}

func PrintError(msg string) {
	colorstring.Fprintf(Output, "[red][bold]  ->[reset] %s\n", msg)
}
