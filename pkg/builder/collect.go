package builder

import (
	"context"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"

	"github.com/ngld/icu-build/pkg/buildlog"
	"github.com/ngld/icu-build/pkg/sources"
	"github.com/ngld/icu-build/pkg/targets"
)

// ErrMissingArtifact is returned if a build didn't produce one of the expected libraries.
var ErrMissingArtifact = eris.New("missing build artifact")

// DefaultArtifacts are the static libraries shipped for every target.
var DefaultArtifacts = []string{"libicuuc.a", "libicui18n.a", "libicudata.a"}

const stubDataName = "libicudata.a"

// Collector copies finished libraries into the output tree.
type Collector struct {
	OutputRoot string
	// Artifacts defaults to DefaultArtifacts.
	Artifacts []string
}

// Dest returns the output directory for the target.
func (c *Collector) Dest(t *targets.Target) string {
	return filepath.Join(c.OutputRoot, filepath.FromSlash(t.OutputPath))
}

// Collect copies the libraries from buildDir/lib to the target's output directory and returns that directory.
func (c *Collector) Collect(ctx context.Context, t *targets.Target, buildDir string) (string, error) {
	libDir := filepath.Join(buildDir, "lib")

	if t.StubData {
		// The archive data packaging doesn't build libicudata.a, the stub has to stand in for it.
		src := filepath.Join(buildDir, "stubdata", stubDataName)
		if _, err := os.Stat(src); err != nil {
			return "", eris.Wrapf(ErrMissingArtifact, "%s wasn't built for %s", src, t.Name)
		}

		err := sources.CopyFile(src, filepath.Join(libDir, stubDataName))
		if err != nil {
			return "", eris.Wrapf(err, "Failed to copy stub data for %s", t.Name)
		}
	}

	artifacts := c.Artifacts
	if len(artifacts) == 0 {
		artifacts = DefaultArtifacts
	}

	for _, name := range artifacts {
		src := filepath.Join(libDir, name)
		if _, err := os.Stat(src); err != nil {
			return "", eris.Wrapf(ErrMissingArtifact, "%s wasn't built for %s", src, t.Name)
		}
	}

	dest := c.Dest(t)
	err := os.MkdirAll(dest, 0770)
	if err != nil {
		return "", eris.Wrapf(err, "Failed to create %s", dest)
	}

	for _, name := range artifacts {
		err = sources.CopyFile(filepath.Join(libDir, name), filepath.Join(dest, name))
		if err != nil {
			return "", eris.Wrapf(err, "Failed to copy %s for %s", name, t.Name)
		}
	}

	buildlog.Log(ctx).Debug().Str("dest", dest).Strs("artifacts", artifacts).Msg("Copied libraries")
	return dest, nil
}
