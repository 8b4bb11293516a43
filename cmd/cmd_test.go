package cmd

import (
	"bytes"
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngld/icu-build/pkg/sources"
)

func TestConsoleWriter(t *testing.T) {
	var out bytes.Buffer
	logger := zerolog.New(&ConsoleWriter{Out: &out})

	logger.Info().Str("target", "aarch64-android").Str("step", "compile").Bool("command", true).Msg("make -j8")
	assert.Contains(t, out.String(), "aarch64-android/compile: $ make -j8")

	out.Reset()
	logger.Error().Err(eris.New("exit status 2")).Msg("Build failed")
	assert.Contains(t, out.String(), "Error: Build failed\n")
	assert.Contains(t, out.String(), "exit status 2")
}

func TestBuiltTargets(t *testing.T) {
	root := t.TempDir()
	for _, dir := range []string{"osx/x86_64", "android/arm64-v8a", "android/x86"} {
		require.NoError(t, os.MkdirAll(filepath.Join(root, filepath.FromSlash(dir)), 0755))
	}
	require.NoError(t, ioutil.WriteFile(filepath.Join(root, "osx", "README"), []byte("not a target"), 0644))

	built, err := builtTargets(root)
	require.NoError(t, err)
	assert.Equal(t, []string{"android/arm64-v8a", "android/x86", "osx/x86_64"}, built)
}

func TestBundleInfo(t *testing.T) {
	runCtx = context.Background()
	runID = "bundle-run"

	libs := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(libs, "ohos", "aarch64"), 0755))

	info, err := bundleInfo(libs)
	require.NoError(t, err)
	assert.Equal(t, "bundle-run", info.RunID)
	assert.Equal(t, []string{"ohos/aarch64"}, info.Targets)

	require.NoError(t, sources.WriteBuildInfo(libs, sources.BuildInfo{RunID: "build-run", Targets: []string{"ohos/aarch64"}}))

	info, err = bundleInfo(libs)
	require.NoError(t, err)
	assert.Equal(t, "build-run", info.RunID)
}
