package sources

import (
	"archive/tar"
	"encoding/json"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"
)

func makeLibsTree(t *testing.T) string {
	t.Helper()

	root := filepath.Join(t.TempDir(), "libs")
	for _, dir := range []string{"osx/x86_64", "android/arm64-v8a"} {
		full := filepath.Join(root, filepath.FromSlash(dir))
		require.NoError(t, os.MkdirAll(full, 0755))
		for _, lib := range []string{"libicuuc.a", "libicui18n.a", "libicudata.a"} {
			require.NoError(t, ioutil.WriteFile(filepath.Join(full, lib), []byte(dir+"/"+lib), 0644))
		}
	}
	return root
}

func readBundle(t *testing.T, r io.Reader) map[string]string {
	t.Helper()

	result := map[string]string{}
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)

		data, err := ioutil.ReadAll(tr)
		require.NoError(t, err)
		result[hdr.Name] = string(data)
	}
	return result
}

func TestBundle(t *testing.T) {
	info := BuildInfo{
		RunID:   "V1StGXR8_Z5jdHi6B-myT",
		Created: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		Targets: []string{"x86_64-macos", "aarch64-android"},
	}

	tests := []struct {
		name   string
		reader func(io.Reader) (io.Reader, error)
	}{
		{name: "libs.tar", reader: func(r io.Reader) (io.Reader, error) { return r, nil }},
		{name: "libs.tar.xz", reader: func(r io.Reader) (io.Reader, error) { return xz.NewReader(r) }},
		{name: "libs.tar.br", reader: func(r io.Reader) (io.Reader, error) { return brotli.NewReader(r), nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := makeLibsTree(t)
			out := filepath.Join(t.TempDir(), tt.name)

			require.NoError(t, Bundle(root, out, info))

			f, err := os.Open(out)
			require.NoError(t, err)
			defer f.Close()

			r, err := tt.reader(f)
			require.NoError(t, err)

			content := readBundle(t, r)
			assert.Len(t, content, 7)
			assert.Equal(t, "android/arm64-v8a/libicudata.a", content["android/arm64-v8a/libicudata.a"])
			assert.Contains(t, content, "osx/x86_64/libicuuc.a")

			var decoded BuildInfo
			require.NoError(t, json.Unmarshal([]byte(content[BuildInfoName]), &decoded))
			assert.Equal(t, info.RunID, decoded.RunID)
			assert.Equal(t, info.Targets, decoded.Targets)
		})
	}
}

func TestBundleErrors(t *testing.T) {
	root := makeLibsTree(t)

	err := Bundle(root, filepath.Join(t.TempDir(), "libs.zip"), BuildInfo{})
	assert.True(t, eris.Is(err, ErrUnsupportedArchive))

	empty := t.TempDir()
	err = Bundle(empty, filepath.Join(t.TempDir(), "libs.tar"), BuildInfo{})
	assert.Error(t, err)
}

func TestBundleUsesGivenBuildInfo(t *testing.T) {
	root := makeLibsTree(t)
	stored := BuildInfo{RunID: "build-run", Created: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC), Targets: []string{"osx/x86_64"}}
	require.NoError(t, WriteBuildInfo(root, stored))

	loaded, err := ReadBuildInfo(root)
	require.NoError(t, err)
	assert.Equal(t, stored.RunID, loaded.RunID)
	assert.True(t, stored.Created.Equal(loaded.Created))
	assert.Equal(t, stored.Targets, loaded.Targets)

	out := filepath.Join(t.TempDir(), "libs.tar")
	require.NoError(t, Bundle(root, out, *loaded))

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()

	content := readBundle(t, f)
	assert.Len(t, content, 7, "the stored BUILDINFO.json must not be packed twice")

	var decoded BuildInfo
	require.NoError(t, json.Unmarshal([]byte(content[BuildInfoName]), &decoded))
	assert.Equal(t, "build-run", decoded.RunID)
}

func TestReadBuildInfoMissing(t *testing.T) {
	_, err := ReadBuildInfo(t.TempDir())
	assert.Error(t, err)
}
