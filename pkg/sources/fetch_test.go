package sources

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/schollz/progressbar/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const archiveBody = "pretend this is a tarball"

func digestOf(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

type fetchFixture struct {
	root     string
	manifest string
	fetcher  *Fetcher
	requests *int32
}

func newFetchFixture(t *testing.T, checksum string) fetchFixture {
	t.Helper()

	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		if r.URL.Path != "/release-77-1/icu4c-77_1-src.tgz" {
			http.NotFound(rw, r)
			return
		}
		rw.Write([]byte(archiveBody))
	}))
	t.Cleanup(srv.Close)

	root := t.TempDir()
	manifest := filepath.Join(root, "sources.yml")
	content := `# ICU release used for the build
vars:
  ICU_TAG: "77-1"
  ICU_VERSION: "77_1"

files:
  icu4c:
    url: ` + srv.URL + `/release-{ICU_TAG}/icu4c-{ICU_VERSION}-src.tgz
    dest: download/icu4c-77_1-src.tgz
    sha256: ` + checksum + `
`
	require.NoError(t, ioutil.WriteFile(manifest, []byte(content), 0644))

	fetcher := NewFetcher(root)
	fetcher.NewBar = func(length int64, desc string) ProgressBar {
		return progressbar.NewOptions64(length, progressbar.OptionSetVisibility(false))
	}

	return fetchFixture{root: root, manifest: manifest, fetcher: fetcher, requests: &requests}
}

func TestManifestExpandURL(t *testing.T) {
	m := &Manifest{
		Vars: map[string]string{"VERSION": "77_1"},
		Files: map[string]FileSpec{
			"icu4c": {URL: "https://example.com/icu4c-{VERSION}-src.tgz{MISSING}"},
		},
	}

	assert.Equal(t, "https://example.com/icu4c-77_1-src.tgz", m.ExpandURL("icu4c"))
}

func TestFetch(t *testing.T) {
	f := newFetchFixture(t, digestOf(archiveBody))

	fetched, err := f.fetcher.Fetch(context.Background(), f.manifest)
	require.NoError(t, err)
	assert.Equal(t, []string{"icu4c"}, fetched)

	data, err := ioutil.ReadFile(filepath.Join(f.root, "download", "icu4c-77_1-src.tgz"))
	require.NoError(t, err)
	assert.Equal(t, archiveBody, string(data))

	// the stamp file makes the second run a no-op
	fetched, err = f.fetcher.Fetch(context.Background(), f.manifest)
	require.NoError(t, err)
	assert.Empty(t, fetched)
	assert.Equal(t, int32(1), atomic.LoadInt32(f.requests))
}

func TestFetchChecksumMismatch(t *testing.T) {
	f := newFetchFixture(t, digestOf("something else"))

	_, err := f.fetcher.Fetch(context.Background(), f.manifest)
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrChecksum))

	_, statErr := ioutil.ReadFile(filepath.Join(f.root, "download", "icu4c-77_1-src.tgz"))
	assert.Error(t, statErr, "a corrupt download must not be kept")
}

func TestFetchMissingChecksum(t *testing.T) {
	f := newFetchFixture(t, "")

	_, err := f.fetcher.Fetch(context.Background(), f.manifest)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checksum")
	assert.Equal(t, int32(0), atomic.LoadInt32(f.requests))
}

func TestFetchUpdate(t *testing.T) {
	f := newFetchFixture(t, "")
	f.fetcher.Update = true

	_, err := f.fetcher.Fetch(context.Background(), f.manifest)
	require.NoError(t, err)

	manifest, raw, err := LoadManifest(f.manifest)
	require.NoError(t, err)
	assert.Equal(t, digestOf(archiveBody), manifest.Files["icu4c"].Sha256)
	assert.True(t, strings.HasPrefix(string(raw), "# ICU release used for the build"), "comments should survive")
}

func TestUpdateChecksums(t *testing.T) {
	raw := []byte(`files:
  a:
    url: https://example.com/a
    sha256: old
  b:
    url: https://example.com/b
`)

	updated, err := UpdateChecksums(raw, map[string]string{"a": "new-a", "b": "new-b"})
	require.NoError(t, err)

	var m Manifest
	require.NoError(t, yaml.Unmarshal(updated, &m))
	assert.Equal(t, "new-a", m.Files["a"].Sha256)
	assert.Equal(t, "new-b", m.Files["b"].Sha256)
	assert.Equal(t, "https://example.com/b", m.Files["b"].URL)

	_, err = UpdateChecksums(raw, map[string]string{"c": "x"})
	assert.Error(t, err)
}

func TestStampPath(t *testing.T) {
	assert.Equal(t, filepath.Join("root", "sources.stamps"), StampPath(filepath.Join("root", "sources.yml")))
}
