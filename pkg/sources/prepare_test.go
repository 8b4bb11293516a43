package sources

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"
)

type tarEntry struct {
	name     string
	content  string
	mode     int64
	link     string
	hardlink string
}

var icuEntries = []tarEntry{
	{name: "icu/"},
	{name: "icu/LICENSE", content: "license"},
	{name: "icu/source/"},
	{name: "icu/source/runConfigureICU", content: "#!/bin/sh\n", mode: 0755},
	{name: "icu/source/common/unicode/uversion.h", content: "#define U_ICU_VERSION \"77.1\"\n"},
	{name: "icu/source/data/in/README", content: "data goes here"},
	{name: "icu/source/config/mh-linux-link", link: "mh-linux"},
}

func writeTar(t *testing.T, tw *tar.Writer, entries []tarEntry) {
	t.Helper()

	for _, entry := range entries {
		hdr := &tar.Header{Name: entry.name, Mode: entry.mode}
		switch {
		case entry.hardlink != "":
			hdr.Typeflag = tar.TypeLink
			hdr.Linkname = entry.hardlink
			hdr.Mode = 0644
		case entry.link != "":
			hdr.Typeflag = tar.TypeSymlink
			hdr.Linkname = entry.link
			hdr.Mode = 0777
		case entry.name[len(entry.name)-1] == '/':
			hdr.Typeflag = tar.TypeDir
			hdr.Mode = 0755
		default:
			hdr.Typeflag = tar.TypeReg
			hdr.Size = int64(len(entry.content))
			if hdr.Mode == 0 {
				hdr.Mode = 0644
			}
		}

		require.NoError(t, tw.WriteHeader(hdr))
		if hdr.Typeflag == tar.TypeReg {
			_, err := tw.Write([]byte(entry.content))
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())
}

func makeTgz(t *testing.T, dir string, entries []tarEntry) string {
	t.Helper()

	path := filepath.Join(dir, "icu4c-77_1-src.tgz")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	gz := gzip.NewWriter(f)
	writeTar(t, tar.NewWriter(gz), entries)
	require.NoError(t, gz.Close())
	return path
}

func makeTarXz(t *testing.T, dir string, entries []tarEntry) string {
	t.Helper()

	path := filepath.Join(dir, "icu4c-77_1-src.tar.xz")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	xw, err := xz.NewWriter(f)
	require.NoError(t, err)
	writeTar(t, tar.NewWriter(xw), entries)
	require.NoError(t, xw.Close())
	return path
}

func prepareFixture(t *testing.T) PrepareOptions {
	t.Helper()

	root := t.TempDir()
	download := filepath.Join(root, "download")
	require.NoError(t, os.MkdirAll(download, 0755))

	dataFile := filepath.Join(download, "icudt77l.dat")
	require.NoError(t, ioutil.WriteFile(dataFile, []byte("icu data"), 0644))

	return PrepareOptions{
		Archive:  makeTgz(t, download, icuEntries),
		DataFile: dataFile,
		Dest:     filepath.Join(root, "icu"),
		Strip:    1,
	}
}

// snapshot maps every path below root to its content (or link target).
func snapshot(t *testing.T, root string) map[string]string {
	t.Helper()

	result := map[string]string{}
	err := filepath.Walk(root, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}

		switch {
		case fi.Mode()&os.ModeSymlink != 0:
			target, err := os.Readlink(path)
			if err != nil {
				return err
			}
			result[rel] = "-> " + target
		case fi.IsDir():
			result[rel] = "<dir>"
		default:
			data, err := ioutil.ReadFile(path)
			if err != nil {
				return err
			}
			result[rel] = string(data)
		}
		return nil
	})
	require.NoError(t, err)
	return result
}

func TestPrepare(t *testing.T) {
	opts := prepareFixture(t)

	require.NoError(t, Prepare(context.Background(), opts))

	tree := snapshot(t, opts.Dest)
	assert.Equal(t, "license", tree["LICENSE"])
	assert.Equal(t, "#!/bin/sh\n", tree[filepath.Join("source", "runConfigureICU")])
	assert.Equal(t, "icu data", tree[filepath.Join("source", "data", "in", "icudt77l.dat")])
	assert.Equal(t, "-> mh-linux", tree[filepath.Join("source", "config", "mh-linux-link")])
	assert.NotContains(t, tree, "icu")

	info, err := os.Stat(filepath.Join(opts.Dest, "source", "runConfigureICU"))
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&0100, "runConfigureICU should stay executable")
}

func TestPrepareIsIdempotent(t *testing.T) {
	opts := prepareFixture(t)

	require.NoError(t, Prepare(context.Background(), opts))
	first := snapshot(t, opts.Dest)

	// leftovers of a previous build must disappear
	require.NoError(t, os.MkdirAll(filepath.Join(opts.Dest, "source", "build-host"), 0755))
	require.NoError(t, ioutil.WriteFile(filepath.Join(opts.Dest, "source", "stale.o"), []byte("x"), 0644))

	require.NoError(t, Prepare(context.Background(), opts))
	assert.Equal(t, first, snapshot(t, opts.Dest))
}

func TestPrepareMissingInputs(t *testing.T) {
	t.Run("archive", func(t *testing.T) {
		opts := prepareFixture(t)
		require.NoError(t, os.Remove(opts.Archive))

		err := Prepare(context.Background(), opts)
		require.Error(t, err)
		assert.True(t, eris.Is(err, ErrMissingInput))
		assert.Contains(t, err.Error(), opts.Archive)
	})

	t.Run("data file", func(t *testing.T) {
		opts := prepareFixture(t)
		require.NoError(t, os.Remove(opts.DataFile))

		err := Prepare(context.Background(), opts)
		require.Error(t, err)
		assert.True(t, eris.Is(err, ErrMissingInput))
		assert.Contains(t, err.Error(), opts.DataFile)

		_, statErr := os.Stat(opts.Dest)
		assert.True(t, os.IsNotExist(statErr), "nothing should be extracted")
	})
}

func TestExtractTarXz(t *testing.T) {
	dir := t.TempDir()
	archive := makeTarXz(t, dir, icuEntries)
	dest := filepath.Join(dir, "out")

	require.NoError(t, Extract(context.Background(), archive, dest, 1, nil))

	data, err := ioutil.ReadFile(filepath.Join(dest, "source", "common", "unicode", "uversion.h"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "77.1")
}

func TestExtractRejectsEscapingEntries(t *testing.T) {
	dir := t.TempDir()
	archive := makeTgz(t, dir, []tarEntry{
		{name: "icu/../../../evil", content: "boom"},
	})

	err := Extract(context.Background(), archive, filepath.Join(dir, "out"), 1, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outside")
}

func TestExtractRejectsEscapingSymlinks(t *testing.T) {
	tests := []struct {
		name string
		link func(outside string) string
	}{
		{name: "absolute", link: func(outside string) string { return outside }},
		{name: "relative", link: func(string) string { return "../outside" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			outside := filepath.Join(dir, "outside")
			require.NoError(t, os.MkdirAll(outside, 0755))

			archive := makeTgz(t, dir, []tarEntry{
				{name: "icu/"},
				{name: "icu/esc", link: tt.link(outside)},
				{name: "icu/esc/pwned", content: "boom"},
			})

			err := Extract(context.Background(), archive, filepath.Join(dir, "out"), 1, nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "outside")

			_, statErr := os.Stat(filepath.Join(outside, "pwned"))
			assert.True(t, os.IsNotExist(statErr), "nothing may be written outside of the destination")
		})
	}
}

func TestExtractRejectsWritesThroughSymlinks(t *testing.T) {
	dir := t.TempDir()
	outside := filepath.Join(dir, "outside")
	dest := filepath.Join(dir, "out")
	require.NoError(t, os.MkdirAll(outside, 0755))
	require.NoError(t, os.MkdirAll(dest, 0755))
	require.NoError(t, os.Symlink(outside, filepath.Join(dest, "esc")))

	archive := makeTgz(t, dir, []tarEntry{
		{name: "icu/esc/pwned", content: "boom"},
	})

	err := Extract(context.Background(), archive, dest, 1, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outside")

	_, statErr := os.Stat(filepath.Join(outside, "pwned"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestExtractHardLinks(t *testing.T) {
	dir := t.TempDir()
	archive := makeTgz(t, dir, []tarEntry{
		{name: "icu/"},
		{name: "icu/source/config/mh-linux", content: "linux rules"},
		{name: "icu/source/config/mh-alpine", hardlink: "icu/source/config/mh-linux"},
	})
	dest := filepath.Join(dir, "out")

	require.NoError(t, Extract(context.Background(), archive, dest, 1, nil))

	data, err := ioutil.ReadFile(filepath.Join(dest, "source", "config", "mh-alpine"))
	require.NoError(t, err)
	assert.Equal(t, "linux rules", string(data))
}

type recordedProgress struct {
	values []int64
}

func (p *recordedProgress) Set64(value int64) error {
	p.values = append(p.values, value)
	return nil
}

func TestExtractZipProgress(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "icu.zip")

	f, err := os.Create(archive)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for _, name := range []string{"icu/LICENSE", "icu/source/runConfigureICU", "icu/source/configure"} {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(strings.Repeat(name, 50)))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	bar := &recordedProgress{}
	require.NoError(t, Extract(context.Background(), archive, filepath.Join(dir, "out"), 1, bar))

	require.Len(t, bar.values, 3)
	for i := 1; i < len(bar.values); i++ {
		assert.Greater(t, bar.values[i], bar.values[i-1], "progress must only grow")
	}

	data, err := ioutil.ReadFile(filepath.Join(dir, "out", "source", "configure"))
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("icu/source/configure", 50), string(data))
}

func TestExtractUnsupported(t *testing.T) {
	err := Extract(context.Background(), "icu.rar", t.TempDir(), 1, nil)
	assert.True(t, eris.Is(err, ErrUnsupportedArchive))
}
