package sources

import (
	"archive/tar"
	"encoding/json"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/rotisserie/eris"
	"github.com/ulikunitz/xz"
)

// BuildInfoName is the name of the metadata file written at the root of every bundle. A build stores
// the same file in the output directory.
const BuildInfoName = "BUILDINFO.json"

// BuildInfo describes the build run which produced a set of libraries.
type BuildInfo struct {
	RunID   string    `json:"run_id"`
	Created time.Time `json:"created"`
	Targets []string  `json:"targets"`
}

// WriteBuildInfo stores info as BUILDINFO.json in root.
func WriteBuildInfo(root string, info BuildInfo) error {
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return eris.Wrap(err, "Failed to encode build info")
	}

	err = os.MkdirAll(root, 0770)
	if err != nil {
		return eris.Wrapf(err, "Failed to create %s", root)
	}

	path := filepath.Join(root, BuildInfoName)
	err = ioutil.WriteFile(path, data, 0660)
	if err != nil {
		return eris.Wrapf(err, "Failed to write %s", path)
	}

	return nil
}

// ReadBuildInfo loads the BUILDINFO.json written by WriteBuildInfo.
func ReadBuildInfo(root string) (*BuildInfo, error) {
	path := filepath.Join(root, BuildInfoName)
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "Failed to read %s", path)
	}

	info := new(BuildInfo)
	err = json.Unmarshal(data, info)
	if err != nil {
		return nil, eris.Wrapf(err, "Failed to parse %s", path)
	}

	return info, nil
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }

func compressor(name string, w io.Writer) (io.WriteCloser, error) {
	switch {
	case strings.HasSuffix(name, ".tar.xz"):
		return xz.NewWriter(w)
	case strings.HasSuffix(name, ".tar.br"):
		return brotli.NewWriterLevel(w, brotli.BestCompression), nil
	case strings.HasSuffix(name, ".tar"):
		return nopCloser{w}, nil
	}

	return nil, eris.Wrapf(ErrUnsupportedArchive, "Can't create %s (use .tar, .tar.xz or .tar.br)", name)
}

// Bundle packs every file below root into the archive out. The compression is picked from the
// extension of out. info is stored as BUILDINFO.json next to the packed files and replaces the
// BUILDINFO.json found in root.
func Bundle(root, out string, info BuildInfo) error {
	files := []string{}
	storedInfo := filepath.Join(root, BuildInfoName)
	err := filepath.Walk(root, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if fi.Mode().IsRegular() && path != storedInfo {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return eris.Wrapf(err, "Failed to list %s", root)
	}

	if len(files) == 0 {
		return eris.Errorf("%s doesn't contain any files", root)
	}
	sort.Strings(files)

	handle, err := os.Create(out)
	if err != nil {
		return eris.Wrapf(err, "Failed to create %s", out)
	}
	defer handle.Close()

	cw, err := compressor(out, handle)
	if err != nil {
		return err
	}

	tw := tar.NewWriter(cw)
	modTime := info.Created
	if modTime.IsZero() {
		modTime = time.Now()
	}

	infoData, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return eris.Wrap(err, "Failed to encode build info")
	}

	err = tw.WriteHeader(&tar.Header{
		Name:     BuildInfoName,
		Mode:     0644,
		Size:     int64(len(infoData)),
		ModTime:  modTime,
		Typeflag: tar.TypeReg,
	})
	if err == nil {
		_, err = tw.Write(infoData)
	}
	if err != nil {
		return eris.Wrapf(err, "Failed to write %s", BuildInfoName)
	}

	for _, path := range files {
		err = addBundleFile(tw, root, path)
		if err != nil {
			return err
		}
	}

	if err = tw.Close(); err != nil {
		return eris.Wrap(err, "Failed to finish tar stream")
	}
	if err = cw.Close(); err != nil {
		return eris.Wrap(err, "Failed to finish compression")
	}

	return handle.Close()
}

func addBundleFile(tw *tar.Writer, root, path string) error {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return eris.Wrapf(err, "Failed to simplify %s", path)
	}

	f, err := os.Open(path)
	if err != nil {
		return eris.Wrapf(err, "Failed to open %s", path)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return eris.Wrapf(err, "Failed to stat %s", path)
	}

	hdr, err := tar.FileInfoHeader(fi, "")
	if err != nil {
		return eris.Wrapf(err, "Failed to build header for %s", path)
	}
	hdr.Name = filepath.ToSlash(rel)

	err = tw.WriteHeader(hdr)
	if err != nil {
		return eris.Wrapf(err, "Failed to write header for %s", path)
	}

	_, err = io.Copy(tw, f)
	if err != nil {
		return eris.Wrapf(err, "Failed to pack %s", path)
	}

	return nil
}
