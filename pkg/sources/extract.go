package sources

import (
	"archive/tar"
	"archive/zip"
	"compress/bzip2"
	"compress/gzip"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/ulikunitz/xz"

	"github.com/ngld/icu-build/pkg/buildlog"
)

// ErrUnsupportedArchive is returned for archive names without a known extension.
var ErrUnsupportedArchive = eris.New("archive format not supported")

// Progress receives the number of compressed bytes consumed so far.
type Progress interface {
	Set64(int64) error
}

type noProgress struct{}

func (noProgress) Set64(int64) error { return nil }

type archiveExtractor func(ctx context.Context, f *os.File, bar Progress, dest *destDir, strip int) error

func getExtractor(name string) (archiveExtractor, error) {
	switch {
	case strings.HasSuffix(name, ".zip"):
		return extractZip, nil
	case strings.HasSuffix(name, ".tar.gz"), strings.HasSuffix(name, ".tgz"):
		return func(ctx context.Context, f *os.File, bar Progress, dest *destDir, strip int) error {
			reader, err := gzip.NewReader(f)
			if err != nil {
				return eris.Wrap(err, "Failed to open gzip stream")
			}
			defer reader.Close()

			return extractTar(ctx, reader, f, bar, dest, strip)
		}, nil
	case strings.HasSuffix(name, ".tar.bz2"):
		return func(ctx context.Context, f *os.File, bar Progress, dest *destDir, strip int) error {
			return extractTar(ctx, bzip2.NewReader(f), f, bar, dest, strip)
		}, nil
	case strings.HasSuffix(name, ".tar.xz"):
		return func(ctx context.Context, f *os.File, bar Progress, dest *destDir, strip int) error {
			reader, err := xz.NewReader(f)
			if err != nil {
				return eris.Wrap(err, "Failed to open xz stream")
			}

			return extractTar(ctx, reader, f, bar, dest, strip)
		}, nil
	}

	return nil, eris.Wrapf(ErrUnsupportedArchive, "Can't extract %s", name)
}

// Extract unpacks archive into dest, dropping the first strip path components of every entry.
// Entries which end up outside of dest are rejected, either by name, by symlink target or by
// being written through a symlink extracted earlier.
func Extract(ctx context.Context, archive, dest string, strip int, bar Progress) error {
	extractor, err := getExtractor(archive)
	if err != nil {
		return err
	}

	f, err := os.Open(archive)
	if err != nil {
		return eris.Wrapf(err, "Failed to open archive %s", archive)
	}
	defer f.Close()

	root, err := newDestDir(dest)
	if err != nil {
		return err
	}

	if bar == nil {
		bar = noProgress{}
	}

	return extractor(ctx, f, bar, root, strip)
}

// destDir is the extraction root. resolved is the root with all symlinks resolved.
type destDir struct {
	path     string
	resolved string
}

func newDestDir(dest string) (*destDir, error) {
	dest = filepath.Clean(dest)
	err := os.MkdirAll(dest, 0770)
	if err != nil {
		return nil, eris.Wrapf(err, "Failed to create directory %s", dest)
	}

	resolved, err := filepath.EvalSymlinks(dest)
	if err != nil {
		return nil, eris.Wrapf(err, "Failed to resolve %s", dest)
	}

	return &destDir{path: dest, resolved: resolved}, nil
}

func isInside(root, path string) bool {
	return path == root || strings.HasPrefix(path, root+string(filepath.Separator))
}

// entryPath normalizes the entry path and strips strip elements from the beginning. An empty result
// means the entry should be skipped.
func (d *destDir) entryPath(item string, strip int) (string, error) {
	pathParts := strings.Split(filepath.Clean(filepath.FromSlash(item)), string(filepath.Separator))
	if len(pathParts) <= strip {
		return "", nil
	}

	result := filepath.Join(d.path, strings.Join(pathParts[strip:], string(filepath.Separator)))
	if result == d.path {
		return "", nil
	}

	if !isInside(d.path, result) {
		return "", eris.Errorf("Archive entry %s points outside of %s", item, d.path)
	}

	return result, nil
}

// checkResolved makes sure that path, after following every symlink that already exists on disk,
// still lies inside the destination.
func (d *destDir) checkResolved(path string) error {
	existing := path
	for {
		_, err := os.Lstat(existing)
		if err == nil {
			break
		}
		if !os.IsNotExist(err) {
			return eris.Wrapf(err, "Failed to check %s", existing)
		}

		parent := filepath.Dir(existing)
		if parent == existing {
			break
		}
		existing = parent
	}

	resolved, err := filepath.EvalSymlinks(existing)
	if err != nil {
		return eris.Wrapf(err, "Failed to resolve %s", existing)
	}

	if !isInside(d.resolved, resolved) {
		return eris.Errorf("%s resolves to %s which is outside of %s", path, resolved, d.path)
	}

	return nil
}

// checkLink rejects symlink targets which are absolute or leave the destination.
func (d *destDir) checkLink(dest, target string) error {
	if filepath.IsAbs(target) {
		return eris.Errorf("Symlink %s points to the absolute path %s outside of %s", dest, target, d.path)
	}

	if !isInside(d.path, filepath.Join(filepath.Dir(dest), target)) {
		return eris.Errorf("Symlink %s points to %s outside of %s", dest, target, d.path)
	}

	return nil
}

func openExtractorDest(dest string, mode os.FileMode) (*os.File, error) {
	destParent := filepath.Dir(dest)
	err := os.MkdirAll(destParent, os.FileMode(0770))
	if err != nil {
		return nil, eris.Wrapf(err, "Failed to create directory %s", destParent)
	}

	destHandle, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return nil, eris.Wrapf(err, "Failed to create file %s", dest)
	}

	return destHandle, nil
}

func reportPosition(f *os.File, bar Progress) {
	pos, err := f.Seek(0, io.SeekCurrent)
	if err == nil {
		bar.Set64(pos)
	}
}

func extractZip(ctx context.Context, f *os.File, bar Progress, root *destDir, strip int) error {
	stat, err := f.Stat()
	if err != nil {
		return err
	}

	archive, err := zip.NewReader(f, stat.Size())
	if err != nil {
		return eris.Wrap(err, "Failed to read zip directory")
	}

	// zip.Reader reads through ReaderAt so the file position never moves; count the entries instead.
	var done int64
	for _, item := range archive.File {
		done += int64(item.CompressedSize64)
		if strings.HasSuffix(item.Name, "/") {
			continue
		}

		dest, err := root.entryPath(item.Name, strip)
		if err != nil {
			return err
		}
		if dest == "" {
			continue
		}

		err = root.checkResolved(dest)
		if err != nil {
			return err
		}

		err = copyZipEntry(item, dest)
		if err != nil {
			return err
		}

		bar.Set64(done)
	}

	return nil
}

func copyZipEntry(item *zip.File, dest string) error {
	mode := item.Mode().Perm()
	if mode == 0 {
		mode = 0660
	}

	destHandle, err := openExtractorDest(dest, mode)
	if err != nil {
		return err
	}
	defer destHandle.Close()

	itemHandle, err := item.Open()
	if err != nil {
		return eris.Wrap(err, "Failed to open archive entry")
	}
	defer itemHandle.Close()

	_, err = io.Copy(destHandle, itemHandle)
	if err != nil {
		return eris.Wrapf(err, "Failed to extract %s", item.Name)
	}

	return destHandle.Close()
}

func extractTar(ctx context.Context, r io.Reader, f *os.File, bar Progress, root *destDir, strip int) error {
	archive := tar.NewReader(r)

	for {
		item, err := archive.Next()
		if err != nil {
			if err == io.EOF {
				break
			}

			return eris.Wrap(err, "Failed to read archive entry")
		}

		dest, err := root.entryPath(item.Name, strip)
		if err != nil {
			return err
		}
		if dest == "" {
			continue
		}

		err = root.checkResolved(dest)
		if err != nil {
			return err
		}

		fi := item.FileInfo()
		switch item.Typeflag {
		case tar.TypeDir:
			err = os.MkdirAll(dest, 0770)
			if err != nil {
				return eris.Wrapf(err, "Failed to create directory %s", dest)
			}
		case tar.TypeSymlink:
			err = root.checkLink(dest, item.Linkname)
			if err != nil {
				return err
			}

			err = os.MkdirAll(filepath.Dir(dest), 0770)
			if err != nil {
				return eris.Wrapf(err, "Failed to create directory %s", filepath.Dir(dest))
			}

			err = os.Symlink(item.Linkname, dest)
			if err != nil {
				return eris.Wrapf(err, "Failed to create symlink %s pointing to %s", dest, item.Linkname)
			}
		case tar.TypeLink:
			// Hard links name another entry of the same archive. Copy it instead of linking so
			// the result doesn't depend on the filesystem.
			linked, err := root.entryPath(item.Linkname, strip)
			if err != nil {
				return err
			}
			if linked == "" {
				return eris.Errorf("Hard link %s points to %s which isn't part of the extracted tree", item.Name, item.Linkname)
			}

			err = root.checkResolved(linked)
			if err != nil {
				return err
			}

			err = os.MkdirAll(filepath.Dir(dest), 0770)
			if err != nil {
				return eris.Wrapf(err, "Failed to create directory %s", filepath.Dir(dest))
			}

			err = CopyFile(linked, dest)
			if err != nil {
				return eris.Wrapf(err, "Failed to resolve hard link %s", item.Name)
			}
		case tar.TypeReg, tar.TypeRegA:
			destHandle, err := openExtractorDest(dest, fi.Mode().Perm())
			if err != nil {
				return err
			}

			_, err = io.Copy(destHandle, archive)
			destHandle.Close()
			if err != nil {
				return eris.Wrapf(err, "Failed to write extracted file %s", dest)
			}

			// OpenFile applies the umask; restore the archived permissions so scripts stay executable.
			os.Chmod(dest, fi.Mode().Perm())
		default:
			buildlog.Log(ctx).Warn().
				Str("path", dest).
				Msgf("Skipping %s (unsupported entry type %q)", item.Name, string(item.Typeflag))
			continue
		}

		reportPosition(f, bar)
	}

	return nil
}
