package sources

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"

	"github.com/ngld/icu-build/pkg/buildlog"
)

// ErrMissingInput is returned if the source archive or the data file don't exist.
var ErrMissingInput = eris.New("missing input file")

// DataInDir is the location inside the extracted tree where ICU's build expects the prebuilt data file.
var DataInDir = filepath.Join("source", "data", "in")

// PrepareOptions describes where the source tree comes from and where it goes.
type PrepareOptions struct {
	// Archive is the compressed ICU source archive.
	Archive string
	// DataFile is copied into <Dest>/source/data/in/.
	DataFile string
	// Dest is the directory the archive is extracted into. It's deleted first if it exists.
	Dest string
	// Strip is the number of leading path components dropped from each archive entry.
	Strip int
	// Progress is optional.
	Progress Progress
}

// Prepare produces a fresh, ready to configure source tree. Running it twice yields the same tree.
func Prepare(ctx context.Context, opts PrepareOptions) error {
	logger := buildlog.Log(ctx)

	for _, input := range []string{opts.Archive, opts.DataFile} {
		info, err := os.Stat(input)
		if err != nil {
			if eris.Is(err, os.ErrNotExist) {
				return eris.Wrapf(ErrMissingInput, "%s does not exist", input)
			}
			return eris.Wrapf(err, "Failed to check %s", input)
		}

		if info.IsDir() {
			return eris.Wrapf(ErrMissingInput, "%s is a directory", input)
		}
	}

	_, err := os.Stat(opts.Dest)
	if err == nil {
		logger.Info().Str("path", opts.Dest).Msgf("Removing old source tree %s", opts.Dest)
		err = os.RemoveAll(opts.Dest)
		if err != nil {
			return eris.Wrapf(err, "Failed to remove %s", opts.Dest)
		}
	} else if !eris.Is(err, os.ErrNotExist) {
		return eris.Wrapf(err, "Failed to check %s", opts.Dest)
	}

	err = os.MkdirAll(opts.Dest, 0770)
	if err != nil {
		return eris.Wrapf(err, "Failed to create %s", opts.Dest)
	}

	logger.Info().Str("path", opts.Archive).Msgf("Extracting %s", filepath.Base(opts.Archive))
	err = Extract(ctx, opts.Archive, opts.Dest, opts.Strip, opts.Progress)
	if err != nil {
		return eris.Wrapf(err, "Failed to extract %s", opts.Archive)
	}

	dataIn := filepath.Join(opts.Dest, DataInDir)
	err = os.MkdirAll(dataIn, 0770)
	if err != nil {
		return eris.Wrapf(err, "Failed to create %s", dataIn)
	}

	dataDest := filepath.Join(dataIn, filepath.Base(opts.DataFile))
	err = CopyFile(opts.DataFile, dataDest)
	if err != nil {
		return err
	}

	logger.Info().Str("path", dataDest).Msgf("Copied %s to %s", filepath.Base(opts.DataFile), dataIn)
	return nil
}

// CopyFile copies src to dest, replacing dest if it exists. The permissions of src are kept.
func CopyFile(src, dest string) error {
	srcHandle, err := os.Open(src)
	if err != nil {
		return eris.Wrapf(err, "Failed to open %s", src)
	}
	defer srcHandle.Close()

	info, err := srcHandle.Stat()
	if err != nil {
		return eris.Wrapf(err, "Failed to stat %s", src)
	}

	destHandle, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return eris.Wrapf(err, "Failed to create %s", dest)
	}

	_, err = io.Copy(destHandle, srcHandle)
	if err != nil {
		destHandle.Close()
		return eris.Wrapf(err, "Failed to copy %s to %s", src, dest)
	}

	err = destHandle.Close()
	if err != nil {
		return eris.Wrapf(err, "Failed to write %s", dest)
	}

	return nil
}
