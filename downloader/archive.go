package downloader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/airbusgeo/cdse-dl/service"
	"github.com/airbusgeo/cdse-dl/service/log"
	"github.com/mholt/archiver"
)

var archiveExtensions = []string{".zip", ".tar", ".tar.gz", ".tgz"}

// IsArchive returns true if the name has the extension of a supported archive
func IsArchive(name string) bool {
	name = strings.ToLower(name)
	for _, ext := range archiveExtensions {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}

// unarchive extracts the archive in localDir. The archive is kept so that the next download is skipped.
// All errors are temporary.
func unarchive(ctx context.Context, archive, localDir string) error {
	if !IsArchive(archive) {
		log.Logger(ctx).Sugar().Debugf("%s is not an archive: nothing to extract", archive)
		return nil
	}
	tmpdir, err := os.MkdirTemp(localDir, filepath.Base(archive))
	if err != nil {
		return service.MakeTemporary(fmt.Errorf("unarchive: %w", err))
	}
	defer os.RemoveAll(tmpdir)
	if err := archiver.Unarchive(archive, tmpdir); err != nil {
		return service.MakeTemporary(fmt.Errorf("unarchive: %w", err))
	}
	files, err := os.ReadDir(tmpdir)
	if err != nil {
		return service.MakeTemporary(fmt.Errorf("unarchive: %w", err))
	}
	if len(files) == 0 {
		return service.MakeTemporary(fmt.Errorf("unarchive: empty archive"))
	}
	for _, f := range files {
		dst := filepath.Join(localDir, f.Name())
		if err := os.RemoveAll(dst); err != nil {
			return service.MakeTemporary(fmt.Errorf("unarchive: %w", err))
		}
		if err := os.Rename(filepath.Join(tmpdir, f.Name()), dst); err != nil {
			return service.MakeTemporary(fmt.Errorf("unarchive: %w", err))
		}
	}
	return nil
}
