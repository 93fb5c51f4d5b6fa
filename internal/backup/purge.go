package backup

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/kebairia/jujubackup/internal/logger"
)

// ErrPurge indicates old backups could not be removed.
var ErrPurge = errors.New("purge failed")

// PurgeResult summarises one purge pass.
type PurgeResult struct {
	Files int
	Bytes int64
}

// Purge deletes regular files under dir modified more than days full days
// before now. Directories are kept even when they end up empty.
func Purge(dir string, days int, now time.Time, log logger.Logger) (PurgeResult, error) {
	var result PurgeResult
	if days <= 0 {
		return result, nil
	}
	// Same cut-off as `find -mtime +N`: strictly older than N+1 days.
	cutoff := now.Add(-time.Duration(days+1) * 24 * time.Hour)

	log.Info("purging backup files", "dir", dir, "older_than_days", days)

	var errs []error
	walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			errs = append(errs, err)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			errs = append(errs, err)
			return nil
		}
		if !info.ModTime().Before(cutoff) {
			return nil
		}
		if err := os.Remove(path); err != nil {
			errs = append(errs, err)
			return nil
		}
		result.Files++
		result.Bytes += info.Size()
		log.Debug("purged backup file", "path", path)
		return nil
	})
	if walkErr != nil {
		errs = append(errs, walkErr)
	}
	if len(errs) > 0 {
		err := fmt.Errorf("%w: %s: %v", ErrPurge, dir, errors.Join(errs...))
		log.Error("purge failed", "dir", dir, "error", err.Error())
		return result, err
	}

	log.Info("completed purging old backup files",
		"files", result.Files,
		"freed", humanize.IBytes(uint64(result.Bytes)),
	)
	return result, nil
}
