package operations

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/zstd"

	"github.com/kebairia/jujubackup/internal/fileutil"
	"github.com/kebairia/jujubackup/internal/logger"
	"github.com/kebairia/jujubackup/internal/results"
)

const zstdSuffix = ".zst"

// CompressZstd compresses inputPath into inputPath.zst and removes the
// original. It returns the new path.
func CompressZstd(inputPath string) (outputPath string, err error) {
	outputPath = inputPath + zstdSuffix

	inFile, err := os.Open(inputPath)
	if err != nil {
		return "", fmt.Errorf("failed to open input file: %w", err)
	}
	defer inFile.Close()

	outFile, err := os.Create(outputPath)
	if err != nil {
		return "", fmt.Errorf("failed to create output file: %w", err)
	}
	defer func() {
		if err != nil {
			outFile.Close()
			_ = os.Remove(outputPath)
		}
	}()

	writer, err := zstd.NewWriter(outFile)
	if err != nil {
		return "", fmt.Errorf("failed to create Zstandard writer: %w", err)
	}
	if _, err = io.Copy(writer, inFile); err != nil {
		writer.Close()
		return "", fmt.Errorf("failed to compress file: %w", err)
	}
	if err = writer.Close(); err != nil {
		return "", fmt.Errorf("failed to flush compressed file: %w", err)
	}
	if err = outFile.Close(); err != nil {
		return "", fmt.Errorf("failed to close output file: %w", err)
	}

	if err = os.Remove(inputPath); err != nil {
		return "", fmt.Errorf("failed to remove original file: %w", err)
	}
	return outputPath, nil
}

// CompressArtifacts compresses every regular file referenced by a
// download_path and points the entry at the compressed file. Entries without
// a usable path are left for the health check to report.
func CompressArtifacts(doc *results.Document, log logger.Logger) error {
	for _, kind := range doc.BackupKinds() {
		entries, err := doc.RawEntries(kind)
		if err != nil {
			continue
		}
		for _, raw := range entries {
			fields, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			path, ok := fields[results.DownloadPathKey].(string)
			if !ok || strings.HasSuffix(path, zstdSuffix) || !fileutil.IsRegularFile(path) {
				continue
			}

			before := fileSize(path)
			compressed, err := CompressZstd(path)
			if err != nil {
				return fmt.Errorf("compress %s: %w", path, err)
			}
			fields[results.DownloadPathKey] = compressed

			log.Debug("compressed backup artifact",
				"kind", kind,
				"path", compressed,
				"before", humanize.IBytes(uint64(before)),
				"after", humanize.IBytes(uint64(fileSize(compressed))),
			)
		}
		doc.SetRawEntries(kind, entries)
	}
	return nil
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
