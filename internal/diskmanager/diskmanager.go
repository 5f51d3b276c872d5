// Package diskmanager enforces clip retention: count and storage bounds
// evicting oldest-by-modification-time, plus a periodic age sweep. Sidecar
// metadata and thumbnails are removed together with their clip.
package diskmanager

import (
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/disk"

	"github.com/wildnest/camgate/internal/errors"
	"github.com/wildnest/camgate/internal/logging"
)

// clipExtensions are the media files retention applies to. Sidecars share
// the clip's base name and go with it.
var clipExtensions = map[string]bool{
	".mp4": true,
	".mkv": true,
	".ts":  true,
}

var sidecarExtensions = []string{".json", ".jpg"}

// Policy bounds the stored clips. Zero values disable the respective bound.
type Policy struct {
	MaxClips        int
	MaxStorageBytes int64
	MaxAgeDays      int
}

// ClipFile is one stored media file.
type ClipFile struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// StorageStats summarizes the clip directory and its filesystem.
type StorageStats struct {
	ClipCount       int
	TotalBytes      int64
	DiskUsedPercent float64
}

var logger *slog.Logger

func init() {
	logger = logging.ForService("diskmanager")
}

// ListClipFiles collects the media files directly under dir, oldest first.
func ListClipFiles(dir string) ([]ClipFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.New(err).
			Component("diskmanager").
			Category(errors.CategoryFileIO).
			Context("operation", "list_clips").
			Build()
	}

	var files []ClipFile
	for _, entry := range entries {
		if entry.IsDir() || !clipExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, ClipFile{
			Path:    filepath.Join(dir, entry.Name()),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].ModTime.Before(files[j].ModTime)
	})
	return files, nil
}

// EnforceBounds evicts oldest clips until both the count and storage bounds
// hold. Returns the number of evicted clips.
func EnforceBounds(dir string, policy Policy) (int, error) {
	files, err := ListClipFiles(dir)
	if err != nil {
		return 0, err
	}

	var totalBytes int64
	for _, f := range files {
		totalBytes += f.Size
	}

	evicted := 0
	for _, f := range files {
		overCount := policy.MaxClips > 0 && len(files)-evicted > policy.MaxClips
		overBytes := policy.MaxStorageBytes > 0 && totalBytes > policy.MaxStorageBytes
		if !overCount && !overBytes {
			break
		}
		if err := removeWithSidecars(f.Path); err != nil {
			logger.Warn("failed to evict clip",
				"path", f.Path,
				"error", err,
				"operation", "enforce_bounds")
			continue
		}
		totalBytes -= f.Size
		evicted++
	}

	if evicted > 0 {
		logger.Info("evicted clips to satisfy retention bounds",
			"evicted", evicted,
			"remaining", len(files)-evicted,
			"total_bytes", totalBytes,
			"operation", "enforce_bounds")
	}
	return evicted, nil
}

// AgeSweep deletes every clip older than the policy's age bound regardless
// of the count and storage bounds.
func AgeSweep(dir string, policy Policy) (int, error) {
	if policy.MaxAgeDays <= 0 {
		return 0, nil
	}
	files, err := ListClipFiles(dir)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().AddDate(0, 0, -policy.MaxAgeDays)
	swept := 0
	for _, f := range files {
		if !f.ModTime.Before(cutoff) {
			// Oldest-first ordering: the rest is younger.
			break
		}
		if err := removeWithSidecars(f.Path); err != nil {
			logger.Warn("failed to sweep expired clip",
				"path", f.Path,
				"error", err,
				"operation", "age_sweep")
			continue
		}
		swept++
	}

	if swept > 0 {
		logger.Info("swept expired clips",
			"swept", swept,
			"max_age_days", policy.MaxAgeDays,
			"operation", "age_sweep")
	}
	return swept, nil
}

// GetStorageStats reports the clip count, total bytes and the usage of the
// filesystem holding dir.
func GetStorageStats(dir string) (StorageStats, error) {
	files, err := ListClipFiles(dir)
	if err != nil {
		return StorageStats{}, err
	}

	stats := StorageStats{ClipCount: len(files)}
	for _, f := range files {
		stats.TotalBytes += f.Size
	}

	if usage, err := disk.Usage(dir); err == nil {
		stats.DiskUsedPercent = usage.UsedPercent
	}
	return stats, nil
}

// removeWithSidecars deletes a clip and its same-named metadata sidecar and
// thumbnail.
func removeWithSidecars(clipPath string) error {
	if err := os.Remove(clipPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	base := strings.TrimSuffix(clipPath, filepath.Ext(clipPath))
	for _, ext := range sidecarExtensions {
		if err := os.Remove(base + ext); err != nil && !os.IsNotExist(err) {
			logger.Debug("failed to remove sidecar",
				"path", base+ext,
				"error", err)
		}
	}
	return nil
}
