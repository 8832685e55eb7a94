package recorder

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/dustin/go-humanize"
)

// evictIfNeeded deletes the oldest recordings in folder, oldest first,
// until currentSize+estimatedNewBytes fits within capBytes. It returns the
// number of files deleted.
func evictIfNeeded(folder string, estimatedNewBytes, capBytes int64) (int, error) {
	entries, err := os.ReadDir(folder)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	type file struct {
		path    string
		size    int64
		modTime int64
	}
	var files []file
	var total int64
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".mp4" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		total += info.Size()
		files = append(files, file{
			path:    filepath.Join(folder, e.Name()),
			size:    info.Size(),
			modTime: info.ModTime().UnixNano(),
		})
	}

	if total+estimatedNewBytes <= capBytes {
		return 0, nil
	}

	log.Info("storage budget exceeded, evicting oldest recordings",
		"used", humanize.Bytes(uint64(total)), "cap", humanize.Bytes(uint64(capBytes)))

	sort.Slice(files, func(i, j int) bool { return files[i].modTime < files[j].modTime })

	deleted := 0
	for _, f := range files {
		if total+estimatedNewBytes <= capBytes {
			break
		}
		if err := os.Remove(f.path); err != nil {
			log.Warn("failed to evict old recording", "path", f.path, "error", err)
			continue
		}
		log.Info("evicted recording", "path", f.path, "size", humanize.Bytes(uint64(f.size)))
		total -= f.size
		deleted++
	}
	return deleted, nil
}

// estimateSessionBytes proxies the eventual segment size from bitrate and an
// expected-duration proxy, per the storage-budget prelude step.
func estimateSessionBytes(bitrateBPS int64, expectedDurationSeconds int64) int64 {
	return (bitrateBPS / 8) * expectedDurationSeconds
}
