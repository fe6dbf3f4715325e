package badgerstore

import (
	"fmt"
	"os"

	"github.com/shirou/gopsutil/disk"
	"github.com/sirupsen/logrus"
)

const gib = 1024 * 1024 * 1024

// checkFreeSpace refuses to open the store when the filesystem holding the
// path has less than minFreeGB gibibytes free. Badger misbehaves badly on a
// full disk, so failing early is safer than failing mid-compaction.
func checkFreeSpace(path string, minFreeGB int) error {
	if minFreeGB <= 0 {
		return nil
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("badgerstore: create %s: %w", path, err)
	}
	usage, err := disk.Usage(path)
	if err != nil {
		return fmt.Errorf("badgerstore: disk usage for %s: %w", path, err)
	}
	log.WithFields(logrus.Fields{
		"path":    path,
		"freeGB":  float64(usage.Free) / gib,
		"totalGB": float64(usage.Total) / gib,
	}).Info("checked free disk space")
	if usage.Free < uint64(minFreeGB)*gib {
		return fmt.Errorf("badgerstore: %s has %.1f GB free, need at least %d GB",
			path, float64(usage.Free)/gib, minFreeGB)
	}
	return nil
}
