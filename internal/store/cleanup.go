package store

import (
	"os"
	"path/filepath"

	logx "agentsched/pkg/logx"
)

// Cleanup removes directories left empty by deletions so the bucket index
// doesn't accumulate scaffolding. Walked bottom-up: tenant dirs inside each
// hour, then the hour, then the date; recurring tenant dirs last. Running it
// twice with no intervening writes is a no-op.
//
// Result directories are never touched: results outlive their schedules.
func (s *Store) Cleanup() int {
	removed := 0

	onetimeBase := filepath.Join(s.root, onetimeDir)
	dates, _ := readDirNames(onetimeBase)
	for _, date := range dates {
		dateDir := filepath.Join(onetimeBase, date)
		hours, _ := readDirNames(dateDir)
		for _, hour := range hours {
			hourDir := filepath.Join(dateDir, hour)
			tenants, _ := readDirNames(hourDir)
			for _, digest := range tenants {
				if removeIfEmpty(filepath.Join(hourDir, digest)) {
					removed++
				}
			}
			if removeIfEmpty(hourDir) {
				removed++
			}
		}
		if removeIfEmpty(dateDir) {
			removed++
		}
	}

	recurringBase := filepath.Join(s.root, recurringDir)
	tenants, _ := readDirNames(recurringBase)
	for _, digest := range tenants {
		if removeIfEmpty(filepath.Join(recurringBase, digest)) {
			removed++
		}
	}

	if removed > 0 {
		s.log.Debug("cleanup removed empty directories", logx.Int("removed", removed))
	}
	return removed
}

// removeIfEmpty deletes dir only when it has no entries. A concurrent write
// between the check and the remove makes os.Remove fail, which we ignore:
// the directory is simply no longer empty.
func removeIfEmpty(dir string) bool {
	ents, err := os.ReadDir(dir)
	if err != nil || len(ents) > 0 {
		return false
	}
	return os.Remove(dir) == nil
}
