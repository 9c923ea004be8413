//go:build linux || darwin

package objectstore

import (
	"fmt"
	"syscall"
)

func diskUsagePercent(path string) (float64, error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err != nil {
		return 0, fmt.Errorf("jobs: statfs %s: %w", path, err)
	}
	if st.Blocks == 0 {
		return 0, nil
	}
	used := st.Blocks - st.Bfree
	return float64(used) / float64(st.Blocks) * 100, nil
}
