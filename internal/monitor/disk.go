package monitor

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/mirrorvault/mirrorvault/internal/domain"
)

// diskUsage reads capacity for the volume holding path via statfs. Bavail is
// used for free space so the root-reserved blocks do not mask a full disk.
func diskUsage(path string) (*domain.DiskMetrics, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return nil, fmt.Errorf("statfs %s: %w", path, err)
	}
	return &domain.DiskMetrics{
		TotalBytes: int64(st.Blocks) * int64(st.Bsize),
		FreeBytes:  int64(st.Bavail) * int64(st.Bsize),
	}, nil
}
