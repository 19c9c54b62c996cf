//go:build unix

package briefing

import "golang.org/x/sys/unix"

// DiskUsage returns the integer percentage of used space on the filesystem
// holding path. Reserved blocks count as used.
func DiskUsage(path string) (int, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, err
	}
	total := st.Blocks * uint64(st.Bsize)
	if total == 0 {
		return 0, nil
	}
	used := (st.Blocks - st.Bfree) * uint64(st.Bsize)
	return int(used * 100 / total), nil
}
