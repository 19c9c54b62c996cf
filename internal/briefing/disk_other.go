//go:build !unix

package briefing

import "errors"

// DiskUsage is not supported on this platform.
func DiskUsage(string) (int, error) {
	return 0, errors.New("briefing: disk usage not supported on this platform")
}
