package archive

import (
	"fmt"
	"strings"
	"time"
)

// StampLayout is the rotation timestamp prefix of every archive name.
const StampLayout = "20060102_150405"

// Extension is appended to the finalized file name to form the container name.
const Extension = ".zip"

// tempMarker separates a container name from its in-progress suffix.
const tempMarker = ".tmp-"

// ArchiveName returns "<YYYYMMDD_HHMMSS>_<base>" for a rotation at t.
func ArchiveName(t time.Time, base string) string {
	return t.Format(StampLayout) + "_" + base
}

// numberedName returns "<YYYYMMDD_HHMMSS>-<n>_<base>", used when the plain
// name is already taken by an earlier rotation in the same second.
func numberedName(t time.Time, base string, n int) string {
	return fmt.Sprintf("%s-%d_%s", t.Format(StampLayout), n, base)
}

// ParseArchiveTime extracts the rotation time embedded in an archive name.
func ParseArchiveTime(name string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	if len(name) <= len(StampLayout) {
		return time.Time{}, fmt.Errorf("archive name too short: %q", name)
	}
	if sep := name[len(StampLayout)]; sep != '_' && sep != '-' {
		return time.Time{}, fmt.Errorf("archive name has no timestamp prefix: %q", name)
	}
	return time.ParseInLocation(StampLayout, name[:len(StampLayout)], loc)
}

// IsTemp reports whether name is an in-progress container.
func IsTemp(name string) bool {
	return strings.Contains(name, tempMarker)
}
