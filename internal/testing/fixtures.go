package testing

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/zip"
)

// StorageHeader is the header row of every storage file.
const StorageHeader = "timestamp,source_id,value,unit"

// WriteStorageFile writes a storage file with the header followed by rows,
// each terminated by a newline. It returns the file path.
func WriteStorageFile(t testing.TB, dir, name string, rows ...string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("create dir: %v", err)
	}
	if err := os.WriteFile(path, []byte(storageContent(rows)), 0644); err != nil {
		t.Fatalf("write storage file: %v", err)
	}
	return path
}

// WriteArchive writes a single-entry zip container named name. The entry
// is name without its .zip suffix and holds the header followed by rows.
func WriteArchive(t testing.TB, dir, name string, rows ...string) string {
	t.Helper()

	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("create dir: %v", err)
	}

	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create archive: %v", err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	w, err := zw.Create(strings.TrimSuffix(name, ".zip"))
	if err != nil {
		t.Fatalf("create entry: %v", err)
	}
	if _, err := w.Write([]byte(storageContent(rows))); err != nil {
		t.Fatalf("write entry: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close archive: %v", err)
	}
	return path
}

func storageContent(rows []string) string {
	var b strings.Builder
	b.WriteString(StorageHeader)
	b.WriteByte('\n')
	for _, row := range rows {
		b.WriteString(row)
		b.WriteByte('\n')
	}
	return b.String()
}
