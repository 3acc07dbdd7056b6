package archiveaccount

import (
	"fmt"
	"os"
	"path/filepath"
)

// writeFileAtomic writes data to a temp file in the same directory and
// renames it into place, matching the write-new-then-rename discipline
// internal/securestore's WriteEncryptedJSON approximates with a plain
// WriteFile; renaming avoids ever observing a half-written archive.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".archive-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename archive into place: %w", err)
	}
	return nil
}

func readFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}
