package board

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Serialization helpers for the on-disk documents
//
// Documents are read whole and written whole. A write goes to a temp file in
// the same directory followed by a rename, so a concurrent reader that does
// not hold the gate sees either the previous or the next document.

// readJSONFile decodes path into v.
// Returns (false, nil) if the file does not exist or is empty.
func readJSONFile(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, WrapError(CodeSerializationError, fmt.Sprintf("%s is not valid JSON", filepath.Base(path)), err)
	}
	return true, nil
}

// encodeDocument renders v the way it is stored on disk.
func encodeDocument(v any) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, WrapError(CodeSerializationError, "failed to encode document", err)
	}
	return append(data, '\n'), nil
}

// writeFileAtomic replaces path with data via temp file + rename.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("failed to write %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("failed to sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("failed to close %s: %w", tmpName, err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		cleanup()
		return fmt.Errorf("failed to chmod %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}

// WriteJSONAtomic encodes v and atomically replaces path with it.
// Used by packages that keep their own small files under .lodge (cursors).
func WriteJSONAtomic(path string, v any) error {
	data, err := encodeDocument(v)
	if err != nil {
		return err
	}
	return writeFileAtomic(path, data, 0o644)
}

// ReadJSON decodes path into v. Returns (false, nil) when the file is absent or empty.
func ReadJSON(path string, v any) (bool, error) {
	return readJSONFile(path, v)
}
