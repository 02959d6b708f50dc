// Package fsutil holds the directory and permission checks shared by the
// sink writer and the settings form.
package fsutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Flag controls PrepareDirectory.
type Flag int

const (
	// CreateDirectory creates the directory (and parents) when missing.
	CreateDirectory Flag = 1 << iota
	// ModifyPermissions makes an existing directory writable when it is not.
	ModifyPermissions
)

// DirMode is the mode used for created directories and permission fixes.
const DirMode os.FileMode = 0o775

// Dirname returns the parent directory of path.
func Dirname(path string) string {
	return filepath.Dir(path)
}

// PrepareDirectory makes sure dir exists and is writable, as far as flags
// allow. It returns an error describing the first check that failed.
func PrepareDirectory(dir string, flags Flag) error {
	info, err := os.Stat(dir)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if flags&CreateDirectory == 0 {
			return fmt.Errorf("directory %s does not exist", dir)
		}
		if err := os.MkdirAll(dir, DirMode); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	case err != nil:
		return fmt.Errorf("failed to stat %s: %w", dir, err)
	case !info.IsDir():
		return fmt.Errorf("%s is not a directory", dir)
	}

	if dirWritable(dir) {
		return nil
	}
	if flags&ModifyPermissions != 0 {
		if err := os.Chmod(dir, DirMode); err == nil && dirWritable(dir) {
			return nil
		}
	}
	return fmt.Errorf("directory %s is not writable", dir)
}

// Writable reports whether the file at path can be opened for appending.
func Writable(path string) bool {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		return false
	}
	f.Close()
	return true
}

func dirWritable(dir string) bool {
	f, err := os.CreateTemp(dir, ".probe-*")
	if err != nil {
		return false
	}
	name := f.Name()
	f.Close()
	os.Remove(name)
	return true
}
