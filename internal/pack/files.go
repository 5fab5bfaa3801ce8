package pack

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

var ErrFileNotFound = errors.New("pack: fill file not found")

// files resolves fill file names against an ordered list of directories.
// The first directory holding a file wins. Handles stay open until close.
type files struct {
	dirs    []string
	handles map[string]*os.File
}

func newFiles(dirs []string) *files {
	return &files{dirs: dirs, handles: make(map[string]*os.File)}
}

func (f *files) find(name string) (string, error) {
	for _, dir := range f.dirs {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		} else if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
	}
	return "", fmt.Errorf("%w: %q in %v", ErrFileNotFound, name, f.dirs)
}

func (f *files) open(name string) (*os.File, error) {
	if h, ok := f.handles[name]; ok {
		return h, nil
	}
	path, err := f.find(name)
	if err != nil {
		return nil, err
	}
	h, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	f.handles[name] = h
	return h, nil
}

// read fills buf from name at offset. A short file is an error.
func (f *files) read(name string, offset uint64, buf []byte) error {
	h, err := f.open(name)
	if err != nil {
		return err
	}
	if _, err := h.ReadAt(buf, int64(offset)); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("pack: %s: %d bytes at offset %d run past the end of the file", name, len(buf), offset)
		}
		return fmt.Errorf("pack: %s: %w", name, err)
	}
	return nil
}

func (f *files) close() {
	for name, h := range f.handles {
		_ = h.Close()
		delete(f.handles, name)
	}
}
