// Package tmp provides scratch files scoped to a single feed-refresh pass
// (spec.md §5 "Temporary files"): a raw download and a preparsed copy,
// both removed once the refresh completes.
package tmp

import (
	"os"
)

// File wraps an *os.File and removes it from the filesystem on Close,
// so a refresh's temp files never outlive the pass that created them.
type File struct {
	*os.File
}

// NewFile creates a new temp file in dir (the default temp directory if
// empty) whose name begins with pattern.
func NewFile(dir, pattern string) (*File, error) {
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return nil, err
	}
	return &File{f}, nil
}

// Close closes the file handle and removes the file from the filesystem.
func (t *File) Close() error {
	name := t.File.Name()
	if err := t.File.Close(); err != nil {
		os.Remove(name)
		return err
	}
	return os.Remove(name)
}
