// Package statestore persists the scheduler's opaque module state blob
// between loop iterations (spec.md §6, "Module state"). The host
// normally supplies this; a file-backed default is provided so the
// engine is runnable standalone.
package statestore

import (
	"os"

	"github.com/rtkjbillo/wazuh"
)

// Store is the host-provided state writer interface (spec.md §6).
type Store interface {
	Load() ([]byte, error)
	Save(state []byte) error
}

// FileStore is the default Store: a single file holding the latest blob.
type FileStore struct {
	Path string
}

// Load returns the last saved state, or nil if none has been saved yet.
func (f FileStore) Load() ([]byte, error) {
	b, err := os.ReadFile(f.Path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, wazuh.NewError("statestore.FileStore.Load", wazuh.ErrIo, "reading state file", err)
	}
	return b, nil
}

// Save overwrites the state file with state.
func (f FileStore) Save(state []byte) error {
	if err := os.WriteFile(f.Path, state, 0o640); err != nil {
		return wazuh.NewError("statestore.FileStore.Save", wazuh.ErrIo, "writing state file", err)
	}
	return nil
}
