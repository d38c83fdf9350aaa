package vectorstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// activeFile persists the name of the live generation. Writes go to a temp
// file that is renamed over the old one.
type activeFile struct {
	path string
}

func newActiveFile(dir string) (*activeFile, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating index directory: %w", err)
	}
	return &activeFile{path: filepath.Join(dir, "ACTIVE")}, nil
}

// Read returns "" when no generation was ever activated.
func (a *activeFile) Read() (string, error) {
	data, err := os.ReadFile(a.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("reading active generation: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func (a *activeFile) Write(name string) error {
	tmp, err := os.CreateTemp(filepath.Dir(a.path), ".ACTIVE-*")
	if err != nil {
		return fmt.Errorf("staging active generation: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(name + "\n"); err != nil {
		tmp.Close()
		return fmt.Errorf("writing active generation: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing active generation: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), a.path); err != nil {
		return fmt.Errorf("activating generation %s: %w", name, err)
	}
	return nil
}
