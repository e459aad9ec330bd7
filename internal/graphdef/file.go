package graphdef

import (
	"fmt"
	"os"
	"path/filepath"
)

// ReadFile reads and decodes a serialized graph.
func ReadFile(path string) (*GraphDef, error) {
	//nolint:gosec // G304: graph path comes from the caller
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read graph file: %w", err)
	}
	def, err := Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return def, nil
}

// WriteFile serializes def to path.
func WriteFile(path string, def *GraphDef) error {
	data, err := Marshal(def)
	if err != nil {
		return err
	}
	return WriteBytes(path, data)
}

// WriteBytes stores an already serialized graph at path.
// The file is written next to its destination and renamed into place,
// so readers never observe a partial graph.
func WriteBytes(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck,gosec // write error takes precedence
		return fmt.Errorf("failed to write graph: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}
	//nolint:gosec // G302: graphs are meant to be readable by other users
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("failed to set file mode: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to write graph file: %w", err)
	}
	return nil
}
