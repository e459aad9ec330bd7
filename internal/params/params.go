// Package params reads and writes named parameter tensors: the trained
// weights a network is built from and the checkpoints restored into a
// session before freezing.
//
// Supported formats:
//   - SafeTensors (.safetensors): read and write
//   - NumPy archives (.npz) of C-order .npy arrays: read and write
package params

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/born-ml/graphfreeze/internal/tensor"
)

// Common errors.
var (
	ErrUnknownFormat = errors.New("unknown parameter file format")
	ErrNotFound      = errors.New("parameter not found")
)

// Set maps parameter names (e.g. "conv1_1/weights") to values.
type Set map[string]*tensor.Tensor

// Names returns the parameter names, sorted.
func (s Set) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Get returns a parameter or an error naming the missing key.
func (s Set) Get(name string) (*tensor.Tensor, error) {
	t, ok := s[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return t, nil
}

// ReadFile loads a parameter set, choosing the format by extension.
func ReadFile(path string) (Set, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".safetensors":
		return ReadSafeTensors(path)
	case ".npz":
		return ReadNPZ(path)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, path)
	}
}

// WriteFile saves a parameter set, choosing the format by extension.
func WriteFile(path string, set Set) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".safetensors":
		return WriteSafeTensors(path, set, nil)
	case ".npz":
		return WriteNPZ(path, set)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownFormat, path)
	}
}

func writeFile(path string, data []byte) error {
	//nolint:gosec // G306: parameter files are not secret
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
