package params

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/born-ml/graphfreeze/internal/tensor"
)

// SafeTensors format:
// [8 bytes: header_size (uint64 LE)]
// [header_size bytes: JSON header]
// [tensor data: raw bytes]

// maxHeaderSize bounds the JSON header to reject corrupt files early.
const maxHeaderSize = 100 * 1024 * 1024

// safeTensorInfo describes one tensor in the header.
type safeTensorInfo struct {
	DType       string   `json:"dtype"`
	Shape       []int    `json:"shape"`
	DataOffsets [2]int64 `json:"data_offsets"` // [start, end) relative to the data section
}

// ReadSafeTensors loads every tensor of a SafeTensors file.
func ReadSafeTensors(path string) (Set, error) {
	//nolint:gosec // G304: parameter path comes from the caller
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() {
		_ = file.Close() // read-only
	}()

	var headerSize uint64
	if err := binary.Read(file, binary.LittleEndian, &headerSize); err != nil {
		return nil, fmt.Errorf("failed to read header size: %w", err)
	}
	if headerSize > maxHeaderSize {
		return nil, fmt.Errorf("invalid header size: %d (too large)", headerSize)
	}
	headerBytes := make([]byte, headerSize)
	if _, err := io.ReadFull(file, headerBytes); err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(headerBytes, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse header JSON: %w", err)
	}

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read tensor data: %w", err)
	}

	set := make(Set, len(raw))
	for name, msg := range raw {
		if name == "__metadata__" {
			continue
		}
		var info safeTensorInfo
		if err := json.Unmarshal(msg, &info); err != nil {
			return nil, fmt.Errorf("failed to parse tensor %s: %w", name, err)
		}
		dtype, err := safeTensorsDType(info.DType)
		if err != nil {
			return nil, fmt.Errorf("tensor %s: %w", name, err)
		}
		start, end := info.DataOffsets[0], info.DataOffsets[1]
		if start < 0 || end < start || end > int64(len(data)) {
			return nil, fmt.Errorf("invalid data offsets for tensor %s: [%d, %d]", name, start, end)
		}
		t, err := tensor.FromBytes(dtype, tensor.Shape(info.Shape), data[start:end])
		if err != nil {
			return nil, fmt.Errorf("tensor %s: %w", name, err)
		}
		set[name] = t
	}
	return set, nil
}

// WriteSafeTensors writes set to path. Tensors are stored in name order.
func WriteSafeTensors(path string, set Set, metadata map[string]string) error {
	names := set.Names()

	header := make(map[string]interface{}, len(names)+1)
	if len(metadata) > 0 {
		header["__metadata__"] = metadata
	}
	var offset int64
	for _, name := range names {
		t := set[name]
		size := int64(t.ByteSize())
		header[name] = safeTensorInfo{
			DType:       safeTensorsName(t.DType()),
			Shape:       append([]int{}, t.Shape()...),
			DataOffsets: [2]int64{offset, offset + size},
		}
		offset += size
	}
	headerJSON, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("failed to marshal header: %w", err)
	}

	//nolint:gosec // G304: parameter path comes from the caller
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	if err := writeSafeTensors(file, headerJSON, names, set); err != nil {
		_ = file.Close() // write error takes precedence
		return err
	}
	return file.Close()
}

func writeSafeTensors(w io.Writer, headerJSON []byte, names []string, set Set) error {
	if err := binary.Write(w, binary.LittleEndian, uint64(len(headerJSON))); err != nil {
		return fmt.Errorf("failed to write header size: %w", err)
	}
	if _, err := w.Write(headerJSON); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, name := range names {
		if _, err := w.Write(set[name].Data()); err != nil {
			return fmt.Errorf("failed to write tensor %s: %w", name, err)
		}
	}
	return nil
}

func safeTensorsDType(s string) (tensor.DataType, error) {
	switch s {
	case "F32":
		return tensor.Float32, nil
	case "F64":
		return tensor.Float64, nil
	case "I32":
		return tensor.Int32, nil
	case "I64":
		return tensor.Int64, nil
	case "U8":
		return tensor.Uint8, nil
	case "BOOL":
		return tensor.Bool, nil
	default:
		return 0, fmt.Errorf("unsupported dtype: %s", s)
	}
}

func safeTensorsName(dt tensor.DataType) string {
	switch dt {
	case tensor.Float64:
		return "F64"
	case tensor.Int32:
		return "I32"
	case tensor.Int64:
		return "I64"
	case tensor.Uint8:
		return "U8"
	case tensor.Bool:
		return "BOOL"
	default:
		return "F32"
	}
}
