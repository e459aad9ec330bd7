package params

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/born-ml/graphfreeze/internal/tensor"
)

// npyMagic starts every .npy array.
const npyMagic = "\x93NUMPY"

// ReadNPZ loads every array of a NumPy .npz archive. Member "conv1_1/weights.npy"
// becomes parameter "conv1_1/weights".
func ReadNPZ(path string) (Set, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	defer func() {
		_ = zr.Close() // read-only
	}()

	set := make(Set, len(zr.File))
	for _, f := range zr.File {
		if !strings.HasSuffix(f.Name, ".npy") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", f.Name, err)
		}
		t, err := ReadNPY(rc)
		_ = rc.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.Name, err)
		}
		set[strings.TrimSuffix(f.Name, ".npy")] = t
	}
	return set, nil
}

// WriteNPZ writes set as an uncompressed .npz archive.
func WriteNPZ(path string, set Set) error {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range set.Names() {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: name + ".npy", Method: zip.Store})
		if err != nil {
			return fmt.Errorf("failed to add %s: %w", name, err)
		}
		if err := WriteNPY(w, set[name]); err != nil {
			return fmt.Errorf("failed to write %s: %w", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finish archive: %w", err)
	}
	return writeFile(path, buf.Bytes())
}

// ReadNPY decodes one little-endian, C-order .npy array (format 1.0 to 3.0).
func ReadNPY(r io.Reader) (*tensor.Tensor, error) {
	prefix := make([]byte, len(npyMagic)+2)
	if _, err := io.ReadFull(r, prefix); err != nil {
		return nil, fmt.Errorf("failed to read npy magic: %w", err)
	}
	if string(prefix[:len(npyMagic)]) != npyMagic {
		return nil, fmt.Errorf("not a npy array")
	}

	var headerLen int
	switch major := prefix[len(npyMagic)]; major {
	case 1:
		var n uint16
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return nil, fmt.Errorf("failed to read header length: %w", err)
		}
		headerLen = int(n)
	case 2, 3:
		var n uint32
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return nil, fmt.Errorf("failed to read header length: %w", err)
		}
		headerLen = int(n)
	default:
		return nil, fmt.Errorf("unsupported npy version %d", major)
	}
	header := make([]byte, headerLen)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	descr, fortran, shape, err := parseNPYHeader(string(header))
	if err != nil {
		return nil, err
	}
	if fortran {
		return nil, fmt.Errorf("fortran-order arrays are not supported")
	}
	dtype, err := npyDType(descr)
	if err != nil {
		return nil, err
	}

	t, err := tensor.New(dtype, shape)
	if err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(r, t.Data()); err != nil {
		return nil, fmt.Errorf("failed to read array data: %w", err)
	}
	return t, nil
}

// WriteNPY encodes t as a format 1.0 .npy array.
func WriteNPY(w io.Writer, t *tensor.Tensor) error {
	descr, err := npyDescr(t.DType())
	if err != nil {
		return err
	}
	dims := make([]string, len(t.Shape()))
	for i, d := range t.Shape() {
		dims[i] = strconv.Itoa(d)
	}
	shape := strings.Join(dims, ", ")
	if len(dims) == 1 {
		shape += ","
	}
	header := fmt.Sprintf("{'descr': '%s', 'fortran_order': False, 'shape': (%s), }", descr, shape)
	// Pad with spaces so the data starts on a 64-byte boundary; the header ends in '\n'.
	total := len(npyMagic) + 2 + 2 + len(header) + 1
	header += strings.Repeat(" ", (64-total%64)%64) + "\n"

	var buf bytes.Buffer
	buf.WriteString(npyMagic)
	buf.Write([]byte{1, 0})
	_ = binary.Write(&buf, binary.LittleEndian, uint16(len(header))) //nolint:gosec // G115: header is short
	buf.WriteString(header)
	if _, err := w.Write(buf.Bytes()); err != nil {
		return err
	}
	_, err = w.Write(t.Data())
	return err
}

// parseNPYHeader reads the Python dict literal of a .npy header, e.g.
// {'descr': '<f4', 'fortran_order': False, 'shape': (3, 4), }.
func parseNPYHeader(h string) (descr string, fortran bool, shape tensor.Shape, err error) {
	field := func(key string) (string, bool) {
		i := strings.Index(h, "'"+key+"':")
		if i < 0 {
			return "", false
		}
		return strings.TrimSpace(h[i+len(key)+3:]), true
	}

	v, ok := field("descr")
	if !ok || len(v) < 2 || v[0] != '\'' {
		return "", false, nil, fmt.Errorf("npy header has no descr: %q", h)
	}
	end := strings.IndexByte(v[1:], '\'')
	if end < 0 {
		return "", false, nil, fmt.Errorf("malformed descr in npy header: %q", h)
	}
	descr = v[1 : end+1]

	v, ok = field("fortran_order")
	if !ok {
		return "", false, nil, fmt.Errorf("npy header has no fortran_order: %q", h)
	}
	fortran = strings.HasPrefix(v, "True")

	v, ok = field("shape")
	if !ok || !strings.HasPrefix(v, "(") {
		return "", false, nil, fmt.Errorf("npy header has no shape: %q", h)
	}
	end = strings.IndexByte(v, ')')
	if end < 0 {
		return "", false, nil, fmt.Errorf("malformed shape in npy header: %q", h)
	}
	shape = tensor.Shape{}
	for _, part := range strings.Split(v[1:end], ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		d, err := strconv.Atoi(strings.TrimSuffix(part, "L"))
		if err != nil {
			return "", false, nil, fmt.Errorf("malformed shape in npy header: %q", h)
		}
		shape = append(shape, d)
	}
	return descr, fortran, shape, nil
}

func npyDType(descr string) (tensor.DataType, error) {
	switch descr {
	case "<f4":
		return tensor.Float32, nil
	case "<f8":
		return tensor.Float64, nil
	case "<i4":
		return tensor.Int32, nil
	case "<i8":
		return tensor.Int64, nil
	case "|u1":
		return tensor.Uint8, nil
	case "|b1":
		return tensor.Bool, nil
	default:
		return 0, fmt.Errorf("unsupported npy dtype %s", descr)
	}
}

func npyDescr(dt tensor.DataType) (string, error) {
	switch dt {
	case tensor.Float32:
		return "<f4", nil
	case tensor.Float64:
		return "<f8", nil
	case tensor.Int32:
		return "<i4", nil
	case tensor.Int64:
		return "<i8", nil
	case tensor.Uint8:
		return "|u1", nil
	case tensor.Bool:
		return "|b1", nil
	default:
		return "", fmt.Errorf("unsupported dtype %s", dt)
	}
}
