package safetensors

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sort"

	json "github.com/goccy/go-json"

	"github.com/samcharles93/requant/internal/tensor"
)

const metadataKey = "__metadata__"

// maxHeaderLen bounds the JSON header so a corrupt length can't force a huge allocation.
const maxHeaderLen = 100 << 20

type TensorInfo struct {
	DType tensor.DType
	Shape []int
	Start int64
	End   int64
}

// Size returns the byte length of the tensor payload.
func (t TensorInfo) Size() int64 {
	return t.End - t.Start
}

// File is a parsed safetensors header. Tensor data is read on demand.
type File struct {
	Path      string
	DataStart int64
	Tensors   map[string]TensorInfo
	Metadata  map[string]string
}

type tensorHeader struct {
	DType       string  `json:"dtype"`
	Shape       []int   `json:"shape"`
	DataOffsets []int64 `json:"data_offsets"`
}

func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	headerLen, err := readU64(f)
	if err != nil {
		return nil, fmt.Errorf("safetensors: %s: read header length: %w", path, err)
	}
	if headerLen > maxHeaderLen {
		return nil, fmt.Errorf("safetensors: %s: header length %d too large", path, headerLen)
	}
	headerBytes := make([]byte, headerLen)
	if _, err := io.ReadFull(f, headerBytes); err != nil {
		return nil, fmt.Errorf("safetensors: %s: read header: %w", path, err)
	}
	tensors, meta, err := parseHeader(headerBytes)
	if err != nil {
		return nil, fmt.Errorf("safetensors: %s: %w", path, err)
	}
	return &File{
		Path:      path,
		DataStart: int64(8 + headerLen),
		Tensors:   tensors,
		Metadata:  meta,
	}, nil
}

func parseHeader(headerBytes []byte) (map[string]TensorInfo, map[string]string, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(headerBytes, &raw); err != nil {
		return nil, nil, err
	}

	var meta map[string]string
	if m, ok := raw[metadataKey]; ok {
		if err := json.Unmarshal(m, &meta); err != nil {
			return nil, nil, fmt.Errorf("parse %s: %w", metadataKey, err)
		}
		delete(raw, metadataKey)
	}

	tensors := make(map[string]TensorInfo, len(raw))
	for name, msg := range raw {
		var th tensorHeader
		if err := json.Unmarshal(msg, &th); err != nil {
			return nil, nil, fmt.Errorf("parse tensor %s: %w", name, err)
		}
		if len(th.DataOffsets) != 2 {
			return nil, nil, fmt.Errorf("tensor %s: invalid data_offsets", name)
		}
		shape := th.Shape
		if shape == nil {
			shape = []int{}
		}
		tensors[name] = TensorInfo{
			DType: tensor.DType(th.DType),
			Shape: shape,
			Start: th.DataOffsets[0],
			End:   th.DataOffsets[1],
		}
	}
	return tensors, meta, nil
}

func (f *File) Tensor(name string) (TensorInfo, bool) {
	t, ok := f.Tensors[name]
	return t, ok
}

// Names returns tensor names in sorted order.
func (f *File) Names() []string {
	names := make([]string, 0, len(f.Tensors))
	for name := range f.Tensors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (f *File) readTensor(name string) ([]byte, TensorInfo, error) {
	t, ok := f.Tensors[name]
	if !ok {
		return nil, TensorInfo{}, fmt.Errorf("tensor not found: %s", name)
	}
	if t.End < t.Start {
		return nil, TensorInfo{}, fmt.Errorf("tensor %s: invalid offsets", name)
	}
	buf := make([]byte, t.Size())

	file, err := os.Open(f.Path)
	if err != nil {
		return nil, TensorInfo{}, err
	}
	defer func() { _ = file.Close() }()

	off := f.DataStart + t.Start
	if _, err := file.ReadAt(buf, off); err != nil {
		return nil, TensorInfo{}, fmt.Errorf("read tensor %s: %w", name, err)
	}
	return buf, t, nil
}

// ReadTensorF32 reads one tensor from disk and widens it to float32.
func (f *File) ReadTensorF32(name string) ([]float32, TensorInfo, error) {
	raw, info, err := f.readTensor(name)
	if err != nil {
		return nil, TensorInfo{}, err
	}
	vals, err := tensor.Tensor{DType: info.DType, Shape: info.Shape, Data: raw}.Float32()
	if err != nil {
		return nil, TensorInfo{}, fmt.Errorf("tensor %s: %w", name, err)
	}
	return vals, info, nil
}

func readU64(r io.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}
