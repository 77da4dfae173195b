package safetensors

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	json "github.com/goccy/go-json"
)

// headerAlign is the alignment of the tensor data section.
const headerAlign = 8

type writeHeader struct {
	DType       string   `json:"dtype"`
	Shape       []int    `json:"shape"`
	DataOffsets [2]int64 `json:"data_offsets"`
}

// Save writes the checkpoint to path. Tensors are laid out in sorted name
// order and the checkpoint metadata is stored under __metadata__.
//
// The archive is written to a temporary file in the target directory and
// renamed into place, so an existing file is only replaced by a complete one.
func Save(path string, c *Checkpoint) error {
	header, err := encodeHeader(c)
	if err != nil {
		return fmt.Errorf("safetensors: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("safetensors: create %s: %w", path, err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	w := bufio.NewWriterSize(tmp, 1<<20)
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(header)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("safetensors: write header length: %w", err)
	}
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("safetensors: write header: %w", err)
	}
	for _, name := range c.Names() {
		t, _ := c.Get(name)
		if _, err := w.Write(t.Data); err != nil {
			return fmt.Errorf("safetensors: write tensor %s: %w", name, err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("safetensors: flush %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("safetensors: sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("safetensors: close %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		committed = true
		return fmt.Errorf("safetensors: rename into %s: %w", path, err)
	}
	committed = true
	return nil
}

func encodeHeader(c *Checkpoint) ([]byte, error) {
	names := c.Names()
	header := make(map[string]any, len(names)+1)
	if len(c.Metadata) > 0 {
		header[metadataKey] = c.Metadata
	}

	var off int64
	for _, name := range names {
		if name == metadataKey {
			return nil, errors.New("tensor name __metadata__ is reserved")
		}
		t, _ := c.Get(name)
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("tensor %s: %w", name, err)
		}
		shape := t.Shape
		if shape == nil {
			shape = []int{}
		}
		size := int64(len(t.Data))
		header[name] = writeHeader{
			DType:       string(t.DType),
			Shape:       shape,
			DataOffsets: [2]int64{off, off + size},
		}
		off += size
	}

	raw, err := json.Marshal(header)
	if err != nil {
		return nil, fmt.Errorf("marshal header: %w", err)
	}
	if pad := (headerAlign - len(raw)%headerAlign) % headerAlign; pad > 0 {
		raw = append(raw, bytes.Repeat([]byte(" "), pad)...)
	}
	return raw, nil
}
