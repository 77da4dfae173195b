package safetensors

import (
	"encoding/binary"
	"fmt"
	"os"
	"sort"

	"github.com/samcharles93/requant/internal/tensor"
)

// Checkpoint is an in-memory mapping from tensor name to tensor plus the
// archive's free-form metadata. Names iterate in sorted order.
type Checkpoint struct {
	Metadata map[string]string

	tensors map[string]tensor.Tensor
	release func() error
}

func NewCheckpoint() *Checkpoint {
	return &Checkpoint{tensors: make(map[string]tensor.Tensor)}
}

func (c *Checkpoint) Set(name string, t tensor.Tensor) {
	c.tensors[name] = t
}

func (c *Checkpoint) Get(name string) (tensor.Tensor, bool) {
	t, ok := c.tensors[name]
	return t, ok
}

func (c *Checkpoint) Len() int {
	return len(c.tensors)
}

func (c *Checkpoint) Names() []string {
	names := make([]string, 0, len(c.tensors))
	for name := range c.tensors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close releases the backing archive mapping, if any. Tensors obtained from a
// loaded checkpoint must not be used after Close.
func (c *Checkpoint) Close() error {
	if c == nil || c.release == nil {
		return nil
	}
	release := c.release
	c.release = nil
	return release()
}

// Load reads a whole archive into memory and validates every tensor.
func Load(path string) (*Checkpoint, error) {
	data, release, err := mapFile(path)
	if err != nil {
		return nil, fmt.Errorf("safetensors: load %s: %w", path, err)
	}
	ckpt, err := decode(data)
	if err != nil {
		_ = release()
		return nil, fmt.Errorf("safetensors: load %s: %w", path, err)
	}
	ckpt.release = release
	return ckpt, nil
}

func decode(data []byte) (*Checkpoint, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("file too short (%d bytes)", len(data))
	}
	headerLen := binary.LittleEndian.Uint64(data[:8])
	if headerLen > maxHeaderLen || headerLen > uint64(len(data)-8) {
		return nil, fmt.Errorf("header length %d exceeds file size", headerLen)
	}
	infos, meta, err := parseHeader(data[8 : 8+headerLen])
	if err != nil {
		return nil, err
	}
	payload := data[8+headerLen:]

	ckpt := NewCheckpoint()
	ckpt.Metadata = meta
	for name, info := range infos {
		if info.Start < 0 || info.End < info.Start || info.End > int64(len(payload)) {
			return nil, fmt.Errorf("tensor %s: offsets [%d, %d) outside data (%d bytes)", name, info.Start, info.End, len(payload))
		}
		t, err := tensor.New(info.DType, info.Shape, payload[info.Start:info.End:info.End])
		if err != nil {
			return nil, fmt.Errorf("tensor %s: %w", name, err)
		}
		ckpt.Set(name, t)
	}
	return ckpt, nil
}

func readWholeFile(path string) ([]byte, func() error, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	return data, func() error { return nil }, nil
}
