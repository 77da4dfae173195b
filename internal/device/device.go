// Package device selects where conversion work is staged and owns the
// per-tensor staging memory.
package device

import (
	"errors"
	"fmt"
	"strings"
)

const (
	CPU  = "cpu"
	CUDA = "cuda"
)

var ErrDeviceUnavailable = errors.New("device not available in this build")

// Device hands out per-tensor staging buffers.
type Device interface {
	Name() string
	// Stage returns a buffer of exactly size bytes. The caller must Release it.
	Stage(size int) (Buffer, error)
	// EmptyCache frees every pooled buffer.
	EmptyCache() error
}

type Buffer interface {
	Bytes() []byte
	Release()
}

// Normalize lowercases name and checks it against the known devices. An empty
// name selects the build default.
func Normalize(name string) (string, error) {
	dev := strings.ToLower(strings.TrimSpace(name))
	if dev == "" {
		return Default(), nil
	}
	switch dev {
	case CPU, CUDA:
		return dev, nil
	default:
		return "", fmt.Errorf("unknown device %q (expected cpu or cuda)", name)
	}
}

// Open returns the named device.
func Open(name string) (Device, error) {
	dev, err := Normalize(name)
	if err != nil {
		return nil, err
	}
	switch dev {
	case CUDA:
		return openCUDA()
	default:
		return NewCPU(), nil
	}
}

// Default returns cuda when compiled in, else cpu.
func Default() string {
	if cudaEnabled {
		return CUDA
	}
	return CPU
}

// Choices lists the devices a user may select, default first.
func Choices() []string {
	if cudaEnabled {
		return []string{CUDA, CPU}
	}
	return []string{CPU, CUDA}
}

// Available returns a comma-separated list of devices usable in this build.
func Available() string {
	entries := []string{CPU}
	if cudaEnabled {
		entries = append(entries, CUDA)
	}
	return strings.Join(entries, ",")
}

type cpuDevice struct{}

// NewCPU returns the host-only device. Staging buffers come from the Go heap.
func NewCPU() Device {
	return cpuDevice{}
}

func (cpuDevice) Name() string { return CPU }

func (cpuDevice) Stage(size int) (Buffer, error) {
	if size < 0 {
		return nil, fmt.Errorf("device: negative staging size %d", size)
	}
	return &heapBuffer{data: make([]byte, size)}, nil
}

func (cpuDevice) EmptyCache() error { return nil }

type heapBuffer struct {
	data []byte
}

func (b *heapBuffer) Bytes() []byte { return b.data }

func (b *heapBuffer) Release() { b.data = nil }
