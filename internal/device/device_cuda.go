//go:build cuda

package device

import (
	"errors"
	"fmt"

	"github.com/samcharles93/requant/internal/device/native"
)

const cudaEnabled = true

func openCUDA() (Device, error) {
	count, err := native.DeviceCount()
	if err != nil {
		return nil, fmt.Errorf("cuda: %w: %v", ErrDeviceUnavailable, err)
	}
	if count < 1 {
		return nil, fmt.Errorf("cuda: %w: no devices found", ErrDeviceUnavailable)
	}
	return &cudaDevice{}, nil
}

// cudaDevice stages tensors in pinned host memory. At most one released
// buffer is kept for reuse until EmptyCache.
type cudaDevice struct {
	spare spare[native.HostBuffer]
}

func (d *cudaDevice) Name() string { return CUDA }

func (d *cudaDevice) Stage(size int) (Buffer, error) {
	if size < 0 {
		return nil, fmt.Errorf("device: negative staging size %d", size)
	}
	if size == 0 {
		return &heapBuffer{}, nil
	}
	hb, ok, err := d.spare.take(int64(size))
	if err != nil {
		return nil, fmt.Errorf("cuda: free undersized staging buffer: %w", err)
	}
	if ok {
		return &pinnedBuffer{dev: d, hb: hb, n: size}, nil
	}
	hb, err = native.AllocHostPinned(int64(size))
	if err != nil {
		return nil, fmt.Errorf("cuda: stage %d bytes: %w", size, err)
	}
	return &pinnedBuffer{dev: d, hb: hb, n: size}, nil
}

func (d *cudaDevice) EmptyCache() error {
	return errors.Join(d.spare.drain(), native.Synchronize())
}

type pinnedBuffer struct {
	dev  *cudaDevice
	hb   native.HostBuffer
	n    int
	done bool
}

func (b *pinnedBuffer) Bytes() []byte {
	if b.done {
		return nil
	}
	return b.hb.Bytes()[:b.n]
}

func (b *pinnedBuffer) Release() {
	if b.done {
		return
	}
	b.done = true
	_ = b.dev.spare.put(b.hb)
}
