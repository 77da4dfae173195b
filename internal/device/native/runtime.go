//go:build cuda

package native

/*
#cgo LDFLAGS: -lcudart

// Forward declarations so the CUDA headers are not needed at compile time.
// Linking still requires libcudart when building with the cuda tag.
typedef int cudaError_t;

extern const char* cudaGetErrorString(cudaError_t err);
extern cudaError_t cudaGetDeviceCount(int* count);
extern cudaError_t cudaDeviceSynchronize(void);
extern cudaError_t cudaMallocHost(void** ptr, unsigned long long size);
extern cudaError_t cudaFreeHost(void* ptr);

static const char* requantCudaGetErrorString(cudaError_t err) {
	return cudaGetErrorString(err);
}

static int requantCudaGetDeviceCount(int* out) {
	cudaError_t err = cudaGetDeviceCount(out);
	return (int)err;
}

static int requantCudaDeviceSynchronize(void) {
	cudaError_t err = cudaDeviceSynchronize();
	return (int)err;
}

static int requantCudaMallocHost(void** ptr, unsigned long long size) {
	cudaError_t err = cudaMallocHost(ptr, size);
	return (int)err;
}

static int requantCudaFreeHost(void* ptr) {
	cudaError_t err = cudaFreeHost(ptr);
	return (int)err;
}
*/
import "C"

import (
	"fmt"
	"unsafe"
)

// HostBuffer is page-locked host memory from cudaMallocHost.
type HostBuffer struct {
	ptr  unsafe.Pointer
	size int64
}

func DeviceCount() (int, error) {
	var count C.int
	if err := cudaErr(C.requantCudaGetDeviceCount(&count)); err != nil {
		return 0, err
	}
	return int(count), nil
}

func Synchronize() error {
	return cudaErr(C.requantCudaDeviceSynchronize())
}

func AllocHostPinned(bytes int64) (HostBuffer, error) {
	if bytes <= 0 {
		return HostBuffer{}, fmt.Errorf("host alloc size must be > 0")
	}
	var ptr unsafe.Pointer
	if err := cudaErr(C.requantCudaMallocHost((*unsafe.Pointer)(&ptr), C.ulonglong(bytes))); err != nil {
		return HostBuffer{}, err
	}
	return HostBuffer{ptr: ptr, size: bytes}, nil
}

func (b HostBuffer) Free() error {
	if b.ptr == nil {
		return nil
	}
	return cudaErr(C.requantCudaFreeHost(b.ptr))
}

func (b HostBuffer) Size() int64 {
	return b.size
}

// Bytes views the buffer as a Go slice. The slice is invalid after Free.
func (b HostBuffer) Bytes() []byte {
	if b.ptr == nil {
		return nil
	}
	return unsafe.Slice((*byte)(b.ptr), b.size)
}

func cudaErr(code C.int) error {
	if code == 0 {
		return nil
	}
	msg := C.GoString(C.requantCudaGetErrorString(C.cudaError_t(code)))
	return fmt.Errorf("cuda runtime error %d: %s", int(code), msg)
}
