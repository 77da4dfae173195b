//go:build !cuda

package device

import "fmt"

const cudaEnabled = false

func openCUDA() (Device, error) {
	return nil, fmt.Errorf("cuda: %w (build with the cuda tag)", ErrDeviceUnavailable)
}
