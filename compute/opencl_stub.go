//go:build !opencl

package compute

import "fmt"

// NewOpenCL reports ErrDeviceUnavailable in builds without the opencl tag.
func NewOpenCL(string) (Backend, error) {
	return nil, fmt.Errorf("built without opencl tag: %w", ErrDeviceUnavailable)
}
