//go:build !linux

package sandbox

import "errors"

// limitAddressSpace is only implemented on Linux; elsewhere the worker
// relies on the heap watch alone.
func limitAddressSpace(int64) error {
	return errors.New("address space limits are not supported on this platform")
}
