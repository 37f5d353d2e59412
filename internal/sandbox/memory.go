package sandbox

import (
	"runtime/metrics"
	"sync/atomic"
	"time"

	"go.starlark.net/starlark"
)

const (
	heapMetric         = "/memory/classes/heap/objects:bytes"
	memorySamplePeriod = 5 * time.Millisecond
)

func heapBytes() uint64 {
	sample := []metrics.Sample{{Name: heapMetric}}
	metrics.Read(sample)
	if sample[0].Value.Kind() != metrics.KindUint64 {
		return 0
	}
	return sample[0].Value.Uint64()
}

// watchMemory cancels thread once the heap has grown by more than limit
// bytes since the call. The heap is process-wide, so in-process executions
// running side by side are charged for each other's allocations; an
// isolated worker measures its fragment alone. The returned func stops the
// watch.
func watchMemory(thread *starlark.Thread, limit int64, exceeded *atomic.Bool) func() {
	if limit <= 0 {
		return func() {}
	}
	base := heapBytes()
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(memorySamplePeriod)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if cur := heapBytes(); cur > base && cur-base > uint64(limit) {
					exceeded.Store(true)
					thread.Cancel("memory limit exceeded")
					return
				}
			}
		}
	}()
	var once atomic.Bool
	return func() {
		if once.CompareAndSwap(false, true) {
			close(stop)
		}
	}
}
