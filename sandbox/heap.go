package sandbox

import (
	"errors"
	rtmetrics "runtime/metrics"
	"time"

	"github.com/dop251/goja"
)

// DefaultHeapSampleInterval is how often a running tick's heap growth is read.
const DefaultHeapSampleInterval = 10 * time.Millisecond

const liveHeapMetric = "/memory/classes/heap/objects:bytes"

// liveHeap reads the bytes held by live and not yet swept heap objects.
func liveHeap() int64 {
	s := []rtmetrics.Sample{{Name: liveHeapMetric}}
	rtmetrics.Read(s)
	if s[0].Value.Kind() != rtmetrics.KindUint64 {
		return 0
	}
	return int64(s[0].Value.Uint64())
}

// watchHeap interrupts vm with ErrHeapLimit once process heap growth since
// the call exceeds the limit of every tick running at that moment. The
// returned func stops the watch, reports the largest growth sampled and must
// be called exactly once.
func (h *Host) watchHeap(vm *goja.Runtime) func() int64 {
	h.running.Add(1)
	base := h.heapSample()
	var peak int64
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		t := time.NewTicker(h.heapInterval)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				growth := h.heapSample() - base
				peak = max(peak, growth)
				if growth > h.heapLimit*max(h.running.Load(), 1) {
					vm.Interrupt(ErrHeapLimit)
					return
				}
			}
		}
	}()
	return func() int64 {
		close(stop)
		<-done
		h.running.Add(-1)
		return peak
	}
}

// heapInterrupt reports whether err is a VM interrupt raised by watchHeap.
func heapInterrupt(err error) bool {
	var ie *goja.InterruptedError
	return errors.As(err, &ie) && ie.Value() == ErrHeapLimit
}
