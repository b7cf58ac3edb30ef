package blockstore

import "time"

// Metrics receives measurements of the controller.
type Metrics interface {
	BytesRead(n int)
	BytesWritten(n int)
	BlocksAllocated(n int)
	BlocksReleased(n int)
	FreeBlocks(n int)
	LockWait(d time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) BytesRead(int)          {}
func (noopMetrics) BytesWritten(int)       {}
func (noopMetrics) BlocksAllocated(int)    {}
func (noopMetrics) BlocksReleased(int)     {}
func (noopMetrics) FreeBlocks(int)         {}
func (noopMetrics) LockWait(time.Duration) {}
