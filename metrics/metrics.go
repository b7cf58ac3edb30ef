// Package metrics exposes block container measurements to prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/outofforest/packfs/blockstore"
)

const (
	namespace           = "packfs"
	controllerSubsystem = "controller"
	directionLabelKey   = "direction"
	operationLabelKey   = "operation"
	directionRead       = "read"
	directionWrite      = "write"
	operationAllocate   = "allocate"
	operationRelease    = "release"
)

var _ blockstore.Metrics = &ControllerMetrics{}

// ControllerMetrics collects metrics of the block controller.
type ControllerMetrics struct {
	bytes      prometheus.CounterVec
	blocks     prometheus.CounterVec
	freeBlocks prometheus.Gauge
	lockWait   prometheus.Histogram
}

// NewControllerMetrics creates controller metrics and registers them in reg.
func NewControllerMetrics(reg prometheus.Registerer) *ControllerMetrics {
	var (
		bytes = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: controllerSubsystem,
			Name:      "bytes_total",
			Help:      "Number of file content bytes read and written",
		}, []string{directionLabelKey})

		blocks = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: controllerSubsystem,
			Name:      "blocks_total",
			Help:      "Number of nodes allocated to and released from files",
		}, []string{operationLabelKey})

		freeBlocks = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: controllerSubsystem,
			Name:      "free_blocks",
			Help:      "Number of free nodes in the node region",
		})

		lockWait = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: controllerSubsystem,
			Name:      "lock_wait_seconds",
			Help:      "Time spent waiting for the controller lock",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 10),
		})
	)

	reg.MustRegister(bytes, blocks, freeBlocks, lockWait)

	return &ControllerMetrics{
		bytes:      *bytes,
		blocks:     *blocks,
		freeBlocks: freeBlocks,
		lockWait:   lockWait,
	}
}

// BytesRead adds bytes read from files.
func (m *ControllerMetrics) BytesRead(n int) {
	m.bytes.With(prometheus.Labels{directionLabelKey: directionRead}).Add(float64(n))
}

// BytesWritten adds bytes written to files.
func (m *ControllerMetrics) BytesWritten(n int) {
	m.bytes.With(prometheus.Labels{directionLabelKey: directionWrite}).Add(float64(n))
}

// BlocksAllocated adds nodes allocated to files.
func (m *ControllerMetrics) BlocksAllocated(n int) {
	m.blocks.With(prometheus.Labels{operationLabelKey: operationAllocate}).Add(float64(n))
}

// BlocksReleased adds nodes released by files.
func (m *ControllerMetrics) BlocksReleased(n int) {
	m.blocks.With(prometheus.Labels{operationLabelKey: operationRelease}).Add(float64(n))
}

// FreeBlocks sets the number of free nodes.
func (m *ControllerMetrics) FreeBlocks(n int) {
	m.freeBlocks.Set(float64(n))
}

// LockWait observes time spent waiting for the lock.
func (m *ControllerMetrics) LockWait(d time.Duration) {
	m.lockWait.Observe(d.Seconds())
}
