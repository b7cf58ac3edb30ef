package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	mountSubsystem = "mount"
	resultLabelKey = "result"
	resultOK       = "ok"
	resultError    = "error"
)

// MountMetrics collects metrics of the file system mount.
type MountMetrics struct {
	operations prometheus.CounterVec
}

// NewMountMetrics creates mount metrics and registers them in reg.
func NewMountMetrics(reg prometheus.Registerer) *MountMetrics {
	operations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: mountSubsystem,
		Name:      "operations_total",
		Help:      "Number of file system operations served by the mount",
	}, []string{operationLabelKey, resultLabelKey})

	reg.MustRegister(operations)

	return &MountMetrics{
		operations: *operations,
	}
}

// Operation counts the operation served by the mount.
func (m *MountMetrics) Operation(name string, failed bool) {
	result := resultOK
	if failed {
		result = resultError
	}
	m.operations.With(prometheus.Labels{operationLabelKey: name, resultLabelKey: result}).Inc()
}
