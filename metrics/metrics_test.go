package metrics_test

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/outofforest/packfs/blocks"
	"github.com/outofforest/packfs/blockstore"
	"github.com/outofforest/packfs/metrics"
	"github.com/outofforest/packfs/persistence"
	"github.com/outofforest/packfs/pkg/memdev"
	"github.com/outofforest/packfs/types"
)

func TestNewControllerMetrics(t *testing.T) {
	require.NotPanics(t, func() {
		_ = metrics.NewControllerMetrics(prometheus.NewRegistry())
	})
}

func TestDoubleRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	_ = metrics.NewControllerMetrics(reg)
	require.Panics(t, func() {
		_ = metrics.NewControllerMetrics(reg)
	})
}

func TestControllerMetrics(t *testing.T) {
	requireT := require.New(t)

	reg := prometheus.NewRegistry()
	m := metrics.NewControllerMetrics(reg)

	store, err := persistence.OpenStore(memdev.New(0), 0, types.BlockSize)
	requireT.NoError(err)
	c := blockstore.New(store, &blocks.Table{
		Entries: []*blocks.Entry{{Name: "a"}},
	}, blockstore.WithMetrics(m))

	h, err := c.Open(1, types.ReadWrite)
	requireT.NoError(err)
	_, err = h.Write(make([]byte, 3000))
	requireT.NoError(err)
	_, err = h.ReadAt(make([]byte, 100), 0)
	requireT.NoError(err)
	requireT.NoError(h.Truncate(1))

	requireT.NoError(testutil.GatherAndCompare(reg, strings.NewReader(`
# HELP packfs_controller_blocks_total Number of nodes allocated to and released from files
# TYPE packfs_controller_blocks_total counter
packfs_controller_blocks_total{operation="allocate"} 3
packfs_controller_blocks_total{operation="release"} 2
# HELP packfs_controller_bytes_total Number of file content bytes read and written
# TYPE packfs_controller_bytes_total counter
packfs_controller_bytes_total{direction="read"} 100
packfs_controller_bytes_total{direction="write"} 3000
# HELP packfs_controller_free_blocks Number of free nodes in the node region
# TYPE packfs_controller_free_blocks gauge
packfs_controller_free_blocks 2
`), "packfs_controller_blocks_total", "packfs_controller_bytes_total", "packfs_controller_free_blocks"))

	count, err := testutil.GatherAndCount(reg, "packfs_controller_lock_wait_seconds")
	requireT.NoError(err)
	requireT.Equal(1, count)
}

func TestLockWait(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewControllerMetrics(reg)
	m.LockWait(time.Millisecond)

	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == "packfs_controller_lock_wait_seconds" {
			require.EqualValues(t, 1, f.GetMetric()[0].GetHistogram().GetSampleCount())
			return
		}
	}
	t.Fatal("lock wait histogram not found")
}

func TestMountMetrics(t *testing.T) {
	requireT := require.New(t)

	reg := prometheus.NewRegistry()
	m := metrics.NewMountMetrics(reg)

	m.Operation("read", false)
	m.Operation("read", false)
	m.Operation("write", true)

	requireT.NoError(testutil.GatherAndCompare(reg, strings.NewReader(`
# HELP packfs_mount_operations_total Number of file system operations served by the mount
# TYPE packfs_mount_operations_total counter
packfs_mount_operations_total{operation="read",result="ok"} 2
packfs_mount_operations_total{operation="write",result="error"} 1
`)))
}
