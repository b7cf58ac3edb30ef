package blockstore

import (
	"bytes"
	"io"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outofforest/packfs/blocks"
	"github.com/outofforest/packfs/persistence"
	"github.com/outofforest/packfs/pkg/memdev"
	"github.com/outofforest/packfs/types"
)

// cursorDev hides positioned I/O of the wrapped device.
type cursorDev struct {
	persistence.Dev
}

type failingDev struct {
	*memdev.MemDev
}

func (d failingDev) Truncate(int64) error {
	return errors.New("device is full")
}

type recordingMetrics struct {
	mu              sync.Mutex
	bytesRead       int
	bytesWritten    int
	blocksAllocated int
	blocksReleased  int
	freeBlocks      int
	lockWaits       int
}

func (m *recordingMetrics) BytesRead(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bytesRead += n
}

func (m *recordingMetrics) BytesWritten(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bytesWritten += n
}

func (m *recordingMetrics) BlocksAllocated(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocksAllocated += n
}

func (m *recordingMetrics) BlocksReleased(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocksReleased += n
}

func (m *recordingMetrics) FreeBlocks(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.freeBlocks = n
}

func (m *recordingMetrics) LockWait(time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lockWaits++
}

func devices() map[string]func(size int64) persistence.Dev {
	return map[string]func(size int64) persistence.Dev{
		"positional": func(size int64) persistence.Dev {
			return memdev.New(size)
		},
		"cursor": func(size int64) persistence.Dev {
			return cursorDev{Dev: memdev.New(size)}
		},
	}
}

func newController(t *testing.T, dev persistence.Dev, table *blocks.Table, opts ...Option) *Controller {
	store, err := persistence.OpenStore(dev, 0, types.BlockSize)
	require.NoError(t, err)
	return New(store, table, opts...)
}

// emptyTable returns table of n empty files.
func emptyTable(n int) *blocks.Table {
	table := &blocks.Table{}
	for i := range n {
		table.Entries = append(table.Entries, &blocks.Entry{Name: string(rune('a' + i))})
	}
	return table
}

func TestCrossBlockRead(t *testing.T) {
	for name, newDev := range devices() {
		t.Run(name, func(t *testing.T) {
			requireT := require.New(t)

			content := make([]byte, 2500)
			_, _ = rand.New(rand.NewSource(0)).Read(content)

			dev := newDev(10 * types.BlockSize)
			blockIDs := []types.BlockID{7, 2, 9}
			for i, id := range blockIDs {
				chunk := content[i*types.BlockSize : min((i+1)*types.BlockSize, len(content))]
				_, err := dev.Seek(int64(id)*types.BlockSize, io.SeekStart)
				requireT.NoError(err)
				_, err = dev.Write(chunk)
				requireT.NoError(err)
			}

			c := newController(t, dev, &blocks.Table{
				Entries: []*blocks.Entry{{Size: 2500, Blocks: blockIDs, Name: "file"}},
				MaxNode: 10,
				Free:    []types.BlockID{0, 1, 3, 4, 5, 6, 8},
			})
			h, err := c.Open(1, types.ReadOnly)
			requireT.NoError(err)

			pos, err := h.Seek(1000, io.SeekStart)
			requireT.NoError(err)
			requireT.EqualValues(1000, pos)

			buf := make([]byte, 1200)
			n, err := h.Read(buf)
			requireT.NoError(err)
			requireT.Equal(1200, n)
			requireT.Equal(content[1000:2200], buf)

			pos, err = h.Seek(0, io.SeekCurrent)
			requireT.NoError(err)
			requireT.EqualValues(2200, pos)

			n, err = h.Read(buf)
			requireT.ErrorIs(err, io.EOF)
			requireT.Equal(300, n)
			requireT.Equal(content[2200:], buf[:n])

			n, err = h.Read(buf)
			requireT.ErrorIs(err, io.EOF)
			requireT.Zero(n)

			n, err = h.ReadAt(buf[:10], 1020)
			requireT.NoError(err)
			requireT.Equal(10, n)
			requireT.Equal(content[1020:1030], buf[:10])

			all, err := io.ReadAll(io.NewSectionReader(h, 0, h.Size()))
			requireT.NoError(err)
			requireT.Equal(content, all)
		})
	}
}

func TestInvalidAllocation(t *testing.T) {
	tests := map[string]*blocks.Entry{
		"too few blocks":  {Size: 2048, Blocks: []types.BlockID{0}},
		"too many blocks": {Size: 1024, Blocks: []types.BlockID{0, 1}},
		"free block":      {Size: 10, Blocks: []types.BlockID{2}},
		"outside region":  {Size: 10, Blocks: []types.BlockID{4}},
	}
	for name, e := range tests {
		t.Run(name, func(t *testing.T) {
			requireT := require.New(t)

			table := &blocks.Table{
				Entries: []*blocks.Entry{e},
				MaxNode: 4,
				Free:    []types.BlockID{2, 3},
			}
			c := newController(t, memdev.New(4*types.BlockSize), table)
			before := c.Snapshot()

			_, err := c.Open(1, types.ReadWrite)
			requireT.ErrorIs(err, types.ErrInvalidAllocation)
			requireT.Equal(before, c.Snapshot())
		})
	}
}

func TestEmptyEntryIsValid(t *testing.T) {
	c := newController(t, memdev.New(0), emptyTable(1))
	_, err := c.Open(1, types.ReadOnly)
	require.NoError(t, err)
}

func TestOpenMissingEntry(t *testing.T) {
	c := newController(t, memdev.New(0), emptyTable(1))
	_, err := c.Open(2, types.ReadOnly)
	require.ErrorIs(t, err, types.ErrNotFound)
}

func TestGrowUsesFreeListFirst(t *testing.T) {
	requireT := require.New(t)

	table := &blocks.Table{
		Entries: []*blocks.Entry{
			{Size: 1024, Blocks: []types.BlockID{0}, Name: "a"},
			{Size: 1024, Blocks: []types.BlockID{2}, Name: "b"},
		},
		MaxNode: 6,
		Free:    []types.BlockID{1, 3, 4, 5},
	}
	c := newController(t, memdev.New(6*types.BlockSize), table)

	h, err := c.Open(1, types.ReadWrite)
	requireT.NoError(err)
	requireT.NoError(h.Truncate(3 * types.BlockSize))

	snapshot := c.Snapshot()
	requireT.Equal([]types.BlockID{0, 1, 3}, snapshot.Entries[0].Blocks)
	requireT.Equal([]types.BlockID{4, 5}, snapshot.Free)
	requireT.EqualValues(6, snapshot.MaxNode)
	requireT.NoError(snapshot.Validate())
}

func TestGrowExtendsDevice(t *testing.T) {
	requireT := require.New(t)

	dev := memdev.New(2 * types.BlockSize)
	c := newController(t, dev, &blocks.Table{
		Entries: []*blocks.Entry{{Name: "a"}},
		MaxNode: 2,
		Free:    []types.BlockID{0, 1},
	})

	h, err := c.Open(1, types.ReadWrite)
	requireT.NoError(err)

	data := bytes.Repeat([]byte{0x01}, 5000)
	n, err := h.Write(data)
	requireT.NoError(err)
	requireT.Equal(5000, n)
	requireT.EqualValues(5000, h.Size())

	snapshot := c.Snapshot()
	requireT.Equal([]types.BlockID{0, 1, 2, 3, 4}, snapshot.Entries[0].Blocks)
	requireT.Empty(snapshot.Free)
	requireT.EqualValues(5, snapshot.MaxNode)
	requireT.EqualValues(5*types.BlockSize, dev.Size())

	requireT.NoError(h.Truncate(0))
	snapshot = c.Snapshot()
	requireT.Empty(snapshot.Entries[0].Blocks)
	requireT.Equal([]types.BlockID{0, 1, 2, 3, 4}, snapshot.Free)
	requireT.EqualValues(5, snapshot.MaxNode)
	requireT.Equal(5, c.FreeBlocks())
	requireT.EqualValues(5, c.MaxNode())
	requireT.NoError(snapshot.Validate())
}

func TestShrinkKeepsFreeListSorted(t *testing.T) {
	requireT := require.New(t)

	c := newController(t, memdev.New(6*types.BlockSize), &blocks.Table{
		Entries: []*blocks.Entry{{Size: 3 * types.BlockSize, Blocks: []types.BlockID{5, 1, 3}, Name: "a"}},
		MaxNode: 6,
		Free:    []types.BlockID{0, 2, 4},
	})

	h, err := c.Open(1, types.ReadWrite)
	requireT.NoError(err)
	requireT.NoError(h.Truncate(100))

	snapshot := c.Snapshot()
	requireT.Equal([]types.BlockID{5}, snapshot.Entries[0].Blocks)
	requireT.Equal([]types.BlockID{0, 1, 2, 3, 4}, snapshot.Free)
	requireT.EqualValues(100, snapshot.Entries[0].Size)
}

func TestFailedGrowIsAtomic(t *testing.T) {
	requireT := require.New(t)

	c := newController(t, failingDev{MemDev: memdev.New(2 * types.BlockSize)}, &blocks.Table{
		Entries: []*blocks.Entry{{Size: 10, Blocks: []types.BlockID{1}, Name: "a"}},
		MaxNode: 2,
		Free:    []types.BlockID{0},
	})
	before := c.Snapshot()

	h, err := c.Open(1, types.ReadWrite)
	requireT.NoError(err)

	requireT.Error(h.Truncate(3 * types.BlockSize))
	requireT.Equal(before, c.Snapshot())

	_, err = h.WriteAt(make([]byte, 4000), 10)
	requireT.Error(err)
	requireT.Equal(before, c.Snapshot())
	requireT.EqualValues(10, h.Size())

	requireT.NoError(h.Truncate(2 * types.BlockSize))
	requireT.Equal([]types.BlockID{1, 0}, c.Snapshot().Entries[0].Blocks)
}

func TestGrowReadsZeros(t *testing.T) {
	for name, newDev := range devices() {
		t.Run(name, func(t *testing.T) {
			requireT := require.New(t)

			c := newController(t, newDev(0), emptyTable(1))
			h, err := c.Open(1, types.ReadWrite)
			requireT.NoError(err)

			_, err = h.Write(bytes.Repeat([]byte{0xff}, 2000))
			requireT.NoError(err)
			requireT.NoError(h.Truncate(500))
			requireT.NoError(h.Truncate(2000))

			data := make([]byte, 2000)
			n, err := h.ReadAt(data, 0)
			requireT.NoError(err)
			requireT.Equal(2000, n)
			requireT.Equal(bytes.Repeat([]byte{0xff}, 500), data[:500])
			requireT.Equal(make([]byte, 1500), data[500:])

			_, err = h.WriteAt([]byte{0x01}, 3000)
			requireT.NoError(err)
			data = make([]byte, 1001)
			_, err = h.ReadAt(data, 2000)
			requireT.NoError(err)
			requireT.Equal(append(make([]byte, 1000), 0x01), data)
		})
	}
}

func TestTruncateClampsPosition(t *testing.T) {
	requireT := require.New(t)

	c := newController(t, memdev.New(0), emptyTable(1))
	h, err := c.Open(1, types.ReadWrite)
	requireT.NoError(err)

	_, err = h.Write(make([]byte, 3000))
	requireT.NoError(err)
	requireT.NoError(h.Truncate(1000))

	pos, err := h.Seek(0, io.SeekCurrent)
	requireT.NoError(err)
	requireT.EqualValues(1000, pos)

	pos, err = h.Seek(-10, io.SeekEnd)
	requireT.NoError(err)
	requireT.EqualValues(990, pos)

	_, err = h.Seek(-1001, io.SeekEnd)
	requireT.ErrorIs(err, types.ErrOutOfRange)
	requireT.ErrorIs(h.Truncate(-1), types.ErrOutOfRange)
}

func TestReadOnlyHandle(t *testing.T) {
	requireT := require.New(t)

	c := newController(t, memdev.New(0), emptyTable(1))
	h, err := c.Open(1, types.ReadOnly)
	requireT.NoError(err)
	requireT.Equal(types.ReadOnly, h.Mode())
	requireT.EqualValues(1, h.ID())

	_, err = h.Write([]byte{0x01})
	requireT.ErrorIs(err, types.ErrReadOnly)
	_, err = h.WriteAt([]byte{0x01}, 0)
	requireT.ErrorIs(err, types.ErrReadOnly)
	requireT.ErrorIs(h.Truncate(10), types.ErrReadOnly)
}

func TestClosedHandle(t *testing.T) {
	requireT := require.New(t)

	c := newController(t, memdev.New(0), emptyTable(1))
	h, err := c.Open(1, types.ReadWrite)
	requireT.NoError(err)
	requireT.NoError(h.Close())

	_, err = h.Read(make([]byte, 1))
	requireT.ErrorIs(err, types.ErrClosed)
	_, err = h.Write(make([]byte, 1))
	requireT.ErrorIs(err, types.ErrClosed)
	_, err = h.Seek(0, io.SeekStart)
	requireT.ErrorIs(err, types.ErrClosed)
	requireT.ErrorIs(h.Close(), types.ErrClosed)
}

func TestHandlesShareEntry(t *testing.T) {
	requireT := require.New(t)

	c := newController(t, memdev.New(0), emptyTable(1))
	w, err := c.Open(1, types.ReadWrite)
	requireT.NoError(err)
	r, err := c.Open(1, types.ReadOnly)
	requireT.NoError(err)

	_, err = w.Write([]byte("hello"))
	requireT.NoError(err)
	requireT.EqualValues(5, r.Size())

	data, err := io.ReadAll(r)
	requireT.NoError(err)
	requireT.Equal([]byte("hello"), data)

	requireT.NoError(w.Truncate(2))
	requireT.EqualValues(2, r.Size())
	size, err := c.Size(1)
	requireT.NoError(err)
	requireT.EqualValues(size, r.Size())

	requireT.NoError(w.Close())
	requireT.EqualValues(2, w.Size())
}

func TestPartitionInvariant(t *testing.T) {
	const nEntries = 5

	for name, newDev := range devices() {
		t.Run(name, func(t *testing.T) {
			requireT := require.New(t)

			rnd := rand.New(rand.NewSource(1))
			c := newController(t, newDev(0), emptyTable(nEntries))

			handles := make([]*Handle, 0, nEntries)
			models := make([][]byte, nEntries)
			for i := range nEntries {
				h, err := c.Open(types.EntryID(i+1), types.ReadWrite)
				requireT.NoError(err)
				handles = append(handles, h)
			}

			for range 500 {
				i := rnd.Intn(nEntries)
				h := handles[i]
				switch rnd.Intn(3) {
				case 0:
					length := rnd.Intn(6 * types.BlockSize)
					requireT.NoError(h.Truncate(int64(length)))
					if length <= len(models[i]) {
						models[i] = models[i][:length]
					} else {
						models[i] = append(models[i], make([]byte, length-len(models[i]))...)
					}
				default:
					data := make([]byte, rnd.Intn(3*types.BlockSize)+1)
					_, _ = rnd.Read(data)
					offset := rnd.Intn(len(models[i]) + types.BlockSize)
					n, err := h.WriteAt(data, int64(offset))
					requireT.NoError(err)
					requireT.Equal(len(data), n)
					if end := offset + len(data); end > len(models[i]) {
						models[i] = append(models[i], make([]byte, end-len(models[i]))...)
					}
					copy(models[i][offset:], data)
				}

				snapshot := c.Snapshot()
				requireT.NoError(snapshot.Validate())
				for j, e := range snapshot.Entries {
					requireT.EqualValues(len(models[j]), e.Size)
					requireT.EqualValues(types.BlocksFor(e.Size), len(e.Blocks))
				}
			}

			for i, h := range handles {
				data := make([]byte, len(models[i]))
				if len(data) == 0 {
					continue
				}
				n, err := h.ReadAt(data, 0)
				requireT.NoError(err)
				requireT.Equal(len(data), n)
				requireT.Equal(models[i], data)
			}

			for _, h := range handles {
				requireT.NoError(h.Truncate(0))
			}
			snapshot := c.Snapshot()
			requireT.Len(snapshot.Free, int(snapshot.MaxNode))
			requireT.NoError(snapshot.Validate())
		})
	}
}

func TestConcurrentHandles(t *testing.T) {
	const (
		nEntries = 8
		size     = 5000
	)

	for name, newDev := range devices() {
		t.Run(name, func(t *testing.T) {
			c := newController(t, newDev(0), emptyTable(nEntries))

			var wg sync.WaitGroup
			for i := range nEntries {
				wg.Add(1)
				go func() {
					defer wg.Done()

					h, err := c.Open(types.EntryID(i+1), types.ReadWrite)
					if !assert.NoError(t, err) {
						return
					}
					content := bytes.Repeat([]byte{byte(i + 1)}, size)
					for offset := 0; offset < size; offset += 700 {
						if _, err := h.Write(content[offset:min(offset+700, size)]); !assert.NoError(t, err) {
							return
						}
					}

					for range 20 {
						data := make([]byte, size)
						n, err := h.ReadAt(data, 0)
						if !assert.NoError(t, err) || !assert.Equal(t, size, n) || !assert.Equal(t, content, data) {
							return
						}
					}
				}()
			}
			wg.Wait()

			snapshot := c.Snapshot()
			require.NoError(t, snapshot.Validate())
			require.Empty(t, snapshot.Free)
			require.EqualValues(t, nEntries*types.BlocksFor(size), snapshot.MaxNode)
		})
	}
}

func TestMetrics(t *testing.T) {
	requireT := require.New(t)

	m := &recordingMetrics{}
	c := newController(t, memdev.New(0), emptyTable(1), WithMetrics(m))
	h, err := c.Open(1, types.ReadWrite)
	requireT.NoError(err)

	_, err = h.Write(make([]byte, 2500))
	requireT.NoError(err)
	_, err = h.ReadAt(make([]byte, 1000), 0)
	requireT.NoError(err)
	requireT.NoError(h.Truncate(1000))

	requireT.Equal(2500, m.bytesWritten)
	requireT.Equal(1000, m.bytesRead)
	requireT.Equal(3, m.blocksAllocated)
	requireT.Equal(2, m.blocksReleased)
	requireT.Equal(2, m.freeBlocks)
	requireT.Equal(3, m.lockWaits)
}
