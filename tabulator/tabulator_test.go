package tabulator

import (
	"bytes"
	"io/fs"
	"testing"
	"testing/fstest"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/outofforest/packfs/types"
)

func sourceFS() fstest.MapFS {
	return fstest.MapFS{
		"a.txt":     {Data: []byte("hello")},
		"sub/b.txt": {Data: []byte("xyz")},
	}
}

func TestBuild(t *testing.T) {
	requireT := require.New(t)

	table, err := Build(sourceFS(), ".")
	requireT.NoError(err)

	// 4 bytes of count + 3 entries of 20 bytes + names: "a.txt" (4+8), "sub" (4+4), "b.txt" (4+8).
	const headerSize = 4 + 3*20 + 12 + 8 + 12
	requireT.EqualValues(headerSize, table.HeaderSize())
	requireT.EqualValues(12, table.ContentSize())
	requireT.EqualValues(headerSize+12, table.Size())

	entries := table.Entries()
	requireT.Len(entries, 3)

	requireT.Equal("a.txt", entries[0].Name)
	requireT.EqualValues(types.RootID, entries[0].Parent)
	requireT.EqualValues(5, entries[0].Size)
	requireT.EqualValues(headerSize, entries[0].Offset)
	requireT.False(entries[0].Dir)

	requireT.Equal("sub", entries[1].Name)
	requireT.EqualValues(types.RootID, entries[1].Parent)
	requireT.EqualValues(4, entries[1].Size)
	requireT.EqualValues(headerSize+8, entries[1].Offset)
	requireT.True(entries[1].Dir)

	requireT.Equal("b.txt", entries[2].Name)
	requireT.EqualValues(2, entries[2].Parent)
	requireT.EqualValues(3, entries[2].Size)
	requireT.EqualValues(headerSize+8, entries[2].Offset)
}

func TestFilesBeforeSubdirectories(t *testing.T) {
	requireT := require.New(t)

	table, err := Build(fstest.MapFS{
		"a/x.txt":   {Data: []byte("1")},
		"b.txt":     {Data: []byte("22")},
		"c/d/e.txt": {Data: []byte("333")},
		"z.txt":     {Data: []byte("4444")},
	}, ".")
	requireT.NoError(err)

	var names []string
	for _, e := range table.Entries() {
		names = append(names, e.Name)
	}
	requireT.Equal([]string{"b.txt", "z.txt", "a", "x.txt", "c", "d", "e.txt"}, names)

	entries := table.Entries()
	// Directory size is the sum of aligned sizes of its descendants.
	requireT.EqualValues(4, entries[2].Size)
	requireT.EqualValues(4, entries[4].Size)
	requireT.EqualValues(4+4+4+4, table.ContentSize())
}

func TestEncode(t *testing.T) {
	requireT := require.New(t)

	table, err := Build(sourceFS(), ".")
	requireT.NoError(err)

	b, err := table.Encode(2)
	requireT.NoError(err)
	requireT.Len(b, int(table.Size()))

	entries := table.Entries()
	requireT.Equal([]byte("hello"), b[entries[0].Offset:entries[0].Offset+5])
	requireT.Equal([]byte("xyz"), b[entries[2].Offset:entries[2].Offset+3])
	requireT.Equal([]byte{0x00, 0x00, 0x00, 0x03}, b[:4])

	buf := &bytes.Buffer{}
	n, err := table.WriteTo(buf)
	requireT.NoError(err)
	requireT.EqualValues(len(b), n)
	requireT.Equal(b, buf.Bytes())
}

func TestEncodeInvalidWorkers(t *testing.T) {
	table, err := Build(sourceFS(), ".")
	require.NoError(t, err)

	_, err = table.Encode(0)
	require.ErrorIs(t, err, types.ErrOutOfRange)
}

func TestIrregularFilesAreSkipped(t *testing.T) {
	requireT := require.New(t)

	src := sourceFS()
	src["link"] = &fstest.MapFile{Data: []byte("a.txt"), Mode: fs.ModeSymlink}

	table, err := Build(src, ".")
	requireT.NoError(err)
	requireT.Len(table.Entries(), 3)
}

func TestEmptyDirectory(t *testing.T) {
	requireT := require.New(t)

	table, err := Build(fstest.MapFS{
		"empty": {Mode: fs.ModeDir},
	}, ".")
	requireT.NoError(err)
	requireT.Len(table.Entries(), 1)
	requireT.True(table.Entries()[0].Dir)
	requireT.EqualValues(0, table.Entries()[0].Size)
}

func TestSourceMustBeDirectory(t *testing.T) {
	_, err := Build(sourceFS(), "a.txt")
	require.ErrorIs(t, err, types.ErrNotADirectory)
}

var errBroken = errors.New("broken file")

type brokenFS struct {
	fstest.MapFS
	broken string
}

func (b brokenFS) Open(name string) (fs.File, error) {
	if name == b.broken {
		return nil, errBroken
	}
	return b.MapFS.Open(name)
}

func TestUnreadableFileAbortsBuild(t *testing.T) {
	requireT := require.New(t)

	table, err := Build(brokenFS{MapFS: sourceFS(), broken: "sub/b.txt"}, ".")
	requireT.NoError(err)

	b, err := table.Encode(4)
	requireT.ErrorIs(err, errBroken)
	requireT.Nil(b)

	_, err = table.WriteTo(&bytes.Buffer{})
	requireT.ErrorIs(err, errBroken)
}

func TestChangedFileAbortsBuild(t *testing.T) {
	requireT := require.New(t)

	src := sourceFS()
	table, err := Build(src, ".")
	requireT.NoError(err)

	src["a.txt"].Data = []byte("hello world")
	_, err = table.Encode(1)
	requireT.Error(err)

	src["a.txt"].Data = []byte("hi")
	_, err = table.Encode(1)
	requireT.Error(err)
}
