package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/outofforest/packfs/blocks"
	"github.com/outofforest/packfs/inspect"
)

func execute(t *testing.T, args ...string) (string, error) {
	cmd := newRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs(append([]string{"--log-level", "error"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func mustExecute(t *testing.T, args ...string) string {
	out, err := execute(t, args...)
	require.NoError(t, err)
	return out
}

func sourceDir(t *testing.T) string {
	dir := t.TempDir()
	requireT := require.New(t)
	requireT.NoError(os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hello"), 0o600))
	requireT.NoError(os.MkdirAll(filepath.Join(dir, "sub", "deep"), 0o700))
	requireT.NoError(os.WriteFile(filepath.Join(dir, "sub", "b.txt"), []byte("xyz"), 0o600))
	requireT.NoError(os.WriteFile(filepath.Join(dir, "sub", "deep", "c.bin"), bytes.Repeat([]byte{0x5a}, 3000), 0o600))
	return dir
}

func tableChecksum(t *testing.T, path string) string {
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	table, _, err := blocks.Decode(f)
	require.NoError(t, err)
	return table.Checksum().String()
}

func TestPackListCat(t *testing.T) {
	for _, format := range []string{"contiguous", "block"} {
		t.Run(format, func(t *testing.T) {
			requireT := require.New(t)

			src := sourceDir(t)
			container := filepath.Join(t.TempDir(), "c.pack")
			mustExecute(t, "pack", "--format", format, src, container)

			out := mustExecute(t, "ls", "--format", format, "--depth", "3", container)
			requireT.Contains(out, "sub/deep/c.bin")
			requireT.Contains(out, "3000")

			out = mustExecute(t, "ls", "--format", format, container, "sub")
			requireT.Contains(out, "sub/b.txt")
			requireT.NotContains(out, "c.bin")

			out = mustExecute(t, "cat", "--format", format, container, "a.txt")
			requireT.Equal("hello", out)

			_, err := execute(t, "cat", "--format", format, container, "missing")
			requireT.Error(err)

			_, err = execute(t, "pack", "--format", format, src, container)
			requireT.Error(err)
			mustExecute(t, "pack", "--format", format, "--force", src, container)
		})
	}
}

func TestPutAndTruncate(t *testing.T) {
	requireT := require.New(t)

	container := filepath.Join(t.TempDir(), "c.pack")
	mustExecute(t, "pack", "--spare-blocks", "2", sourceDir(t), container)

	local := filepath.Join(t.TempDir(), "new.txt")
	content := bytes.Repeat([]byte("packed "), 400)
	requireT.NoError(os.WriteFile(local, content, 0o600))

	mustExecute(t, "put", container, "a.txt", local)
	requireT.Equal(string(content), mustExecute(t, "cat", container, "a.txt"))
	requireT.Equal("xyz", mustExecute(t, "cat", container, "sub/b.txt"))

	mustExecute(t, "truncate", container, "a.txt", "6")
	requireT.Equal("packed", mustExecute(t, "cat", container, "a.txt"))

	_, err := execute(t, "truncate", container, "a.txt", "--", "-1")
	requireT.Error(err)
	_, err = execute(t, "put", container, "sub", local)
	requireT.Error(err)
}

func TestPutRejectsContiguous(t *testing.T) {
	container := filepath.Join(t.TempDir(), "c.pack")
	mustExecute(t, "pack", "--format", "contiguous", sourceDir(t), container)

	_, err := execute(t, "truncate", "--format", "contiguous", container, "a.txt", "1")
	require.Error(t, err)
}

func TestDigestAndVerify(t *testing.T) {
	requireT := require.New(t)

	src := sourceDir(t)
	container := filepath.Join(t.TempDir(), "c.pack")
	mustExecute(t, "pack", src, container)

	var digests []inspect.FileDigest
	out := mustExecute(t, "digest", "--hash", "blake3", "-o", "yaml", container)
	requireT.NoError(yaml.Unmarshal([]byte(out), &digests))
	requireT.Len(digests, 3)
	requireT.Equal("a.txt", digests[0].Path)
	requireT.Equal(inspect.BLAKE3.Sum([]byte("hello")), digests[0].Sum)

	out = mustExecute(t, "digest", container)
	requireT.Contains(out, inspect.XXHash.Sum([]byte("xyz")))
	requireT.Contains(out, "Table checksum: "+tableChecksum(t, container))

	contiguousContainer := filepath.Join(t.TempDir(), "c.pack")
	mustExecute(t, "pack", "--format", "contiguous", src, contiguousContainer)
	out = mustExecute(t, "digest", "--format", "contiguous", contiguousContainer)
	requireT.Contains(out, inspect.XXHash.Sum([]byte("xyz")))
	requireT.NotContains(out, "Table checksum")

	_, err := execute(t, "digest", "-o", "json", container)
	requireT.Error(err)

	mustExecute(t, "verify", container, src)

	requireT.NoError(os.WriteFile(filepath.Join(src, "a.txt"), []byte("changed"), 0o600))
	out, err = execute(t, "verify", container, src)
	requireT.Error(err)
	requireT.Contains(out, "different: a.txt")
}

func TestExportImport(t *testing.T) {
	for _, codec := range []string{"none", "lz4", "zstd"} {
		t.Run(codec, func(t *testing.T) {
			requireT := require.New(t)

			dir := t.TempDir()
			container := filepath.Join(dir, "c.pack")
			archived := filepath.Join(dir, "c.pack.archive")
			restored := filepath.Join(dir, "restored.pack")

			mustExecute(t, "pack", sourceDir(t), container)
			mustExecute(t, "export", "--codec", codec, container, archived)
			mustExecute(t, "import", archived, restored)

			original, err := os.ReadFile(container)
			requireT.NoError(err)
			data, err := os.ReadFile(restored)
			requireT.NoError(err)
			requireT.Equal(original, data)

			_, err = execute(t, "import", archived, restored)
			requireT.Error(err)
		})
	}
}

func TestConvert(t *testing.T) {
	requireT := require.New(t)

	src := sourceDir(t)
	dir := t.TempDir()
	block := filepath.Join(dir, "c.block")
	contiguous := filepath.Join(dir, "c.contiguous")

	mustExecute(t, "pack", src, block)
	mustExecute(t, "convert", "--from", "block", "--format", "contiguous", block, contiguous)

	requireT.Equal("xyz", mustExecute(t, "cat", "--format", "contiguous", contiguous, "sub/b.txt"))
	mustExecute(t, "verify", "--format", "contiguous", contiguous, src)
}

func TestEncryptedSplitContainer(t *testing.T) {
	requireT := require.New(t)

	dir := t.TempDir()
	key := filepath.Join(dir, "key")
	requireT.NoError(os.WriteFile(key, []byte("0123456789abcdef0123456789abcdef\n"), 0o600))
	split := filepath.Join(dir, "pad")
	container := filepath.Join(dir, "c.pack")

	src := sourceDir(t)
	mustExecute(t, "pack", "--cipher-key-file", key, "--split-file", split, src, container)

	data, err := os.ReadFile(container)
	requireT.NoError(err)
	requireT.NotContains(string(data), "hello")

	requireT.Equal("hello", mustExecute(t, "cat", "--cipher-key-file", key, "--split-file", split,
		container, "a.txt"))
	mustExecute(t, "verify", "--cipher-key-file", key, "--split-file", split, container, src)

	_, err = execute(t, "cat", "--split-file", split, container, "a.txt")
	requireT.Error(err)
}

func TestConfigFile(t *testing.T) {
	requireT := require.New(t)

	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "packfs.yaml")
	requireT.NoError(os.WriteFile(cfgFile, []byte("format: contiguous\nworkers: 2\n"), 0o600))
	container := filepath.Join(dir, "c.pack")

	mustExecute(t, "--config", cfgFile, "pack", sourceDir(t), container)
	requireT.Equal("hello", mustExecute(t, "cat", "--format", "contiguous", container, "a.txt"))

	_, err := execute(t, "--config", filepath.Join(dir, "missing.yaml"), "ls", container)
	requireT.Error(err)
	_, err = execute(t, "--log-level", "loud", "ls", container)
	requireT.Error(err)
}
