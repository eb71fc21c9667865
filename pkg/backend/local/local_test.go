package local

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"strata/pkg/strata"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()

	c, err := Open(context.Background(), t.TempDir())
	require.NoError(t, err, "Open error")
	t.Cleanup(func() { _ = c.Close() })

	return c
}

func newTestStore(t *testing.T, c *Client) *strata.Store {
	t.Helper()

	s, err := strata.NewStorage(c, strata.WithChunkSize(8), strata.WithRetryBaseDelay(time.Millisecond))
	require.NoError(t, err, "NewStorage error")

	return s
}

func patternBytes(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte('a' + i%26)
	}
	return b
}

func TestRoundTripSizes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		size   int
		source func([]byte) strata.Source
	}{
		{name: "empty", size: 0, source: strata.Bytes},
		{name: "single shot", size: 512, source: strata.Bytes},
		{name: "chunked stream", size: 3*8 + 5, source: func(b []byte) strata.Source {
			return strata.Reader(bytes.NewReader(b))
		}},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			store := newTestStore(t, newTestClient(t))
			require.NoError(t, store.EnsureContainer(ctx, "data", strata.ContainerOptions{}), "EnsureContainer error")

			want := patternBytes(tc.size)
			require.NoError(t, store.PutObject(ctx, "data", "blob.bin", tc.source(want), strata.PutOptions{}), "PutObject error")

			got, err := store.GetBytes(ctx, "data", "blob.bin")
			require.NoError(t, err, "GetBytes error")
			require.Equal(t, want, got, "payload mismatch")

			entry, err := store.StatObject(ctx, "data", "blob.bin")
			require.NoError(t, err, "StatObject error")
			require.Equal(t, int64(tc.size), entry.Size, "size mismatch")
			require.NotEmpty(t, entry.ContentMD5, "expected an MD5 digest")
			require.NotEmpty(t, entry.ContentSHA1, "expected a SHA-1 digest")
		})
	}
}

func TestChunkedUploadCleansStaging(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := newTestClient(t)
	store := newTestStore(t, c)
	require.NoError(t, store.EnsureContainer(ctx, "data", strata.ContainerOptions{}), "EnsureContainer error")

	want := patternBytes(4*8 + 3)
	require.NoError(t, store.PutObject(ctx, "data", "big.bin", strata.Reader(bytes.NewReader(want)), strata.PutOptions{}), "PutObject error")

	got, err := store.GetBytes(ctx, "data", "big.bin")
	require.NoError(t, err, "GetBytes error")
	require.Equal(t, want, got, "assembled payload mismatch")

	entries, err := os.ReadDir(filepath.Join(c.dataDir, "uploads"))
	require.NoError(t, err, "ReadDir error")
	require.Empty(t, entries, "staging directory should be cleaned after commit")
}

func TestAbortUploadCleansStaging(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := newTestClient(t)
	require.NoError(t, c.CreateContainer(ctx, "data", strata.ContainerOptions{}), "CreateContainer error")

	handle, err := c.CreateUpload(ctx, "data", "never.bin", strata.PutRequest{})
	require.NoError(t, err, "CreateUpload error")

	target, err := c.ChunkTarget(ctx, handle)
	require.NoError(t, err, "ChunkTarget error")
	_, err = c.UploadChunk(ctx, target, 0, []byte("first chunk"))
	require.NoError(t, err, "UploadChunk error")

	require.NoError(t, c.AbortUpload(ctx, handle), "AbortUpload error")

	entries, err := os.ReadDir(filepath.Join(c.dataDir, "uploads"))
	require.NoError(t, err, "ReadDir error")
	require.Empty(t, entries, "staging directory should be cleaned after abort")

	_, err = c.StatObject(ctx, "data", "never.bin")
	require.ErrorIs(t, err, strata.ErrNotFound, "aborted upload must not produce an object")
}

func TestListPageGroupsPrefixes(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := newTestClient(t)
	require.NoError(t, c.CreateContainer(ctx, "data", strata.ContainerOptions{}), "CreateContainer error")

	for _, key := range []string{"a.txt", "b/c.txt", "b/d.txt", "e/f/g.txt"} {
		require.NoError(t, c.PutObject(ctx, "data", key, []byte(key), strata.PutRequest{}), "PutObject %s error", key)
	}

	page, err := c.ListPage(ctx, "data", "", "")
	require.NoError(t, err, "ListPage error")
	require.Empty(t, page.Cursor, "unexpected continuation cursor")

	var names []string
	for _, entry := range page.Entries {
		names = append(names, entry.Name())
	}
	require.Equal(t, []string{"a.txt", "b/", "e/"}, names, "root listing mismatch")
	require.False(t, page.Entries[0].IsPrefix(), "a.txt should be an object")
	require.True(t, page.Entries[1].IsPrefix(), "b/ should be a prefix")

	page, err = c.ListPage(ctx, "data", "b/", "")
	require.NoError(t, err, "ListPage under b/ error")
	names = names[:0]
	for _, entry := range page.Entries {
		require.False(t, entry.IsPrefix(), "no sub prefixes expected under b/")
		names = append(names, entry.Name())
	}
	require.Equal(t, []string{"b/c.txt", "b/d.txt"}, names, "b/ listing mismatch")
}

func TestListPagePagination(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := newTestClient(t)
	require.NoError(t, c.CreateContainer(ctx, "data", strata.ContainerOptions{}), "CreateContainer error")

	const total = pageSize + 2
	for i := 0; i < total; i++ {
		key := fmt.Sprintf("obj-%04d", i)
		require.NoError(t, c.PutObject(ctx, "data", key, fmt.Appendf(nil, "payload-%04d", i), strata.PutRequest{}), "PutObject %s error", key)
	}

	first, err := c.ListPage(ctx, "data", "", "")
	require.NoError(t, err, "first page error")
	require.Len(t, first.Entries, pageSize, "first page length")
	require.Equal(t, fmt.Sprintf("obj-%04d", pageSize-1), first.Cursor, "first page cursor")

	second, err := c.ListPage(ctx, "data", "", first.Cursor)
	require.NoError(t, err, "second page error")
	require.Len(t, second.Entries, 2, "second page length")
	require.Empty(t, second.Cursor, "chain should end on the second page")

	store := newTestStore(t, c)
	all, err := store.ListObjects(ctx, "data", "")
	require.NoError(t, err, "ListObjects error")
	require.Len(t, all, total, "aggregated listing length")
}

func TestListPageGroupStraddlesProbe(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := newTestClient(t)
	require.NoError(t, c.CreateContainer(ctx, "data", strata.ContainerOptions{}), "CreateContainer error")

	// pageSize-1 plain objects followed by one group big enough that the
	// probe row lands inside it.
	for i := 0; i < pageSize-1; i++ {
		key := fmt.Sprintf("a%04d", i)
		require.NoError(t, c.PutObject(ctx, "data", key, fmt.Appendf(nil, "payload-%04d", i), strata.PutRequest{}), "PutObject %s error", key)
	}
	for i := 0; i < 6; i++ {
		key := fmt.Sprintf("zz/part-%d", i)
		require.NoError(t, c.PutObject(ctx, "data", key, fmt.Appendf(nil, "part-%d", i), strata.PutRequest{}), "PutObject %s error", key)
	}

	first, err := c.ListPage(ctx, "data", "", "")
	require.NoError(t, err, "first page error")
	require.Len(t, first.Entries, pageSize, "first page length")
	last := first.Entries[len(first.Entries)-1]
	require.True(t, last.IsPrefix(), "last entry should be the zz/ prefix")
	require.Equal(t, "zz/", last.Name(), "last entry name")
	require.NotEmpty(t, first.Cursor, "first page must be truncated")

	second, err := c.ListPage(ctx, "data", "", first.Cursor)
	require.NoError(t, err, "second page error")
	require.Empty(t, second.Entries, "the zz/ group must not repeat on the next page")
	require.Empty(t, second.Cursor, "chain should end")

	store := newTestStore(t, c)
	all, err := store.ListObjects(ctx, "data", "")
	require.NoError(t, err, "ListObjects error")
	require.Len(t, all, pageSize, "aggregated listing length")

	groups := 0
	for _, entry := range all {
		if entry.IsPrefix() {
			groups++
			require.Equal(t, "zz/", entry.Name(), "unexpected prefix entry")
		}
	}
	require.Equal(t, 1, groups, "zz/ must be reported exactly once")
}

func TestPayloadDedupHardLinks(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := newTestClient(t)
	require.NoError(t, c.CreateContainer(ctx, "one", strata.ContainerOptions{}), "CreateContainer one error")
	require.NoError(t, c.CreateContainer(ctx, "two", strata.ContainerOptions{}), "CreateContainer two error")

	data := []byte("shared payload bytes")
	require.NoError(t, c.PutObject(ctx, "one", "a.bin", data, strata.PutRequest{}), "PutObject one error")
	require.NoError(t, c.PutObject(ctx, "two", "b.bin", data, strata.PutRequest{}), "PutObject two error")

	sum := sha256.Sum256(data)
	hashHex := hex.EncodeToString(sum[:])

	first, err := os.Stat(c.payloads.path("one", hashHex))
	require.NoError(t, err, "stat first payload error")
	second, err := os.Stat(c.payloads.path("two", hashHex))
	require.NoError(t, err, "stat second payload error")
	require.True(t, os.SameFile(first, second), "identical payloads should share one inode")
}

func TestCopyObjectPreservesMetadata(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := newTestClient(t)
	store := newTestStore(t, c)
	require.NoError(t, store.EnsureContainer(ctx, "src", strata.ContainerOptions{}), "EnsureContainer src error")
	require.NoError(t, store.EnsureContainer(ctx, "dst", strata.ContainerOptions{}), "EnsureContainer dst error")

	opts := strata.PutOptions{Metadata: strata.Metadata{
		"Content-Type": "text/csv",
		"Team":         "analytics",
	}}
	require.NoError(t, store.PutObject(ctx, "src", "report.csv", strata.String("x,y\n1,2\n"), opts), "PutObject error")

	require.NoError(t, store.CopyObject(ctx, "src", "report.csv", "dst", "copy.csv"), "CopyObject error")

	entry, err := store.StatObject(ctx, "dst", "copy.csv")
	require.NoError(t, err, "StatObject error")
	require.Equal(t, "text/csv", entry.ContentType, "content type not carried over")
	require.Equal(t, "analytics", entry.Metadata["x-obj-meta-team"], "custom metadata not carried over")

	got, err := store.GetString(ctx, "dst", "copy.csv")
	require.NoError(t, err, "GetString error")
	require.Equal(t, "x,y\n1,2\n", got, "copied payload mismatch")
}

func TestOverwriteKeepsCreationTime(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t, newTestClient(t))
	require.NoError(t, store.EnsureContainer(ctx, "data", strata.ContainerOptions{}), "EnsureContainer error")

	require.NoError(t, store.PutObject(ctx, "data", "note.txt", strata.String("first"), strata.PutOptions{}), "first PutObject error")
	first, err := store.StatObject(ctx, "data", "note.txt")
	require.NoError(t, err, "StatObject error")
	require.False(t, first.CreationTime.IsZero(), "expected a creation time")

	require.NoError(t, store.PutObject(ctx, "data", "note.txt", strata.String("second"), strata.PutOptions{}), "second PutObject error")
	second, err := store.StatObject(ctx, "data", "note.txt")
	require.NoError(t, err, "StatObject error")

	require.Equal(t, first.CreationTime, second.CreationTime, "overwrite changed the creation time")
	require.False(t, second.LastModified.Before(first.LastModified), "modification time moved backwards")
	require.Equal(t, int64(len("second")), second.Size, "size should reflect the overwrite")
}

func TestContainerNameValidation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := newTestClient(t)

	invalid := []string{
		"ab",
		strings.Repeat("a", 64),
		"Upper",
		"has..dots",
		"192.168.0.1",
		"-leading",
		"trailing-",
		"under_score",
	}
	for _, name := range invalid {
		err := c.CreateContainer(ctx, name, strata.ContainerOptions{})
		require.ErrorIs(t, err, strata.ErrInvalidArgument, "expected %q to be rejected", name)
	}

	for _, name := range []string{"data-bucket-01", "a.b.c", "abc"} {
		require.NoError(t, c.CreateContainer(ctx, name, strata.ContainerOptions{}), "expected %q to be accepted", name)
	}
}

func TestContainerLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := newTestClient(t)

	err := c.DeleteContainer(ctx, "missing")
	require.ErrorIs(t, err, strata.ErrNotFound, "deleting a missing container")

	require.NoError(t, c.CreateContainer(ctx, "data", strata.ContainerOptions{}), "CreateContainer error")
	err = c.CreateContainer(ctx, "data", strata.ContainerOptions{})
	require.ErrorIs(t, err, strata.ErrAlreadyExists, "duplicate create")

	require.NoError(t, c.PutObject(ctx, "data", "keep.txt", []byte("x"), strata.PutRequest{}), "PutObject error")
	err = c.DeleteContainer(ctx, "data")
	require.Error(t, err, "deleting a non-empty container must fail")
	require.Contains(t, err.Error(), "not empty", "error should say the container is not empty")

	require.NoError(t, c.DeleteObject(ctx, "data", "keep.txt"), "DeleteObject error")
	require.NoError(t, c.DeleteContainer(ctx, "data"), "DeleteContainer error")

	exists, err := c.ContainerExists(ctx, "data")
	require.NoError(t, err, "ContainerExists error")
	require.False(t, exists, "container should be gone")
}

func TestObjectNotFound(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := newTestClient(t)
	require.NoError(t, c.CreateContainer(ctx, "data", strata.ContainerOptions{}), "CreateContainer error")

	_, err := c.GetObject(ctx, "data", "missing.txt")
	require.ErrorIs(t, err, strata.ErrNotFound, "get missing object")

	_, err = c.StatObject(ctx, "data", "missing.txt")
	require.ErrorIs(t, err, strata.ErrNotFound, "stat missing object")

	err = c.DeleteObject(ctx, "data", "missing.txt")
	require.ErrorIs(t, err, strata.ErrNotFound, "delete missing object")

	_, err = c.StatObject(ctx, "ghost", "missing.txt")
	require.ErrorIs(t, err, strata.ErrNotFound, "stat in a missing container")
}

func TestReopenPersists(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()

	c, err := Open(ctx, dir)
	require.NoError(t, err, "first Open error")
	require.NoError(t, c.CreateContainer(ctx, "data", strata.ContainerOptions{}), "CreateContainer error")
	require.NoError(t, c.PutObject(ctx, "data", "durable.txt", []byte("still here"), strata.PutRequest{}), "PutObject error")
	require.NoError(t, c.Close(), "Close error")

	c, err = Open(ctx, dir)
	require.NoError(t, err, "second Open error")
	t.Cleanup(func() { _ = c.Close() })

	store, err := strata.NewStorage(c)
	require.NoError(t, err, "NewStorage error")

	got, err := store.GetString(ctx, "data", "durable.txt")
	require.NoError(t, err, "GetString error")
	require.Equal(t, "still here", got, "payload should survive a reopen")
}

func TestOpenDriver(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	_, err := strata.Open(ctx, "local", nil)
	require.ErrorIs(t, err, strata.ErrInvalidArgument, "missing dir setting")

	store, err := strata.Open(ctx, "local", map[string]string{"dir": t.TempDir()})
	require.NoError(t, err, "Open error")
	t.Cleanup(func() { _ = store.Close() })

	require.Equal(t, "local", store.Provider(), "provider name")
	require.NoError(t, store.EnsureContainer(ctx, "data", strata.ContainerOptions{}), "EnsureContainer error")
	require.NoError(t, store.PutObject(ctx, "data", "hello.txt", strata.String("hi"), strata.PutOptions{}), "PutObject error")

	got, err := store.GetString(ctx, "data", "hello.txt")
	require.NoError(t, err, "GetString error")
	require.Equal(t, "hi", got, "payload mismatch")
}
