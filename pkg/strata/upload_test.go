package strata

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// newTestStore wraps client in a Store with a tiny chunk size and fast
// retries so chunked uploads are cheap to exercise.
func newTestStore(t *testing.T, client Client) *Store {
	t.Helper()

	s, err := NewStorage(client, WithChunkSize(8), WithRetryBaseDelay(time.Millisecond))
	require.NoError(t, err, "NewStorage error")

	return s
}

// patternBytes returns n deterministic bytes.
func patternBytes(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

func TestPutObjectBufferSingleShot(t *testing.T) {
	t.Parallel()

	f := newFakeClient()
	s := newTestStore(t, f)

	data := []byte("hello world")
	err := s.PutObject(context.Background(), "tank", "greet/hello.txt", Bytes(data), PutOptions{
		Metadata: Metadata{
			"content-TYPE": "text/plain",
			"color":        "blue",
		},
	})
	require.NoError(t, err, "PutObject error")

	stored, ok := f.storedObject("tank", "greet/hello.txt")
	require.True(t, ok, "object not stored")
	require.Equal(t, data, stored, "stored payload")

	counts := f.snapshot()
	require.Equal(t, 1, counts.puts, "single-shot should be one provider call")
	require.Zero(t, counts.creates, "no chunked session expected")

	meta, ok := f.storedMeta("tank", "greet/hello.txt")
	require.True(t, ok, "metadata not stored")
	require.Equal(t, "text/plain", meta.ContentType(), "canonical content type")
	require.Equal(t, "blue", meta.Custom["x-fake-meta-color"], "prefixed custom key")
}

func TestPutObjectEmptyString(t *testing.T) {
	t.Parallel()

	f := newFakeClient()
	s := newTestStore(t, f)

	err := s.PutObject(context.Background(), "tank", "empty.txt", String(""), PutOptions{})
	require.NoError(t, err, "PutObject error")

	stored, ok := f.storedObject("tank", "empty.txt")
	require.True(t, ok, "zero-byte object not stored")
	require.Empty(t, stored, "payload should be empty")

	counts := f.snapshot()
	require.Equal(t, 1, counts.puts, "zero-byte upload should be single-shot")
	require.Zero(t, counts.creates, "no chunked session expected")
}

func TestPutObjectBufferChunked(t *testing.T) {
	t.Parallel()

	f := newFakeClient()
	s := newTestStore(t, f)

	// Above the fake's 64 byte single-shot limit: 13 chunks of 8, the
	// last one short.
	data := patternBytes(100)
	err := s.PutObject(context.Background(), "tank", "big.bin", Bytes(data), PutOptions{})
	require.NoError(t, err, "PutObject error")

	stored, ok := f.storedObject("tank", "big.bin")
	require.True(t, ok, "object not stored")
	require.Equal(t, data, stored, "assembled payload")

	counts := f.snapshot()
	require.Zero(t, counts.puts, "chunked upload should not call PutObject")
	require.Equal(t, 1, counts.creates, "session count")
	require.Equal(t, 1, counts.commits, "commit count")
	require.Zero(t, counts.aborts, "no abort expected")

	want := make([]int, 13)
	for i := range want {
		want[i] = i
	}
	require.Equal(t, want, counts.attempts, "chunks must go up in order")
	require.Equal(t, 13, counts.targets, "one fresh target per chunk")
	require.Zero(t, f.openSessions(), "no session should remain")
}

func TestPutObjectStreamShort(t *testing.T) {
	t.Parallel()

	f := newFakeClient()
	s := newTestStore(t, f)

	err := s.PutObject(context.Background(), "tank", "short.txt", Reader(strings.NewReader("abc")), PutOptions{})
	require.NoError(t, err, "PutObject error")

	stored, ok := f.storedObject("tank", "short.txt")
	require.True(t, ok, "object not stored")
	require.Equal(t, []byte("abc"), stored, "payload")

	counts := f.snapshot()
	require.Equal(t, 1, counts.puts, "short stream should be single-shot")
	require.Zero(t, counts.creates, "no chunked session expected")
}

func TestPutObjectStreamExactlyOneChunk(t *testing.T) {
	t.Parallel()

	f := newFakeClient()
	s := newTestStore(t, f)

	// Exactly one chunk of undeclared length. The engine reads ahead,
	// sees the stream end, and must not open a chunked session.
	err := s.PutObject(context.Background(), "tank", "one.bin", Reader(strings.NewReader("12345678")), PutOptions{})
	require.NoError(t, err, "PutObject error")

	stored, ok := f.storedObject("tank", "one.bin")
	require.True(t, ok, "object not stored")
	require.Equal(t, []byte("12345678"), stored, "payload")

	counts := f.snapshot()
	require.Equal(t, 1, counts.puts, "one-chunk stream should degrade to single-shot")
	require.Zero(t, counts.creates, "no session may be created")
	require.Zero(t, counts.commits, "nothing to commit")
}

func TestPutObjectStreamMultipleChunks(t *testing.T) {
	t.Parallel()

	f := newFakeClient()
	s := newTestStore(t, f)

	data := patternBytes(20)
	err := s.PutObject(context.Background(), "tank", "multi.bin", ReaderN(bytes.NewReader(data), 20), PutOptions{})
	require.NoError(t, err, "PutObject error")

	stored, ok := f.storedObject("tank", "multi.bin")
	require.True(t, ok, "object not stored")
	require.Equal(t, data, stored, "assembled payload")

	counts := f.snapshot()
	require.Equal(t, []int{0, 1, 2}, counts.attempts, "chunk order")
	require.Equal(t, 1, counts.commits, "commit count")
}

func TestPutObjectStreamDeclaredSmall(t *testing.T) {
	t.Parallel()

	f := newFakeClient()
	s := newTestStore(t, f)

	data := []byte("tiny")
	err := s.PutObject(context.Background(), "tank", "tiny.bin", ReaderN(bytes.NewReader(data), int64(len(data))), PutOptions{})
	require.NoError(t, err, "PutObject error")

	counts := f.snapshot()
	require.Equal(t, 1, counts.puts, "declared short stream should be single-shot")
	require.Zero(t, counts.creates, "no chunked session expected")
}

func TestPutObjectChunkRetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	f := newFakeClient()
	f.failChunk[1] = 2
	s := newTestStore(t, f)

	data := patternBytes(20)
	err := s.PutObject(context.Background(), "tank", "retry.bin", ReaderN(bytes.NewReader(data), 20), PutOptions{})
	require.NoError(t, err, "PutObject should succeed after retries")

	stored, ok := f.storedObject("tank", "retry.bin")
	require.True(t, ok, "object not stored")
	require.Equal(t, data, stored, "assembled payload")

	counts := f.snapshot()
	require.Equal(t, []int{0, 1, 1, 1, 2}, counts.attempts, "chunk 1 should take three attempts")
	require.Equal(t, 5, counts.targets, "every attempt needs a fresh target")
	require.Equal(t, 1, counts.commits, "commit count")
	require.Zero(t, counts.aborts, "no abort expected")
}

func TestPutObjectChunkRetriesExhausted(t *testing.T) {
	t.Parallel()

	f := newFakeClient()
	f.failChunk[0] = 4 // original attempt plus three retries, all failing
	s := newTestStore(t, f)

	// A previous version of the object must survive the failed upload.
	err := s.PutObject(context.Background(), "tank", "doomed.bin", String("previous"), PutOptions{})
	require.NoError(t, err, "seeding the previous version")

	data := patternBytes(20)
	err = s.PutObject(context.Background(), "tank", "doomed.bin", ReaderN(bytes.NewReader(data), 20), PutOptions{})
	require.Error(t, err, "PutObject should fail once retries run out")
	require.True(t, IsTransport(err), "expected a transport error, got %v", err)

	counts := f.snapshot()
	require.Equal(t, []int{0, 0, 0, 0}, counts.attempts, "attempt count")
	require.Equal(t, 1, counts.aborts, "failed session must be aborted")
	require.Zero(t, counts.commits, "nothing to commit")
	require.Zero(t, f.openSessions(), "no session should remain")

	stored, ok := f.storedObject("tank", "doomed.bin")
	require.True(t, ok, "previous version should still exist")
	require.Equal(t, []byte("previous"), stored, "failed upload must not replace the object")
}

func TestPutObjectSingleShotRetryBackoff(t *testing.T) {
	t.Parallel()

	f := newFakeClient()
	f.failPuts = 3
	s, err := NewStorage(f, WithChunkSize(8), WithRetryBaseDelay(3*time.Millisecond))
	require.NoError(t, err, "NewStorage error")

	start := time.Now()
	err = s.PutObject(context.Background(), "tank", "slow.txt", String("payload"), PutOptions{})
	elapsed := time.Since(start)

	require.NoError(t, err, "PutObject should succeed on the final attempt")

	counts := f.snapshot()
	require.Equal(t, 4, counts.puts, "three retries after the original attempt")

	// Linear backoff: 1x + 2x + 3x the base delay.
	require.GreaterOrEqual(t, elapsed, 18*time.Millisecond, "backoff delays should accumulate linearly")
}

func TestPutObjectCommitRetried(t *testing.T) {
	t.Parallel()

	f := newFakeClient()
	f.failCommits = 1
	s := newTestStore(t, f)

	data := patternBytes(20)
	err := s.PutObject(context.Background(), "tank", "commit.bin", ReaderN(bytes.NewReader(data), 20), PutOptions{})
	require.NoError(t, err, "PutObject error")

	counts := f.snapshot()
	require.Equal(t, 2, counts.commits, "commit should be retried once")

	stored, ok := f.storedObject("tank", "commit.bin")
	require.True(t, ok, "object not stored")
	require.Equal(t, data, stored, "assembled payload")
}

func TestPutObjectCreateRetried(t *testing.T) {
	t.Parallel()

	f := newFakeClient()
	f.failCreates = 1
	s := newTestStore(t, f)

	data := patternBytes(20)
	err := s.PutObject(context.Background(), "tank", "create.bin", ReaderN(bytes.NewReader(data), 20), PutOptions{})
	require.NoError(t, err, "PutObject error")

	counts := f.snapshot()
	require.Equal(t, 2, counts.creates, "session creation should be retried once")
	require.Equal(t, 1, counts.commits, "commit count")
}

var errBoom = errors.New("boom")

type errReader struct {
	err error
}

func (r *errReader) Read([]byte) (int, error) {
	return 0, r.err
}

func TestPutObjectSourceErrorAborts(t *testing.T) {
	t.Parallel()

	f := newFakeClient()
	s := newTestStore(t, f)

	// Two full chunks, then the source blows up.
	src := io.MultiReader(bytes.NewReader(patternBytes(16)), &errReader{err: errBoom})
	err := s.PutObject(context.Background(), "tank", "burst.bin", Reader(src), PutOptions{})
	require.Error(t, err, "PutObject should fail")
	require.ErrorIs(t, err, errBoom, "source error should surface")

	counts := f.snapshot()
	require.Equal(t, 1, counts.aborts, "session must be aborted on source failure")
	require.Zero(t, counts.commits, "nothing to commit")

	_, ok := f.storedObject("tank", "burst.bin")
	require.False(t, ok, "no object may be visible")
}

func TestPutObjectChunkedUnsupported(t *testing.T) {
	t.Parallel()

	f := newFakeClient()
	p := &plainClient{f: f}
	s := newTestStore(t, p)

	// Small payloads still work without chunk support.
	err := s.PutObject(context.Background(), "tank", "ok.txt", String("fits"), PutOptions{})
	require.NoError(t, err, "single-shot on a plain client")

	// A payload over the single-shot limit has nowhere to go.
	err = s.PutObject(context.Background(), "tank", "big.bin", Bytes(patternBytes(100)), PutOptions{})
	require.ErrorIs(t, err, ErrUnsupported, "chunked upload should be unsupported")

	counts := f.snapshot()
	require.Equal(t, 1, counts.puts, "the oversized payload must not reach the provider")
	require.Zero(t, counts.creates, "no session may be created")
}

func TestPutObjectValidation(t *testing.T) {
	t.Parallel()

	tooMany := Metadata{}
	for _, key := range []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k"} {
		tooMany[key] = "v"
	}

	tests := []struct {
		name      string
		container string
		path      string
		src       Source
		meta      Metadata
	}{
		{name: "empty container", container: "", path: "a.txt", src: String("x")},
		{name: "empty path", container: "tank", path: "", src: String("x")},
		{name: "nil source", container: "tank", path: "a.txt", src: nil},
		{name: "too much custom metadata", container: "tank", path: "a.txt", src: String("x"), meta: tooMany},
		{name: "metadata key with spaces", container: "tank", path: "a.txt", src: String("x"), meta: Metadata{"bad key": "v"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFakeClient()
			s := newTestStore(t, f)

			err := s.PutObject(context.Background(), tc.container, tc.path, tc.src, PutOptions{Metadata: tc.meta})
			require.ErrorIs(t, err, ErrInvalidArgument, "expected a validation error")

			counts := f.snapshot()
			require.Zero(t, counts.puts, "validation must fail before any provider call")
			require.Zero(t, counts.creates, "validation must fail before any provider call")
		})
	}
}

func TestPutObjectRetryHonorsContext(t *testing.T) {
	t.Parallel()

	f := newFakeClient()
	f.failPuts = 10
	s, err := NewStorage(f, WithChunkSize(8), WithRetryBaseDelay(200*time.Millisecond))
	require.NoError(t, err, "NewStorage error")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err = s.PutObject(ctx, "tank", "slow.txt", String("payload"), PutOptions{})
	elapsed := time.Since(start)

	require.ErrorIs(t, err, context.DeadlineExceeded, "cancellation should surface")
	require.Less(t, elapsed, 150*time.Millisecond, "retry loop should stop during the first backoff")
}
