package strata

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

func objKey(container, path string) string {
	return container + "/" + path
}

// fakeClient is an in-memory backend with failure injection, standing in
// for a provider in engine tests. Chunk targets are strictly single-use:
// reusing one fails the upload, so the engine's fresh-target-per-attempt
// behavior is enforced rather than just observed.
type fakeClient struct {
	mu sync.Mutex

	limits Constraints

	containers map[string]ContainerOptions
	objects    map[string][]byte
	objMeta    map[string]NormalizedMetadata

	sessions map[string]*fakeSession
	nextID   int

	// Failure injection. Counts decrement as they fire.
	failPuts    int         // PutObject transport failures
	failCreates int         // CreateUpload transport failures
	failCommits int         // CommitUpload transport failures
	failChunk   map[int]int // chunk index -> UploadChunk transport failures
	rejectCalls int         // data plane calls rejected with ErrUnauthorized
	raceCreate  bool        // ContainerExists lies, CreateContainer says exists

	putCalls         int
	statCalls        int
	containerCreates int
	createCalls      int
	commitCalls      int
	abortCalls       int
	copyCalls        int
	targetCount      int
	chunkAttempts    []int
}

type fakeSession struct {
	handle  UploadHandle
	meta    NormalizedMetadata
	chunks  map[int][]byte
	idOf    map[int]string
	targets map[string]bool // token -> spent
}

type fakeCounts struct {
	puts             int
	stats            int
	containerCreates int
	creates          int
	commits          int
	aborts           int
	copies           int
	targets          int
	attempts         []int
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		limits: Constraints{
			MinChunkSize:   1,
			MaxSingleShot:  64,
			MetadataPrefix: "x-fake-meta-",
		},
		containers: map[string]ContainerOptions{},
		objects:    map[string][]byte{},
		objMeta:    map[string]NormalizedMetadata{},
		sessions:   map[string]*fakeSession{},
		failChunk:  map[int]int{},
	}
}

func (f *fakeClient) snapshot() fakeCounts {
	f.mu.Lock()
	defer f.mu.Unlock()

	return fakeCounts{
		puts:             f.putCalls,
		stats:            f.statCalls,
		containerCreates: f.containerCreates,
		creates:          f.createCalls,
		commits:          f.commitCalls,
		aborts:           f.abortCalls,
		copies:           f.copyCalls,
		targets:          f.targetCount,
		attempts:         append([]int(nil), f.chunkAttempts...),
	}
}

func (f *fakeClient) storedObject(container, path string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, ok := f.objects[objKey(container, path)]
	return append([]byte(nil), data...), ok
}

func (f *fakeClient) storedMeta(container, path string) (NormalizedMetadata, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	meta, ok := f.objMeta[objKey(container, path)]
	return meta, ok
}

func (f *fakeClient) openSessions() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.sessions)
}

// seed stores an object directly, bypassing the Store under test.
func (f *fakeClient) seed(container, path string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.objects[objKey(container, path)] = append([]byte(nil), data...)
}

// rejectLocked consumes one injected authorization rejection.
func (f *fakeClient) rejectLocked() bool {
	if f.rejectCalls > 0 {
		f.rejectCalls--
		return true
	}

	return false
}

func (f *fakeClient) Provider() string { return "fake" }

func (f *fakeClient) Constraints() Constraints { return f.limits }

func (f *fakeClient) CreateContainer(ctx context.Context, name string, opts ContainerOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.containerCreates++

	if f.raceCreate {
		return ErrAlreadyExists
	}

	if _, ok := f.containers[name]; ok {
		return ErrAlreadyExists
	}

	f.containers[name] = opts
	return nil
}

func (f *fakeClient) DeleteContainer(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.containers[name]; !ok {
		return ErrNotFound
	}

	delete(f.containers, name)
	return nil
}

func (f *fakeClient) ContainerExists(ctx context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.raceCreate {
		return false, nil
	}

	_, ok := f.containers[name]
	return ok, nil
}

func (f *fakeClient) ListContainers(ctx context.Context) ([]ContainerInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var infos []ContainerInfo
	for name := range f.containers {
		infos = append(infos, ContainerInfo{Name: name})
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

func (f *fakeClient) PutObject(ctx context.Context, container, path string, data []byte, req PutRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.putCalls++

	if f.rejectLocked() {
		return ErrUnauthorized
	}

	if f.failPuts > 0 {
		f.failPuts--
		return &TransportError{Err: fmt.Errorf("injected put failure")}
	}

	f.objects[objKey(container, path)] = append([]byte(nil), data...)
	f.objMeta[objKey(container, path)] = req.Meta
	return nil
}

func (f *fakeClient) GetObject(ctx context.Context, container, path string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, ok := f.objects[objKey(container, path)]
	if !ok {
		return nil, ErrNotFound
	}

	return io.NopCloser(bytes.NewReader(append([]byte(nil), data...))), nil
}

func (f *fakeClient) StatObject(ctx context.Context, container, path string) (ObjectEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.statCalls++

	if f.rejectLocked() {
		return ObjectEntry{}, ErrUnauthorized
	}

	data, ok := f.objects[objKey(container, path)]
	if !ok {
		return ObjectEntry{}, ErrNotFound
	}

	meta := f.objMeta[objKey(container, path)]
	custom := map[string]string{}
	for key, value := range meta.Custom {
		custom[key] = value
	}

	return ObjectEntry{
		Path:        path,
		Size:        int64(len(data)),
		ContentType: meta.ContentType(),
		Metadata:    custom,
	}, nil
}

func (f *fakeClient) DeleteObject(ctx context.Context, container, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.objects[objKey(container, path)]; !ok {
		return ErrNotFound
	}

	delete(f.objects, objKey(container, path))
	delete(f.objMeta, objKey(container, path))
	return nil
}

func (f *fakeClient) ListPage(ctx context.Context, container, prefix, cursor string) (Page, error) {
	return Page{}, nil
}

func (f *fakeClient) CopyObject(ctx context.Context, srcContainer, srcPath, dstContainer, dstPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.copyCalls++

	data, ok := f.objects[objKey(srcContainer, srcPath)]
	if !ok {
		return ErrNotFound
	}

	f.objects[objKey(dstContainer, dstPath)] = append([]byte(nil), data...)
	f.objMeta[objKey(dstContainer, dstPath)] = f.objMeta[objKey(srcContainer, srcPath)]
	return nil
}

func (f *fakeClient) CreateUpload(ctx context.Context, container, path string, req PutRequest) (UploadHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.createCalls++

	if f.rejectLocked() {
		return UploadHandle{}, ErrUnauthorized
	}

	if f.failCreates > 0 {
		f.failCreates--
		return UploadHandle{}, &TransportError{Err: fmt.Errorf("injected create failure")}
	}

	f.nextID++
	handle := UploadHandle{
		ID:        fmt.Sprintf("upload-%d", f.nextID),
		Container: container,
		Path:      path,
	}

	f.sessions[handle.ID] = &fakeSession{
		handle:  handle,
		meta:    req.Meta,
		chunks:  map[int][]byte{},
		idOf:    map[int]string{},
		targets: map[string]bool{},
	}

	return handle, nil
}

func (f *fakeClient) ChunkTarget(ctx context.Context, u UploadHandle) (ChunkTarget, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	sess, ok := f.sessions[u.ID]
	if !ok {
		return ChunkTarget{}, fmt.Errorf("unknown upload %q", u.ID)
	}

	f.targetCount++
	token := fmt.Sprintf("target-%d", f.targetCount)
	sess.targets[token] = false

	return ChunkTarget{Upload: u, Token: token}, nil
}

func (f *fakeClient) UploadChunk(ctx context.Context, t ChunkTarget, index int, data []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.chunkAttempts = append(f.chunkAttempts, index)

	if f.rejectLocked() {
		return "", ErrUnauthorized
	}

	sess, ok := f.sessions[t.Upload.ID]
	if !ok {
		return "", fmt.Errorf("unknown upload %q", t.Upload.ID)
	}

	spent, issued := sess.targets[t.Token]
	if !issued {
		return "", fmt.Errorf("unknown chunk target %q", t.Token)
	}
	if spent {
		return "", fmt.Errorf("chunk target %q reused", t.Token)
	}
	sess.targets[t.Token] = true

	if f.failChunk[index] > 0 {
		f.failChunk[index]--
		return "", &TransportError{Err: fmt.Errorf("injected failure for chunk %d", index)}
	}

	sess.chunks[index] = append([]byte(nil), data...)
	id := fmt.Sprintf("chunk-%d-%d", index, len(data))
	sess.idOf[index] = id

	return id, nil
}

func (f *fakeClient) CommitUpload(ctx context.Context, u UploadHandle, chunkIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.commitCalls++

	if f.rejectLocked() {
		return ErrUnauthorized
	}

	if f.failCommits > 0 {
		f.failCommits--
		return &TransportError{Err: fmt.Errorf("injected commit failure")}
	}

	sess, ok := f.sessions[u.ID]
	if !ok {
		return fmt.Errorf("unknown upload %q", u.ID)
	}

	if len(chunkIDs) != len(sess.chunks) {
		return fmt.Errorf("commit with %d chunk IDs, %d chunks staged", len(chunkIDs), len(sess.chunks))
	}

	var buf bytes.Buffer
	for i, id := range chunkIDs {
		if sess.idOf[i] != id {
			return fmt.Errorf("chunk %d committed with ID %q, staged as %q", i, id, sess.idOf[i])
		}
		buf.Write(sess.chunks[i])
	}

	f.objects[objKey(u.Container, u.Path)] = buf.Bytes()
	f.objMeta[objKey(u.Container, u.Path)] = sess.meta
	delete(f.sessions, u.ID)

	return nil
}

func (f *fakeClient) AbortUpload(ctx context.Context, u UploadHandle) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.abortCalls++
	delete(f.sessions, u.ID)
	return nil
}

// plainClient forwards only the base Client methods of a fakeClient, so
// the wrapped backend presents no optional capabilities at all.
type plainClient struct {
	f *fakeClient
}

func (p *plainClient) Provider() string { return p.f.Provider() }

func (p *plainClient) Constraints() Constraints { return p.f.Constraints() }

func (p *plainClient) CreateContainer(ctx context.Context, name string, opts ContainerOptions) error {
	return p.f.CreateContainer(ctx, name, opts)
}

func (p *plainClient) DeleteContainer(ctx context.Context, name string) error {
	return p.f.DeleteContainer(ctx, name)
}

func (p *plainClient) ContainerExists(ctx context.Context, name string) (bool, error) {
	return p.f.ContainerExists(ctx, name)
}

func (p *plainClient) ListContainers(ctx context.Context) ([]ContainerInfo, error) {
	return p.f.ListContainers(ctx)
}

func (p *plainClient) PutObject(ctx context.Context, container, path string, data []byte, req PutRequest) error {
	return p.f.PutObject(ctx, container, path, data, req)
}

func (p *plainClient) GetObject(ctx context.Context, container, path string) (io.ReadCloser, error) {
	return p.f.GetObject(ctx, container, path)
}

func (p *plainClient) StatObject(ctx context.Context, container, path string) (ObjectEntry, error) {
	return p.f.StatObject(ctx, container, path)
}

func (p *plainClient) DeleteObject(ctx context.Context, container, path string) error {
	return p.f.DeleteObject(ctx, container, path)
}

func (p *plainClient) ListPage(ctx context.Context, container, prefix, cursor string) (Page, error) {
	return p.f.ListPage(ctx, container, prefix, cursor)
}

// pageClient scripts the merged listing chain. Cursors are the decimal
// index of the next page.
type pageClient struct {
	*fakeClient

	pages     []Page
	failIndex int
	cursors   []string
}

func newPageClient(pages []Page) *pageClient {
	return &pageClient{fakeClient: newFakeClient(), pages: pages, failIndex: -1}
}

func (p *pageClient) ListPage(ctx context.Context, container, prefix, cursor string) (Page, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.cursors = append(p.cursors, cursor)

	index := 0
	if cursor != "" {
		index, _ = strconv.Atoi(cursor)
	}

	if index == p.failIndex {
		return Page{}, &TransportError{Err: fmt.Errorf("injected list failure at page %d", index)}
	}

	if index >= len(p.pages) {
		return Page{}, fmt.Errorf("cursor %q beyond the last page", cursor)
	}

	return p.pages[index], nil
}

// splitClient scripts two independent listing chains, objects and
// prefixes, the way split-API providers report them.
type splitClient struct {
	*fakeClient

	objectPages []Page
	prefixPages []Page
	failObject  int
	failPrefix  int
}

func newSplitClient(objectPages, prefixPages []Page) *splitClient {
	return &splitClient{
		fakeClient:  newFakeClient(),
		objectPages: objectPages,
		prefixPages: prefixPages,
		failObject:  -1,
		failPrefix:  -1,
	}
}

func (s *splitClient) ListPage(ctx context.Context, container, prefix, cursor string) (Page, error) {
	return Page{}, fmt.Errorf("%w: split listing only", ErrUnsupported)
}

func (s *splitClient) ListObjectPage(ctx context.Context, container, prefix, cursor string) (Page, error) {
	return scriptedPage(ctx, s.objectPages, cursor, s.failObject)
}

func (s *splitClient) ListPrefixPage(ctx context.Context, container, prefix, cursor string) (Page, error) {
	return scriptedPage(ctx, s.prefixPages, cursor, s.failPrefix)
}

func scriptedPage(ctx context.Context, pages []Page, cursor string, failIndex int) (Page, error) {
	if err := ctx.Err(); err != nil {
		return Page{}, err
	}

	index := 0
	if cursor != "" {
		index, _ = strconv.Atoi(cursor)
	}

	if index == failIndex {
		return Page{}, &TransportError{Err: fmt.Errorf("injected list failure at page %d", index)}
	}

	if index >= len(pages) {
		return Page{}, fmt.Errorf("cursor %q beyond the last page", cursor)
	}

	return pages[index], nil
}

// authClient adds an explicit session handshake on top of a fakeClient.
type authClient struct {
	*fakeClient

	handshakes   atomic.Int32
	failuresLeft atomic.Int32
	delay        time.Duration
}

func newAuthClient(f *fakeClient) *authClient {
	return &authClient{fakeClient: f}
}

func (a *authClient) Authorize(ctx context.Context) error {
	a.handshakes.Add(1)

	if a.delay > 0 {
		time.Sleep(a.delay)
	}

	if a.failuresLeft.Add(-1) >= 0 {
		return fmt.Errorf("%w: injected handshake failure", ErrUnauthorized)
	}

	return nil
}

// presignClient adds presigned URL support on top of a fakeClient.
type presignClient struct {
	*fakeClient
}

func (p *presignClient) PresignGet(ctx context.Context, container, path string, expiry time.Duration) (string, error) {
	return fmt.Sprintf("https://signed.invalid/%s/%s?verb=get&ttl=%s", container, path, expiry), nil
}

func (p *presignClient) PresignPut(ctx context.Context, container, path string, expiry time.Duration) (string, error) {
	return fmt.Sprintf("https://signed.invalid/%s/%s?verb=put&ttl=%s", container, path, expiry), nil
}
