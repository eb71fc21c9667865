package memory

import (
	"bytes"
	"context"
	"crypto/md5"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"strata/pkg/strata"
)

// pageSize is the number of entries per listing page.
const pageSize = 1000

func init() {
	strata.Register("memory", func(ctx context.Context, settings map[string]string) (strata.Client, error) {
		return New(), nil
	})
}

// Client is an ephemeral in-memory backend. It models a provider of the
// split-listing, session-token family: listings report objects and
// prefixes through two independent chains, every call needs a session
// from an explicit handshake, and chunk targets are single-use. That
// makes it both a zero-setup backend and the reference test double for
// the engine's auth and chunking behavior.
type Client struct {
	mu         sync.Mutex
	session    string
	containers map[string]*container
	uploads    map[string]*upload
}

type container struct {
	opts    strata.ContainerOptions
	created time.Time
	objects map[string]*object
}

type object struct {
	data     []byte
	meta     strata.NormalizedMetadata
	created  time.Time
	modified time.Time
	md5      string
	sha1     string
}

type upload struct {
	handle  strata.UploadHandle
	req     strata.PutRequest
	chunks  map[int][]byte
	ids     map[int]string
	targets map[string]bool
}

// New returns a fresh, empty backend. A new client has no session yet;
// Storage runs the handshake automatically on first use.
func New() *Client {
	return &Client{
		containers: map[string]*container{},
		uploads:    map[string]*upload{},
	}
}

func (c *Client) Provider() string { return "memory" }

func (c *Client) Constraints() strata.Constraints {
	return strata.Constraints{
		MinChunkSize:   1,
		MetadataPrefix: "x-obj-meta-",
	}
}

// Authorize mints a new session token.
func (c *Client) Authorize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.session = uuid.NewString()
	return nil
}

// Revoke drops the current session, so the next call fails until a new
// handshake runs. It mirrors a provider expiring a token.
func (c *Client) Revoke() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.session = ""
}

func (c *Client) sessionLocked() error {
	if c.session == "" {
		return strata.ErrUnauthorized
	}

	return nil
}

func (c *Client) containerLocked(name string) (*container, error) {
	cont, ok := c.containers[name]
	if !ok {
		return nil, fmt.Errorf("container %q: %w", name, strata.ErrNotFound)
	}

	return cont, nil
}

func (c *Client) CreateContainer(ctx context.Context, name string, opts strata.ContainerOptions) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.sessionLocked(); err != nil {
		return err
	}

	if _, ok := c.containers[name]; ok {
		return fmt.Errorf("container %q: %w", name, strata.ErrAlreadyExists)
	}

	c.containers[name] = &container{
		opts:    opts,
		created: time.Now().UTC(),
		objects: map[string]*object{},
	}

	return nil
}

func (c *Client) DeleteContainer(ctx context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.sessionLocked(); err != nil {
		return err
	}

	cont, err := c.containerLocked(name)
	if err != nil {
		return err
	}

	if len(cont.objects) > 0 {
		return fmt.Errorf("container %q is not empty", name)
	}

	delete(c.containers, name)
	return nil
}

func (c *Client) ContainerExists(ctx context.Context, name string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.sessionLocked(); err != nil {
		return false, err
	}

	_, ok := c.containers[name]
	return ok, nil
}

func (c *Client) ListContainers(ctx context.Context) ([]strata.ContainerInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.sessionLocked(); err != nil {
		return nil, err
	}

	infos := make([]strata.ContainerInfo, 0, len(c.containers))
	for name, cont := range c.containers {
		infos = append(infos, strata.ContainerInfo{Name: name, Created: cont.created})
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

func digests(data []byte) (string, string) {
	m := md5.Sum(data)
	s := sha1.Sum(data)
	return hex.EncodeToString(m[:]), hex.EncodeToString(s[:])
}

// creationTimeLocked picks the creation timestamp for a write to path.
// Overwrites keep the original; fresh paths get now.
func creationTimeLocked(cont *container, path string, now time.Time) time.Time {
	if prev, ok := cont.objects[path]; ok {
		return prev.created
	}
	return now
}

func (c *Client) PutObject(ctx context.Context, containerName, path string, data []byte, req strata.PutRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.sessionLocked(); err != nil {
		return err
	}

	cont, err := c.containerLocked(containerName)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	md5sum, sha1sum := digests(data)
	cont.objects[path] = &object{
		data:     append([]byte(nil), data...),
		meta:     req.Meta,
		created:  creationTimeLocked(cont, path, now),
		modified: now,
		md5:      md5sum,
		sha1:     sha1sum,
	}

	return nil
}

func (c *Client) GetObject(ctx context.Context, containerName, path string) (io.ReadCloser, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.sessionLocked(); err != nil {
		return nil, err
	}

	cont, err := c.containerLocked(containerName)
	if err != nil {
		return nil, err
	}

	obj, ok := cont.objects[path]
	if !ok {
		return nil, fmt.Errorf("object %q: %w", path, strata.ErrNotFound)
	}

	return io.NopCloser(bytes.NewReader(append([]byte(nil), obj.data...))), nil
}

func (c *Client) StatObject(ctx context.Context, containerName, path string) (strata.ObjectEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.sessionLocked(); err != nil {
		return strata.ObjectEntry{}, err
	}

	cont, err := c.containerLocked(containerName)
	if err != nil {
		return strata.ObjectEntry{}, err
	}

	obj, ok := cont.objects[path]
	if !ok {
		return strata.ObjectEntry{}, fmt.Errorf("object %q: %w", path, strata.ErrNotFound)
	}

	return c.entryLocked(path, obj), nil
}

func (c *Client) entryLocked(path string, obj *object) strata.ObjectEntry {
	custom := make(map[string]string, len(obj.meta.Custom))
	for key, value := range obj.meta.Custom {
		custom[key] = value
	}

	return strata.ObjectEntry{
		Path:         path,
		Size:         int64(len(obj.data)),
		LastModified: obj.modified,
		CreationTime: obj.created,
		ContentType:  obj.meta.ContentType(),
		ContentMD5:   obj.md5,
		ContentSHA1:  obj.sha1,
		Metadata:     custom,
	}
}

func (c *Client) DeleteObject(ctx context.Context, containerName, path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.sessionLocked(); err != nil {
		return err
	}

	cont, err := c.containerLocked(containerName)
	if err != nil {
		return err
	}

	if _, ok := cont.objects[path]; !ok {
		return fmt.Errorf("object %q: %w", path, strata.ErrNotFound)
	}

	delete(cont.objects, path)
	return nil
}

// ListPage is unsupported: this backend reports objects and prefixes
// through the two split chains below.
func (c *Client) ListPage(ctx context.Context, containerName, prefix, cursor string) (strata.Page, error) {
	return strata.Page{}, fmt.Errorf("%w: this backend lists through split chains", strata.ErrUnsupported)
}

// ListObjectPage returns one page of the immediate objects under prefix:
// keys that continue past the prefix without another delimiter. The
// cursor is the last key of the previous page.
func (c *Client) ListObjectPage(ctx context.Context, containerName, prefix, cursor string) (strata.Page, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.sessionLocked(); err != nil {
		return strata.Page{}, err
	}

	cont, err := c.containerLocked(containerName)
	if err != nil {
		return strata.Page{}, err
	}

	var page strata.Page
	for _, key := range sortedKeysLocked(cont) {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if cursor != "" && key <= cursor {
			continue
		}
		if strings.Contains(key[len(prefix):], strata.Delimiter) {
			continue
		}

		page.Entries = append(page.Entries, c.entryLocked(key, cont.objects[key]))
		if len(page.Entries) == pageSize {
			page.Cursor = key
			break
		}
	}

	return page, nil
}

// ListPrefixPage returns one page of the distinct immediate prefixes
// under prefix. The cursor is the last prefix of the previous page.
func (c *Client) ListPrefixPage(ctx context.Context, containerName, prefix, cursor string) (strata.Page, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.sessionLocked(); err != nil {
		return strata.Page{}, err
	}

	cont, err := c.containerLocked(containerName)
	if err != nil {
		return strata.Page{}, err
	}

	seen := map[string]bool{}
	for key := range cont.objects {
		if !strings.HasPrefix(key, prefix) {
			continue
		}

		rest := key[len(prefix):]
		i := strings.Index(rest, strata.Delimiter)
		if i < 0 {
			continue
		}

		seen[prefix+rest[:i+1]] = true
	}

	prefixes := make([]string, 0, len(seen))
	for p := range seen {
		prefixes = append(prefixes, p)
	}
	sort.Strings(prefixes)

	var page strata.Page
	for _, p := range prefixes {
		if cursor != "" && p <= cursor {
			continue
		}

		page.Entries = append(page.Entries, strata.PrefixEntry{Prefix: p})
		if len(page.Entries) == pageSize {
			page.Cursor = p
			break
		}
	}

	return page, nil
}

func sortedKeysLocked(cont *container) []string {
	keys := make([]string, 0, len(cont.objects))
	for key := range cont.objects {
		keys = append(keys, key)
	}

	sort.Strings(keys)
	return keys
}

// CopyObject duplicates an object without re-uploading it.
func (c *Client) CopyObject(ctx context.Context, srcContainer, srcPath, dstContainer, dstPath string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.sessionLocked(); err != nil {
		return err
	}

	src, err := c.containerLocked(srcContainer)
	if err != nil {
		return err
	}

	dst, err := c.containerLocked(dstContainer)
	if err != nil {
		return err
	}

	obj, ok := src.objects[srcPath]
	if !ok {
		return fmt.Errorf("object %q: %w", srcPath, strata.ErrNotFound)
	}

	now := time.Now().UTC()
	dup := *obj
	dup.data = append([]byte(nil), obj.data...)
	dup.created = creationTimeLocked(dst, dstPath, now)
	dup.modified = now
	dst.objects[dstPath] = &dup

	return nil
}

func (c *Client) CreateUpload(ctx context.Context, containerName, path string, req strata.PutRequest) (strata.UploadHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.sessionLocked(); err != nil {
		return strata.UploadHandle{}, err
	}

	if _, err := c.containerLocked(containerName); err != nil {
		return strata.UploadHandle{}, err
	}

	handle := strata.UploadHandle{
		ID:        uuid.NewString(),
		Container: containerName,
		Path:      path,
	}

	c.uploads[handle.ID] = &upload{
		handle:  handle,
		req:     req,
		chunks:  map[int][]byte{},
		ids:     map[int]string{},
		targets: map[string]bool{},
	}

	return handle, nil
}

// ChunkTarget issues a fresh single-use token for the next chunk attempt.
func (c *Client) ChunkTarget(ctx context.Context, u strata.UploadHandle) (strata.ChunkTarget, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.sessionLocked(); err != nil {
		return strata.ChunkTarget{}, err
	}

	up, ok := c.uploads[u.ID]
	if !ok {
		return strata.ChunkTarget{}, fmt.Errorf("upload %q: %w", u.ID, strata.ErrNotFound)
	}

	token := uuid.NewString()
	up.targets[token] = false

	return strata.ChunkTarget{Upload: u, Token: token}, nil
}

// UploadChunk stages one chunk. The target token is spent by the attempt:
// reusing it is an error, matching providers that invalidate an upload
// URL after each use.
func (c *Client) UploadChunk(ctx context.Context, t strata.ChunkTarget, index int, data []byte) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.sessionLocked(); err != nil {
		return "", err
	}

	up, ok := c.uploads[t.Upload.ID]
	if !ok {
		return "", fmt.Errorf("upload %q: %w", t.Upload.ID, strata.ErrNotFound)
	}

	spent, issued := up.targets[t.Token]
	if !issued {
		return "", fmt.Errorf("unknown chunk target for upload %q", t.Upload.ID)
	}
	if spent {
		return "", fmt.Errorf("chunk target already used for upload %q", t.Upload.ID)
	}
	up.targets[t.Token] = true

	sum := sha1.Sum(data)
	id := hex.EncodeToString(sum[:])

	up.chunks[index] = append([]byte(nil), data...)
	up.ids[index] = id

	return id, nil
}

// CommitUpload assembles staged chunks into the finished object. The
// chunk IDs must match the staged chunks in order.
func (c *Client) CommitUpload(ctx context.Context, u strata.UploadHandle, chunkIDs []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.sessionLocked(); err != nil {
		return err
	}

	up, ok := c.uploads[u.ID]
	if !ok {
		return fmt.Errorf("upload %q: %w", u.ID, strata.ErrNotFound)
	}

	if len(chunkIDs) != len(up.chunks) {
		return fmt.Errorf("upload %q: %d chunk IDs for %d staged chunks", u.ID, len(chunkIDs), len(up.chunks))
	}

	var buf bytes.Buffer
	for i, id := range chunkIDs {
		chunk, ok := up.chunks[i]
		if !ok {
			return fmt.Errorf("upload %q: chunk %d missing", u.ID, i)
		}
		if up.ids[i] != id {
			return fmt.Errorf("upload %q: chunk %d ID mismatch", u.ID, i)
		}

		buf.Write(chunk)
	}

	cont, err := c.containerLocked(u.Container)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	data := buf.Bytes()
	md5sum, sha1sum := digests(data)
	cont.objects[u.Path] = &object{
		data:     data,
		meta:     up.req.Meta,
		created:  creationTimeLocked(cont, u.Path, now),
		modified: now,
		md5:      md5sum,
		sha1:     sha1sum,
	}

	delete(c.uploads, u.ID)
	return nil
}

func (c *Client) AbortUpload(ctx context.Context, u strata.UploadHandle) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.sessionLocked(); err != nil {
		return err
	}

	delete(c.uploads, u.ID)
	return nil
}

// OpenUploads reports the number of uncommitted sessions. Useful for
// asserting no session leaks after failures.
func (c *Client) OpenUploads() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.uploads)
}
