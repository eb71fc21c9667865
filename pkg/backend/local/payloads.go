package local

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"
)

// payloadStore keeps object payloads on disk under a content-addressed
// layout: root/<container>/<hh>/<hash>, where hh is the first two hex
// characters of the payload's SHA-256. Identical payloads are hard
// linked across containers instead of being written twice.
type payloadStore struct {
	root string
}

func newPayloadStore(root string) *payloadStore {
	return &payloadStore{root: root}
}

func (p *payloadStore) path(container, hashHex string) string {
	return filepath.Join(p.root, container, hashHex[:2], hashHex)
}

// existing returns the paths of other on-disk copies of the payload, in
// any container, matching both hash and size.
func (p *payloadStore) existing(target, hashHex string, size int64) []string {
	pattern := filepath.Join(p.root, "*", hashHex[:2], hashHex)
	matches, _ := filepath.Glob(pattern)

	var found []string
	for _, match := range matches {
		if match == target {
			continue
		}

		info, err := os.Stat(match)
		if err != nil || !info.Mode().IsRegular() || info.Size() != size {
			continue
		}

		found = append(found, match)
	}

	return found
}

func (p *payloadStore) put(container, hashHex string, data []byte) error {
	target := p.path(container, hashHex)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}

	for _, existing := range p.existing(target, hashHex, int64(len(data))) {
		if err := linkOrCopy(existing, target); err == nil {
			return nil
		}
	}

	return os.WriteFile(target, data, 0o644)
}

// putFile moves a payload already staged on disk into place. Chunked
// uploads use it so the assembled object never has to fit in memory.
// When an identical payload already exists the staged file is simply
// left behind for the caller to clean up.
func (p *payloadStore) putFile(container, hashHex, stagedPath string, size int64) error {
	target := p.path(container, hashHex)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}

	for _, existing := range p.existing(target, hashHex, size) {
		if err := linkOrCopy(existing, target); err == nil {
			return nil
		}
	}

	return moveFile(stagedPath, target)
}

func (p *payloadStore) open(container, hashHex string) (io.ReadCloser, error) {
	return os.Open(p.path(container, hashHex))
}

// link ensures the payload is present in dstContainer, hard linking from
// the source copy when the filesystem allows it.
func (p *payloadStore) link(srcContainer, dstContainer, hashHex string) error {
	src := p.path(srcContainer, hashHex)
	dst := p.path(dstContainer, hashHex)
	if src == dst {
		return nil
	}

	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("payload is not a regular file: %s", src)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	return linkOrCopy(src, dst)
}

// dropContainer removes every payload stored for the container.
func (p *payloadStore) dropContainer(container string) error {
	return os.RemoveAll(filepath.Join(p.root, container))
}

// linkOrCopy hard links src to dst, falling back to a byte copy when
// linking fails. An existing dst is removed first: linking over a live
// file fails, and truncating it in place would corrupt every object
// sharing it.
func linkOrCopy(src, dst string) error {
	if src == dst {
		return nil
	}

	if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
		return err
	}

	if err := os.Link(src, dst); err == nil {
		return nil
	}

	return copyFile(src, dst)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = out.ReadFrom(in)
	return err
}

// moveFile renames src to dst, copying across filesystems when the
// rename fails with EXDEV.
func moveFile(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}

	var linkErr *os.LinkError
	if errors.As(err, &linkErr) && linkErr.Err == syscall.EXDEV {
		if err := copyFile(src, dst); err != nil {
			return err
		}
		if err := os.Remove(src); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}

	return err
}
