package minio

import (
	"bytes"
	"context"
	"errors"

	miniogo "github.com/minio/minio-go/v7"

	"strata/pkg/strata"
)

// CreateUpload starts a multipart upload through the Core API. Metadata
// travels with the create call; the parts themselves carry none.
func (c *Client) CreateUpload(ctx context.Context, container, path string, req strata.PutRequest) (strata.UploadHandle, error) {
	opts := putOptions(req)
	opts.DisableMultipart = false

	uploadID, err := c.core.NewMultipartUpload(ctx, container, path, opts)
	if err != nil {
		return strata.UploadHandle{}, mapError(err)
	}

	return strata.UploadHandle{
		ID:        uploadID,
		Container: container,
		Path:      path,
	}, nil
}

// ChunkTarget returns a target bound to the upload handle. Parts are
// addressed by upload ID and part number alone, so minting a fresh
// target costs nothing and carries no extra state.
func (c *Client) ChunkTarget(ctx context.Context, u strata.UploadHandle) (strata.ChunkTarget, error) {
	return strata.ChunkTarget{Upload: u}, nil
}

// UploadChunk sends one part and returns its ETag, which identifies the
// part again at commit time. Part numbers start at 1.
func (c *Client) UploadChunk(ctx context.Context, t strata.ChunkTarget, index int, data []byte) (string, error) {
	part, err := c.core.PutObjectPart(ctx, t.Upload.Container, t.Upload.Path, t.Upload.ID,
		index+1, bytes.NewReader(data), int64(len(data)), miniogo.PutObjectPartOptions{})
	if err != nil {
		return "", mapError(err)
	}
	return part.ETag, nil
}

func (c *Client) CommitUpload(ctx context.Context, u strata.UploadHandle, chunkIDs []string) error {
	parts := make([]miniogo.CompletePart, len(chunkIDs))
	for i, id := range chunkIDs {
		parts[i] = miniogo.CompletePart{
			PartNumber: i + 1,
			ETag:       id,
		}
	}

	_, err := c.core.CompleteMultipartUpload(ctx, u.Container, u.Path, u.ID, parts, miniogo.PutObjectOptions{})
	return mapError(err)
}

func (c *Client) AbortUpload(ctx context.Context, u strata.UploadHandle) error {
	err := c.core.AbortMultipartUpload(ctx, u.Container, u.Path, u.ID)
	if err != nil {
		mapped := mapError(err)
		// Aborting an upload that is already gone counts as done.
		if errors.Is(mapped, strata.ErrNotFound) {
			return nil
		}
		return mapped
	}
	return nil
}
