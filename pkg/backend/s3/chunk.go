package s3

import (
	"bytes"
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"strata/pkg/strata"
)

// CreateUpload starts a multipart upload. Metadata travels with the
// create call; the parts themselves carry none.
func (c *Client) CreateUpload(ctx context.Context, container, path string, req strata.PutRequest) (strata.UploadHandle, error) {
	input := &awss3.CreateMultipartUploadInput{
		Bucket:   aws.String(container),
		Key:      aws.String(path),
		Metadata: customMetadata(req.Meta),
	}
	if v := req.Meta.ContentType(); v != "" {
		input.ContentType = aws.String(v)
	}
	if v := req.Meta.Get(strata.MetaContentEncoding); v != "" {
		input.ContentEncoding = aws.String(v)
	}
	if v := req.Meta.Get(strata.MetaContentLanguage); v != "" {
		input.ContentLanguage = aws.String(v)
	}
	if v := req.Meta.Get(strata.MetaContentDisposition); v != "" {
		input.ContentDisposition = aws.String(v)
	}
	if v := req.Meta.Get(strata.MetaCacheControl); v != "" {
		input.CacheControl = aws.String(v)
	}
	if req.ServerSideEncryption {
		input.ServerSideEncryption = s3types.ServerSideEncryptionAes256
	}

	out, err := c.api.CreateMultipartUpload(ctx, input)
	if err != nil {
		return strata.UploadHandle{}, mapError(err)
	}

	return strata.UploadHandle{
		ID:        aws.ToString(out.UploadId),
		Container: container,
		Path:      path,
	}, nil
}

// ChunkTarget returns a target bound to the upload handle. Multipart
// parts are addressed by upload ID and part number alone, so minting a
// fresh target costs nothing and carries no extra state.
func (c *Client) ChunkTarget(ctx context.Context, u strata.UploadHandle) (strata.ChunkTarget, error) {
	return strata.ChunkTarget{Upload: u}, nil
}

// UploadChunk sends one part and returns its ETag, which identifies the
// part again at commit time. Part numbers start at 1.
func (c *Client) UploadChunk(ctx context.Context, t strata.ChunkTarget, index int, data []byte) (string, error) {
	out, err := c.api.UploadPart(ctx, &awss3.UploadPartInput{
		Bucket:        aws.String(t.Upload.Container),
		Key:           aws.String(t.Upload.Path),
		UploadId:      aws.String(t.Upload.ID),
		PartNumber:    aws.Int32(int32(index) + 1),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return "", mapError(err)
	}
	return aws.ToString(out.ETag), nil
}

func (c *Client) CommitUpload(ctx context.Context, u strata.UploadHandle, chunkIDs []string) error {
	parts := make([]s3types.CompletedPart, len(chunkIDs))
	for i, id := range chunkIDs {
		parts[i] = s3types.CompletedPart{
			ETag:       aws.String(id),
			PartNumber: aws.Int32(int32(i) + 1),
		}
	}

	_, err := c.api.CompleteMultipartUpload(ctx, &awss3.CompleteMultipartUploadInput{
		Bucket:          aws.String(u.Container),
		Key:             aws.String(u.Path),
		UploadId:        aws.String(u.ID),
		MultipartUpload: &s3types.CompletedMultipartUpload{Parts: parts},
	})
	return mapError(err)
}

func (c *Client) AbortUpload(ctx context.Context, u strata.UploadHandle) error {
	_, err := c.api.AbortMultipartUpload(ctx, &awss3.AbortMultipartUploadInput{
		Bucket:   aws.String(u.Container),
		Key:      aws.String(u.Path),
		UploadId: aws.String(u.ID),
	})
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
