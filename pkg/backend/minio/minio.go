package minio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/encrypt"

	"strata/pkg/strata"
)

func init() {
	strata.Register("minio", func(ctx context.Context, settings map[string]string) (strata.Client, error) {
		if settings["endpoint"] == "" {
			return nil, fmt.Errorf("%w: the minio driver requires an endpoint setting", strata.ErrInvalidArgument)
		}

		return Open(ctx, Options{
			Endpoint:     settings["endpoint"],
			AccessKey:    settings["access_key"],
			SecretKey:    settings["secret_key"],
			SessionToken: settings["session_token"],
			Region:       settings["region"],
			Secure:       settings["secure"] == "true",
		})
	})
}

const (
	defaultRegion  = "us-east-1"
	metadataPrefix = "x-amz-meta-"

	// MinIO applies the S3 limits: 5 MiB minimum part size, 5 GiB
	// single-shot ceiling.
	minChunkSize  = 5 * 1024 * 1024
	maxSingleShot = 5 * 1024 * 1024 * 1024
)

// Options configure the MinIO client.
type Options struct {
	// Endpoint is the server address, either host:port or a full URL.
	// A URL's scheme overrides Secure.
	Endpoint string

	AccessKey    string
	SecretKey    string
	SessionToken string

	// Region is the default placement region, us-east-1 when empty.
	Region string

	// Secure selects TLS. Ignored when Endpoint carries a scheme.
	Secure bool
}

// Client talks to a MinIO deployment (or any S3-compatible service the
// minio-go SDK can reach). The high-level API covers the object
// primitives; the Core API supplies single-page listings and the
// multipart calls behind the chunked-upload capability.
type Client struct {
	api    *miniogo.Client
	core   *miniogo.Core
	region string
}

// Open builds a MinIO client from opts.
func Open(ctx context.Context, opts Options) (*Client, error) {
	host := opts.Endpoint
	secure := opts.Secure
	if strings.Contains(host, "://") {
		u, err := url.Parse(host)
		if err != nil {
			return nil, fmt.Errorf("parse endpoint: %w", err)
		}
		host = u.Host
		secure = u.Scheme == "https"
	}

	region := opts.Region
	if region == "" {
		region = defaultRegion
	}

	sdkOpts := &miniogo.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, opts.SessionToken),
		Secure: secure,
		Region: region,
		// Path-style requests: /bucket/object. Virtual-host lookup needs
		// wildcard DNS, which self-hosted deployments rarely have.
		BucketLookup: miniogo.BucketLookupPath,
	}

	api, err := miniogo.New(host, sdkOpts)
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	core, err := miniogo.NewCore(host, sdkOpts)
	if err != nil {
		return nil, fmt.Errorf("create minio core client: %w", err)
	}

	return &Client{api: api, core: core, region: region}, nil
}

func (c *Client) Provider() string {
	return "minio"
}

func (c *Client) Constraints() strata.Constraints {
	return strata.Constraints{
		MinChunkSize:   minChunkSize,
		MaxSingleShot:  maxSingleShot,
		MetadataPrefix: metadataPrefix,
	}
}

func (c *Client) CreateContainer(ctx context.Context, name string, opts strata.ContainerOptions) error {
	region := opts.Region
	if region == "" {
		region = c.region
	}

	err := c.api.MakeBucket(ctx, name, miniogo.MakeBucketOptions{Region: region})
	return mapError(err)
}

func (c *Client) DeleteContainer(ctx context.Context, name string) error {
	return mapError(c.api.RemoveBucket(ctx, name))
}

func (c *Client) ContainerExists(ctx context.Context, name string) (bool, error) {
	exists, err := c.api.BucketExists(ctx, name)
	if err != nil {
		return false, mapError(err)
	}
	return exists, nil
}

func (c *Client) ListContainers(ctx context.Context) ([]strata.ContainerInfo, error) {
	buckets, err := c.api.ListBuckets(ctx)
	if err != nil {
		return nil, mapError(err)
	}

	infos := make([]strata.ContainerInfo, 0, len(buckets))
	for _, b := range buckets {
		infos = append(infos, strata.ContainerInfo{
			Name:    b.Name,
			Created: b.CreationDate,
		})
	}
	return infos, nil
}

func (c *Client) PutObject(ctx context.Context, container, path string, data []byte, req strata.PutRequest) error {
	_, err := c.api.PutObject(ctx, container, path, bytes.NewReader(data), int64(len(data)), putOptions(req))
	return mapError(err)
}

func (c *Client) GetObject(ctx context.Context, container, path string) (io.ReadCloser, error) {
	obj, err := c.api.GetObject(ctx, container, path, miniogo.GetObjectOptions{})
	if err != nil {
		return nil, mapError(err)
	}

	// The returned stream is lazy; force the first request so a missing
	// object fails here rather than on the first read.
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		return nil, mapError(err)
	}
	return obj, nil
}

func (c *Client) StatObject(ctx context.Context, container, path string) (strata.ObjectEntry, error) {
	info, err := c.api.StatObject(ctx, container, path, miniogo.StatObjectOptions{})
	if err != nil {
		return strata.ObjectEntry{}, mapError(err)
	}

	return strata.ObjectEntry{
		Path:         path,
		Size:         info.Size,
		LastModified: info.LastModified,
		ContentType:  info.ContentType,
		ContentMD5:   md5FromETag(info.ETag),
		Metadata:     prefixedMetadata(info.UserMetadata),
	}, nil
}

func (c *Client) DeleteObject(ctx context.Context, container, path string) error {
	// The provider's delete is idempotent, so probe first to honor the
	// not-found contract.
	if _, err := c.api.StatObject(ctx, container, path, miniogo.StatObjectOptions{}); err != nil {
		return mapError(err)
	}

	return mapError(c.api.RemoveObject(ctx, container, path, miniogo.RemoveObjectOptions{}))
}

// CopyObject copies within the provider. The server carries the source's
// metadata over, matching the other backends.
func (c *Client) CopyObject(ctx context.Context, srcContainer, srcPath, dstContainer, dstPath string) error {
	_, err := c.api.CopyObject(ctx,
		miniogo.CopyDestOptions{Bucket: dstContainer, Object: dstPath},
		miniogo.CopySrcOptions{Bucket: srcContainer, Object: srcPath},
	)
	return mapError(err)
}

func (c *Client) PresignGet(ctx context.Context, container, path string, expiry time.Duration) (string, error) {
	u, err := c.api.PresignedGetObject(ctx, container, path, expiry, url.Values{})
	if err != nil {
		return "", mapError(err)
	}
	return u.String(), nil
}

func (c *Client) PresignPut(ctx context.Context, container, path string, expiry time.Duration) (string, error) {
	u, err := c.api.PresignedPutObject(ctx, container, path, expiry)
	if err != nil {
		return "", mapError(err)
	}
	return u.String(), nil
}

// putOptions translates a PutRequest into the SDK's options. Multipart
// stays off: the engine owns the chunking decision, and this call must
// map to exactly one provider request.
func putOptions(req strata.PutRequest) miniogo.PutObjectOptions {
	opts := miniogo.PutObjectOptions{
		ContentType:        req.Meta.ContentType(),
		ContentEncoding:    req.Meta.Get(strata.MetaContentEncoding),
		ContentLanguage:    req.Meta.Get(strata.MetaContentLanguage),
		ContentDisposition: req.Meta.Get(strata.MetaContentDisposition),
		CacheControl:       req.Meta.Get(strata.MetaCacheControl),
		UserMetadata:       customMetadata(req.Meta),
		DisableMultipart:   true,
	}
	if req.ServerSideEncryption {
		opts.ServerSideEncryption = encrypt.NewSSE()
	}
	return opts
}

// customMetadata strips the provider prefix off the normalized custom
// keys. The SDK adds it back on the wire, so handing it prefixed keys
// would store them doubled.
func customMetadata(meta strata.NormalizedMetadata) map[string]string {
	if len(meta.Custom) == 0 {
		return nil
	}

	out := make(map[string]string, len(meta.Custom))
	for key, value := range meta.Custom {
		out[strings.TrimPrefix(key, metadataPrefix)] = value
	}
	return out
}

// prefixedMetadata restores the provider prefix on metadata keys coming
// back from the SDK, lowercased to keep lookups predictable.
func prefixedMetadata(meta map[string]string) map[string]string {
	if len(meta) == 0 {
		return nil
	}

	out := make(map[string]string, len(meta))
	for key, value := range meta {
		out[metadataPrefix+strings.ToLower(key)] = value
	}
	return out
}
