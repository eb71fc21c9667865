package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"strata/pkg/strata"
)

func init() {
	strata.Register("s3", func(ctx context.Context, settings map[string]string) (strata.Client, error) {
		return Open(ctx, Options{
			Endpoint:     settings["endpoint"],
			Region:       settings["region"],
			AccessKey:    settings["access_key"],
			SecretKey:    settings["secret_key"],
			SessionToken: settings["session_token"],
			PathStyle:    settings["path_style"] == "true",
		})
	})
}

const (
	defaultRegion  = "us-east-1"
	metadataPrefix = "x-amz-meta-"

	// S3 rejects multipart parts under 5 MiB (except the last) and
	// single-shot uploads over 5 GiB.
	minChunkSize  = 5 * 1024 * 1024
	maxSingleShot = 5 * 1024 * 1024 * 1024
)

// Options configure the S3 client. Zero values fall back to the ambient
// AWS environment: shared config files, instance roles, and so on.
type Options struct {
	// Endpoint overrides the provider endpoint, for S3-compatible
	// services. Empty means AWS proper.
	Endpoint string

	// Region is the signing region, defaulting to us-east-1.
	Region string

	// AccessKey and SecretKey select static credentials. When either is
	// empty the default AWS credential chain applies.
	AccessKey    string
	SecretKey    string
	SessionToken string

	// PathStyle addresses buckets as path segments instead of subdomains.
	// Most S3-compatible services require it.
	PathStyle bool
}

// Client talks to Amazon S3 or an S3-compatible service through the AWS
// SDK. It implements strata.Client plus the chunked-upload, presign and
// server-side copy capabilities.
type Client struct {
	api     *awss3.Client
	presign *awss3.PresignClient
	region  string
}

// Open builds an S3 client from opts.
func Open(ctx context.Context, opts Options) (*Client, error) {
	if opts.Region == "" {
		opts.Region = defaultRegion
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(opts.Region),
		// Retries live in the engine; a retrying SDK underneath it would
		// multiply every attempt.
		awsconfig.WithRetryMaxAttempts(1),
	}
	if opts.AccessKey != "" && opts.SecretKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, opts.SessionToken),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	api := awss3.NewFromConfig(cfg, func(o *awss3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		if opts.PathStyle {
			o.UsePathStyle = true
		}
	})

	return &Client{
		api:     api,
		presign: awss3.NewPresignClient(api),
		region:  opts.Region,
	}, nil
}

func (c *Client) Provider() string {
	return "s3"
}

func (c *Client) Constraints() strata.Constraints {
	return strata.Constraints{
		MinChunkSize:   minChunkSize,
		MaxSingleShot:  maxSingleShot,
		MetadataPrefix: metadataPrefix,
	}
}

func (c *Client) CreateContainer(ctx context.Context, name string, opts strata.ContainerOptions) error {
	input := &awss3.CreateBucketInput{
		Bucket: aws.String(name),
	}

	region := opts.Region
	if region == "" {
		region = c.region
	}
	// us-east-1 is the one region S3 refuses as an explicit location
	// constraint.
	if region != defaultRegion {
		input.CreateBucketConfiguration = &s3types.CreateBucketConfiguration{
			LocationConstraint: s3types.BucketLocationConstraint(region),
		}
	}
	if opts.ACL != "" {
		input.ACL = s3types.BucketCannedACL(opts.ACL)
	}

	_, err := c.api.CreateBucket(ctx, input)
	return mapError(err)
}

func (c *Client) DeleteContainer(ctx context.Context, name string) error {
	_, err := c.api.DeleteBucket(ctx, &awss3.DeleteBucketInput{
		Bucket: aws.String(name),
	})
	return mapError(err)
}

func (c *Client) ContainerExists(ctx context.Context, name string) (bool, error) {
	_, err := c.api.HeadBucket(ctx, &awss3.HeadBucketInput{
		Bucket: aws.String(name),
	})
	if err != nil {
		mapped := mapError(err)
		if errors.Is(mapped, strata.ErrNotFound) {
			return false, nil
		}
		return false, mapped
	}
	return true, nil
}

func (c *Client) ListContainers(ctx context.Context) ([]strata.ContainerInfo, error) {
	out, err := c.api.ListBuckets(ctx, &awss3.ListBucketsInput{})
	if err != nil {
		return nil, mapError(err)
	}

	infos := make([]strata.ContainerInfo, 0, len(out.Buckets))
	for _, b := range out.Buckets {
		infos = append(infos, strata.ContainerInfo{
			Name:    aws.ToString(b.Name),
			Created: aws.ToTime(b.CreationDate),
		})
	}
	return infos, nil
}

func (c *Client) PutObject(ctx context.Context, container, path string, data []byte, req strata.PutRequest) error {
	input := &awss3.PutObjectInput{
		Bucket:        aws.String(container),
		Key:           aws.String(path),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		Metadata:      customMetadata(req.Meta),
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
	if v := req.Meta.Get(strata.MetaContentMD5); v != "" {
		input.ContentMD5 = aws.String(v)
	}
	if req.ServerSideEncryption {
		input.ServerSideEncryption = s3types.ServerSideEncryptionAes256
	}

	_, err := c.api.PutObject(ctx, input)
	return mapError(err)
}

func (c *Client) GetObject(ctx context.Context, container, path string) (io.ReadCloser, error) {
	out, err := c.api.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(container),
		Key:    aws.String(path),
	})
	if err != nil {
		return nil, mapError(err)
	}
	return out.Body, nil
}

func (c *Client) StatObject(ctx context.Context, container, path string) (strata.ObjectEntry, error) {
	out, err := c.api.HeadObject(ctx, &awss3.HeadObjectInput{
		Bucket: aws.String(container),
		Key:    aws.String(path),
	})
	if err != nil {
		return strata.ObjectEntry{}, mapError(err)
	}

	return strata.ObjectEntry{
		Path:         path,
		Size:         aws.ToInt64(out.ContentLength),
		LastModified: aws.ToTime(out.LastModified),
		ContentType:  aws.ToString(out.ContentType),
		ContentMD5:   md5FromETag(aws.ToString(out.ETag)),
		Metadata:     prefixedMetadata(out.Metadata),
	}, nil
}

func (c *Client) DeleteObject(ctx context.Context, container, path string) error {
	// S3 deletes are idempotent, so probe first to honor the not-found
	// contract.
	if _, err := c.api.HeadObject(ctx, &awss3.HeadObjectInput{
		Bucket: aws.String(container),
		Key:    aws.String(path),
	}); err != nil {
		return mapError(err)
	}

	_, err := c.api.DeleteObject(ctx, &awss3.DeleteObjectInput{
		Bucket: aws.String(container),
		Key:    aws.String(path),
	})
	return mapError(err)
}

// CopyObject copies within the provider. The default metadata directive
// carries the source's metadata over, matching the other backends.
func (c *Client) CopyObject(ctx context.Context, srcContainer, srcPath, dstContainer, dstPath string) error {
	_, err := c.api.CopyObject(ctx, &awss3.CopyObjectInput{
		Bucket:     aws.String(dstContainer),
		Key:        aws.String(dstPath),
		CopySource: aws.String(srcContainer + "/" + srcPath),
	})
	return mapError(err)
}

func (c *Client) PresignGet(ctx context.Context, container, path string, expiry time.Duration) (string, error) {
	req, err := c.presign.PresignGetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(container),
		Key:    aws.String(path),
	}, awss3.WithPresignExpires(expiry))
	if err != nil {
		return "", mapError(err)
	}
	return req.URL, nil
}

func (c *Client) PresignPut(ctx context.Context, container, path string, expiry time.Duration) (string, error) {
	req, err := c.presign.PresignPutObject(ctx, &awss3.PutObjectInput{
		Bucket: aws.String(container),
		Key:    aws.String(path),
	}, awss3.WithPresignExpires(expiry))
	if err != nil {
		return "", mapError(err)
	}
	return req.URL, nil
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
