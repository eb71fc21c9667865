package s3

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"strata/pkg/strata"
)

const pageSize = 1000

// ListPage fetches one ListObjectsV2 page. The provider reports objects
// and common prefixes as two sorted lists per page; they are merged back
// into a single lexically ordered run of entries.
func (c *Client) ListPage(ctx context.Context, container, prefix, cursor string) (strata.Page, error) {
	input := &awss3.ListObjectsV2Input{
		Bucket:    aws.String(container),
		Delimiter: aws.String(strata.Delimiter),
		MaxKeys:   aws.Int32(pageSize),
	}
	if prefix != "" {
		input.Prefix = aws.String(prefix)
	}
	if cursor != "" {
		input.ContinuationToken = aws.String(cursor)
	}

	out, err := c.api.ListObjectsV2(ctx, input)
	if err != nil {
		return strata.Page{}, mapError(err)
	}

	page := strata.Page{
		Entries: mergeListing(out),
	}
	if aws.ToBool(out.IsTruncated) {
		page.Cursor = aws.ToString(out.NextContinuationToken)
	}
	return page, nil
}

func mergeListing(out *awss3.ListObjectsV2Output) []strata.Entry {
	entries := make([]strata.Entry, 0, len(out.Contents)+len(out.CommonPrefixes))

	i, j := 0, 0
	for i < len(out.Contents) || j < len(out.CommonPrefixes) {
		switch {
		case j == len(out.CommonPrefixes):
			entries = append(entries, objectEntry(out.Contents[i]))
			i++
		case i == len(out.Contents):
			entries = append(entries, prefixEntry(out.CommonPrefixes[j]))
			j++
		case aws.ToString(out.Contents[i].Key) < aws.ToString(out.CommonPrefixes[j].Prefix):
			entries = append(entries, objectEntry(out.Contents[i]))
			i++
		default:
			entries = append(entries, prefixEntry(out.CommonPrefixes[j]))
			j++
		}
	}

	return entries
}

func objectEntry(obj s3types.Object) strata.Entry {
	return strata.ObjectEntry{
		Path:         aws.ToString(obj.Key),
		Size:         aws.ToInt64(obj.Size),
		LastModified: aws.ToTime(obj.LastModified),
		ContentMD5:   md5FromETag(aws.ToString(obj.ETag)),
	}
}

func prefixEntry(cp s3types.CommonPrefix) strata.Entry {
	return strata.PrefixEntry{
		Prefix: aws.ToString(cp.Prefix),
	}
}
