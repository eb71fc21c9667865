package minio

import (
	"context"

	miniogo "github.com/minio/minio-go/v7"

	"strata/pkg/strata"
)

const pageSize = 1000

// ListPage fetches one ListObjectsV2 page through the Core API, which
// exposes the provider's raw pages instead of the high-level client's
// self-draining channel. Core listings take no context; cancellation
// applies between pages.
func (c *Client) ListPage(ctx context.Context, container, prefix, cursor string) (strata.Page, error) {
	if err := ctx.Err(); err != nil {
		return strata.Page{}, err
	}

	result, err := c.core.ListObjectsV2(container, prefix, "", cursor, strata.Delimiter, pageSize)
	if err != nil {
		return strata.Page{}, mapError(err)
	}

	page := strata.Page{
		Entries: mergeListing(result),
	}
	if result.IsTruncated {
		page.Cursor = result.NextContinuationToken
	}
	return page, nil
}

// mergeListing folds the two sorted per-page lists, objects and common
// prefixes, back into a single lexically ordered run of entries.
func mergeListing(result miniogo.ListBucketV2Result) []strata.Entry {
	entries := make([]strata.Entry, 0, len(result.Contents)+len(result.CommonPrefixes))

	i, j := 0, 0
	for i < len(result.Contents) || j < len(result.CommonPrefixes) {
		switch {
		case j == len(result.CommonPrefixes):
			entries = append(entries, objectEntry(result.Contents[i]))
			i++
		case i == len(result.Contents):
			entries = append(entries, prefixEntry(result.CommonPrefixes[j]))
			j++
		case result.Contents[i].Key < result.CommonPrefixes[j].Prefix:
			entries = append(entries, objectEntry(result.Contents[i]))
			i++
		default:
			entries = append(entries, prefixEntry(result.CommonPrefixes[j]))
			j++
		}
	}

	return entries
}

func objectEntry(info miniogo.ObjectInfo) strata.Entry {
	return strata.ObjectEntry{
		Path:         info.Key,
		Size:         info.Size,
		LastModified: info.LastModified,
		ContentMD5:   md5FromETag(info.ETag),
	}
}

func prefixEntry(cp miniogo.CommonPrefix) strata.Entry {
	return strata.PrefixEntry{
		Prefix: cp.Prefix,
	}
}
