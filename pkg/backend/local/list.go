package local

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"strata/pkg/strata"
)

// pageSize caps the entries per listing page. The scan fetches one extra
// row to learn whether another page exists.
const pageSize = 1000

// ListPage returns one page of the container listing under prefix,
// grouping keys on the delimiter into prefix entries. Keys are scanned
// in order, so all members of a group are adjacent and each group is
// reported exactly once per page.
func (c *Client) ListPage(ctx context.Context, container, prefix, cursor string) (strata.Page, error) {
	if err := c.requireContainer(ctx, container); err != nil {
		return strata.Page{}, err
	}

	query := `SELECT ` + entryColumns + ` FROM objects WHERE container = ?`
	args := []any{container}

	if prefix != "" {
		query += ` AND path LIKE ? ESCAPE '\'`
		args = append(args, likePattern(prefix))
	}
	if cursor != "" {
		query += ` AND path > ?`
		args = append(args, cursor)
	}
	query += ` ORDER BY path LIMIT ?`
	args = append(args, pageSize+1)

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return strata.Page{}, fmt.Errorf("list objects: %w", err)
	}
	defer rows.Close()

	var (
		page      strata.Page
		seen      = map[string]bool{}
		lastKey   string
		lastGroup string
		scanned   int
		truncated bool
	)

	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return strata.Page{}, fmt.Errorf("list objects: %w", err)
		}
		scanned++

		rel := strings.TrimPrefix(entry.Path, prefix)
		if idx := strings.Index(rel, strata.Delimiter); idx >= 0 {
			group := prefix + rel[:idx+1]
			if !seen[group] {
				if len(page.Entries) == pageSize {
					truncated = true
					break
				}
				seen[group] = true
				page.Entries = append(page.Entries, strata.PrefixEntry{Prefix: group})
				lastGroup = group
			}
		} else {
			if len(page.Entries) == pageSize {
				truncated = true
				break
			}
			page.Entries = append(page.Entries, entry)
			lastGroup = ""
		}
		lastKey = entry.Path
	}
	if err := rows.Err(); err != nil {
		return strata.Page{}, fmt.Errorf("list objects: %w", err)
	}

	// The probe row can be swallowed by group deduplication, so having
	// scanned all pageSize+1 rows also means more may follow.
	if scanned == pageSize+1 {
		truncated = true
	}

	if truncated {
		if lastGroup != "" {
			// Resume past the whole group rather than inside it, or the
			// next page would report the same prefix entry again.
			page.Cursor = lastGroup + string(utf8.MaxRune)
		} else {
			page.Cursor = lastKey
		}
	}

	return page, nil
}

// likePattern escapes the LIKE wildcards in prefix and appends %.
func likePattern(prefix string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(prefix) + "%"
}
