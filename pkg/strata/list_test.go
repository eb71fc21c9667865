package strata

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func entryNames(entries []Entry) []string {
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestListObjectsWalksWholeChain(t *testing.T) {
	t.Parallel()

	pages := []Page{
		{Entries: []Entry{ObjectEntry{Path: "a.txt", Size: 1}, ObjectEntry{Path: "b.txt", Size: 2}}, Cursor: "1"},
		{Entries: []Entry{PrefixEntry{Prefix: "dir/"}}, Cursor: "2"},
		{Entries: []Entry{ObjectEntry{Path: "z.txt", Size: 3}}},
	}

	p := newPageClient(pages)
	s := newTestStore(t, p)

	entries, err := s.ListObjects(context.Background(), "tank", "")
	require.NoError(t, err, "ListObjects error")

	require.Equal(t, []string{"a.txt", "b.txt", "dir/", "z.txt"}, entryNames(entries), "aggregated entries in page order")
	require.Equal(t, []string{"", "1", "2"}, p.cursors, "each page's cursor must feed the next request")

	require.False(t, entries[0].IsPrefix(), "a.txt should be an object entry")
	require.True(t, entries[2].IsPrefix(), "dir/ should be a prefix entry")
}

func TestListObjectsEmpty(t *testing.T) {
	t.Parallel()

	p := newPageClient([]Page{{}})
	s := newTestStore(t, p)

	entries, err := s.ListObjects(context.Background(), "tank", "anything/")
	require.NoError(t, err, "ListObjects error")
	require.Empty(t, entries, "no entries expected")
}

func TestListObjectsAllOrNothing(t *testing.T) {
	t.Parallel()

	pages := []Page{
		{Entries: []Entry{ObjectEntry{Path: "a.txt"}}, Cursor: "1"},
		{Entries: []Entry{ObjectEntry{Path: "b.txt"}}},
	}

	p := newPageClient(pages)
	p.failIndex = 1
	s := newTestStore(t, p)

	entries, err := s.ListObjects(context.Background(), "tank", "")
	require.Error(t, err, "a mid-chain failure must fail the whole listing")
	require.True(t, IsTransport(err), "expected the injected transport error, got %v", err)
	require.Nil(t, entries, "no partial results")
}

func TestListObjectsSplitChainsMerge(t *testing.T) {
	t.Parallel()

	objectPages := []Page{
		{Entries: []Entry{ObjectEntry{Path: "a.txt"}, ObjectEntry{Path: "b.txt"}}, Cursor: "1"},
		{Entries: []Entry{ObjectEntry{Path: "c.txt"}}},
	}
	prefixPages := []Page{
		{Entries: []Entry{PrefixEntry{Prefix: "x/"}}, Cursor: "1"},
		{Entries: []Entry{PrefixEntry{Prefix: "y/"}}},
	}

	sc := newSplitClient(objectPages, prefixPages)
	s := newTestStore(t, sc)

	entries, err := s.ListObjects(context.Background(), "tank", "")
	require.NoError(t, err, "ListObjects error")

	require.Equal(t, []string{"a.txt", "b.txt", "c.txt", "x/", "y/"}, entryNames(entries), "objects first, then prefixes, chain order kept")
}

func TestListObjectsSplitFailureFailsWhole(t *testing.T) {
	t.Parallel()

	objectPages := []Page{
		{Entries: []Entry{ObjectEntry{Path: "a.txt"}}, Cursor: "1"},
		{Entries: []Entry{ObjectEntry{Path: "b.txt"}}},
	}
	prefixPages := []Page{
		{Entries: []Entry{PrefixEntry{Prefix: "x/"}}},
	}

	sc := newSplitClient(objectPages, prefixPages)
	sc.failPrefix = 0
	s := newTestStore(t, sc)

	entries, err := s.ListObjects(context.Background(), "tank", "")
	require.Error(t, err, "a failing chain must fail the whole listing")
	require.True(t, IsTransport(err), "expected the injected transport error, got %v", err)
	require.Nil(t, entries, "no partial results")
}

func TestListObjectsValidation(t *testing.T) {
	t.Parallel()

	p := newPageClient([]Page{{}})
	s := newTestStore(t, p)

	_, err := s.ListObjects(context.Background(), "", "pre/")
	require.ErrorIs(t, err, ErrInvalidArgument, "empty container name")
	require.Empty(t, p.cursors, "no backend call expected")
}
