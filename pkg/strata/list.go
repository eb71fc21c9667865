package strata

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// ListObjects returns every entry under prefix in container: objects as
// ObjectEntry and slash-delimited groups as PrefixEntry. It walks the
// backend's pagination chain to exhaustion and returns the aggregate, so
// a failure on any page fails the whole call rather than returning a
// partial listing.
//
// For backends that report objects and prefixes through two separate
// chains, both are walked concurrently and the results merged, objects
// first.
func (s *Store) ListObjects(ctx context.Context, container, prefix string) ([]Entry, error) {
	const op = "list objects"

	if err := validContainer(container); err != nil {
		return nil, opErr(op, container, prefix, err)
	}

	var entries []Entry
	err := s.do(ctx, op, container, prefix, func(ctx context.Context) error {
		var err error
		if s.split != nil {
			entries, err = s.listSplit(ctx, container, prefix)
		} else {
			entries, err = s.listMerged(ctx, container, prefix)
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	return entries, nil
}

// listMerged drains a single merged pagination chain.
func (s *Store) listMerged(ctx context.Context, container, prefix string) ([]Entry, error) {
	return drainChain(ctx, container, prefix, s.client.ListPage)
}

// listSplit drains the object and prefix chains concurrently. The first
// chain to fail cancels the other, and nothing is returned on failure.
func (s *Store) listSplit(ctx context.Context, container, prefix string) ([]Entry, error) {
	var objects, prefixes []Entry

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		objects, err = drainChain(ctx, container, prefix, s.split.ListObjectPage)
		return err
	})
	g.Go(func() error {
		var err error
		prefixes, err = drainChain(ctx, container, prefix, s.split.ListPrefixPage)
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return append(objects, prefixes...), nil
}

// drainChain follows one pagination chain to exhaustion, feeding each
// page's cursor into the next request until the backend returns an empty
// one.
func drainChain(ctx context.Context, container, prefix string, fetch func(context.Context, string, string, string) (Page, error)) ([]Entry, error) {
	var entries []Entry

	cursor := ""
	for {
		page, err := fetch(ctx, container, prefix, cursor)
		if err != nil {
			return nil, err
		}

		entries = append(entries, page.Entries...)

		if page.Cursor == "" {
			return entries, nil
		}

		cursor = page.Cursor
	}
}
