package app

import "context"

type jsonFetcher interface {
	Fetch(ctx context.Context, path string, out any) error
}
