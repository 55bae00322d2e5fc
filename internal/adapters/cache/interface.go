package cache

import "context"

type hitResult[T any] struct {
	data    T
	valid   bool
	claimed bool
}

// Cache holds pages that are recreated at most once per entry lifetime.
//
// A missing key is claimed by the first caller, which is then responsible for
// setting or deleting it. Other callers wait for the claim to resolve.
type Cache[T any] interface {
	getOrClaim(key string) hitResult[T]
	set(key string, data T)
	delete(key string)
	wait(ctx context.Context) error
}
