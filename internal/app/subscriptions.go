package app

import (
	"regexp"
)

// Upstream paths clients may subscribe to over a live connection
var subscribableKeyRx = regexp.MustCompile(`^/(users|posts)(/\d{1,6})?(\?_limit=\d{1,3})?$`)

type IsSubscribableKey func(key string) bool

func BuildIsSubscribableKey() IsSubscribableKey {
	return func(key string) bool {
		return subscribableKeyRx.MatchString(key)
	}
}
