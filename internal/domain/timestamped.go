package domain

import "time"

// Timestamped is a value together with when it was retrieved from the upstream
type Timestamped[T any] struct {
	Value       T
	RetrievedAt time.Time
}
