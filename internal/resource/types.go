package resource

import (
	"context"
	"time"
)

// Retriever fetches the resource identified by key.
type Retriever[T any] func(ctx context.Context, key string) (T, error)

// ErrorInfo is the normalized shape every failure is reported as.
type ErrorInfo struct {
	Message string `json:"message"`
}

func (e ErrorInfo) Error() string {
	return e.Message
}

// NewErrorInfo returns nil for a nil error.
func NewErrorInfo(err error) *ErrorInfo {
	if err == nil {
		return nil
	}
	return &ErrorInfo{Message: err.Error()}
}

type State[T any] struct {
	Key     string
	Data    T
	HasData bool
	Loading bool
	Err     *ErrorInfo
}

// Result is the outcome of a single request.
//
// Superseded is set when a newer request was started before this one settled.
// The value of a superseded request is never applied to the state.
type Result[T any] struct {
	Value      T
	Err        *ErrorInfo
	Superseded bool
}

func (r Result[T]) OK() bool {
	return r.Err == nil && !r.Superseded
}

type KeyChanged struct {
	Old string
	New string
}

type Observer[T any] func(State[T])

type request struct {
	key        string
	generation uint64
	startedAt  time.Time
	settled    chan struct{}
}
