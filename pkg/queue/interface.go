package queue

import (
	"errors"

	"talehopper/pkg/schema"
)

var (
	ErrFull    = errors.New("queue is full")
	ErrStopped = errors.New("queue is stopped")
)

// Queue delivers feedback in the background. Add returns a channel that
// receives the delivery result once, or an error when the queue cannot take
// more work.
type Queue interface {
	Start()
	Stop()
	Add(fb schema.Feedback) (<-chan error, error)
}
