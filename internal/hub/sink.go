package hub

import "errors"

var ErrSinkClosed = errors.New("sink closed")

// Sink is the write side of one subscriber connection.
//
// Send and Heartbeat may be called from different goroutines and must return
// ErrSinkClosed once Close has run. A non-nil error from either tells the hub
// the subscriber is gone.
type Sink interface {
	Send(payload []byte) error
	Heartbeat() error
	Close() error
}
