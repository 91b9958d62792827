package ai

import (
	"context"
	"io"
	"sync"
)

// Stream is a pull-based sequence of text fragments. Next returns io.EOF
// after natural completion. Close releases the underlying connection and
// may be called more than once.
type Stream interface {
	Next(ctx context.Context) (string, error)
	Close() error
}

// StreamProvider streams completion fragments. Transport failures that
// happen before the first fragment surface from the first Next call.
type StreamProvider interface {
	StreamChat(ctx context.Context, req ChatRequest) Stream
}

// Configurable is implemented by providers that can be registered without
// credentials. Unconfigured providers are skipped by the strategy table.
type Configurable interface {
	Configured() bool
}

// ProduceFunc pushes fragments until the response ends. It must return
// when ctx is done.
type ProduceFunc func(ctx context.Context, emit func(string) bool) error

type chanStream struct {
	chunks <-chan string
	errs   <-chan error
	cancel context.CancelFunc
	once   sync.Once
}

// NewStream runs produce in its own goroutine and exposes its output as a
// Stream. Closing the stream cancels the producer.
func NewStream(ctx context.Context, produce ProduceFunc) Stream {
	pctx, cancel := context.WithCancel(ctx)
	chunks := make(chan string, 16)
	errs := make(chan error, 1)

	go func() {
		emit := func(s string) bool {
			select {
			case chunks <- s:
				return true
			case <-pctx.Done():
				return false
			}
		}
		err := produce(pctx, emit)
		errs <- err
		close(errs)
		close(chunks)
	}()

	return &chanStream{chunks: chunks, errs: errs, cancel: cancel}
}

func (s *chanStream) Next(ctx context.Context) (string, error) {
	select {
	case c, ok := <-s.chunks:
		if ok {
			return c, nil
		}
		if err := <-s.errs; err != nil {
			return "", err
		}
		return "", io.EOF
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (s *chanStream) Close() error {
	s.once.Do(s.cancel)
	return nil
}
