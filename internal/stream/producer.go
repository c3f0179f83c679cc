package stream

import (
	"context"
	"errors"
	"fmt"
	"log"
)

// Source yields items one at a time. Next may block; it is never called
// concurrently with itself.
type Source[T any] interface {
	Next() (T, error)
	Close() error
}

// Producer pulls items from a Source and pushes them into a Queue.
type Producer[T any] struct {
	// Name labels log lines.
	Name string

	// Open constructs the source inside the producer goroutine.
	Open func() (Source[T], error)

	// Queue receives every item that fits.
	Queue *Queue[T]

	// Started, if set, fires once the source is open.
	Started *Signal

	// After, if set, is waited on before the first Next, so a second
	// producer can start only once the first one is streaming.
	After *Signal

	// Discard, if set, releases items the queue rejected.
	Discard func(T)

	// Logger defaults to log.Default().
	Logger *log.Logger
}

// Result summarises one producer run.
type Result struct {
	// Items is the number of items read from the source
	Items int64

	// Err is the error that ended the run, nil on cancellation
	Err error
}

// Run opens the source and streams until ctx is cancelled or Next fails.
// Cancellation is checked once per iteration, so an in-flight Next always
// completes first. The source is closed before Run returns. A cancelled
// run reports a nil error.
func (p *Producer[T]) Run(ctx context.Context) Result {
	logger := p.Logger
	if logger == nil {
		logger = log.Default()
	}

	src, err := p.Open()
	if err != nil {
		return Result{Err: fmt.Errorf("open %s: %w", p.Name, err)}
	}
	defer func() {
		if err := src.Close(); err != nil {
			logger.Printf("%s: close: %v", p.Name, err)
		}
	}()

	if p.Started != nil {
		p.Started.Fire()
	}
	if p.After != nil {
		if err := p.After.Wait(ctx); err != nil {
			return Result{}
		}
	}

	var res Result
	for {
		if ctx.Err() != nil {
			return res
		}

		item, err := src.Next()
		if err != nil {
			if errors.Is(err, context.Canceled) && ctx.Err() != nil {
				return res
			}
			res.Err = err
			return res
		}
		res.Items++

		if !p.Queue.TryPush(item) && p.Discard != nil {
			p.Discard(item)
		}
	}
}
