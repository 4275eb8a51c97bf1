package loops

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// ErrGracefulStop, returned from an iteration, ends the loop without error.
var ErrGracefulStop = errors.New("stop")

// Run calls fn immediately and then once per interval until ctx is done or fn
// fails. Time spent inside fn counts towards the interval. A panic inside fn
// is turned into the returned error.
func Run(ctx context.Context, logger zerolog.Logger, interval time.Duration, fn func(ctx context.Context) error) (err error) {
	defer recoverPanic(logger, &err)

	if interval <= 0 {
		return errors.Errorf("invalid loop interval %s", interval)
	}

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-timer.C:
			start := time.Now()

			if fnErr := fn(ctx); fnErr != nil {
				if errors.Is(fnErr, ErrGracefulStop) {
					return nil
				}

				return fnErr
			}

			next := interval - time.Since(start)
			if next < 0 {
				next = interval
			}

			timer.Reset(next)
		}
	}
}

func recoverPanic(logger zerolog.Logger, err *error) {
	r := recover()
	if r == nil {
		return
	}

	if e, ok := r.(error); ok {
		*err = errors.Wrap(e, "loop panicked")
	} else {
		*err = errors.Errorf("loop panic: %v", r)
	}

	logger.Err(*err).Msg("loop panicked")
	logger.Debug().Msg(string(debug.Stack()))
}
