package ocr

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

type funcEngine struct {
	fn func(ctx context.Context, page Page) (string, error)
}

func (funcEngine) Name() string { return "func" }

func (e funcEngine) ExtractText(ctx context.Context, page Page) (string, error) {
	return e.fn(ctx, page)
}

// hungEngine ignores cancellation entirely.
func hungEngine(release <-chan struct{}) funcEngine {
	return funcEngine{fn: func(context.Context, Page) (string, error) {
		<-release
		return "too late", nil
	}}
}

type recordingRunner struct {
	mu     sync.Mutex
	calls  [][]string
	stdout []byte
	err    error
	delay  time.Duration
}

func (r *recordingRunner) Run(ctx context.Context, name string, _ *slog.Logger, args ...string) ([]byte, []byte, error) {
	r.mu.Lock()
	r.calls = append(r.calls, append([]string{name}, args...))
	r.mu.Unlock()
	if r.delay > 0 {
		select {
		case <-time.After(r.delay):
		case <-ctx.Done():
			return nil, nil, errors.Join(ctx.Err(), errors.New("signal: killed"))
		}
	}
	return r.stdout, nil, r.err
}
