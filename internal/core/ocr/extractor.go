package ocr

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/ocr-jobs/constants"
	"github.com/joseph-ayodele/ocr-jobs/internal/entity"
)

// Extractor runs an Engine on one page under a fixed deadline. The engine
// call runs in its own goroutine, so an engine that ignores ctx is abandoned
// when the deadline fires rather than stalling the caller.
type Extractor struct {
	engine  Engine
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

func NewExtractor(engine Engine, timeout time.Duration, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Extractor{engine: engine, timeout: timeout, logger: logger, now: time.Now}
}

// Timeout returns the per-page deadline.
func (x *Extractor) Timeout() time.Duration { return x.timeout }

type engineResult struct {
	text string
	err  error
}

// Extract never returns an error: failures are reported in the PageResult outcome.
func (x *Extractor) Extract(ctx context.Context, page Page) entity.PageResult {
	start := x.now()
	pctx, cancel := context.WithTimeout(ctx, x.timeout)
	defer cancel()

	ch := make(chan engineResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- engineResult{err: fmt.Errorf("engine panic: %v", r)}
			}
		}()
		text, err := x.engine.ExtractText(pctx, page)
		ch <- engineResult{text: text, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			if pctx.Err() != nil {
				return x.timedOut(ctx, page, start)
			}
			x.logger.Warn("page extraction failed", "page", page.Index, "engine", x.engine.Name(), "error", r.err)
			return entity.PageResult{
				Index:    page.Index,
				Outcome:  constants.PageOutcomeExtractionError,
				Duration: x.now().Sub(start),
				Error:    r.err.Error(),
			}
		}
		text := r.text
		return entity.PageResult{
			Index:    page.Index,
			Text:     &text,
			Outcome:  constants.PageOutcomeOK,
			Duration: x.now().Sub(start),
		}
	case <-pctx.Done():
		return x.timedOut(ctx, page, start)
	}
}

// timedOut reports the page deadline as the duration. When the parent context
// ended first the elapsed time is reported instead.
func (x *Extractor) timedOut(parent context.Context, page Page, start time.Time) entity.PageResult {
	dur := x.timeout
	msg := fmt.Sprintf("extraction exceeded %s", x.timeout)
	if parent.Err() != nil {
		dur = x.now().Sub(start)
		msg = "job deadline reached"
	}
	x.logger.Warn("page extraction timed out", "page", page.Index, "engine", x.engine.Name(), "timeout", x.timeout)
	return entity.PageResult{
		Index:    page.Index,
		Outcome:  constants.PageOutcomeTimeout,
		Duration: dur,
		Error:    msg,
	}
}
