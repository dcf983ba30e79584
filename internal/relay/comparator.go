package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"modelrelay/internal/core"
	"modelrelay/internal/observability"
	"modelrelay/internal/upstream"
)

// Comparator fans one comparison request out to N models concurrently and
// merges their outputs onto one outbound event stream. Each session runs in
// its own goroutine and shares nothing with its siblings except the event
// writer; a slow or failing session never blocks delivery of another
// session's events.
type Comparator struct {
	client    *upstream.Client
	maxModels int
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// NewComparator creates a Comparator bounded to maxModels per run.
func NewComparator(client *upstream.Client, maxModels int, logger *slog.Logger, metrics *observability.Metrics) *Comparator {
	return &Comparator{client: client, maxModels: maxModels, logger: logger, metrics: metrics}
}

// Validate rejects requests that must not open any upstream connection:
// an empty model list or one exceeding the configured bound.
func (c *Comparator) Validate(req *core.CompareRequest) error {
	if len(req.Models) == 0 {
		return core.NewInvalidRequestError("models must not be empty", nil)
	}
	if len(req.Models) > c.maxModels {
		return core.NewInvalidRequestError(
			fmt.Sprintf("too many models: %d requested, at most %d allowed", len(req.Models), c.maxModels), nil)
	}
	return nil
}

// Run executes one comparison run. It returns after every session has
// completed or errored and the all_done event has been written. If ctx is
// cancelled the run stops without emitting all_done.
func (c *Comparator) Run(ctx context.Context, req *core.CompareRequest, w *EventWriter) error {
	if err := c.Validate(req); err != nil {
		return err
	}

	start := time.Now()

	var wg sync.WaitGroup
	for _, model := range req.Models {
		wg.Add(1)
		go func(model string) {
			defer wg.Done()
			c.runSession(ctx, model, req, w)
		}(model)
	}
	// Await-all barrier: each goroutine resolves its session exactly once
	// (completed or errored) before returning, so no session can be counted
	// twice or missed.
	wg.Wait()

	if ctx.Err() != nil {
		return ctx.Err()
	}

	elapsed := time.Since(start)
	c.metrics.RunCompleted(elapsed)
	return w.WriteEvent(EventAllDone, AllDoneEvent{TotalDuration: elapsed.Milliseconds()})
}

// runSession drives one session from open to its terminal event. Within
// the session, events are strictly ordered: chunk* then model_done, or
// model_error. Failures are local and never affect siblings.
func (c *Comparator) runSession(ctx context.Context, model string, req *core.CompareRequest, w *EventWriter) {
	logger := c.logger.With("model", model)

	sess, err := upstream.OpenSession(ctx, c.client, upstream.SessionParams{
		Model:    model,
		Messages: req.Messages,
		Options:  req.Options,
	}, c.warnFunc(model))
	if err != nil {
		c.metrics.UpstreamError(model)
		if ctx.Err() != nil {
			return
		}
		logger.Warn("session failed to open", "error", err)
		c.writeModelError(w, model, err, logger)
		return
	}
	c.metrics.SessionOpened()
	defer func() {
		_ = sess.Close()
		c.metrics.SessionClosed()
	}()

	for {
		chunk, err := sess.Next()
		if err != nil {
			if ctx.Err() != nil {
				// Cancelled: connection is closed by the deferred Close,
				// nothing further is written.
				return
			}
			if errors.Is(err, io.EOF) {
				// Stream ended without an explicit final chunk: implicit
				// completion.
				c.writeModelDone(w, sess, 0, logger)
				return
			}
			c.metrics.UpstreamError(model)
			logger.Warn("session read failed", "error", err)
			c.writeModelError(w, model, err, logger)
			return
		}
		if ctx.Err() != nil {
			return
		}

		ev := ChunkEvent{Model: model, Content: chunk.Message.Content, Done: chunk.Done}
		if err := w.WriteEvent(EventChunk, ev); err != nil {
			logger.Warn("client gone mid-stream", "error", err)
			return
		}
		c.metrics.ChunkRelayed(model, observability.ModeCompare)

		if chunk.Done {
			c.writeModelDone(w, sess, chunk.EvalCount, logger)
			return
		}
	}
}

func (c *Comparator) writeModelDone(w *EventWriter, sess *upstream.Session, evalCount int, logger *slog.Logger) {
	ev := ModelDoneEvent{
		Model:       sess.Model(),
		FullContent: sess.Content(),
		Duration:    sess.Elapsed().Milliseconds(),
		EvalCount:   evalCount,
	}
	if err := w.WriteEvent(EventModelDone, ev); err != nil {
		logger.Warn("client gone before model_done", "error", err)
	}
}

func (c *Comparator) writeModelError(w *EventWriter, model string, cause error, logger *slog.Logger) {
	ev := ModelErrorEvent{Model: model, Error: core.ErrorMessage(cause), Done: true}
	if err := w.WriteEvent(EventModelError, ev); err != nil {
		logger.Warn("client gone before model_error", "error", err)
	}
}

func (c *Comparator) warnFunc(model string) upstream.WarnFunc {
	return func(err error) {
		c.logger.Warn("decode warning", "model", model, "error", err)
		c.metrics.DecodeWarning()
	}
}
