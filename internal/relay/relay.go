package relay

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"modelrelay/internal/core"
	"modelrelay/internal/observability"
	"modelrelay/internal/upstream"
)

// Relay serves single-model chat requests: non-streaming requests are
// driven to completion internally, streaming requests are translated chunk
// by chunk onto the outbound event stream.
type Relay struct {
	client  *upstream.Client
	logger  *slog.Logger
	metrics *observability.Metrics
}

// New creates a Relay. logger must not be nil; metrics may be.
func New(client *upstream.Client, logger *slog.Logger, metrics *observability.Metrics) *Relay {
	return &Relay{client: client, logger: logger, metrics: metrics}
}

// Complete drives one upstream session to completion and returns a single
// result record. No incremental events are produced.
func (r *Relay) Complete(ctx context.Context, req *core.ChatRequest) (*core.ChatResult, error) {
	sess, err := r.open(ctx, req.Model, req.Messages, req.Options)
	if err != nil {
		return nil, err
	}
	defer r.closeSession(sess)

	var totalDuration int64
	var evalCount int
	for {
		chunk, err := sess.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			r.metrics.UpstreamError(req.Model)
			return nil, core.NewUpstreamUnavailableError("ollama", "stream read failed: "+err.Error(), err)
		}
		r.metrics.ChunkRelayed(req.Model, observability.ModeChat)
		if chunk.Done {
			totalDuration = chunk.TotalDuration
			evalCount = chunk.EvalCount
			break
		}
	}

	return &core.ChatResult{
		Model:         req.Model,
		Message:       core.Message{Role: core.RoleAssistant, Content: sess.Content()},
		TotalDuration: totalDuration,
		EvalCount:     evalCount,
	}, nil
}

// Stream relays one upstream session onto w: one message event per chunk,
// then exactly one done sentinel after the stream ends. If the session
// fails before any chunk arrives, exactly one error event is written and
// no done sentinel follows.
func (r *Relay) Stream(ctx context.Context, req *core.ChatRequest, w *EventWriter) error {
	sess, err := r.open(ctx, req.Model, req.Messages, req.Options)
	if err != nil {
		if werr := w.WriteEvent(EventError, ErrorEvent{Error: core.ErrorMessage(err)}); werr != nil {
			r.logger.Warn("client gone before error event", "model", req.Model, "error", werr)
		}
		return err
	}
	defer r.closeSession(sess)

	for {
		chunk, err := sess.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				// Mid-stream read failure after delivery started: treat as
				// end-of-stream, the done sentinel still follows.
				r.logger.Warn("stream ended early", "model", req.Model, "error", err)
				r.metrics.UpstreamError(req.Model)
			}
			break
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		model := chunk.Model
		if model == "" {
			model = req.Model
		}
		ev := MessageEvent{Content: chunk.Message.Content, Done: chunk.Done, Model: model}
		if err := w.WriteEvent(EventMessage, ev); err != nil {
			return err
		}
		r.metrics.ChunkRelayed(req.Model, observability.ModeChat)
		if chunk.Done {
			break
		}
	}

	// A cancelled request never gets the done sentinel.
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return w.WriteDone()
}

func (r *Relay) open(ctx context.Context, model string, messages []core.Message, opts *core.Options) (*upstream.Session, error) {
	sess, err := upstream.OpenSession(ctx, r.client, upstream.SessionParams{
		Model:    model,
		Messages: messages,
		Options:  opts,
	}, r.warnFunc(model))
	if err != nil {
		r.metrics.UpstreamError(model)
		return nil, err
	}
	r.metrics.SessionOpened()
	return sess, nil
}

func (r *Relay) closeSession(sess *upstream.Session) {
	_ = sess.Close()
	r.metrics.SessionClosed()
}

func (r *Relay) warnFunc(model string) upstream.WarnFunc {
	return func(err error) {
		r.logger.Warn("decode warning", "model", model, "error", err)
		r.metrics.DecodeWarning()
	}
}
