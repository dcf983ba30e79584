package upstream

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"modelrelay/internal/core"
)

// chatPayload is the native backend chat request body.
type chatPayload struct {
	Model    string         `json:"model"`
	Messages []core.Message `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  *core.Options  `json:"options,omitempty"`
}

// SessionParams describes one logical request against one model.
type SessionParams struct {
	Model    string
	Messages []core.Message
	Options  *core.Options
}

// Session owns one streaming connection to the backend for one logical
// request. It is owned exclusively by its caller (the relay, or one slot
// of a comparison run) and must be closed when the stream ends or errors.
type Session struct {
	model   string
	body    io.ReadCloser
	dec     *Decoder
	started time.Time
	content strings.Builder
}

// OpenSession opens a streaming chat request for one model. Connection
// failures, non-success statuses and absent bodies all surface as a single
// upstream-unavailable error; this layer never retries.
func OpenSession(ctx context.Context, client *Client, p SessionParams, warn WarnFunc) (*Session, error) {
	body, err := client.DoStream(ctx, Request{
		Method:   http.MethodPost,
		Endpoint: "/api/chat",
		Body: chatPayload{
			Model:    p.Model,
			Messages: p.Messages,
			Stream:   true,
			Options:  p.Options,
		},
	})
	if err != nil {
		return nil, err
	}

	return &Session{
		model:   p.Model,
		body:    body,
		dec:     NewDecoder(body, warn),
		started: time.Now(),
	}, nil
}

// Model returns the model identifier this session was opened for.
func (s *Session) Model() string { return s.model }

// Content returns everything accumulated so far: the concatenation of
// every delta returned by Next, in delivery order.
func (s *Session) Content() string { return s.content.String() }

// Elapsed returns the time since the session was opened.
func (s *Session) Elapsed() time.Duration { return time.Since(s.started) }

// Next returns the next decoded chunk, appending its content delta to the
// session's accumulated content. It returns io.EOF when the backend stream
// ends.
func (s *Session) Next() (*Chunk, error) {
	c, err := s.dec.Next()
	if err != nil {
		return nil, err
	}
	s.content.WriteString(c.Message.Content)
	return c, nil
}

// Close releases the underlying connection.
func (s *Session) Close() error {
	return s.body.Close()
}
