package upstream

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"modelrelay/internal/core"
)

// Chunk is one decoded record from a backend token stream. The final
// record of a healthy stream carries Done=true together with the run
// statistics; completion is read from that flag, never inferred from
// stream closure.
type Chunk struct {
	Model         string       `json:"model"`
	Message       core.Message `json:"message"`
	Done          bool         `json:"done"`
	TotalDuration int64        `json:"total_duration,omitempty"`
	EvalCount     int          `json:"eval_count,omitempty"`
}

// WarnFunc receives non-fatal decode problems: a malformed line inside an
// otherwise healthy stream, or an unterminated trailing line at end of
// stream. Neither terminates decoding.
type WarnFunc func(err error)

// Decoder turns a raw byte stream of newline-delimited JSON records into a
// sequence of Chunks. Input may arrive at arbitrary granularity; the
// decoder buffers the trailing incomplete line between reads. A Decoder is
// not safe for concurrent use and cannot be restarted.
type Decoder struct {
	r       io.Reader
	buf     []byte
	scratch [4096]byte
	warn    WarnFunc
	eof     bool
}

// NewDecoder returns a Decoder reading from r. warn may be nil.
func NewDecoder(r io.Reader, warn WarnFunc) *Decoder {
	return &Decoder{r: r, warn: warn}
}

// Next returns the next decoded chunk. It returns io.EOF once the
// underlying stream is exhausted, at which point a non-empty residual
// buffer is reported as a warning and discarded: an incomplete final line
// is not a complete record. Malformed lines are skipped with a warning and
// decoding continues.
func (d *Decoder) Next() (*Chunk, error) {
	for {
		for {
			i := bytes.IndexByte(d.buf, '\n')
			if i < 0 {
				break
			}
			line := bytes.TrimSpace(d.buf[:i])
			d.buf = d.buf[i+1:]
			if len(line) == 0 {
				continue
			}
			var c Chunk
			if err := json.Unmarshal(line, &c); err != nil {
				d.warnf(fmt.Errorf("skipping malformed stream line: %w", err))
				continue
			}
			return &c, nil
		}

		if d.eof {
			if len(bytes.TrimSpace(d.buf)) > 0 {
				d.warnf(errors.New("discarding incomplete trailing line at end of stream"))
				d.buf = nil
			}
			return nil, io.EOF
		}

		n, err := d.r.Read(d.scratch[:])
		if n > 0 {
			d.buf = append(d.buf, d.scratch[:n]...)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				d.eof = true
				continue
			}
			return nil, err
		}
	}
}

func (d *Decoder) warnf(err error) {
	if d.warn != nil {
		d.warn(err)
	}
}
