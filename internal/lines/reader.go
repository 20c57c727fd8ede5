// Package lines turns a raw byte stream into a sequence of complete text
// lines.
//
// The reader tolerates streams that deliver data one byte at a time, or not
// at all for long stretches: a read that returns no data is retried after a
// short idle wait instead of being treated as end of stream.
package lines

import (
	"bytes"
	"context"
	"errors"
	"io"
	"iter"
	"strings"
	"time"
)

// DefaultIdleInterval is the wait between reads that returned no data.
const DefaultIdleInterval = time.Millisecond

const chunkSize = 32 * 1024

// Reader yields newline-terminated lines from an io.Reader.
type Reader struct {
	src    io.Reader
	idle   time.Duration
	follow bool

	buf     []byte
	pending []string
	chunk   []byte
	eof     bool
}

// Option configures a Reader.
type Option func(*Reader)

// WithIdleInterval sets how long to wait before retrying a read that returned
// no data.
func WithIdleInterval(d time.Duration) Option {
	return func(r *Reader) {
		if d > 0 {
			r.idle = d
		}
	}
}

// WithFollow makes the reader treat io.EOF like an empty read, so it keeps
// polling a source that may grow (a FIFO reopened by its writer, a log file).
func WithFollow(follow bool) Option {
	return func(r *Reader) {
		r.follow = follow
	}
}

// NewReader creates a Reader over src.
func NewReader(src io.Reader, opts ...Option) *Reader {
	r := &Reader{
		src:   src,
		idle:  DefaultIdleInterval,
		chunk: make([]byte, chunkSize),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Next returns the next non-blank line without its trailing newline. It
// returns io.EOF once the source is exhausted and every buffered line has
// been delivered, or ctx.Err() if ctx is cancelled while waiting for data.
func (r *Reader) Next(ctx context.Context) (string, error) {
	for {
		if len(r.pending) > 0 {
			line := r.pending[0]
			r.pending = r.pending[1:]
			return line, nil
		}

		if r.eof {
			// The stream is closed, so the trailing segment is complete.
			tail := trimLine(string(r.buf))
			r.buf = nil
			if !isBlank(tail) {
				return tail, nil
			}
			return "", io.EOF
		}

		if err := ctx.Err(); err != nil {
			return "", err
		}

		n, err := r.src.Read(r.chunk)
		if n > 0 {
			r.buf = append(r.buf, r.chunk[:n]...)
			if bytes.IndexByte(r.chunk[:n], '\n') >= 0 {
				r.split()
			}
		}

		switch {
		case errors.Is(err, io.EOF):
			if !r.follow {
				r.eof = true
				continue
			}
		case err != nil:
			return "", err
		}

		if n == 0 {
			if err := r.wait(ctx); err != nil {
				return "", err
			}
		}
	}
}

// All returns an iterator over the remaining lines. Iteration stops after the
// first error, which is yielded unless it is io.EOF.
func (r *Reader) All(ctx context.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for {
			line, err := r.Next(ctx)
			if errors.Is(err, io.EOF) {
				return
			}
			if !yield(line, err) || err != nil {
				return
			}
		}
	}
}

// split moves every complete line out of the buffer and keeps the trailing
// partial segment.
func (r *Reader) split() {
	last := bytes.LastIndexByte(r.buf, '\n')
	if last < 0 {
		return
	}

	for _, segment := range strings.Split(string(r.buf[:last]), "\n") {
		line := trimLine(segment)
		if isBlank(line) {
			continue
		}
		r.pending = append(r.pending, line)
	}

	rest := make([]byte, len(r.buf)-last-1)
	copy(rest, r.buf[last+1:])
	r.buf = rest
}

func (r *Reader) wait(ctx context.Context) error {
	timer := time.NewTimer(r.idle)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func trimLine(s string) string {
	return strings.TrimSuffix(s, "\r")
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
