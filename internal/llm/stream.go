package llm

import (
	"fmt"
	"strings"

	"github.com/starford/steward/internal/apperr"
)

// source is the minimal iterator each backend stream is adapted to.
type source interface {
	Next() bool
	Fragment() string
	Err() error
	Close() error
}

// Stream is a finite, one-shot sequence of text fragments. It is not safe for
// concurrent use. Callers must Close it.
type Stream struct {
	src        source
	cur        string
	pending    string
	hasPending bool
	done       bool
	err        error
}

// newStream pulls the first non-empty fragment so that a backend that cannot
// be reached fails here rather than mid-response.
func newStream(src source) (*Stream, error) {
	s := &Stream{src: src}
	for src.Next() {
		if f := src.Fragment(); f != "" {
			s.pending, s.hasPending = f, true
			return s, nil
		}
	}
	if err := src.Err(); err != nil {
		_ = src.Close()
		return nil, fmt.Errorf("%w: %w", apperr.ErrLLMUnavailable, err)
	}
	s.done = true
	return s, nil
}

// Next advances to the next fragment.
func (s *Stream) Next() bool {
	if s.hasPending {
		s.cur, s.pending, s.hasPending = s.pending, "", false
		return true
	}
	if s.done {
		return false
	}
	for s.src.Next() {
		if f := s.src.Fragment(); f != "" {
			s.cur = f
			return true
		}
	}
	s.done = true
	if err := s.src.Err(); err != nil {
		s.err = fmt.Errorf("%w: %w", apperr.ErrLLMUnavailable, err)
	}
	return false
}

// Current returns the fragment Next advanced to.
func (s *Stream) Current() string { return s.cur }

// Err returns the error that ended the stream early, if any.
func (s *Stream) Err() error { return s.err }

// Close releases the underlying connection.
func (s *Stream) Close() error {
	s.done = true
	return s.src.Close()
}

// Collect drains the stream and closes it.
func (s *Stream) Collect() (string, error) {
	defer s.Close()
	var b strings.Builder
	for s.Next() {
		b.WriteString(s.Current())
	}
	return b.String(), s.Err()
}

type sliceSource struct {
	frags []string
	i     int
	err   error
}

func (s *sliceSource) Next() bool {
	if s.i >= len(s.frags) {
		return false
	}
	s.i++
	return true
}
func (s *sliceSource) Fragment() string { return s.frags[s.i-1] }
func (s *sliceSource) Err() error       { return s.err }
func (s *sliceSource) Close() error     { return nil }

// StreamOf returns a Stream yielding frags in order. Useful for fakes.
func StreamOf(frags ...string) *Stream {
	s, _ := newStream(&sliceSource{frags: frags})
	return s
}

// StreamFailing returns a Stream yielding frags and then failing with err.
func StreamFailing(err error, frags ...string) *Stream {
	src := &sliceSource{frags: frags, err: err}
	s, openErr := newStream(src)
	if openErr != nil {
		return &Stream{src: src, done: true, err: openErr}
	}
	return s
}
