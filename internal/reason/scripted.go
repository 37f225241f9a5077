package reason

import (
	"context"
	"sync"
)

// Scripted is a deterministic Reasoner for tests and offline operation.
// Queued responses are returned in order; once drained, every call returns
// the fallback.
type Scripted struct {
	mu       sync.Mutex
	queue    []Result
	errs     []error
	fallback string
	calls    []Request
}

// NewScripted creates a scripted reasoner with the given fallback text.
func NewScripted(fallback string) *Scripted {
	return &Scripted{fallback: fallback}
}

// Queue appends a response to return on a future call.
func (s *Scripted) Queue(text string) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, Result{Text: text})
	s.errs = append(s.errs, nil)
	return s
}

// QueueError appends an error to return on a future call.
func (s *Scripted) QueueError(err error) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, Result{})
	s.errs = append(s.errs, err)
	return s
}

// Respond returns the next queued response, or the fallback.
func (s *Scripted) Respond(ctx context.Context, req Request) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, req)
	if len(s.queue) > 0 {
		res, err := s.queue[0], s.errs[0]
		s.queue, s.errs = s.queue[1:], s.errs[1:]
		return res, err
	}
	return Result{Text: s.fallback}, nil
}

// Calls returns the requests seen so far.
func (s *Scripted) Calls() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.calls...)
}
