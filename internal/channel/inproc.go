package channel

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InProc is an in-process Channel. Sent messages accumulate in an outbox
// and responses are injected with Respond, typically by a CLI command or a
// test.
type InProc struct {
	// mu protects outbox and waiters.
	mu      sync.Mutex
	outbox  []Message
	waiters map[string]chan Response
	// maxOutbox bounds retained messages.
	maxOutbox int
}

// NewInProc creates an in-process channel.
func NewInProc() *InProc {
	return &InProc{
		waiters:   make(map[string]chan Response),
		maxOutbox: 500,
	}
}

// Notify records the message in the outbox.
func (c *InProc) Notify(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if msg.ID == "" {
		msg.ID = "msg-" + uuid.New().String()[:8]
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.outbox = append(c.outbox, msg)
	if len(c.outbox) > c.maxOutbox {
		c.outbox = c.outbox[len(c.outbox)-c.maxOutbox:]
	}
	return nil
}

// AwaitResponse blocks until Respond is called with the correlation ID.
func (c *InProc) AwaitResponse(ctx context.Context, correlationID string, timeout time.Duration) (Response, error) {
	c.mu.Lock()
	ch, ok := c.waiters[correlationID]
	if !ok {
		ch = make(chan Response, 1)
		c.waiters[correlationID] = ch
	}
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.waiters, correlationID)
		c.mu.Unlock()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		return resp, nil
	case <-timer.C:
		return Response{}, ErrTimeout
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}

// Respond delivers a response to a pending AwaitResponse call. Responses
// with no waiter are buffered for the next waiter on the same ID.
func (c *InProc) Respond(resp Response) {
	if resp.ReceivedAt.IsZero() {
		resp.ReceivedAt = time.Now()
	}

	c.mu.Lock()
	ch, ok := c.waiters[resp.CorrelationID]
	if !ok {
		ch = make(chan Response, 1)
		c.waiters[resp.CorrelationID] = ch
	}
	c.mu.Unlock()

	select {
	case ch <- resp:
	default:
	}
}

// Outbox returns a copy of the retained messages, oldest first.
func (c *InProc) Outbox() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.outbox...)
}
