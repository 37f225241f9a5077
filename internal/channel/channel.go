// Package channel carries messages between agents and the humans they are
// paired with or shadowing. The in-process implementation backs tests and
// single-binary deployments; the interface leaves room for real transports.
package channel

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout is returned when a human response does not arrive in time.
var ErrTimeout = errors.New("channel: response timed out")

// Message is a notification sent to a human.
type Message struct {
	// ID identifies the message.
	ID string `json:"id"`
	// Recipient is the human identity the message is addressed to.
	Recipient string `json:"recipient"`
	// ContactChannel names the configured delivery route (e.g. "slack:#ops").
	ContactChannel string `json:"contact_channel,omitempty"`
	// Subject is the short headline.
	Subject string `json:"subject"`
	// Body is the message content.
	Body string `json:"body"`
	// CorrelationID ties a later response back to this message.
	CorrelationID string `json:"correlation_id,omitempty"`
	// SentAt is when the message was accepted for delivery.
	SentAt time.Time `json:"sent_at"`
}

// Response is a human reply correlated to an earlier message.
type Response struct {
	// CorrelationID matches the originating message.
	CorrelationID string `json:"correlation_id"`
	// Body is the reply content.
	Body string `json:"body"`
	// Approved reports an explicit approval or rejection, when the
	// exchange was a yes/no question.
	Approved bool `json:"approved"`
	// ReceivedAt is when the reply arrived.
	ReceivedAt time.Time `json:"received_at"`
}

// Channel delivers messages to humans and collects their responses.
// Implementations must be safe for concurrent use.
type Channel interface {
	// Notify sends a message. Delivery is asynchronous; an error means
	// the message was not accepted.
	Notify(ctx context.Context, msg Message) error
	// AwaitResponse blocks until a response with the correlation ID
	// arrives, the timeout elapses, or the context is cancelled.
	AwaitResponse(ctx context.Context, correlationID string, timeout time.Duration) (Response, error)
}
