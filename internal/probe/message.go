package probe

import "time"

// Message is one observed bus message.
type Message struct {
	Subject     string
	ReplyTo     string
	PayloadSize int64
	HasError    bool
	// ReceivedAt is the arrival instant stamped by the source. The zero value
	// means the observer should use its own clock.
	ReceivedAt time.Time
}

// PendingRequest is a request waiting for a response on its reply address.
type PendingRequest struct {
	OriginalSubject string
	StartedAt       time.Time
}

// Kind classifies an observed message.
type Kind int

const (
	KindUnrelated Kind = iota
	KindRequest
	KindResponse
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindResponse:
		return "response"
	default:
		return "unrelated"
	}
}

// Exchange describes a request whose fate has been decided.
type Exchange struct {
	Key       string // reply address the request was correlated on
	Subject   string // subject the request was published to
	StartedAt time.Time
	EndedAt   time.Time
	Latency   time.Duration
	Error     bool
	TimedOut  bool
}

// Outcome reports how Observe classified a message.
type Outcome struct {
	Kind Kind
	// Replaced is set when a request displaced an unresolved request with the
	// same reply address.
	Replaced bool
	// Exchange is populated for responses.
	Exchange Exchange
}
