package bus

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/torosent/busprobe/internal/probe"
)

// ErrConnectionClosed is returned by Next once the underlying connection is
// gone for good.
var ErrConnectionClosed = errors.New("bus: connection closed")

// Source delivers observed bus messages one at a time.
//
// Next blocks until a message is available, the context ends, or the source
// fails. A finite source reports io.EOF after its last message.
type Source interface {
	Next(ctx context.Context) (probe.Message, error)
	Close() error
}

// Recorded is implemented by sources that stamp messages with times from a
// recorded timeline rather than the moment they were read. Expiry for such
// sources has to follow message time.
type Recorded interface {
	RecordedTimeline() bool
}

// ChannelSource adapts a channel of messages to a Source. Closing the channel
// ends the source with io.EOF.
type ChannelSource struct {
	ch        <-chan probe.Message
	done      chan struct{}
	closeOnce sync.Once
}

func NewChannelSource(ch <-chan probe.Message) *ChannelSource {
	return &ChannelSource{ch: ch, done: make(chan struct{})}
}

func (s *ChannelSource) Next(ctx context.Context) (probe.Message, error) {
	select {
	case <-s.done:
		return probe.Message{}, ErrConnectionClosed
	default:
	}
	select {
	case m, ok := <-s.ch:
		if !ok {
			return probe.Message{}, io.EOF
		}
		return m, nil
	case <-s.done:
		return probe.Message{}, ErrConnectionClosed
	case <-ctx.Done():
		return probe.Message{}, ctx.Err()
	}
}

// Close makes pending and future Next calls return ErrConnectionClosed.
func (s *ChannelSource) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}
