package research

import "sync"

// Sink receives the ordered event stream of one research run. Emit must
// not block indefinitely; a sink whose consumer is gone should drop or
// return an error rather than stall the loop.
type Sink interface {
	Emit(Event) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(Event) error

func (f SinkFunc) Emit(e Event) error { return f(e) }

// DiscardSink swallows all events. Used by the background worker, which
// only cares about the final result.
var DiscardSink Sink = SinkFunc(func(Event) error { return nil })

// ChannelSink buffers events for a consumer goroutine. When the buffer is
// full the newest event is dropped and counted, so a stalled consumer
// never blocks the research loop.
type ChannelSink struct {
	ch chan Event

	mu      sync.Mutex
	closed  bool
	dropped int
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 64
	}
	return &ChannelSink{ch: make(chan Event, buffer)}
}

func (s *ChannelSink) Emit(e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		s.dropped++
		return nil
	}

	select {
	case s.ch <- e:
	default:
		s.dropped++
	}
	return nil
}

// Events returns the consumer side of the sink.
func (s *ChannelSink) Events() <-chan Event {
	return s.ch
}

// Close marks the sink closed and closes the consumer channel. Emits after
// Close are counted as dropped.
func (s *ChannelSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// Dropped reports how many events were discarded due to a full buffer or a
// closed sink.
func (s *ChannelSink) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}
