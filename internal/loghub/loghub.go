// Package loghub implements the per-process log fan-out described in
// spec.md §4.3: a bounded ring-buffer tail plus a set of subscribers, each
// with its own bounded outbound queue so that one slow subscriber never
// stalls the child process or any other subscriber.
//
// The design follows the teacher's processes.LogBuffer (monotonic entry
// IDs, bounded ring buffer) but replaces its callback-fan-out with
// per-subscriber channels, per spec.md §4.3/§9 ("bounded channels per
// subscriber").
package loghub

import (
	"sync"
)

// Channel identifies which of the child's output streams a line came from.
type Channel string

const (
	ChannelStdout Channel = "stdout"
	ChannelStderr Channel = "stderr"
)

const (
	defaultTailSize  = 256
	defaultQueueSize = 1024
)

// Line is one published line of child output.
type Line struct {
	ID      int64
	Channel Channel
	Text    string
}

// gapMarker renders the out-of-band notice spec.md §4.3 describes for a
// subscriber that just caught up after dropping lines.
func gapMarker(n int) Line {
	return Line{Channel: "", Text: gapText(n)}
}

func gapText(n int) string {
	if n == 1 {
		return "-- gap: 1 line dropped --"
	}
	return "-- gap: " + itoa(n) + " lines dropped --"
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// Subscriber is a live observer of one process's output. Recv yields lines
// (and gap markers) in the order they were delivered. The channel is
// closed when the hub is closed or the subscriber calls Close.
type Subscriber struct {
	hub    *Hub
	ch     chan Line
	closed chan struct{}

	mu      sync.Mutex
	dropped int
	once    sync.Once
}

// Recv returns the channel of delivered lines. It is closed when the
// subscription ends.
func (s *Subscriber) Recv() <-chan Line { return s.ch }

// Close detaches the subscriber from the hub and closes its channel. Safe
// to call more than once.
func (s *Subscriber) Close() {
	s.once.Do(func() {
		s.hub.removeSubscriber(s)
		close(s.closed)
		close(s.ch)
	})
}

func (s *Subscriber) tryDeliver(line Line) {
	select {
	case <-s.closed:
		return
	default:
	}

	s.mu.Lock()
	pending := s.dropped
	s.mu.Unlock()

	if pending > 0 {
		select {
		case s.ch <- gapMarker(pending):
			s.mu.Lock()
			s.dropped -= pending
			s.mu.Unlock()
		default:
			s.mu.Lock()
			s.dropped++
			s.mu.Unlock()
			return
		}
	}

	select {
	case s.ch <- line:
	default:
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
	}
}

// Hub is the per-process log fan-out described by spec.md §4.3 (component
// C3). It is safe for concurrent use by one publishing supervisor and any
// number of subscribers/closers.
type Hub struct {
	mu          sync.Mutex
	tail        []Line
	tailCap     int
	queueCap    int
	nextID      int64
	subscribers map[*Subscriber]struct{}
	closed      bool
}

// Option configures a Hub at construction time.
type Option func(*Hub)

// WithTailSize overrides the default 256-line tail buffer capacity. A
// size of 0 disables the tail entirely (late subscribers get no history).
func WithTailSize(n int) Option {
	return func(h *Hub) { h.tailCap = n }
}

// WithQueueSize overrides the default per-subscriber outbound queue
// capacity (default 1024).
func WithQueueSize(n int) Option {
	return func(h *Hub) { h.queueCap = n }
}

// New creates a Hub ready to accept publishes and subscriptions.
func New(opts ...Option) *Hub {
	h := &Hub{
		tailCap:     defaultTailSize,
		queueCap:    defaultQueueSize,
		subscribers: make(map[*Subscriber]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Publish appends a line from the supervisor for the given channel and
// fans it out to every current subscriber. It never blocks: a full
// subscriber queue results in that subscriber being marked lagging and
// the line being dropped for it only. The hub lock is held while the
// line is offered to each subscriber, so concurrent publishers (the
// supervisor's stdout and stderr pumps) are serialized and a subscriber
// cannot be closed in the middle of a delivery.
func (h *Hub) Publish(ch Channel, text string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.nextID++
	line := Line{ID: h.nextID, Channel: ch, Text: text}
	if h.tailCap > 0 {
		h.tail = append(h.tail, line)
		if len(h.tail) > h.tailCap {
			h.tail = h.tail[len(h.tail)-h.tailCap:]
		}
	}
	for s := range h.subscribers {
		s.tryDeliver(line)
	}
}

// Subscribe registers a new subscriber. If replayTail is true, the
// subscriber receives a copy of the current tail buffer before any
// subsequently published line — the resolution of spec.md §9's open
// question in favor of tail replay on attach.
func (h *Hub) Subscribe(replayTail bool) *Subscriber {
	if replayTail {
		return h.SubscribeFrom(0)
	}
	return h.SubscribeFrom(h.LatestID())
}

// LatestID returns the ID of the most recently published line, or 0 if
// the hub has never published one.
func (h *Hub) LatestID() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.nextID
}

// SubscribeFrom registers a subscriber and replays only tail lines with
// ID greater than sinceID, letting a reconnecting client resume its
// stream without re-receiving lines it has already seen — grounded on
// the teacher's LogBuffer.GetEntriesFromID.
func (h *Hub) SubscribeFrom(sinceID int64) *Subscriber {
	h.mu.Lock()
	s := &Subscriber{
		hub:    h,
		ch:     make(chan Line, h.queueCap),
		closed: make(chan struct{}),
	}
	if h.closed {
		h.mu.Unlock()
		s.once.Do(func() {
			close(s.closed)
			close(s.ch)
		})
		return s
	}
	var backlog []Line
	for _, line := range h.tail {
		if line.ID > sinceID {
			backlog = append(backlog, line)
		}
	}
	h.subscribers[s] = struct{}{}

	for _, line := range backlog {
		select {
		case s.ch <- line:
		default:
			s.mu.Lock()
			s.dropped++
			s.mu.Unlock()
		}
	}
	h.mu.Unlock()
	return s
}

func (h *Hub) removeSubscriber(s *Subscriber) {
	h.mu.Lock()
	delete(h.subscribers, s)
	h.mu.Unlock()
}

// Close flushes no further lines (there can be none after the supervisor
// stops publishing) and closes every subscriber's channel. Called by the
// supervisor once the descriptor is being deleted and no further output
// is possible.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	subs := make([]*Subscriber, 0, len(h.subscribers))
	for s := range h.subscribers {
		subs = append(subs, s)
	}
	h.subscribers = make(map[*Subscriber]struct{})
	h.mu.Unlock()

	for _, s := range subs {
		s.once.Do(func() {
			close(s.closed)
			close(s.ch)
		})
	}
}
