package server

import (
	"sync"
	"time"
)

// EventKind identifies what an Event carries
type EventKind int

const (
	// EventLine carries one line of console output
	EventLine EventKind = iota + 1
	// EventState carries a supervisor state transition
	EventState
	// EventExit carries the exit information of a finished instance
	EventExit
)

func (k EventKind) String() string {
	switch k {
	case EventLine:
		return "line"
	case EventState:
		return "state"
	case EventExit:
		return "exit"
	default:
		return "unknown"
	}
}

// Event is one item of the supervisor's output sequence
type Event struct {
	Seq        uint64
	InstanceID string
	Kind       EventKind
	Line       string
	State      State
	Exit       *ExitInfo
	Time       time.Time
}

// eventBus fans published events out to every live subscription
type eventBus struct {
	mu   sync.Mutex
	seq  uint64
	subs map[*Subscription]struct{}
}

func newEventBus() *eventBus {
	return &eventBus{subs: make(map[*Subscription]struct{})}
}

func (b *eventBus) publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	ev.Seq = b.seq
	ev.Time = time.Now()
	for sub := range b.subs {
		sub.push(ev)
	}
}

func (b *eventBus) subscribe() *Subscription {
	sub := &Subscription{
		bus:    b,
		notify: make(chan struct{}, 1),
		out:    make(chan Event),
		quit:   make(chan struct{}),
	}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	go sub.run()
	return sub
}

func (b *eventBus) remove(sub *Subscription) {
	b.mu.Lock()
	delete(b.subs, sub)
	b.mu.Unlock()
}

// Subscription receives every event published after it was created.
// Its queue is unbounded: a slow reader delays only itself and never loses events.
type Subscription struct {
	bus *eventBus

	mu    sync.Mutex
	queue []Event

	notify    chan struct{}
	out       chan Event
	quit      chan struct{}
	closeOnce sync.Once
}

// Events returns the ordered event channel. It is closed after Close.
func (s *Subscription) Events() <-chan Event {
	return s.out
}

// Close detaches the subscription and drops undelivered events
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.bus.remove(s)
		close(s.quit)
	})
}

func (s *Subscription) push(ev Event) {
	s.mu.Lock()
	s.queue = append(s.queue, ev)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Subscription) run() {
	defer close(s.out)

	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-s.notify:
				continue
			case <-s.quit:
				return
			}
		}
		ev := s.queue[0]
		s.queue[0] = Event{}
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- ev:
		case <-s.quit:
			return
		}
	}
}
