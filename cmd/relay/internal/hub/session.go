package hub

import (
	"sync"
	"time"
)

type feedKind int

const (
	boardFeed feedKind = iota
	watchFeed
)

// pushTimer runs push every interval on its own goroutine until stopped.
type pushTimer struct {
	stop chan struct{}
	done chan struct{}
}

func startTimer(every time.Duration, push func()) *pushTimer {
	t := &pushTimer{stop: make(chan struct{}), done: make(chan struct{})}
	go func() {
		defer close(t.done)
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-t.stop:
				return
			case <-ticker.C:
				push()
			}
		}
	}()
	return t
}

// Stop returns once the timer goroutine has exited.
func (t *pushTimer) Stop() {
	close(t.stop)
	<-t.done
}

// Session is the hub-side state of one downstream connection.
type Session struct {
	client   ClientInterface
	identity string

	mu         sync.Mutex
	closed     bool
	boardTimer *pushTimer
	watchTimer *pushTimer
	rooms      map[string]struct{}

	cleanup sync.Once
}

func newSession(client ClientInterface, identity string) *Session {
	return &Session{client: client, identity: identity, rooms: make(map[string]struct{})}
}

func (s *Session) ID() string       { return s.client.ID() }
func (s *Session) Identity() string { return s.identity }
func (s *Session) IsGuest() bool    { return s.identity == "" }

func (s *Session) slot(kind feedKind) **pushTimer {
	if kind == boardFeed {
		return &s.boardTimer
	}
	return &s.watchTimer
}

func (s *Session) cancelTimer(kind feedKind) {
	s.mu.Lock()
	slot := s.slot(kind)
	t := *slot
	*slot = nil
	s.mu.Unlock()
	if t != nil {
		t.Stop()
	}
}

// setTimer installs t unless the session is already closed, in which case t
// is stopped and false returned.
func (s *Session) setTimer(kind feedKind, t *pushTimer) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		t.Stop()
		return false
	}
	slot := s.slot(kind)
	prev := *slot
	*slot = t
	s.mu.Unlock()
	if prev != nil {
		prev.Stop()
	}
	return true
}

func (s *Session) hasTimer(kind feedKind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.slot(kind) != nil
}

// close marks the session closed and stops both timers.
func (s *Session) close() {
	s.mu.Lock()
	s.closed = true
	board, watch := s.boardTimer, s.watchTimer
	s.boardTimer, s.watchTimer = nil, nil
	s.mu.Unlock()
	if board != nil {
		board.Stop()
	}
	if watch != nil {
		watch.Stop()
	}
}
