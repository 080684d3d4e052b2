// Package playback drives a single active audio session over a pluggable
// output device.
package playback

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/loqalabs/devmaster/internal/audio"
)

var ErrNoBuffer = errors.New("playback: no buffer")

// Output attaches a buffer to a sound device and starts it.
type Output interface {
	Start(buf *audio.Buffer) (Stream, error)
}

// Stream is one attached buffer. Done is closed when output has ended,
// either naturally or after Stop. Stop must be idempotent.
type Stream interface {
	Done() <-chan struct{}
	Stop()
}

type Reason int

const (
	ReasonEnded Reason = iota + 1
	ReasonStopped
	// ReasonReplaced means a later Start took over the output.
	ReasonReplaced
)

func (r Reason) String() string {
	switch r {
	case ReasonEnded:
		return "ended"
	case ReasonStopped:
		return "stopped"
	case ReasonReplaced:
		return "replaced"
	default:
		return "active"
	}
}

// Session is the handle for one started playback.
type Session struct {
	id         uint64
	buffer     *audio.Buffer
	stream     Stream
	stopReason atomic.Int32
	once       sync.Once
	reason     atomic.Int32
	done       chan struct{}
}

func (s *Session) ID() uint64 { return s.id }

func (s *Session) Buffer() *audio.Buffer { return s.buffer }

// Done is closed exactly once, when the session completes.
func (s *Session) Done() <-chan struct{} { return s.done }

// Reason reports why the session completed; zero while still active.
func (s *Session) Reason() Reason { return Reason(s.reason.Load()) }

func (s *Session) Active() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

func (s *Session) stop(r Reason) {
	s.stopReason.CompareAndSwap(0, int32(r))
	s.stream.Stop()
}

func (s *Session) finish() bool {
	fired := false
	s.once.Do(func() {
		r := ReasonEnded
		if stopped := Reason(s.stopReason.Load()); stopped != 0 {
			r = stopped
		}
		s.reason.Store(int32(r))
		close(s.done)
		fired = true
	})
	return fired
}

// Controller owns at most one active Session.
type Controller struct {
	out        Output
	onComplete func(*Session)

	mu      sync.Mutex
	current *Session
	nextID  uint64
}

// NewController returns a controller on out. onComplete, if set, is called
// once per session after it completes; it runs on the session's watcher
// goroutine.
func NewController(out Output, onComplete func(*Session)) *Controller {
	return &Controller{out: out, onComplete: onComplete}
}

// Start detaches any current session, waits for it to complete, then attaches
// buf as the new session.
func (c *Controller) Start(buf *audio.Buffer) (*Session, error) {
	if buf == nil || buf.Length() == 0 {
		return nil, ErrNoBuffer
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.detachLocked(ReasonReplaced)

	stream, err := c.out.Start(buf)
	if err != nil {
		return nil, err
	}
	c.nextID++
	s := &Session{
		id:     c.nextID,
		buffer: buf,
		stream: stream,
		done:   make(chan struct{}),
	}
	c.current = s
	go c.watch(s)
	return s, nil
}

// Stop halts the current session. It is a no-op when nothing is playing.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.detachLocked(ReasonStopped)
}

// Current returns the active session, or nil.
func (c *Controller) Current() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil && !c.current.Active() {
		return nil
	}
	return c.current
}

func (c *Controller) Playing() bool { return c.Current() != nil }

func (c *Controller) detachLocked(r Reason) {
	prev := c.current
	if prev == nil {
		return
	}
	c.current = nil
	prev.stop(r)
	<-prev.stream.Done()
	if prev.finish() && c.onComplete != nil {
		go c.onComplete(prev)
	}
}

func (c *Controller) watch(s *Session) {
	<-s.stream.Done()
	if !s.finish() {
		return
	}
	c.mu.Lock()
	if c.current == s {
		c.current = nil
	}
	c.mu.Unlock()
	if c.onComplete != nil {
		c.onComplete(s)
	}
}
