package playback

import (
	"sync"
	"time"

	"github.com/loqalabs/devmaster/internal/audio"
)

// TimerOutput plays nothing audible but holds each stream open for the
// buffer's real duration. It is the default for headless hosts.
type TimerOutput struct{}

func (TimerOutput) Start(buf *audio.Buffer) (Stream, error) {
	s := &timerStream{done: make(chan struct{})}
	s.mu.Lock()
	s.timer = time.AfterFunc(buf.Duration(), s.end)
	s.mu.Unlock()
	return s, nil
}

type timerStream struct {
	mu    sync.Mutex
	timer *time.Timer
	once  sync.Once
	done  chan struct{}
}

func (s *timerStream) Done() <-chan struct{} { return s.done }

func (s *timerStream) Stop() {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.mu.Unlock()
	s.end()
}

func (s *timerStream) end() {
	s.once.Do(func() { close(s.done) })
}

// Discard ends every stream immediately.
type Discard struct{}

func (Discard) Start(*audio.Buffer) (Stream, error) {
	s := &timerStream{done: make(chan struct{})}
	s.end()
	return s, nil
}
