package engine

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/ashureev/patchbot/internal/domain"
)

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("serializer closed")

// Handler processes one event.
type Handler interface {
	Handle(ctx context.Context, ev domain.Event, reply ReplyFunc)
}

type job struct {
	ev    domain.Event
	reply ReplyFunc
	done  chan struct{}
}

type lane struct {
	queue []job
}

// Serializer gives every user a FIFO lane: events of one user are handled in
// arrival order, one at a time, while different users run concurrently.
type Serializer struct {
	handler Handler
	ctx     context.Context
	logger  *slog.Logger

	mu     sync.Mutex
	lanes  map[string]*lane
	closed bool
	wg     sync.WaitGroup
}

// NewSerializer creates a serializer. ctx bounds every handled event.
func NewSerializer(ctx context.Context, h Handler, logger *slog.Logger) *Serializer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Serializer{
		handler: h,
		ctx:     ctx,
		logger:  logger.With("component", "serializer"),
		lanes:   make(map[string]*lane),
	}
}

// Submit queues ev on its user's lane. The returned channel is closed once
// the event has been handled.
func (s *Serializer) Submit(ev domain.Event, reply ReplyFunc) (<-chan struct{}, error) {
	j := job{ev: ev, reply: reply, done: make(chan struct{})}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	l, running := s.lanes[ev.UserID]
	if !running {
		l = &lane{}
		s.lanes[ev.UserID] = l
	}
	l.queue = append(l.queue, j)
	if !running {
		s.wg.Add(1)
		go s.drain(ev.UserID, l)
	}
	return j.done, nil
}

// Pending returns the number of users with queued or running events.
func (s *Serializer) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lanes)
}

func (s *Serializer) drain(userID string, l *lane) {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		if len(l.queue) == 0 {
			delete(s.lanes, userID)
			s.mu.Unlock()
			return
		}
		j := l.queue[0]
		l.queue = l.queue[1:]
		s.mu.Unlock()

		s.run(j)
	}
}

func (s *Serializer) run(j job) {
	defer close(j.done)
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Event handler panicked",
				"user_id", j.ev.UserID,
				"event_id", j.ev.ID,
				"panic", r,
				"stack", string(debug.Stack()))
			j.reply(domain.Reply{Text: "Something went wrong. Use /cancel and /start_patch to try again."})
		}
	}()
	s.handler.Handle(s.ctx, j.ev, j.reply)
}

// Close stops accepting events and waits for queued ones to finish.
func (s *Serializer) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.wg.Wait()
}
