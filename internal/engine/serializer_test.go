package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/patchbot/internal/domain"
)

type recordingHandler struct {
	mu      sync.Mutex
	order   map[string][]string
	active  map[string]int
	overlap bool
	block   chan struct{}
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{order: make(map[string][]string), active: make(map[string]int)}
}

func (h *recordingHandler) Handle(_ context.Context, ev domain.Event, reply ReplyFunc) {
	h.mu.Lock()
	h.active[ev.UserID]++
	if h.active[ev.UserID] > 1 {
		h.overlap = true
	}
	h.mu.Unlock()

	if ev.Text == "panic" {
		h.mu.Lock()
		h.active[ev.UserID]--
		h.mu.Unlock()
		panic("boom")
	}
	if h.block != nil && ev.Text == "block" {
		<-h.block
	}
	time.Sleep(time.Millisecond)

	h.mu.Lock()
	h.order[ev.UserID] = append(h.order[ev.UserID], ev.Text)
	h.active[ev.UserID]--
	h.mu.Unlock()
	reply(domain.Reply{Text: ev.Text})
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSerializerKeepsPerUserOrder(t *testing.T) {
	h := newRecordingHandler()
	s := NewSerializer(context.Background(), h, quietLogger())

	var dones []<-chan struct{}
	for i := 0; i < 20; i++ {
		for _, user := range []string{"a", "b"} {
			done, err := s.Submit(domain.Event{UserID: user, Text: fmt.Sprint(i)}, func(domain.Reply) {})
			require.NoError(t, err)
			dones = append(dones, done)
		}
	}
	for _, done := range dones {
		<-done
	}
	s.Close()

	h.mu.Lock()
	defer h.mu.Unlock()
	assert.False(t, h.overlap, "events of one user must not overlap")
	for _, user := range []string{"a", "b"} {
		require.Len(t, h.order[user], 20)
		for i, text := range h.order[user] {
			assert.Equal(t, fmt.Sprint(i), text)
		}
	}
	assert.Zero(t, s.Pending())
}

func TestSerializerUsersRunConcurrently(t *testing.T) {
	h := newRecordingHandler()
	h.block = make(chan struct{})
	s := NewSerializer(context.Background(), h, quietLogger())

	blocked, err := s.Submit(domain.Event{UserID: "a", Text: "block"}, func(domain.Reply) {})
	require.NoError(t, err)
	other, err := s.Submit(domain.Event{UserID: "b", Text: "free"}, func(domain.Reply) {})
	require.NoError(t, err)

	select {
	case <-other:
	case <-time.After(2 * time.Second):
		t.Fatal("user b was blocked by user a")
	}
	assert.Equal(t, 1, s.Pending())

	close(h.block)
	<-blocked
	s.Close()
}

func TestSerializerRecoversPanics(t *testing.T) {
	h := newRecordingHandler()
	s := NewSerializer(context.Background(), h, quietLogger())

	var mu sync.Mutex
	var replies []string
	reply := func(r domain.Reply) {
		mu.Lock()
		defer mu.Unlock()
		replies = append(replies, r.Text)
	}

	first, err := s.Submit(domain.Event{UserID: "a", Text: "panic"}, reply)
	require.NoError(t, err)
	second, err := s.Submit(domain.Event{UserID: "a", Text: "after"}, reply)
	require.NoError(t, err)
	<-first
	<-second
	s.Close()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, replies, 2)
	assert.Contains(t, replies[0], "Something went wrong")
	assert.Equal(t, "after", replies[1])
}

func TestSerializerRejectsAfterClose(t *testing.T) {
	s := NewSerializer(context.Background(), newRecordingHandler(), quietLogger())
	s.Close()

	_, err := s.Submit(domain.Event{UserID: "a"}, func(domain.Reply) {})
	assert.ErrorIs(t, err, ErrClosed)
}
