package session

import (
	"sync"
	"testing"
	"time"

	"github.com/ashureev/patchbot/internal/domain"
)

func TestStore_PutGetDelete(t *testing.T) {
	s := NewStore()
	now := time.Now()
	s.Put(domain.NewSession("42", now))

	sess, ok := s.Get("42")
	if !ok {
		t.Fatal("expected session")
	}
	if sess.State() != domain.StateAwaitVersion {
		t.Errorf("expected AWAIT_VERSION, got %s", sess.State())
	}

	if !s.Delete("42") {
		t.Error("expected delete to report an existing session")
	}
	if s.Delete("42") {
		t.Error("expected second delete to be a no-op")
	}
	if _, ok := s.Get("42"); ok {
		t.Error("session still present after delete")
	}
}

func TestStore_LockSerializesPerUser(t *testing.T) {
	s := NewStore()
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := s.Lock("42")
			defer unlock()
			v := counter
			time.Sleep(time.Microsecond)
			counter = v + 1
		}()
	}
	wg.Wait()

	if counter != 50 {
		t.Errorf("expected 50 serialized increments, got %d", counter)
	}
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	if len(s.locks) != 0 {
		t.Errorf("expected lock table to be empty, got %d entries", len(s.locks))
	}
}

func TestStore_LocksAreIndependent(t *testing.T) {
	s := NewStore()
	unlockA := s.Lock("a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlock := s.Lock("b")
		unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock for user b blocked behind user a")
	}
}

func TestStore_Idle(t *testing.T) {
	s := NewStore()
	now := time.Now()
	s.Put(domain.NewSession("old", now.Add(-2*time.Hour)))
	s.Put(domain.NewSession("new", now))

	idle := s.Idle(now, time.Hour)
	if len(idle) != 1 || idle[0] != "old" {
		t.Errorf("expected [old], got %v", idle)
	}

	counts := s.CountByState()
	if counts[domain.StateAwaitVersion] != 2 {
		t.Errorf("expected 2 sessions awaiting version, got %v", counts)
	}
}

func TestStore_AdvanceRefreshesIdle(t *testing.T) {
	s := NewStore()
	start := time.Now().Add(-2 * time.Hour)
	sess := domain.NewSession("u", start)
	s.Put(sess)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			_ = s.CountByState()
		}
	}()
	s.Advance(sess, domain.AwaitFeatures{Features: domain.FeatureSet{}}, time.Now())
	wg.Wait()

	if idle := s.Idle(time.Now(), time.Hour); len(idle) != 0 {
		t.Errorf("advanced session reported idle: %v", idle)
	}
	if got := s.CountByState()[domain.StateAwaitFeatures]; got != 1 {
		t.Errorf("expected 1 session awaiting features, got %d", got)
	}
}
