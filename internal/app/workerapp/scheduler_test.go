package workerapp

import (
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestSchedulerRunsJob(t *testing.T) {
	s := NewScheduler(zap.NewNop())
	var runs atomic.Int32
	done := make(chan struct{}, 1)

	if err := s.Add("tick", "@every 1s", func() {
		if runs.Add(1) == 1 {
			done <- struct{}{}
		}
	}); err != nil {
		t.Fatalf("add job: %v", err)
	}
	s.Start()
	defer s.Stop()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatalf("job did not run")
	}
}

func TestSchedulerRejectsBadSchedule(t *testing.T) {
	s := NewScheduler(zap.NewNop())
	if err := s.Add("broken", "every five minutes", func() {}); err == nil {
		t.Fatalf("expected error for invalid schedule")
	}
}

func TestSchedulerRecoversPanics(t *testing.T) {
	s := NewScheduler(zap.NewNop())
	var runs atomic.Int32

	if err := s.Add("panicky", "@every 1s", func() {
		runs.Add(1)
		panic("boom")
	}); err != nil {
		t.Fatalf("add job: %v", err)
	}
	s.Start()

	deadline := time.Now().Add(4 * time.Second)
	for runs.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	<-s.Stop().Done()
	if runs.Load() < 2 {
		t.Fatalf("expected the job to keep running after a panic, ran %d times", runs.Load())
	}
}
