package sshclient

import "testing"

type testShutdownable struct {
	ShutdownHelper
	handled bool
}

func newTestShutdownable() *testShutdownable {
	s := &testShutdownable{}
	s.InitShutdownHelper(newDiscardLogger(), s)
	return s
}

func (s *testShutdownable) HandleOnceShutdown(completionErr error) error {
	s.handled = true
	return completionErr
}

func TestShutdownHelperIdempotent(t *testing.T) {
	s := newTestShutdownable()
	if err := s.Activate(); err != nil {
		t.Fatalf("Activate failed: %s", err)
	}

	if err := s.Shutdown(nil); err != nil {
		t.Fatalf("first Shutdown returned error: %s", err)
	}
	if !s.IsDoneShutdown() {
		t.Errorf("expected IsDoneShutdown() == true after Shutdown")
	}
	if !s.handled {
		t.Errorf("HandleOnceShutdown was not invoked")
	}

	// calling Shutdown again must be a no-op returning the same result.
	if err := s.Shutdown(nil); err != nil {
		t.Errorf("second Shutdown call returned error: %s", err)
	}
}

func TestShutdownHelperPropagatesCompletionError(t *testing.T) {
	s := newTestShutdownable()
	s.Activate()

	sentinel := newConfigurationError("boom")
	err := s.Shutdown(sentinel)
	if err != sentinel {
		t.Errorf("Shutdown() = %v, want %v", err, sentinel)
	}
}

func TestShutdownHelperChildJoinedBeforeParentDone(t *testing.T) {
	parent := newTestShutdownable()
	child := newTestShutdownable()
	parent.Activate()
	child.Activate()

	parent.AddShutdownChild(child)
	if err := parent.Shutdown(nil); err != nil {
		t.Fatalf("parent Shutdown returned error: %s", err)
	}

	if !child.IsDoneShutdown() {
		t.Errorf("child should be shut down once the parent finishes")
	}
}

func TestPauseResumeShutdownDefersStart(t *testing.T) {
	s := newTestShutdownable()
	s.Activate()

	if err := s.PauseShutdown(); err != nil {
		t.Fatalf("PauseShutdown failed: %s", err)
	}
	s.StartShutdown(nil)
	if s.IsDoneShutdown() {
		t.Fatalf("shutdown should not complete while paused")
	}
	s.ResumeShutdown()

	if err := s.WaitShutdown(); err != nil {
		t.Errorf("WaitShutdown returned error: %s", err)
	}
}
