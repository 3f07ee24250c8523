package sshclient

import "sync"

// OnceShutdownHandler is implemented by the object that a ShutdownHelper
// manages. HandleOnceShutdown is called exactly once, in its own goroutine.
type OnceShutdownHandler interface {
	HandleOnceShutdown(completionErr error) error
}

// AsyncShutdowner is implemented by anything that can be asynchronously
// cancelled and joined. PortForwarder, SocksProxy, X11Forwarder, Session and
// Client all implement it via ShutdownHelper.
type AsyncShutdowner interface {
	StartShutdown(completionErr error)
	ShutdownDoneChan() <-chan struct{}
	IsDoneShutdown() bool
	WaitShutdown() error
}

// ShutdownHelper gives an object activate-once / shutdown-once semantics and
// a registry of child workers that must finish before shutdown is considered
// complete. wait_closed() in spec.md terms is WaitShutdown().
type ShutdownHelper struct {
	Logger

	lock sync.Mutex

	shutdownHandler OnceShutdownHandler

	pauseCount           int
	isActivated          bool
	isScheduledShutdown  bool
	isStartedShutdown    bool
	isDoneShutdown       bool
	shutdownErr          error

	startedChan chan struct{}
	handlerDone chan struct{}
	doneChan    chan struct{}

	wg sync.WaitGroup
}

// InitShutdownHelper initializes a ShutdownHelper in place. Must be called
// before any other method.
func (h *ShutdownHelper) InitShutdownHelper(logger Logger, handler OnceShutdownHandler) {
	h.Logger = logger
	h.shutdownHandler = handler
	h.startedChan = make(chan struct{})
	h.handlerDone = make(chan struct{})
	h.doneChan = make(chan struct{})
}

// PauseShutdown prevents shutdown from starting until a matching
// ResumeShutdown is called. Used to protect a window during which children
// are still being attached.
func (h *ShutdownHelper) PauseShutdown() error {
	h.lock.Lock()
	defer h.lock.Unlock()
	if h.isStartedShutdown {
		return h.Errorf("shutdown already started; cannot pause")
	}
	h.pauseCount++
	return nil
}

// ResumeShutdown reverses a PauseShutdown; if the pause count reaches zero
// and shutdown was already requested, shutdown begins now.
func (h *ShutdownHelper) ResumeShutdown() {
	h.lock.Lock()
	if h.pauseCount < 1 {
		h.lock.Unlock()
		panic("ResumeShutdown called without a matching PauseShutdown")
	}
	h.pauseCount--
	start := h.pauseCount == 0 && h.isScheduledShutdown && !h.isStartedShutdown
	if start {
		h.isStartedShutdown = true
	}
	h.lock.Unlock()
	if start {
		h.runShutdown()
	}
}

// Activate marks the object activated; it is a no-op if already activated
// and fails if shutdown has already begun.
func (h *ShutdownHelper) Activate() error {
	h.lock.Lock()
	defer h.lock.Unlock()
	if h.isActivated {
		return nil
	}
	if h.isStartedShutdown {
		return h.Errorf("cannot activate; shutdown already started")
	}
	h.isActivated = true
	return nil
}

// IsStartedShutdown reports whether shutdown has begun (spec.md's
// shell_active flipping to false is driven by this, among other signals).
func (h *ShutdownHelper) IsStartedShutdown() bool {
	h.lock.Lock()
	defer h.lock.Unlock()
	return h.isStartedShutdown
}

// IsDoneShutdown reports whether shutdown has completed.
func (h *ShutdownHelper) IsDoneShutdown() bool {
	h.lock.Lock()
	defer h.lock.Unlock()
	return h.isDoneShutdown
}

// ShutdownDoneChan is closed once shutdown has completed.
func (h *ShutdownHelper) ShutdownDoneChan() <-chan struct{} {
	return h.doneChan
}

// ShutdownStartedChan is closed as soon as shutdown begins, unblocking
// workers whose read/accept loops must observe cancellation promptly.
func (h *ShutdownHelper) ShutdownStartedChan() <-chan struct{} {
	return h.startedChan
}

// StartShutdown schedules shutdown; idempotent. completionErr is an
// advisory status passed to HandleOnceShutdown.
func (h *ShutdownHelper) StartShutdown(completionErr error) {
	var startNow bool
	h.lock.Lock()
	if !h.isScheduledShutdown {
		h.shutdownErr = completionErr
		h.isScheduledShutdown = true
		startNow = h.pauseCount == 0
		h.isStartedShutdown = startNow
	}
	h.lock.Unlock()
	if startNow {
		h.runShutdown()
	}
}

func (h *ShutdownHelper) runShutdown() {
	close(h.startedChan)
	go func() {
		h.shutdownErr = h.shutdownHandler.HandleOnceShutdown(h.shutdownErr)
		close(h.handlerDone)
		h.wg.Wait()
		h.lock.Lock()
		h.isDoneShutdown = true
		h.lock.Unlock()
		close(h.doneChan)
	}()
}

// WaitShutdown blocks until shutdown is complete and returns the final
// completion status. It does not itself request shutdown.
func (h *ShutdownHelper) WaitShutdown() error {
	<-h.doneChan
	return h.shutdownErr
}

// Shutdown requests shutdown (if not already requested) and waits for it to
// complete, returning the final completion status. This is spec.md's
// close()+wait_closed() combined for callers that don't need to overlap them.
func (h *ShutdownHelper) Shutdown(completionErr error) error {
	h.StartShutdown(completionErr)
	return h.WaitShutdown()
}

// Close implements a default io.Closer in terms of Shutdown.
func (h *ShutdownHelper) Close() error {
	return h.Shutdown(nil)
}

// AddShutdownChild registers a child whose shutdown is driven once this
// object's own HandleOnceShutdown has returned. The parent's shutdown is not
// considered complete until every child has finished shutting down.
func (h *ShutdownHelper) AddShutdownChild(child AsyncShutdowner) {
	h.wg.Add(1)
	go func() {
		select {
		case <-child.ShutdownDoneChan():
		case <-h.handlerDone:
			child.StartShutdown(h.shutdownErr)
			child.WaitShutdown()
		}
		h.wg.Done()
	}()
}
