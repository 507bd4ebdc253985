package lsprpc

import "sync"

// Subscription is the handle returned by every handler registration. It
// remembers how to remove its table entry: Close removes the handler, and
// is a no-op the second time; Detach gives up that ability, leaving the
// handler registered for the life of the connection.
//
// Go has no destructors, so Close is the deterministic-drop equivalent and
// pairs naturally with defer:
//
//	sub := srv.OnNotification("window/showMessage", h)
//	defer sub.Close()
type Subscription struct {
	mu     sync.Mutex
	remove func()
}

func newSubscription(remove func()) *Subscription {
	return &Subscription{remove: remove}
}

// Close removes the registration this subscription owns. Calling Close on
// a detached or already-closed subscription does nothing.
func (s *Subscription) Close() {
	s.mu.Lock()
	remove := s.remove
	s.remove = nil
	s.mu.Unlock()

	if remove != nil {
		remove()
	}
}

// Detach makes the registration permanent: the handler stays in place for
// the life of the connection and Close becomes a no-op.
func (s *Subscription) Detach() {
	s.mu.Lock()
	s.remove = nil
	s.mu.Unlock()
}
