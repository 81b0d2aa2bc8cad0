package media

const eventBufferSize = 16

// Subscription provides the tracker's two output channels: a continuous
// position stream and discrete change notifications.
type Subscription struct {
	Positions <-chan float64
	Changes   <-chan ChangeEvent
	Done      <-chan struct{}

	positionCh chan float64
	changeCh   chan ChangeEvent
	doneCh     chan struct{}
}

func newSubscription() *Subscription {
	s := &Subscription{
		positionCh: make(chan float64, eventBufferSize),
		changeCh:   make(chan ChangeEvent, eventBufferSize),
		doneCh:     make(chan struct{}),
	}
	s.Positions = s.positionCh
	s.Changes = s.changeCh
	s.Done = s.doneCh
	return s
}

// close signals subscribers to stop by closing doneCh.
func (s *Subscription) close() {
	close(s.doneCh)
}

// sendPosition sends a position update (non-blocking).
func (s *Subscription) sendPosition(pos float64) {
	select {
	case s.positionCh <- pos:
	default:
		// Drop if buffer full
	}
}

// sendChange sends a change notification (non-blocking).
func (s *Subscription) sendChange(e ChangeEvent) {
	select {
	case s.changeCh <- e:
	default:
	}
}
