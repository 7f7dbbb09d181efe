package probe

// Listener receives requests once their fate is decided. Each request is
// delivered exactly once, to OnServiced or OnTimedOut, outside the engine lock.
type Listener interface {
	OnServiced(Exchange)
	OnTimedOut(Exchange)
}

// Listeners fans out to every non-nil listener in order.
type Listeners []Listener

func (ls Listeners) OnServiced(ex Exchange) {
	for _, l := range ls {
		if l != nil {
			l.OnServiced(ex)
		}
	}
}

func (ls Listeners) OnTimedOut(ex Exchange) {
	for _, l := range ls {
		if l != nil {
			l.OnTimedOut(ex)
		}
	}
}

type nopListener struct{}

func (nopListener) OnServiced(Exchange) {}
func (nopListener) OnTimedOut(Exchange) {}
