package turnout

import "fmt"

// Observer receives property changes.
//
// TurnoutChanged is called synchronously, in subscription order, on the
// goroutine that made the change and while the turnout's lock is held.
// Implementations must return quickly and must not call any method of the
// turnout; everything they need is in the Change.
type Observer interface {
	TurnoutChanged(c Change)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(c Change)

// TurnoutChanged implements Observer.
func (f ObserverFunc) TurnoutChanged(c Change) { f(c) }

type subscription struct {
	id       uint64
	observer Observer
}

// Subscribe registers o and returns a function that removes it.
func (t *Turnout) Subscribe(o Observer) (unsubscribe func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextSubID++
	id := t.nextSubID
	t.observers = append(t.observers, subscription{id: id, observer: o})
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		for i, s := range t.observers {
			if s.id == id {
				t.observers = append(t.observers[:i], t.observers[i+1:]...)
				return
			}
		}
	}
}

// CommandedState returns what the operator last asked for.
func (t *Turnout) CommandedState() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.commanded
}

// KnownState returns the last confirmed or presumed position.
func (t *Turnout) KnownState() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.known
}

// FeedbackMode returns the active feedback mode.
func (t *Turnout) FeedbackMode() FeedbackMode {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.mode
}

// Inverted reports whether closed and thrown are swapped on the wire.
func (t *Turnout) Inverted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inverted
}

// Address returns the bus address. It never changes.
func (t *Turnout) Address() int { return t.address }

// Name returns the display name.
func (t *Turnout) Name() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.name
}

// Snapshot returns the full status. Do not call it from an Observer.
func (t *Turnout) Snapshot() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.statusLocked()
}

// SetKnownState records a position reported by something other than the
// command station, e.g. an external sensor or an operator correcting the
// display. It is published like any other known state change, including the
// promotion into the commanded state.
func (t *Turnout) SetKnownState(s State) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.disposed {
		return ErrDisposed
	}
	if s < Unknown || s > Inconsistent {
		return fmt.Errorf("%w: %d", ErrInvalidState, s)
	}
	t.setKnownLocked(s)
	return nil
}

func (t *Turnout) statusLocked() Status {
	return Status{
		Address:   t.address,
		Name:      t.name,
		Commanded: t.commanded,
		Known:     t.known,
		Mode:      t.mode,
		Internal:  t.internal,
		Inverted:  t.inverted,
		Disposed:  t.disposed,
	}
}

// setCommandedLocked records a commanded state and publishes the change.
// Caller holds t.mu.
func (t *Turnout) setCommandedLocked(s State) {
	old := t.commanded
	if old == s {
		return
	}
	t.commanded = s
	t.publishLocked(PropertyCommandedState, old.String(), s.String())
}

// setKnownLocked records a known state and publishes the change.
//
// Outside DIRECT mode a known change that moves away from the commanded
// state means the turnout was moved on the layout, so the new position is
// accepted as the commanded one too. Caller holds t.mu.
func (t *Turnout) setKnownLocked(s State) {
	old := t.known
	if old == s {
		return
	}
	t.known = s
	t.publishLocked(PropertyKnownState, old.String(), s.String())

	if t.mode != Direct && s != Inconsistent && old != Inconsistent && t.commanded == old {
		t.setCommandedLocked(s)
	}
}

// publishLocked delivers a change to every observer. Caller holds t.mu.
func (t *Turnout) publishLocked(p Property, oldVal, newVal string) {
	if len(t.observers) == 0 {
		return
	}
	c := Change{
		Address:  t.address,
		Property: p,
		Old:      oldVal,
		New:      newVal,
		Status:   t.statusLocked(),
		At:       t.clock.Now(),
	}
	for _, s := range t.observers {
		t.notify(s.observer, c)
	}
}

func (t *Turnout) notify(o Observer, c Change) {
	defer func() {
		if r := recover(); r != nil {
			t.logError("observer panic", fmt.Errorf("%v", r), "property", string(c.Property))
		}
	}()
	o.TurnoutChanged(c)
}
