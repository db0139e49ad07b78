package core

// Observer is notified once for every message the world displays. Observers
// only watch: they cannot alter or suppress the default display path, and
// they are invoked synchronously from the goroutine driving the world, so a
// slow observer slows the run down (which is how backpressure propagates).
type Observer interface {
	Observe(msg Message)
}

// ObserverFunc adapts an ordinary function to the Observer interface.
type ObserverFunc func(msg Message)

// Observe implements Observer.
func (f ObserverFunc) Observe(msg Message) { f(msg) }
