package robot

import "sync/atomic"

// Mailbox is a latest-value-wins slot shared between a writer goroutine and the frame
// loop. Every write bumps the version and marks the slot dirty until the reader takes it.
type Mailbox[T any] struct {
	value   atomic.Pointer[T]
	version atomic.Uint64
	dirty   atomic.Bool
}

// NewMailbox creates a mailbox holding initial.
func NewMailbox[T any](initial T) *Mailbox[T] {
	m := &Mailbox[T]{}
	m.value.Store(&initial)
	m.version.Store(1)
	return m
}

// Get returns the current value.
func (m *Mailbox[T]) Get() T {
	return *m.value.Load()
}

// Set replaces the value.
func (m *Mailbox[T]) Set(v T) {
	m.value.Store(&v)
	m.version.Add(1)
	m.dirty.Store(true)
}

// Update applies fn to the current value atomically with respect to other writers.
func (m *Mailbox[T]) Update(fn func(T) T) T {
	for {
		old := m.value.Load()
		next := fn(*old)
		if m.value.CompareAndSwap(old, &next) {
			m.version.Add(1)
			m.dirty.Store(true)
			return next
		}
	}
}

// Take returns the current value and whether it changed since the previous Take.
func (m *Mailbox[T]) Take() (T, bool) {
	changed := m.dirty.Swap(false)
	return m.Get(), changed
}

// Version returns the write counter.
func (m *Mailbox[T]) Version() uint64 {
	return m.version.Load()
}

// IsDirty reports whether a write happened since the last Take.
func (m *Mailbox[T]) IsDirty() bool {
	return m.dirty.Load()
}

// CommandBox is the mailbox the external program writes commands into.
type CommandBox struct {
	*Mailbox[Command]
}

// NewCommandBox returns a command mailbox with servos at servoMid.
func NewCommandBox(servoMid float64) *CommandBox {
	var c Command
	for i := range c.ServoPositions {
		c.ServoPositions[i] = servoMid
	}
	return &CommandBox{Mailbox: NewMailbox(c)}
}

// Submit stores c as the latest command. Pending clear requests are kept until the
// frame loop consumes them.
func (b *CommandBox) Submit(c Command) {
	b.Update(func(old Command) Command {
		for i := range c.ClearPositions {
			c.ClearPositions[i] = c.ClearPositions[i] || old.ClearPositions[i]
		}
		return c
	})
}

// ClearPosition requests a one-shot reset of a motor position counter.
func (b *CommandBox) ClearPosition(port int) {
	if port < 0 || port >= NumMotors {
		return
	}
	b.Update(func(c Command) Command {
		c.ClearPositions[port] = true
		return c
	})
}

// Consume returns the latest command and resets its one-shot clear requests.
func (b *CommandBox) Consume() Command {
	c, _ := b.Take()
	if c.ClearPositions == ([NumMotors]bool{}) {
		return c
	}
	var taken Command
	b.Update(func(cur Command) Command {
		taken = cur
		cur.ClearPositions = [NumMotors]bool{}
		return cur
	})
	return taken
}
