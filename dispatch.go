package hangr

import (
	"sync"

	"github.com/rs/zerolog"
)

// UpdateHandler receives updates. It runs on the manager's loop and must
// not block.
type UpdateHandler func(Update)

type subscriber struct {
	id uint64
	fn UpdateHandler
}

// dispatcher delivers updates to subscribers synchronously and in
// subscription order.
type dispatcher struct {
	log zerolog.Logger

	mu     sync.RWMutex
	nextID uint64
	subs   []subscriber
}

func newDispatcher(log zerolog.Logger) *dispatcher {
	return &dispatcher{log: log}
}

func (d *dispatcher) subscribe(fn UpdateHandler) (cancel func()) {
	d.mu.Lock()
	d.nextID++
	id := d.nextID
	d.subs = append(d.subs, subscriber{id: id, fn: fn})
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { d.remove(id) })
	}
}

func (d *dispatcher) remove(id uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, s := range d.subs {
		if s.id == id {
			d.subs = append(d.subs[:i:i], d.subs[i+1:]...)
			return
		}
	}
}

func (d *dispatcher) emit(u Update) {
	d.mu.RLock()
	subs := append([]subscriber(nil), d.subs...)
	d.mu.RUnlock()
	for _, s := range subs {
		d.deliver(s, u)
	}
}

func (d *dispatcher) deliver(s subscriber, u Update) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error().Interface("panic", r).Str("kind", string(u.Kind())).Msg("update handler panicked")
		}
	}()
	s.fn(u)
}

func (d *dispatcher) removeAll() {
	d.mu.Lock()
	d.subs = nil
	d.mu.Unlock()
}
