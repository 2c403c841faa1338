package hangr

import (
	"sync"

	"github.com/rs/zerolog"
)

// Executor schedules the manager's work. Post runs fn on the single owner
// goroutine, in submission order. Go runs blocking work (RPCs) elsewhere;
// that work reports back by calling Post.
type Executor interface {
	Post(fn func())
	Go(fn func())
}

// Loop is the default Executor: one goroutine draining an unbounded queue.
type Loop struct {
	log zerolog.Logger

	mu      sync.Mutex
	queue   []func()
	stopped bool

	wake     chan struct{}
	done     chan struct{}
	exited   chan struct{}
	stopOnce sync.Once
}

// NewLoop starts a Loop.
func NewLoop(log zerolog.Logger) *Loop {
	l := &Loop{
		log:    log.With().Str("component", "loop").Logger(),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	go l.run()
	return l
}

// Post implements Executor. Work posted after Stop is dropped.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Go implements Executor.
func (l *Loop) Go(fn func()) {
	go fn()
}

// Stop drains nothing further and waits for the loop goroutine to exit.
// It must not be called from work running on the loop.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		l.mu.Lock()
		l.stopped = true
		l.queue = nil
		l.mu.Unlock()
		close(l.done)
		<-l.exited
	})
}

func (l *Loop) run() {
	defer close(l.exited)
	for {
		select {
		case <-l.done:
			return
		case <-l.wake:
		}
		for {
			fn, ok := l.next()
			if !ok {
				break
			}
			l.runOne(fn)
		}
	}
}

func (l *Loop) next() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped || len(l.queue) == 0 {
		return nil, false
	}
	fn := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return fn, true
}

func (l *Loop) runOne(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error().Interface("panic", r).Msg("recovered panic in loop task")
		}
	}()
	fn()
}
