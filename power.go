package hangr

import (
	"sync"
	"time"
)

// PowerMonitor reports system sleep and wake.
type PowerMonitor interface {
	// Subscribe registers callbacks, which may run on any goroutine.
	Subscribe(onSuspend, onResume func()) (cancel func())
}

// PowerEvents is a PowerMonitor driven by explicit Suspend and Resume
// calls, for platforms where sleep is observed outside this package.
type PowerEvents struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[uint64][2]func()
}

// Subscribe implements PowerMonitor.
func (p *PowerEvents) Subscribe(onSuspend, onResume func()) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.subs == nil {
		p.subs = make(map[uint64][2]func())
	}
	p.nextID++
	id := p.nextID
	p.subs[id] = [2]func(){onSuspend, onResume}
	return func() {
		p.mu.Lock()
		delete(p.subs, id)
		p.mu.Unlock()
	}
}

// Suspend notifies subscribers that the system is going to sleep.
func (p *PowerEvents) Suspend() { p.fire(0) }

// Resume notifies subscribers that the system woke up.
func (p *PowerEvents) Resume() { p.fire(1) }

func (p *PowerEvents) fire(i int) {
	p.mu.Lock()
	fns := make([]func(), 0, len(p.subs))
	for _, s := range p.subs {
		fns = append(fns, s[i])
	}
	p.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// ============================================================================
// Suspend / Resume
// ============================================================================

func (m *Manager) enableMonitoring() {
	if m.cfg.PowerMonitor != nil {
		m.disableMonitoring()
		m.monitorCancel = m.cfg.PowerMonitor.Subscribe(
			func() { m.exec.Post(m.suspend) },
			func() { m.exec.Post(m.resume) },
		)
	}
	m.setActive(true)
}

func (m *Manager) disableMonitoring() {
	if m.monitorCancel != nil {
		m.monitorCancel()
		m.monitorCancel = nil
	}
}

func (m *Manager) suspend() {
	m.log.Info().Msg("suspend")
	m.suspendedAt = m.clock.Now()
	m.throttle.Clear()
	m.setActive(false)
	if m.suspendListener == nil {
		m.suspendListener = m.events.subscribe(func(u Update) {
			if u.Kind() == KindReceived {
				m.lastActivity = m.clock.Now()
			}
		})
	}
}

func (m *Manager) resume() {
	m.log.Info().Msg("resume")
	suspendedAt, lastActivity := m.suspendedAt, m.lastActivity
	m.clearSuspend()
	m.throttle.Call()
	if suspendedAt.IsZero() {
		return
	}
	cursor := suspendedAt
	if lastActivity.After(cursor) {
		cursor = lastActivity
	}
	m.log.Info().Time("since", cursor).Msg("catching up")
	m.syncSince(TimestampOf(cursor), true)
}

// clearSuspend forgets a suspend cycle. A reconnect's full sync covers
// anything a catch-up would have fetched.
func (m *Manager) clearSuspend() {
	if m.suspendListener != nil {
		m.suspendListener()
		m.suspendListener = nil
	}
	m.suspendedAt = time.Time{}
	m.lastActivity = time.Time{}
}
