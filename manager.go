// Package hangr keeps the single authenticated chat session of a desktop
// client alive and caches its conversations in memory.
//
// A Manager owns the RemoteSession. It reconnects with exponential backoff,
// keeps a ConversationCache of recent conversations, suppresses the echo of
// messages it sent itself, and catches up on missed events after the machine
// resumes from sleep. Consumers subscribe to typed Update values; a Router
// fans them out to the main surface and per-conversation surfaces.
//
// Usage:
//
//	mgr, err := hangr.NewManager(hangr.ManagerConfig{
//		Remote:      hangr.NewWSRemote(baseURL, nil),
//		Credentials: hangr.StaticToken(token),
//	})
//	if err != nil { ... }
//	defer mgr.Close()
//	mgr.Subscribe(func(u hangr.Update) { ... })
//	mgr.Open()
package hangr

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// ============================================================================
// Configuration
// ============================================================================

// ManagerConfig configures a Manager. Only Remote is required.
type ManagerConfig struct {
	Remote       RemoteSession
	Credentials  CredentialProvider
	PowerMonitor PowerMonitor
	Clock        Clock
	// Executor runs the manager's work. When nil the manager starts and
	// owns a Loop.
	Executor Executor
	Logger   *zerolog.Logger
	Metrics  *Metrics

	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	ConnectTimeout time.Duration
	RPCTimeout     time.Duration

	// ActiveDuration is how long the remote considers this client active
	// after a throttled activity signal; it is also the throttle period.
	ActiveDuration   time.Duration
	InactiveDuration time.Duration
	FocusTimeout     time.Duration

	ConversationPageSize int
	EntityCacheSize      int
}

func (c *ManagerConfig) defaults() {
	if c.Credentials == nil {
		c.Credentials = StaticToken("")
	}
	if c.Clock == nil {
		c.Clock = RealClock()
	}
	if c.Logger == nil {
		nop := zerolog.Nop()
		c.Logger = &nop
	}
	if c.Metrics == nil {
		c.Metrics = NewMetrics(nil)
	}
	if c.InitialBackoff == 0 {
		c.InitialBackoff = 1 * time.Second
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = 5 * time.Minute
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 30 * time.Second
	}
	if c.RPCTimeout == 0 {
		c.RPCTimeout = 30 * time.Second
	}
	if c.ActiveDuration == 0 {
		c.ActiveDuration = 5 * time.Minute
	}
	if c.InactiveDuration == 0 {
		c.InactiveDuration = 10 * time.Second
	}
	if c.FocusTimeout == 0 {
		c.FocusTimeout = 60 * time.Second
	}
	if c.ConversationPageSize == 0 {
		c.ConversationPageSize = 50
	}
	if c.EntityCacheSize == 0 {
		c.EntityCacheSize = DefaultEntityCacheSize
	}
}

// ============================================================================
// State
// ============================================================================

// State is the connection state of a Manager.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateLoggedOut    State = "logged-out"
	StateClosed       State = "closed"
)

// ErrClosed is returned by calls on a closed Manager.
var ErrClosed = errors.New("hangr: manager closed")

// Status is a point-in-time view of a Manager.
type Status struct {
	State             State
	Connected         bool
	LastBackoff       time.Duration
	SelfInfo          *SelfInfo
	SuspendedAt       time.Time
	CachedConvs       int
	CacheLoaded       bool
	CachedEntities    int
	PendingSelfEchoes int
}

// ============================================================================
// Manager
// ============================================================================

// Manager owns the remote session and the conversation cache. All of its
// state is confined to its Executor; exported methods only post work there.
type Manager struct {
	cfg     ManagerConfig
	remote  RemoteSession
	clock   Clock
	exec    Executor
	loop    *Loop // set when the manager owns its executor
	log     zerolog.Logger
	metrics *Metrics

	ctx    context.Context
	cancel context.CancelFunc

	events   *dispatcher
	cache    *ConversationCache
	entities *EntityCache
	throttle *ActivityThrottle
	backoff  *backoff.ExponentialBackOff

	state       State
	gen         uint64
	lastBackoff time.Duration
	retry       Timer
	selfInfo    *SelfInfo
	pendingSent map[string]struct{}

	monitorCancel   func()
	suspendedAt     time.Time
	lastActivity    time.Time
	suspendListener func()

	closeOnce sync.Once
}

// NewManager creates a Manager. Call Open to start connecting.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Remote == nil {
		return nil, errors.New("hangr: ManagerConfig.Remote is required")
	}
	cfg.defaults()

	log := cfg.Logger.With().Str("component", "session-manager").Logger()
	entities, err := NewEntityCache(cfg.EntityCacheSize)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		cfg:         cfg,
		remote:      cfg.Remote,
		clock:       cfg.Clock,
		exec:        cfg.Executor,
		log:         log,
		metrics:     cfg.Metrics,
		events:      newDispatcher(log),
		cache:       NewConversationCache(log),
		entities:    entities,
		state:       StateDisconnected,
		pendingSent: make(map[string]struct{}),
	}
	if m.exec == nil {
		m.loop = NewLoop(log)
		m.exec = m.loop
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.throttle = NewActivityThrottle(func() {
		m.exec.Post(func() { m.setActive(true) })
	}, cfg.ActiveDuration, cfg.Clock)
	m.backoff = newBackoff(cfg)
	return m, nil
}

func newBackoff(cfg ManagerConfig) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = cfg.MaxBackoff
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Subscribe registers fn for every update. fn runs on the manager's
// executor, in emission order, and must not block or call Close.
func (m *Manager) Subscribe(fn UpdateHandler) (cancel func()) {
	return m.events.subscribe(fn)
}

// Open binds to the remote session and starts connecting.
func (m *Manager) Open() {
	m.remote.Bind(notifications{m})
	m.exec.Post(func() {
		if m.state == StateClosed {
			return
		}
		m.backoff.Reset()
		m.reconnect()
	})
}

// Relogin restarts connecting after the manager gave up for lack of
// credentials.
func (m *Manager) Relogin() {
	m.exec.Post(func() {
		if m.state != StateLoggedOut && m.state != StateDisconnected {
			return
		}
		m.stopRetry()
		m.backoff.Reset()
		m.reconnect()
	})
}

// Close cancels any pending retry and in-flight RPCs and stops the manager.
// It must not be called from an update handler.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		done := make(chan struct{})
		m.exec.Post(func() {
			defer close(done)
			m.shutdown()
		})
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			m.log.Warn().Msg("close: timed out waiting for the loop")
		}
		m.cancel()
		if m.loop != nil {
			m.loop.Stop()
		}
	})
}

// Logout logs out of the remote service and closes the manager.
func (m *Manager) Logout(ctx context.Context) error {
	err := m.remote.Logout(ctx)
	m.Close()
	return err
}

// Status returns a snapshot of the manager's state.
func (m *Manager) Status(ctx context.Context) (Status, error) {
	out := make(chan Status, 1)
	m.exec.Post(func() {
		out <- m.status()
	})
	select {
	case s := <-out:
		return s, nil
	case <-ctx.Done():
		return Status{}, ctx.Err()
	case <-m.ctx.Done():
		return Status{}, ErrClosed
	}
}

func (m *Manager) status() Status {
	s := Status{
		State:             m.state,
		Connected:         m.state == StateConnected,
		LastBackoff:       m.lastBackoff,
		SuspendedAt:       m.suspendedAt,
		CachedConvs:       m.cache.Len(),
		CacheLoaded:       m.cache.Loaded(),
		CachedEntities:    m.entities.Len(),
		PendingSelfEchoes: len(m.pendingSent),
	}
	if m.selfInfo != nil {
		info := *m.selfInfo
		s.SelfInfo = &info
	}
	return s
}

// ============================================================================
// Connection State Machine
// ============================================================================

func (m *Manager) reconnect() {
	if m.state == StateClosed {
		return
	}
	m.log.Info().Msg("reconnecting")
	m.gen++
	gen := m.gen
	m.setState(StateConnecting)
	m.cache.Clear()
	m.selfInfo = nil
	m.clearSuspend()
	m.metrics.ConnectAttempts.Inc()
	m.metrics.CachedConversations.Set(0)

	ctx, cancel := context.WithTimeout(m.ctx, m.cfg.ConnectTimeout)
	m.exec.Go(func() {
		defer cancel()
		err := m.remote.Connect(ctx, m.cfg.Credentials)
		m.exec.Post(func() {
			if gen != m.gen || m.state != StateConnecting {
				return
			}
			if err != nil {
				m.connectFailed(err)
				return
			}
			m.connected()
		})
	})
}

func (m *Manager) connectFailed(err error) {
	if errors.Is(err, ErrCredentialsUnavailable) {
		m.log.Warn().Err(err).Msg("connect failed; not logged in")
		m.setState(StateLoggedOut)
		m.disableMonitoring()
		m.emit(LoggedOut{Reason: err})
		return
	}

	delay := m.backoff.NextBackOff()
	m.lastBackoff = delay
	m.log.Warn().Err(err).Dur("retry_in", delay).Msg("connect failed")
	m.setState(StateDisconnected)
	m.stopRetry()
	m.retry = m.clock.AfterFunc(delay, func() {
		m.exec.Post(func() {
			m.retry = nil
			if m.state == StateDisconnected {
				m.reconnect()
			}
		})
	})
	m.metrics.Reconnects.Inc()
	m.metrics.BackoffSeconds.Set(delay.Seconds())
	m.emit(Reconnecting{Delay: delay})
	m.disableMonitoring()
}

func (m *Manager) connected() {
	m.log.Info().Msg("connected")
	m.setState(StateConnected)
	m.backoff.Reset()
	m.lastBackoff = 0
	m.emit(Connected{})

	gen := m.gen
	request(m, "getSelfInfo", m.remote.GetSelfInfo, func(resp *GetSelfInfoResponse) {
		if gen != m.gen {
			return
		}
		info := resp.SelfInfo
		m.selfInfo = &info
		m.emit(SelfInfoUpdate{Info: info})
	})
	request(m, "syncRecentConversations", m.remote.SyncRecentConversations, func(resp *SyncRecentConversationsResponse) {
		if gen != m.gen {
			return
		}
		m.cache.Reset(resp.ConversationStates)
		m.metrics.CachedConversations.Set(float64(m.cache.Len()))
		m.emit(RecentConversations{Conversations: m.cache.Snapshot()})
	})

	m.enableMonitoring()
}

func (m *Manager) shutdown() {
	m.log.Info().Msg("closing")
	m.stopRetry()
	m.throttle.Clear()
	m.disableMonitoring()
	m.setState(StateClosed)
	m.gen++
	m.events.removeAll()
}

func (m *Manager) stopRetry() {
	if m.retry != nil {
		m.retry.Stop()
		m.retry = nil
	}
}

func (m *Manager) setState(s State) {
	m.state = s
	if s == StateConnected {
		m.metrics.Connected.Set(1)
	} else {
		m.metrics.Connected.Set(0)
	}
}

// ============================================================================
// Helpers
// ============================================================================

func (m *Manager) emit(u Update) {
	m.metrics.Updates.WithLabelValues(string(u.Kind())).Inc()
	m.events.emit(u)
}

type softErrorer interface {
	Err() error
}

// request runs rpc off the loop and calls done on the loop when it succeeds
// without a soft error. Failures are logged and dropped.
func request[T softErrorer](m *Manager, method string, rpc func(context.Context) (T, error), done func(T)) {
	ctx, cancel := context.WithTimeout(m.ctx, m.cfg.RPCTimeout)
	m.exec.Go(func() {
		defer cancel()
		resp, err := rpc(ctx)
		if err == nil {
			err = resp.Err()
		}
		m.exec.Post(func() {
			if err != nil {
				m.logRPCError(method, err)
				return
			}
			if done != nil {
				done(resp)
			}
		})
	})
}

func (m *Manager) logRPCError(method string, err error) {
	kind := "transport"
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		kind = "remote"
	}
	m.metrics.RPCErrors.WithLabelValues(method, kind).Inc()
	m.log.Warn().Err(err).Str("method", method).Str("type", kind).Msg("rpc failed")
}
